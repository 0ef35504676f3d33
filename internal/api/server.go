package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/voxflow/voxflow/internal/callback"
	"github.com/voxflow/voxflow/internal/domain"
	"github.com/voxflow/voxflow/internal/id"
	"github.com/voxflow/voxflow/internal/queue"
	"github.com/voxflow/voxflow/internal/relay"
	"github.com/voxflow/voxflow/internal/storage"
	"github.com/voxflow/voxflow/internal/store"
	"github.com/voxflow/voxflow/internal/stream"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

type Server struct {
	logger                *log.Logger
	jobStore              store.JobStore
	submitter             jobSubmitter
	streamer              streamOpener
	ingestor              resultIngestor
	notifyQueue           notifyEnqueuer
	storage               audioArchiver
	rateLimiter           RateLimiter
	rateLimitUserIDHeader string
	metrics               *metrics
	tracer                trace.Tracer
	mux                   *http.ServeMux
}

type jobSubmitter interface {
	Submit(ctx context.Context, jobID string, req domain.SubmitRequest) (relay.Outcome, error)
}

type streamOpener interface {
	Open(ctx context.Context, jobID string) <-chan stream.Event
}

type resultIngestor interface {
	Ingest(ctx context.Context, payload domain.ResultPayload) (domain.Job, error)
}

type notifyEnqueuer interface {
	EnqueueNotifyWebhook(ctx context.Context, payload queue.NotifyWebhookPayload) (*asynq.TaskInfo, error)
}

type audioArchiver interface {
	ArchiveAudio(ctx context.Context, jobID string, data []byte, contentType string) (string, error)
	PresignedGetURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
}

// Options carries the optional collaborators. All of them are nil-safe: the
// server runs without notifications, archival or rate limiting.
type Options struct {
	NotifyQueue           notifyEnqueuer
	Storage               audioArchiver
	RateLimiter           RateLimiter
	RateLimitUserIDHeader string
}

func NewServer(logger *log.Logger, jobStore store.JobStore, submitter jobSubmitter, streamer streamOpener, ingestor resultIngestor, opts Options) *Server {
	userIDHeader := strings.TrimSpace(opts.RateLimitUserIDHeader)
	if userIDHeader == "" {
		userIDHeader = "X-User-ID"
	}

	s := &Server{
		logger:                logger,
		jobStore:              jobStore,
		submitter:             submitter,
		streamer:              streamer,
		ingestor:              ingestor,
		notifyQueue:           opts.NotifyQueue,
		storage:               opts.Storage,
		rateLimiter:           opts.RateLimiter,
		rateLimitUserIDHeader: userIDHeader,
		metrics:               newMetrics(),
		tracer:                otel.Tracer("voxflow/api"),
		mux:                   http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.metrics.withHTTPMetrics(s.withTracing(s.withRateLimit(s.mux)))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.Handle("GET /metrics", s.metrics.metricsHandler())
	s.mux.HandleFunc("POST /v1/jobs", s.handleCreateJob)
	s.mux.HandleFunc("POST /v1/jobs/", s.handleSubmitJob)
	s.mux.HandleFunc("GET /v1/jobs/", s.handleJobRead)
	s.mux.HandleFunc("POST /v1/submissions", s.handleInlineSubmission)
	s.mux.HandleFunc("POST /v1/callbacks/transcription", s.handleCallback)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateJobRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	now := time.Now().UTC()
	job := domain.Job{
		ID:            id.New(),
		Status:        domain.JobStatusPending,
		FileName:      strings.TrimSpace(req.FileName),
		FileSize:      req.FileSize,
		ContentType:   req.ContentType,
		DoctorName:    req.DoctorName,
		PatientName:   req.PatientName,
		DocumentType:  req.DocumentType,
		CorrelationID: req.CorrelationID,
		WebhookURL:    req.WebhookURL,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.jobStore.Create(r.Context(), job); err != nil {
		s.logger.Printf("create job failed job_id=%s err=%v", job.ID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to create job"})
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"jobId":     job.ID,
		"status":    job.Status,
		"submitUrl": fmt.Sprintf("/v1/jobs/%s/submit", job.ID),
		"eventsUrl": fmt.Sprintf("/v1/jobs/%s/events", job.ID),
	})
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := extractJobIDFromSubmitPath(r.URL.Path)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	job, ok, err := s.jobStore.Get(r.Context(), jobID)
	if err != nil {
		s.logger.Printf("fetch job failed job_id=%s err=%v", jobID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load job"})
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
		return
	}
	if domain.Terminal(job.Status) {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":  "job already finalized",
			"jobId":  job.ID,
			"status": job.Status,
		})
		return
	}

	var req domain.SubmitRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	s.relayAndRespond(w, r, job, fillFromJob(req, job))
}

// handleInlineSubmission accepts a one-shot payload that both creates the job
// row and relays the audio, for clients that skip the two-step flow.
func (s *Server) handleInlineSubmission(w http.ResponseWriter, r *http.Request) {
	var req domain.SubmitRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	now := time.Now().UTC()
	job := domain.Job{
		ID:            id.New(),
		Status:        domain.JobStatusPending,
		FileName:      strings.TrimSpace(req.FileName),
		FileSize:      req.FileSize,
		ContentType:   req.ContentType,
		DoctorName:    req.DoctorName,
		PatientName:   req.PatientName,
		DocumentType:  req.DocumentType,
		CorrelationID: req.CorrelationID,
		WebhookURL:    req.WebhookURL,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.jobStore.Create(r.Context(), job); err != nil {
		s.logger.Printf("create job failed job_id=%s err=%v", job.ID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to create job"})
		return
	}

	s.relayAndRespond(w, r, job, req)
}

func (s *Server) relayAndRespond(w http.ResponseWriter, r *http.Request, job domain.Job, req domain.SubmitRequest) {
	requestID := id.New()

	s.archiveAudio(r.Context(), job.ID, req)

	outcome, err := s.submitter.Submit(r.Context(), job.ID, req)
	if err != nil {
		if errors.Is(err, relay.ErrValidation) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		s.logger.Printf("relay failed job_id=%s err=%v", job.ID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to relay submission"})
		return
	}

	s.metrics.relayOutcomesTotal.WithLabelValues(string(outcome.Kind)).Inc()
	if outcome.Coalesced {
		s.metrics.submissionsCoalescedTotal.Inc()
	}

	// The leader marks the job processing once the worker has it; coalesced
	// callers shared a call whose leader already did so.
	if outcome.Accepted() && !outcome.Coalesced {
		if _, err := s.jobStore.UpdateStatus(r.Context(), job.ID, domain.JobStatusProcessing); err != nil {
			s.logger.Printf("update status failed job_id=%s err=%v", job.ID, err)
		}
	}

	switch outcome.Kind {
	case relay.KindAcceptedAsync:
		writeJSON(w, http.StatusAccepted, map[string]any{
			"accepted":  true,
			"jobId":     job.ID,
			"requestId": requestID,
			"note":      "worker accepted the submission; result arrives via callback",
		})
	case relay.KindSuccess:
		body := map[string]any{
			"success":   true,
			"jobId":     job.ID,
			"requestId": requestID,
		}
		if outcome.Data != nil {
			body["data"] = outcome.Data
		} else {
			body["rawText"] = outcome.RawText
		}
		writeJSON(w, http.StatusOK, body)
	case relay.KindTimeout:
		writeJSON(w, http.StatusRequestTimeout, map[string]any{
			"error":     "Request timeout",
			"jobId":     job.ID,
			"requestId": requestID,
		})
	default:
		status := outcome.UpstreamStatus
		if status < http.StatusBadRequest {
			status = http.StatusBadGateway
		}
		writeJSON(w, status, map[string]any{
			"error":   "upstream worker rejected the submission",
			"status":  outcome.UpstreamStatus,
			"details": outcome.Details,
			"jobId":   job.ID,
		})
	}
}

func (s *Server) archiveAudio(ctx context.Context, jobID string, req domain.SubmitRequest) {
	if s.storage == nil {
		return
	}
	data, err := req.DecodeAudio()
	if err != nil {
		return
	}
	if _, err := s.storage.ArchiveAudio(ctx, jobID, data, req.ContentType); err != nil {
		s.logger.Printf("audio archive failed job_id=%s err=%v", jobID, err)
	}
}

func (s *Server) handleJobRead(w http.ResponseWriter, r *http.Request) {
	jobID, events, err := parseJobReadPath(r.URL.Path)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	if events {
		s.streamJobEvents(w, r, jobID)
		return
	}

	job, ok, err := s.jobStore.Get(r.Context(), jobID)
	if err != nil {
		s.logger.Printf("fetch job failed job_id=%s err=%v", jobID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load job"})
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
		return
	}

	writeJSON(w, http.StatusOK, jobReadResponse{
		Job:      job,
		AudioURL: s.archivedAudioURL(r.Context(), job.ID),
	})
}

type jobReadResponse struct {
	domain.Job
	AudioURL string `json:"audioUrl,omitempty"`
}

const audioURLExpiry = 15 * time.Minute

// archivedAudioURL presigns the job's archived audio for operators. Returns
// empty when archival is off or the presign fails; the read never fails on it.
func (s *Server) archivedAudioURL(ctx context.Context, jobID string) string {
	if s.storage == nil {
		return ""
	}
	url, err := s.storage.PresignedGetURL(ctx, storage.AudioKey(jobID), audioURLExpiry)
	if err != nil {
		s.logger.Printf("audio presign failed job_id=%s err=%v", jobID, err)
		return ""
	}
	return url
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	var payload domain.ResultPayload
	// Workers attach extra metadata fields, so this decode is lenient.
	if err := decodeJSONLenient(r, &payload); err != nil {
		s.metrics.callbacksTotal.WithLabelValues("invalid").Inc()
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	job, err := s.ingestor.Ingest(r.Context(), payload)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrJobNotFound):
		s.metrics.callbacksTotal.WithLabelValues("unknown_job").Inc()
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
		return
	case errors.Is(err, store.ErrJobTerminal):
		s.metrics.callbacksTotal.WithLabelValues("terminal_conflict").Inc()
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":  "job already finalized",
			"jobId":  job.ID,
			"status": job.Status,
		})
		return
	case errors.Is(err, callback.ErrValidation):
		s.metrics.callbacksTotal.WithLabelValues("invalid").Inc()
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	default:
		s.metrics.callbacksTotal.WithLabelValues("store_error").Inc()
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":   "failed to persist result",
			"details": err.Error(),
		})
		return
	}

	s.metrics.callbacksTotal.WithLabelValues("applied").Inc()
	s.enqueueNotification(r.Context(), job)

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"jobId":   job.ID,
		"status":  job.Status,
	})
}

func (s *Server) enqueueNotification(ctx context.Context, job domain.Job) {
	if s.notifyQueue == nil || strings.TrimSpace(job.WebhookURL) == "" {
		return
	}

	event := queue.EventJobCompleted
	if job.Status == domain.JobStatusFailed {
		event = queue.EventJobFailed
	}

	payload := queue.NotifyWebhookPayload{
		JobID:       job.ID,
		Event:       event,
		Endpoint:    job.WebhookURL,
		Status:      job.Status,
		ResultText:  job.ResultText,
		ResultURL:   job.ResultURL,
		ErrorDetail: job.Error,
		FinishedAt:  job.UpdatedAt,
	}
	if _, err := s.notifyQueue.EnqueueNotifyWebhook(ctx, payload); err != nil {
		s.logger.Printf("notify enqueue failed job_id=%s event=%s err=%v", job.ID, event, err)
		return
	}
	s.metrics.notificationsEnqueuedTotal.WithLabelValues(event).Inc()
}

// fillFromJob defaults submission metadata from the stored job row so a
// two-step client does not have to repeat what it sent at create time.
func fillFromJob(req domain.SubmitRequest, job domain.Job) domain.SubmitRequest {
	if strings.TrimSpace(req.FileName) == "" {
		req.FileName = job.FileName
	}
	if req.FileSize == 0 {
		req.FileSize = job.FileSize
	}
	if req.ContentType == "" {
		req.ContentType = job.ContentType
	}
	if req.CorrelationID == "" {
		req.CorrelationID = job.CorrelationID
	}
	if req.DoctorName == "" {
		req.DoctorName = job.DoctorName
	}
	if req.PatientName == "" {
		req.PatientName = job.PatientName
	}
	if req.DocumentType == "" {
		req.DocumentType = job.DocumentType
	}
	return req
}

func extractJobIDFromSubmitPath(path string) (string, error) {
	trimmed := strings.TrimPrefix(path, "/v1/jobs/")
	parts := strings.Split(strings.Trim(trimmed, "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "submit" {
		return "", errors.New("expected path format /v1/jobs/{id}/submit")
	}
	return parts[0], nil
}

func parseJobReadPath(path string) (string, bool, error) {
	trimmed := strings.TrimPrefix(path, "/v1/jobs/")
	parts := strings.Split(strings.Trim(trimmed, "/"), "/")
	switch {
	case len(parts) == 1 && parts[0] != "":
		return parts[0], false, nil
	case len(parts) == 2 && parts[0] != "" && parts[1] == "events":
		return parts[0], true, nil
	default:
		return "", false, errors.New("expected path format /v1/jobs/{id} or /v1/jobs/{id}/events")
	}
}

func decodeJSON(r *http.Request, into any) error {
	const maxBodyBytes = 32 << 20
	limited := io.LimitReader(r.Body, maxBodyBytes)
	decoder := json.NewDecoder(limited)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON body: multiple JSON values are not allowed")
	}
	return nil
}

func decodeJSONLenient(r *http.Request, into any) error {
	const maxBodyBytes = 1 << 20
	limited := io.LimitReader(r.Body, maxBodyBytes)
	if err := json.NewDecoder(limited).Decode(into); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
