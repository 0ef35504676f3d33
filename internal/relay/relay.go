package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/voxflow/voxflow/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// noItemMarker is the phrase the worker returns on a non-success status when
// it has no synchronous payload because processing continues out-of-band.
// That response is a legitimate acceptance, not a failure.
const noItemMarker = "no item to return"

const (
	maxExcerptBytes = 512
	maxUpstreamBody = 1 << 20
	defaultTimeout  = 30 * time.Second
)

// ErrValidation marks submissions rejected before any upstream contact.
var ErrValidation = errors.New("invalid submission")

type OutcomeKind string

const (
	KindSuccess       OutcomeKind = "success"
	KindAcceptedAsync OutcomeKind = "accepted_async"
	KindUpstreamError OutcomeKind = "upstream_error"
	KindTimeout       OutcomeKind = "timeout"
)

// Outcome is the classified result of one upstream handoff.
type Outcome struct {
	Kind           OutcomeKind
	Data           any    // parsed JSON body on success
	RawText        string // non-JSON success body
	UpstreamStatus int    // set for upstream errors
	Details        string // truncated body excerpt for upstream errors
	Coalesced      bool   // true when this caller shared another call's outcome
}

// Accepted reports whether the worker took the job, synchronously or not.
func (o Outcome) Accepted() bool {
	return o.Kind == KindSuccess || o.Kind == KindAcceptedAsync
}

type Config struct {
	EndpointURL string
	Timeout     time.Duration
}

// Relay forwards validated submissions to the external transcription worker,
// at most one in-flight upstream call per fingerprint.
type Relay struct {
	logger     *log.Logger
	httpClient *http.Client
	endpoint   string
	timeout    time.Duration
	registry   *Registry
	tracer     trace.Tracer
	now        func() time.Time
}

func New(logger *log.Logger, cfg Config) *Relay {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Relay{
		logger:     logger,
		httpClient: &http.Client{},
		endpoint:   cfg.EndpointURL,
		timeout:    timeout,
		registry:   NewRegistry(),
		tracer:     otel.Tracer("voxflow/relay"),
		now:        time.Now,
	}
}

// Submit validates req, decodes the audio, and forwards it upstream unless an
// identical submission is already in flight, in which case it attaches to
// that call. Validation failures return a wrapped ErrValidation; everything
// observed upstream is reported through the Outcome, never retried here.
func (r *Relay) Submit(ctx context.Context, jobID string, req domain.SubmitRequest) (Outcome, error) {
	if err := req.Validate(); err != nil {
		return Outcome{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	audio, err := req.DecodeAudio()
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	fp := r.fingerprint(req)
	outcome, coalesced, err := r.registry.Do(ctx, fp, func() Outcome {
		return r.callUpstream(ctx, jobID, req, audio)
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("wait for in-flight submission: %w", err)
	}

	outcome.Coalesced = coalesced
	if coalesced {
		r.logger.Printf("submission coalesced job_id=%s file=%s outcome=%s", jobID, req.FileName, outcome.Kind)
	}
	return outcome, nil
}

// fingerprint identifies "the same logical submission". Without a correlation
// id the current millisecond is the discriminator, so two distinct uploads of
// an identically named and sized file in the same instant would coalesce.
// That mirrors the worker contract as deployed; do not tighten it here.
func (r *Relay) fingerprint(req domain.SubmitRequest) string {
	key := strings.TrimSpace(req.CorrelationID)
	if key == "" {
		key = strconv.FormatInt(r.now().UTC().UnixMilli(), 10)
	}
	return fmt.Sprintf("%s|%d|%s", req.FileName, req.FileSize, key)
}

func (r *Relay) callUpstream(ctx context.Context, jobID string, req domain.SubmitRequest, audio []byte) Outcome {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	ctx, span := r.tracer.Start(ctx, "relay.submit", trace.WithSpanKind(trace.SpanKindClient))
	span.SetAttributes(
		attribute.String("job.id", jobID),
		attribute.String("submission.file_name", req.FileName),
		attribute.Int64("submission.file_size", req.FileSize),
	)
	defer span.End()

	body, contentType, err := buildMultipartBody(jobID, req, audio, r.now().UTC())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "build body")
		return Outcome{Kind: KindUpstreamError, Details: err.Error()}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "build request")
		return Outcome{Kind: KindUpstreamError, Details: err.Error()}
	}
	httpReq.Header.Set("Content-Type", contentType)

	resp, err := r.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
			r.logger.Printf("upstream timed out job_id=%s after=%s", jobID, r.timeout)
			span.SetStatus(codes.Error, "timeout")
			return Outcome{Kind: KindTimeout}
		}
		r.logger.Printf("upstream request failed job_id=%s err=%v", jobID, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return Outcome{Kind: KindUpstreamError, Details: err.Error()}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamBody))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "read body")
		return Outcome{Kind: KindUpstreamError, UpstreamStatus: resp.StatusCode, Details: err.Error()}
	}

	outcome := classify(resp.StatusCode, raw)
	span.SetAttributes(
		attribute.Int("upstream.status", resp.StatusCode),
		attribute.String("relay.outcome", string(outcome.Kind)),
	)
	if outcome.Kind == KindUpstreamError {
		r.logger.Printf("upstream rejected job_id=%s status=%d", jobID, resp.StatusCode)
		span.SetStatus(codes.Error, "upstream error")
	} else {
		span.SetStatus(codes.Ok, "relayed")
	}
	return outcome
}

// classify orders the worker response rules; the first match wins.
func classify(status int, body []byte) Outcome {
	success := status >= 200 && status < 300

	if !success {
		if strings.Contains(strings.ToLower(string(body)), noItemMarker) {
			return Outcome{Kind: KindAcceptedAsync}
		}
		return Outcome{
			Kind:           KindUpstreamError,
			UpstreamStatus: status,
			Details:        excerpt(body),
		}
	}

	var data any
	if len(body) > 0 && json.Unmarshal(body, &data) == nil {
		return Outcome{Kind: KindSuccess, Data: data}
	}
	return Outcome{Kind: KindSuccess, RawText: string(body)}
}

func excerpt(body []byte) string {
	if len(body) > maxExcerptBytes {
		body = body[:maxExcerptBytes]
	}
	return string(body)
}

func buildMultipartBody(jobID string, req domain.SubmitRequest, audio []byte, now time.Time) (*bytes.Buffer, string, error) {
	buf := &bytes.Buffer{}
	writer := multipart.NewWriter(buf)

	fileHeader := make(textproto.MIMEHeader)
	fileHeader.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="file"; filename=%q`, req.FileName))
	if req.ContentType != "" {
		fileHeader.Set("Content-Type", req.ContentType)
	} else {
		fileHeader.Set("Content-Type", "application/octet-stream")
	}
	part, err := writer.CreatePart(fileHeader)
	if err != nil {
		return nil, "", fmt.Errorf("create file part: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return nil, "", fmt.Errorf("write audio part: %w", err)
	}

	submissionTime := strings.TrimSpace(req.SubmissionTime)
	if submissionTime == "" {
		submissionTime = now.Format(time.RFC3339)
	}

	fields := map[string]string{
		"jobId":          jobID,
		"fileName":       req.FileName,
		"fileSize":       strconv.FormatInt(req.FileSize, 10),
		"correlationId":  req.CorrelationID,
		"doctorName":     req.DoctorName,
		"patientName":    req.PatientName,
		"documentType":   req.DocumentType,
		"submissionTime": submissionTime,
	}
	for name, value := range fields {
		if value == "" {
			continue
		}
		if err := writer.WriteField(name, value); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", name, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("finalize multipart body: %w", err)
	}
	return buf, writer.FormDataContentType(), nil
}
