package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/voxflow/voxflow/internal/domain"
	"github.com/voxflow/voxflow/internal/stream"
)

// streamJobEvents bridges a status stream session onto a server-sent-events
// response. The response ends when the session does; closing it from the
// client side cancels the request context and the poll loop with it.
func (s *Server) streamJobEvents(w http.ResponseWriter, r *http.Request, jobID string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming unsupported"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	s.metrics.streamSessionsActive.Inc()
	defer s.metrics.streamSessionsActive.Dec()

	for ev := range s.streamer.Open(r.Context(), jobID) {
		if err := writeSSE(w, ev); err != nil {
			s.logger.Printf("stream write failed job_id=%s err=%v", jobID, err)
			return
		}
		flusher.Flush()
		s.metrics.streamEventsTotal.WithLabelValues(string(ev.Type)).Inc()
	}
}

func writeSSE(w io.Writer, ev stream.Event) error {
	data, err := json.Marshal(sseMessage(ev))
	if err != nil {
		return fmt.Errorf("marshal stream event: %w", err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	return err
}

// sseMessage shapes one discriminated event frame: {type, data?}.
func sseMessage(ev stream.Event) map[string]any {
	msg := map[string]any{"type": string(ev.Type)}
	switch ev.Type {
	case stream.EventStatus, stream.EventComplete:
		msg["data"] = jobSnapshot(ev.Job)
	case stream.EventError:
		msg["data"] = map[string]string{"message": ev.Err}
	}
	return msg
}

func jobSnapshot(job domain.Job) map[string]any {
	snapshot := map[string]any{
		"id":     job.ID,
		"status": job.Status,
	}
	if job.ResultText != "" {
		snapshot["resultText"] = job.ResultText
	}
	if job.ResultURL != "" {
		snapshot["resultUrl"] = job.ResultURL
	}
	if job.Error != "" {
		snapshot["error"] = job.Error
	}
	return snapshot
}
