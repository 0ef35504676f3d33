package stream

import (
	"context"
	"log"
	"time"

	"github.com/voxflow/voxflow/internal/domain"
	"github.com/voxflow/voxflow/internal/store"
)

type EventType string

const (
	EventConnected EventType = "connected"
	EventStatus    EventType = "status"
	EventComplete  EventType = "complete"
	EventTimeout   EventType = "timeout"
	EventError     EventType = "error"
)

// Event is one message in a status stream session. Job is populated for
// status and complete events; Err carries the store failure for error events.
type Event struct {
	Type EventType
	Job  domain.Job
	Err  string
}

type Config struct {
	PollInterval time.Duration
	MaxTicks     int
}

// Streamer opens per-client polling sessions over the job store. Sessions
// are read-only; they never mutate job state.
type Streamer struct {
	logger   *log.Logger
	jobStore store.JobStore
	interval time.Duration
	maxTicks int
}

func NewStreamer(logger *log.Logger, jobStore store.JobStore, cfg Config) *Streamer {
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	maxTicks := cfg.MaxTicks
	if maxTicks <= 0 {
		maxTicks = 120
	}

	return &Streamer{
		logger:   logger,
		jobStore: jobStore,
		interval: interval,
		maxTicks: maxTicks,
	}
}

// Open starts a session for jobID and returns its event channel. The channel
// always begins with connected and ends with exactly one of complete, timeout
// or error, then closes. Cancelling ctx ends the session without a final
// event. Each call is a fresh session from tick zero.
func (s *Streamer) Open(ctx context.Context, jobID string) <-chan Event {
	events := make(chan Event)
	go s.run(ctx, jobID, events)
	return events
}

func (s *Streamer) run(ctx context.Context, jobID string, events chan<- Event) {
	defer close(events)

	if !s.send(ctx, events, Event{Type: EventConnected}) {
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for tick := 0; tick < s.maxTicks; tick++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		job, ok, err := s.jobStore.Get(ctx, jobID)
		if err != nil {
			s.logger.Printf("stream poll failed job_id=%s tick=%d err=%v", jobID, tick+1, err)
			s.send(ctx, events, Event{Type: EventError, Err: "failed to read job status"})
			return
		}
		if !ok {
			s.send(ctx, events, Event{Type: EventError, Err: "job not found"})
			return
		}

		if !s.send(ctx, events, Event{Type: EventStatus, Job: job}) {
			return
		}

		if domain.Terminal(job.Status) {
			s.send(ctx, events, Event{Type: EventComplete, Job: job})
			return
		}
	}

	s.logger.Printf("stream budget exhausted job_id=%s ticks=%d", jobID, s.maxTicks)
	s.send(ctx, events, Event{Type: EventTimeout})
}

func (s *Streamer) send(ctx context.Context, events chan<- Event, ev Event) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
