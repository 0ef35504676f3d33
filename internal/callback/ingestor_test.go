package callback

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/voxflow/voxflow/internal/domain"
	"github.com/voxflow/voxflow/internal/store"
)

func newIngestorWithJob(t *testing.T, status string) (*Ingestor, *store.MemoryJobStore) {
	t.Helper()
	jobStore := store.NewMemoryJobStore()
	if err := jobStore.Create(context.Background(), domain.Job{
		ID:        "X",
		Status:    status,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("seed job: %v", err)
	}
	return NewIngestor(log.New(io.Discard, "", 0), jobStore), jobStore
}

func TestIngestAppliesSuccessfulResult(t *testing.T) {
	ingestor, jobStore := newIngestorWithJob(t, domain.JobStatusProcessing)

	job, err := ingestor.Ingest(context.Background(), domain.ResultPayload{
		JobID:      "X",
		Success:    true,
		ResultText: "report",
	})
	if err != nil {
		t.Fatalf("ingest returned error: %v", err)
	}
	if job.Status != domain.JobStatusCompleted || job.ResultText != "report" {
		t.Fatalf("expected completed with report, got %+v", job)
	}

	stored, ok, err := jobStore.Get(context.Background(), "X")
	if err != nil || !ok {
		t.Fatalf("read back job: ok=%v err=%v", ok, err)
	}
	if stored.Status != domain.JobStatusCompleted || stored.ResultText != "report" {
		t.Fatalf("store shows %s/%q, want completed/report", stored.Status, stored.ResultText)
	}
}

func TestIngestRecordsDefaultFailureDetail(t *testing.T) {
	ingestor, _ := newIngestorWithJob(t, domain.JobStatusProcessing)

	job, err := ingestor.Ingest(context.Background(), domain.ResultPayload{JobID: "X", Success: false})
	if err != nil {
		t.Fatalf("ingest returned error: %v", err)
	}
	if job.Status != domain.JobStatusFailed {
		t.Fatalf("expected failed, got %s", job.Status)
	}
	if job.Error != domain.DefaultFailureDetail {
		t.Fatalf("expected default diagnostic, got %q", job.Error)
	}
}

func TestIngestRejectsMissingJobID(t *testing.T) {
	ingestor, _ := newIngestorWithJob(t, domain.JobStatusProcessing)

	if _, err := ingestor.Ingest(context.Background(), domain.ResultPayload{Success: true}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestIngestReportsUnknownJob(t *testing.T) {
	ingestor := NewIngestor(log.New(io.Discard, "", 0), store.NewMemoryJobStore())

	if _, err := ingestor.Ingest(context.Background(), domain.ResultPayload{JobID: "missing", Success: true}); !errors.Is(err, store.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestIngestNeverOverwritesTerminalStatus(t *testing.T) {
	ingestor, jobStore := newIngestorWithJob(t, domain.JobStatusCompleted)

	if _, err := ingestor.Ingest(context.Background(), domain.ResultPayload{JobID: "X", Success: false}); !errors.Is(err, store.ErrJobTerminal) {
		t.Fatalf("expected ErrJobTerminal, got %v", err)
	}

	stored, _, _ := jobStore.Get(context.Background(), "X")
	if stored.Status != domain.JobStatusCompleted {
		t.Fatalf("terminal status was overwritten: %s", stored.Status)
	}
}
