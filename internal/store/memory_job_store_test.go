package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/voxflow/voxflow/internal/domain"
)

func seedJob(t *testing.T, s *MemoryJobStore, status string) domain.Job {
	t.Helper()
	job := domain.Job{
		ID:        "job-1",
		Status:    status,
		FileName:  "visit.mp3",
		FileSize:  1024,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if err := s.Create(context.Background(), job); err != nil {
		t.Fatalf("seed job: %v", err)
	}
	return job
}

func TestMemoryJobStoreUpdateStatus(t *testing.T) {
	s := NewMemoryJobStore()
	seedJob(t, s, domain.JobStatusPending)

	job, err := s.UpdateStatus(context.Background(), "job-1", domain.JobStatusProcessing)
	if err != nil {
		t.Fatalf("update status: %v", err)
	}
	if job.Status != domain.JobStatusProcessing {
		t.Fatalf("expected processing, got %s", job.Status)
	}

	if _, err := s.UpdateStatus(context.Background(), "missing", domain.JobStatusProcessing); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestMemoryJobStoreUpdateStatusProtectsTerminal(t *testing.T) {
	s := NewMemoryJobStore()
	seedJob(t, s, domain.JobStatusCompleted)

	job, err := s.UpdateStatus(context.Background(), "job-1", domain.JobStatusProcessing)
	if !errors.Is(err, ErrJobTerminal) {
		t.Fatalf("expected ErrJobTerminal, got %v", err)
	}
	if job.Status != domain.JobStatusCompleted {
		t.Fatalf("terminal status was rolled back: %s", job.Status)
	}

	stored, _, _ := s.Get(context.Background(), "job-1")
	if stored.Status != domain.JobStatusCompleted {
		t.Fatalf("store shows %s, want completed", stored.Status)
	}
}

func TestMemoryJobStoreApplyResult(t *testing.T) {
	s := NewMemoryJobStore()
	seedJob(t, s, domain.JobStatusProcessing)

	job, err := s.ApplyResult(context.Background(), "job-1", domain.Result{
		Status:     domain.JobStatusCompleted,
		ResultText: "report",
	})
	if err != nil {
		t.Fatalf("apply result: %v", err)
	}
	if job.Status != domain.JobStatusCompleted {
		t.Fatalf("expected completed, got %s", job.Status)
	}
	if job.ResultText != "report" {
		t.Fatalf("expected result text, got %q", job.ResultText)
	}
	if job.ResultURL != "" {
		t.Fatalf("expected absent resultUrl untouched, got %q", job.ResultURL)
	}
}

func TestMemoryJobStoreApplyResultProtectsTerminal(t *testing.T) {
	s := NewMemoryJobStore()
	seedJob(t, s, domain.JobStatusCompleted)

	job, err := s.ApplyResult(context.Background(), "job-1", domain.Result{
		Status:      domain.JobStatusFailed,
		ErrorDetail: "late duplicate callback",
	})
	if !errors.Is(err, ErrJobTerminal) {
		t.Fatalf("expected ErrJobTerminal, got %v", err)
	}
	if job.Status != domain.JobStatusCompleted {
		t.Fatalf("terminal status was overwritten: %s", job.Status)
	}
}

func TestMemoryJobStoreApplyResultMissingJob(t *testing.T) {
	s := NewMemoryJobStore()

	if _, err := s.ApplyResult(context.Background(), "missing", domain.Result{Status: domain.JobStatusCompleted}); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}

	if _, ok, err := s.Get(context.Background(), "missing"); err != nil || ok {
		t.Fatalf("expected no row created, got ok=%v err=%v", ok, err)
	}
}
