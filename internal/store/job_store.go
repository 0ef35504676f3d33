package store

import (
	"context"
	"errors"

	"github.com/voxflow/voxflow/internal/domain"
)

var (
	ErrJobNotFound = errors.New("job not found")

	// ErrJobTerminal is returned when a result write targets a job that
	// already reached completed or failed. Terminal states are never
	// overwritten, even by a duplicate or conflicting callback.
	ErrJobTerminal = errors.New("job already in terminal state")
)

type JobStore interface {
	Create(ctx context.Context, job domain.Job) error
	Get(ctx context.Context, id string) (domain.Job, bool, error)
	UpdateStatus(ctx context.Context, id, status string) (domain.Job, error)
	ApplyResult(ctx context.Context, id string, result domain.Result) (domain.Job, error)
}
