// Package store owns all backtest job state. The dispatcher is the sole
// writer of status transitions; the store enforces the monotonic lattice
// queued -> running -> {completed, failed, cancelled}.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/atlasfin/atlas/internal/domain"
)

// ErrNotFound is returned when a job id has no record.
var ErrNotFound = errors.New("job not found")

// InvalidTransitionError reports an out-of-order status transition. This is a
// programming-logic fault: it is fatal to the offending operation and never
// retried.
type InvalidTransitionError struct {
	JobID string
	From  domain.JobStatus
	To    domain.JobStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition for job %s: %s -> %s", e.JobID, e.From, e.To)
}

// Store is the job state contract shared by the dispatcher and the API.
type Store interface {
	// CreateJob assigns a fresh id and queued status.
	CreateJob(ctx context.Context, req domain.JobRequest) (*domain.Job, error)

	// GetJob returns a job or ErrNotFound.
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)

	// ListJobs returns jobs, optionally filtered by status ("" means all),
	// newest first.
	ListJobs(ctx context.Context, status domain.JobStatus) ([]domain.Job, error)

	// SetJobSession records the sandbox session assigned to a job.
	SetJobSession(ctx context.Context, jobID, session string) error

	// Transition moves a job along the status lattice. Terminal transitions
	// must carry the result envelope; non-terminal ones must not. Violations
	// fail with *InvalidTransitionError.
	Transition(ctx context.Context, jobID string, next domain.JobStatus, envelope *domain.ResultEnvelope) error

	// AppendEvent records a progress event and returns its per-job sequence
	// number.
	AppendEvent(ctx context.Context, jobID string, typ domain.JobEventType, payload json.RawMessage) (int64, error)

	// ListEvents returns events for a job with seq greater than afterSeq, in
	// sequence order.
	ListEvents(ctx context.Context, jobID string, afterSeq int64) ([]domain.JobEvent, error)

	Close() error
}
