package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/cleargrid-labs/conductor/pkg/envelope"
)

// ErrNotFound is returned for operations on unknown job ids.
var ErrNotFound = errors.New("job not found")

// ErrAlreadyTerminal is the benign conflict returned when a result is
// reported for a job that already reached a terminal state. The stored
// result is never overwritten.
var ErrAlreadyTerminal = errors.New("job already in terminal state")

// DefaultLease is how long a claim is held before a crashed worker's job
// becomes reclaimable.
const DefaultLease = 5 * time.Minute

// Store is the persistence protocol the orchestration core requires.
//
// Guarantees implementations must honor:
//   - Enqueue creates exactly one pending job per accepted envelope.
//   - Claim atomically transitions at most one pending job of the role to
//     claimed; concurrent claimants never both win the same job. It
//     returns (nil, nil) when no eligible job exists.
//   - ReportResult is idempotent: reporting against a terminal job returns
//     ErrAlreadyTerminal and leaves the first result intact.
//   - ReclaimExpired requeues claimed jobs whose lease has lapsed so a
//     crashed worker cannot strand work forever.
type Store interface {
	Enqueue(ctx context.Context, env *envelope.CommandEnvelope) (string, error)
	Claim(ctx context.Context, role envelope.WorkerRole, workerID string, lease time.Duration) (*Job, error)
	ReportResult(ctx context.Context, jobID string, result Result) error
	Get(ctx context.Context, jobID string) (*Job, error)
	ListPending(ctx context.Context, role envelope.WorkerRole) ([]*Job, error)
	ListForSession(ctx context.Context, sessionID string) ([]*Job, error)
	ReclaimExpired(ctx context.Context) (int, error)
}
