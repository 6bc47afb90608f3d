// Package worker runs the poll/claim/execute/report loop on top of the
// jobs store, with the director as the plan-executing handler.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/cleargrid-labs/conductor/pkg/envelope"
	"github.com/cleargrid-labs/conductor/pkg/guard"
	"github.com/cleargrid-labs/conductor/pkg/jobs"
	"github.com/cleargrid-labs/conductor/pkg/telemetry"
	"github.com/google/uuid"
)

// Handler executes one claimed job and returns its result payload.
type Handler interface {
	Handle(ctx context.Context, job *jobs.Job) (json.RawMessage, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, job *jobs.Job) (json.RawMessage, error)

func (f HandlerFunc) Handle(ctx context.Context, job *jobs.Job) (json.RawMessage, error) {
	return f(ctx, job)
}

// Worker polls the store for jobs of its role, executes them under a
// timeout guard, and reports terminal results. Handler errors become
// failed results with the message preserved; they never crash the loop.
type Worker struct {
	id           string
	role         envelope.WorkerRole
	store        jobs.Store
	handler      Handler
	lease        time.Duration
	pollInterval time.Duration
	jobTimeout   time.Duration
	logger       *slog.Logger
	telemetry    *telemetry.Provider
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithLease sets the claim lease duration.
func WithLease(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.lease = d
		}
	}
}

// WithPollInterval sets the idle polling interval.
func WithPollInterval(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.pollInterval = d
		}
	}
}

// WithJobTimeout bounds a single job execution. Zero disables the bound.
func WithJobTimeout(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d >= 0 {
			w.jobTimeout = d
		}
	}
}

// WithWorkerLogger sets the worker's logger.
func WithWorkerLogger(logger *slog.Logger) WorkerOption {
	return func(w *Worker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithTelemetry attaches job metrics emission.
func WithTelemetry(p *telemetry.Provider) WorkerOption {
	return func(w *Worker) { w.telemetry = p }
}

// New creates a worker for the role.
func New(role envelope.WorkerRole, store jobs.Store, handler Handler, opts ...WorkerOption) *Worker {
	w := &Worker{
		id:           string(role) + "-" + uuid.New().String()[:8],
		role:         role,
		store:        store,
		handler:      handler,
		lease:        jobs.DefaultLease,
		pollInterval: time.Second,
		jobTimeout:   2 * time.Minute,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// ID returns the worker's claim identity.
func (w *Worker) ID() string { return w.id }

// Run claims and executes jobs until the context is cancelled. After
// processing a job it immediately polls again; on an empty queue it backs
// off by the poll interval.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker started", "worker_id", w.id, "role", w.role)
	if w.telemetry != nil {
		w.telemetry.WorkerStarted(ctx, string(w.role))
		defer w.telemetry.WorkerStopped(context.WithoutCancel(ctx), string(w.role))
	}

	for {
		processed, err := w.Tick(ctx)
		if err != nil {
			w.logger.Error("worker tick failed", "worker_id", w.id, "error", err)
		}
		if processed {
			continue
		}
		select {
		case <-ctx.Done():
			w.logger.Info("worker stopped", "worker_id", w.id, "role", w.role)
			return ctx.Err()
		case <-time.After(w.pollInterval):
		}
	}
}

// Tick claims and processes at most one job. It reports whether a job was
// processed, so callers can drain a queue deterministically in tests.
func (w *Worker) Tick(ctx context.Context) (bool, error) {
	job, err := w.store.Claim(ctx, w.role, w.id, w.lease)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}
	w.process(ctx, job)
	return true, nil
}

func (w *Worker) process(ctx context.Context, job *jobs.Job) {
	start := time.Now()
	payload, err := guard.Do(ctx, w.jobTimeout, func(ctx context.Context) (json.RawMessage, error) {
		return w.handler.Handle(ctx, job)
	})

	result := jobs.Result{Status: jobs.StatusCompleted, Payload: payload}
	if err != nil {
		result = jobs.Result{Status: jobs.StatusFailed, Error: err.Error()}
		w.logger.Warn("job failed",
			"worker_id", w.id,
			"job_id", job.ID,
			"command_type", job.CommandType,
			"timed_out", errors.Is(err, guard.ErrTimeout),
			"error", err)
	} else {
		w.logger.Info("job completed",
			"worker_id", w.id,
			"job_id", job.ID,
			"command_type", job.CommandType,
			"duration", time.Since(start))
	}

	if w.telemetry != nil {
		w.telemetry.RecordJob(ctx, string(w.role), string(result.Status), time.Since(start))
	}

	// Reporting uses a fresh context so a cancelled worker still lands its
	// terminal result instead of stranding the claim until lease expiry.
	reportCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := w.store.ReportResult(reportCtx, job.ID, result); err != nil {
		if errors.Is(err, jobs.ErrAlreadyTerminal) {
			// Another path already landed a result; ours is discarded.
			w.logger.Debug("duplicate result discarded", "worker_id", w.id, "job_id", job.ID)
			return
		}
		w.logger.Error("failed to report result", "worker_id", w.id, "job_id", job.ID, "error", err)
	}
}

// Sweeper periodically requeues jobs whose claim lease has expired,
// recovering work stranded by crashed workers.
type Sweeper struct {
	store    jobs.Store
	interval time.Duration
	logger   *slog.Logger
}

// NewSweeper creates a lease sweeper. A non-positive interval defaults to
// one minute.
func NewSweeper(store jobs.Store, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{store: store, interval: interval, logger: logger}
}

// Run sweeps until the context is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			reclaimed, err := s.store.ReclaimExpired(ctx)
			if err != nil {
				s.logger.Error("lease sweep failed", "error", err)
				continue
			}
			if reclaimed > 0 {
				s.logger.Warn("requeued jobs with expired leases", "count", reclaimed)
			}
		}
	}
}
