package jobs

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cleargrid-labs/conductor/pkg/envelope"
)

// MemoryStore is a mutex-guarded in-process Store, used by tests and
// single-process deployments.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
	seq  int64
	ord  map[string]int64 // insertion order for FIFO tie-breaking
	now  func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs: make(map[string]*Job),
		ord:  make(map[string]int64),
		now:  time.Now,
	}
}

// WithClock overrides the clock for deterministic testing.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

// Enqueue creates one pending job for the envelope.
func (s *MemoryStore) Enqueue(ctx context.Context, env *envelope.CommandEnvelope) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hash, _ := env.ContentHash()
	job := &Job{
		ID:           uuid.New().String(),
		OrgID:        env.OrgID,
		SessionID:    env.SessionID,
		Role:         env.TargetRole,
		CommandType:  env.CommandType,
		Payload:      env.Payload,
		Priority:     env.Priority,
		Status:       StatusPending,
		ContentHash:  hash,
		ScheduledFor: env.ScheduledFor,
		CreatedAt:    s.now().UTC(),
	}
	s.seq++
	s.jobs[job.ID] = job
	s.ord[job.ID] = s.seq
	return job.ID, nil
}

// Claim atomically hands the highest-priority eligible pending job of the
// role to the caller, or returns (nil, nil) when none is eligible.
func (s *MemoryStore) Claim(ctx context.Context, role envelope.WorkerRole, workerID string, lease time.Duration) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	var best *Job
	for _, job := range s.jobs {
		if job.Status != StatusPending || job.Role != role {
			continue
		}
		if job.ScheduledFor != nil && job.ScheduledFor.After(now) {
			continue
		}
		if best == nil || claimBefore(s, job, best) {
			best = job
		}
	}
	if best == nil {
		return nil, nil
	}

	if lease <= 0 {
		lease = DefaultLease
	}
	claimedAt := now
	expires := now.Add(lease)
	best.Status = StatusClaimed
	best.ClaimedAt = &claimedAt
	best.ClaimedBy = workerID
	best.LeaseExpiresAt = &expires
	best.Attempts++

	copied := *best
	return &copied, nil
}

func claimBefore(s *MemoryStore, a, b *Job) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return s.ord[a.ID] < s.ord[b.ID]
}

// ReportResult writes the terminal result exactly once.
func (s *MemoryStore) ReportResult(ctx context.Context, jobID string, result Result) error {
	if err := result.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	if job.Status.Terminal() {
		return ErrAlreadyTerminal
	}

	completedAt := s.now().UTC()
	job.Status = result.Status
	job.Result = result.Payload
	job.Error = result.Error
	job.CompletedAt = &completedAt
	job.LeaseExpiresAt = nil
	return nil
}

// Get fetches a job by id.
func (s *MemoryStore) Get(ctx context.Context, jobID string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *job
	return &copied, nil
}

// ListPending enumerates pending jobs for the role, preferred order first.
func (s *MemoryStore) ListPending(ctx context.Context, role envelope.WorkerRole) ([]*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Job
	for _, job := range s.jobs {
		if job.Status == StatusPending && job.Role == role {
			copied := *job
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return claimBefore(s, out[i], out[j]) })
	return out, nil
}

// ListForSession enumerates all jobs belonging to a session.
func (s *MemoryStore) ListForSession(ctx context.Context, sessionID string) ([]*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Job
	for _, job := range s.jobs {
		if job.SessionID == sessionID {
			copied := *job
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return s.ord[out[i].ID] < s.ord[out[j].ID] })
	return out, nil
}

// ReclaimExpired requeues claimed jobs whose lease has lapsed.
func (s *MemoryStore) ReclaimExpired(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	reclaimed := 0
	for _, job := range s.jobs {
		if job.Status == StatusClaimed && job.LeaseExpiresAt != nil && !job.LeaseExpiresAt.After(now) {
			job.Status = StatusPending
			job.ClaimedAt = nil
			job.ClaimedBy = ""
			job.LeaseExpiresAt = nil
			reclaimed++
		}
	}
	return reclaimed, nil
}
