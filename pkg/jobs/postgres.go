package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cleargrid-labs/conductor/pkg/envelope"

	_ "github.com/lib/pq"
)

// PostgresStore implements Store on PostgreSQL. Claim contention between
// worker replicas is resolved with FOR UPDATE SKIP LOCKED.
type PostgresStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgresStore creates the store and its schema.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	s := &PostgresStore{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// NewPostgresStoreNoMigrate wraps an existing database without touching
// its schema. Used when migrations run out of band and in tests.
func NewPostgresStoreNoMigrate(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

// WithClock overrides the clock for deterministic testing.
func (s *PostgresStore) WithClock(now func() time.Time) *PostgresStore {
	s.now = now
	return s
}

func (s *PostgresStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS jobs (
		id UUID PRIMARY KEY,
		org_id TEXT NOT NULL,
		session_id TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL,
		command_type TEXT NOT NULL,
		payload JSONB,
		priority INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		content_hash TEXT NOT NULL DEFAULT '',
		scheduled_for TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL,
		claimed_at TIMESTAMPTZ,
		claimed_by TEXT NOT NULL DEFAULT '',
		lease_expires_at TIMESTAMPTZ,
		completed_at TIMESTAMPTZ,
		attempts INTEGER NOT NULL DEFAULT 0,
		result JSONB,
		error TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_claim ON jobs(status, role, priority DESC, created_at);
	CREATE INDEX IF NOT EXISTS idx_jobs_session ON jobs(session_id)`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

// Enqueue creates one pending job for the envelope.
func (s *PostgresStore) Enqueue(ctx context.Context, env *envelope.CommandEnvelope) (string, error) {
	id := uuid.New().String()
	hash, _ := env.ContentHash()

	var payload any
	if len(env.Payload) > 0 {
		payload = []byte(env.Payload)
	}
	var scheduledFor any
	if env.ScheduledFor != nil {
		scheduledFor = env.ScheduledFor.UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, org_id, session_id, role, command_type, payload, priority, status, content_hash, scheduled_for, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		id, env.OrgID, env.SessionID, string(env.TargetRole), env.CommandType, payload,
		env.Priority, string(StatusPending), hash, scheduledFor, s.now().UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue job: %w", err)
	}
	return id, nil
}

// Claim atomically transitions at most one eligible pending job of the
// role to claimed. Returns (nil, nil) when none is eligible. Competing
// replicas skip rows another transaction already locked.
func (s *PostgresStore) Claim(ctx context.Context, role envelope.WorkerRole, workerID string, lease time.Duration) (*Job, error) {
	if lease <= 0 {
		lease = DefaultLease
	}
	now := s.now().UTC()

	row := s.db.QueryRowContext(ctx, `
		UPDATE jobs
		SET status = $1, claimed_at = $2, claimed_by = $3, lease_expires_at = $4, attempts = attempts + 1
		WHERE id = (
			SELECT id FROM jobs
			WHERE status = $5 AND role = $6
			  AND (scheduled_for IS NULL OR scheduled_for <= $7)
			ORDER BY priority DESC, created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+pgJobColumns,
		string(StatusClaimed), now, workerID, now.Add(lease),
		string(StatusPending), string(role), now,
	)

	job, err := scanPGJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}
	return job, nil
}

// ReportResult writes the terminal result exactly once; a second report
// returns ErrAlreadyTerminal and leaves the first intact.
func (s *PostgresStore) ReportResult(ctx context.Context, jobID string, result Result) error {
	if err := result.Validate(); err != nil {
		return err
	}

	var payload any
	if len(result.Payload) > 0 {
		payload = []byte(result.Payload)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = $1, result = $2, error = $3, completed_at = $4, lease_expires_at = NULL
		WHERE id = $5 AND status IN ($6, $7)`,
		string(result.Status), payload, result.Error, s.now().UTC(),
		jobID, string(StatusPending), string(StatusClaimed),
	)
	if err != nil {
		return fmt.Errorf("failed to report result: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var status string
		err := s.db.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id = $1`, jobID).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return ErrAlreadyTerminal
	}
	return nil
}

// Get fetches a job by id.
func (s *PostgresStore) Get(ctx context.Context, jobID string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+pgJobColumns+` FROM jobs WHERE id = $1`, jobID)
	job, err := scanPGJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return job, err
}

// ListPending enumerates pending jobs for the role, preferred order first.
func (s *PostgresStore) ListPending(ctx context.Context, role envelope.WorkerRole) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+pgJobColumns+` FROM jobs
		WHERE status = $1 AND role = $2
		ORDER BY priority DESC, created_at ASC`,
		string(StatusPending), string(role))
	if err != nil {
		return nil, err
	}
	return scanPGJobs(rows)
}

// ListForSession enumerates all jobs belonging to a session.
func (s *PostgresStore) ListForSession(ctx context.Context, sessionID string) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+pgJobColumns+` FROM jobs
		WHERE session_id = $1
		ORDER BY created_at ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	return scanPGJobs(rows)
}

// ReclaimExpired requeues claimed jobs whose lease has lapsed.
func (s *PostgresStore) ReclaimExpired(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = $1, claimed_at = NULL, claimed_by = '', lease_expires_at = NULL
		WHERE status = $2 AND lease_expires_at IS NOT NULL AND lease_expires_at <= $3`,
		string(StatusPending), string(StatusClaimed), s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to reclaim expired jobs: %w", err)
	}
	affected, err := res.RowsAffected()
	return int(affected), err
}

const pgJobColumns = `id, org_id, session_id, role, command_type, payload, priority, status, content_hash,
	scheduled_for, created_at, claimed_at, claimed_by, lease_expires_at, completed_at, attempts, result, error`

func scanPGJob(row rowScanner) (*Job, error) {
	var job Job
	var role, status string
	var payload, result []byte
	var scheduledFor, claimedAt, leaseExpiresAt, completedAt sql.NullTime

	err := row.Scan(&job.ID, &job.OrgID, &job.SessionID, &role, &job.CommandType, &payload,
		&job.Priority, &status, &job.ContentHash, &scheduledFor, &job.CreatedAt, &claimedAt,
		&job.ClaimedBy, &leaseExpiresAt, &completedAt, &job.Attempts, &result, &job.Error)
	if err != nil {
		return nil, err
	}

	job.Role = envelope.WorkerRole(role)
	job.Status = Status(status)
	job.Payload = payload
	job.Result = result
	job.ScheduledFor = nullTimePtr(scheduledFor)
	job.ClaimedAt = nullTimePtr(claimedAt)
	job.LeaseExpiresAt = nullTimePtr(leaseExpiresAt)
	job.CompletedAt = nullTimePtr(completedAt)
	return &job, nil
}

func scanPGJobs(rows *sql.Rows) ([]*Job, error) {
	defer func() { _ = rows.Close() }()

	var out []*Job
	for rows.Next() {
		job, err := scanPGJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func nullTimePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}
