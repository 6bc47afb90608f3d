package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cleargrid-labs/conductor/pkg/envelope"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store on an embedded SQLite database. Claim
// atomicity comes from a single guarded UPDATE; SQLite serializes writers.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (or creates) a SQLite database suitable for the store.
// A single connection avoids SQLITE_BUSY races between writers.
func OpenSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

// NewSQLiteStore creates the store and its schema.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// WithClock overrides the clock for deterministic testing.
func (s *SQLiteStore) WithClock(now func() time.Time) *SQLiteStore {
	s.now = now
	return s
}

func (s *SQLiteStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		org_id TEXT NOT NULL,
		session_id TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL,
		command_type TEXT NOT NULL,
		payload BLOB,
		priority INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		content_hash TEXT NOT NULL DEFAULT '',
		scheduled_for DATETIME,
		created_at DATETIME NOT NULL,
		claimed_at DATETIME,
		claimed_by TEXT NOT NULL DEFAULT '',
		lease_expires_at DATETIME,
		completed_at DATETIME,
		attempts INTEGER NOT NULL DEFAULT 0,
		result BLOB,
		error TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_jobs_claim ON jobs(status, role, priority, created_at);
	CREATE INDEX IF NOT EXISTS idx_jobs_session ON jobs(session_id);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

// sqliteTimeFormat pads fractional seconds to a fixed width so the TEXT
// comparisons in claim and reclaim queries order chronologically.
const sqliteTimeFormat = "2006-01-02T15:04:05.000000000Z07:00"

const jobColumns = `id, org_id, session_id, role, command_type, payload, priority, status, content_hash,
	scheduled_for, created_at, claimed_at, claimed_by, lease_expires_at, completed_at, attempts, result, error`

// Enqueue creates one pending job for the envelope.
func (s *SQLiteStore) Enqueue(ctx context.Context, env *envelope.CommandEnvelope) (string, error) {
	id := uuid.New().String()
	hash, _ := env.ContentHash()
	now := s.now().UTC()

	var scheduledFor any
	if env.ScheduledFor != nil {
		scheduledFor = env.ScheduledFor.UTC().Format(sqliteTimeFormat)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, org_id, session_id, role, command_type, payload, priority, status, content_hash, scheduled_for, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, env.OrgID, env.SessionID, string(env.TargetRole), env.CommandType, []byte(env.Payload),
		env.Priority, string(StatusPending), hash, scheduledFor, now.Format(sqliteTimeFormat),
	)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue job: %w", err)
	}
	return id, nil
}

// Claim atomically transitions at most one eligible pending job of the
// role to claimed. Returns (nil, nil) when none is eligible.
func (s *SQLiteStore) Claim(ctx context.Context, role envelope.WorkerRole, workerID string, lease time.Duration) (*Job, error) {
	if lease <= 0 {
		lease = DefaultLease
	}
	now := s.now().UTC()

	row := s.db.QueryRowContext(ctx, `
		UPDATE jobs
		SET status = ?, claimed_at = ?, claimed_by = ?, lease_expires_at = ?, attempts = attempts + 1
		WHERE id = (
			SELECT id FROM jobs
			WHERE status = ? AND role = ?
			  AND (scheduled_for IS NULL OR scheduled_for <= ?)
			ORDER BY priority DESC, created_at ASC
			LIMIT 1
		)
		RETURNING `+jobColumns,
		string(StatusClaimed), now.Format(sqliteTimeFormat), workerID,
		now.Add(lease).Format(sqliteTimeFormat),
		string(StatusPending), string(role), now.Format(sqliteTimeFormat),
	)

	job, err := scanJob(row)
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
func (s *SQLiteStore) ReportResult(ctx context.Context, jobID string, result Result) error {
	if err := result.Validate(); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = ?, result = ?, error = ?, completed_at = ?, lease_expires_at = NULL
		WHERE id = ? AND status IN (?, ?)`,
		string(result.Status), []byte(result.Payload), result.Error,
		s.now().UTC().Format(sqliteTimeFormat),
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
		// Either the job does not exist or it is already terminal.
		var status string
		err := s.db.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id = ?`, jobID).Scan(&status)
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
func (s *SQLiteStore) Get(ctx context.Context, jobID string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, jobID)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return job, err
}

// ListPending enumerates pending jobs for the role, preferred order first.
func (s *SQLiteStore) ListPending(ctx context.Context, role envelope.WorkerRole) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE status = ? AND role = ?
		ORDER BY priority DESC, created_at ASC`,
		string(StatusPending), string(role))
	if err != nil {
		return nil, err
	}
	return scanJobs(rows)
}

// ListForSession enumerates all jobs belonging to a session.
func (s *SQLiteStore) ListForSession(ctx context.Context, sessionID string) ([]*Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE session_id = ?
		ORDER BY created_at ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	return scanJobs(rows)
}

// ReclaimExpired requeues claimed jobs whose lease has lapsed.
func (s *SQLiteStore) ReclaimExpired(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = ?, claimed_at = NULL, claimed_by = '', lease_expires_at = NULL
		WHERE status = ? AND lease_expires_at IS NOT NULL AND lease_expires_at <= ?`,
		string(StatusPending), string(StatusClaimed),
		s.now().UTC().Format(sqliteTimeFormat))
	if err != nil {
		return 0, fmt.Errorf("failed to reclaim expired jobs: %w", err)
	}
	affected, err := res.RowsAffected()
	return int(affected), err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var job Job
	var role, status string
	var payload, result []byte
	var scheduledFor, claimedAt, leaseExpiresAt, completedAt sql.NullString
	var createdAt string

	err := row.Scan(&job.ID, &job.OrgID, &job.SessionID, &role, &job.CommandType, &payload,
		&job.Priority, &status, &job.ContentHash, &scheduledFor, &createdAt, &claimedAt,
		&job.ClaimedBy, &leaseExpiresAt, &completedAt, &job.Attempts, &result, &job.Error)
	if err != nil {
		return nil, err
	}

	job.Role = envelope.WorkerRole(role)
	job.Status = Status(status)
	job.Payload = payload
	job.Result = result
	if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		job.CreatedAt = t
	}
	job.ScheduledFor = parseNullTime(scheduledFor)
	job.ClaimedAt = parseNullTime(claimedAt)
	job.LeaseExpiresAt = parseNullTime(leaseExpiresAt)
	job.CompletedAt = parseNullTime(completedAt)
	return &job, nil
}

func scanJobs(rows *sql.Rows) ([]*Job, error) {
	defer func() { _ = rows.Close() }()

	var out []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func parseNullTime(v sql.NullString) *time.Time {
	if !v.Valid || v.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, v.String)
	if err != nil {
		return nil
	}
	return &t
}
