package jobs

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleargrid-labs/conductor/pkg/envelope"
)

var pgColumns = []string{
	"id", "org_id", "session_id", "role", "command_type", "payload", "priority", "status", "content_hash",
	"scheduled_for", "created_at", "claimed_at", "claimed_by", "lease_expires_at", "completed_at", "attempts", "result", "error",
}

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return NewPostgresStoreNoMigrate(db), mock
}

func TestPostgresEnqueue(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO jobs").
		WithArgs(sqlmock.AnyArg(), "org-1", "sess-1", "domain", "payables.invoice.create",
			sqlmock.AnyArg(), 0, "pending", sqlmock.AnyArg(), nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	env := &envelope.CommandEnvelope{
		OrgID:       "org-1",
		SessionID:   "sess-1",
		CommandType: "payables.invoice.create",
		Payload:     json.RawMessage(`{"invoiceId":"inv-42"}`),
		TargetRole:  envelope.RoleDomain,
	}

	id, err := store.Enqueue(context.Background(), env)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresClaimReturnsJob(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows(pgColumns).AddRow(
		"job-1", "org-1", "sess-1", "domain", "payables.invoice.create", []byte(`{}`), 3, "claimed", "abc",
		nil, now, now, "worker-1", now.Add(time.Minute), nil, 1, nil, "")

	mock.ExpectQuery("UPDATE jobs").
		WithArgs("claimed", sqlmock.AnyArg(), "worker-1", sqlmock.AnyArg(),
			"pending", "domain", sqlmock.AnyArg()).
		WillReturnRows(rows)

	job, err := store.Claim(context.Background(), envelope.RoleDomain, "worker-1", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, "job-1", job.ID)
	assert.Equal(t, StatusClaimed, job.Status)
	assert.Equal(t, 3, job.Priority)
	require.NotNil(t, job.LeaseExpiresAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresClaimEmptyQueue(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("UPDATE jobs").
		WillReturnRows(sqlmock.NewRows(pgColumns))

	job, err := store.Claim(context.Background(), envelope.RoleDomain, "worker-1", time.Minute)
	require.NoError(t, err)
	assert.Nil(t, job)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresReportResult(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE jobs").
		WithArgs("completed", sqlmock.AnyArg(), "", sqlmock.AnyArg(), "job-1", "pending", "claimed").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.ReportResult(context.Background(), "job-1", Result{
		Status:  StatusCompleted,
		Payload: json.RawMessage(`{"ok":true}`),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresReportResultAlreadyTerminal(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE jobs").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT status FROM jobs").
		WithArgs("job-1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("completed"))

	err := store.ReportResult(context.Background(), "job-1", Result{Status: StatusFailed, Error: "late"})
	assert.ErrorIs(t, err, ErrAlreadyTerminal)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresReportResultUnknownJob(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE jobs").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT status FROM jobs").
		WithArgs("no-such-job").
		WillReturnRows(sqlmock.NewRows([]string{"status"}))

	err := store.ReportResult(context.Background(), "no-such-job", Result{Status: StatusFailed})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresReclaimExpired(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec("UPDATE jobs").
		WithArgs("pending", "claimed", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))

	reclaimed, err := store.ReclaimExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, reclaimed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery("SELECT (.+) FROM jobs WHERE id").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(pgColumns))

	_, err := store.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
