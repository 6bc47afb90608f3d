package jobs_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleargrid-labs/conductor/pkg/envelope"
	"github.com/cleargrid-labs/conductor/pkg/jobs"
)

func newSQLiteStore(t *testing.T) *jobs.SQLiteStore {
	t.Helper()

	db, err := jobs.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store, err := jobs.NewSQLiteStore(db)
	require.NoError(t, err)
	return store
}

func TestSQLiteEnqueueClaimRoundTrip(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	id, err := store.Enqueue(ctx, sampleEnvelope("payables.invoice.create"))
	require.NoError(t, err)

	job, err := store.Claim(ctx, envelope.RoleDomain, "worker-1", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, id, job.ID)
	assert.Equal(t, jobs.StatusClaimed, job.Status)
	assert.Equal(t, "worker-1", job.ClaimedBy)
	assert.Equal(t, 1, job.Attempts)
	assert.JSONEq(t, `{"invoiceId":"inv-42"}`, string(job.Payload))
	require.NotNil(t, job.LeaseExpiresAt)

	// Queue is drained: a second claim finds nothing.
	job, err = store.Claim(ctx, envelope.RoleDomain, "worker-2", time.Minute)
	require.NoError(t, err)
	assert.Nil(t, job)
}

func TestSQLiteClaimOrderPriorityThenFIFO(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newSQLiteStore(t).WithClock(func() time.Time {
		now = now.Add(time.Millisecond)
		return now
	})
	ctx := context.Background()

	low := sampleEnvelope("low")
	low.Priority = 1
	first := sampleEnvelope("first")
	first.Priority = 5
	second := sampleEnvelope("second")
	second.Priority = 5

	for _, env := range []*envelope.CommandEnvelope{low, first, second} {
		_, err := store.Enqueue(ctx, env)
		require.NoError(t, err)
	}

	var order []string
	for range 3 {
		job, err := store.Claim(ctx, envelope.RoleDomain, "worker-1", time.Minute)
		require.NoError(t, err)
		require.NotNil(t, job)
		order = append(order, job.CommandType)
	}
	assert.Equal(t, []string{"first", "second", "low"}, order)
}

func TestSQLiteClaimSkipsFutureScheduledJobs(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newSQLiteStore(t).WithClock(func() time.Time { return now })
	ctx := context.Background()

	future := now.Add(time.Hour)
	env := sampleEnvelope("payables.payment.schedule")
	env.ScheduledFor = &future
	_, err := store.Enqueue(ctx, env)
	require.NoError(t, err)

	job, err := store.Claim(ctx, envelope.RoleDomain, "worker-1", time.Minute)
	require.NoError(t, err)
	assert.Nil(t, job)

	now = now.Add(2 * time.Hour)
	job, err = store.Claim(ctx, envelope.RoleDomain, "worker-1", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, job)
	require.NotNil(t, job.ScheduledFor)
	assert.True(t, job.ScheduledFor.Equal(future))
}

func TestSQLiteReportResultIdempotent(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	id, err := store.Enqueue(ctx, sampleEnvelope("payables.invoice.create"))
	require.NoError(t, err)

	_, err = store.Claim(ctx, envelope.RoleDomain, "worker-1", time.Minute)
	require.NoError(t, err)

	err = store.ReportResult(ctx, id, jobs.Result{
		Status:  jobs.StatusCompleted,
		Payload: json.RawMessage(`{"ok":true}`),
	})
	require.NoError(t, err)

	err = store.ReportResult(ctx, id, jobs.Result{Status: jobs.StatusFailed, Error: "late duplicate"})
	assert.ErrorIs(t, err, jobs.ErrAlreadyTerminal)

	job, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusCompleted, job.Status)
	assert.JSONEq(t, `{"ok":true}`, string(job.Result))
	require.NotNil(t, job.CompletedAt)
	assert.Nil(t, job.LeaseExpiresAt)
}

func TestSQLiteReportResultUnknownJob(t *testing.T) {
	store := newSQLiteStore(t)

	err := store.ReportResult(context.Background(), "no-such-job", jobs.Result{Status: jobs.StatusFailed})
	assert.ErrorIs(t, err, jobs.ErrNotFound)
}

func TestSQLiteReclaimExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newSQLiteStore(t).WithClock(func() time.Time { return now })
	ctx := context.Background()

	id, err := store.Enqueue(ctx, sampleEnvelope("payables.invoice.create"))
	require.NoError(t, err)

	_, err = store.Claim(ctx, envelope.RoleDomain, "worker-1", time.Minute)
	require.NoError(t, err)

	reclaimed, err := store.ReclaimExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, reclaimed)

	now = now.Add(2 * time.Minute)
	reclaimed, err = store.ReclaimExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, reclaimed)

	job, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusPending, job.Status)
	assert.Empty(t, job.ClaimedBy)
	assert.Nil(t, job.LeaseExpiresAt)

	job, err = store.Claim(ctx, envelope.RoleDomain, "worker-2", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, 2, job.Attempts)
}

func TestSQLiteListPendingAndSession(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newSQLiteStore(t).WithClock(func() time.Time {
		now = now.Add(time.Millisecond)
		return now
	})
	ctx := context.Background()

	first := sampleEnvelope("one")
	second := sampleEnvelope("two")
	other := sampleEnvelope("other")
	other.SessionID = "sess-2"
	other.TargetRole = envelope.RoleDirector

	for _, env := range []*envelope.CommandEnvelope{first, second, other} {
		_, err := store.Enqueue(ctx, env)
		require.NoError(t, err)
	}

	pending, err := store.ListPending(ctx, envelope.RoleDomain)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "one", pending[0].CommandType)
	assert.Equal(t, "two", pending[1].CommandType)

	session, err := store.ListForSession(ctx, "sess-2")
	require.NoError(t, err)
	require.Len(t, session, 1)
	assert.Equal(t, "other", session[0].CommandType)
}
