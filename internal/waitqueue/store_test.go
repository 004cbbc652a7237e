package waitqueue

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entryRows(e *Entry) *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"id", "conversation_id", "queue_id", "priority", "priority_reason",
		"enqueued_at", "claimed_at", "resolved_at",
	}).AddRow(e.ID, e.ConversationID, e.QueueID, e.Priority, e.PriorityReason, e.EnqueuedAt, e.ClaimedAt, e.ResolvedAt)
}

func TestEnqueueCreates(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := newStoreWithExec(mock)
	convID := uuid.New()
	want := &Entry{ID: uuid.New(), ConversationID: convID, Priority: 5, PriorityReason: "vip", EnqueuedAt: time.Now()}

	mock.ExpectQuery("INSERT INTO queue_entries").
		WithArgs(pgxmock.AnyArg(), convID, pgxmock.AnyArg(), 5, "vip").
		WillReturnRows(entryRows(want))

	entry, created, err := store.Enqueue(context.Background(), convID, nil, 5, "vip")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, want.ID, entry.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnqueueIdempotentOnExistingEntry(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := newStoreWithExec(mock)
	convID := uuid.New()
	existing := &Entry{ID: uuid.New(), ConversationID: convID, Priority: 3, EnqueuedAt: time.Now()}

	// Conflict with the partial unique index yields no row from the insert.
	mock.ExpectQuery("INSERT INTO queue_entries").
		WithArgs(pgxmock.AnyArg(), convID, pgxmock.AnyArg(), 5, "retry").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("SELECT (.+) FROM queue_entries").
		WithArgs(convID).
		WillReturnRows(entryRows(existing))

	entry, created, err := store.Enqueue(context.Background(), convID, nil, 5, "retry")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, existing.ID, entry.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPeekHighestScoped(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := newStoreWithExec(mock)
	queueID := uuid.New()
	want := &Entry{ID: uuid.New(), ConversationID: uuid.New(), QueueID: &queueID, Priority: 9, EnqueuedAt: time.Now()}

	mock.ExpectQuery("SELECT (.+) FROM queue_entries").
		WithArgs(queueID).
		WillReturnRows(entryRows(want))

	entry, err := store.PeekHighest(context.Background(), &queueID)
	require.NoError(t, err)
	assert.Equal(t, want.ID, entry.ID)
}

func TestPeekHighestEmpty(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := newStoreWithExec(mock)

	mock.ExpectQuery("SELECT (.+) FROM queue_entries").
		WillReturnError(pgx.ErrNoRows)

	_, err = store.PeekHighest(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEntryNotFound)
}

func TestMarkClaimedResolvedEntry(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := newStoreWithExec(mock)

	mock.ExpectExec("UPDATE queue_entries").
		WithArgs(pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err = store.MarkClaimed(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrEntryResolved)
}

func TestReleaseClaimClearsStamp(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := newStoreWithExec(mock)
	entryID := uuid.New()

	mock.ExpectExec("UPDATE queue_entries").
		WithArgs(entryID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, store.ReleaseClaim(context.Background(), entryID))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListStaleIncludesClaimedButUnresolved(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := newStoreWithExec(mock)
	cutoff := time.Now().Add(-10 * time.Minute)
	claimedAt := cutoff.Add(-time.Hour)
	stuck := &Entry{ID: uuid.New(), ConversationID: uuid.New(), Priority: 2, EnqueuedAt: claimedAt.Add(-time.Minute), ClaimedAt: &claimedAt}

	// An old claim stamp must not hide the entry from the sweeper.
	mock.ExpectQuery(`COALESCE\(claimed_at, enqueued_at\) < \$1`).
		WithArgs(cutoff, 50).
		WillReturnRows(entryRows(stuck))

	entries, err := store.ListStale(context.Background(), cutoff, 50)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, stuck.ID, entries[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}
