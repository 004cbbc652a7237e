package waitqueue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store persists queue entries in PostgreSQL.
type Store struct {
	db querier
}

// NewStore builds a queue-entry store backed by pgxpool.
func NewStore(pool *pgxpool.Pool) *Store {
	if pool == nil {
		panic("waitqueue: pgx pool required")
	}
	return &Store{db: pool}
}

func newStoreWithExec(exec querier) *Store {
	if exec == nil {
		panic("waitqueue: exec required")
	}
	return &Store{db: exec}
}

const entryColumns = `id, conversation_id, queue_id, priority, priority_reason, enqueued_at, claimed_at, resolved_at`

// Enqueue creates an unresolved entry for the conversation. If one already
// exists the existing entry is returned and created is false, so concurrent
// enqueues (triage racing the sweeper) stay idempotent.
func (s *Store) Enqueue(ctx context.Context, conversationID uuid.UUID, queueID *uuid.UUID, priority int, reason string) (*Entry, bool, error) {
	id := uuid.New()
	row := s.db.QueryRow(ctx, `
		INSERT INTO queue_entries (id, conversation_id, queue_id, priority, priority_reason)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (conversation_id) WHERE resolved_at IS NULL DO NOTHING
		RETURNING `+entryColumns+`
	`, id, conversationID, queueID, priority, reason)

	entry, err := scanEntry(row)
	if err == nil {
		return entry, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("waitqueue: enqueue failed: %w", err)
	}

	existing, err := s.FindOpenByConversation(ctx, conversationID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// FindOpenByConversation returns the unresolved entry for a conversation.
func (s *Store) FindOpenByConversation(ctx context.Context, conversationID uuid.UUID) (*Entry, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+entryColumns+`
		FROM queue_entries
		WHERE conversation_id = $1 AND resolved_at IS NULL
	`, conversationID)
	entry, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEntryNotFound
		}
		return nil, fmt.Errorf("waitqueue: select failed: %w", err)
	}
	return entry, nil
}

// PeekHighest returns the most urgent unresolved entry, scoped to a queue when
// one is given. Ordering is priority descending with FIFO tie-break.
func (s *Store) PeekHighest(ctx context.Context, queueID *uuid.UUID) (*Entry, error) {
	query := `
		SELECT ` + entryColumns + `
		FROM queue_entries
		WHERE resolved_at IS NULL
	`
	args := []any{}
	if queueID != nil {
		query += ` AND queue_id = $1`
		args = append(args, *queueID)
	}
	query += ` ORDER BY priority DESC, enqueued_at ASC LIMIT 1`

	entry, err := scanEntry(s.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEntryNotFound
		}
		return nil, fmt.Errorf("waitqueue: peek failed: %w", err)
	}
	return entry, nil
}

// PeekHighestFor returns the most urgent unresolved entry an operator may
// take: entries with no target queue, or entries targeting one of the
// operator's queues.
func (s *Store) PeekHighestFor(ctx context.Context, operatorID uuid.UUID) (*Entry, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+entryColumns+`
		FROM queue_entries qe
		WHERE qe.resolved_at IS NULL
		  AND (qe.queue_id IS NULL OR EXISTS (
		      SELECT 1 FROM operator_queues oq
		      WHERE oq.operator_id = $1 AND oq.queue_id = qe.queue_id
		  ))
		ORDER BY qe.priority DESC, qe.enqueued_at ASC
		LIMIT 1
	`, operatorID)
	entry, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEntryNotFound
		}
		return nil, fmt.Errorf("waitqueue: peek for operator failed: %w", err)
	}
	return entry, nil
}

// MarkClaimed stamps the instant a match attempt started, once.
func (s *Store) MarkClaimed(ctx context.Context, id uuid.UUID) error {
	ct, err := s.db.Exec(ctx, `
		UPDATE queue_entries
		SET claimed_at = COALESCE(claimed_at, now())
		WHERE id = $1 AND resolved_at IS NULL
	`, id)
	if err != nil {
		return fmt.Errorf("waitqueue: mark claimed failed: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrEntryResolved
	}
	return nil
}

// ReleaseClaim clears the claim stamp after a failed match so the entry is
// visible to the sweeper and to later match attempts again.
func (s *Store) ReleaseClaim(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.Exec(ctx, `
		UPDATE queue_entries
		SET claimed_at = NULL
		WHERE id = $1 AND resolved_at IS NULL
	`, id)
	if err != nil {
		return fmt.Errorf("waitqueue: release claim failed: %w", err)
	}
	return nil
}

// RaisePriority lifts an entry's priority, never lowering it.
func (s *Store) RaisePriority(ctx context.Context, id uuid.UUID, priority int, reason string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE queue_entries
		SET priority = $2, priority_reason = $3
		WHERE id = $1 AND resolved_at IS NULL AND priority < $2
	`, id, priority, reason)
	if err != nil {
		return fmt.Errorf("waitqueue: raise priority failed: %w", err)
	}
	return nil
}

// ListUnresolved returns waiting entries in match order.
func (s *Store) ListUnresolved(ctx context.Context, queueID *uuid.UUID, limit int) ([]*Entry, error) {
	query := `
		SELECT ` + entryColumns + `
		FROM queue_entries
		WHERE resolved_at IS NULL
	`
	args := []any{}
	n := 1
	if queueID != nil {
		query += fmt.Sprintf(" AND queue_id = $%d", n)
		args = append(args, *queueID)
		n++
	}
	query += fmt.Sprintf(" ORDER BY priority DESC, enqueued_at ASC LIMIT $%d", n)
	args = append(args, limit)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("waitqueue: list failed: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// ListStale returns unresolved entries waiting since before the cutoff.
// These are the sweeper's starvation candidates. A lingering claim stamp
// does not hide an entry: an entry claimed long ago but never resolved is
// exactly the kind of stranded work the sweeper exists to recover.
func (s *Store) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]*Entry, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+entryColumns+`
		FROM queue_entries
		WHERE resolved_at IS NULL AND COALESCE(claimed_at, enqueued_at) < $1
		ORDER BY enqueued_at ASC
		LIMIT $2
	`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("waitqueue: list stale failed: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func scanEntry(row pgx.Row) (*Entry, error) {
	var e Entry
	if err := row.Scan(
		&e.ID, &e.ConversationID, &e.QueueID, &e.Priority, &e.PriorityReason,
		&e.EnqueuedAt, &e.ClaimedAt, &e.ResolvedAt,
	); err != nil {
		return nil, err
	}
	return &e, nil
}

func scanEntries(rows pgx.Rows) ([]*Entry, error) {
	var out []*Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("waitqueue: scan failed: %w", err)
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}
