package window

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

// Store persists conversation windows in PostgreSQL.
type Store struct {
	db querier
}

// NewStore builds a window store backed by pgxpool.
func NewStore(pool *pgxpool.Pool) *Store {
	if pool == nil {
		panic("window: pgx pool required")
	}
	return &Store{db: pool}
}

func newStoreWithExec(exec querier) *Store {
	if exec == nil {
		panic("window: exec required")
	}
	return &Store{db: exec}
}

const windowColumns = `conversation_id, opened_at, closes_at, updated_at`

// Extend opens or pushes out the window so it closes at the given instant.
// GREATEST keeps the deadline monotonic: a delayed message event can never
// shrink a window another event already extended.
func (s *Store) Extend(ctx context.Context, conversationID uuid.UUID, openedAt, closesAt time.Time) (*Window, error) {
	row := s.db.QueryRow(ctx, `
		INSERT INTO conversation_windows (conversation_id, opened_at, closes_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (conversation_id) DO UPDATE
		SET closes_at = GREATEST(conversation_windows.closes_at, EXCLUDED.closes_at),
		    updated_at = now()
		RETURNING `+windowColumns+`
	`, conversationID, openedAt, closesAt)
	w, err := scanWindow(row)
	if err != nil {
		return nil, fmt.Errorf("window: extend failed: %w", err)
	}
	return w, nil
}

// Get loads the window for a conversation.
func (s *Store) Get(ctx context.Context, conversationID uuid.UUID) (*Window, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+windowColumns+`
		FROM conversation_windows
		WHERE conversation_id = $1
	`, conversationID)
	w, err := scanWindow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWindowNotFound
		}
		return nil, fmt.Errorf("window: select failed: %w", err)
	}
	return w, nil
}

// ListClosingBetween returns windows that close inside (from, to]. The
// sweeper uses this to boost conversations about to lose their reply
// channel.
func (s *Store) ListClosingBetween(ctx context.Context, from, to time.Time) ([]*Window, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+windowColumns+`
		FROM conversation_windows
		WHERE closes_at > $1 AND closes_at <= $2
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("window: list closing failed: %w", err)
	}
	defer rows.Close()

	var out []*Window
	for rows.Next() {
		w, err := scanWindow(rows)
		if err != nil {
			return nil, fmt.Errorf("window: scan failed: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func scanWindow(row pgx.Row) (*Window, error) {
	var w Window
	if err := row.Scan(&w.ConversationID, &w.OpenedAt, &w.ClosesAt, &w.UpdatedAt); err != nil {
		return nil, err
	}
	return &w, nil
}
