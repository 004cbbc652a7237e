package conversations

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

// Store persists conversations in PostgreSQL.
type Store struct {
	db querier
}

// NewStore builds a conversation store backed by pgxpool.
func NewStore(pool *pgxpool.Pool) *Store {
	if pool == nil {
		panic("conversations: pgx pool required")
	}
	return &Store{db: pool}
}

func newStoreWithExec(exec querier) *Store {
	if exec == nil {
		panic("conversations: exec required")
	}
	return &Store{db: exec}
}

const conversationColumns = `
	id, contact_id, channel_account_id, first_message, state, assigned_operator_id, queue_id,
	priority_tag, COALESCE(sentiment, ''), intent, triage_attempts, next_attempt_at,
	identifier_requested, identifier_scan_count, created_at, updated_at, closed_at
`

// Create inserts a conversation in the new state, returning the stored row.
func (s *Store) Create(ctx context.Context, contactID, channelAccountID, firstMessage string) (*Conversation, error) {
	id := uuid.New()
	query := `
		INSERT INTO conversations (id, contact_id, channel_account_id, first_message, state)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at
	`
	var createdAt, updatedAt time.Time
	if err := s.db.QueryRow(ctx, query, id, contactID, channelAccountID, firstMessage, StateNew).Scan(&createdAt, &updatedAt); err != nil {
		return nil, fmt.Errorf("conversations: insert failed: %w", err)
	}
	return &Conversation{
		ID:               id,
		ContactID:        contactID,
		ChannelAccountID: channelAccountID,
		FirstMessage:     firstMessage,
		State:            StateNew,
		CreatedAt:        createdAt,
		UpdatedAt:        updatedAt,
	}, nil
}

// Get loads a conversation by id.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Conversation, error) {
	row := s.db.QueryRow(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = $1`, id)
	conv, err := scanConversation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("conversations: select failed: %w", err)
	}
	return conv, nil
}

// FindOpenByContact returns the open conversation for a contact on a channel
// account, or ErrConversationNotFound.
func (s *Store) FindOpenByContact(ctx context.Context, contactID, channelAccountID string) (*Conversation, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE contact_id = $1 AND channel_account_id = $2 AND closed_at IS NULL
		ORDER BY created_at DESC
		LIMIT 1
	`, contactID, channelAccountID)
	conv, err := scanConversation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("conversations: select failed: %w", err)
	}
	return conv, nil
}

// TransitionState moves a conversation between states as a conditional write.
// The update only lands if the row is still in the expected state, which
// serializes competing triage invocations for the same conversation.
func (s *Store) TransitionState(ctx context.Context, id uuid.UUID, from, to State) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	ct, err := s.db.Exec(ctx, `
		UPDATE conversations
		SET state = $3, updated_at = now()
		WHERE id = $1 AND state = $2
	`, id, from, to)
	if err != nil {
		return fmt.Errorf("conversations: transition failed: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrStateConflict
	}
	return nil
}

// MarkErrored parks a conversation in the errored state with retry bookkeeping.
func (s *Store) MarkErrored(ctx context.Context, id uuid.UUID, attempts int, nextAttemptAt time.Time) error {
	ct, err := s.db.Exec(ctx, `
		UPDATE conversations
		SET state = $2, triage_attempts = $3, next_attempt_at = $4, updated_at = now()
		WHERE id = $1 AND closed_at IS NULL
	`, id, StateErrored, attempts, nextAttemptAt)
	if err != nil {
		return fmt.Errorf("conversations: mark errored failed: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrConversationNotFound
	}
	return nil
}

// MarkIdentifierRequested records that the identifying-code prompt was sent.
func (s *Store) MarkIdentifierRequested(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.Exec(ctx, `
		UPDATE conversations
		SET identifier_requested = TRUE, state = $2, updated_at = now()
		WHERE id = $1
	`, id, StateAwaitingIdentifier)
	if err != nil {
		return fmt.Errorf("conversations: mark identifier requested failed: %w", err)
	}
	return nil
}

// IncrementIdentifierScans bumps the scanned-message counter and returns the
// new count.
func (s *Store) IncrementIdentifierScans(ctx context.Context, id uuid.UUID) (int, error) {
	var count int
	err := s.db.QueryRow(ctx, `
		UPDATE conversations
		SET identifier_scan_count = identifier_scan_count + 1, updated_at = now()
		WHERE id = $1
		RETURNING identifier_scan_count
	`, id).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("conversations: increment scans failed: %w", err)
	}
	return count, nil
}

// SetClassification stores the classifier verdict on the conversation.
func (s *Store) SetClassification(ctx context.Context, id uuid.UUID, intent, sentiment string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE conversations
		SET intent = $2, sentiment = NULLIF($3, ''), updated_at = now()
		WHERE id = $1
	`, id, intent, sentiment)
	if err != nil {
		return fmt.Errorf("conversations: set classification failed: %w", err)
	}
	return nil
}

// MarkQueued records that the conversation is waiting in a queue.
func (s *Store) MarkQueued(ctx context.Context, id uuid.UUID, queueID *uuid.UUID) error {
	_, err := s.db.Exec(ctx, `
		UPDATE conversations
		SET state = $2, queue_id = $3, next_attempt_at = NULL, updated_at = now()
		WHERE id = $1 AND closed_at IS NULL
	`, id, StateQueued, queueID)
	if err != nil {
		return fmt.Errorf("conversations: mark queued failed: %w", err)
	}
	return nil
}

// Unassign clears the operator assignment and puts the conversation back in
// the queued state. Used when an operator's conversations are released.
func (s *Store) Unassign(ctx context.Context, id uuid.UUID) error {
	ct, err := s.db.Exec(ctx, `
		UPDATE conversations
		SET assigned_operator_id = NULL, state = $2, updated_at = now()
		WHERE id = $1 AND assigned_operator_id IS NOT NULL AND closed_at IS NULL
	`, id, StateQueued)
	if err != nil {
		return fmt.Errorf("conversations: unassign failed: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrStateConflict
	}
	return nil
}

// Close marks the conversation closed. Conversations are never hard-deleted.
func (s *Store) Close(ctx context.Context, id uuid.UUID) error {
	ct, err := s.db.Exec(ctx, `
		UPDATE conversations
		SET state = $2, closed_at = now(), updated_at = now()
		WHERE id = $1 AND closed_at IS NULL
	`, id, StateClosed)
	if err != nil {
		return fmt.Errorf("conversations: close failed: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrConversationNotFound
	}
	return nil
}

// ListErroredDue returns errored conversations whose retry deadline passed.
func (s *Store) ListErroredDue(ctx context.Context, now time.Time, limit int) ([]*Conversation, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE state = $1 AND next_attempt_at IS NOT NULL AND next_attempt_at <= $2 AND closed_at IS NULL
		ORDER BY next_attempt_at ASC
		LIMIT $3
	`, StateErrored, now, limit)
	if err != nil {
		return nil, fmt.Errorf("conversations: list errored failed: %w", err)
	}
	defer rows.Close()
	return scanConversations(rows)
}

// ListOpenByOperator returns open conversations assigned to an operator.
func (s *Store) ListOpenByOperator(ctx context.Context, operatorID uuid.UUID) ([]*Conversation, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE assigned_operator_id = $1 AND closed_at IS NULL
		ORDER BY created_at ASC
	`, operatorID)
	if err != nil {
		return nil, fmt.Errorf("conversations: list by operator failed: %w", err)
	}
	defer rows.Close()
	return scanConversations(rows)
}

// OperatorsWithAbandonedLoad returns ids of offline operators that still hold
// open conversations. The sweeper re-queues those conversations.
func (s *Store) OperatorsWithAbandonedLoad(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := s.db.Query(ctx, `
		SELECT DISTINCT c.assigned_operator_id
		FROM conversations c
		JOIN operators o ON o.id = c.assigned_operator_id
		WHERE c.closed_at IS NULL AND o.status = 'offline'
	`)
	if err != nil {
		return nil, fmt.Errorf("conversations: abandoned load query failed: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("conversations: scan operator id failed: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanConversation(row pgx.Row) (*Conversation, error) {
	var c Conversation
	if err := row.Scan(
		&c.ID, &c.ContactID, &c.ChannelAccountID, &c.FirstMessage, &c.State, &c.AssignedOperatorID, &c.QueueID,
		&c.PriorityTag, &c.Sentiment, &c.Intent, &c.TriageAttempts, &c.NextAttemptAt,
		&c.IdentifierRequested, &c.IdentifierScanCount, &c.CreatedAt, &c.UpdatedAt, &c.ClosedAt,
	); err != nil {
		return nil, err
	}
	return &c, nil
}

func scanConversations(rows pgx.Rows) ([]*Conversation, error) {
	var out []*Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("conversations: scan failed: %w", err)
		}
		out = append(out, conv)
	}
	return out, rows.Err()
}
