package distribution

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/relayhq/intake-engine/internal/conversations"
)

// ErrAssignmentConflict indicates the conditional assignment lost a race:
// the entry was already resolved, the conversation already assigned, or the
// operator no longer had a free slot at commit time.
var ErrAssignmentConflict = errors.New("distribution: assignment conflict")

type db interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Assigner performs the transactional conversation-to-operator assignment.
// All three conditions (entry unresolved, conversation unassigned, operator
// under capacity) are checked inside one transaction with a row lock on the
// operator, so exactly one concurrent attempt can win.
type Assigner struct {
	db db
}

// NewAssigner builds an assigner. The db is a pgxpool.Pool in production and
// a pgxmock pool in tests.
func NewAssigner(db db) *Assigner {
	if db == nil {
		panic("distribution: db required")
	}
	return &Assigner{db: db}
}

// AssignRequest describes one assignment attempt.
type AssignRequest struct {
	ConversationID uuid.UUID
	OperatorID     uuid.UUID
	EntryID        *uuid.UUID // nil for direct (wallet/manual) assignment
	QueueID        *uuid.UUID
	// AllowOverflow permits exceeding capacity by one conversation. Used for
	// owned-account (wallet) assignment only.
	AllowOverflow bool
}

// Assign atomically routes a conversation to an operator. It returns
// ErrAssignmentConflict when any conditional check fails, leaving all state
// untouched.
func (a *Assigner) Assign(ctx context.Context, req AssignRequest) error {
	tx, err := a.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("distribution: begin failed: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Lock the operator row so capacity checks for the same operator
	// serialize, then verify status and derived load.
	var status string
	var capacity, load int
	err = tx.QueryRow(ctx, `
		SELECT o.status, o.capacity,
		       (SELECT COUNT(*) FROM conversations c WHERE c.assigned_operator_id = o.id AND c.closed_at IS NULL)
		FROM operators o
		WHERE o.id = $1
		FOR UPDATE OF o
	`, req.OperatorID).Scan(&status, &capacity, &load)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrAssignmentConflict
		}
		return fmt.Errorf("distribution: operator lock failed: %w", err)
	}
	if status != "online" {
		return ErrAssignmentConflict
	}
	limit := capacity
	if req.AllowOverflow {
		limit = capacity + 1
	}
	if load >= limit {
		return ErrAssignmentConflict
	}

	ct, err := tx.Exec(ctx, `
		UPDATE conversations
		SET assigned_operator_id = $2, state = $3, queue_id = $4,
		    next_attempt_at = NULL, updated_at = now()
		WHERE id = $1 AND assigned_operator_id IS NULL AND closed_at IS NULL
	`, req.ConversationID, req.OperatorID, conversations.StateRouted, req.QueueID)
	if err != nil {
		return fmt.Errorf("distribution: conversation update failed: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrAssignmentConflict
	}

	if req.EntryID != nil {
		ct, err = tx.Exec(ctx, `
			UPDATE queue_entries
			SET resolved_at = now(), claimed_at = COALESCE(claimed_at, now())
			WHERE id = $1 AND resolved_at IS NULL
		`, *req.EntryID)
		if err != nil {
			return fmt.Errorf("distribution: entry resolve failed: %w", err)
		}
		if ct.RowsAffected() == 0 {
			return ErrAssignmentConflict
		}
	}

	if _, err = tx.Exec(ctx, `
		UPDATE operators SET last_assigned_at = now(), updated_at = now() WHERE id = $1
	`, req.OperatorID); err != nil {
		return fmt.Errorf("distribution: operator stamp failed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("distribution: commit failed: %w", err)
	}
	return nil
}
