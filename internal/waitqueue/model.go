package waitqueue

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrEntryNotFound indicates the requested queue entry does not exist.
var ErrEntryNotFound = errors.New("waitqueue: entry not found")

// ErrEntryResolved indicates a conditional update hit an already-resolved entry.
var ErrEntryResolved = errors.New("waitqueue: entry already resolved")

// Entry is a conversation waiting for an operator. A conversation has at most
// one unresolved entry at any time, enforced by a partial unique index.
type Entry struct {
	ID             uuid.UUID
	ConversationID uuid.UUID
	QueueID        *uuid.UUID // nil means any queue
	Priority       int        // higher is more urgent
	PriorityReason string
	EnqueuedAt     time.Time
	ClaimedAt      *time.Time
	ResolvedAt     *time.Time
}

// Resolved reports whether the entry has been consumed by an assignment.
func (e *Entry) Resolved() bool {
	return e.ResolvedAt != nil
}

// WaitingSince returns how long the entry has been waiting as of now.
func (e *Entry) WaitingSince(now time.Time) time.Duration {
	return now.Sub(e.EnqueuedAt)
}
