package window

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrWindowNotFound indicates no window has been opened for the conversation.
var ErrWindowNotFound = errors.New("window: not found")

// Window is the per-conversation customer-service window. Every inbound
// customer message pushes the close deadline out; outbound messages never do.
type Window struct {
	ConversationID uuid.UUID
	OpenedAt       time.Time
	ClosesAt       time.Time
	UpdatedAt      time.Time
}

// Open reports whether the window still permits free-form outbound messages.
func (w *Window) Open(now time.Time) bool {
	return now.Before(w.ClosesAt)
}

// Remaining returns how long until the window closes, zero when already
// closed.
func (w *Window) Remaining(now time.Time) time.Duration {
	if !w.Open(now) {
		return 0
	}
	return w.ClosesAt.Sub(now)
}
