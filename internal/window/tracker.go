package window

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/relayhq/intake-engine/internal/observability/metrics"
	"github.com/relayhq/intake-engine/pkg/logging"
)

// Tracker maintains customer-service windows. Postgres is the source of
// truth; Redis caches the close deadline with a TTL equal to the remaining
// window, so the hot IsOpen check usually skips the database.
type Tracker struct {
	store   *Store
	redis   *redis.Client
	span    time.Duration
	metrics *metrics.IntakeMetrics
	logger  *logging.Logger
}

// NewTracker builds a window tracker. redis may be nil, in which case every
// check reads Postgres. span is the window length, 24h for WhatsApp-style
// channels.
func NewTracker(store *Store, rdb *redis.Client, span time.Duration, im *metrics.IntakeMetrics, logger *logging.Logger) *Tracker {
	if store == nil {
		panic("window: store required")
	}
	if span <= 0 {
		span = 24 * time.Hour
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Tracker{store: store, redis: rdb, span: span, metrics: im, logger: logger}
}

func windowKey(conversationID uuid.UUID) string {
	return "window:conv:" + conversationID.String()
}

// RecordInbound registers a customer message at the given instant, opening or
// extending the window to instant+span.
func (t *Tracker) RecordInbound(ctx context.Context, conversationID uuid.UUID, at time.Time) (*Window, error) {
	w, err := t.store.Extend(ctx, conversationID, at, at.Add(t.span))
	if err != nil {
		return nil, err
	}
	if w.OpenedAt.Equal(at) {
		t.metrics.ObserveWindow("opened")
	} else {
		t.metrics.ObserveWindow("extended")
	}
	t.cache(ctx, w, at)
	return w, nil
}

// RecordOutbound registers an operator message. Outbound traffic never moves
// the deadline; it only reports whether the send was inside the window so the
// caller can fall back to a template message when it was not.
func (t *Tracker) RecordOutbound(ctx context.Context, conversationID uuid.UUID, at time.Time) (bool, error) {
	open, err := t.IsOpen(ctx, conversationID, at)
	if err != nil {
		return false, err
	}
	if !open {
		t.metrics.ObserveWindow("outbound_while_closed")
	}
	return open, nil
}

// IsOpen reports whether the conversation's window permits free-form outbound
// messages at the given instant.
func (t *Tracker) IsOpen(ctx context.Context, conversationID uuid.UUID, at time.Time) (bool, error) {
	if closesAt, ok := t.cached(ctx, conversationID); ok {
		return at.Before(closesAt), nil
	}
	w, err := t.store.Get(ctx, conversationID)
	if err != nil {
		if errors.Is(err, ErrWindowNotFound) {
			return false, nil
		}
		return false, err
	}
	t.cache(ctx, w, at)
	return w.Open(at), nil
}

// Remaining returns the time left on the conversation's window, zero when
// closed or never opened.
func (t *Tracker) Remaining(ctx context.Context, conversationID uuid.UUID, at time.Time) (time.Duration, error) {
	w, err := t.store.Get(ctx, conversationID)
	if err != nil {
		if errors.Is(err, ErrWindowNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return w.Remaining(at), nil
}

// ClosingBetween exposes the store query for the sweeper.
func (t *Tracker) ClosingBetween(ctx context.Context, from, to time.Time) ([]*Window, error) {
	return t.store.ListClosingBetween(ctx, from, to)
}

func (t *Tracker) cache(ctx context.Context, w *Window, at time.Time) {
	if t.redis == nil {
		return
	}
	ttl := w.Remaining(at)
	if ttl <= 0 {
		return
	}
	if err := t.redis.Set(ctx, windowKey(w.ConversationID), w.ClosesAt.UTC().Format(time.RFC3339Nano), ttl).Err(); err != nil {
		t.logger.Warn("window cache write failed", "conversation_id", w.ConversationID, "error", err)
	}
}

func (t *Tracker) cached(ctx context.Context, conversationID uuid.UUID) (time.Time, bool) {
	if t.redis == nil {
		return time.Time{}, false
	}
	raw, err := t.redis.Get(ctx, windowKey(conversationID)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			t.logger.Warn("window cache read failed", "conversation_id", conversationID, "error", err)
		}
		return time.Time{}, false
	}
	closesAt, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false
	}
	return closesAt, true
}
