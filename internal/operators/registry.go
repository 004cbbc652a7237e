package operators

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/relayhq/intake-engine/pkg/logging"
)

// AvailabilityListener is invoked when an operator becomes able to take work.
// The distribution matcher registers itself here so a freed slot immediately
// drains the wait queue.
type AvailabilityListener func(ctx context.Context, operatorID uuid.UUID)

// Registry tracks operator availability and fans out availability triggers.
type Registry struct {
	store    *Store
	presence *Presence
	logger   *logging.Logger

	onAvailable AvailabilityListener
}

// NewRegistry builds the operator registry.
func NewRegistry(store *Store, presence *Presence, logger *logging.Logger) *Registry {
	if store == nil {
		panic("operators: store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Registry{store: store, presence: presence, logger: logger}
}

// OnAvailable registers the callback fired when an operator goes online or
// frees a slot.
func (r *Registry) OnAvailable(fn AvailabilityListener) {
	r.onAvailable = fn
}

// SetStatus changes the operator's status. Going online refreshes the
// heartbeat and triggers queue draining for that operator.
func (r *Registry) SetStatus(ctx context.Context, id uuid.UUID, status Status) error {
	if err := r.store.SetStatus(ctx, id, status); err != nil {
		return err
	}
	r.logger.Info("operator status changed", "operator_id", id, "status", status)

	switch status {
	case StatusOnline:
		if err := r.presence.Heartbeat(ctx, id); err != nil {
			r.logger.Warn("heartbeat after status change failed", "operator_id", id, "error", err)
		}
		r.notifyAvailable(ctx, id)
	case StatusOffline:
		if err := r.presence.Drop(ctx, id); err != nil {
			r.logger.Warn("presence drop failed", "operator_id", id, "error", err)
		}
	}
	return nil
}

// Heartbeat refreshes the operator's presence key.
func (r *Registry) Heartbeat(ctx context.Context, id uuid.UUID) error {
	return r.presence.Heartbeat(ctx, id)
}

// Get returns the operator with derived load.
func (r *Registry) Get(ctx context.Context, id uuid.UUID) (*Operator, error) {
	return r.store.Get(ctx, id)
}

// CurrentLoad returns the operator's derived open-assignment count.
func (r *Registry) CurrentLoad(ctx context.Context, id uuid.UUID) (int, error) {
	return r.store.CurrentLoad(ctx, id)
}

// EligibleOperators returns candidates able to take a conversation right now:
// online in the database, alive per presence, inside working hours, with free
// capacity, and (when a queue is given) members of that queue. Ordering is
// ascending load with longest-idle tie-break, which the store query provides.
func (r *Registry) EligibleOperators(ctx context.Context, queueID *uuid.UUID, now time.Time) ([]*Operator, error) {
	ops, err := r.store.Eligible(ctx, queueID)
	if err != nil {
		return nil, fmt.Errorf("operators: eligible lookup failed: %w", err)
	}
	out := ops[:0]
	for _, op := range ops {
		if !op.WithinWorkingHours(now) {
			continue
		}
		if !r.presence.Alive(ctx, op.ID) {
			continue
		}
		out = append(out, op)
	}
	return out, nil
}

// ConversationFreed signals that an operator released a conversation slot.
func (r *Registry) ConversationFreed(ctx context.Context, id uuid.UUID) {
	r.notifyAvailable(ctx, id)
}

func (r *Registry) notifyAvailable(ctx context.Context, id uuid.UUID) {
	if r.onAvailable == nil {
		return
	}
	r.onAvailable(ctx, id)
}
