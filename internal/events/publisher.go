package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/relayhq/intake-engine/internal/tenancy"
	"github.com/relayhq/intake-engine/pkg/logging"
)

// Publisher hands message events to the intake queue.
type Publisher struct {
	queue  Queue
	logger *logging.Logger
}

// NewPublisher builds a publisher over any queue client.
func NewPublisher(queue Queue, logger *logging.Logger) *Publisher {
	if queue == nil {
		panic("events: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Publisher{queue: queue, logger: logger}
}

// Publish enqueues one message event, filling in id and timestamp when the
// caller left them empty.
func (p *Publisher) Publish(ctx context.Context, evt MessageEvent) error {
	if evt.EventID == "" {
		evt.EventID = uuid.NewString()
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}
	if evt.Direction == "" {
		evt.Direction = DirectionInbound
	}
	if evt.ChannelAccountID == "" {
		if acct, ok := tenancy.ChannelAccountFromContext(ctx); ok {
			evt.ChannelAccountID = acct
		}
	}

	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("events: failed to encode event: %w", err)
	}
	if err := p.queue.Send(ctx, string(body)); err != nil {
		return err
	}
	p.logger.Debug("message event published", "event_id", evt.EventID, "contact_id", evt.ContactID)
	return nil
}
