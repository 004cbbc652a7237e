package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relayhq/intake-engine/internal/conversations"
	"github.com/relayhq/intake-engine/internal/window"
	"github.com/relayhq/intake-engine/pkg/logging"
)

const (
	defaultWorkers     = 4
	defaultReceiveWait = 10
	defaultReceiveMax  = 10
)

// IntakeHandler runs triage for inbound messages.
type IntakeHandler interface {
	Intake(ctx context.Context, contactID, channelAccountID, origin, text string) (*conversations.Conversation, error)
}

// ConversationFinder resolves the open conversation for outbound events.
type ConversationFinder interface {
	FindOpenByContact(ctx context.Context, contactID, channelAccountID string) (*conversations.Conversation, error)
}

// WindowRecorder tracks the customer-service window per conversation.
type WindowRecorder interface {
	RecordInbound(ctx context.Context, conversationID uuid.UUID, at time.Time) (*window.Window, error)
	RecordOutbound(ctx context.Context, conversationID uuid.UUID, at time.Time) (bool, error)
}

// Deduper filters events that were already consumed on a previous delivery.
type Deduper interface {
	AlreadyProcessed(ctx context.Context, eventID string) (bool, error)
	MarkProcessed(ctx context.Context, eventID string) (bool, error)
}

// ConsumerOption customizes the consumer pool.
type ConsumerOption func(*consumerConfig)

type consumerConfig struct {
	workers          int
	receiveWaitSecs  int
	receiveBatchSize int
	deduper          Deduper
}

// WithWorkers sets the number of concurrent consumer goroutines.
func WithWorkers(n int) ConsumerOption {
	return func(c *consumerConfig) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithReceiveBatch sets the max messages fetched per receive call.
func WithReceiveBatch(n int) ConsumerOption {
	return func(c *consumerConfig) {
		if n > 0 && n <= 10 {
			c.receiveBatchSize = n
		}
	}
}

// WithDeduper enables event-id deduplication for at-least-once queues.
func WithDeduper(d Deduper) ConsumerOption {
	return func(c *consumerConfig) { c.deduper = d }
}

// Consumer pulls message events off the queue and drives triage and window
// tracking. Workers start immediately and run until Shutdown.
type Consumer struct {
	queue   Queue
	intake  IntakeHandler
	finder  ConversationFinder
	windows WindowRecorder
	logger  *logging.Logger
	cfg     consumerConfig

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewConsumer wires a consumer pool over the queue.
func NewConsumer(queue Queue, intake IntakeHandler, finder ConversationFinder, windows WindowRecorder, logger *logging.Logger, opts ...ConsumerOption) *Consumer {
	if queue == nil {
		panic("events: queue cannot be nil")
	}
	if intake == nil {
		panic("events: intake handler cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}

	cfg := consumerConfig{
		workers:          defaultWorkers,
		receiveWaitSecs:  defaultReceiveWait,
		receiveBatchSize: defaultReceiveMax,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Consumer{
		queue:   queue,
		intake:  intake,
		finder:  finder,
		windows: windows,
		logger:  logger,
		cfg:     cfg,
		ctx:     ctx,
		cancel:  cancel,
	}

	for i := 0; i < cfg.workers; i++ {
		c.wg.Add(1)
		go c.runWorker(i + 1)
	}
	return c
}

// Shutdown stops the workers and waits for in-flight events.
func (c *Consumer) Shutdown(ctx context.Context) error {
	c.cancel()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (c *Consumer) runWorker(workerID int) {
	defer c.wg.Done()
	c.logger.Debug("event consumer started", "worker_id", workerID)

	backoff := time.Second
	for {
		select {
		case <-c.ctx.Done():
			c.logger.Debug("event consumer stopping", "worker_id", workerID)
			return
		default:
		}

		messages, err := c.queue.Receive(c.ctx, c.cfg.receiveBatchSize, c.cfg.receiveWaitSecs)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			c.logger.Error("failed to receive message events", "error", err, "worker_id", workerID)
			time.Sleep(backoff)
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, msg := range messages {
			c.handle(msg)
		}
	}
}

func (c *Consumer) handle(msg Message) {
	var evt MessageEvent
	if err := json.Unmarshal([]byte(msg.Body), &evt); err != nil {
		c.logger.Error("failed to decode message event", "error", err)
		c.deleteMessage(msg)
		return
	}

	if c.cfg.deduper != nil && evt.EventID != "" {
		seen, err := c.cfg.deduper.AlreadyProcessed(c.ctx, evt.EventID)
		if err != nil {
			c.logger.Error("dedup check failed", "event_id", evt.EventID, "error", err)
			return
		}
		if seen {
			c.logger.Debug("duplicate event delivery skipped", "event_id", evt.EventID)
			c.deleteMessage(msg)
			return
		}
	}

	if err := c.process(c.ctx, evt); err != nil {
		// Leave the message on the queue for redelivery.
		c.logger.Error("message event processing failed", "event_id", evt.EventID, "error", err)
		return
	}
	if c.cfg.deduper != nil && evt.EventID != "" {
		if _, err := c.cfg.deduper.MarkProcessed(c.ctx, evt.EventID); err != nil {
			c.logger.Warn("dedup record failed", "event_id", evt.EventID, "error", err)
		}
	}
	c.deleteMessage(msg)
}

func (c *Consumer) deleteMessage(msg Message) {
	if err := c.queue.Delete(c.ctx, msg.ReceiptHandle); err != nil {
		c.logger.Warn("failed to delete message", "error", err)
	}
}

func (c *Consumer) process(ctx context.Context, evt MessageEvent) error {
	at := evt.OccurredAt
	if at.IsZero() {
		at = time.Now().UTC()
	}

	switch evt.Direction {
	case DirectionOutbound:
		return c.processOutbound(ctx, evt, at)
	default:
		return c.processInbound(ctx, evt, at)
	}
}

func (c *Consumer) processInbound(ctx context.Context, evt MessageEvent, at time.Time) error {
	conv, err := c.intake.Intake(ctx, evt.ContactID, evt.ChannelAccountID, evt.Origin, evt.Text)
	if err != nil {
		return err
	}
	if c.windows != nil {
		if _, err := c.windows.RecordInbound(ctx, conv.ID, at); err != nil {
			c.logger.Warn("window update failed", "conversation_id", conv.ID, "error", err)
		}
	}
	return nil
}

func (c *Consumer) processOutbound(ctx context.Context, evt MessageEvent, at time.Time) error {
	if c.finder == nil || c.windows == nil {
		return nil
	}
	conv, err := c.finder.FindOpenByContact(ctx, evt.ContactID, evt.ChannelAccountID)
	if err != nil {
		if errors.Is(err, conversations.ErrConversationNotFound) {
			return nil
		}
		return err
	}
	open, err := c.windows.RecordOutbound(ctx, conv.ID, at)
	if err != nil {
		return err
	}
	if !open {
		c.logger.Warn("outbound message outside the service window", "conversation_id", conv.ID)
	}
	return nil
}
