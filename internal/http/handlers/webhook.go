package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/relayhq/intake-engine/internal/events"
	"github.com/relayhq/intake-engine/internal/tenancy"
	"github.com/relayhq/intake-engine/pkg/logging"
)

// EventPublisher pushes message events onto the intake queue.
type EventPublisher interface {
	Publish(ctx context.Context, evt events.MessageEvent) error
}

// ChannelWebhookHandler receives message callbacks from the messaging channel
// provider and converts them into intake events. The webhook only validates
// and enqueues; all triage happens in the worker.
type ChannelWebhookHandler struct {
	publisher EventPublisher
	logger    *logging.Logger
}

// NewChannelWebhookHandler creates the channel webhook handler.
func NewChannelWebhookHandler(publisher EventPublisher, logger *logging.Logger) *ChannelWebhookHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &ChannelWebhookHandler{publisher: publisher, logger: logger}
}

type webhookMessage struct {
	EventID          string    `json:"event_id"`
	ContactID        string    `json:"contact_id"`
	ChannelAccountID string    `json:"channel_account_id"`
	Origin           string    `json:"origin"`
	Direction        string    `json:"direction"`
	Text             string    `json:"text"`
	OccurredAt       time.Time `json:"occurred_at"`
}

// HandleMessage accepts one inbound or outbound message notification.
// POST /webhooks/messages
func (h *ChannelWebhookHandler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	var msg webhookMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(msg.ContactID) == "" || strings.TrimSpace(msg.Text) == "" {
		http.Error(w, "contact_id and text are required", http.StatusBadRequest)
		return
	}

	direction := events.Direction(msg.Direction)
	if direction == "" {
		direction = events.DirectionInbound
	}
	if direction != events.DirectionInbound && direction != events.DirectionOutbound {
		http.Error(w, "unknown direction", http.StatusBadRequest)
		return
	}

	evt := events.MessageEvent{
		EventID:          msg.EventID,
		ContactID:        msg.ContactID,
		ChannelAccountID: msg.ChannelAccountID,
		Origin:           msg.Origin,
		Direction:        direction,
		Text:             msg.Text,
		OccurredAt:       msg.OccurredAt,
	}
	ctx := tenancy.WithChannelAccount(r.Context(), msg.ChannelAccountID)
	if err := h.publisher.Publish(ctx, evt); err != nil {
		h.logger.Error("webhook enqueue failed", "contact_id", msg.ContactID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "accepted"})
}
