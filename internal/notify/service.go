package notify

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/relayhq/intake-engine/internal/events"
	"github.com/relayhq/intake-engine/internal/operators"
	"github.com/relayhq/intake-engine/pkg/logging"
)

// OperatorLookup resolves operator contact details.
type OperatorLookup interface {
	Get(ctx context.Context, id uuid.UUID) (*operators.Operator, error)
}

// MessagePublisher pushes outbound messages back onto the channel.
type MessagePublisher interface {
	Publish(ctx context.Context, evt events.MessageEvent) error
}

const identifierPrompt = "To route you to the right person, please reply with your tax id (CPF or CNPJ)."

// Service fans notifications out to operators and contacts. All sends are
// best-effort: a notification failure never unwinds the action that caused
// it.
type Service struct {
	email     EmailSender
	operators OperatorLookup
	publisher MessagePublisher
	logger    *logging.Logger
}

// NewService creates a notification service. email and publisher may be nil;
// the corresponding notifications are then skipped.
func NewService(email EmailSender, ops OperatorLookup, publisher MessagePublisher, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{email: email, operators: ops, publisher: publisher, logger: logger}
}

// NotifyAssignment tells an operator a conversation landed on their desk.
func (s *Service) NotifyAssignment(ctx context.Context, operatorID, conversationID uuid.UUID) {
	if s.email == nil || s.operators == nil {
		return
	}
	op, err := s.operators.Get(ctx, operatorID)
	if err != nil {
		s.logger.Warn("assignment notification skipped, operator lookup failed", "operator_id", operatorID, "error", err)
		return
	}
	if op.Email == "" {
		return
	}

	msg := EmailMessage{
		To:      op.Email,
		ToName:  op.Name,
		Subject: "New conversation assigned",
		Body: fmt.Sprintf("Hi %s,\n\nConversation %s was just assigned to you. Open your inbox to reply while the customer is still active.\n",
			op.Name, conversationID),
	}
	if err := s.email.Send(ctx, msg); err != nil {
		s.logger.Warn("assignment notification failed", "operator_id", operatorID, "error", err)
	}
}

// RequestIdentifier asks the contact for an identifying code via the channel.
func (s *Service) RequestIdentifier(ctx context.Context, conversationID uuid.UUID, contactID string) error {
	if s.publisher == nil {
		s.logger.Debug("identifier prompt skipped, no publisher", "conversation_id", conversationID)
		return nil
	}
	return s.publisher.Publish(ctx, events.MessageEvent{
		ContactID: contactID,
		Direction: events.DirectionOutbound,
		Text:      identifierPrompt,
	})
}
