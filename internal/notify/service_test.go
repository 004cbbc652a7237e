package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayhq/intake-engine/internal/events"
	"github.com/relayhq/intake-engine/internal/operators"
	"github.com/relayhq/intake-engine/pkg/logging"
)

type captureSender struct {
	sent []EmailMessage
	err  error
}

func (c *captureSender) Send(_ context.Context, msg EmailMessage) error {
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, msg)
	return nil
}

type staticOperators struct {
	op *operators.Operator
}

func (s *staticOperators) Get(_ context.Context, _ uuid.UUID) (*operators.Operator, error) {
	if s.op == nil {
		return nil, operators.ErrOperatorNotFound
	}
	return s.op, nil
}

type capturePublisher struct {
	published []events.MessageEvent
}

func (c *capturePublisher) Publish(_ context.Context, evt events.MessageEvent) error {
	c.published = append(c.published, evt)
	return nil
}

func TestNotifyAssignmentSendsEmail(t *testing.T) {
	sender := &captureSender{}
	op := &operators.Operator{ID: uuid.New(), Name: "Rita", Email: "rita@example.com"}
	svc := NewService(sender, &staticOperators{op: op}, nil, logging.Default())

	svc.NotifyAssignment(context.Background(), op.ID, uuid.New())

	require.Len(t, sender.sent, 1)
	assert.Equal(t, "rita@example.com", sender.sent[0].To)
	assert.Equal(t, "New conversation assigned", sender.sent[0].Subject)
}

func TestNotifyAssignmentSwallowsSendFailure(t *testing.T) {
	sender := &captureSender{err: errors.New("ses down")}
	op := &operators.Operator{ID: uuid.New(), Name: "Rita", Email: "rita@example.com"}
	svc := NewService(sender, &staticOperators{op: op}, nil, logging.Default())

	// Must not panic or propagate.
	svc.NotifyAssignment(context.Background(), op.ID, uuid.New())
}

func TestNotifyAssignmentSkipsOperatorWithoutEmail(t *testing.T) {
	sender := &captureSender{}
	op := &operators.Operator{ID: uuid.New(), Name: "Rita"}
	svc := NewService(sender, &staticOperators{op: op}, nil, logging.Default())

	svc.NotifyAssignment(context.Background(), op.ID, uuid.New())
	assert.Empty(t, sender.sent)
}

func TestRequestIdentifierPublishesOutbound(t *testing.T) {
	pub := &capturePublisher{}
	svc := NewService(nil, nil, pub, logging.Default())

	require.NoError(t, svc.RequestIdentifier(context.Background(), uuid.New(), "whatsapp:+5511999990000"))

	require.Len(t, pub.published, 1)
	assert.Equal(t, events.DirectionOutbound, pub.published[0].Direction)
	assert.Equal(t, "whatsapp:+5511999990000", pub.published[0].ContactID)
}
