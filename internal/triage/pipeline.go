package triage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/relayhq/intake-engine/internal/contacts"
	"github.com/relayhq/intake-engine/internal/conversations"
	"github.com/relayhq/intake-engine/internal/distribution"
	"github.com/relayhq/intake-engine/internal/observability/metrics"
	"github.com/relayhq/intake-engine/internal/routing"
	"github.com/relayhq/intake-engine/internal/waitqueue"
	"github.com/relayhq/intake-engine/pkg/logging"
)

var triageTracer = otel.Tracer("intake/triage")

// ConversationStore is the slice of the conversation store the pipeline uses.
type ConversationStore interface {
	Get(ctx context.Context, id uuid.UUID) (*conversations.Conversation, error)
	Create(ctx context.Context, contactID, channelAccountID, firstMessage string) (*conversations.Conversation, error)
	FindOpenByContact(ctx context.Context, contactID, channelAccountID string) (*conversations.Conversation, error)
	TransitionState(ctx context.Context, id uuid.UUID, from, to conversations.State) error
	MarkErrored(ctx context.Context, id uuid.UUID, attempts int, nextAttemptAt time.Time) error
	MarkIdentifierRequested(ctx context.Context, id uuid.UUID) error
	IncrementIdentifierScans(ctx context.Context, id uuid.UUID) (int, error)
	SetClassification(ctx context.Context, id uuid.UUID, intent, sentiment string) error
	MarkQueued(ctx context.Context, id uuid.UUID, queueID *uuid.UUID) error
}

// ContactDirectory resolves contacts, wallet ownership and customer links.
type ContactDirectory interface {
	Ensure(ctx context.Context, id, channelOrigin string) (*contacts.Contact, error)
	Get(ctx context.Context, id string) (*contacts.Contact, error)
	GetCustomer(ctx context.Context, id uuid.UUID) (*contacts.Customer, error)
	LinkByTaxID(ctx context.Context, contactID, taxID string) (*contacts.Customer, error)
}

// Distributor is the slice of the matcher the pipeline drives.
type Distributor interface {
	AssignOwned(ctx context.Context, conversationID, operatorID uuid.UUID) error
	AssignDirect(ctx context.Context, conversationID, operatorID uuid.UUID) error
	MatchEntry(ctx context.Context, entry *waitqueue.Entry) error
}

// Enqueuer places conversations on the wait queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, conversationID uuid.UUID, queueID *uuid.UUID, priority int, reason string) (*waitqueue.Entry, bool, error)
}

// RuleEvaluator applies routing rules to conversation facts.
type RuleEvaluator interface {
	Evaluate(ctx context.Context, in routing.Input) (*routing.Decision, error)
}

// IdentifierPrompter asks the contact for an identifying code. Implementations
// send the outbound message; a nil prompter just records the request.
type IdentifierPrompter interface {
	RequestIdentifier(ctx context.Context, conversationID uuid.UUID, contactID string) error
}

// Config carries the pipeline tuning knobs.
type Config struct {
	MaxAttempts         int
	BackoffBase         time.Duration
	BackoffCap          time.Duration
	IdentifierScanLimit int
	DefaultQueueID      uuid.UUID
	FallbackPriority    int
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 30 * time.Second
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = 30 * time.Minute
	}
	if c.IdentifierScanLimit <= 0 {
		c.IdentifierScanLimit = 3
	}
	if c.FallbackPriority <= 0 {
		c.FallbackPriority = 80
	}
	return c
}

// Pipeline drives a conversation from first contact to an operator or a queue
// slot. Every stage transition is a conditional write, so two pipeline
// invocations for the same conversation cannot double-process it.
type Pipeline struct {
	convs      ConversationStore
	contacts   ContactDirectory
	classifier Classifier
	rules      RuleEvaluator
	dist       Distributor
	queue      Enqueuer
	prompter   IdentifierPrompter
	cfg        Config
	metrics    *metrics.IntakeMetrics
	logger     *logging.Logger
}

// NewPipeline builds the triage pipeline.
func NewPipeline(
	convs ConversationStore,
	dir ContactDirectory,
	classifier Classifier,
	rules RuleEvaluator,
	dist Distributor,
	queue Enqueuer,
	cfg Config,
	logger *logging.Logger,
) *Pipeline {
	if convs == nil || dir == nil || classifier == nil || rules == nil || dist == nil || queue == nil {
		panic("triage: all pipeline dependencies are required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Pipeline{
		convs:      convs,
		contacts:   dir,
		classifier: classifier,
		rules:      rules,
		dist:       dist,
		queue:      queue,
		cfg:        cfg.withDefaults(),
		logger:     logger,
	}
}

// SetPrompter wires the outbound identifier prompt sender.
func (p *Pipeline) SetPrompter(pr IdentifierPrompter) { p.prompter = pr }

// SetMetrics wires the metrics sink.
func (p *Pipeline) SetMetrics(im *metrics.IntakeMetrics) { p.metrics = im }

// Intake handles one inbound message. It opens a conversation when the
// contact has none, otherwise feeds the message to the existing one.
func (p *Pipeline) Intake(ctx context.Context, contactID, channelAccountID, origin, text string) (*conversations.Conversation, error) {
	ctx, span := triageTracer.Start(ctx, "triage.intake")
	defer span.End()
	span.SetAttributes(attribute.String("intake.contact_id", contactID))

	if _, err := p.contacts.Ensure(ctx, contactID, origin); err != nil {
		return nil, err
	}

	conv, err := p.convs.FindOpenByContact(ctx, contactID, channelAccountID)
	switch {
	case err == nil:
		return conv, p.OnInboundMessage(ctx, conv, text)
	case errors.Is(err, conversations.ErrConversationNotFound):
	default:
		return nil, err
	}

	conv, err = p.convs.Create(ctx, contactID, channelAccountID, text)
	if err != nil {
		return nil, err
	}
	p.logger.Info("conversation opened", "conversation_id", conv.ID, "contact_id", contactID)
	return conv, p.Run(ctx, conv)
}

// Run executes triage from the conversation's current state until it reaches
// an operator, a queue slot, a wait for the contact, or the errored state.
func (p *Pipeline) Run(ctx context.Context, conv *conversations.Conversation) error {
	ctx, span := triageTracer.Start(ctx, "triage.run")
	defer span.End()
	span.SetAttributes(
		attribute.String("conversation.id", conv.ID.String()),
		attribute.String("conversation.state", string(conv.State)),
	)

	if err := p.advance(ctx, conv); err != nil {
		if errors.Is(err, conversations.ErrStateConflict) {
			// Another worker holds this conversation.
			return nil
		}
		return p.fail(ctx, conv, err)
	}
	return nil
}

func (p *Pipeline) advance(ctx context.Context, conv *conversations.Conversation) error {
	if conv.State == conversations.StateNew {
		if err := p.convs.TransitionState(ctx, conv.ID, conversations.StateNew, conversations.StateWalletCheck); err != nil {
			return err
		}
		conv.State = conversations.StateWalletCheck
	}

	contact, err := p.contacts.Get(ctx, conv.ContactID)
	if err != nil {
		return err
	}

	if conv.State == conversations.StateWalletCheck {
		if done, err := p.walletStage(ctx, conv, contact); done || err != nil {
			return err
		}
	}

	if conv.State == conversations.StateCustomerLinkCheck {
		if done, err := p.linkStage(ctx, conv, contact); done || err != nil {
			return err
		}
	}

	if conv.State == conversations.StateAIClassifying {
		return p.classifyAndRoute(ctx, conv, contact)
	}
	return nil
}

// walletStage hands the conversation straight to the contact's wallet owner
// when there is one and the owner can take it. Returns done=true when the
// conversation reached an operator.
func (p *Pipeline) walletStage(ctx context.Context, conv *conversations.Conversation, contact *contacts.Contact) (bool, error) {
	if contact.Owned() {
		err := p.dist.AssignOwned(ctx, conv.ID, *contact.OwnerOperatorID)
		if err == nil {
			p.metrics.ObserveTriage("wallet")
			p.logger.Info("wallet assignment", "conversation_id", conv.ID, "operator_id", *contact.OwnerOperatorID)
			return true, nil
		}
		if !errors.Is(err, distribution.ErrAssignmentConflict) {
			return false, err
		}
		// Owner offline or gone; fall through to the normal flow.
		p.logger.Info("wallet owner unavailable", "conversation_id", conv.ID, "operator_id", *contact.OwnerOperatorID)
	}
	if err := p.convs.TransitionState(ctx, conv.ID, conversations.StateWalletCheck, conversations.StateCustomerLinkCheck); err != nil {
		return false, err
	}
	conv.State = conversations.StateCustomerLinkCheck
	return false, nil
}

// linkStage checks for a customer link. A linked customer with an account
// owner goes straight to that owner; an unlinked contact is parked waiting
// for an identifying code. Returns done=true when the conversation reached
// an operator or is waiting on the contact.
func (p *Pipeline) linkStage(ctx context.Context, conv *conversations.Conversation, contact *contacts.Contact) (bool, error) {
	if !contact.Linked() && !conv.IdentifierRequested {
		if err := p.convs.MarkIdentifierRequested(ctx, conv.ID); err != nil {
			return false, err
		}
		conv.State = conversations.StateAwaitingIdentifier
		conv.IdentifierRequested = true
		if p.prompter != nil {
			if err := p.prompter.RequestIdentifier(ctx, conv.ID, conv.ContactID); err != nil {
				p.logger.Warn("identifier prompt failed", "conversation_id", conv.ID, "error", err)
			}
		}
		p.metrics.ObserveTriage("awaiting_identifier")
		return true, nil
	}
	if contact.Linked() {
		cust, err := p.contacts.GetCustomer(ctx, *contact.CustomerID)
		if err != nil && !errors.Is(err, contacts.ErrCustomerNotFound) {
			return false, err
		}
		if done, err := p.assignToOwner(ctx, conv, cust); done || err != nil {
			return done, err
		}
	}
	if err := p.convs.TransitionState(ctx, conv.ID, conversations.StateCustomerLinkCheck, conversations.StateAIClassifying); err != nil {
		return false, err
	}
	conv.State = conversations.StateAIClassifying
	return false, nil
}

// assignToOwner routes the conversation to the customer's account owner when
// one is set. Returns done=true when the owner took it.
func (p *Pipeline) assignToOwner(ctx context.Context, conv *conversations.Conversation, cust *contacts.Customer) (bool, error) {
	if cust == nil || cust.OwnerOperatorID == nil {
		return false, nil
	}
	err := p.dist.AssignOwned(ctx, conv.ID, *cust.OwnerOperatorID)
	if err == nil {
		p.metrics.ObserveTriage("customer_link")
		p.logger.Info("customer owner assignment", "conversation_id", conv.ID, "operator_id", *cust.OwnerOperatorID)
		return true, nil
	}
	if !errors.Is(err, distribution.ErrAssignmentConflict) {
		return false, err
	}
	p.logger.Info("customer owner unavailable", "conversation_id", conv.ID, "operator_id", *cust.OwnerOperatorID)
	return false, nil
}

// OnInboundMessage feeds a follow-up message into a live conversation. Only
// the awaiting-identifier state consumes messages during triage; anything
// later is operator territory.
func (p *Pipeline) OnInboundMessage(ctx context.Context, conv *conversations.Conversation, text string) error {
	if conv.State != conversations.StateAwaitingIdentifier {
		return nil
	}
	ctx, span := triageTracer.Start(ctx, "triage.identifier_scan")
	defer span.End()

	count, err := p.convs.IncrementIdentifierScans(ctx, conv.ID)
	if err != nil {
		return err
	}

	if id, ok := ExtractIdentifier(text); ok {
		cust, err := p.contacts.LinkByTaxID(ctx, conv.ContactID, id)
		switch {
		case err == nil:
			p.logger.Info("contact linked by identifier", "conversation_id", conv.ID)
			if done, aerr := p.assignToOwner(ctx, conv, cust); done {
				return nil
			} else if aerr != nil {
				return p.fail(ctx, conv, aerr)
			}
			return p.proceedFromIdentifier(ctx, conv)
		case errors.Is(err, contacts.ErrCustomerNotFound):
			p.logger.Info("identifier matched no customer", "conversation_id", conv.ID, "scans", count)
		default:
			return p.fail(ctx, conv, err)
		}
	}

	if count >= p.cfg.IdentifierScanLimit {
		// Stop holding the customer hostage; continue unlinked.
		p.logger.Info("identifier scan limit reached, continuing unlinked", "conversation_id", conv.ID)
		return p.proceedFromIdentifier(ctx, conv)
	}
	return nil
}

func (p *Pipeline) proceedFromIdentifier(ctx context.Context, conv *conversations.Conversation) error {
	if err := p.convs.TransitionState(ctx, conv.ID, conversations.StateAwaitingIdentifier, conversations.StateAIClassifying); err != nil {
		if errors.Is(err, conversations.ErrStateConflict) {
			return nil
		}
		return p.fail(ctx, conv, err)
	}
	conv.State = conversations.StateAIClassifying

	contact, err := p.contacts.Get(ctx, conv.ContactID)
	if err != nil {
		return p.fail(ctx, conv, err)
	}
	if err := p.classifyAndRoute(ctx, conv, contact); err != nil {
		return p.fail(ctx, conv, err)
	}
	return nil
}

func (p *Pipeline) classifyAndRoute(ctx context.Context, conv *conversations.Conversation, contact *contacts.Contact) error {
	ctx, span := triageTracer.Start(ctx, "triage.classify_route")
	defer span.End()

	started := time.Now()
	cl, err := p.classifier.Classify(ctx, conv.FirstMessage)
	if err != nil {
		return err
	}
	p.metrics.ObserveClassifyLatency(time.Since(started).Seconds())

	if err := p.convs.SetClassification(ctx, conv.ID, cl.Intent, cl.Sentiment); err != nil {
		return err
	}
	conv.Intent = cl.Intent
	conv.Sentiment = cl.Sentiment

	decision, err := p.rules.Evaluate(ctx, routing.Input{
		Now:    time.Now().UTC(),
		Origin: contact.ChannelOrigin,
		Text:   conv.FirstMessage,
		Sector: cl.Sector,
	})
	if err != nil {
		return err
	}

	if decision == nil {
		return p.enqueue(ctx, conv, p.defaultQueue(), cl.Priority, "no routing rule matched")
	}

	switch decision.DestinationType {
	case routing.DestinationOperator:
		err := p.dist.AssignDirect(ctx, conv.ID, decision.DestinationID)
		if err == nil {
			p.metrics.ObserveTriage("routed_operator")
			return nil
		}
		if !errors.Is(err, distribution.ErrAssignmentConflict) {
			return err
		}
		// Target operator unavailable; queue instead.
		return p.enqueue(ctx, conv, p.defaultQueue(), cl.Priority, "rule operator unavailable")
	case routing.DestinationQueue, routing.DestinationUnit:
		// A unit destination points at the unit's default queue.
		qid := decision.DestinationID
		return p.enqueue(ctx, conv, &qid, cl.Priority, "routing rule "+decision.Rule.ID.String())
	default:
		return fmt.Errorf("triage: unknown destination type %q", decision.DestinationType)
	}
}

func (p *Pipeline) enqueue(ctx context.Context, conv *conversations.Conversation, queueID *uuid.UUID, priority int, reason string) error {
	entry, created, err := p.queue.Enqueue(ctx, conv.ID, queueID, priority, reason)
	if err != nil {
		return err
	}
	if err := p.convs.MarkQueued(ctx, conv.ID, queueID); err != nil {
		return err
	}
	conv.State = conversations.StateQueued
	p.metrics.ObserveTriage("queued")
	if created {
		p.logger.Info("conversation queued", "conversation_id", conv.ID, "priority", priority, "reason", reason)
	}

	// Immediate match attempt; losing the race just leaves the entry queued.
	if err := p.dist.MatchEntry(ctx, entry); err != nil {
		p.logger.Warn("immediate match failed", "entry_id", entry.ID, "error", err)
	}
	return nil
}

// Retry re-runs triage for an errored conversation.
func (p *Pipeline) Retry(ctx context.Context, conv *conversations.Conversation) error {
	if err := p.convs.TransitionState(ctx, conv.ID, conversations.StateErrored, conversations.StateNew); err != nil {
		if errors.Is(err, conversations.ErrStateConflict) {
			return nil
		}
		return err
	}
	conv.State = conversations.StateNew
	p.logger.Info("retrying triage", "conversation_id", conv.ID, "attempt", conv.TriageAttempts+1)
	return p.Run(ctx, conv)
}

// fail parks the conversation in the errored state with exponential backoff,
// or force-queues it for manual attention once the attempt budget is spent.
// Permanent failures skip the backoff cycle entirely: retrying a rejected
// request would burn every attempt on the same outcome.
func (p *Pipeline) fail(ctx context.Context, conv *conversations.Conversation, cause error) error {
	attempts := conv.TriageAttempts + 1
	p.logger.Error("triage stage failed",
		"conversation_id", conv.ID,
		"state", conv.State,
		"attempt", attempts,
		"error", cause,
	)

	if attempts >= p.cfg.MaxAttempts || errors.Is(cause, ErrClassifyPermanent) {
		p.metrics.ObserveTriage("forced_queue")
		if err := p.enqueue(ctx, conv, p.defaultQueue(), p.cfg.FallbackPriority, "triage failed, needs manual attention"); err != nil {
			return errors.Join(cause, err)
		}
		return nil
	}

	backoff := p.cfg.BackoffBase << conv.TriageAttempts
	if backoff > p.cfg.BackoffCap {
		backoff = p.cfg.BackoffCap
	}
	p.metrics.ObserveTriage("errored")
	if err := p.convs.MarkErrored(ctx, conv.ID, attempts, time.Now().UTC().Add(backoff)); err != nil {
		return errors.Join(cause, err)
	}
	conv.State = conversations.StateErrored
	conv.TriageAttempts = attempts
	return nil
}

func (p *Pipeline) defaultQueue() *uuid.UUID {
	if p.cfg.DefaultQueueID == uuid.Nil {
		return nil
	}
	qid := p.cfg.DefaultQueueID
	return &qid
}
