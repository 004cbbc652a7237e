package distribution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/relayhq/intake-engine/internal/observability/metrics"
	"github.com/relayhq/intake-engine/internal/operators"
	"github.com/relayhq/intake-engine/internal/waitqueue"
	"github.com/relayhq/intake-engine/pkg/logging"
)

// Notifier is told about completed assignments so the operator can be pinged
// out-of-band. Notification failures never unwind an assignment.
type Notifier interface {
	NotifyAssignment(ctx context.Context, operatorID, conversationID uuid.UUID)
}

// EntrySource is the slice of the wait-queue store the matcher consumes.
type EntrySource interface {
	PeekHighestFor(ctx context.Context, operatorID uuid.UUID) (*waitqueue.Entry, error)
	FindOpenByConversation(ctx context.Context, conversationID uuid.UUID) (*waitqueue.Entry, error)
	MarkClaimed(ctx context.Context, id uuid.UUID) error
	ReleaseClaim(ctx context.Context, id uuid.UUID) error
}

// OperatorDirectory answers eligibility questions about operators and lets
// the matcher subscribe to availability triggers.
type OperatorDirectory interface {
	Get(ctx context.Context, id uuid.UUID) (*operators.Operator, error)
	EligibleOperators(ctx context.Context, queueID *uuid.UUID, now time.Time) ([]*operators.Operator, error)
	OnAvailable(fn operators.AvailabilityListener)
}

// ConversationAssigner commits one conversation-to-operator assignment.
type ConversationAssigner interface {
	Assign(ctx context.Context, req AssignRequest) error
}

// Matcher pairs waiting conversations with eligible operators. It reacts to
// two triggers: a new entry arriving (MatchEntry) and an operator slot opening
// up (DrainFor). Both converge on the same conditional assignment, so losing a
// race is harmless.
type Matcher struct {
	entries  EntrySource
	registry OperatorDirectory
	assigner ConversationAssigner
	notifier Notifier
	metrics  *metrics.IntakeMetrics
	logger   *logging.Logger

	retryBudget   int
	walletOverage bool
	slaThreshold  time.Duration
}

// MatcherOption customizes matcher behavior.
type MatcherOption func(*Matcher)

// WithRetryBudget caps how many conflicting candidates one match attempt
// walks before giving up and leaving the entry queued.
func WithRetryBudget(n int) MatcherOption {
	return func(m *Matcher) {
		if n > 0 {
			m.retryBudget = n
		}
	}
}

// WithWalletOverage allows owned-account assignment to exceed operator
// capacity by one.
func WithWalletOverage(allow bool) MatcherOption {
	return func(m *Matcher) { m.walletOverage = allow }
}

// WithSLAThreshold sets the first-response SLA used to flag breaches on
// assignment.
func WithSLAThreshold(d time.Duration) MatcherOption {
	return func(m *Matcher) {
		if d > 0 {
			m.slaThreshold = d
		}
	}
}

// WithNotifier sets the assignment notifier.
func WithNotifier(n Notifier) MatcherOption {
	return func(m *Matcher) { m.notifier = n }
}

// WithMetrics sets the metrics sink.
func WithMetrics(im *metrics.IntakeMetrics) MatcherOption {
	return func(m *Matcher) { m.metrics = im }
}

// NewMatcher builds the distribution matcher and registers it for operator
// availability triggers.
func NewMatcher(entries EntrySource, registry OperatorDirectory, assigner ConversationAssigner, logger *logging.Logger, opts ...MatcherOption) *Matcher {
	if entries == nil || registry == nil || assigner == nil {
		panic("distribution: entries, registry and assigner required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	m := &Matcher{
		entries:       entries,
		registry:      registry,
		assigner:      assigner,
		logger:        logger,
		retryBudget:   3,
		walletOverage: true,
	}
	for _, opt := range opts {
		opt(m)
	}
	registry.OnAvailable(m.DrainFor)
	return m
}

// MatchEntry tries to hand the entry to the best eligible operator. Candidates
// are ranked by ascending load with longest-idle tie-break; a conflict on one
// candidate falls through to the next, up to the retry budget. When no
// candidate sticks the entry simply stays queued.
func (m *Matcher) MatchEntry(ctx context.Context, entry *waitqueue.Entry) error {
	candidates, err := m.registry.EligibleOperators(ctx, entry.QueueID, time.Now().UTC())
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		m.logger.Debug("no eligible operator, entry stays queued", "entry_id", entry.ID)
		return nil
	}

	if err := m.entries.MarkClaimed(ctx, entry.ID); err != nil {
		if errors.Is(err, waitqueue.ErrEntryResolved) {
			return nil
		}
		return err
	}

	attempts := 0
	for _, op := range candidates {
		if attempts >= m.retryBudget {
			break
		}
		attempts++
		err := m.assigner.Assign(ctx, AssignRequest{
			ConversationID: entry.ConversationID,
			OperatorID:     op.ID,
			EntryID:        &entry.ID,
			QueueID:        entry.QueueID,
		})
		if errors.Is(err, ErrAssignmentConflict) {
			m.metrics.ObserveAssignment("queue", "conflict")
			continue
		}
		if err != nil {
			m.releaseClaim(ctx, entry.ID)
			return err
		}
		m.recordAssigned(ctx, "queue", op.ID, entry)
		return nil
	}
	// Every candidate conflicted. Hand the claim back so the entry stays
	// visible to the sweeper and to the next availability trigger.
	m.releaseClaim(ctx, entry.ID)
	m.logger.Debug("match attempt exhausted candidates", "entry_id", entry.ID, "attempts", attempts)
	return nil
}

func (m *Matcher) releaseClaim(ctx context.Context, entryID uuid.UUID) {
	if err := m.entries.ReleaseClaim(ctx, entryID); err != nil {
		m.logger.Warn("claim release failed", "entry_id", entryID, "error", err)
	}
}

// DrainFor pulls waiting entries toward one operator until the operator is
// full or nothing eligible remains. It runs whenever an operator comes online
// or frees a slot.
func (m *Matcher) DrainFor(ctx context.Context, operatorID uuid.UUID) {
	for {
		op, err := m.registry.Get(ctx, operatorID)
		if err != nil {
			m.logger.Warn("drain aborted, operator lookup failed", "operator_id", operatorID, "error", err)
			return
		}
		if op.Status != operators.StatusOnline || op.Load >= op.Capacity || !op.WithinWorkingHours(time.Now().UTC()) {
			return
		}

		entry, err := m.entries.PeekHighestFor(ctx, operatorID)
		if err != nil {
			if !errors.Is(err, waitqueue.ErrEntryNotFound) {
				m.logger.Warn("drain peek failed", "operator_id", operatorID, "error", err)
			}
			return
		}

		if err := m.entries.MarkClaimed(ctx, entry.ID); err != nil {
			if errors.Is(err, waitqueue.ErrEntryResolved) {
				continue
			}
			m.logger.Warn("drain claim failed", "entry_id", entry.ID, "error", err)
			return
		}

		err = m.assigner.Assign(ctx, AssignRequest{
			ConversationID: entry.ConversationID,
			OperatorID:     operatorID,
			EntryID:        &entry.ID,
			QueueID:        entry.QueueID,
		})
		switch {
		case errors.Is(err, ErrAssignmentConflict):
			// Another matcher took either the entry or the last slot.
			// Re-check the operator and peek again. Releasing the claim is
			// a no-op when the entry was resolved by the winner.
			m.metrics.ObserveAssignment("drain", "conflict")
			m.releaseClaim(ctx, entry.ID)
			continue
		case err != nil:
			m.releaseClaim(ctx, entry.ID)
			m.logger.Error("drain assignment failed", "entry_id", entry.ID, "error", err)
			return
		default:
			m.recordAssigned(ctx, "drain", operatorID, entry)
		}
	}
}

// AssignOwned routes a conversation straight to the operator that owns the
// contact's account, skipping the queue. Capacity may overflow by one when
// configured so owned customers never wait behind strangers.
func (m *Matcher) AssignOwned(ctx context.Context, conversationID, operatorID uuid.UUID) error {
	err := m.assigner.Assign(ctx, AssignRequest{
		ConversationID: conversationID,
		OperatorID:     operatorID,
		AllowOverflow:  m.walletOverage,
	})
	if err != nil {
		m.metrics.ObserveAssignment("wallet", "conflict")
		return err
	}
	m.metrics.ObserveAssignment("wallet", "ok")
	m.notify(ctx, operatorID, conversationID)
	return nil
}

// AssignDirect routes a conversation to a specific operator chosen by a
// routing rule. No capacity overflow: a full operator yields
// ErrAssignmentConflict and the caller queues instead.
func (m *Matcher) AssignDirect(ctx context.Context, conversationID, operatorID uuid.UUID) error {
	err := m.assigner.Assign(ctx, AssignRequest{
		ConversationID: conversationID,
		OperatorID:     operatorID,
	})
	if err != nil {
		m.metrics.ObserveAssignment("rule", "conflict")
		return err
	}
	m.metrics.ObserveAssignment("rule", "ok")
	m.notify(ctx, operatorID, conversationID)
	return nil
}

// AssignManually forces a conversation onto a specific operator on behalf of a
// supervisor. Eligibility filters are bypassed; the capacity check still runs
// with overflow allowed. Any open queue entry for the conversation is resolved
// as part of the same transaction.
func (m *Matcher) AssignManually(ctx context.Context, conversationID, operatorID uuid.UUID) error {
	req := AssignRequest{
		ConversationID: conversationID,
		OperatorID:     operatorID,
		AllowOverflow:  true,
	}
	entry, err := m.entries.FindOpenByConversation(ctx, conversationID)
	switch {
	case err == nil:
		req.EntryID = &entry.ID
		req.QueueID = entry.QueueID
	case errors.Is(err, waitqueue.ErrEntryNotFound):
		// Direct assignment of a conversation that never queued.
	default:
		return err
	}

	if err := m.assigner.Assign(ctx, req); err != nil {
		m.metrics.ObserveAssignment("manual", "conflict")
		return fmt.Errorf("distribution: manual assignment failed: %w", err)
	}
	m.metrics.ObserveAssignment("manual", "ok")
	m.notify(ctx, operatorID, conversationID)
	return nil
}

func (m *Matcher) recordAssigned(ctx context.Context, mode string, operatorID uuid.UUID, entry *waitqueue.Entry) {
	waited := entry.WaitingSince(time.Now().UTC())
	m.metrics.ObserveAssignment(mode, "ok")
	m.metrics.ObserveWait(waited.Seconds())
	if m.slaThreshold > 0 && waited > m.slaThreshold {
		m.metrics.ObserveSLABreach()
	}
	m.logger.Info("conversation assigned",
		"conversation_id", entry.ConversationID,
		"operator_id", operatorID,
		"priority", entry.Priority,
		"mode", mode,
	)
	m.notify(ctx, operatorID, entry.ConversationID)
}

func (m *Matcher) notify(ctx context.Context, operatorID, conversationID uuid.UUID) {
	if m.notifier == nil {
		return
	}
	m.notifier.NotifyAssignment(ctx, operatorID, conversationID)
}
