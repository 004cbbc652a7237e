package sweeper

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/relayhq/intake-engine/internal/conversations"
	"github.com/relayhq/intake-engine/internal/observability/metrics"
	"github.com/relayhq/intake-engine/internal/waitqueue"
	"github.com/relayhq/intake-engine/internal/window"
	"github.com/relayhq/intake-engine/pkg/logging"
)

type conversationSource interface {
	ListErroredDue(ctx context.Context, now time.Time, limit int) ([]*conversations.Conversation, error)
	ListOpenByOperator(ctx context.Context, operatorID uuid.UUID) ([]*conversations.Conversation, error)
	OperatorsWithAbandonedLoad(ctx context.Context) ([]uuid.UUID, error)
	Unassign(ctx context.Context, id uuid.UUID) error
}

type retrier interface {
	Retry(ctx context.Context, conv *conversations.Conversation) error
}

type entrySource interface {
	ListStale(ctx context.Context, cutoff time.Time, limit int) ([]*waitqueue.Entry, error)
	FindOpenByConversation(ctx context.Context, conversationID uuid.UUID) (*waitqueue.Entry, error)
	Enqueue(ctx context.Context, conversationID uuid.UUID, queueID *uuid.UUID, priority int, reason string) (*waitqueue.Entry, bool, error)
	RaisePriority(ctx context.Context, id uuid.UUID, priority int, reason string) error
}

type matcher interface {
	MatchEntry(ctx context.Context, entry *waitqueue.Entry) error
}

type windowSource interface {
	ClosingBetween(ctx context.Context, from, to time.Time) ([]*window.Window, error)
}

// Sweeper is the reconciliation loop. Each pass retries errored triage,
// re-matches stale queue entries, re-queues conversations abandoned by
// offline operators, and boosts conversations whose service window is about
// to close. Every action is a conditional write, so overlapping passes (or a
// second replica) are harmless.
type Sweeper struct {
	convs   conversationSource
	retrier retrier
	entries entrySource
	matcher matcher
	windows windowSource
	metrics *metrics.IntakeMetrics
	logger  *logging.Logger

	interval      time.Duration
	staleAfter    time.Duration
	closingWithin time.Duration
	boostPriority int
	requeuePrio   int
	batchSize     int
}

// New builds a sweeper with default tuning.
func New(convs conversationSource, retrier retrier, entries entrySource, m matcher, windows windowSource, logger *logging.Logger) *Sweeper {
	if convs == nil || retrier == nil || entries == nil || m == nil {
		panic("sweeper: convs, retrier, entries and matcher are required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Sweeper{
		convs:         convs,
		retrier:       retrier,
		entries:       entries,
		matcher:       m,
		windows:       windows,
		logger:        logger,
		interval:      time.Minute,
		staleAfter:    10 * time.Minute,
		closingWithin: time.Hour,
		boostPriority: 90,
		requeuePrio:   50,
		batchSize:     50,
	}
}

func (s *Sweeper) WithInterval(d time.Duration) *Sweeper {
	if d > 0 {
		s.interval = d
	}
	return s
}

func (s *Sweeper) WithStaleAfter(d time.Duration) *Sweeper {
	if d > 0 {
		s.staleAfter = d
	}
	return s
}

func (s *Sweeper) WithClosingWindow(d time.Duration, priority int) *Sweeper {
	if d > 0 {
		s.closingWithin = d
	}
	if priority > 0 {
		s.boostPriority = priority
	}
	return s
}

func (s *Sweeper) WithRequeuePriority(p int) *Sweeper {
	if p > 0 {
		s.requeuePrio = p
	}
	return s
}

func (s *Sweeper) WithMetrics(im *metrics.IntakeMetrics) *Sweeper {
	s.metrics = im
	return s
}

// Run blocks until ctx is canceled, sweeping once per interval.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.Sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one reconciliation pass.
func (s *Sweeper) Sweep(ctx context.Context) {
	now := time.Now().UTC()
	s.retryErrored(ctx, now)
	s.rescueStale(ctx, now)
	s.releaseAbandoned(ctx)
	s.boostClosingWindows(ctx, now)
}

func (s *Sweeper) retryErrored(ctx context.Context, now time.Time) {
	due, err := s.convs.ListErroredDue(ctx, now, s.batchSize)
	if err != nil {
		s.logger.Error("errored scan failed", "error", err)
		return
	}
	for _, conv := range due {
		if err := s.retrier.Retry(ctx, conv); err != nil {
			s.logger.Error("triage retry failed", "conversation_id", conv.ID, "error", err)
			continue
		}
		s.metrics.ObserveSweep("retry")
	}
}

func (s *Sweeper) rescueStale(ctx context.Context, now time.Time) {
	stale, err := s.entries.ListStale(ctx, now.Add(-s.staleAfter), s.batchSize)
	if err != nil {
		s.logger.Error("stale scan failed", "error", err)
		return
	}
	for _, entry := range stale {
		if err := s.matcher.MatchEntry(ctx, entry); err != nil {
			s.logger.Error("stale re-match failed", "entry_id", entry.ID, "error", err)
			continue
		}
		s.metrics.ObserveSweep("rematch")
	}
}

// releaseAbandoned re-queues open conversations still assigned to offline
// operators.
func (s *Sweeper) releaseAbandoned(ctx context.Context) {
	operatorIDs, err := s.convs.OperatorsWithAbandonedLoad(ctx)
	if err != nil {
		s.logger.Error("abandoned load scan failed", "error", err)
		return
	}
	for _, opID := range operatorIDs {
		if _, err := s.ReleaseOperator(ctx, opID); err != nil {
			s.logger.Error("abandoned conversations lookup failed", "operator_id", opID, "error", err)
		}
	}
}

// ReleaseOperator re-queues every open conversation assigned to the operator
// and immediately tries to re-match each one. It returns the number of
// conversations released. Also serves as the manual redistribution entry
// point when an operator is removed.
func (s *Sweeper) ReleaseOperator(ctx context.Context, operatorID uuid.UUID) (int, error) {
	open, err := s.convs.ListOpenByOperator(ctx, operatorID)
	if err != nil {
		return 0, err
	}
	released := 0
	for _, conv := range open {
		if err := s.convs.Unassign(ctx, conv.ID); err != nil {
			// Lost the race to another sweep or a close; skip.
			continue
		}
		entry, _, err := s.entries.Enqueue(ctx, conv.ID, conv.QueueID, s.requeuePrio, "operator went offline")
		if err != nil {
			s.logger.Error("re-enqueue failed", "conversation_id", conv.ID, "error", err)
			continue
		}
		released++
		s.metrics.ObserveSweep("release")
		s.logger.Info("conversation released from operator",
			"conversation_id", conv.ID, "operator_id", operatorID)
		if err := s.matcher.MatchEntry(ctx, entry); err != nil {
			s.logger.Warn("released entry match failed", "entry_id", entry.ID, "error", err)
		}
	}
	return released, nil
}

// boostClosingWindows raises the priority of waiting conversations whose
// reply window closes soon, so they get an operator while a free-form answer
// is still possible.
func (s *Sweeper) boostClosingWindows(ctx context.Context, now time.Time) {
	if s.windows == nil {
		return
	}
	closing, err := s.windows.ClosingBetween(ctx, now, now.Add(s.closingWithin))
	if err != nil {
		s.logger.Error("closing window scan failed", "error", err)
		return
	}
	for _, w := range closing {
		entry, err := s.entries.FindOpenByConversation(ctx, w.ConversationID)
		if err != nil {
			// Not waiting; nothing to boost.
			continue
		}
		if entry.Priority >= s.boostPriority {
			continue
		}
		if err := s.entries.RaisePriority(ctx, entry.ID, s.boostPriority, "service window closing"); err != nil {
			s.logger.Error("priority boost failed", "entry_id", entry.ID, "error", err)
			continue
		}
		s.metrics.ObserveSweep("window_boost")
	}
}
