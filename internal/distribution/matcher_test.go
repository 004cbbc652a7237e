package distribution

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayhq/intake-engine/internal/operators"
	"github.com/relayhq/intake-engine/internal/waitqueue"
	"github.com/relayhq/intake-engine/pkg/logging"
)

type fakeEntries struct {
	peeks    []*waitqueue.Entry
	open     map[uuid.UUID]*waitqueue.Entry
	claimed  []uuid.UUID
	released []uuid.UUID
}

func (f *fakeEntries) PeekHighestFor(_ context.Context, _ uuid.UUID) (*waitqueue.Entry, error) {
	if len(f.peeks) == 0 {
		return nil, waitqueue.ErrEntryNotFound
	}
	next := f.peeks[0]
	f.peeks = f.peeks[1:]
	return next, nil
}

func (f *fakeEntries) FindOpenByConversation(_ context.Context, conversationID uuid.UUID) (*waitqueue.Entry, error) {
	if e, ok := f.open[conversationID]; ok {
		return e, nil
	}
	return nil, waitqueue.ErrEntryNotFound
}

func (f *fakeEntries) MarkClaimed(_ context.Context, id uuid.UUID) error {
	f.claimed = append(f.claimed, id)
	return nil
}

func (f *fakeEntries) ReleaseClaim(_ context.Context, id uuid.UUID) error {
	f.released = append(f.released, id)
	return nil
}

type fakeDirectory struct {
	eligible []*operators.Operator
	byID     map[uuid.UUID]*operators.Operator
}

func (f *fakeDirectory) Get(_ context.Context, id uuid.UUID) (*operators.Operator, error) {
	op, ok := f.byID[id]
	if !ok {
		return nil, operators.ErrOperatorNotFound
	}
	cp := *op
	return &cp, nil
}

func (f *fakeDirectory) EligibleOperators(_ context.Context, _ *uuid.UUID, _ time.Time) ([]*operators.Operator, error) {
	return f.eligible, nil
}

func (f *fakeDirectory) OnAvailable(_ operators.AvailabilityListener) {}

type fakeAssigner struct {
	requests  []AssignRequest
	conflicts int // first N calls return ErrAssignmentConflict
	onAssign  func(AssignRequest)
}

func (f *fakeAssigner) Assign(_ context.Context, req AssignRequest) error {
	f.requests = append(f.requests, req)
	if len(f.requests) <= f.conflicts {
		return ErrAssignmentConflict
	}
	if f.onAssign != nil {
		f.onAssign(req)
	}
	return nil
}

type recordingNotifier struct {
	operatorIDs []uuid.UUID
}

func (r *recordingNotifier) NotifyAssignment(_ context.Context, operatorID, _ uuid.UUID) {
	r.operatorIDs = append(r.operatorIDs, operatorID)
}

func onlineOperator(capacity, load int) *operators.Operator {
	return &operators.Operator{
		ID:       uuid.New(),
		Status:   operators.StatusOnline,
		Capacity: capacity,
		Load:     load,
	}
}

func TestMatchEntryAssignsFirstCandidate(t *testing.T) {
	light := onlineOperator(3, 0)
	heavy := onlineOperator(3, 2)
	entries := &fakeEntries{}
	assigner := &fakeAssigner{}
	notifier := &recordingNotifier{}

	m := NewMatcher(entries, &fakeDirectory{eligible: []*operators.Operator{light, heavy}}, assigner, logging.Default(), WithNotifier(notifier))

	entry := &waitqueue.Entry{ID: uuid.New(), ConversationID: uuid.New(), Priority: 5, EnqueuedAt: time.Now()}
	require.NoError(t, m.MatchEntry(context.Background(), entry))

	require.Len(t, assigner.requests, 1)
	assert.Equal(t, light.ID, assigner.requests[0].OperatorID)
	assert.Equal(t, entry.ConversationID, assigner.requests[0].ConversationID)
	assert.Equal(t, []uuid.UUID{entry.ID}, entries.claimed)
	assert.Equal(t, []uuid.UUID{light.ID}, notifier.operatorIDs)
}

func TestMatchEntryFallsThroughOnConflict(t *testing.T) {
	first := onlineOperator(2, 1)
	second := onlineOperator(2, 1)
	assigner := &fakeAssigner{conflicts: 1}

	m := NewMatcher(&fakeEntries{}, &fakeDirectory{eligible: []*operators.Operator{first, second}}, assigner, logging.Default())

	entry := &waitqueue.Entry{ID: uuid.New(), ConversationID: uuid.New(), EnqueuedAt: time.Now()}
	require.NoError(t, m.MatchEntry(context.Background(), entry))

	require.Len(t, assigner.requests, 2)
	assert.Equal(t, second.ID, assigner.requests[1].OperatorID)
}

func TestMatchEntryNoCandidatesLeavesEntryQueued(t *testing.T) {
	entries := &fakeEntries{}
	assigner := &fakeAssigner{}

	m := NewMatcher(entries, &fakeDirectory{}, assigner, logging.Default())

	entry := &waitqueue.Entry{ID: uuid.New(), ConversationID: uuid.New(), EnqueuedAt: time.Now()}
	require.NoError(t, m.MatchEntry(context.Background(), entry))

	assert.Empty(t, assigner.requests)
	assert.Empty(t, entries.claimed, "entry must not be claimed without a candidate")
}

func TestMatchEntryStopsAtRetryBudget(t *testing.T) {
	var ops []*operators.Operator
	for i := 0; i < 5; i++ {
		ops = append(ops, onlineOperator(1, 0))
	}
	assigner := &fakeAssigner{conflicts: 5}

	m := NewMatcher(&fakeEntries{}, &fakeDirectory{eligible: ops}, assigner, logging.Default(), WithRetryBudget(3))

	entry := &waitqueue.Entry{ID: uuid.New(), ConversationID: uuid.New(), EnqueuedAt: time.Now()}
	require.NoError(t, m.MatchEntry(context.Background(), entry))

	assert.Len(t, assigner.requests, 3)
}

func TestMatchEntryReleasesClaimWhenAllCandidatesConflict(t *testing.T) {
	entries := &fakeEntries{}
	assigner := &fakeAssigner{conflicts: 2}

	m := NewMatcher(entries, &fakeDirectory{eligible: []*operators.Operator{onlineOperator(1, 0), onlineOperator(1, 0)}}, assigner, logging.Default())

	entry := &waitqueue.Entry{ID: uuid.New(), ConversationID: uuid.New(), EnqueuedAt: time.Now()}
	require.NoError(t, m.MatchEntry(context.Background(), entry))

	assert.Equal(t, []uuid.UUID{entry.ID}, entries.claimed)
	assert.Equal(t, []uuid.UUID{entry.ID}, entries.released,
		"a fully conflicted match must hand the claim back")
}

func TestDrainForAssignsUntilQueueEmpty(t *testing.T) {
	op := onlineOperator(2, 0)
	dir := &fakeDirectory{byID: map[uuid.UUID]*operators.Operator{op.ID: op}}
	e1 := &waitqueue.Entry{ID: uuid.New(), ConversationID: uuid.New(), Priority: 5, EnqueuedAt: time.Now()}
	e2 := &waitqueue.Entry{ID: uuid.New(), ConversationID: uuid.New(), Priority: 1, EnqueuedAt: time.Now()}
	entries := &fakeEntries{peeks: []*waitqueue.Entry{e1, e2}}
	assigner := &fakeAssigner{}
	assigner.onAssign = func(AssignRequest) { op.Load++ }

	m := NewMatcher(entries, dir, assigner, logging.Default())
	m.DrainFor(context.Background(), op.ID)

	require.Len(t, assigner.requests, 2)
	assert.Equal(t, e1.ConversationID, assigner.requests[0].ConversationID, "higher priority drains first")
	assert.Equal(t, e2.ConversationID, assigner.requests[1].ConversationID)
}

func TestDrainForStopsWhenOperatorFull(t *testing.T) {
	op := onlineOperator(1, 0)
	dir := &fakeDirectory{byID: map[uuid.UUID]*operators.Operator{op.ID: op}}
	e1 := &waitqueue.Entry{ID: uuid.New(), ConversationID: uuid.New(), EnqueuedAt: time.Now()}
	e2 := &waitqueue.Entry{ID: uuid.New(), ConversationID: uuid.New(), EnqueuedAt: time.Now()}
	entries := &fakeEntries{peeks: []*waitqueue.Entry{e1, e2}}
	assigner := &fakeAssigner{}
	assigner.onAssign = func(AssignRequest) { op.Load++ }

	m := NewMatcher(entries, dir, assigner, logging.Default())
	m.DrainFor(context.Background(), op.ID)

	assert.Len(t, assigner.requests, 1)
}

func TestDrainForIgnoresOfflineOperator(t *testing.T) {
	op := onlineOperator(3, 0)
	op.Status = operators.StatusOffline
	dir := &fakeDirectory{byID: map[uuid.UUID]*operators.Operator{op.ID: op}}
	entries := &fakeEntries{peeks: []*waitqueue.Entry{{ID: uuid.New(), ConversationID: uuid.New(), EnqueuedAt: time.Now()}}}
	assigner := &fakeAssigner{}

	m := NewMatcher(entries, dir, assigner, logging.Default())
	m.DrainFor(context.Background(), op.ID)

	assert.Empty(t, assigner.requests)
}

func TestAssignManuallyResolvesOpenEntry(t *testing.T) {
	convID := uuid.New()
	opID := uuid.New()
	entry := &waitqueue.Entry{ID: uuid.New(), ConversationID: convID, EnqueuedAt: time.Now()}
	entries := &fakeEntries{open: map[uuid.UUID]*waitqueue.Entry{convID: entry}}
	assigner := &fakeAssigner{}
	notifier := &recordingNotifier{}

	m := NewMatcher(entries, &fakeDirectory{}, assigner, logging.Default(), WithNotifier(notifier))
	require.NoError(t, m.AssignManually(context.Background(), convID, opID))

	require.Len(t, assigner.requests, 1)
	req := assigner.requests[0]
	require.NotNil(t, req.EntryID)
	assert.Equal(t, entry.ID, *req.EntryID)
	assert.True(t, req.AllowOverflow, "supervisor override ignores capacity")
	assert.Equal(t, []uuid.UUID{opID}, notifier.operatorIDs)
}

func TestAssignOwnedAllowsOverflow(t *testing.T) {
	assigner := &fakeAssigner{}

	m := NewMatcher(&fakeEntries{}, &fakeDirectory{}, assigner, logging.Default(), WithWalletOverage(true))
	require.NoError(t, m.AssignOwned(context.Background(), uuid.New(), uuid.New()))

	require.Len(t, assigner.requests, 1)
	assert.True(t, assigner.requests[0].AllowOverflow)
	assert.Nil(t, assigner.requests[0].EntryID)
}
