package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayhq/intake-engine/internal/conversations"
	"github.com/relayhq/intake-engine/internal/distribution"
	"github.com/relayhq/intake-engine/internal/waitqueue"
	"github.com/relayhq/intake-engine/pkg/logging"
)

type fakeEntryLister struct {
	entries []*waitqueue.Entry
}

func (f *fakeEntryLister) ListUnresolved(_ context.Context, _ *uuid.UUID, limit int) ([]*waitqueue.Entry, error) {
	if limit < len(f.entries) {
		return f.entries[:limit], nil
	}
	return f.entries, nil
}

type fakeManualAssigner struct {
	err   error
	calls int
}

func (f *fakeManualAssigner) AssignManually(_ context.Context, _, _ uuid.UUID) error {
	f.calls++
	return f.err
}

type fakeConvAdmin struct {
	convs  map[uuid.UUID]*conversations.Conversation
	closed []uuid.UUID
}

func (f *fakeConvAdmin) Get(_ context.Context, id uuid.UUID) (*conversations.Conversation, error) {
	conv, ok := f.convs[id]
	if !ok {
		return nil, conversations.ErrConversationNotFound
	}
	return conv, nil
}

func (f *fakeConvAdmin) Close(_ context.Context, id uuid.UUID) error {
	f.closed = append(f.closed, id)
	return nil
}

type fakeTriageRetrier struct {
	retried []uuid.UUID
}

func (f *fakeTriageRetrier) Retry(_ context.Context, conv *conversations.Conversation) error {
	f.retried = append(f.retried, conv.ID)
	return nil
}

func conversationRequest(method, target string, conv *conversations.Conversation) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("conversationID", conv.ID.String())
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestListQueueReturnsWaitTimes(t *testing.T) {
	entries := &fakeEntryLister{entries: []*waitqueue.Entry{
		{ID: uuid.New(), ConversationID: uuid.New(), Priority: 80, EnqueuedAt: time.Now().Add(-10 * time.Minute)},
		{ID: uuid.New(), ConversationID: uuid.New(), Priority: 10, EnqueuedAt: time.Now().Add(-time.Minute)},
	}}
	h := NewAdminIntakeHandler(entries, &fakeManualAssigner{}, &fakeConvAdmin{}, &fakeTriageRetrier{}, logging.Default())

	rec := httptest.NewRecorder()
	h.ListQueue(rec, httptest.NewRequest(http.MethodGet, "/admin/queue", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Entries []queueEntryResponse `json:"entries"`
		Total   int                  `json:"total"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, 2, resp.Total)
	assert.Equal(t, 80, resp.Entries[0].Priority)
	assert.Greater(t, resp.Entries[0].WaitSeconds, 500.0)
}

func TestListQueueRejectsBadLimit(t *testing.T) {
	h := NewAdminIntakeHandler(&fakeEntryLister{}, &fakeManualAssigner{}, &fakeConvAdmin{}, &fakeTriageRetrier{}, logging.Default())

	rec := httptest.NewRecorder()
	h.ListQueue(rec, httptest.NewRequest(http.MethodGet, "/admin/queue?limit=9999", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAssignManuallySucceeds(t *testing.T) {
	assigner := &fakeManualAssigner{}
	h := NewAdminIntakeHandler(&fakeEntryLister{}, assigner, &fakeConvAdmin{}, &fakeTriageRetrier{}, logging.Default())

	body := fmt.Sprintf(`{"conversation_id":%q,"operator_id":%q}`, uuid.New(), uuid.New())
	rec := httptest.NewRecorder()
	h.AssignManually(rec, httptest.NewRequest(http.MethodPost, "/admin/assignments", strings.NewReader(body)))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, assigner.calls)
}

func TestAssignManuallyConflictIs409(t *testing.T) {
	assigner := &fakeManualAssigner{err: fmt.Errorf("wrap: %w", distribution.ErrAssignmentConflict)}
	h := NewAdminIntakeHandler(&fakeEntryLister{}, assigner, &fakeConvAdmin{}, &fakeTriageRetrier{}, logging.Default())

	body := fmt.Sprintf(`{"conversation_id":%q,"operator_id":%q}`, uuid.New(), uuid.New())
	rec := httptest.NewRecorder()
	h.AssignManually(rec, httptest.NewRequest(http.MethodPost, "/admin/assignments", strings.NewReader(body)))

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAssignManuallyRequiresBothIDs(t *testing.T) {
	h := NewAdminIntakeHandler(&fakeEntryLister{}, &fakeManualAssigner{}, &fakeConvAdmin{}, &fakeTriageRetrier{}, logging.Default())

	body := fmt.Sprintf(`{"conversation_id":%q}`, uuid.New())
	rec := httptest.NewRecorder()
	h.AssignManually(rec, httptest.NewRequest(http.MethodPost, "/admin/assignments", strings.NewReader(body)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRetryConversationOnlyWhenErrored(t *testing.T) {
	conv := &conversations.Conversation{ID: uuid.New(), State: conversations.StateQueued}
	convs := &fakeConvAdmin{convs: map[uuid.UUID]*conversations.Conversation{conv.ID: conv}}
	retrier := &fakeTriageRetrier{}
	h := NewAdminIntakeHandler(&fakeEntryLister{}, &fakeManualAssigner{}, convs, retrier, logging.Default())

	rec := httptest.NewRecorder()
	h.RetryConversation(rec, conversationRequest(http.MethodPost, "/admin/conversations/x/retry", conv))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Empty(t, retrier.retried)

	conv.State = conversations.StateErrored
	rec = httptest.NewRecorder()
	h.RetryConversation(rec, conversationRequest(http.MethodPost, "/admin/conversations/x/retry", conv))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []uuid.UUID{conv.ID}, retrier.retried)
}

func TestCloseConversation(t *testing.T) {
	conv := &conversations.Conversation{ID: uuid.New(), State: conversations.StateRouted}
	convs := &fakeConvAdmin{convs: map[uuid.UUID]*conversations.Conversation{conv.ID: conv}}
	h := NewAdminIntakeHandler(&fakeEntryLister{}, &fakeManualAssigner{}, convs, &fakeTriageRetrier{}, logging.Default())

	rec := httptest.NewRecorder()
	h.CloseConversation(rec, conversationRequest(http.MethodPost, "/admin/conversations/x/close", conv))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []uuid.UUID{conv.ID}, convs.closed)
}

type fakeSlotFreer struct {
	freed []uuid.UUID
}

func (f *fakeSlotFreer) ConversationFreed(_ context.Context, operatorID uuid.UUID) {
	f.freed = append(f.freed, operatorID)
}

func TestCloseConversationDrainsFreedSlot(t *testing.T) {
	opID := uuid.New()
	conv := &conversations.Conversation{ID: uuid.New(), State: conversations.StateRouted, AssignedOperatorID: &opID}
	convs := &fakeConvAdmin{convs: map[uuid.UUID]*conversations.Conversation{conv.ID: conv}}
	freer := &fakeSlotFreer{}
	h := NewAdminIntakeHandler(&fakeEntryLister{}, &fakeManualAssigner{}, convs, &fakeTriageRetrier{}, logging.Default())
	h.SetSlotFreer(freer)

	rec := httptest.NewRecorder()
	h.CloseConversation(rec, conversationRequest(http.MethodPost, "/admin/conversations/x/close", conv))

	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, []uuid.UUID{conv.ID}, convs.closed)
	assert.Equal(t, []uuid.UUID{opID}, freer.freed,
		"closing an assigned conversation must trigger a drain for the freed operator")
}

func TestCloseUnassignedConversationSkipsDrain(t *testing.T) {
	conv := &conversations.Conversation{ID: uuid.New(), State: conversations.StateQueued}
	convs := &fakeConvAdmin{convs: map[uuid.UUID]*conversations.Conversation{conv.ID: conv}}
	freer := &fakeSlotFreer{}
	h := NewAdminIntakeHandler(&fakeEntryLister{}, &fakeManualAssigner{}, convs, &fakeTriageRetrier{}, logging.Default())
	h.SetSlotFreer(freer)

	rec := httptest.NewRecorder()
	h.CloseConversation(rec, conversationRequest(http.MethodPost, "/admin/conversations/x/close", conv))

	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, freer.freed)
}

type fakeReleaser struct {
	released []uuid.UUID
	count    int
}

func (f *fakeReleaser) ReleaseOperator(_ context.Context, operatorID uuid.UUID) (int, error) {
	f.released = append(f.released, operatorID)
	return f.count, nil
}

func TestReleaseOperator(t *testing.T) {
	h := NewAdminIntakeHandler(&fakeEntryLister{}, &fakeManualAssigner{}, &fakeConvAdmin{}, &fakeTriageRetrier{}, logging.Default())
	releaser := &fakeReleaser{count: 3}
	h.SetReleaser(releaser)

	opID := uuid.New()
	req := httptest.NewRequest(http.MethodPost, "/admin/operators/x/release", nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("operatorID", opID.String())
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))

	rec := httptest.NewRecorder()
	h.ReleaseOperator(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]int
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, 3, resp["released"])
	assert.Equal(t, []uuid.UUID{opID}, releaser.released)
}

func TestReleaseOperatorUnwired(t *testing.T) {
	h := NewAdminIntakeHandler(&fakeEntryLister{}, &fakeManualAssigner{}, &fakeConvAdmin{}, &fakeTriageRetrier{}, logging.Default())

	rec := httptest.NewRecorder()
	h.ReleaseOperator(rec, httptest.NewRequest(http.MethodPost, "/admin/operators/x/release", nil))
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestGetConversationNotFound(t *testing.T) {
	convs := &fakeConvAdmin{convs: map[uuid.UUID]*conversations.Conversation{}}
	h := NewAdminIntakeHandler(&fakeEntryLister{}, &fakeManualAssigner{}, convs, &fakeTriageRetrier{}, logging.Default())

	rec := httptest.NewRecorder()
	h.GetConversation(rec, conversationRequest(http.MethodGet, "/admin/conversations/x", &conversations.Conversation{ID: uuid.New()}))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
