package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/relayhq/intake-engine/internal/conversations"
	"github.com/relayhq/intake-engine/internal/distribution"
	"github.com/relayhq/intake-engine/internal/waitqueue"
	"github.com/relayhq/intake-engine/pkg/logging"
)

// EntryLister reads the wait queue.
type EntryLister interface {
	ListUnresolved(ctx context.Context, queueID *uuid.UUID, limit int) ([]*waitqueue.Entry, error)
}

// ManualAssigner forces supervisor-chosen assignments.
type ManualAssigner interface {
	AssignManually(ctx context.Context, conversationID, operatorID uuid.UUID) error
}

// ConversationAdmin is the slice of the conversation store the admin API needs.
type ConversationAdmin interface {
	Get(ctx context.Context, id uuid.UUID) (*conversations.Conversation, error)
	Close(ctx context.Context, id uuid.UUID) error
}

// TriageRetrier re-runs triage for an errored conversation.
type TriageRetrier interface {
	Retry(ctx context.Context, conv *conversations.Conversation) error
}

// OperatorReleaser re-queues an operator's open conversations.
type OperatorReleaser interface {
	ReleaseOperator(ctx context.Context, operatorID uuid.UUID) (int, error)
}

// SlotFreer is told when an operator slot opens up so waiting conversations
// can be drained toward it.
type SlotFreer interface {
	ConversationFreed(ctx context.Context, operatorID uuid.UUID)
}

// AdminIntakeHandler exposes supervisor operations: inspecting the wait
// queue, forcing assignments, and retrying or closing conversations.
type AdminIntakeHandler struct {
	entries   EntryLister
	matcher   ManualAssigner
	convs     ConversationAdmin
	retrier   TriageRetrier
	releaser  OperatorReleaser
	slotFreer SlotFreer
	logger    *logging.Logger
}

// NewAdminIntakeHandler creates the admin intake handler.
func NewAdminIntakeHandler(entries EntryLister, matcher ManualAssigner, convs ConversationAdmin, retrier TriageRetrier, logger *logging.Logger) *AdminIntakeHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminIntakeHandler{
		entries: entries,
		matcher: matcher,
		convs:   convs,
		retrier: retrier,
		logger:  logger,
	}
}

// SetReleaser wires the redistribution entry point.
func (h *AdminIntakeHandler) SetReleaser(r OperatorReleaser) { h.releaser = r }

// SetSlotFreer wires the availability trigger fired after a close.
func (h *AdminIntakeHandler) SetSlotFreer(f SlotFreer) { h.slotFreer = f }

type queueEntryResponse struct {
	ID             uuid.UUID  `json:"id"`
	ConversationID uuid.UUID  `json:"conversation_id"`
	QueueID        *uuid.UUID `json:"queue_id,omitempty"`
	Priority       int        `json:"priority"`
	PriorityReason string     `json:"priority_reason,omitempty"`
	EnqueuedAt     time.Time  `json:"enqueued_at"`
	WaitSeconds    float64    `json:"wait_seconds"`
	Claimed        bool       `json:"claimed"`
}

// ListQueue returns unresolved wait-queue entries in service order.
// GET /admin/queue?queue_id=&limit=
func (h *AdminIntakeHandler) ListQueue(w http.ResponseWriter, r *http.Request) {
	var queueID *uuid.UUID
	if raw := r.URL.Query().Get("queue_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			http.Error(w, "invalid queue_id", http.StatusBadRequest)
			return
		}
		queueID = &id
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			http.Error(w, "limit must be between 1 and 500", http.StatusBadRequest)
			return
		}
		limit = n
	}

	entries, err := h.entries.ListUnresolved(r.Context(), queueID, limit)
	if err != nil {
		h.logger.Error("queue listing failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	now := time.Now().UTC()
	resp := struct {
		Entries []queueEntryResponse `json:"entries"`
		Total   int                  `json:"total"`
	}{Entries: make([]queueEntryResponse, 0, len(entries))}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, queueEntryResponse{
			ID:             e.ID,
			ConversationID: e.ConversationID,
			QueueID:        e.QueueID,
			Priority:       e.Priority,
			PriorityReason: e.PriorityReason,
			EnqueuedAt:     e.EnqueuedAt,
			WaitSeconds:    e.WaitingSince(now).Seconds(),
			Claimed:        e.ClaimedAt != nil,
		})
	}
	resp.Total = len(resp.Entries)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

type assignRequest struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	OperatorID     uuid.UUID `json:"operator_id"`
}

// AssignManually forces a conversation onto an operator.
// POST /admin/assignments
func (h *AdminIntakeHandler) AssignManually(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.ConversationID == uuid.Nil || req.OperatorID == uuid.Nil {
		http.Error(w, "conversation_id and operator_id are required", http.StatusBadRequest)
		return
	}

	if err := h.matcher.AssignManually(r.Context(), req.ConversationID, req.OperatorID); err != nil {
		if errors.Is(err, distribution.ErrAssignmentConflict) {
			http.Error(w, "assignment conflict", http.StatusConflict)
			return
		}
		h.logger.Error("manual assignment failed",
			"conversation_id", req.ConversationID, "operator_id", req.OperatorID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "assigned"})
}

type conversationResponse struct {
	ID                 uuid.UUID           `json:"id"`
	ContactID          string              `json:"contact_id"`
	ChannelAccountID   string              `json:"channel_account_id"`
	State              conversations.State `json:"state"`
	AssignedOperatorID *uuid.UUID          `json:"assigned_operator_id,omitempty"`
	QueueID            *uuid.UUID          `json:"queue_id,omitempty"`
	Sentiment          string              `json:"sentiment,omitempty"`
	Intent             string              `json:"intent,omitempty"`
	TriageAttempts     int                 `json:"triage_attempts"`
	CreatedAt          time.Time           `json:"created_at"`
	ClosedAt           *time.Time          `json:"closed_at,omitempty"`
}

// GetConversation returns one conversation.
// GET /admin/conversations/{conversationID}
func (h *AdminIntakeHandler) GetConversation(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.lookupConversation(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(conversationResponse{
		ID:                 conv.ID,
		ContactID:          conv.ContactID,
		ChannelAccountID:   conv.ChannelAccountID,
		State:              conv.State,
		AssignedOperatorID: conv.AssignedOperatorID,
		QueueID:            conv.QueueID,
		Sentiment:          conv.Sentiment,
		Intent:             conv.Intent,
		TriageAttempts:     conv.TriageAttempts,
		CreatedAt:          conv.CreatedAt,
		ClosedAt:           conv.ClosedAt,
	})
}

// CloseConversation ends a conversation and frees the operator slot.
// POST /admin/conversations/{conversationID}/close
func (h *AdminIntakeHandler) CloseConversation(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.lookupConversation(w, r)
	if !ok {
		return
	}
	if err := h.convs.Close(r.Context(), conv.ID); err != nil {
		h.logger.Error("close failed", "conversation_id", conv.ID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	// Closing an assigned conversation opens a slot; pull the next waiting
	// conversation toward that operator.
	if h.slotFreer != nil && conv.AssignedOperatorID != nil {
		h.slotFreer.ConversationFreed(r.Context(), *conv.AssignedOperatorID)
	}
	w.WriteHeader(http.StatusNoContent)
}

// RetryConversation re-runs triage for an errored conversation without
// waiting for its backoff to elapse.
// POST /admin/conversations/{conversationID}/retry
func (h *AdminIntakeHandler) RetryConversation(w http.ResponseWriter, r *http.Request) {
	conv, ok := h.lookupConversation(w, r)
	if !ok {
		return
	}
	if conv.State != conversations.StateErrored {
		http.Error(w, "conversation is not errored", http.StatusConflict)
		return
	}
	if err := h.retrier.Retry(r.Context(), conv); err != nil {
		h.logger.Error("retry failed", "conversation_id", conv.ID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "retrying"})
}

// ReleaseOperator re-queues every open conversation of an operator, used when
// an operator is removed or offline for an extended period.
// POST /admin/operators/{operatorID}/release
func (h *AdminIntakeHandler) ReleaseOperator(w http.ResponseWriter, r *http.Request) {
	if h.releaser == nil {
		http.Error(w, "release not available", http.StatusNotImplemented)
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "operatorID"))
	if err != nil {
		http.Error(w, "invalid operator id", http.StatusBadRequest)
		return
	}
	released, err := h.releaser.ReleaseOperator(r.Context(), id)
	if err != nil {
		h.logger.Error("operator release failed", "operator_id", id, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]int{"released": released})
}

func (h *AdminIntakeHandler) lookupConversation(w http.ResponseWriter, r *http.Request) (*conversations.Conversation, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "conversationID"))
	if err != nil {
		http.Error(w, "invalid conversation id", http.StatusBadRequest)
		return nil, false
	}
	conv, err := h.convs.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, conversations.ErrConversationNotFound) {
			http.Error(w, "conversation not found", http.StatusNotFound)
			return nil, false
		}
		h.logger.Error("conversation lookup failed", "conversation_id", id, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return nil, false
	}
	return conv, true
}
