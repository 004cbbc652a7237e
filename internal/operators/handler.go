package operators

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/relayhq/intake-engine/pkg/logging"
)

// Handler exposes operator availability over HTTP.
type Handler struct {
	registry *Registry
	logger   *logging.Logger
}

// NewHandler creates an operators handler.
func NewHandler(registry *Registry, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{registry: registry, logger: logger}
}

type setStatusRequest struct {
	Status Status `json:"status"`
}

// SetStatus handles PUT /operators/{operatorID}/status
func (h *Handler) SetStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "operatorID"))
	if err != nil {
		http.Error(w, "invalid operator id", http.StatusBadRequest)
		return
	}

	var req setStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if !ValidStatus(req.Status) {
		http.Error(w, "unknown status", http.StatusBadRequest)
		return
	}

	if err := h.registry.SetStatus(r.Context(), id, req.Status); err != nil {
		if errors.Is(err, ErrOperatorNotFound) {
			http.Error(w, "operator not found", http.StatusNotFound)
			return
		}
		h.logger.Error("set status failed", "operator_id", id, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Heartbeat handles POST /operators/{operatorID}/heartbeat
func (h *Handler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "operatorID"))
	if err != nil {
		http.Error(w, "invalid operator id", http.StatusBadRequest)
		return
	}
	if err := h.registry.Heartbeat(r.Context(), id); err != nil {
		h.logger.Error("heartbeat failed", "operator_id", id, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type operatorResponse struct {
	ID             uuid.UUID  `json:"id"`
	Name           string     `json:"name"`
	Status         Status     `json:"status"`
	Capacity       int        `json:"capacity"`
	Load           int        `json:"load"`
	LastAssignedAt *time.Time `json:"lastAssignedAt,omitempty"`
}

// Get handles GET /operators/{operatorID}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "operatorID"))
	if err != nil {
		http.Error(w, "invalid operator id", http.StatusBadRequest)
		return
	}
	op, err := h.registry.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrOperatorNotFound) {
			http.Error(w, "operator not found", http.StatusNotFound)
			return
		}
		h.logger.Error("get operator failed", "operator_id", id, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(operatorResponse{
		ID:             op.ID,
		Name:           op.Name,
		Status:         op.Status,
		Capacity:       op.Capacity,
		Load:           op.Load,
		LastAssignedAt: op.LastAssignedAt,
	})
}
