package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/relayhq/intake-engine/internal/routing"
	"github.com/relayhq/intake-engine/pkg/logging"
)

// RuleStore is the slice of the routing store the admin API needs.
type RuleStore interface {
	ListActive(ctx context.Context) ([]*routing.Rule, error)
	Create(ctx context.Context, r *routing.Rule) error
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
}

// AdminRulesHandler manages routing rules.
type AdminRulesHandler struct {
	rules  RuleStore
	logger *logging.Logger
}

// NewAdminRulesHandler creates the routing rule admin handler.
func NewAdminRulesHandler(rules RuleStore, logger *logging.Logger) *AdminRulesHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminRulesHandler{rules: rules, logger: logger}
}

type ruleResponse struct {
	ID              uuid.UUID               `json:"id"`
	ConditionType   routing.ConditionType   `json:"condition_type"`
	ConditionValue  string                  `json:"condition_value"`
	DestinationType routing.DestinationType `json:"destination_type"`
	DestinationID   uuid.UUID               `json:"destination_id"`
	Priority        int                     `json:"priority"`
	Active          bool                    `json:"active"`
	CreatedAt       time.Time               `json:"created_at"`
}

// ListRules returns all active rules in evaluation order.
// GET /admin/rules
func (h *AdminRulesHandler) ListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.rules.ListActive(r.Context())
	if err != nil {
		h.logger.Error("rule listing failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	resp := struct {
		Rules []ruleResponse `json:"rules"`
		Total int            `json:"total"`
	}{Rules: make([]ruleResponse, 0, len(rules))}
	for _, rule := range rules {
		resp.Rules = append(resp.Rules, ruleResponse{
			ID:              rule.ID,
			ConditionType:   rule.ConditionType,
			ConditionValue:  rule.ConditionValue,
			DestinationType: rule.DestinationType,
			DestinationID:   rule.DestinationID,
			Priority:        rule.Priority,
			Active:          rule.Active,
			CreatedAt:       rule.CreatedAt,
		})
	}
	resp.Total = len(resp.Rules)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

type createRuleRequest struct {
	ConditionType   routing.ConditionType   `json:"condition_type"`
	ConditionValue  string                  `json:"condition_value"`
	DestinationType routing.DestinationType `json:"destination_type"`
	DestinationID   uuid.UUID               `json:"destination_id"`
	Priority        int                     `json:"priority"`
}

func validConditionType(t routing.ConditionType) bool {
	switch t {
	case routing.ConditionSchedule, routing.ConditionOrigin, routing.ConditionKeyword, routing.ConditionSector:
		return true
	}
	return false
}

func validDestinationType(t routing.DestinationType) bool {
	switch t {
	case routing.DestinationOperator, routing.DestinationQueue, routing.DestinationUnit:
		return true
	}
	return false
}

// CreateRule adds a routing rule.
// POST /admin/rules
func (h *AdminRulesHandler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var req createRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if !validConditionType(req.ConditionType) {
		http.Error(w, "unknown condition_type", http.StatusBadRequest)
		return
	}
	if req.ConditionValue == "" {
		http.Error(w, "condition_value is required", http.StatusBadRequest)
		return
	}
	if !validDestinationType(req.DestinationType) {
		http.Error(w, "unknown destination_type", http.StatusBadRequest)
		return
	}
	if req.DestinationID == uuid.Nil {
		http.Error(w, "destination_id is required", http.StatusBadRequest)
		return
	}

	rule := &routing.Rule{
		ID:              uuid.New(),
		ConditionType:   req.ConditionType,
		ConditionValue:  req.ConditionValue,
		DestinationType: req.DestinationType,
		DestinationID:   req.DestinationID,
		Priority:        req.Priority,
		Active:          true,
	}
	if err := h.rules.Create(r.Context(), rule); err != nil {
		h.logger.Error("rule creation failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]string{"id": rule.ID.String()})
}

type setRuleActiveRequest struct {
	Active bool `json:"active"`
}

// SetRuleActive enables or disables a rule.
// PATCH /admin/rules/{ruleID}
func (h *AdminRulesHandler) SetRuleActive(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "ruleID"))
	if err != nil {
		http.Error(w, "invalid rule id", http.StatusBadRequest)
		return
	}
	var req setRuleActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.rules.SetActive(r.Context(), id, req.Active); err != nil {
		h.logger.Error("rule update failed", "rule_id", id, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
