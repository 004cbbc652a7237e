package routing

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrRuleNotFound indicates the requested rule does not exist.
var ErrRuleNotFound = errors.New("routing: rule not found")

// ConditionType discriminates what a rule matches against.
type ConditionType string

const (
	// ConditionSchedule matches a weekly time window, value like
	// "mon-fri 09:00-18:00".
	ConditionSchedule ConditionType = "schedule"
	// ConditionOrigin matches the channel origin the conversation came from.
	ConditionOrigin ConditionType = "origin"
	// ConditionKeyword matches a case-insensitive substring of the first
	// message text.
	ConditionKeyword ConditionType = "keyword"
	// ConditionSector matches the classified sector/intent label.
	ConditionSector ConditionType = "sector"
)

// DestinationType says what kind of target a rule routes to.
type DestinationType string

const (
	DestinationOperator DestinationType = "operator"
	DestinationQueue    DestinationType = "queue"
	// DestinationUnit routes to a business unit, which resolves to the unit's
	// default queue.
	DestinationUnit DestinationType = "unit"
)

// Rule is one routing decision candidate. Rules are evaluated in descending
// priority; the first match wins.
type Rule struct {
	ID              uuid.UUID
	ConditionType   ConditionType
	ConditionValue  string
	DestinationType DestinationType
	DestinationID   uuid.UUID
	Priority        int
	Active          bool
	CreatedAt       time.Time
}

// Decision is the outcome of evaluating the rule set for one conversation.
type Decision struct {
	Rule            *Rule
	DestinationType DestinationType
	DestinationID   uuid.UUID
}
