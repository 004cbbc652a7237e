package conversations

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// State is the triage lifecycle state of a conversation.
type State string

const (
	StateNew                State = "new"
	StateWalletCheck        State = "wallet_check"
	StateCustomerLinkCheck  State = "customer_link_check"
	StateAwaitingIdentifier State = "awaiting_identifier"
	StateAIClassifying      State = "ai_classifying"
	StateRouted             State = "routed"
	StateQueued             State = "queued"
	StateErrored            State = "errored"
	StateClosed             State = "closed"
)

// ErrConversationNotFound indicates the requested conversation does not exist.
var ErrConversationNotFound = errors.New("conversations: not found")

// ErrInvalidTransition indicates a state transition the machine does not allow.
var ErrInvalidTransition = errors.New("conversations: invalid state transition")

// ErrStateConflict indicates a conditional state update lost a race.
var ErrStateConflict = errors.New("conversations: state changed concurrently")

// transitions lists the allowed next states for each state. Errored is
// re-enterable from every non-terminal state, and every intermediate state may
// fall into errored.
var transitions = map[State][]State{
	StateNew:                {StateWalletCheck, StateErrored},
	StateWalletCheck:        {StateCustomerLinkCheck, StateRouted, StateErrored},
	StateCustomerLinkCheck:  {StateAwaitingIdentifier, StateAIClassifying, StateRouted, StateErrored},
	StateAwaitingIdentifier: {StateAwaitingIdentifier, StateAIClassifying, StateRouted, StateErrored},
	StateAIClassifying:      {StateRouted, StateQueued, StateErrored},
	StateErrored:            {StateNew, StateQueued},
	StateQueued:             {StateRouted, StateQueued, StateErrored},
	StateRouted:             {StateQueued, StateClosed},
	StateClosed:             {},
}

// CanTransition reports whether the state machine permits moving from one
// state to another.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether a state ends the triage flow for a conversation.
func (s State) Terminal() bool {
	return s == StateRouted || s == StateQueued || s == StateClosed
}

// Conversation is an ongoing exchange with one external contact.
type Conversation struct {
	ID                  uuid.UUID
	ContactID           string
	ChannelAccountID    string
	FirstMessage        string
	State               State
	AssignedOperatorID  *uuid.UUID
	QueueID             *uuid.UUID
	PriorityTag         string
	Sentiment           string
	Intent              string
	TriageAttempts      int
	NextAttemptAt       *time.Time
	IdentifierRequested bool
	IdentifierScanCount int
	CreatedAt           time.Time
	UpdatedAt           time.Time
	ClosedAt            *time.Time
}

// Open reports whether the conversation is still active.
func (c *Conversation) Open() bool {
	return c.ClosedAt == nil
}
