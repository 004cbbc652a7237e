package operators

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status is the live availability state of an operator.
type Status string

const (
	StatusOnline  Status = "online"
	StatusBusy    Status = "busy"
	StatusAway    Status = "away"
	StatusOffline Status = "offline"
)

// ErrOperatorNotFound indicates the requested operator does not exist.
var ErrOperatorNotFound = errors.New("operators: not found")

// ValidStatus reports whether s is a known operator status.
func ValidStatus(s Status) bool {
	switch s {
	case StatusOnline, StatusBusy, StatusAway, StatusOffline:
		return true
	}
	return false
}

// Operator is a human agent. Operators are created and destroyed by identity
// management; this subsystem only reads them and mutates availability state.
type Operator struct {
	ID             uuid.UUID
	Name           string
	Email          string
	Phone          string
	Status         Status
	Capacity       int
	Load           int // derived count of open assignments
	WorkStartMin   int // minutes since midnight, UTC
	WorkEndMin     int
	QueueIDs       []uuid.UUID
	LastAssignedAt *time.Time
	UpdatedAt      time.Time
}

// WithinWorkingHours reports whether now falls inside the operator's shift.
// Shifts that cross midnight (start > end) wrap around.
func (o *Operator) WithinWorkingHours(now time.Time) bool {
	minute := now.UTC().Hour()*60 + now.UTC().Minute()
	start, end := o.WorkStartMin, o.WorkEndMin
	if start == end {
		return true // no shift configured means always on
	}
	if start < end {
		return minute >= start && minute < end
	}
	return minute >= start || minute < end
}

// HasSlack reports whether the operator can take one more conversation.
func (o *Operator) HasSlack() bool {
	return o.Load < o.Capacity
}

// MemberOf reports whether the operator belongs to the given queue. A nil
// queue id means "any queue" and always matches.
func (o *Operator) MemberOf(queueID *uuid.UUID) bool {
	if queueID == nil {
		return true
	}
	for _, q := range o.QueueIDs {
		if q == *queueID {
			return true
		}
	}
	return false
}
