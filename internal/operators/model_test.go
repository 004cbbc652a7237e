package operators

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func at(hour, minute int) time.Time {
	return time.Date(2025, 3, 10, hour, minute, 0, 0, time.UTC)
}

func TestWithinWorkingHours(t *testing.T) {
	op := &Operator{WorkStartMin: 9 * 60, WorkEndMin: 18 * 60}

	assert.True(t, op.WithinWorkingHours(at(9, 0)))
	assert.True(t, op.WithinWorkingHours(at(13, 30)))
	assert.False(t, op.WithinWorkingHours(at(18, 0)))
	assert.False(t, op.WithinWorkingHours(at(8, 59)))
	assert.False(t, op.WithinWorkingHours(at(23, 0)))
}

func TestWithinWorkingHoursOvernightShift(t *testing.T) {
	op := &Operator{WorkStartMin: 22 * 60, WorkEndMin: 6 * 60}

	assert.True(t, op.WithinWorkingHours(at(23, 0)))
	assert.True(t, op.WithinWorkingHours(at(2, 0)))
	assert.False(t, op.WithinWorkingHours(at(12, 0)))
	assert.False(t, op.WithinWorkingHours(at(6, 0)))
}

func TestWithinWorkingHoursNoShift(t *testing.T) {
	op := &Operator{WorkStartMin: 0, WorkEndMin: 0}
	assert.True(t, op.WithinWorkingHours(at(3, 0)))
	assert.True(t, op.WithinWorkingHours(at(15, 0)))
}

func TestHasSlack(t *testing.T) {
	assert.True(t, (&Operator{Capacity: 2, Load: 1}).HasSlack())
	assert.False(t, (&Operator{Capacity: 2, Load: 2}).HasSlack())
	assert.False(t, (&Operator{Capacity: 0, Load: 0}).HasSlack())
}

func TestMemberOf(t *testing.T) {
	q1 := uuid.New()
	q2 := uuid.New()
	op := &Operator{QueueIDs: []uuid.UUID{q1}}

	assert.True(t, op.MemberOf(nil), "nil queue matches any operator")
	assert.True(t, op.MemberOf(&q1))
	assert.False(t, op.MemberOf(&q2))
}

func TestValidStatus(t *testing.T) {
	assert.True(t, ValidStatus(StatusOnline))
	assert.True(t, ValidStatus(StatusOffline))
	assert.False(t, ValidStatus(Status("vacation")))
}
