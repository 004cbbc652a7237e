package routing

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ruleRows(rules ...*Rule) *pgxmock.Rows {
	rows := pgxmock.NewRows([]string{
		"id", "condition_type", "condition_value", "destination_type",
		"destination_id", "priority", "active", "created_at",
	})
	for _, r := range rules {
		rows.AddRow(r.ID, r.ConditionType, r.ConditionValue, r.DestinationType,
			r.DestinationID, r.Priority, r.Active, r.CreatedAt)
	}
	return rows
}

func TestListActiveReturnsRulesInOrder(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := newStoreWithExec(mock)
	high := &Rule{ID: uuid.New(), ConditionType: ConditionKeyword, ConditionValue: "cancel",
		DestinationType: DestinationQueue, DestinationID: uuid.New(), Priority: 100, Active: true, CreatedAt: time.Now()}
	low := &Rule{ID: uuid.New(), ConditionType: ConditionOrigin, ConditionValue: "whatsapp",
		DestinationType: DestinationOperator, DestinationID: uuid.New(), Priority: 10, Active: true, CreatedAt: time.Now()}

	mock.ExpectQuery("SELECT (.+) FROM routing_rules").
		WillReturnRows(ruleRows(high, low))

	rules, err := store.ListActive(context.Background())
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, high.ID, rules[0].ID)
	assert.Equal(t, low.ID, rules[1].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateAssignsID(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := newStoreWithExec(mock)
	rule := &Rule{
		ConditionType:   ConditionSector,
		ConditionValue:  "billing",
		DestinationType: DestinationQueue,
		DestinationID:   uuid.New(),
		Priority:        50,
		Active:          true,
	}

	mock.ExpectExec("INSERT INTO routing_rules").
		WithArgs(pgxmock.AnyArg(), ConditionSector, "billing", DestinationQueue, rule.DestinationID, 50, true).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Create(context.Background(), rule))
	assert.NotEqual(t, uuid.Nil, rule.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetActiveUnknownRule(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := newStoreWithExec(mock)
	id := uuid.New()

	mock.ExpectExec("UPDATE routing_rules SET active").
		WithArgs(id, false).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err = store.SetActive(context.Background(), id, false)
	assert.ErrorIs(t, err, ErrRuleNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
