package events

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessedStoreDedup(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := newProcessedStoreWithExec(mock)

	mock.ExpectQuery("SELECT 1 FROM processed_events").WithArgs("evt-1").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(1))
	seen, err := store.AlreadyProcessed(context.Background(), "evt-1")
	require.NoError(t, err)
	assert.True(t, seen)

	mock.ExpectQuery("SELECT 1 FROM processed_events").WithArgs("evt-miss").
		WillReturnError(pgx.ErrNoRows)
	seen, err = store.AlreadyProcessed(context.Background(), "evt-miss")
	require.NoError(t, err)
	assert.False(t, seen)

	mock.ExpectExec("INSERT INTO processed_events").WithArgs("evt-new").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	first, err := store.MarkProcessed(context.Background(), "evt-new")
	require.NoError(t, err)
	assert.True(t, first)

	mock.ExpectExec("INSERT INTO processed_events").WithArgs("evt-new").
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	first, err = store.MarkProcessed(context.Background(), "evt-new")
	require.NoError(t, err)
	assert.False(t, first, "second consumer loses the insert race")

	assert.NoError(t, mock.ExpectationsWereMet())
}
