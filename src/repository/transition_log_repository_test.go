package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"exitexecutor/src/model"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func TestTransitionLogRepositoryListByPlan(t *testing.T) {
	mockDB, mock := newMockDB(t)
	repo := NewTransitionLogRepository(mockDB)

	at := time.Date(2025, 6, 2, 14, 30, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "strategy", "opening_order_id", "from_state", "to_state", "event", "occurred_at"}).
		AddRow(1, "bracket", 1001, "", "pending_fill", "created", at).
		AddRow(2, "bracket", 1001, "pending_fill", "waiting_confirmation", "fill_observed", at.Add(5*time.Second))

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "plan_transition_logs" WHERE strategy = $1 AND opening_order_id = $2 ORDER BY occurred_at, id`)).
		WithArgs("bracket", int64(1001)).
		WillReturnRows(rows)

	logs, err := repo.ListByPlan(context.Background(), model.StrategyBracket, 1001)
	if err != nil {
		t.Fatalf("unexpected error listing transitions: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("expected 2 transitions, got %d", len(logs))
	}
	require.Equal(t, model.StateWaitingConfirmation, logs[1].ToState)
	require.Equal(t, "fill_observed", logs[1].Event)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestExceptionRepositoryFindLatest(t *testing.T) {
	mockDB, mock := newMockDB(t)
	repo := NewExceptionRepository(mockDB)

	rows := sqlmock.NewRows([]string{"id", "service", "module", "method", "message", "level"}).
		AddRow(7, "exit_executor", "bracket", "CheckConfirmation", "order placement failed", "error")

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "exceptions" ORDER BY id DESC LIMIT $1`)).
		WithArgs(50).
		WillReturnRows(rows)

	out, err := repo.FindLatest(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "CheckConfirmation", out[0].Method)
	require.NoError(t, mock.ExpectationsWereMet())
}
