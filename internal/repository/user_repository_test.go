package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsumeTokens_SufficientBalance(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewUserRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET daily_tokens = daily_tokens - $2")).
		WithArgs(int64(42), int64(500)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := repo.ConsumeTokens(context.Background(), 42, 500)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestConsumeTokens_InsufficientBalance(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewUserRepository(db)

	// The conditional update refuses a debit larger than the balance.
	mock.ExpectExec(regexp.QuoteMeta("UPDATE users SET daily_tokens = daily_tokens - $2")).
		WithArgs(int64(42), int64(99999)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := repo.ConsumeTokens(context.Background(), 42, 99999)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResetDailyTokens_OncePerDay(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewUserRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("last_reset < CURRENT_DATE")).
		WithArgs(int64(42), int64(30000)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("last_reset < CURRENT_DATE")).
		WithArgs(int64(42), int64(30000)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	reset, err := repo.ResetDailyTokens(context.Background(), 42, 30000)
	require.NoError(t, err)
	assert.True(t, reset)

	reset, err = repo.ResetDailyTokens(context.Background(), 42, 30000)
	require.NoError(t, err)
	assert.False(t, reset, "same-day repeat must be a no-op")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStartTrial_OneShot(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewUserRepository(db)
	start := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 3)

	mock.ExpectExec(regexp.QuoteMeta("trial_used = FALSE")).
		WithArgs(int64(42), start, end).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("trial_used = FALSE")).
		WithArgs(int64(42), start, end).
		WillReturnResult(sqlmock.NewResult(0, 0))

	granted, err := repo.StartTrial(context.Background(), 42, start, end)
	require.NoError(t, err)
	assert.True(t, granted)

	granted, err = repo.StartTrial(context.Background(), 42, start, end)
	require.NoError(t, err)
	assert.False(t, granted, "trial must not be grantable twice")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByTelegramID_Missing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewUserRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM users WHERE user_id = $1")).
		WithArgs(int64(404)).
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}))

	user, err := repo.FindByTelegramID(context.Background(), 404)
	require.NoError(t, err)
	assert.Nil(t, user)
	assert.NoError(t, mock.ExpectationsWereMet())
}
