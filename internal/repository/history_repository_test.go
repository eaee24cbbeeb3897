package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/finnybot/internal/models"
)

func TestRecent_ReturnsChronologicalOrder(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewHistoryRepository(db)
	now := time.Now()

	// The query reads newest-first; Recent must hand back oldest-first.
	rows := sqlmock.NewRows([]string{"id", "chat_id", "role", "content", "created_at"}).
		AddRow(int64(3), int64(7), "assistant", "третий", now).
		AddRow(int64(2), int64(7), "user", "второй", now).
		AddRow(int64(1), int64(7), "user", "первый", now)
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY id DESC")).
		WithArgs(int64(7), 10).
		WillReturnRows(rows)

	messages, err := repo.Recent(context.Background(), 7, 10)
	require.NoError(t, err)
	require.Len(t, messages, 3)
	assert.Equal(t, "первый", messages[0].Content)
	assert.Equal(t, models.RoleUser, messages[0].Role)
	assert.Equal(t, "третий", messages[2].Content)
	assert.Equal(t, models.RoleAssistant, messages[2].Role)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClear_DeletesConversation(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewHistoryRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM chat_history WHERE chat_id = $1")).
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 4))

	require.NoError(t, repo.Clear(context.Background(), 7))
	assert.NoError(t, mock.ExpectationsWereMet())
}
