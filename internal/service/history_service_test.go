package service

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/finnybot/internal/models"
	"github.com/example/finnybot/internal/repository"
)

func newHistoryFixture(t *testing.T) (*HistoryService, sqlmock.Sqlmock, *miniredis.Miniredis) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	svc := NewHistoryService(repository.NewHistoryRepository(db), client, testLogger(), 10)
	return svc, mock, mr
}

func historyRows(contents ...string) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"id", "chat_id", "role", "content", "created_at"})
	for i := len(contents) - 1; i >= 0; i-- {
		rows.AddRow(int64(i+1), int64(7), "user", contents[i], time.Now())
	}
	return rows
}

func TestHistoryRecent_PopulatesCacheOnMiss(t *testing.T) {
	svc, mock, mr := newHistoryFixture(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM chat_history")).
		WithArgs(int64(7), 10).
		WillReturnRows(historyRows("вопрос"))

	messages, err := svc.Recent(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.True(t, mr.Exists(historyCacheKey(7)))

	// Second read is served from the cache.
	messages, err = svc.Recent(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "вопрос", messages[0].Content)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHistoryAppend_InvalidatesCache(t *testing.T) {
	svc, mock, mr := newHistoryFixture(t)

	require.NoError(t, mr.Set(historyCacheKey(7), "[]"))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO chat_history")).
		WithArgs(int64(7), string(models.RoleUser), "вопрос").
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, svc.Append(context.Background(), 7, models.RoleUser, "вопрос"))
	assert.False(t, mr.Exists(historyCacheKey(7)), "writes must drop the cached window")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHistoryClear_InvalidatesCache(t *testing.T) {
	svc, mock, mr := newHistoryFixture(t)

	require.NoError(t, mr.Set(historyCacheKey(7), "[]"))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM chat_history")).
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 3))

	require.NoError(t, svc.Clear(context.Background(), 7))
	assert.False(t, mr.Exists(historyCacheKey(7)))
	assert.NoError(t, mock.ExpectationsWereMet())
}
