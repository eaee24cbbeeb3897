package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/finnybot/internal/models"
	"github.com/example/finnybot/internal/repository"
)

const historyCacheTTL = 5 * time.Minute

// HistoryService exposes the conversation window used to build model context.
// Reads go through an optional Redis cache; writes drop the cached window so
// the next read rebuilds it from Postgres.
type HistoryService struct {
	repo   *repository.HistoryRepository
	cache  *redis.Client
	logger *slog.Logger
	limit  int
}

func NewHistoryService(repo *repository.HistoryRepository, cache *redis.Client, logger *slog.Logger, limit int) *HistoryService {
	return &HistoryService{repo: repo, cache: cache, logger: logger, limit: limit}
}

func historyCacheKey(chatID int64) string {
	return fmt.Sprintf("chat_history:%d", chatID)
}

func (s *HistoryService) Append(ctx context.Context, chatID int64, role models.Role, content string) error {
	if err := s.repo.Append(ctx, chatID, role, content); err != nil {
		return err
	}
	s.invalidate(ctx, chatID)
	return nil
}

// Recent returns the sliding window of latest messages, oldest first.
func (s *HistoryService) Recent(ctx context.Context, chatID int64) ([]models.ConversationMessage, error) {
	if s.cache != nil {
		raw, err := s.cache.Get(ctx, historyCacheKey(chatID)).Result()
		if err == nil {
			var messages []models.ConversationMessage
			if err := json.Unmarshal([]byte(raw), &messages); err == nil {
				return messages, nil
			}
			s.logger.Warn("corrupt history cache entry, rebuilding", "chat_id", chatID, "error", err)
		} else if err != redis.Nil {
			s.logger.Warn("history cache read failed", "chat_id", chatID, "error", err)
		}
	}

	messages, err := s.repo.Recent(ctx, chatID, s.limit)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if raw, err := json.Marshal(messages); err == nil {
			if err := s.cache.Set(ctx, historyCacheKey(chatID), raw, historyCacheTTL).Err(); err != nil {
				s.logger.Warn("history cache write failed", "chat_id", chatID, "error", err)
			}
		}
	}
	return messages, nil
}

func (s *HistoryService) Clear(ctx context.Context, chatID int64) error {
	if err := s.repo.Clear(ctx, chatID); err != nil {
		return err
	}
	s.invalidate(ctx, chatID)
	return nil
}

func (s *HistoryService) invalidate(ctx context.Context, chatID int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, historyCacheKey(chatID)).Err(); err != nil {
		s.logger.Warn("history cache invalidation failed", "chat_id", chatID, "error", err)
	}
}
