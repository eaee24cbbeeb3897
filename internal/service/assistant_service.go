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

const assistantsCacheKey = "assistants_config"

// FallbackPrompt is used when the selected assistant no longer exists.
const FallbackPrompt = "Вы просто бот."

// AssistantService serves the assistant catalog through a Redis read-through
// cache. The cache holds the whole catalog as one JSON document and is
// replaced, never patched, on every write.
type AssistantService struct {
	repo   *repository.AssistantRepository
	cache  *redis.Client
	logger *slog.Logger
	ttl    time.Duration
}

func NewAssistantService(repo *repository.AssistantRepository, cache *redis.Client, logger *slog.Logger, ttl time.Duration) *AssistantService {
	return &AssistantService{repo: repo, cache: cache, logger: logger, ttl: ttl}
}

// All returns the catalog, serving from cache when possible. A cache outage
// degrades to the database, it never fails the request.
func (s *AssistantService) All(ctx context.Context) ([]models.Assistant, error) {
	if s.cache != nil {
		raw, err := s.cache.Get(ctx, assistantsCacheKey).Result()
		if err == nil {
			var assistants []models.Assistant
			if err := json.Unmarshal([]byte(raw), &assistants); err == nil {
				return assistants, nil
			}
			s.logger.Warn("corrupt assistants cache entry, rebuilding", "error", err)
		} else if err != redis.Nil {
			s.logger.Warn("assistants cache read failed", "error", err)
		}
	}

	assistants, err := s.repo.All(ctx)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if raw, err := json.Marshal(assistants); err == nil {
			if err := s.cache.Set(ctx, assistantsCacheKey, raw, s.ttl).Err(); err != nil {
				s.logger.Warn("assistants cache write failed", "error", err)
			}
		}
	}
	return assistants, nil
}

// Resolve maps an assistant key to its system prompt. An unknown or empty key
// resolves to the fallback prompt instead of an error, so a stale selection
// never blocks a conversation.
func (s *AssistantService) Resolve(ctx context.Context, key string) (string, error) {
	if key == "" {
		return FallbackPrompt, nil
	}
	assistants, err := s.All(ctx)
	if err != nil {
		return "", err
	}
	for _, a := range assistants {
		if a.Key == key {
			return a.Prompt, nil
		}
	}
	return FallbackPrompt, nil
}

// Get returns one assistant by key, nil when absent.
func (s *AssistantService) Get(ctx context.Context, key string) (*models.Assistant, error) {
	return s.repo.GetByKey(ctx, key)
}

func (s *AssistantService) Upsert(ctx context.Context, a models.Assistant) error {
	if a.Key == "" || a.Name == "" || a.Prompt == "" {
		return fmt.Errorf("assistant requires key, name and prompt")
	}
	if err := s.repo.Upsert(ctx, a); err != nil {
		return err
	}
	s.Invalidate(ctx)
	return nil
}

func (s *AssistantService) Delete(ctx context.Context, key string) error {
	if err := s.repo.Delete(ctx, key); err != nil {
		return err
	}
	s.Invalidate(ctx)
	return nil
}

// Invalidate drops the cached catalog so the next read rebuilds it.
func (s *AssistantService) Invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, assistantsCacheKey).Err(); err != nil {
		s.logger.Warn("assistants cache invalidation failed", "error", err)
	}
}

// Seed installs the default consultants when the catalog is empty.
func (s *AssistantService) Seed(ctx context.Context) error {
	count, err := s.repo.Count(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	defaults := []models.Assistant{
		{
			Key:    "finance",
			Name:   "Финансовый консультант",
			Prompt: "Вы — опытный финансовый консультант. Отвечайте обстоятельно и по делу, объясняйте термины простым языком.",
		},
		{
			Key:    "lawyer",
			Name:   "Юридический консультант",
			Prompt: "Вы — юридический консультант. Отвечайте аккуратно, ссылайтесь на общие нормы права и предупреждайте, что ответ не заменяет консультацию юриста.",
		},
		{
			Key:    "psychologist",
			Name:   "Психолог",
			Prompt: "Вы — внимательный психолог. Поддерживайте собеседника, задавайте уточняющие вопросы, избегайте категоричных оценок.",
		},
	}
	for _, a := range defaults {
		if err := s.repo.Upsert(ctx, a); err != nil {
			return err
		}
	}
	s.logger.Info("seeded default assistants", "count", len(defaults))
	s.Invalidate(ctx)
	return nil
}
