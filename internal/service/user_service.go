package service

import (
	"context"
	"log/slog"

	"github.com/example/finnybot/internal/models"
	"github.com/example/finnybot/internal/repository"
)

// UserService handles registration and profile-level operations.
type UserService struct {
	users               *repository.UserRepository
	logger              *slog.Logger
	freeDailyTokens     int64
	referralBonusTokens int64
}

func NewUserService(users *repository.UserRepository, logger *slog.Logger, freeDailyTokens, referralBonusTokens int64) *UserService {
	return &UserService{
		users:               users,
		logger:              logger,
		freeDailyTokens:     freeDailyTokens,
		referralBonusTokens: referralBonusTokens,
	}
}

// Register creates the account on first contact. The referrer is credited
// only when the account is genuinely new; a returning user re-sending a
// referral deep link changes nothing.
func (s *UserService) Register(ctx context.Context, telegramID int64, referrerID *int64) (*models.User, error) {
	existing, err := s.users.FindByTelegramID(ctx, telegramID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	if referrerID != nil && *referrerID == telegramID {
		referrerID = nil
	}
	user, err := s.users.CreateDefault(ctx, telegramID, referrerID, s.freeDailyTokens)
	if err != nil {
		return nil, err
	}
	s.logger.Info("registered new user", "user_id", telegramID)

	if user.ReferrerID != nil {
		if err := s.users.RewardReferrer(ctx, *user.ReferrerID, s.referralBonusTokens); err != nil {
			s.logger.Warn("referral reward failed", "referrer_id", *user.ReferrerID, "error", err)
		} else {
			s.logger.Info("referral reward applied", "referrer_id", *user.ReferrerID, "bonus_tokens", s.referralBonusTokens)
		}
	}
	return user, nil
}

func (s *UserService) Find(ctx context.Context, telegramID int64) (*models.User, error) {
	user, err := s.users.FindByTelegramID(ctx, telegramID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	return user, nil
}

func (s *UserService) SetAssistant(ctx context.Context, telegramID int64, assistantKey string) error {
	return s.users.SetAssistant(ctx, telegramID, assistantKey)
}

func (s *UserService) SetWebSearchEnabled(ctx context.Context, user *models.User, enabled bool) error {
	user.WebSearchEnabled = enabled
	return s.users.Save(ctx, user)
}

func (s *UserService) ListTelegramIDs(ctx context.Context) ([]int64, error) {
	return s.users.ListTelegramIDs(ctx)
}
