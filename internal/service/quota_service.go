package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/example/finnybot/internal/models"
	"github.com/example/finnybot/internal/repository"
)

var (
	ErrUserNotFound     = errors.New("user not found")
	ErrQuotaExhausted   = errors.New("daily token quota exhausted")
	ErrTrialAlreadyUsed = errors.New("trial already used")
)

// QuotaService owns the daily token allowance and the subscription lifecycle
// transitions that affect it.
type QuotaService struct {
	users           *repository.UserRepository
	logger          *slog.Logger
	freeDailyTokens int64
	tokenUnitCost   float64
	now             func() time.Time
}

func NewQuotaService(users *repository.UserRepository, logger *slog.Logger, freeDailyTokens int64, tokenUnitCost float64) *QuotaService {
	return &QuotaService{
		users:           users,
		logger:          logger,
		freeDailyTokens: freeDailyTokens,
		tokenUnitCost:   tokenUnitCost,
		now:             time.Now,
	}
}

// Prepare brings the account into its current-moment state before any quota
// decision: an expired subscription is downgraded first, then a free account
// that has not been topped up today gets its daily allowance back. Both steps
// are lazy, there is no scheduler dependency for correctness.
func (s *QuotaService) Prepare(ctx context.Context, telegramID int64) (*models.User, error) {
	user, err := s.users.FindByTelegramID(ctx, telegramID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUserNotFound
	}

	if user.Unlimited() && user.SubscriptionEnd != nil && user.SubscriptionEnd.Before(s.now()) {
		if err := s.users.DowngradeToFree(ctx, telegramID, s.freeDailyTokens); err != nil {
			return nil, err
		}
		s.logger.Info("subscription expired, downgraded to free", "user_id", telegramID, "previous_plan", user.Plan)
		user, err = s.users.FindByTelegramID(ctx, telegramID)
		if err != nil {
			return nil, err
		}
		if user == nil {
			return nil, ErrUserNotFound
		}
	}

	if user.Plan == models.PlanFree {
		reset, err := s.users.ResetDailyTokens(ctx, telegramID, s.freeDailyTokens)
		if err != nil {
			return nil, err
		}
		if reset {
			user, err = s.users.FindByTelegramID(ctx, telegramID)
			if err != nil {
				return nil, err
			}
			if user == nil {
				return nil, ErrUserNotFound
			}
		}
	}

	return user, nil
}

// CanConsume is the pre-flight check before any model call. Paid plans are
// never gated; free plans need the estimated input charge to fit the
// remaining allowance.
func (s *QuotaService) CanConsume(user *models.User, estimated int64) bool {
	if user.Unlimited() {
		return true
	}
	return user.DailyTokens >= estimated
}

// Debit charges the daily allowance for a free account. The decrement is a
// conditional update in storage, so concurrent debits cannot overdraw.
// Paid plans pass through without touching the allowance.
func (s *QuotaService) Debit(ctx context.Context, user *models.User, tokens int64) error {
	if user.Unlimited() {
		return nil
	}
	ok, err := s.users.ConsumeTokens(ctx, user.TelegramID, tokens)
	if err != nil {
		return err
	}
	if !ok {
		return ErrQuotaExhausted
	}
	user.DailyTokens -= tokens
	return nil
}

// RecordUsage advances lifetime counters and accumulated spend. Usage is
// recorded for every completed model call, including on unlimited plans and
// even when the allowance debit was refused afterwards.
func (s *QuotaService) RecordUsage(ctx context.Context, telegramID, inputTokens, outputTokens int64) error {
	spent := float64(inputTokens+outputTokens) * s.tokenUnitCost
	return s.users.AddUsage(ctx, telegramID, inputTokens, outputTokens, spent)
}

// GrantTrial starts the one-shot trial window. The used flag is set at grant
// time inside the same conditional update, so a second call can never start
// another trial whatever else happened to the account in between.
func (s *QuotaService) GrantTrial(ctx context.Context, telegramID int64, trialDays int) (*models.User, error) {
	start := s.now()
	end := start.AddDate(0, 0, trialDays)
	granted, err := s.users.StartTrial(ctx, telegramID, start, end)
	if err != nil {
		return nil, err
	}
	if !granted {
		user, err := s.users.FindByTelegramID(ctx, telegramID)
		if err != nil {
			return nil, err
		}
		if user == nil {
			return nil, ErrUserNotFound
		}
		return nil, ErrTrialAlreadyUsed
	}
	s.logger.Info("trial granted", "user_id", telegramID, "until", end)
	return s.users.FindByTelegramID(ctx, telegramID)
}
