package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/example/finnybot/internal/models"
)

type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `user_id, daily_tokens, last_reset, total_spent, input_tokens, output_tokens,
subscription_plan, subscription_start_date, subscription_end_date, trial_used, auto_renewal,
web_search_enabled, current_assistant, referrer_id, invited_users,
COALESCE(payment_method_id, ''), COALESCE(email, ''), created_at, updated_at`

func (r *UserRepository) FindByTelegramID(ctx context.Context, telegramID int64) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE user_id = $1`
	return r.scanUser(r.db.QueryRowContext(ctx, query, telegramID))
}

func (r *UserRepository) scanUser(row *sql.Row) (*models.User, error) {
	var u models.User
	var start, end sql.NullTime
	var referrer sql.NullInt64
	if err := row.Scan(
		&u.TelegramID, &u.DailyTokens, &u.LastReset, &u.TotalSpent, &u.InputTokens, &u.OutputTokens,
		&u.Plan, &start, &end, &u.TrialUsed, &u.AutoRenewal,
		&u.WebSearchEnabled, &u.CurrentAssistant, &referrer, &u.InvitedUsers,
		&u.PaymentMethodID, &u.Email, &u.CreatedAt, &u.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	if start.Valid {
		u.SubscriptionStart = &start.Time
	}
	if end.Valid {
		u.SubscriptionEnd = &end.Time
	}
	if referrer.Valid {
		u.ReferrerID = &referrer.Int64
	}
	return &u, nil
}

// CreateDefault registers a user with free-tier defaults. Creation is
// idempotent: a concurrent or repeated call for the same id leaves the
// existing row untouched and returns it.
func (r *UserRepository) CreateDefault(ctx context.Context, telegramID int64, referrerID *int64, freeTokens int64) (*models.User, error) {
	const query = `
INSERT INTO users (user_id, daily_tokens, last_reset, subscription_plan, referrer_id)
VALUES ($1, $2, CURRENT_DATE, 'free', $3)
ON CONFLICT (user_id) DO NOTHING`
	var referrer sql.NullInt64
	if referrerID != nil {
		referrer = sql.NullInt64{Int64: *referrerID, Valid: true}
	}
	if _, err := r.db.ExecContext(ctx, query, telegramID, freeTokens, referrer); err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	user, err := r.FindByTelegramID(ctx, telegramID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("user %d missing after insert", telegramID)
	}
	return user, nil
}

// Save writes the full row with last-writer-wins semantics.
func (r *UserRepository) Save(ctx context.Context, u *models.User) error {
	const query = `
INSERT INTO users (user_id, daily_tokens, last_reset, total_spent, input_tokens, output_tokens,
    subscription_plan, subscription_start_date, subscription_end_date, trial_used, auto_renewal,
    web_search_enabled, current_assistant, referrer_id, invited_users, payment_method_id, email, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, NULLIF($16, ''), NULLIF($17, ''), NOW())
ON CONFLICT (user_id) DO UPDATE SET
    daily_tokens = EXCLUDED.daily_tokens,
    last_reset = EXCLUDED.last_reset,
    total_spent = EXCLUDED.total_spent,
    input_tokens = EXCLUDED.input_tokens,
    output_tokens = EXCLUDED.output_tokens,
    subscription_plan = EXCLUDED.subscription_plan,
    subscription_start_date = EXCLUDED.subscription_start_date,
    subscription_end_date = EXCLUDED.subscription_end_date,
    trial_used = EXCLUDED.trial_used,
    auto_renewal = EXCLUDED.auto_renewal,
    web_search_enabled = EXCLUDED.web_search_enabled,
    current_assistant = EXCLUDED.current_assistant,
    referrer_id = EXCLUDED.referrer_id,
    invited_users = EXCLUDED.invited_users,
    payment_method_id = EXCLUDED.payment_method_id,
    email = EXCLUDED.email,
    updated_at = NOW()`
	var start, end sql.NullTime
	if u.SubscriptionStart != nil {
		start = sql.NullTime{Time: *u.SubscriptionStart, Valid: true}
	}
	if u.SubscriptionEnd != nil {
		end = sql.NullTime{Time: *u.SubscriptionEnd, Valid: true}
	}
	var referrer sql.NullInt64
	if u.ReferrerID != nil {
		referrer = sql.NullInt64{Int64: *u.ReferrerID, Valid: true}
	}
	if _, err := r.db.ExecContext(ctx, query,
		u.TelegramID, u.DailyTokens, u.LastReset, u.TotalSpent, u.InputTokens, u.OutputTokens,
		u.Plan, start, end, u.TrialUsed, u.AutoRenewal,
		u.WebSearchEnabled, u.CurrentAssistant, referrer, u.InvitedUsers, u.PaymentMethodID, u.Email,
	); err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	return nil
}

// ConsumeTokens decrements the daily allowance only when it fully covers the
// requested amount. The conditional UPDATE makes the debit atomic, so two
// racing requests cannot both spend the same tokens.
func (r *UserRepository) ConsumeTokens(ctx context.Context, telegramID, amount int64) (bool, error) {
	const query = `
UPDATE users SET daily_tokens = daily_tokens - $2, updated_at = NOW()
WHERE user_id = $1 AND daily_tokens >= $2`
	res, err := r.db.ExecContext(ctx, query, telegramID, amount)
	if err != nil {
		return false, fmt.Errorf("consume tokens: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("consume tokens rows affected: %w", err)
	}
	return affected > 0, nil
}

// AddUsage advances the monotonic token counters and the monetary accumulator.
func (r *UserRepository) AddUsage(ctx context.Context, telegramID, inputTokens, outputTokens int64, spent float64) error {
	const query = `
UPDATE users SET input_tokens = input_tokens + $2, output_tokens = output_tokens + $3,
    total_spent = total_spent + $4, updated_at = NOW()
WHERE user_id = $1`
	if _, err := r.db.ExecContext(ctx, query, telegramID, inputTokens, outputTokens, spent); err != nil {
		return fmt.Errorf("add usage: %w", err)
	}
	return nil
}

// ResetDailyTokens replenishes the free allowance once per calendar day.
// Calling it again on the same day is a no-op (affected == 0).
func (r *UserRepository) ResetDailyTokens(ctx context.Context, telegramID, amount int64) (bool, error) {
	const query = `
UPDATE users SET daily_tokens = $2, last_reset = CURRENT_DATE, updated_at = NOW()
WHERE user_id = $1 AND last_reset < CURRENT_DATE`
	res, err := r.db.ExecContext(ctx, query, telegramID, amount)
	if err != nil {
		return false, fmt.Errorf("reset daily tokens: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("reset rows affected: %w", err)
	}
	return affected > 0, nil
}

// DowngradeToFree reverts an expired subscription to the free tier.
func (r *UserRepository) DowngradeToFree(ctx context.Context, telegramID, freeTokens int64) error {
	const query = `
UPDATE users SET subscription_plan = 'free', daily_tokens = $2, web_search_enabled = FALSE,
    subscription_start_date = NULL, subscription_end_date = NULL, updated_at = NOW()
WHERE user_id = $1`
	if _, err := r.db.ExecContext(ctx, query, telegramID, freeTokens); err != nil {
		return fmt.Errorf("downgrade user: %w", err)
	}
	return nil
}

// StartTrial activates the trial exactly once per account: the conditional
// on trial_used makes a repeated grant report false instead of extending.
func (r *UserRepository) StartTrial(ctx context.Context, telegramID int64, start, end time.Time) (bool, error) {
	const query = `
UPDATE users SET subscription_plan = 'plus_trial', trial_used = TRUE, web_search_enabled = TRUE,
    subscription_start_date = $2, subscription_end_date = $3, updated_at = NOW()
WHERE user_id = $1 AND trial_used = FALSE`
	res, err := r.db.ExecContext(ctx, query, telegramID, start, end)
	if err != nil {
		return false, fmt.Errorf("start trial: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("trial rows affected: %w", err)
	}
	return affected > 0, nil
}

// SetSubscription puts the account on the given paid plan for the window.
func (r *UserRepository) SetSubscription(ctx context.Context, telegramID int64, plan models.Plan, start, end time.Time) error {
	const query = `
UPDATE users SET subscription_plan = $2, subscription_start_date = $3, subscription_end_date = $4,
    web_search_enabled = TRUE, updated_at = NOW()
WHERE user_id = $1`
	if _, err := r.db.ExecContext(ctx, query, telegramID, plan, start, end); err != nil {
		return fmt.Errorf("set subscription: %w", err)
	}
	return nil
}

func (r *UserRepository) SetPaymentMethod(ctx context.Context, telegramID int64, methodID string, autoRenewal bool) error {
	const query = `
UPDATE users SET payment_method_id = NULLIF($2, ''), auto_renewal = $3, updated_at = NOW()
WHERE user_id = $1`
	if _, err := r.db.ExecContext(ctx, query, telegramID, methodID, autoRenewal); err != nil {
		return fmt.Errorf("set payment method: %w", err)
	}
	return nil
}

func (r *UserRepository) SetAssistant(ctx context.Context, telegramID int64, assistantKey string) error {
	const query = `UPDATE users SET current_assistant = $2, updated_at = NOW() WHERE user_id = $1`
	if _, err := r.db.ExecContext(ctx, query, telegramID, assistantKey); err != nil {
		return fmt.Errorf("set assistant: %w", err)
	}
	return nil
}

// RewardReferrer credits the inviter for a successful referral.
func (r *UserRepository) RewardReferrer(ctx context.Context, referrerID, bonusTokens int64) error {
	const query = `
UPDATE users SET invited_users = invited_users + 1, daily_tokens = daily_tokens + $2, updated_at = NOW()
WHERE user_id = $1`
	if _, err := r.db.ExecContext(ctx, query, referrerID, bonusTokens); err != nil {
		return fmt.Errorf("reward referrer: %w", err)
	}
	return nil
}

// ListExpiredSubscriptions returns ids of accounts on the given plan whose
// subscription window closed before now.
func (r *UserRepository) ListExpiredSubscriptions(ctx context.Context, plan models.Plan, now time.Time) ([]int64, error) {
	const query = `
SELECT user_id FROM users
WHERE subscription_plan = $1 AND subscription_end_date IS NOT NULL AND subscription_end_date < $2`
	rows, err := r.db.QueryContext(ctx, query, plan, now)
	if err != nil {
		return nil, fmt.Errorf("list expired subscriptions: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan expired subscription: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *UserRepository) ListTelegramIDs(ctx context.Context) ([]int64, error) {
	const query = `SELECT user_id FROM users`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list telegram ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan telegram id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
