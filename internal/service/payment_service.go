package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"

	"github.com/example/finnybot/internal/config"
	"github.com/example/finnybot/internal/models"
	"github.com/example/finnybot/internal/repository"
)

const subscriptionDays = 30

// PaymentService sells and renews the monthly subscription. It supports
// Telegram's native invoices and YooKassa redirect payments; YooKassa also
// provides saved-method charges for auto-renewal.
type PaymentService struct {
	cfg      config.Config
	payments *repository.PaymentRepository
	users    *repository.UserRepository
	logger   *slog.Logger
	client   *http.Client
	now      func() time.Time
}

func NewPaymentService(cfg config.Config, payments *repository.PaymentRepository, users *repository.UserRepository, logger *slog.Logger) *PaymentService {
	return &PaymentService{
		cfg:      cfg,
		payments: payments,
		users:    users,
		logger:   logger,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		now: time.Now,
	}
}

// SendInvoice sends a payment link or invoice depending on configured provider.
func (s *PaymentService) SendInvoice(ctx context.Context, bot *tgbotapi.BotAPI, user *models.User, chatID int64) error {
	switch strings.ToLower(s.cfg.PaymentProvider) {
	case "telegram", "":
		return s.sendTelegramInvoice(bot, chatID)
	case "yookassa":
		return s.sendYooKassaPayment(ctx, bot, user, chatID)
	default:
		return fmt.Errorf("unsupported payment provider: %s", s.cfg.PaymentProvider)
	}
}

func (s *PaymentService) sendTelegramInvoice(bot *tgbotapi.BotAPI, chatID int64) error {
	prices := []tgbotapi.LabeledPrice{
		{
			Label:  "Подписка Plus на месяц",
			Amount: s.cfg.MonthPriceMinorUnits,
		},
	}

	payload, _ := json.Marshal(map[string]any{
		"plan": models.PlanMonth,
	})

	invoice := tgbotapi.NewInvoice(chatID,
		"Подписка Plus",
		"Безлимитные ответы и веб-поиск на 30 дней",
		string(payload),
		s.cfg.TelegramPaymentProviderToken,
		"subscription",
		s.cfg.PaymentCurrency,
		prices,
	)

	if _, err := bot.Send(invoice); err != nil {
		return fmt.Errorf("send invoice: %w", err)
	}
	return nil
}

func (s *PaymentService) sendYooKassaPayment(ctx context.Context, bot *tgbotapi.BotAPI, user *models.User, chatID int64) error {
	payment, err := s.createYooKassaPayment(ctx)
	if err != nil {
		return err
	}

	record := &models.Payment{
		UserID:         user.TelegramID,
		Provider:       "yookassa",
		ProviderCharge: payment.ID,
		Currency:       s.cfg.PaymentCurrency,
		Amount:         s.cfg.MonthPriceMinorUnits,
		Status:         payment.Status,
		RawPayload:     string(jsonMustMarshal(payment)),
	}
	if err := s.payments.Create(ctx, record); err != nil {
		return fmt.Errorf("record payment: %w", err)
	}

	text := fmt.Sprintf("Оплата подписки Plus через ЮKassa:\nСумма: %.2f %s\nСсылка на оплату: %s\nПодписка активируется автоматически после оплаты.",
		float64(s.cfg.MonthPriceMinorUnits)/100, s.cfg.PaymentCurrency, payment.Confirmation.URL)

	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := bot.Send(msg); err != nil {
		return fmt.Errorf("send payment link: %w", err)
	}
	return nil
}

func (s *PaymentService) HandlePreCheckout(bot *tgbotapi.BotAPI, query *tgbotapi.PreCheckoutQuery) error {
	response := tgbotapi.PreCheckoutConfig{
		PreCheckoutQueryID: query.ID,
		OK:                 true,
	}
	if _, err := bot.Request(response); err != nil {
		return fmt.Errorf("answer pre-checkout: %w", err)
	}
	return nil
}

// HandleSuccessfulPayment activates the monthly plan after a Telegram-native
// checkout completes.
func (s *PaymentService) HandleSuccessfulPayment(ctx context.Context, user *models.User, payment *tgbotapi.SuccessfulPayment) error {
	start := s.now()
	end := start.AddDate(0, 0, subscriptionDays)
	if err := s.users.SetSubscription(ctx, user.TelegramID, models.PlanMonth, start, end); err != nil {
		return fmt.Errorf("activate subscription: %w", err)
	}

	record := &models.Payment{
		UserID:         user.TelegramID,
		Provider:       "telegram",
		ProviderCharge: payment.ProviderPaymentChargeID,
		Currency:       payment.Currency,
		Amount:         payment.TotalAmount,
		Status:         "paid",
		RawPayload:     string(jsonMustMarshal(payment)),
	}
	if err := s.payments.Create(ctx, record); err != nil {
		return fmt.Errorf("record payment: %w", err)
	}
	s.logger.Info("subscription activated", "user_id", user.TelegramID, "until", end)
	return nil
}

type yooPaymentResponse struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	Confirmation struct {
		Type string `json:"type"`
		URL  string `json:"confirmation_url"`
	} `json:"confirmation"`
	PaymentMethod struct {
		ID    string `json:"id"`
		Saved bool   `json:"saved"`
	} `json:"payment_method"`
	Amount struct {
		Value    string `json:"value"`
		Currency string `json:"currency"`
	} `json:"amount"`
}

func (s *PaymentService) createYooKassaPayment(ctx context.Context) (*yooPaymentResponse, error) {
	payload := map[string]any{
		"amount": map[string]string{
			"value":    fmt.Sprintf("%.2f", float64(s.cfg.MonthPriceMinorUnits)/100),
			"currency": s.cfg.PaymentCurrency,
		},
		"confirmation": map[string]string{
			"type":       "redirect",
			"return_url": s.returnURL(),
		},
		"save_payment_method": true,
		"description":         "Подписка Plus на 30 дней",
	}
	return s.postYooKassa(ctx, payload)
}

// Charge debits a previously saved payment method without user interaction.
func (s *PaymentService) Charge(ctx context.Context, user *models.User) (*yooPaymentResponse, error) {
	if user.PaymentMethodID == "" {
		return nil, fmt.Errorf("user %d has no saved payment method", user.TelegramID)
	}
	payload := map[string]any{
		"amount": map[string]string{
			"value":    fmt.Sprintf("%.2f", float64(s.cfg.MonthPriceMinorUnits)/100),
			"currency": s.cfg.PaymentCurrency,
		},
		"payment_method_id": user.PaymentMethodID,
		"capture":           true,
		"description":       "Продление подписки Plus",
	}
	return s.postYooKassa(ctx, payload)
}

// returnURL is where YooKassa redirects the customer after checkout. Falls
// back to Telegram's landing page when no explicit URL is configured.
func (s *PaymentService) returnURL() string {
	if s.cfg.YooKassaReturnURL != "" {
		return s.cfg.YooKassaReturnURL
	}
	return "https://t.me"
}

func (s *PaymentService) postYooKassa(ctx context.Context, payload map[string]any) (*yooPaymentResponse, error) {
	if s.cfg.YooKassaShopID == "" || s.cfg.YooKassaSecretKey == "" {
		return nil, fmt.Errorf("yookassa credentials are not configured")
	}

	body, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "https://api.yookassa.ru/v3/payments", strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("build yookassa request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotence-Key", uuid.NewString())
	req.SetBasicAuth(s.cfg.YooKassaShopID, s.cfg.YooKassaSecretKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("yookassa request: %w", err)
	}
	defer resp.Body.Close()

	var parsed yooPaymentResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode yookassa response: %w", err)
	}
	if parsed.ID == "" {
		return nil, fmt.Errorf("invalid yookassa response (missing payment id)")
	}
	if parsed.Status == "" {
		parsed.Status = "pending"
	}
	return &parsed, nil
}

// HandleYooKassaWebhook processes payment status updates and activates the
// subscription once. A replayed success event for an already-paid payment is
// a no-op.
func (s *PaymentService) HandleYooKassaWebhook(ctx context.Context, payload []byte) error {
	var evt struct {
		Event  string `json:"event"`
		Object struct {
			ID            string `json:"id"`
			Status        string `json:"status"`
			PaymentMethod struct {
				ID    string `json:"id"`
				Saved bool   `json:"saved"`
			} `json:"payment_method"`
		} `json:"object"`
	}
	if err := json.Unmarshal(payload, &evt); err != nil {
		return fmt.Errorf("parse webhook: %w", err)
	}
	if evt.Object.ID == "" {
		return fmt.Errorf("webhook missing payment id")
	}

	pmt, err := s.payments.FindByProviderCharge(ctx, "yookassa", evt.Object.ID)
	if err != nil {
		return fmt.Errorf("find payment: %w", err)
	}
	if pmt == nil {
		return fmt.Errorf("payment not found for id=%s", evt.Object.ID)
	}
	if pmt.Status == "paid" {
		return nil // already processed
	}

	if evt.Object.Status == "succeeded" {
		start := s.now()
		end := start.AddDate(0, 0, subscriptionDays)
		if err := s.users.SetSubscription(ctx, pmt.UserID, models.PlanMonth, start, end); err != nil {
			return fmt.Errorf("activate subscription: %w", err)
		}
		if evt.Object.PaymentMethod.Saved && evt.Object.PaymentMethod.ID != "" {
			if err := s.users.SetPaymentMethod(ctx, pmt.UserID, evt.Object.PaymentMethod.ID, true); err != nil {
				return fmt.Errorf("save payment method: %w", err)
			}
		}
		if err := s.payments.UpdateStatus(ctx, pmt.ID, "paid", string(payload)); err != nil {
			return fmt.Errorf("update payment status: %w", err)
		}
		s.logger.Info("subscription paid via webhook", "user_id", pmt.UserID, "until", end)
		return nil
	}

	if err := s.payments.UpdateStatus(ctx, pmt.ID, evt.Object.Status, string(payload)); err != nil {
		return fmt.Errorf("update payment status: %w", err)
	}
	return nil
}

// RunRenewalSweep walks expired subscriptions. A trial with a saved method
// and auto-renewal on is charged and promoted to the monthly plan; everyone
// else is downgraded to free.
func (s *PaymentService) RunRenewalSweep(ctx context.Context) {
	now := s.now()
	for _, plan := range []models.Plan{models.PlanTrial, models.PlanMonth} {
		ids, err := s.users.ListExpiredSubscriptions(ctx, plan, now)
		if err != nil {
			s.logger.Error("renewal sweep list failed", "plan", plan, "error", err)
			continue
		}
		for _, id := range ids {
			if err := s.renewOrDowngrade(ctx, id); err != nil {
				s.logger.Error("renewal failed", "user_id", id, "error", err)
			}
		}
	}
}

func (s *PaymentService) renewOrDowngrade(ctx context.Context, telegramID int64) error {
	user, err := s.users.FindByTelegramID(ctx, telegramID)
	if err != nil {
		return err
	}
	if user == nil {
		return nil
	}

	if user.AutoRenewal && user.PaymentMethodID != "" {
		payment, err := s.Charge(ctx, user)
		if err == nil && payment.Status == "succeeded" {
			start := s.now()
			end := start.AddDate(0, 0, subscriptionDays)
			if err := s.users.SetSubscription(ctx, telegramID, models.PlanMonth, start, end); err != nil {
				return err
			}
			record := &models.Payment{
				UserID:         telegramID,
				Provider:       "yookassa",
				ProviderCharge: payment.ID,
				Currency:       s.cfg.PaymentCurrency,
				Amount:         s.cfg.MonthPriceMinorUnits,
				Status:         "paid",
				RawPayload:     string(jsonMustMarshal(payment)),
			}
			if err := s.payments.Create(ctx, record); err != nil {
				return err
			}
			s.logger.Info("subscription auto-renewed", "user_id", telegramID, "until", end)
			return nil
		}
		if err != nil {
			s.logger.Warn("auto-renewal charge failed, downgrading", "user_id", telegramID, "error", err)
		}
	}

	if err := s.users.DowngradeToFree(ctx, telegramID, s.cfg.FreeDailyTokens); err != nil {
		return err
	}
	s.logger.Info("subscription lapsed, downgraded to free", "user_id", telegramID)
	return nil
}

func jsonMustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return b
}
