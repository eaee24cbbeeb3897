package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/example/finnybot/internal/config"
	"github.com/example/finnybot/internal/models"
	"github.com/example/finnybot/internal/service"
)

const assistantCallbackPrefix = "assistant:"

type Bot struct {
	cfg        config.Config
	api        *tgbotapi.BotAPI
	log        *slog.Logger
	users      *service.UserService
	quota      *service.QuotaService
	chat       *service.ChatService
	assistants *service.AssistantService
	history    *service.HistoryService
	payments   *service.PaymentService
	state      *StateManager
}

func NewBot(cfg config.Config, api *tgbotapi.BotAPI, log *slog.Logger, users *service.UserService, quota *service.QuotaService, chat *service.ChatService, assistants *service.AssistantService, history *service.HistoryService, payments *service.PaymentService) *Bot {
	return &Bot{
		cfg:        cfg,
		api:        api,
		log:        log,
		users:      users,
		quota:      quota,
		chat:       chat,
		assistants: assistants,
		history:    history,
		payments:   payments,
		state:      NewStateManager(),
	}
}

func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	b.log.Info("telegram bot started")

	for {
		select {
		case update := <-updates:
			if update.Message != nil {
				b.handleMessage(ctx, update.Message)
			} else if update.CallbackQuery != nil {
				b.handleCallback(ctx, update.CallbackQuery)
			} else if update.PreCheckoutQuery != nil {
				if err := b.payments.HandlePreCheckout(b.api, update.PreCheckoutQuery); err != nil {
					b.log.Error("pre-checkout failed", "err", err)
				}
			}
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return ctx.Err()
		}
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.SuccessfulPayment != nil {
		b.handleSuccessfulPayment(ctx, msg)
		return
	}

	if msg.IsCommand() {
		b.handleCommand(ctx, msg)
		return
	}

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		b.sendText(msg.Chat.ID, "Отправьте текстовое сообщение или команду /start.")
		return
	}

	userID := b.senderID(msg)
	if !b.state.TryAcquire(userID) {
		b.sendText(msg.Chat.ID, "Подождите, я ещё отвечаю на предыдущее сообщение.")
		return
	}

	chatID := msg.Chat.ID
	go func() {
		defer b.state.Release(userID)
		b.sendTyping(chatID)
		reply, err := b.chat.Respond(ctx, userID, chatID, text)
		if err != nil {
			b.log.Error("chat turn failed", "user_id", userID, "err", err)
		}
		b.sendText(chatID, reply)
	}()
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start":
		b.handleStart(ctx, msg)
	case "new":
		if err := b.history.Clear(ctx, msg.Chat.ID); err != nil {
			b.log.Error("clear history", "err", err)
			b.sendText(msg.Chat.ID, service.MsgInternalError)
			return
		}
		b.sendText(msg.Chat.ID, "Начинаем новый диалог. История очищена.")
	case "profile":
		b.handleProfile(ctx, msg)
	case "assistants":
		b.promptAssistantSelection(ctx, msg.Chat.ID)
	case "trial":
		b.handleTrial(ctx, msg)
	case "pay":
		b.handlePay(ctx, msg)
	case "websearch":
		b.handleWebSearchToggle(ctx, msg)
	default:
		b.sendText(msg.Chat.ID, "Неизвестная команда. Доступно: /start, /new, /profile, /assistants, /trial, /pay, /websearch.")
	}
}

func (b *Bot) handleStart(ctx context.Context, msg *tgbotapi.Message) {
	var referrerID *int64
	if arg := strings.TrimSpace(msg.CommandArguments()); arg != "" {
		if id, err := strconv.ParseInt(arg, 10, 64); err == nil && id > 0 {
			referrerID = &id
		}
	}

	user, err := b.users.Register(ctx, b.senderID(msg), referrerID)
	if err != nil {
		b.log.Error("register user", "err", err)
		b.sendText(msg.Chat.ID, service.MsgInternalError)
		return
	}

	text := fmt.Sprintf(
		"Привет! Я бот-консультант на базе ИИ.\n\nНа бесплатном тарифе вам доступно %d токенов в день. Подписка Plus снимает лимит и открывает веб-поиск.\n\nКоманды:\n/new — начать новый диалог\n/assistants — выбрать консультанта\n/profile — ваш профиль\n/trial — пробная подписка на %d дня\n/pay — оформить подписку\n\nПригласите друга ссылкой https://t.me/%s?start=%d и получите +%d токенов.",
		b.cfg.FreeDailyTokens, b.cfg.TrialDays, b.api.Self.UserName, user.TelegramID, b.cfg.ReferralBonusTokens,
	)
	b.sendText(msg.Chat.ID, text)
}

func (b *Bot) handleProfile(ctx context.Context, msg *tgbotapi.Message) {
	user, err := b.quota.Prepare(ctx, b.senderID(msg))
	if err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			b.sendText(msg.Chat.ID, service.MsgRegisterFirst)
			return
		}
		b.log.Error("load profile", "err", err)
		b.sendText(msg.Chat.ID, service.MsgInternalError)
		return
	}

	plan := "Бесплатный"
	switch user.Plan {
	case models.PlanTrial:
		plan = "Plus (пробный период)"
	case models.PlanMonth:
		plan = "Plus"
	}

	var body strings.Builder
	fmt.Fprintf(&body, "Тариф: %s\n", plan)
	if user.Unlimited() {
		if user.SubscriptionEnd != nil {
			fmt.Fprintf(&body, "Действует до: %s\n", user.SubscriptionEnd.Format("02.01.2006"))
		}
		body.WriteString("Токены: без ограничений\n")
	} else {
		fmt.Fprintf(&body, "Токенов на сегодня: %d\n", user.DailyTokens)
	}
	fmt.Fprintf(&body, "Веб-поиск: %s\n", boolWord(user.WebSearchAllowed()))
	fmt.Fprintf(&body, "Приглашено друзей: %d\n", user.InvitedUsers)
	fmt.Fprintf(&body, "Потрачено всего: %.4f", user.TotalSpent)
	b.sendText(msg.Chat.ID, body.String())
}

func (b *Bot) handleTrial(ctx context.Context, msg *tgbotapi.Message) {
	userID := b.senderID(msg)
	if _, err := b.quota.Prepare(ctx, userID); err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			b.sendText(msg.Chat.ID, service.MsgRegisterFirst)
			return
		}
		b.log.Error("prepare for trial", "err", err)
		b.sendText(msg.Chat.ID, service.MsgInternalError)
		return
	}

	user, err := b.quota.GrantTrial(ctx, userID, b.cfg.TrialDays)
	if err != nil {
		if errors.Is(err, service.ErrTrialAlreadyUsed) {
			b.sendText(msg.Chat.ID, "Пробный период уже был использован. Оформите подписку командой /pay.")
			return
		}
		b.log.Error("grant trial", "err", err)
		b.sendText(msg.Chat.ID, service.MsgInternalError)
		return
	}
	b.sendText(msg.Chat.ID, fmt.Sprintf("Пробная подписка Plus активирована до %s. Лимиты сняты, веб-поиск включён.", user.SubscriptionEnd.Format("02.01.2006")))
}

func (b *Bot) handlePay(ctx context.Context, msg *tgbotapi.Message) {
	user, err := b.users.Find(ctx, b.senderID(msg))
	if err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			b.sendText(msg.Chat.ID, service.MsgRegisterFirst)
			return
		}
		b.log.Error("find user for payment", "err", err)
		b.sendText(msg.Chat.ID, service.MsgInternalError)
		return
	}
	if err := b.payments.SendInvoice(ctx, b.api, user, msg.Chat.ID); err != nil {
		b.log.Error("send invoice", "err", err)
		b.sendText(msg.Chat.ID, "Не удалось отправить счёт. Попробуйте позже.")
	}
}

func (b *Bot) handleWebSearchToggle(ctx context.Context, msg *tgbotapi.Message) {
	user, err := b.users.Find(ctx, b.senderID(msg))
	if err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			b.sendText(msg.Chat.ID, service.MsgRegisterFirst)
			return
		}
		b.log.Error("find user for websearch", "err", err)
		b.sendText(msg.Chat.ID, service.MsgInternalError)
		return
	}
	if user.Plan == models.PlanFree {
		b.sendText(msg.Chat.ID, "Веб-поиск доступен только по подписке Plus. Оформите её командой /pay или попробуйте /trial.")
		return
	}
	enabled := !user.WebSearchEnabled
	if err := b.users.SetWebSearchEnabled(ctx, user, enabled); err != nil {
		b.log.Error("toggle websearch", "err", err)
		b.sendText(msg.Chat.ID, service.MsgInternalError)
		return
	}
	b.sendText(msg.Chat.ID, fmt.Sprintf("Веб-поиск: %s.", boolWord(enabled)))
}

func (b *Bot) promptAssistantSelection(ctx context.Context, chatID int64) {
	assistants, err := b.assistants.All(ctx)
	if err != nil {
		b.log.Error("list assistants", "err", err)
		b.sendText(chatID, service.MsgInternalError)
		return
	}
	if len(assistants) == 0 {
		b.sendText(chatID, "Консультанты пока не настроены.")
		return
	}

	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(assistants))
	for _, a := range assistants {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(a.Name, assistantCallbackPrefix+a.Key),
		))
	}
	msg := tgbotapi.NewMessage(chatID, "Выберите консультанта:")
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send keyboard", "err", err)
	}
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if !strings.HasPrefix(cb.Data, assistantCallbackPrefix) {
		if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, "Неизвестный выбор")); err != nil {
			b.log.Error("callback error", "err", err)
		}
		return
	}

	key := strings.TrimPrefix(cb.Data, assistantCallbackPrefix)
	assistant, err := b.assistants.Get(ctx, key)
	if err != nil || assistant == nil {
		if err != nil {
			b.log.Error("resolve assistant", "err", err)
		}
		if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, "Консультант недоступен")); err != nil {
			b.log.Error("callback ack", "err", err)
		}
		return
	}

	if err := b.users.SetAssistant(ctx, int64(cb.From.ID), key); err != nil {
		b.log.Error("set assistant", "err", err)
		if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, "Не удалось сохранить выбор")); err != nil {
			b.log.Error("callback ack", "err", err)
		}
		return
	}
	if _, err := b.api.Request(tgbotapi.NewCallback(cb.ID, "Консультант выбран")); err != nil {
		b.log.Error("callback ack", "err", err)
	}
	b.sendText(cb.Message.Chat.ID, fmt.Sprintf("Теперь с вами общается: %s.", assistant.Name))
}

func (b *Bot) handleSuccessfulPayment(ctx context.Context, msg *tgbotapi.Message) {
	user, err := b.users.Find(ctx, b.senderID(msg))
	if err != nil {
		b.log.Error("find user for successful payment", "err", err)
		return
	}
	if err := b.payments.HandleSuccessfulPayment(ctx, user, msg.SuccessfulPayment); err != nil {
		b.log.Error("process successful payment", "err", err)
		return
	}
	b.sendText(msg.Chat.ID, "Оплата получена! Подписка Plus активирована.")
}

func (b *Bot) senderID(msg *tgbotapi.Message) int64 {
	if msg.From != nil {
		return msg.From.ID
	}
	return msg.Chat.ID
}

func (b *Bot) sendTyping(chatID int64) {
	action := tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)
	if _, err := b.api.Request(action); err != nil {
		b.log.Debug("send typing action", "err", err)
	}
}

func (b *Bot) sendText(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send text", "err", err)
	}
}

func boolWord(enabled bool) string {
	if enabled {
		return "включён"
	}
	return "выключен"
}
