package service

import (
	"context"
	"errors"
	"log/slog"
	"unicode/utf8"

	"github.com/example/finnybot/internal/llm"
	"github.com/example/finnybot/internal/models"
)

// User-facing replies are in Russian, matching the bot's audience.
const (
	MsgRegisterFirst  = "Сначала отправьте команду /start, чтобы зарегистрироваться."
	MsgQuotaExhausted = "У вас закончился дневной лимит токенов. Лимит обновится завтра, либо оформите подписку командой /pay."
	MsgAnswerTooLong  = "Ответ слишком длинный для вашего оставшегося лимита токенов."
	MsgInternalError  = "Произошла ошибка, попробуйте позже!"
)

// Responder produces the model's reply for a conversation turn.
type Responder interface {
	Answer(ctx context.Context, systemPrompt string, history []models.ConversationMessage, userText string, webSearch bool) (*llm.Answer, error)
}

// ChatService runs the full conversation turn: quota gating, context
// assembly, the model call, accounting and history persistence.
type ChatService struct {
	quota      *QuotaService
	assistants *AssistantService
	history    *HistoryService
	responder  Responder
	logger     *slog.Logger
}

func NewChatService(quota *QuotaService, assistants *AssistantService, history *HistoryService, responder Responder, logger *slog.Logger) *ChatService {
	return &ChatService{
		quota:      quota,
		assistants: assistants,
		history:    history,
		responder:  responder,
		logger:     logger,
	}
}

// Respond handles one user message and returns the text to send back. The
// returned error is for logging; the string is always safe to deliver.
//
// Token accounting uses character counts as the unit. The model call happens
// before the allowance debit, so a reply that overshoots the remaining
// balance is still recorded as usage but withheld from the user.
func (s *ChatService) Respond(ctx context.Context, telegramID, chatID int64, text string) (string, error) {
	user, err := s.quota.Prepare(ctx, telegramID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return MsgRegisterFirst, nil
		}
		return MsgInternalError, err
	}

	inputTokens := int64(utf8.RuneCountInString(text))
	if !s.quota.CanConsume(user, inputTokens) {
		return MsgQuotaExhausted, nil
	}

	prompt, err := s.assistants.Resolve(ctx, user.CurrentAssistant)
	if err != nil {
		return MsgInternalError, err
	}

	history, err := s.history.Recent(ctx, chatID)
	if err != nil {
		return MsgInternalError, err
	}

	answer, err := s.responder.Answer(ctx, prompt, history, text, user.WebSearchAllowed())
	if err != nil {
		return MsgInternalError, err
	}

	outputTokens := int64(utf8.RuneCountInString(answer.Content))
	s.logger.Info("model call completed",
		"user_id", telegramID,
		"api_input_tokens", answer.InputTokens,
		"api_output_tokens", answer.OutputTokens,
		"charged_units", inputTokens+outputTokens,
	)

	if err := s.quota.RecordUsage(ctx, telegramID, inputTokens, outputTokens); err != nil {
		s.logger.Warn("usage recording failed", "user_id", telegramID, "error", err)
	}

	if err := s.quota.Debit(ctx, user, inputTokens+outputTokens); err != nil {
		if errors.Is(err, ErrQuotaExhausted) {
			return MsgAnswerTooLong, nil
		}
		return MsgInternalError, err
	}

	if err := s.history.Append(ctx, chatID, models.RoleUser, text); err != nil {
		s.logger.Warn("history append failed", "chat_id", chatID, "error", err)
	}
	if err := s.history.Append(ctx, chatID, models.RoleAssistant, answer.Content); err != nil {
		s.logger.Warn("history append failed", "chat_id", chatID, "error", err)
	}

	return answer.Content, nil
}
