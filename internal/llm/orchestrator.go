package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	openai "github.com/sashabaranov/go-openai"

	"github.com/example/finnybot/internal/models"
)

// ChatClient is the slice of the OpenAI client the orchestrator needs.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Toolset executes the browsing tools on the model's behalf. Implementations
// return their findings or an error description as plain text; they never
// fail the conversation.
type Toolset interface {
	WebSearch(ctx context.Context, query string) string
	FetchURL(ctx context.Context, url string) string
}

// Answer is the model's reply plus the usage the caller must account for.
type Answer struct {
	Content      string
	InputTokens  int64
	OutputTokens int64
}

// Orchestrator drives the chat completion, including at most one round of
// tool calls when browsing is permitted.
type Orchestrator struct {
	client ChatClient
	tools  Toolset
	logger *slog.Logger
	model  string
}

func NewOrchestrator(client ChatClient, tools Toolset, logger *slog.Logger, model string) *Orchestrator {
	return &Orchestrator{client: client, tools: tools, logger: logger, model: model}
}

const toolPolicyReminder = "Используй полученные результаты поиска для ответа. Отвечай на русском языке, ссылайся на источники, если они есть."

// Answer runs the conversation against the model. When webSearch is true the
// browsing tools are offered on the first call; any tool calls the model
// makes are executed and their outputs fed back for exactly one follow-up
// completion, issued without tools so the exchange always terminates.
func (o *Orchestrator) Answer(ctx context.Context, systemPrompt string, history []models.ConversationMessage, userText string, webSearch bool) (*Answer, error) {
	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
	}
	for _, m := range history {
		role := openai.ChatMessageRoleUser
		if m.Role == models.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: userText})

	req := openai.ChatCompletionRequest{
		Model:    o.model,
		Messages: messages,
	}
	if webSearch {
		req.Tools = ToolDefinitions()
		req.ToolChoice = "auto"
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	answer := &Answer{
		InputTokens:  int64(resp.Usage.PromptTokens),
		OutputTokens: int64(resp.Usage.CompletionTokens),
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("chat completion returned no choices")
	}

	choice := resp.Choices[0].Message
	if len(choice.ToolCalls) == 0 || !webSearch {
		answer.Content = choice.Content
		return answer, nil
	}

	messages = append(messages, choice)
	for _, call := range choice.ToolCalls {
		result := o.runTool(ctx, call)
		messages = append(messages, openai.ChatCompletionMessage{
			Role:       openai.ChatMessageRoleTool,
			Content:    result,
			Name:       call.Function.Name,
			ToolCallID: call.ID,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: toolPolicyReminder,
	})

	// Second and final round, no tools offered.
	followUp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    o.model,
		Messages: messages,
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion after tools: %w", err)
	}
	answer.InputTokens += int64(followUp.Usage.PromptTokens)
	answer.OutputTokens += int64(followUp.Usage.CompletionTokens)
	if len(followUp.Choices) == 0 {
		return nil, fmt.Errorf("chat completion after tools returned no choices")
	}
	answer.Content = followUp.Choices[0].Message.Content
	return answer, nil
}

func (o *Orchestrator) runTool(ctx context.Context, call openai.ToolCall) string {
	switch call.Function.Name {
	case "web_search":
		var args struct {
			Query string `json:"query"`
		}
		if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
			return "ERROR: некорректные аргументы web_search"
		}
		o.logger.Debug("tool call", "tool", "web_search", "query", args.Query)
		return o.tools.WebSearch(ctx, args.Query)
	case "fetch_url":
		var args struct {
			URL string `json:"url"`
		}
		if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
			return "ERROR: некорректные аргументы fetch_url"
		}
		o.logger.Debug("tool call", "tool", "fetch_url", "url", args.URL)
		return o.tools.FetchURL(ctx, args.URL)
	default:
		return fmt.Sprintf("ERROR: неизвестный инструмент %s", call.Function.Name)
	}
}
