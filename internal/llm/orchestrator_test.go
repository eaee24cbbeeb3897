package llm

import (
	"context"
	"io"
	"log/slog"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/finnybot/internal/models"
)

type scriptedClient struct {
	responses []openai.ChatCompletionResponse
	requests  []openai.ChatCompletionRequest
}

func (c *scriptedClient) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	c.requests = append(c.requests, req)
	resp := c.responses[0]
	c.responses = c.responses[1:]
	return resp, nil
}

type recordingToolset struct {
	searches []string
	fetches  []string
}

func (t *recordingToolset) WebSearch(ctx context.Context, query string) string {
	t.searches = append(t.searches, query)
	return "результаты поиска по запросу " + query
}

func (t *recordingToolset) FetchURL(ctx context.Context, url string) string {
	t.fetches = append(t.fetches, url)
	return "текст страницы " + url
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func plainResponse(content string, prompt, completion int) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: content}},
		},
		Usage: openai.Usage{PromptTokens: prompt, CompletionTokens: completion},
	}
}

func toolCallResponse(calls ...openai.ToolCall) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, ToolCalls: calls}},
		},
		Usage: openai.Usage{PromptTokens: 50, CompletionTokens: 20},
	}
}

func TestAnswer_NoToolsWhenSearchDisabled(t *testing.T) {
	client := &scriptedClient{responses: []openai.ChatCompletionResponse{plainResponse("готово", 10, 5)}}
	tools := &recordingToolset{}
	o := NewOrchestrator(client, tools, discardLogger(), "gpt-4o-mini")

	answer, err := o.Answer(context.Background(), "системный промпт", nil, "вопрос", false)
	require.NoError(t, err)
	assert.Equal(t, "готово", answer.Content)
	assert.Equal(t, int64(10), answer.InputTokens)
	assert.Equal(t, int64(5), answer.OutputTokens)

	require.Len(t, client.requests, 1)
	assert.Empty(t, client.requests[0].Tools, "tools must not be offered when search is off")
	assert.Empty(t, tools.searches)
}

func TestAnswer_SingleToolRound(t *testing.T) {
	client := &scriptedClient{responses: []openai.ChatCompletionResponse{
		toolCallResponse(openai.ToolCall{
			ID:   "call-1",
			Type: openai.ToolTypeFunction,
			Function: openai.FunctionCall{
				Name:      "web_search",
				Arguments: `{"query":"курс рубля"}`,
			},
		}),
		plainResponse("ответ по данным поиска", 120, 40),
	}}
	tools := &recordingToolset{}
	o := NewOrchestrator(client, tools, discardLogger(), "gpt-4o-mini")

	answer, err := o.Answer(context.Background(), "системный промпт", nil, "какой курс рубля?", true)
	require.NoError(t, err)
	assert.Equal(t, "ответ по данным поиска", answer.Content)
	assert.Equal(t, []string{"курс рубля"}, tools.searches)

	// Usage accumulates across both completions.
	assert.Equal(t, int64(170), answer.InputTokens)
	assert.Equal(t, int64(60), answer.OutputTokens)

	require.Len(t, client.requests, 2)
	assert.NotEmpty(t, client.requests[0].Tools)
	assert.Empty(t, client.requests[1].Tools, "the follow-up call must not offer tools again")

	// The follow-up carries the tool result and the policy reminder.
	followUp := client.requests[1].Messages
	var sawToolResult, sawReminder bool
	for _, m := range followUp {
		if m.Role == openai.ChatMessageRoleTool && m.ToolCallID == "call-1" {
			sawToolResult = true
		}
		if m.Role == openai.ChatMessageRoleSystem && m.Content == toolPolicyReminder {
			sawReminder = true
		}
	}
	assert.True(t, sawToolResult)
	assert.True(t, sawReminder)
}

func TestAnswer_MultipleToolCallsInOneRound(t *testing.T) {
	client := &scriptedClient{responses: []openai.ChatCompletionResponse{
		toolCallResponse(
			openai.ToolCall{
				ID:   "call-1",
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      "web_search",
					Arguments: `{"query":"новости"}`,
				},
			},
			openai.ToolCall{
				ID:   "call-2",
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      "fetch_url",
					Arguments: `{"url":"https://example.com"}`,
				},
			},
		),
		plainResponse("сводка", 80, 30),
	}}
	tools := &recordingToolset{}
	o := NewOrchestrator(client, tools, discardLogger(), "gpt-4o-mini")

	answer, err := o.Answer(context.Background(), "промпт", nil, "что нового?", true)
	require.NoError(t, err)
	assert.Equal(t, "сводка", answer.Content)
	assert.Equal(t, []string{"новости"}, tools.searches)
	assert.Equal(t, []string{"https://example.com"}, tools.fetches)
	require.Len(t, client.requests, 2)
}

func TestAnswer_HistoryRolesMapped(t *testing.T) {
	client := &scriptedClient{responses: []openai.ChatCompletionResponse{plainResponse("ок", 1, 1)}}
	o := NewOrchestrator(client, &recordingToolset{}, discardLogger(), "gpt-4o-mini")

	history := []models.ConversationMessage{
		{Role: models.RoleUser, Content: "первый вопрос"},
		{Role: models.RoleAssistant, Content: "первый ответ"},
	}
	_, err := o.Answer(context.Background(), "промпт", history, "второй вопрос", false)
	require.NoError(t, err)

	msgs := client.requests[0].Messages
	require.Len(t, msgs, 4)
	assert.Equal(t, openai.ChatMessageRoleSystem, msgs[0].Role)
	assert.Equal(t, openai.ChatMessageRoleUser, msgs[1].Role)
	assert.Equal(t, openai.ChatMessageRoleAssistant, msgs[2].Role)
	assert.Equal(t, "второй вопрос", msgs[3].Content)
}

func TestAnswer_UnknownToolReportedToModel(t *testing.T) {
	client := &scriptedClient{responses: []openai.ChatCompletionResponse{
		toolCallResponse(openai.ToolCall{
			ID:   "call-1",
			Type: openai.ToolTypeFunction,
			Function: openai.FunctionCall{
				Name:      "launch_rocket",
				Arguments: `{}`,
			},
		}),
		plainResponse("не смог", 10, 5),
	}}
	o := NewOrchestrator(client, &recordingToolset{}, discardLogger(), "gpt-4o-mini")

	_, err := o.Answer(context.Background(), "промпт", nil, "вопрос", true)
	require.NoError(t, err)

	var toolMessage string
	for _, m := range client.requests[1].Messages {
		if m.Role == openai.ChatMessageRoleTool {
			toolMessage = m.Content
		}
	}
	assert.Contains(t, toolMessage, "ERROR:", "unknown tools surface as error text, not Go errors")
}
