package llm

import (
	openai "github.com/sashabaranov/go-openai"
)

// NewClient builds the chat-completions client. An empty baseURL keeps the
// default endpoint; setting it points the bot at a compatible gateway.
func NewClient(apiKey, baseURL string) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return openai.NewClientWithConfig(cfg)
}

// ToolDefinitions describes the two browsing tools offered to the model.
func ToolDefinitions() []openai.Tool {
	return []openai.Tool{
		{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        "web_search",
				Description: "Поиск в интернете по текстовому запросу. Возвращает выдержки из найденных страниц.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"query": map[string]any{
							"type":        "string",
							"description": "Поисковый запрос",
						},
					},
					"required": []string{"query"},
				},
			},
		},
		{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        "fetch_url",
				Description: "Загружает страницу по URL и возвращает её текстовое содержимое.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"url": map[string]any{
							"type":        "string",
							"description": "Адрес страницы",
						},
					},
					"required": []string{"url"},
				},
			},
		},
	}
}
