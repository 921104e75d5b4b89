package ai

import (
	"context"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"go.uber.org/zap"
)

// defaultAnthropicMaxTokens — Messages API требует max_tokens всегда.
const defaultAnthropicMaxTokens = 1024

// AnthropicClient отправляет контекст диалога в Anthropic Messages API.
// Системные сообщения уходят в поле system, остальные — как есть.
type AnthropicClient struct {
	client *anthropic.Client
	logger *zap.SugaredLogger
}

func NewAnthropicClient(client *anthropic.Client, logger *zap.SugaredLogger) *AnthropicClient {
	return &AnthropicClient{client: client, logger: logger}
}

func (c *AnthropicClient) Complete(ctx context.Context, model string, messages []Message, maxOutputTokens int) (string, error) {
	maxTokens := int64(maxOutputTokens)
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
	}
	var system []string
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			system = append(system, m.Content)
		case RoleAssistant:
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			params.Messages = append(params.Messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	if len(system) > 0 {
		params.System = []anthropic.TextBlockParam{{Text: strings.Join(system, "\n\n")}}
	}

	start := time.Now()
	c.logger.Infow("Запрос в Anthropic...", "model", model, "messages", len(params.Messages))
	resp, err := c.client.Messages.New(ctx, params)
	dur := time.Since(start)
	if err != nil {
		c.logger.Errorw("Ошибка ответа Anthropic", "duration", dur.String(), "error", err)
		return "", err
	}
	c.logger.Infow("Ответ Anthropic получен", "duration", dur.String())

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String(), nil
}
