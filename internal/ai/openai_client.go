package ai

import (
	"context"
	"time"

	"github.com/openai/openai-go/v3"
	"go.uber.org/zap"
)

// OpenAIClient отправляет контекст диалога в Chat Completions API.
type OpenAIClient struct {
	client *openai.Client
	logger *zap.SugaredLogger
}

func NewOpenAIClient(client *openai.Client, logger *zap.SugaredLogger) *OpenAIClient {
	return &OpenAIClient{client: client, logger: logger}
}

func (c *OpenAIClient) Complete(ctx context.Context, model string, messages []Message, maxOutputTokens int) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: toOpenAIMessages(messages),
	}
	if maxOutputTokens > 0 {
		params.MaxTokens = openai.Int(int64(maxOutputTokens))
	}

	start := time.Now()
	c.logger.Infow("Запрос в OpenAI...", "model", model, "messages", len(messages))
	resp, err := c.client.Chat.Completions.New(ctx, params)
	dur := time.Since(start)
	if err != nil {
		c.logger.Errorw("Ошибка ответа OpenAI", "duration", dur.String(), "error", err)
		return "", err
	}
	c.logger.Infow("Ответ OpenAI получен", "duration", dur.String())

	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}
