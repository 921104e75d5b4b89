package ai

import (
	"EvaChat/internal/config"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"go.uber.org/zap"
)

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderStub      = "stub"
)

// NewClient выбирает реализацию по cfg.AIProvider. Пустое значение — openai.
func NewClient(cfg *config.Config, logger *zap.SugaredLogger) (Client, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.AIProvider)) {
	case "", ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			logger.Warnw("OPENAI_API_KEY не задан, запросы /chat будут падать")
		}
		opts := []option.RequestOption{option.WithAPIKey(cfg.OpenAIAPIKey)}
		if cfg.OpenAIBaseURL != "" {
			opts = append(opts, option.WithBaseURL(cfg.OpenAIBaseURL))
		}
		client := openai.NewClient(opts...)
		return NewOpenAIClient(&client, logger), nil
	case ProviderAnthropic:
		if cfg.AnthropicAPIKey == "" {
			logger.Warnw("ANTHROPIC_API_KEY не задан, запросы /chat будут падать")
		}
		client := anthropic.NewClient(anthropicoption.WithAPIKey(cfg.AnthropicAPIKey))
		return NewAnthropicClient(&client, logger), nil
	case ProviderStub, "mock":
		logger.Infow("AI_PROVIDER=stub, используется заглушка")
		return NewStubClient(), nil
	default:
		return nil, fmt.Errorf("unknown ai provider: %q", cfg.AIProvider)
	}
}

// Model возвращает модель для выбранного провайдера.
func Model(cfg *config.Config) string {
	if strings.EqualFold(strings.TrimSpace(cfg.AIProvider), ProviderAnthropic) {
		return cfg.AnthropicModel
	}
	return cfg.OpenAIModel
}
