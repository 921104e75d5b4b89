package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

// ErrInvalid возвращается Validate для неположительных лимитов.
var ErrInvalid = errors.New("config: invalid value")

type Config struct {
	DebugMode   bool   `env:"DEBUG_MODE"`    // Режим дебага: development-логгер
	Port        int    `env:"PORT"`          // Порт HTTP-сервера
	MaxBodySize string `env:"MAX_BODY_SIZE"` // Лимит тела запроса в формате echo (20K, 1M)
	TrustProxy  int    `env:"TRUST_PROXY"`   // 0 — IP берём из соединения, >0 — из X-Forwarded-For за доверенным прокси

	// Провайдер ответов
	AIProvider      string `env:"AI_PROVIDER"`       // openai|anthropic|stub, по умолчанию openai
	OpenAIAPIKey    string `env:"OPENAI_API_KEY"`    // Ключ берём из .env/ENV
	OpenAIBaseURL   string `env:"OPENAI_BASE_URL"`   // Пусто — официальный API
	OpenAIModel     string `env:"OPENAI_MODEL"`      // Модель Chat Completions
	OpenAIMaxTokens int    `env:"OPENAI_MAX_TOKENS"` // Лимит токенов ответа (для любого провайдера)
	AnthropicAPIKey string `env:"ANTHROPIC_API_KEY"`
	AnthropicModel  string `env:"ANTHROPIC_MODEL"`
	ChatTimeoutMs   int    `env:"CHAT_TIMEOUT_MS"` // Таймаут одного запроса /chat

	// Промпт и приветствие
	AssistantPrompt string `env:"ASSISTANT_PROMPT"` // Системный промпт, к нему добавляется имя пользователя
	Greeting        string `env:"GREETING"`         // Ответ на /saludo

	// CORS и лимиты запросов
	CORSOrigins             []string `env:"CORS_ORIGINS" envSeparator:","`
	ChatRateLimitWindowMs   int      `env:"CHAT_RATE_LIMIT_WINDOW_MS"`
	ChatRateLimitMax        int      `env:"CHAT_RATE_LIMIT_MAX"`
	DeleteRateLimitWindowMs int      `env:"DELETE_RATE_LIMIT_WINDOW_MS"`
	DeleteRateLimitMax      int      `env:"DELETE_RATE_LIMIT_MAX"`

	// Хранилище диалогов
	MaxTurns        int `env:"MAX_TURNS"`         // Максимум сообщений в истории пользователя
	TTLMs           int `env:"TTL_MS"`            // Время простоя до удаления пользователя
	MaxActiveUsers  int `env:"MAX_ACTIVE_USERS"`  // Максимум пользователей в памяти
	SweepIntervalMs int `env:"SWEEP_INTERVAL_MS"` // Период фоновой очистки; 0 — только при запросах

	// Twitch (опционально)
	Twitch TwitchConfig
}

// TwitchConfig параметры чата Twitch. Пустые логин/токен/канал — интеграция выключена.
type TwitchConfig struct {
	Username string `env:"TWITCH_USERNAME"`
	OAuth    string `env:"TWITCH_OAUTH_TOKEN"` // может быть без префикса oauth:
	Channel  string `env:"TWITCH_CHANNEL"`     // без #
	Trigger  string `env:"TWITCH_TRIGGER"`     // Префикс сообщения, на которое отвечает ассистент
}

// Enabled сообщает, заданы ли все параметры подключения.
func (t TwitchConfig) Enabled() bool {
	return strings.TrimSpace(t.Username) != "" && strings.TrimSpace(t.OAuth) != "" && strings.TrimSpace(t.Channel) != ""
}

// Defaults возвращает конфигурацию с предустановленными значениями по умолчанию.
// Эти значения перекрываются .env, переменными окружения и флагами CLI.
func Defaults() *Config {
	return &Config{
		DebugMode:       false,
		Port:            3000,
		MaxBodySize:     "20K",
		TrustProxy:      1,
		AIProvider:      "openai",
		OpenAIModel:     "gpt-4.1-mini-2025-04-14",
		OpenAIMaxTokens: 600,
		AnthropicModel:  "claude-3-5-haiku-latest",
		ChatTimeoutMs:   60_000,
		AssistantPrompt: "Eres EVA, una asistente de inteligencia artificial amable y precisa. " +
			"Responde siempre en español, de forma breve y clara.",
		Greeting: "Hola, soy EVA, tu asistente de inteligencia artificial. ¿En qué puedo ayudarte hoy?",
		// CORS
		CORSOrigins: []string{"http://localhost:5173"},
		// Лимиты запросов
		ChatRateLimitWindowMs:   60_000,
		ChatRateLimitMax:        20,
		DeleteRateLimitWindowMs: 60_000,
		DeleteRateLimitMax:      60,
		// Хранилище
		MaxTurns:        20,
		TTLMs:           60 * 60_000,
		MaxActiveUsers:  2_000,
		SweepIntervalMs: 0,
		Twitch: TwitchConfig{
			Trigger: "!eva",
		},
	}
}

// NewConfig загружает конфигурацию приложения из .env, окружения и os.Args.
func NewConfig() (*Config, error) {
	return Load(os.Args[1:])
}

// Load загружает конфигурацию: дефолты → .env → окружение → флаги args.
func Load(args []string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Defaults()
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	fs := flag.NewFlagSet("eva", flag.ContinueOnError)
	fs.BoolVar(&cfg.DebugMode, "debug-mode", cfg.DebugMode, "включить режим дебага")
	fs.IntVar(&cfg.Port, "port", cfg.Port, "порт HTTP-сервера")
	fs.StringVar(&cfg.MaxBodySize, "max-body-size", cfg.MaxBodySize, "лимит тела запроса, напр. 20K")
	fs.IntVar(&cfg.TrustProxy, "trust-proxy", cfg.TrustProxy, "доверять X-Forwarded-For от прокси (0 — нет)")
	fs.StringVar(&cfg.AIProvider, "ai-provider", cfg.AIProvider, "провайдер ответов: openai|anthropic|stub")
	fs.StringVar(&cfg.OpenAIModel, "openai-model", cfg.OpenAIModel, "модель OpenAI")
	fs.IntVar(&cfg.OpenAIMaxTokens, "openai-max-tokens", cfg.OpenAIMaxTokens, "лимит токенов ответа")
	fs.StringVar(&cfg.AnthropicModel, "anthropic-model", cfg.AnthropicModel, "модель Anthropic")
	fs.IntVar(&cfg.ChatTimeoutMs, "chat-timeout-ms", cfg.ChatTimeoutMs, "таймаут запроса /chat в мс")
	// Список origin принимаем одной строкой через ','
	originsFlag := strings.Join(cfg.CORSOrigins, ",")
	fs.StringVar(&originsFlag, "cors-origins", originsFlag, "разрешённые origin через ','")
	fs.IntVar(&cfg.MaxTurns, "max-turns", cfg.MaxTurns, "максимум сообщений в истории пользователя")
	fs.IntVar(&cfg.TTLMs, "ttl-ms", cfg.TTLMs, "время простоя пользователя до удаления, мс")
	fs.IntVar(&cfg.MaxActiveUsers, "max-active-users", cfg.MaxActiveUsers, "максимум пользователей в памяти")
	fs.IntVar(&cfg.SweepIntervalMs, "sweep-interval-ms", cfg.SweepIntervalMs, "период фоновой очистки в мс, 0 — выключено")
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}

	cfg.CORSOrigins = parseOrigins(originsFlag, []string{"http://localhost:5173"})

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate проверяет лимиты, без которых сервис работать не должен.
func (c *Config) Validate() error {
	positive := []struct {
		name string
		v    int
	}{
		{"PORT", c.Port},
		{"MAX_TURNS", c.MaxTurns},
		{"TTL_MS", c.TTLMs},
		{"MAX_ACTIVE_USERS", c.MaxActiveUsers},
		{"CHAT_TIMEOUT_MS", c.ChatTimeoutMs},
		{"CHAT_RATE_LIMIT_WINDOW_MS", c.ChatRateLimitWindowMs},
		{"CHAT_RATE_LIMIT_MAX", c.ChatRateLimitMax},
		{"DELETE_RATE_LIMIT_WINDOW_MS", c.DeleteRateLimitWindowMs},
		{"DELETE_RATE_LIMIT_MAX", c.DeleteRateLimitMax},
	}
	for _, p := range positive {
		if p.v <= 0 {
			return fmt.Errorf("%w: %s must be positive, got %d", ErrInvalid, p.name, p.v)
		}
	}
	if c.TrustProxy < 0 {
		return fmt.Errorf("%w: TRUST_PROXY must not be negative, got %d", ErrInvalid, c.TrustProxy)
	}
	if c.SweepIntervalMs < 0 {
		return fmt.Errorf("%w: SWEEP_INTERVAL_MS must not be negative, got %d", ErrInvalid, c.SweepIntervalMs)
	}
	return nil
}

func (c *Config) TTL() time.Duration { return time.Duration(c.TTLMs) * time.Millisecond }

func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalMs) * time.Millisecond
}

func (c *Config) ChatTimeout() time.Duration { return time.Duration(c.ChatTimeoutMs) * time.Millisecond }

func (c *Config) ChatRateLimitWindow() time.Duration {
	return time.Duration(c.ChatRateLimitWindowMs) * time.Millisecond
}

func (c *Config) DeleteRateLimitWindow() time.Duration {
	return time.Duration(c.DeleteRateLimitWindowMs) * time.Millisecond
}

// parseOrigins разбирает список origin: trim, убрать завершающий '/', убрать пустые.
func parseOrigins(v string, def []string) []string {
	parts := strings.Split(v, ",")
	cleaned := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSuffix(strings.TrimSpace(p), "/")
		if p != "" {
			cleaned = append(cleaned, p)
		}
	}
	if len(cleaned) == 0 {
		return def
	}
	return cleaned
}
