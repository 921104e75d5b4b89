package companion

import (
	"EvaChat/internal/ai"
	"EvaChat/internal/service/conversation"
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Store — то, что Companion использует из хранилища диалогов.
type Store interface {
	SweepExpired(now time.Time) int
	AppendUserMessage(id, text string)
	AppendAssistantMessage(id, text string)
	History(id string) []conversation.Message
	DeleteUser(id string)
}

// ProviderError — провайдер ответов не смог ответить. Причина доступна через Unwrap,
// наружу (в HTTP) уходит только факт ошибки.
type ProviderError struct {
	Err error
}

func (e *ProviderError) Error() string { return fmt.Sprintf("completion provider: %v", e.Err) }

func (e *ProviderError) Unwrap() error { return e.Err }

// Options параметры запроса к модели.
type Options struct {
	Model           string
	MaxOutputTokens int
	Prompt          string // Системная преамбула, к ней добавляется имя пользователя
	Greeting        string
}

type Companion struct {
	store  Store
	client ai.Client
	opts   Options
	logger *zap.SugaredLogger
	now    func() time.Time
}

// NewCompanion создаёт сервис оркестрации диалога.
func NewCompanion(store Store, client ai.Client, opts Options, logger *zap.SugaredLogger) *Companion {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Companion{store: store, client: client, opts: opts, logger: logger, now: time.Now}
}

type completion struct {
	reply string
	err   error
}

// Chat записывает сообщение пользователя, отправляет историю провайдеру и сохраняет ответ.
// При ошибке провайдера ответ не сохраняется, а сообщение пользователя остаётся в истории.
// При отмене ctx ожидание прекращается, поздний ответ отбрасывается.
func (c *Companion) Chat(ctx context.Context, id, displayName, message string) (string, error) {
	// Ленивая очистка, чтобы карта пользователей не росла бесконечно
	if removed := c.store.SweepExpired(c.now()); removed > 0 {
		c.logger.Infow("Удалены неактивные пользователи", "removed", removed)
	}

	c.store.AppendUserMessage(id, message)
	messages := c.buildContext(id, displayName)

	// Запрос без удержания блокировки хранилища
	done := make(chan completion, 1)
	go func() {
		reply, err := c.client.Complete(ctx, c.opts.Model, messages, c.opts.MaxOutputTokens)
		done <- completion{reply: reply, err: err}
	}()

	var res completion
	select {
	case <-ctx.Done():
		c.logger.Warnw("Запрос к модели прерван", "user", id, "cause", context.Cause(ctx))
		return "", fmt.Errorf("chat aborted: %w", context.Cause(ctx))
	case res = <-done:
	}

	if res.err != nil {
		// Ответ пришёл вместе с отменой: решает контекст
		if cause := context.Cause(ctx); cause != nil {
			return "", fmt.Errorf("chat aborted: %w", cause)
		}
		c.logger.Errorw("Ошибка провайдера ответов", "user", id, "error", res.err)
		return "", &ProviderError{Err: res.err}
	}
	if err := context.Cause(ctx); err != nil {
		return "", fmt.Errorf("chat aborted: %w", err)
	}

	c.store.AppendAssistantMessage(id, res.reply)
	return res.reply, nil
}

// Forget удаляет память пользователя. Отсутствующий id — не ошибка.
func (c *Companion) Forget(id string) {
	c.store.DeleteUser(id)
}

// Greeting возвращает фиксированное приветствие, хранилище не трогает.
func (c *Companion) Greeting() string {
	return c.opts.Greeting
}

// buildContext собирает системное сообщение и историю пользователя.
func (c *Companion) buildContext(id, displayName string) []ai.Message {
	history := c.store.History(id)
	messages := make([]ai.Message, 0, len(history)+1)
	messages = append(messages, ai.Message{
		Role:    ai.RoleSystem,
		Content: fmt.Sprintf("%s\n\nEl nombre del usuario es: %s.", c.opts.Prompt, displayName),
	})
	for _, m := range history {
		role := ai.RoleUser
		if m.Role == conversation.RoleAssistant {
			role = ai.RoleAssistant
		}
		messages = append(messages, ai.Message{Role: role, Content: m.Content})
	}
	return messages
}
