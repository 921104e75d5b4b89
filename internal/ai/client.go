package ai

import "context"

// Role — роль сообщения в запросе к модели.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message — пара {role, content} для контекста запроса.
type Message struct {
	Role    Role
	Content string
}

// Client интерфейс провайдера ответов. Все реализации должны быть взаимозаменяемыми.
// Пустой ответ модели — не ошибка, возвращается "".
type Client interface {
	Complete(ctx context.Context, model string, messages []Message, maxOutputTokens int) (string, error)
}
