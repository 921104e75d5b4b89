package ai

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// StubClient заглушка, которая не делает реальных запросов
type StubClient struct{}

func NewStubClient() *StubClient { return &StubClient{} }

func (c *StubClient) Complete(ctx context.Context, _ string, messages []Message, _ int) (string, error) {
	if err := context.Cause(ctx); err != nil {
		return "", err
	}
	last := ""
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			last = messages[i].Content
			break
		}
	}
	return fmt.Sprintf("solicitud recibida (%s): %s", uuid.NewString()[:8], last), nil
}
