package companion

import (
	"EvaChat/internal/ai"
	"EvaChat/internal/service/conversation"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeClient struct {
	complete func(ctx context.Context, model string, messages []ai.Message, maxTokens int) (string, error)
	calls    [][]ai.Message
	models   []string
	tokens   []int
}

func (f *fakeClient) Complete(ctx context.Context, model string, messages []ai.Message, maxTokens int) (string, error) {
	f.calls = append(f.calls, messages)
	f.models = append(f.models, model)
	f.tokens = append(f.tokens, maxTokens)
	return f.complete(ctx, model, messages, maxTokens)
}

func replyWith(text string) *fakeClient {
	return &fakeClient{complete: func(context.Context, string, []ai.Message, int) (string, error) {
		return text, nil
	}}
}

func newTestCompanion(t *testing.T, client ai.Client, cfg conversation.Config) (*Companion, *conversation.Store) {
	t.Helper()
	store, err := conversation.New(cfg)
	require.NoError(t, err)
	c := NewCompanion(store, client, Options{
		Model:           "test-model",
		MaxOutputTokens: 600,
		Prompt:          "Eres EVA.",
		Greeting:        "Hola",
	}, zap.NewNop().Sugar())
	return c, store
}

func defaultStoreConfig() conversation.Config {
	return conversation.Config{MaxTurns: 20, TTL: time.Hour, MaxActiveUsers: 100}
}

func TestChatRecordsBothTurns(t *testing.T) {
	client := replyWith("¡Hola Ana!")
	c, store := newTestCompanion(t, client, defaultStoreConfig())

	reply, err := c.Chat(context.Background(), "u1", "Ana", "hola")
	require.NoError(t, err)
	assert.Equal(t, "¡Hola Ana!", reply)

	history := store.History("u1")
	require.Len(t, history, 2)
	assert.Equal(t, conversation.RoleUser, history[0].Role)
	assert.Equal(t, "hola", history[0].Content)
	assert.Equal(t, conversation.RoleAssistant, history[1].Role)
	assert.Equal(t, "¡Hola Ana!", history[1].Content)
}

func TestChatAssemblesContext(t *testing.T) {
	client := replyWith("ok")
	c, _ := newTestCompanion(t, client, defaultStoreConfig())

	_, err := c.Chat(context.Background(), "u1", "Ana", "primera")
	require.NoError(t, err)
	_, err = c.Chat(context.Background(), "u1", "Ana", "segunda")
	require.NoError(t, err)

	require.Len(t, client.calls, 2)
	assert.Equal(t, []ai.Message{
		{Role: ai.RoleSystem, Content: "Eres EVA.\n\nEl nombre del usuario es: Ana."},
		{Role: ai.RoleUser, Content: "primera"},
		{Role: ai.RoleAssistant, Content: "ok"},
		{Role: ai.RoleUser, Content: "segunda"},
	}, client.calls[1])
	assert.Equal(t, []string{"test-model", "test-model"}, client.models)
	assert.Equal(t, []int{600, 600}, client.tokens)
}

func TestChatContextRespectsTurnBound(t *testing.T) {
	client := replyWith("ok")
	c, _ := newTestCompanion(t, client, conversation.Config{MaxTurns: 3, TTL: time.Hour, MaxActiveUsers: 10})

	for _, msg := range []string{"a", "b", "c"} {
		_, err := c.Chat(context.Background(), "u1", "Ana", msg)
		require.NoError(t, err)
	}

	last := client.calls[len(client.calls)-1]
	// системное сообщение + не больше MaxTurns из истории
	require.Len(t, last, 4)
	assert.Equal(t, "c", last[3].Content)
}

func TestChatProviderErrorKeepsUserMessage(t *testing.T) {
	cause := errors.New("503 from upstream")
	client := &fakeClient{complete: func(context.Context, string, []ai.Message, int) (string, error) {
		return "", cause
	}}
	c, store := newTestCompanion(t, client, defaultStoreConfig())

	reply, err := c.Chat(context.Background(), "u1", "Ana", "hola")
	assert.Empty(t, reply)

	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.ErrorIs(t, err, cause)

	history := store.History("u1")
	require.Len(t, history, 1)
	assert.Equal(t, conversation.RoleUser, history[0].Role)
}

func TestChatEmptyReplyIsRecorded(t *testing.T) {
	c, store := newTestCompanion(t, replyWith(""), defaultStoreConfig())

	reply, err := c.Chat(context.Background(), "u1", "Ana", "hola")
	require.NoError(t, err)
	assert.Empty(t, reply)
	assert.Len(t, store.History("u1"), 2)
}

func TestChatCancelledDoesNotRecordLateReply(t *testing.T) {
	release := make(chan struct{})
	returned := make(chan struct{})
	client := &fakeClient{complete: func(context.Context, string, []ai.Message, int) (string, error) {
		// провайдер игнорирует отмену и отвечает поздно
		<-release
		defer close(returned)
		return "tarde", nil
	}}
	c, store := newTestCompanion(t, client, defaultStoreConfig())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := c.Chat(ctx, "u1", "Ana", "hola")
		errCh <- err
	}()

	require.Eventually(t, func() bool { return len(store.History("u1")) == 1 }, time.Second, time.Millisecond)
	cancel()

	err := <-errCh
	require.ErrorIs(t, err, context.Canceled)
	var perr *ProviderError
	assert.False(t, errors.As(err, &perr))

	close(release)
	<-returned
	history := store.History("u1")
	require.Len(t, history, 1)
	assert.Equal(t, "hola", history[0].Content)
}

func TestChatTimeoutSurfacesCause(t *testing.T) {
	client := &fakeClient{complete: func(ctx context.Context, _ string, _ []ai.Message, _ int) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
	c, store := newTestCompanion(t, client, defaultStoreConfig())

	timeout := errors.New("chat timeout")
	ctx, cancel := context.WithTimeoutCause(context.Background(), 10*time.Millisecond, timeout)
	defer cancel()

	_, err := c.Chat(ctx, "u1", "Ana", "hola")
	require.ErrorIs(t, err, timeout)
	assert.Len(t, store.History("u1"), 1)
}

func TestChatSweepsExpiredUsersFirst(t *testing.T) {
	c, store := newTestCompanion(t, replyWith("ok"), conversation.Config{MaxTurns: 5, TTL: time.Second, MaxActiveUsers: 10})
	store.AppendUserMessage("idle", "hi")

	c.now = func() time.Time { return time.Now().Add(time.Hour) }
	_, err := c.Chat(context.Background(), "u1", "Ana", "hola")
	require.NoError(t, err)

	assert.Equal(t, []string{"u1"}, store.Users())
}

func TestForgetAndGreeting(t *testing.T) {
	c, store := newTestCompanion(t, replyWith("ok"), defaultStoreConfig())
	_, err := c.Chat(context.Background(), "u1", "Ana", "hola")
	require.NoError(t, err)

	c.Forget("u1")
	c.Forget("never-seen")
	assert.Equal(t, 0, store.Len())
	assert.Equal(t, "Hola", c.Greeting())
}
