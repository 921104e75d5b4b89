package conversation

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Unix(0, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(ms int64) {
	c.mu.Lock()
	c.t = time.UnixMilli(ms)
	c.mu.Unlock()
}

func newTestStore(t *testing.T, cfg Config) (*Store, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	s, err := New(cfg, WithClock(clock.Now))
	require.NoError(t, err)
	return s, clock
}

func defaultConfig() Config {
	return Config{MaxTurns: 20, TTL: time.Hour, MaxActiveUsers: 100}
}

func contents(msgs []Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, string(m.Role)+":"+m.Content)
	}
	return out
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"zero max turns", Config{MaxTurns: 0, TTL: time.Second, MaxActiveUsers: 1}},
		{"negative ttl", Config{MaxTurns: 1, TTL: -time.Second, MaxActiveUsers: 1}},
		{"zero max users", Config{MaxTurns: 1, TTL: time.Second, MaxActiveUsers: 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := New(tt.cfg)
			require.ErrorIs(t, err, ErrInvalidConfig)
			assert.Nil(t, s)
		})
	}
}

func TestTurnBoundKeepsMostRecent(t *testing.T) {
	s, _ := newTestStore(t, Config{MaxTurns: 3, TTL: time.Hour, MaxActiveUsers: 10})

	s.AppendUserMessage("u1", "hi")
	s.AppendAssistantMessage("u1", "hello")
	s.AppendUserMessage("u1", "how are you")
	s.AppendAssistantMessage("u1", "fine")
	assert.Equal(t, []string{"assistant:hello", "user:how are you", "assistant:fine"}, contents(s.History("u1")))

	s.AppendUserMessage("u1", "bye")
	assert.Equal(t, []string{"user:how are you", "assistant:fine", "user:bye"}, contents(s.History("u1")))
}

func TestTurnBoundAfterEachAppend(t *testing.T) {
	const k = 4
	s, _ := newTestStore(t, Config{MaxTurns: k, TTL: time.Hour, MaxActiveUsers: 10})

	var all []string
	for i := range 17 {
		text := fmt.Sprintf("m%d", i)
		s.AppendUserMessage("u1", text)
		all = append(all, "user:"+text)

		got := contents(s.History("u1"))
		require.LessOrEqual(t, len(got), k)
		start := max(0, len(all)-k)
		require.Equal(t, all[start:], got)
	}
}

func TestSetMaxTurnsTruncatesExisting(t *testing.T) {
	s, _ := newTestStore(t, Config{MaxTurns: 10, TTL: time.Hour, MaxActiveUsers: 10})
	for i := range 6 {
		s.AppendUserMessage("u1", fmt.Sprintf("m%d", i))
	}

	require.NoError(t, s.SetMaxTurns(2))
	assert.Equal(t, []string{"user:m4", "user:m5"}, contents(s.History("u1")))

	s.AppendAssistantMessage("u1", "r")
	assert.Equal(t, []string{"user:m5", "assistant:r"}, contents(s.History("u1")))

	assert.ErrorIs(t, s.SetMaxTurns(0), ErrInvalidConfig)
}

func TestSweepExpiredRemovesIdleUser(t *testing.T) {
	s, clock := newTestStore(t, Config{MaxTurns: 5, TTL: 1000 * time.Millisecond, MaxActiveUsers: 10})

	clock.Set(0)
	s.EnsureUser("A")

	removed := s.SweepExpired(time.UnixMilli(1500))
	assert.Equal(t, 1, removed)
	assert.Equal(t, 0, s.Len())
}

func TestSweepExpiredKeepsRecentlyTouchedUser(t *testing.T) {
	s, clock := newTestStore(t, Config{MaxTurns: 5, TTL: 1000 * time.Millisecond, MaxActiveUsers: 10})

	clock.Set(0)
	s.EnsureUser("A")
	clock.Set(900)
	s.EnsureUser("A")

	removed := s.SweepExpired(time.UnixMilli(1500))
	assert.Equal(t, 0, removed)
	assert.Equal(t, []string{"A"}, s.Users())
}

func TestSweepExpiredBoundaryIsStrict(t *testing.T) {
	s, clock := newTestStore(t, Config{MaxTurns: 5, TTL: time.Second, MaxActiveUsers: 10})

	clock.Set(0)
	s.AppendUserMessage("A", "hi")

	assert.Equal(t, 0, s.SweepExpired(time.UnixMilli(1000)))
	assert.Equal(t, 1, s.SweepExpired(time.UnixMilli(1001)))
}

func TestHistoryDoesNotTouch(t *testing.T) {
	s, clock := newTestStore(t, Config{MaxTurns: 5, TTL: time.Second, MaxActiveUsers: 10})

	clock.Set(0)
	s.AppendUserMessage("A", "hi")
	clock.Set(900)
	_ = s.History("A")

	assert.Equal(t, 1, s.SweepExpired(time.UnixMilli(1500)))
}

func TestCapacityEvictsLeastRecentlySeen(t *testing.T) {
	s, clock := newTestStore(t, Config{MaxTurns: 5, TTL: time.Hour, MaxActiveUsers: 2})

	clock.Set(0)
	s.EnsureUser("A")
	clock.Set(1)
	s.EnsureUser("B")
	clock.Set(2)
	s.EnsureUser("C")

	assert.ElementsMatch(t, []string{"B", "C"}, s.Users())
}

func TestCapacityRetainsMostRecentlyTouched(t *testing.T) {
	const limit = 5
	s, clock := newTestStore(t, Config{MaxTurns: 5, TTL: time.Hour, MaxActiveUsers: limit})

	for i := range limit + 7 {
		clock.Set(int64(i))
		s.AppendUserMessage(fmt.Sprintf("u%02d", i), "hi")
	}

	assert.Equal(t, limit, s.Len())
	assert.ElementsMatch(t, []string{"u07", "u08", "u09", "u10", "u11"}, s.Users())
}

func TestCapacityHonoursRetouch(t *testing.T) {
	s, clock := newTestStore(t, Config{MaxTurns: 5, TTL: time.Hour, MaxActiveUsers: 2})

	clock.Set(0)
	s.EnsureUser("A")
	clock.Set(1)
	s.EnsureUser("B")
	clock.Set(2)
	s.EnsureUser("A")
	clock.Set(3)
	s.EnsureUser("C")

	assert.ElementsMatch(t, []string{"A", "C"}, s.Users())
}

func TestCapacityNeverEvictsNewcomerOnTie(t *testing.T) {
	s, clock := newTestStore(t, Config{MaxTurns: 5, TTL: time.Hour, MaxActiveUsers: 1})

	clock.Set(10)
	s.EnsureUser("A")
	s.AppendUserMessage("B", "hello")

	assert.Equal(t, []string{"B"}, s.Users())
	assert.Equal(t, []string{"user:hello"}, contents(s.History("B")))
}

func TestDeleteUserIsIdempotent(t *testing.T) {
	s, _ := newTestStore(t, defaultConfig())
	s.AppendUserMessage("A", "hi")

	s.DeleteUser("missing")
	assert.Equal(t, []string{"A"}, s.Users())

	s.DeleteUser("A")
	s.DeleteUser("A")
	assert.Equal(t, 0, s.Len())
	assert.Empty(t, s.History("A"))
}

func TestHistoryUnknownUserIsEmpty(t *testing.T) {
	s, _ := newTestStore(t, defaultConfig())

	h := s.History("nobody")
	assert.NotNil(t, h)
	assert.Empty(t, h)
	assert.Equal(t, 0, s.Len())
}

func TestHistoryReturnsCopy(t *testing.T) {
	s, _ := newTestStore(t, defaultConfig())
	s.AppendUserMessage("A", "hi")

	h := s.History("A")
	h[0].Content = "mutated"

	assert.Equal(t, "hi", s.History("A")[0].Content)
}

func TestMessagesCarryTimestamp(t *testing.T) {
	s, clock := newTestStore(t, defaultConfig())
	clock.Set(42)
	s.AppendUserMessage("A", "hi")

	assert.Equal(t, time.UnixMilli(42), s.History("A")[0].CreatedAt)
}

func TestConcurrentAppendsStayBounded(t *testing.T) {
	const (
		maxTurns = 6
		users    = 8
		perUser  = 200
	)
	s, err := New(Config{MaxTurns: maxTurns, TTL: time.Hour, MaxActiveUsers: users})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for u := range users {
		id := fmt.Sprintf("user-%d", u)
		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := range perUser {
				s.AppendUserMessage(id, fmt.Sprintf("%s/%d", id, i))
			}
		}()
		go func() {
			defer wg.Done()
			for range perUser {
				h := s.History(id)
				if len(h) > maxTurns {
					t.Errorf("history of %s exceeds bound: %d", id, len(h))
					return
				}
				for i := 1; i < len(h); i++ {
					var prev, cur int
					fmt.Sscanf(h[i-1].Content, id+"/%d", &prev)
					fmt.Sscanf(h[i].Content, id+"/%d", &cur)
					if cur != prev+1 {
						t.Errorf("history of %s out of order: %v", id, contents(h))
						return
					}
				}
			}
		}()
	}
	wg.Wait()

	for u := range users {
		id := fmt.Sprintf("user-%d", u)
		h := s.History(id)
		require.Len(t, h, maxTurns)
		assert.Equal(t, fmt.Sprintf("%s/%d", id, perUser-1), h[len(h)-1].Content)
	}
}
