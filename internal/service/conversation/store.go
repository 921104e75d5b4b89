package conversation

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrInvalidConfig возвращается конструктором при неположительных лимитах.
var ErrInvalidConfig = errors.New("conversation: invalid config")

// Role — автор сообщения в истории.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message — одна реплика истории. После создания не меняется.
type Message struct {
	Role      Role
	Content   string
	CreatedAt time.Time
}

// Config задаёт лимиты хранилища.
type Config struct {
	MaxTurns       int           // Максимум сообщений в истории одного пользователя
	TTL            time.Duration // Время простоя, после которого пользователь удаляется при очистке
	MaxActiveUsers int           // Максимум пользователей в памяти
}

func (c Config) validate() error {
	if c.MaxTurns <= 0 {
		return fmt.Errorf("%w: max turns must be positive, got %d", ErrInvalidConfig, c.MaxTurns)
	}
	if c.TTL <= 0 {
		return fmt.Errorf("%w: ttl must be positive, got %s", ErrInvalidConfig, c.TTL)
	}
	if c.MaxActiveUsers <= 0 {
		return fmt.Errorf("%w: max active users must be positive, got %d", ErrInvalidConfig, c.MaxActiveUsers)
	}
	return nil
}

type entry struct {
	messages []Message
	lastSeen time.Time
}

// Store — потокобезопасный кэш историй диалогов по идентификатору пользователя.
// История режется по MaxTurns, простаивающие пользователи удаляются в SweepExpired,
// при превышении MaxActiveUsers вытесняются давно не появлявшиеся.
type Store struct {
	mu     sync.RWMutex
	cfg    Config
	byUser map[string]*entry

	now    func() time.Time
	logger *zap.SugaredLogger
}

// Option настраивает Store при создании.
type Option func(*Store)

// WithClock подменяет источник времени (для тестов).
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger задаёт логгер; по умолчанию логи отбрасываются.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New создаёт хранилище. Неположительные лимиты — ошибка конфигурации.
func New(cfg Config, opts ...Option) (*Store, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	s := &Store{
		cfg:    cfg,
		byUser: make(map[string]*entry),
		now:    time.Now,
		logger: zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// EnsureUser создаёт запись пользователя или обновляет lastSeen существующей.
func (s *Store) EnsureUser(id string) {
	s.mu.Lock()
	s.ensureLocked(id)
	s.mu.Unlock()
}

// AppendUserMessage добавляет реплику пользователя.
func (s *Store) AppendUserMessage(id, text string) {
	s.append(id, RoleUser, text)
}

// AppendAssistantMessage добавляет ответ ассистента.
func (s *Store) AppendAssistantMessage(id, text string) {
	s.append(id, RoleAssistant, text)
}

func (s *Store) append(id string, role Role, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.ensureLocked(id)
	now := s.now()
	e.messages = append(e.messages, Message{Role: role, Content: text, CreatedAt: now})
	e.messages = prune(e.messages, s.cfg.MaxTurns)
	e.lastSeen = now
}

// History возвращает копию истории, от старых к новым. lastSeen не трогает.
func (s *Store) History(id string) []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.byUser[id]
	if !ok {
		return []Message{}
	}
	return slices.Clone(e.messages)
}

// DeleteUser удаляет пользователя. Для отсутствующего id ничего не делает.
func (s *Store) DeleteUser(id string) {
	s.mu.Lock()
	delete(s.byUser, id)
	s.mu.Unlock()
}

// SweepExpired удаляет пользователей, простаивающих дольше TTL относительно now.
// Возвращает количество удалённых.
func (s *Store) SweepExpired(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, e := range s.byUser {
		if now.Sub(e.lastSeen) > s.cfg.TTL {
			delete(s.byUser, id)
			removed++
		}
	}
	return removed
}

// SetMaxTurns меняет лимит истории и сразу обрезает все записи под новый лимит.
func (s *Store) SetMaxTurns(n int) error {
	if n <= 0 {
		return fmt.Errorf("%w: max turns must be positive, got %d", ErrInvalidConfig, n)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cfg.MaxTurns = n
	for _, e := range s.byUser {
		e.messages = prune(e.messages, n)
	}
	return nil
}

// Len возвращает число пользователей в памяти.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byUser)
}

// Users возвращает снимок идентификаторов (порядок не определён).
func (s *Store) Users() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.byUser))
	for id := range s.byUser {
		ids = append(ids, id)
	}
	return ids
}

// ensureLocked вызывается под s.mu.
func (s *Store) ensureLocked(id string) *entry {
	now := s.now()
	if e, ok := s.byUser[id]; ok {
		e.lastSeen = now
		return e
	}
	e := &entry{messages: []Message{}, lastSeen: now}
	s.byUser[id] = e
	s.evictLocked(id)
	return e
}

// evictLocked вытесняет давно не появлявшихся пользователей до лимита.
// keep — только что добавленный пользователь, его не трогаем.
func (s *Store) evictLocked(keep string) {
	overflow := len(s.byUser) - s.cfg.MaxActiveUsers
	if overflow <= 0 {
		return
	}

	type candidate struct {
		id       string
		lastSeen time.Time
	}
	candidates := make([]candidate, 0, len(s.byUser))
	for id, e := range s.byUser {
		if id == keep {
			continue
		}
		candidates = append(candidates, candidate{id: id, lastSeen: e.lastSeen})
	}
	slices.SortFunc(candidates, func(a, b candidate) int {
		return a.lastSeen.Compare(b.lastSeen)
	})

	evicted := 0
	for _, c := range candidates {
		if len(s.byUser) <= s.cfg.MaxActiveUsers {
			break
		}
		delete(s.byUser, c.id)
		evicted++
	}
	s.logger.Infow("Пользователи вытеснены по лимиту", "evicted", evicted, "limit", s.cfg.MaxActiveUsers)
}

// prune оставляет последние maxTurns сообщений, сохраняя порядок.
func prune(messages []Message, maxTurns int) []Message {
	overflow := len(messages) - maxTurns
	if overflow <= 0 {
		return messages
	}
	// копируем, чтобы не держать хвост старого массива
	return slices.Clone(messages[overflow:])
}
