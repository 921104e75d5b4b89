package twitch

import (
	"EvaChat/internal/config"
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	twitchirc "github.com/gempir/go-twitch-irc/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// Лимит Twitch на длину сообщения в чате
	maxReplyRunes = 500

	// Сколько вопросов из чата обрабатывается одновременно и как часто
	maxInFlight    = 4
	questionsBurst = 5
	questionsEvery = 3 * time.Second
)

var (
	urlRe    = regexp.MustCompile(`https?://[^\s]+`)
	badIDRe  = regexp.MustCompile(`[^a-zA-Z0-9_-]`)
	errNoCfg = errors.New("twitch: not configured")
)

// Chatter — ассистент, которому пересылаются вопросы из чата.
type Chatter interface {
	Chat(ctx context.Context, id, displayName, message string) (string, error)
}

// Run подключается к Twitch IRC и отвечает на сообщения с префиксом Trigger.
// Реконнекты обеспечивает клиент; функция завершается по отмене ctx.
func Run(ctx context.Context, logger *zap.SugaredLogger, cfg config.TwitchConfig, chat Chatter, timeout time.Duration) error {
	username := strings.ToLower(strings.TrimSpace(cfg.Username))
	token := strings.TrimSpace(cfg.OAuth)
	channel := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(cfg.Channel), "#"))
	if username == "" || token == "" || channel == "" {
		logger.Warnw("Twitch chat not configured: missing env", "username", username != "", "token", token != "", "channel", channel != "")
		return errNoCfg
	}
	if !strings.HasPrefix(token, "oauth:") {
		token = "oauth:" + token
	}
	trigger := strings.TrimSpace(cfg.Trigger)

	client := twitchirc.NewClient(username, token)
	dedup := newDeduper(5 * time.Second)
	gate := newGate(rate.Every(questionsEvery), questionsBurst, maxInFlight)

	client.OnConnect(func() {
		logger.Infow("Twitch connected", "as", username, "join", channel, "trigger", trigger)
		client.Join(channel)
	})

	client.OnPrivateMessage(func(msg twitchirc.PrivateMessage) {
		login := strings.TrimSpace(msg.User.Name)
		if login == "" || strings.EqualFold(login, username) {
			return
		}
		question, ok := extractQuestion(msg.Message, trigger)
		if !ok || !dedup.Allow(login, question, time.Now()) {
			return
		}
		name := strings.TrimSpace(msg.User.DisplayName)
		if name == "" {
			name = login
		}

		release, ok := gate.Acquire()
		if !ok {
			logger.Infow("Twitch: вопрос пропущен, ассистент занят", "user", login)
			return
		}
		go func() {
			defer release()
			reqCtx, cancel := context.WithTimeoutCause(ctx, timeout, errors.New("twitch chat timeout"))
			defer cancel()

			reply, err := chat.Chat(reqCtx, UserID(login), name, question)
			if err != nil {
				logger.Warnw("Twitch: ассистент не ответил", "user", login, "error", err)
				return
			}
			if reply = strings.TrimSpace(reply); reply == "" {
				return
			}
			client.Say(channel, truncateRunes("@"+name+" "+reply, maxReplyRunes))
		}()
	})

	errCh := make(chan error, 1)
	go func() { errCh <- client.Connect() }()

	select {
	case <-ctx.Done():
		_ = client.Disconnect()
		// Подождём чуть-чуть корректного завершения
		select {
		case <-errCh:
		case <-time.After(2 * time.Second):
		}
		return context.Cause(ctx)
	case err := <-errCh:
		if err != nil {
			logger.Errorw("twitch connect error", "error", err)
		}
		return err
	}
}

// extractQuestion отрезает префикс-триггер и URL. Пустой триггер — отвечаем на всё.
func extractQuestion(text, trigger string) (string, bool) {
	text = strings.TrimSpace(text)
	if trigger != "" {
		if len(text) < len(trigger) || !strings.EqualFold(text[:len(trigger)], trigger) {
			return "", false
		}
		rest := text[len(trigger):]
		// "!evax" — чужая команда
		if rest != "" && rest[0] != ' ' && rest[0] != '\t' {
			return "", false
		}
		text = rest
	}
	text = strings.TrimSpace(urlRe.ReplaceAllString(text, ""))
	return text, text != ""
}

// UserID строит id диалога для логина Twitch в допустимом алфавите.
func UserID(login string) string {
	id := "twitch_" + badIDRe.ReplaceAllString(strings.ToLower(login), "_")
	if len(id) > 64 {
		id = id[:64]
	}
	return id
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}

// gate ограничивает частоту вопросов и число одновременных запросов к ассистенту.
type gate struct {
	limiter *rate.Limiter
	slots   chan struct{}
}

func newGate(every rate.Limit, burst, inFlight int) *gate {
	return &gate{limiter: rate.NewLimiter(every, burst), slots: make(chan struct{}, inFlight)}
}

// Acquire не ждёт: нет слота или квоты — вопрос пропускается.
func (g *gate) Acquire() (release func(), ok bool) {
	select {
	case g.slots <- struct{}{}:
	default:
		return nil, false
	}
	if !g.limiter.Allow() {
		<-g.slots
		return nil, false
	}
	return func() { <-g.slots }, true
}

// deduper отбрасывает одинаковый текст от того же пользователя в пределах окна.
type deduper struct {
	window time.Duration
	mu     sync.Mutex
	last   map[string]lastMsg
}

type lastMsg struct {
	text string
	at   time.Time
}

func newDeduper(window time.Duration) *deduper {
	return &deduper{window: window, last: map[string]lastMsg{}}
}

func (d *deduper) Allow(user, text string, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if lm, ok := d.last[user]; ok && lm.text == text && now.Sub(lm.at) <= d.window {
		return false
	}
	d.last[user] = lastMsg{text: text, at: now}
	// Заодно выкидываем старые записи, чтобы карта не росла
	for u, lm := range d.last {
		if now.Sub(lm.at) > d.window {
			delete(d.last, u)
		}
	}
	return true
}
