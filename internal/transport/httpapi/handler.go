package httpapi

import (
	"EvaChat/internal/config"
	"EvaChat/internal/service/companion"
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

// Companion — то, что HTTP-слой требует от ассистента.
type Companion interface {
	Chat(ctx context.Context, id, displayName, message string) (string, error)
	Forget(id string)
	Greeting() string
}

// UserCounter отдаёт число пользователей в памяти для /health.
type UserCounter interface {
	Len() int
}

var errChatTimeout = errors.New("chat timeout")

const (
	msgProviderFailed = "Error comunicando con OpenAI"
	msgTimeout        = "Tiempo de espera agotado"
	msgChatLimited    = "Demasiadas solicitudes al chat. Intenta de nuevo más tarde."
	msgDeleteLimited  = "Demasiadas solicitudes, intenta de nuevo más tarde."
)

type Handler struct {
	companion Companion
	users     UserCounter
	timeout   time.Duration
	logger    *zap.SugaredLogger
	upgrader  websocket.Upgrader

	// квоты чата общие для /chat и /ws
	chatQuota     middleware.RateLimiterStore
	chatLimiter   echo.MiddlewareFunc
	deleteLimiter echo.MiddlewareFunc
}

func NewHandler(c Companion, users UserCounter, cfg *config.Config, logger *zap.SugaredLogger) *Handler {
	chatQuota := newLimiterStore(cfg.ChatRateLimitWindow(), cfg.ChatRateLimitMax)
	deleteQuota := newLimiterStore(cfg.DeleteRateLimitWindow(), cfg.DeleteRateLimitMax)
	return &Handler{
		companion:     c,
		users:         users,
		timeout:       cfg.ChatTimeout(),
		logger:        logger,
		upgrader:      newUpgrader(cfg.CORSOrigins),
		chatQuota:     chatQuota,
		chatLimiter:   newRateLimiter(chatQuota, chatKey, msgChatLimited),
		deleteLimiter: newRateLimiter(deleteQuota, ipKey, msgDeleteLimited),
	}
}

// RegisterRoutes вешает маршруты на группу. Лимиты общие для всех групп.
// Проверка тела идёт раньше лимитера: ключ лимита /chat берётся из проверенного id.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/saludo", h.Greeting)
	g.POST("/chat", h.Chat, bindChat, h.chatLimiter)
	g.POST("/eliminarMemoria", h.Forget, bindDelete, h.deleteLimiter)
	g.GET("/health", h.Health)
	g.GET("/ws", h.ChatWS)
}

func (h *Handler) Greeting(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"saludo": h.companion.Greeting()})
}

func (h *Handler) Chat(c echo.Context) error {
	in := c.Get(ctxChatInput).(ChatInput)

	reply, err := h.chat(c.Request().Context(), in)
	if err != nil {
		return h.chatError(err)
	}
	return c.JSON(http.StatusOK, map[string]string{"respuesta": reply})
}

func (h *Handler) chat(parent context.Context, in ChatInput) (string, error) {
	ctx, cancel := context.WithTimeoutCause(parent, h.timeout, errChatTimeout)
	defer cancel()
	return h.companion.Chat(ctx, in.ID, in.Name, in.Message)
}

// chatError переводит ошибку ассистента в HTTP-ответ.
func (h *Handler) chatError(err error) error {
	var perr *companion.ProviderError
	switch {
	case errors.Is(err, errChatTimeout):
		h.logger.Warnw("Таймаут запроса к чату", "error", err)
		return echo.NewHTTPError(http.StatusGatewayTimeout, msgTimeout).SetInternal(err)
	case errors.As(err, &perr):
		h.logger.Errorw("Ошибка провайдера", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, msgProviderFailed).SetInternal(err)
	case errors.Is(err, context.Canceled), errors.Is(err, errPeerGone):
		// клиент ушёл, отвечать некому
		h.logger.Infow("Запрос к чату отменён клиентом")
		return echo.NewHTTPError(http.StatusServiceUnavailable, "Solicitud cancelada").SetInternal(err)
	default:
		h.logger.Errorw("Ошибка чата", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, msgProviderFailed).SetInternal(err)
	}
}

func (h *Handler) Forget(c echo.Context) error {
	id := c.Get(ctxDeleteID).(string)
	h.companion.Forget(id)
	return c.JSON(http.StatusOK, map[string]string{"mensaje": "Memoria eliminada para el usuario con id: " + id})
}

func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status": "healthy",
		"users":  h.users.Len(),
	})
}
