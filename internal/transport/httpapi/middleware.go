package httpapi

import (
	"EvaChat/internal/config"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	ctxChatInput = "chat_input"
	ctxDeleteID  = "delete_id"
)

func useMiddleware(e *echo.Echo, cfg *config.Config, logger *zap.SugaredLogger) {
	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogRemoteIP:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Infow("HTTP запрос",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency.String(),
				"remote", v.RemoteIP,
				"request_id", v.RequestID,
			)
			return nil
		},
	}))
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType},
	}))
	e.Use(middleware.BodyLimit(cfg.MaxBodySize))
}

// newLimiterStore — хранилище квот: limit запросов за window на ключ.
func newLimiterStore(window time.Duration, limit int) *middleware.RateLimiterMemoryStore {
	return middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
		Rate:      perWindow(window, limit),
		Burst:     limit,
		ExpiresIn: window,
	})
}

func newRateLimiter(store middleware.RateLimiterStore, key func(c echo.Context) string, message string) echo.MiddlewareFunc {
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Store: store,
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return key(c), nil
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return echo.NewHTTPError(http.StatusForbidden, "No se pudo identificar al cliente")
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			return echo.NewHTTPError(http.StatusTooManyRequests, message)
		},
	})
}

func perWindow(window time.Duration, limit int) rate.Limit {
	return rate.Limit(float64(limit) / window.Seconds())
}

// chatKey — лимит по проверенному id пользователя, иначе по IP.
func chatKey(c echo.Context) string {
	if in, ok := c.Get(ctxChatInput).(ChatInput); ok && in.ID != "" {
		return userKey(in.ID)
	}
	return "ip:" + c.RealIP()
}

func userKey(id string) string { return "user:" + id }

func ipKey(c echo.Context) string { return "ip:" + c.RealIP() }

// bindChat разбирает и проверяет тело /chat до лимитера.
func bindChat(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		body, err := decodeBody(c)
		if err != nil {
			return err
		}
		in, err := ValidateChat(body)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		c.Set(ctxChatInput, in)
		return next(c)
	}
}

func bindDelete(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		body, err := decodeBody(c)
		if err != nil {
			return err
		}
		id, err := ValidateDelete(body)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		c.Set(ctxDeleteID, id)
		return next(c)
	}
}
