package httpapi

import (
	"EvaChat/internal/config"
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// Server — HTTP API ассистента поверх echo.
type Server struct {
	addr    string
	echo    *echo.Echo
	srv     *http.Server
	logger  *zap.SugaredLogger
	running atomic.Bool

	stopOnce sync.Once
	stopErr  error
}

func NewServer(cfg *config.Config, companion Companion, users UserCounter, logger *zap.SugaredLogger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = newErrorHandler(cfg.MaxBodySize, logger)
	e.IPExtractor = ipExtractor(cfg.TrustProxy)

	useMiddleware(e, cfg, logger)

	h := NewHandler(companion, users, cfg, logger)
	h.RegisterRoutes(e.Group(""))
	h.RegisterRoutes(e.Group("/api"))

	addr := fmt.Sprintf(":%d", cfg.Port)
	return &Server{
		addr:   addr,
		echo:   e,
		logger: logger,
		srv: &http.Server{
			Addr:              addr,
			Handler:           e,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			// /chat отвечает не позже таймаута провайдера
			WriteTimeout: cfg.ChatTimeout() + 10*time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// ipExtractor выбирает источник IP клиента для лимитов. За прокси берём
// крайний справа недоверенный адрес из X-Forwarded-For, остальное в заголовке задаёт клиент.
func ipExtractor(trustProxy int) echo.IPExtractor {
	if trustProxy <= 0 {
		return echo.ExtractIPDirect()
	}
	return echo.ExtractIPFromXFFHeader()
}

// Handler отдаёт корневой обработчик, в тестах его крутит httptest.
func (s *Server) Handler() http.Handler { return s.echo }

// Start запускает сервер в отдельной горутине и сразу возвращается.
// При отмене ctx сервер останавливается.
func (s *Server) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return nil
	}
	go func() {
		s.logger.Infow("HTTP API слушает", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) && err != nil {
			s.logger.Errorw("HTTP API остановлен с ошибкой", "error", err)
		} else {
			s.logger.Infow("HTTP API остановлен")
		}
	}()

	go func() {
		<-ctx.Done()
		_ = s.Stop(context.WithoutCancel(ctx))
	}()
	return nil
}

// Stop останавливает сервер один раз; повторные вызовы ждут первый и получают его результат.
func (s *Server) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() { s.stopErr = s.shutdown(ctx) })
	return s.stopErr
}

func (s *Server) shutdown(ctx context.Context) error {
	if !s.running.Load() {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeoutCause(ctx, 5*time.Second, errors.New("http api shutdown timeout"))
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warnw("graceful shutdown error", "error", err)
		return s.srv.Close()
	}
	return nil
}

func (s *Server) Addr() string { return s.addr }
