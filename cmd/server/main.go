package main

import (
	"EvaChat/internal/adapter/chat/twitch"
	"EvaChat/internal/ai"
	"EvaChat/internal/app/sweeper"
	"EvaChat/internal/config"
	"EvaChat/internal/service/companion"
	"EvaChat/internal/service/conversation"
	"EvaChat/internal/transport/httpapi"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.NewConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	// создаём регистратор zap: в дебаге — development
	var logger *zap.Logger
	if cfg.DebugMode {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		panic(err)
	}
	sugar := logger.Sugar()
	//сброс буфера логгера
	defer func() {
		_ = logger.Sync()
	}()

	sugar.Infow("Starting EVA",
		"DebugMode", cfg.DebugMode,
		"provider", cfg.AIProvider,
		"maxTurns", cfg.MaxTurns,
		"ttl", cfg.TTL().String(),
		"maxActiveUsers", cfg.MaxActiveUsers,
	)

	store, err := conversation.New(conversation.Config{
		MaxTurns:       cfg.MaxTurns,
		TTL:            cfg.TTL(),
		MaxActiveUsers: cfg.MaxActiveUsers,
	}, conversation.WithLogger(sugar.Named("store")))
	if err != nil {
		sugar.Fatalw("Не удалось создать хранилище", "error", err)
	}

	client, err := ai.NewClient(cfg, sugar.Named("ai"))
	if err != nil {
		sugar.Fatalw("Не удалось создать клиента провайдера", "error", err)
	}

	eva := companion.NewCompanion(store, client, companion.Options{
		Model:           ai.Model(cfg),
		MaxOutputTokens: cfg.OpenAIMaxTokens,
		Prompt:          cfg.AssistantPrompt,
		Greeting:        cfg.Greeting,
	}, sugar.Named("companion"))

	// Graceful shutdown on Ctrl+C / SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := httpapi.NewServer(cfg, eva, store, sugar.Named("http"))
	if err := srv.Start(ctx); err != nil {
		sugar.Fatalw("Не удалось запустить HTTP API", "error", err)
	}

	if sw := sweeper.New(store, cfg.SweepInterval(), sugar.Named("sweeper")); sw.Enabled() {
		go func() {
			if err := sw.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				sugar.Errorw("Фоновая очистка завершилась с ошибкой", "error", err)
			}
		}()
	}

	if cfg.Twitch.Enabled() {
		go func() {
			err := twitch.Run(ctx, sugar.Named("twitch"), cfg.Twitch, eva, cfg.ChatTimeout())
			if err != nil && !errors.Is(err, context.Canceled) {
				sugar.Errorw("Twitch остановлен с ошибкой", "error", err)
			}
		}()
	}

	<-ctx.Done()
	sugar.Infow("Shutting down")

	shutdownCtx, cancel := context.WithTimeoutCause(context.Background(), 5*time.Second, errors.New("shutdown timeout"))
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		sugar.Warnw("graceful shutdown error", "error", err)
	}
	sugar.Infow("server stopped")
}
