package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/zhouzirui/z-tavern/relay/internal/config"
	"github.com/zhouzirui/z-tavern/relay/internal/handler"
	chathandler "github.com/zhouzirui/z-tavern/relay/internal/handler/chat"
	"github.com/zhouzirui/z-tavern/relay/internal/model/character"
	"github.com/zhouzirui/z-tavern/relay/internal/service/ai"
	"github.com/zhouzirui/z-tavern/relay/internal/service/chat"
	"github.com/zhouzirui/z-tavern/relay/internal/telemetry"
	"github.com/zhouzirui/z-tavern/relay/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	log := logger.Install(logger.Config{
		Level:  cfg.Log.Level,
		JSON:   cfg.Log.Format != "text",
		Output: os.Stderr,
	})
	if envErr != nil {
		log.Warn("failed to load .env file, continuing with system environment variables only", "error", envErr)
	}

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	shutdownTracing, err := telemetry.SetupTracing(cfg.Telemetry.ServiceName, cfg.Telemetry.TraceStdout, os.Stdout)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(flushCtx)
	}()

	// No characters means no valid sessions.
	items, err := character.LoadFile(cfg.Characters.Path)
	if err != nil {
		return err
	}
	characters := character.NewMemoryStore(items)
	log.Info("characters loaded", "path", cfg.Characters.Path, "count", characters.Len())

	chatModel, err := ai.NewChatModel(ctx, cfg.AI)
	if err != nil {
		return err
	}
	aiService, err := ai.NewService(chatModel, log)
	if err != nil {
		return err
	}
	log.Info("AI service initialized", "provider", cfg.AI.Provider)

	sessions, err := chat.NewRegistry(chat.Options{Capacity: cfg.Session.Capacity, Logger: log})
	if err != nil {
		return err
	}

	chatHandler := chathandler.New(characters, sessions, aiService, chathandler.Options{
		Scope:  cfg.Session.Scope,
		Logger: log,
	})

	router := handler.NewRouter(handler.Deps{
		Characters:     characters,
		Sessions:       sessions,
		Chat:           chatHandler,
		Summarizer:     aiService,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Logger:         log,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	// Shutdown does not close hijacked WebSocket connections.
	srv.RegisterOnShutdown(chatHandler.CloseAll)

	log.Info("Z Tavern relay listening", "addr", cfg.Server.Addr,
		"session_scope", cfg.Session.Scope, "session_capacity", cfg.Session.Capacity)
	return runServer(ctx, srv, cfg.Server.ShutdownTimeout)
}

func runServer(ctx context.Context, srv *http.Server, shutdownTimeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
