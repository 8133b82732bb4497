// Package main runs a local chat backend for exercising the client.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/conversational-client/internal/config"
	"github.com/capitalize-ai/conversational-client/internal/handler"
	"github.com/capitalize-ai/conversational-client/internal/llm"
	"github.com/capitalize-ai/conversational-client/internal/middleware"
	natsclient "github.com/capitalize-ai/conversational-client/internal/nats"
	"github.com/capitalize-ai/conversational-client/internal/service"
	"github.com/capitalize-ai/conversational-client/pkg/logger"
	"github.com/capitalize-ai/conversational-client/pkg/tracing"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	logger.SetGlobal(log)

	if err := run(cfg, log); err != nil {
		log.Error("server failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("starting development server", zap.String("provider", cfg.Server.DefaultLLM))

	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "chat-devserver", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer func() { _ = tracing.Shutdown(context.Background(), tp) }()
		}
	}

	checks := map[string]handler.Checker{}
	var journal service.Journal
	if cfg.Server.NATSURL != "" {
		nc, err := natsclient.Connect(ctx, natsclient.Config{
			URL:      cfg.Server.NATSURL,
			CAFile:   cfg.Server.NATSCAFile,
			CertFile: cfg.Server.NATSCertFile,
			KeyFile:  cfg.Server.NATSKeyFile,
			Token:    cfg.Server.NATSToken,
		}, log)
		if err != nil {
			return err
		}
		defer nc.Close()

		j := natsclient.NewJournal(nc, cfg.Server.JournalMaxAge)
		if err := j.EnsureStream(ctx); err != nil {
			return err
		}
		journal = j
		checks["journal"] = j
		log.Info("journaling to NATS", zap.String("stream", natsclient.StreamName))
	}

	llmClient, err := llm.NewClient(llm.Provider(cfg.Server.DefaultLLM), llm.Options{
		AnthropicAPIKey: cfg.Server.AnthropicAPIKey,
		OpenAIAPIKey:    cfg.Server.OpenAIAPIKey,
		OpenAIBaseURL:   cfg.Server.OpenAIBaseURL,
		Model:           cfg.Server.LLMModel,
		MockDelay:       cfg.Server.MockDelay,
	})
	if err != nil {
		return fmt.Errorf("create LLM client: %w", err)
	}

	conversationSvc := service.NewConversationService(journal, log)
	messageSvc := service.NewMessageService(conversationSvc, llmClient, cfg.Server.HistoryLimit, log)

	router := handler.NewRouter(handler.RouterConfig{
		JWTSecret:         cfg.Server.JWTSecret,
		RateLimitRequests: cfg.Server.RateLimitRequests,
		RateLimitWindow:   cfg.Server.RateLimitWindow,
		AllowedOrigins:    cfg.Server.AllowedOrigins,
		Health:            handler.NewHealthHandler(checks),
		Conversations:     handler.NewConversationHandler(conversationSvc, log),
		Messages:          handler.NewMessageHandler(messageSvc, log),
		Logger:            log,
	})

	token, err := middleware.IssueToken(cfg.Server.JWTSecret, cfg.Server.DevUser, cfg.Server.JWTExpiration)
	if err != nil {
		return fmt.Errorf("issue development token: %w", err)
	}
	log.Info("development token issued",
		zap.String("user_id", cfg.Server.DevUser),
		zap.Duration("expires_in", cfg.Server.JWTExpiration),
		zap.String("token", token),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info("server stopped")
	return nil
}
