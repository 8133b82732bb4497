// Package main is a terminal client for the chat backend.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/capitalize-ai/conversational-client/internal/chat"
	"github.com/capitalize-ai/conversational-client/internal/client"
	"github.com/capitalize-ai/conversational-client/internal/config"
	"github.com/capitalize-ai/conversational-client/internal/transcript"
	"github.com/capitalize-ai/conversational-client/pkg/logger"
	"github.com/capitalize-ai/conversational-client/pkg/tracing"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app is what every subcommand works with once the root has set it up.
type app struct {
	cfg  *config.Config
	log  *logger.Logger
	api  *client.Client
	ctrl *chat.Controller

	shutdown func()
}

func newRootCmd() *cobra.Command {
	a := &app{}
	var apiURL, token string

	root := &cobra.Command{
		Use:           "chat",
		Short:         "Talk to the chat backend from a terminal",
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if apiURL != "" {
				cfg.Client.APIURL = apiURL
			}
			if token != "" {
				cfg.Client.Token = token
				cfg.Client.TokenFile = ""
			}
			return a.setup(cmd.Context(), cfg, cmd.ErrOrStderr())
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.shutdown != nil {
				a.shutdown()
			}
		},
	}
	root.PersistentFlags().StringVar(&apiURL, "api-url", "", "backend base URL (overrides CHAT_API_URL)")
	root.PersistentFlags().StringVar(&token, "token", "", "bearer token (overrides CHAT_TOKEN and CHAT_TOKEN_FILE)")

	root.AddCommand(
		newListCmd(a),
		newNewCmd(a),
		newShowCmd(a),
		newSendCmd(a),
		newDeleteCmd(a),
	)
	return root
}

func (a *app) setup(ctx context.Context, cfg *config.Config, stderr io.Writer) error {
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	a.cfg = cfg
	a.log = log

	var shutdownTracing func()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "chat-cli", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			shutdownTracing = func() { _ = tracing.Shutdown(context.Background(), tp) }
		}
	}
	a.shutdown = func() {
		if shutdownTracing != nil {
			shutdownTracing()
		}
		_ = log.Sync()
	}

	api, err := client.New(client.Options{
		BaseURL:           cfg.Client.APIURL,
		Tokens:            client.NewTokenSource(cfg.Client.Token, cfg.Client.TokenFile),
		RequestTimeout:    cfg.Client.RequestTimeout,
		StreamIdleTimeout: cfg.Client.StreamIdleTimeout,
		RetryMaxElapsed:   cfg.Client.RetryMaxElapsed,
		OnUnauthorized: func() {
			fmt.Fprintln(stderr, "The server rejected the access token. Sign in again and update CHAT_TOKEN or CHAT_TOKEN_FILE.")
		},
		Logger: log,
	})
	if err != nil {
		return err
	}
	a.api = api
	a.ctrl = chat.NewController(api, transcript.NewStore(), log)
	return nil
}
