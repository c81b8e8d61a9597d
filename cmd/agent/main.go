package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/chris/wattwise/config"
	"github.com/chris/wattwise/internal/agent"
	"github.com/chris/wattwise/internal/db"
	"github.com/chris/wattwise/internal/discord"
	"github.com/chris/wattwise/internal/llm"
	"github.com/chris/wattwise/internal/tools"
	"github.com/chris/wattwise/internal/tracer"
)

type rootOptions struct {
	cfg    *config.Config
	logger *slog.Logger
}

func main() {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:           "wattwise",
		Short:         "Energy data assistant with a streaming tool-calling agent",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			opts.cfg = cfg
			opts.logger = cfg.Logger()
			slog.SetDefault(opts.logger)
			return nil
		},
	}

	serveCmd := newServeCmd(opts)
	rootCmd.RunE = serveCmd.RunE
	rootCmd.Flags().AddFlagSet(serveCmd.Flags())
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(newChatCmd(opts))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// app holds the long-lived pieces shared by serve and chat.
type app struct {
	agent *agent.Agent
	store *db.DB
	close func()
}

func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	shutdownTracing, err := tracer.Setup(ctx, cfg.TraceExporter, os.Stderr)
	if err != nil {
		return nil, err
	}

	store, err := db.Open(cfg.DatabasePath)
	if err != nil {
		shutdownTracing(ctx)
		return nil, err
	}

	client, err := llm.NewClient(llm.ProviderConfig{
		Provider: cfg.LLMProvider,
		APIKey:   cfg.APIKey(),
		Model:    cfg.LLMModel,
		BaseURL:  cfg.BaseURL(),
	})
	if err != nil {
		store.Close()
		shutdownTracing(ctx)
		return nil, fmt.Errorf("creating LLM client: %w", err)
	}
	guarded := llm.NewBreakerClient(client, cfg.LLMProvider, cfg.BreakerMaxFailures, cfg.BreakerTimeout, logger)

	toolOpts := []tools.Option{
		tools.WithStore(store),
		tools.WithDefaultRecipient(cfg.AlertRecipient),
	}
	if cfg.DiscordWebhook != "" {
		notifier, err := discord.NewNotifier(cfg.DiscordWebhook, logger)
		if err != nil {
			store.Close()
			shutdownTracing(ctx)
			return nil, err
		}
		toolOpts = append(toolOpts, tools.WithNotifier(notifier))
	}
	registry, err := tools.NewEnergyRegistry(tools.NewToolset(logger, toolOpts...))
	if err != nil {
		store.Close()
		shutdownTracing(ctx)
		return nil, err
	}

	ag := agent.New(guarded, registry,
		agent.WithMaxRounds(cfg.MaxToolRounds),
		agent.WithLogger(logger),
	)
	logger.Info("agent ready", "provider", cfg.LLMProvider, "tools", len(registry.List()), "max_rounds", cfg.MaxToolRounds)

	return &app{
		agent: ag,
		store: store,
		close: func() {
			store.Close()
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTracing(sctx); err != nil {
				logger.Warn("shutting down tracing", "error", err)
			}
		},
	}, nil
}
