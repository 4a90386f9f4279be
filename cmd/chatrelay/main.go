// Package main is the entry point for the chat relay server and its
// terminal client.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"chatrelay/config"
	"chatrelay/internal/app"
	"chatrelay/internal/logging"
)

// Global flags
var (
	configPath string
	logLevel   string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "chatrelay",
		Short: "Streaming chat relay for hosted LLM vendors",
		Long: `chatrelay relays chat completions from OpenAI-compatible vendors and
Google Gemini as a uniform text stream, and keeps conversations and
per-vendor API keys.

Run "chatrelay serve" for the HTTP API or "chatrelay chat" for an
interactive terminal session.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file (default: config/config.yaml or config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the log level (debug, info, warn, error)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(chatCmd())
	rootCmd.AddCommand(modelsCmd())
	rootCmd.AddCommand(keysCmd())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads configuration and installs the process logger.
// quietLevel applies when --log-level is not given and the command is
// interactive.
func loadConfig(quietLevel string) (*config.Config, *slog.Logger, error) {
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	switch {
	case logLevel != "":
		cfg.Logging.Level = logLevel
	case quietLevel != "":
		cfg.Logging.Level = quietLevel
	}
	logger := logging.New(os.Stderr, cfg.Logging)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// withApp builds the application, runs fn and shuts it down.
func withApp(ctx context.Context, quietLevel string, fn func(*app.App) error) error {
	cfg, logger, err := loadConfig(quietLevel)
	if err != nil {
		return err
	}
	application, err := app.New(ctx, app.Config{AppConfig: cfg, Logger: logger})
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer func() {
		if err := application.Shutdown(context.WithoutCancel(ctx)); err != nil {
			logger.Error("shutdown failed", "error", err)
		}
	}()
	return fn(application)
}
