package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"chatrelay/internal/app"
	"chatrelay/internal/version"
)

func serveCmd() *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig("")
			if err != nil {
				return err
			}
			if port != "" {
				cfg.Server.Port = port
			}

			logger.Info("starting chatrelay",
				"version", version.Version,
				"commit", version.Commit,
				"build_date", version.Date,
			)

			application, err := app.New(cmd.Context(), app.Config{AppConfig: cfg, Logger: logger})
			if err != nil {
				return fmt.Errorf("failed to initialize application: %w", err)
			}

			// Handle graceful shutdown
			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			done := make(chan struct{})
			go func() {
				defer close(done)
				<-quit

				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()

				if err := application.Shutdown(ctx); err != nil {
					logger.Error("application shutdown error", "error", err)
				}
			}()

			if err := application.Start(":" + cfg.Server.Port); err != nil {
				_ = application.Shutdown(context.Background())
				return err
			}
			<-done
			return nil
		},
	}

	cmd.Flags().StringVarP(&port, "port", "p", "", "Listen port (overrides server.port)")
	return cmd
}
