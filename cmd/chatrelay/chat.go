package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"chatrelay/internal/app"
	"chatrelay/internal/cli"
)

func chatCmd() *cobra.Command {
	var model string
	var historyFile string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session",
		Long: `Start an interactive chat session over the configured conversation store.

Conversations are shared with the HTTP API when both use the same storage.
Type /help inside the session for commands. Ctrl+C stops a reply in
progress; Ctrl+C or Ctrl+D at the prompt exits.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), "warn", func(a *app.App) error {
				return cli.Interactive(cmd.Context(), a.Chat(), os.Stdout, cli.Options{
					Model:       model,
					HistoryFile: historyFile,
				})
			})
		},
	}

	cmd.Flags().StringVarP(&model, "model", "m", "", "Model id (default: the catalog default)")
	cmd.Flags().StringVar(&historyFile, "history", defaultHistoryFile(), "Prompt history file (empty disables history)")
	return cmd
}

func defaultHistoryFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "chatrelay", "history")
}
