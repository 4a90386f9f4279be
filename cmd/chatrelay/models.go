package main

import (
	"fmt"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"

	"chatrelay/internal/app"
)

func modelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List the model catalog",
		Long: `List the model catalog. The default model, used for unknown ids, is
marked with "*". KEY tells whether the model needs a key and whether one is
available from the credentials store or the environment.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), "warn", func(a *app.App) error {
				router := a.Relay().Router()
				registry := router.Registry()
				def := registry.Default().ID

				table := uitable.New()
				table.MaxColWidth = 48
				table.AddRow("", "ID", "VENDOR", "CATEGORY", "STATUS", "KEY")
				for _, m := range registry.List() {
					marker := ""
					if m.ID == def {
						marker = "*"
					}
					key := "optional"
					if m.RequiresKey {
						key = "required"
					}
					if cfg, err := router.Resolve(m.ID, nil); err == nil && cfg.APIKey != "" {
						key += ", available"
					} else {
						key += ", missing"
					}
					table.AddRow(marker, m.ID, m.Vendor.DisplayName(), m.Category, m.Status, key)
				}
				fmt.Fprintln(cmd.OutOrStdout(), table)
				return nil
			})
		},
	}
}
