package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"chatrelay/internal/version"
)

func versionCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			info := version.Get()
			switch output {
			case "json":
				out, err := info.JSON()
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), out)
			case "short":
				fmt.Fprintln(cmd.OutOrStdout(), info.Version)
			case "text", "":
				fmt.Fprintln(cmd.OutOrStdout(), info.Text())
			default:
				return fmt.Errorf("unknown output format %q (valid: text, json, short)", output)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "text", "Output format (text, json, short)")
	return cmd
}
