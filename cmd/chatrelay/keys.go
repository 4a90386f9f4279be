package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"chatrelay/internal/app"
	"chatrelay/internal/credentials"
	"chatrelay/internal/providers"
)

func keysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage stored vendor API keys",
		Long: `Manage the vendor API keys kept in the credentials store.

Stored keys are used when a request carries none, before the vendor's
environment variable.`,
	}
	cmd.AddCommand(keysListCmd(), keysSetCmd(), keysClearCmd(), keysVerifyCmd())
	return cmd
}

func parseVendorArg(name string) (credentials.Vendor, error) {
	v, ok := credentials.ParseVendor(name)
	if !ok {
		names := make([]string, 0, len(credentials.Vendors()))
		for _, known := range credentials.Vendors() {
			names = append(names, string(known))
		}
		return "", fmt.Errorf("unknown vendor %q (valid: %s)", name, strings.Join(names, ", "))
	}
	return v, nil
}

func keysListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show which vendors have a key, masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), "warn", func(a *app.App) error {
				store := a.Credentials()
				env := a.EnvDefaults()

				table := uitable.New()
				table.AddRow("VENDOR", "STORED", "ENVIRONMENT")
				for _, v := range credentials.Vendors() {
					stored, _ := store.Get(v)
					fromEnv := "-"
					if _, ok := env.Default(v); ok {
						fromEnv = env.VarName(v)
					}
					table.AddRow(v.DisplayName(), orDash(credentials.Mask(stored)), fromEnv)
				}
				fmt.Fprintln(cmd.OutOrStdout(), table)
				fmt.Fprintf(cmd.OutOrStdout(), "\ntheme: %s\n", store.Theme())
				return nil
			})
		},
	}
}

func keysSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <vendor> [key]",
		Short: "Store a key; prompts without echo when key is omitted",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := parseVendorArg(args[0])
			if err != nil {
				return err
			}
			var secret string
			if len(args) == 2 {
				secret = args[1]
			} else if secret, err = readSecret(fmt.Sprintf("%s API key: ", v.DisplayName())); err != nil {
				return err
			}
			secret = strings.TrimSpace(secret)
			if secret == "" {
				return errors.New("key must not be empty")
			}

			return withApp(cmd.Context(), "warn", func(a *app.App) error {
				err := a.Credentials().Update(cmd.Context(), func(snap *credentials.Snapshot) error {
					snap.Keys[v] = secret
					return nil
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "stored %s key %s\n", v.DisplayName(), credentials.Mask(secret))
				return nil
			})
		},
	}
}

func keysClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear <vendor>",
		Short: "Remove a stored key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := parseVendorArg(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), "warn", func(a *app.App) error {
				err := a.Credentials().Update(cmd.Context(), func(snap *credentials.Snapshot) error {
					delete(snap.Keys, v)
					return nil
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "cleared %s key\n", v.DisplayName())
				return nil
			})
		},
	}
}

func keysVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <vendor>",
		Short: "Check the effective key against the vendor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := parseVendorArg(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), "warn", func(a *app.App) error {
				model, ok := firstModel(a.Relay().Router().Registry(), v)
				if !ok {
					return fmt.Errorf("no model in the catalog uses %s", v.DisplayName())
				}
				cfg, err := a.Relay().Resolve(cmd.Context(), model, nil)
				if err != nil {
					return err
				}
				if err := a.Relay().Verify(cmd.Context(), cfg); err != nil {
					return fmt.Errorf("%s key rejected: %w", v.DisplayName(), err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s key %s is valid\n", v.DisplayName(), credentials.Mask(cfg.APIKey))
				return nil
			})
		},
	}
}

func firstModel(registry *providers.Registry, v credentials.Vendor) (string, bool) {
	for _, m := range registry.List() {
		if m.Vendor == v {
			return m.ID, true
		}
	}
	return "", false
}

func readSecret(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("read key: %w", err)
		}
		return string(b), nil
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read key: %w", err)
	}
	return line, nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
