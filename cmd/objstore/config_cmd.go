// File: cmd/objstore/config_cmd.go
package main

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"objstore/internal/config"
	"objstore/pkg/formatter"

	"github.com/spf13/cobra"
)

func newConfigCmd(rf *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration settings",
		Long: `Reads and edits the objstore configuration file. Values are validated
before the file is written, so a rejected value leaves the file untouched.`,
		// Only the config file is needed, so a file that no longer loads can still be fixed
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupApp(cmd, rf, newConfigApp)
		},
	}

	cmd.AddCommand(
		newConfigSetCmd(),
		newConfigGetCmd(),
		newConfigDeleteCmd(),
		newConfigListCmd(),
		newConfigKeysCmd(),
	)
	return cmd
}

// Keys are case-insensitive on the command line
func configKey(arg string) string {
	return strings.ToLower(strings.TrimSpace(arg))
}

func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "set <key> <value>",
		Short:   "Set a configuration value",
		Example: "  objstore config set gcp.bucket backups\n  objstore config set retry.max_attempts 5",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFromContext(cmd.Context())
			if err != nil {
				return err
			}

			key := configKey(args[0])
			if err := app.ConfigManager.SetValue(key, args[1]); err != nil {
				return fmt.Errorf("error setting %s: %w", key, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s set to %q\n", key, args[1])
			return nil
		},
	}
}

func newConfigGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "get <key>",
		Short:   "Print one configuration value",
		Example: "  objstore config get aws.region",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFromContext(cmd.Context())
			if err != nil {
				return err
			}

			key := configKey(args[0])
			value, ok, err := app.ConfigManager.GetValue(key)
			if err != nil {
				return fmt.Errorf("error reading configuration: %w", err)
			}
			if !ok || value == "" {
				return fmt.Errorf("%s is not set in %s", key, app.ConfigManager.Path())
			}
			fmt.Fprintln(cmd.OutOrStdout(), value)
			return nil
		},
	}
}

func newConfigDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "delete <key>",
		Aliases: []string{"unset"},
		Short:   "Remove a configuration value so its default applies again",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFromContext(cmd.Context())
			if err != nil {
				return err
			}

			key := configKey(args[0])
			deleted, err := app.ConfigManager.DeleteValue(key)
			if err != nil {
				return fmt.Errorf("error deleting %s: %w", key, err)
			}
			if !deleted {
				return fmt.Errorf("%s is not set in %s", key, app.ConfigManager.Path())
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s removed\n", key)
			return nil
		},
	}
}

func newConfigListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show the values stored in the configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := appFromContext(cmd.Context())
			if err != nil {
				return err
			}

			settings, err := app.ConfigManager.ListValues()
			if err != nil {
				return fmt.Errorf("error reading configuration: %w", err)
			}
			maps.DeleteFunc(settings, func(_, v string) bool { return v == "" })

			out := cmd.OutOrStdout()
			if len(settings) == 0 {
				fmt.Fprintf(out, "%s holds no values. Use 'objstore config set <key> <value>'.\n", app.ConfigManager.Path())
				return nil
			}

			table := formatter.NewTable([]string{"Key", "Value"})
			for _, k := range slices.Sorted(maps.Keys(settings)) {
				table.AddRow([]string{k, settings[k]})
			}
			fmt.Fprintln(out, formatter.FormatSectionTitle(app.ConfigManager.Path()))
			fmt.Fprintln(out, table.String())
			return nil
		},
	}
}

func newConfigKeysCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keys",
		Short: "List every configuration key that can be set",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, k := range config.Keys() {
				fmt.Fprintln(cmd.OutOrStdout(), k)
			}
			return nil
		},
	}
}
