// File: cmd/objstore/root.go
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"objstore/internal/flags"
	"objstore/internal/logger"

	"github.com/spf13/cobra"
)

type rootFlags struct {
	appOptions
	debug bool
}

func newRootCmd() *cobra.Command {
	rf := &rootFlags{}

	rootCmd := &cobra.Command{
		Use:   "objstore",
		Short: "objstore is a command-line tool for working with objects in cloud storage.",
		Long: `A unified CLI to read, write, list, copy and delete objects across
S3, Google Cloud Storage and S3-compatible HTTP endpoints. Objects are
addressed by URL, e.g. s3://bucket/key, gs://bucket/key or
https://host/bucket/key.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupApp(cmd, rf, newApp)
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&rf.configPath, flags.Config, flags.ConfigShort, "", "Path to the config file (defaults to the user config directory)")
	pf.DurationVar(&rf.timeout, flags.Timeout, 0, "Upper bound on each storage operation, e.g. 30s (overrides the configured timeout)")
	pf.BoolVarP(&rf.debug, flags.Debug, flags.DebugShort, false, "Enable debug logging")

	rootCmd.AddCommand(newObjectCmds()...)
	rootCmd.AddCommand(newConfigCmd(rf))
	rootCmd.AddCommand(newProvidersCmd())
	return rootCmd
}

func setupApp(cmd *cobra.Command, rf *rootFlags, build func(appOptions, *slog.Logger) (*appContainer, error)) error {
	log := logger.NewLogger(rf.debug)
	app, err := build(rf.appOptions, log)
	if err != nil {
		log.Error("Failed to initialize application", "error", err)
		return err
	}
	cmd.SetContext(withApp(cmd.Context(), app))
	return nil
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
