// File: cmd/objstore/app.go
package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"objstore/internal/config"
	"objstore/internal/provider/factory"
	"objstore/internal/service"
	"objstore/internal/ui/prompt"
	"objstore/pkg/formatter"
)

// appContainer holds all the shared dependencies for the application
// This includes configuration, services, formatters, and the logger
type appContainer struct {
	Config          *config.Config
	ConfigManager   *config.ConfigManager
	ProviderFactory *factory.Factory
	ObjectService   *service.ObjectService
	ObjectFormatter *formatter.ObjectFormatter
	Prompter        prompt.Prompter
	Logger          *slog.Logger
}

type appOptions struct {
	configPath string
	// Overrides the configured operation timeout when positive
	timeout time.Duration
}

// Creates and initializes a new application container
func newApp(opts appOptions, logger *slog.Logger) (*appContainer, error) {
	cfgManager, err := config.NewConfigManager(opts.configPath)
	if err != nil {
		return nil, err
	}

	cfg, err := cfgManager.LoadConfig()
	if err != nil {
		return nil, err
	}
	if opts.timeout > 0 {
		cfg.Timeout = opts.timeout
	}
	logger.Debug("Configuration loaded", "path", cfgManager.Path(), "timeout", cfg.Timeout)

	providerFactory := factory.NewFactory(cfg, logger)

	return &appContainer{
		Config:          cfg,
		ConfigManager:   cfgManager,
		ProviderFactory: providerFactory,
		ObjectService:   service.NewObjectService(providerFactory, logger),
		ObjectFormatter: formatter.NewObjectFormatter(),
		Prompter:        newPrompter(),
		Logger:          logger,
	}, nil
}

// Creates a container that can only edit the config file. Used by the
// config commands so a broken file can still be repaired.
func newConfigApp(opts appOptions, logger *slog.Logger) (*appContainer, error) {
	cfgManager, err := config.NewConfigManager(opts.configPath)
	if err != nil {
		return nil, err
	}
	return &appContainer{ConfigManager: cfgManager, Logger: logger}, nil
}

// Uses the inline text input on a terminal and plain line reading otherwise
func newPrompter() prompt.Prompter {
	if info, err := os.Stdin.Stat(); err == nil && info.Mode()&os.ModeCharDevice != 0 {
		return prompt.NewInteractivePrompter(os.Stdin, os.Stderr)
	}
	return prompt.NewStandardPrompter(os.Stdin, os.Stderr)
}

type appKey struct{}

func withApp(ctx context.Context, app *appContainer) context.Context {
	return context.WithValue(ctx, appKey{}, app)
}

func appFromContext(ctx context.Context) (*appContainer, error) {
	app, ok := ctx.Value(appKey{}).(*appContainer)
	if !ok || app == nil {
		return nil, errors.New("application not initialized")
	}
	return app, nil
}
