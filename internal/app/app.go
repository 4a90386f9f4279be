// Package app provides the main application struct for centralized dependency management
// and lifecycle control of the chat relay.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"chatrelay/config"
	"chatrelay/internal/chat"
	"chatrelay/internal/conversation"
	"chatrelay/internal/core"
	"chatrelay/internal/credentials"
	"chatrelay/internal/observability"
	"chatrelay/internal/pkg/httpclient"
	"chatrelay/internal/providers"
	"chatrelay/internal/relay"
	"chatrelay/internal/server"

	// Transport packages register themselves in init
	_ "chatrelay/internal/providers/gemini"
	_ "chatrelay/internal/providers/openaicompat"
)

// App represents the main application with all its dependencies.
// It provides centralized lifecycle management for all components.
type App struct {
	config        *config.Config
	logger        *slog.Logger
	credentials   *credentials.Store
	env           *credentials.EnvDefaults
	conversations *conversation.Result
	relay         *relay.Relay
	chat          *chat.Service
	server        *server.Server

	shutdownMu sync.Mutex
	shutdown   bool
}

// Config holds the configuration options for creating an App.
type Config struct {
	// AppConfig is the configuration produced by config.Load.
	AppConfig *config.Config
	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// New creates a new App with all dependencies initialized.
// The caller must call Shutdown to release resources.
func New(ctx context.Context, cfg Config) (*App, error) {
	if cfg.AppConfig == nil {
		return nil, fmt.Errorf("app config is required")
	}
	appCfg := cfg.AppConfig
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	app := &App{config: appCfg, logger: logger}

	creds, err := credentials.New(ctx, appCfg.Credentials)
	if err != nil {
		return nil, fmt.Errorf("failed to open credentials: %w", err)
	}
	app.credentials = creds

	conversations, err := conversation.NewStore(ctx, appCfg.Storage)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("failed to initialize conversation storage: %w", err), app.close())
	}
	app.conversations = conversations

	sessions, err := conversation.NewManager(ctx, conversations.Store, logger)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("failed to restore conversations: %w", err), app.close())
	}

	clientCfg := httpclient.FromConfig(appCfg.HTTP)
	opts := providers.TransportOptions{HTTPClient: httpclient.NewHTTPClient(&clientCfg)}
	if appCfg.Metrics.Enabled {
		opts.Hooks = observability.NewPrometheusHooks()
	}
	transports, err := providers.Transports(opts)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("failed to build transports: %w", err), app.close())
	}

	endpoints, envNames := vendorOverrides(appCfg.Vendors)
	registry := providers.DefaultRegistry().WithEndpoints(endpoints)
	// Keys saved through settings win over the environment
	app.env = credentials.NewEnvDefaults(envNames)
	defaults := credentials.Chain{creds, app.env}
	router := providers.NewRouter(registry, defaults)

	app.relay = relay.New(router, transports, core.Params{
		Temperature: appCfg.Relay.Temperature,
		MaxTokens:   appCfg.Relay.MaxTokens,
	}, logger)
	app.chat = chat.NewService(app.relay, sessions, appCfg.Relay.MaxInputChars, logger)

	app.logStartupInfo(defaults)

	app.server = server.New(server.Deps{
		Relay:       app.relay,
		Chat:        app.chat,
		Credentials: creds,
		Storage:     conversations.Storage,
	}, &server.Config{
		MasterKey:              appCfg.Server.MasterKey,
		MetricsEnabled:         appCfg.Metrics.Enabled,
		MetricsEndpoint:        appCfg.Metrics.Endpoint,
		BodySizeLimit:          appCfg.BodySizeLimitBytes(),
		DistinguishErrorStatus: appCfg.Server.DistinguishErrorStatus,
		Logger:                 logger,
	})

	return app, nil
}

// vendorOverrides splits the per-vendor config into endpoint and
// environment variable overrides. Unknown vendor names are ignored.
func vendorOverrides(vendors map[string]config.VendorConfig) (map[credentials.Vendor]string, map[credentials.Vendor]string) {
	endpoints := make(map[credentials.Vendor]string)
	envNames := make(map[credentials.Vendor]string)
	for name, vc := range vendors {
		v, ok := credentials.ParseVendor(name)
		if !ok {
			slog.Warn("ignoring configuration for unknown vendor", "vendor", name)
			continue
		}
		if vc.BaseURL != "" {
			endpoints[v] = vc.BaseURL
		}
		if vc.APIKeyEnv != "" {
			envNames[v] = vc.APIKeyEnv
		}
	}
	return endpoints, envNames
}

// Relay returns the stateless relay.
func (a *App) Relay() *relay.Relay {
	return a.relay
}

// Chat returns the conversation-backed chat service.
func (a *App) Chat() *chat.Service {
	return a.chat
}

// Credentials returns the persisted key store.
func (a *App) Credentials() *credentials.Store {
	return a.credentials
}

// EnvDefaults returns the environment key source, with configured
// variable name overrides applied.
func (a *App) EnvDefaults() *credentials.EnvDefaults {
	return a.env
}

// Handler returns the HTTP handler, for embedding and tests.
func (a *App) Handler() http.Handler {
	return a.server
}

// Start starts the HTTP server on the given address.
// This is a blocking call that returns when the server stops.
func (a *App) Start(addr string) error {
	if a.server == nil {
		return fmt.Errorf("server is not initialized")
	}
	a.logger.Info("starting server", "address", addr)
	if err := a.server.Start(addr); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			a.logger.Info("server stopped gracefully")
			return nil
		}
		return fmt.Errorf("server failed to start: %w", err)
	}
	return nil
}

// Shutdown gracefully tears down app components in dependency order:
// the HTTP server first, then the conversation store, then credentials.
//
// Shutdown is idempotent; after the first call, subsequent calls are no-ops.
// It attempts every step and returns the joined failures.
func (a *App) Shutdown(ctx context.Context) error {
	a.shutdownMu.Lock()
	if a.shutdown {
		a.shutdownMu.Unlock()
		return nil
	}
	a.shutdown = true
	a.shutdownMu.Unlock()

	a.logger.Info("shutting down application...")

	var errs []error
	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			a.logger.Error("server shutdown error", "error", err)
			errs = append(errs, fmt.Errorf("server shutdown: %w", err))
		}
	}
	if err := a.close(); err != nil {
		a.logger.Error("close error", "error", err)
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	a.logger.Info("application shutdown complete")
	return nil
}

// close releases storage in reverse construction order.
func (a *App) close() error {
	var errs []error
	if a.conversations != nil {
		if err := a.conversations.Close(); err != nil {
			errs = append(errs, fmt.Errorf("conversations close: %w", err))
		}
	}
	if a.credentials != nil {
		if err := a.credentials.Close(); err != nil {
			errs = append(errs, fmt.Errorf("credentials close: %w", err))
		}
	}
	return errors.Join(errs...)
}

// logStartupInfo logs the application configuration on startup.
func (a *App) logStartupInfo(defaults credentials.DefaultSource) {
	cfg := a.config

	if cfg.Server.MasterKey == "" {
		a.logger.Warn("CHATRELAY_MASTER_KEY not set, settings and conversations are reachable without authentication")
	} else {
		a.logger.Info("authentication enabled", "mode", "master_key")
	}

	if cfg.Metrics.Enabled {
		a.logger.Info("prometheus metrics enabled", "endpoint", cfg.Metrics.Endpoint)
	} else {
		a.logger.Info("prometheus metrics disabled")
	}

	a.logger.Info("storage configured", "type", cfg.Storage.Type, "credentials", cfg.Credentials.Backend)

	configured := 0
	for _, v := range credentials.Vendors() {
		if _, ok := defaults.Default(v); ok {
			configured++
		}
	}
	a.logger.Info("vendor keys available", "configured", configured, "known", len(credentials.Vendors()))
}
