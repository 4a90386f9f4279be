package server

import (
	"context"
	"log/slog"
	"net/http"
	"path"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chatrelay/config"
	"chatrelay/internal/chat"
	"chatrelay/internal/core"
	"chatrelay/internal/credentials"
	"chatrelay/internal/relay"
	"chatrelay/internal/storage"
)

// Server wraps the Echo server
type Server struct {
	echo    *echo.Echo
	handler *Handler
}

// Config holds server configuration options
type Config struct {
	MasterKey       string // Optional: bearer token required on every route but /health and metrics
	MetricsEnabled  bool   // Whether to expose Prometheus metrics endpoint
	MetricsEndpoint string // HTTP path for metrics endpoint (default: /metrics)
	BodySizeLimit   int64  // Max request body size in bytes (default: 10MB)
	// DistinguishErrorStatus reports configuration and vendor failures on
	// /chat with their own status instead of a uniform 500.
	DistinguishErrorStatus bool
	Logger                 *slog.Logger
}

// Deps are the services the handlers call.
type Deps struct {
	Relay       *relay.Relay
	Chat        *chat.Service
	Credentials *credentials.Store
	// Storage is pinged by /health when conversations are persisted.
	Storage storage.Storage
}

// New creates a new HTTP server
func New(deps Deps, cfg *Config) *Server {
	if cfg == nil {
		cfg = &Config{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	handler := NewHandler(deps, cfg.DistinguishErrorStatus, logger)

	// Global middleware stack (order matters)
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator:    uuid.NewString,
		TargetHeader: core.RequestIDHeader,
		RequestIDHandler: func(c echo.Context, id string) {
			req := c.Request()
			c.SetRequest(req.WithContext(core.WithRequestID(req.Context(), id)))
		},
	}))
	e.Use(requestLogger(logger))
	e.Use(middleware.Recover())

	bodySizeLimit := config.DefaultBodySizeLimit
	if cfg.BodySizeLimit > 0 {
		bodySizeLimit = cfg.BodySizeLimit
	}
	e.Use(middleware.BodyLimit(strconv.FormatInt(bodySizeLimit, 10)))

	authSkipPaths := []string{"/health"}
	metricsPath := "/metrics"
	if cfg.MetricsEnabled {
		if cfg.MetricsEndpoint != "" {
			// Normalize path to prevent traversal attacks
			metricsPath = path.Clean("/" + cfg.MetricsEndpoint)
		}
		authSkipPaths = append(authSkipPaths, metricsPath)
	}
	if cfg.MasterKey != "" {
		e.Use(AuthMiddleware(cfg.MasterKey, authSkipPaths))
	}

	e.GET("/health", handler.Health)
	if cfg.MetricsEnabled {
		e.GET(metricsPath, echo.WrapHandler(promhttp.Handler()))
	}

	e.GET("/v1/models", handler.ListModels)
	e.POST("/chat", handler.Chat)

	e.GET("/settings", handler.GetSettings)
	e.PUT("/settings", handler.PutSettings)
	e.DELETE("/settings/keys/:vendor", handler.ClearKey)

	conv := e.Group("/conversations")
	conv.GET("", handler.ListConversations)
	conv.POST("", handler.CreateConversation)
	conv.POST("/:id/select", handler.SelectConversation)
	conv.PATCH("/:id", handler.RenameConversation)
	conv.DELETE("/:id", handler.DeleteConversation)
	conv.GET("/:id/messages", handler.ListMessages)
	conv.POST("/:id/messages", handler.SendMessage)
	conv.DELETE("/:id/messages", handler.ResetConversation)
	conv.POST("/:id/stop", handler.StopConversation)

	return &Server{
		echo:    e,
		handler: handler,
	}
}

func requestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []slog.Attr{
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
				slog.String("request_id", v.RequestID),
			}
			level := slog.LevelInfo
			if v.Error != nil {
				level = slog.LevelError
				attrs = append(attrs, slog.String("error", v.Error.Error()))
			}
			logger.LogAttrs(c.Request().Context(), level, "request", attrs...)
			return nil
		},
	})
}

// Start starts the HTTP server on the given address
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// ServeHTTP implements the http.Handler interface, allowing Server to be used with httptest
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
