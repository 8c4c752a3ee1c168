// Package server
//
// @title App Garden gateway API
// @version 1.0
// @description Session, auth and backend relay endpoints for App Garden extensions
// @host localhost:3000
// @BasePath /
package server

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	"github.com/kamiwaza-ai/appgarden/internal/apiclient"
	"github.com/kamiwaza-ai/appgarden/internal/auth"
	"github.com/kamiwaza-ai/appgarden/internal/config"
	"github.com/kamiwaza-ai/appgarden/internal/guard"
	"github.com/kamiwaza-ai/appgarden/internal/proxy"
)

const shutdownTimeout = 30 * time.Second

// Server represents the HTTP server
type Server struct {
	router    *gin.Engine
	config    *config.Config
	logger    zerolog.Logger
	api       *apiclient.Client
	forwarder *proxy.Forwarder
	guard     *guard.Guard
	ui        *uiHandler
	clock     clock.PassiveClock
	version   string
}

// Option customizes a Server
type Option func(*Server)

// WithClock replaces the clock used for session expiry
func WithClock(c clock.PassiveClock) Option {
	return func(s *Server) { s.clock = c }
}

// New creates a new server instance
func New(cfg *config.Config, zlog zerolog.Logger, version string, opts ...Option) (*Server, error) {
	server := &Server{
		config:  cfg,
		logger:  zlog,
		guard:   guard.New(cfg.BasePath, cfg.Auth.PublicRoutes),
		clock:   clock.RealClock{},
		version: version,
	}
	for _, opt := range opts {
		opt(server)
	}

	// The platform API is only needed when auth is enabled
	api, err := apiclient.NewFromConfig(cfg.Kamiwaza, nil, zlog)
	if err != nil {
		if cfg.Kamiwaza.AuthEnabled() {
			return nil, err
		}
		zlog.Info().Msg("Kamiwaza API URL not configured - running without platform auth")
	}
	server.api = api

	server.forwarder, err = proxy.NewForwarder(cfg.Proxy.BackendURL, cfg.BasePath, proxy.Options{
		Service: "backend",
		Logger:  zlog,
	})
	if err != nil {
		return nil, err
	}

	server.ui, err = newUIHandler(cfg.UI.StaticDir, cfg.BasePath)
	if err != nil {
		return nil, err
	}

	server.setupRouter()

	return server, nil
}

// setupRouter configures the Gin router with routes and middleware
func (s *Server) setupRouter() {
	gin.SetMode(gin.ReleaseMode)

	s.router = gin.New()

	s.router.Use(gin.Recovery())
	s.router.Use(requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())

	// Health check endpoint (no auth required)
	s.router.GET("/health", s.healthCheck)

	base := s.router.Group(s.config.BasePath)

	// Session endpoints answer browser preflights themselves; the catch-all
	// relay handles OPTIONS for everything else
	api := base.Group("/api")
	api.Use(cors.New(s.corsConfig()))
	api.Use(auth.Middleware(s.identityResolver(), s.logger))
	{
		api.GET("/session", s.getSession)
		api.GET("/auth/login-url", s.getLoginURL)
		api.POST("/auth/logout", s.logout)
		api.GET("/auth/me", auth.RequireAuth(s.logger), s.getCurrentUser)

		api.OPTIONS("/session", noContent)
		api.OPTIONS("/auth/login-url", noContent)
		api.OPTIONS("/auth/logout", noContent)
		api.OPTIONS("/auth/me", noContent)
	}

	// Everything else is either relayed to the backend or served as guarded UI
	s.router.NoRoute(s.dispatch(
		s.forwarder.Handler(),
		s.guard.Middleware(s.sessionState, s.loginURLForGuard, s.logger),
		s.ui.serve,
	))
}

func (s *Server) corsConfig() cors.Config {
	cfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	origins := s.config.HTTP.AllowedOrigins
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		// Credentials require an explicit origin, so echo the caller's back
		cfg.AllowOriginFunc = func(string) bool { return true }
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}

// dispatch routes unmatched requests: <base>/api/* goes to the backend relay,
// anything else under the base path goes through the route guard to the UI
func (s *Server) dispatch(relay gin.HandlerFunc, routeGuard gin.HandlerFunc, ui gin.HandlerFunc) gin.HandlerFunc {
	apiPrefix := s.config.BasePath + "/api/"

	return func(c *gin.Context) {
		path := c.Request.URL.Path

		switch {
		case path == strings.TrimSuffix(apiPrefix, "/") || strings.HasPrefix(path, apiPrefix):
			relay(c)

		case s.config.BasePath != "" && path != s.config.BasePath && !strings.HasPrefix(path, s.config.BasePath+"/"):
			c.JSON(http.StatusNotFound, gin.H{"detail": "Not Found"})

		default:
			routeGuard(c)
			if !c.IsAborted() {
				ui(c)
			}
		}
	}
}

// @Router /health [get]
// @Success 200 {object} map[string]interface{}
func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":       "online",
		"timestamp":    s.clock.Now().UTC(),
		"service":      "appgarden-gateway",
		"version":      s.version,
		"auth_enabled": s.config.Kamiwaza.AuthEnabled(),
	})
}

func noContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server and blocks until SIGINT/SIGTERM or a server error
func (s *Server) Start() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return s.Run(ctx)
}

// Run serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	// No write timeout: relayed event streams stay open
	srv := &http.Server{
		Addr:              s.config.HTTP.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 30 * time.Second,
		IdleTimeout:       300 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info().
			Str("addr", srv.Addr).
			Str("base_path", s.config.BasePath).
			Str("backend", s.config.Proxy.BackendURL).
			Bool("auth_enabled", s.config.Kamiwaza.AuthEnabled()).
			Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info().Msg("Shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Error().Err(err).Msg("Error shutting down HTTP server")
			return err
		}

		s.logger.Info().Msg("Server shutdown complete")
		return nil
	})

	return g.Wait()
}
