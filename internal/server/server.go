package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/jackzampolin/labscan/internal/api"
	"github.com/jackzampolin/labscan/internal/config"
	"github.com/jackzampolin/labscan/internal/extract"
	"github.com/jackzampolin/labscan/internal/home"
	"github.com/jackzampolin/labscan/internal/llmcall"
	"github.com/jackzampolin/labscan/internal/providers"
	"github.com/jackzampolin/labscan/internal/server/endpoints"
	"github.com/jackzampolin/labscan/internal/svcctx"
)

// Server is the labscan HTTP server. It owns the provider registry, the
// credential store and the extraction client, and keeps them in sync with
// configuration reloads.
type Server struct {
	httpServer *http.Server
	registry   *providers.Registry
	creds      *extract.Credentials
	extractor  *extract.Client
	calls      *llmcall.Store
	configMgr  *config.Manager
	logger     *slog.Logger

	// services holds all core services for context enrichment
	services *svcctx.Services

	// endpoints registry for HTTP routes
	endpointRegistry *api.Registry

	mu      sync.RWMutex
	running bool
}

// Config holds server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1)
	Host string
	// Port is the port to listen on (default: 8080)
	Port string
	// ConfigManager provides configuration with hot-reload support.
	// When nil the built-in defaults are used.
	ConfigManager *config.Manager
	// Home is the labscan home directory (optional)
	Home *home.Dir
	// Registry replaces the registry built from configuration. Config
	// reloads leave it untouched.
	Registry *providers.Registry
	// Logger is the structured logger to use
	Logger *slog.Logger
}

// New creates a new Server with the given configuration.
func New(cfg Config) (*Server, error) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	appCfg := config.DefaultConfig()
	if cfg.ConfigManager != nil {
		appCfg = cfg.ConfigManager.Get()
	}

	registry := cfg.Registry
	if registry == nil {
		registry = providers.NewRegistry()
		registry.SetLogger(cfg.Logger)
		registry.Reload(appCfg.ToProviderRegistryConfig())
	}

	seededKey := appCfg.ActiveAPIKey()
	creds := extract.NewCredentials(seededKey, "config")
	calls := llmcall.NewStore(appCfg.Extraction.HistorySize)

	extractor, err := extract.NewClient(extract.Config{
		Resolver:    registry,
		Credentials: creds,
		Options:     appCfg.ToExtractOptions(),
		Recorder:    llmcall.NewRecorder(calls),
		Logger:      cfg.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create extraction client: %w", err)
	}

	if cfg.ConfigManager != nil {
		ownRegistry := cfg.Registry == nil
		cfg.ConfigManager.OnChange(func(c *config.Config) {
			if ownRegistry {
				registry.Reload(c.ToProviderRegistryConfig())
			}
			extractor.Configure(c.ToExtractOptions())

			// Only a changed key in the file replaces the stored one, so a key
			// set through the API survives unrelated edits.
			if key := c.ActiveAPIKey(); key != seededKey {
				seededKey = key
				if err := creds.Set(key, "config"); err != nil {
					cfg.Logger.Warn("configured API key is empty or malformed")
				}
			}
			cfg.Logger.Info("configuration reloaded")
		})
		cfg.ConfigManager.OnError(func(err error) {
			cfg.Logger.Error("config reload failed, keeping previous configuration", "error", err)
		})
	}

	s := &Server{
		registry:  registry,
		creds:     creds,
		extractor: extractor,
		calls:     calls,
		configMgr: cfg.ConfigManager,
		logger:    cfg.Logger,
	}

	s.services = &svcctx.Services{
		Registry:       registry,
		Extractor:      extractor,
		Credentials:    creds,
		LLMCallStore:   calls,
		ConfigManager:  cfg.ConfigManager,
		Logger:         cfg.Logger,
		Home:           cfg.Home,
		MaxUploadBytes: appCfg.MaxUploadBytes(),
	}

	// Create endpoint registry and register all endpoints
	s.endpointRegistry = api.NewRegistry()
	if err := s.endpointRegistry.RegisterAll(endpoints.All(endpoints.Config{})); err != nil {
		return nil, err
	}

	// Set up HTTP server
	mux := http.NewServeMux()
	s.endpointRegistry.RegisterRoutes(mux, s.requireInit)

	timeout, _ := appCfg.ExtractionTimeout()
	s.httpServer = &http.Server{
		Addr:         net.JoinHostPort(cfg.Host, cfg.Port),
		Handler:      s.withServices(mux),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: timeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

// Start starts the HTTP server.
// It blocks until the context is cancelled or an error occurs.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	s.running = true
	s.mu.Unlock()

	if !s.creds.Status().Configured {
		s.logger.Warn("no API key configured; extraction requests will fail until one is set",
			"endpoint", "PUT /api/auth/key")
	}

	// Start HTTP server in goroutine
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
		s.logger.Debug("routes registered", "routes", s.endpointRegistry.Patterns())
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for context cancellation or error
	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			s.setNotRunning()
			return fmt.Errorf("HTTP server error: %w", err)
		}
	}

	return s.shutdown()
}

// shutdown performs graceful shutdown of the HTTP server.
func (s *Server) shutdown() error {
	s.logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := s.httpServer.Shutdown(shutdownCtx)
	if err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	s.setNotRunning()
	s.logger.Info("server stopped")
	return err
}

func (s *Server) setNotRunning() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// IsRunning returns whether the server is currently running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Addr returns the server's listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Handler returns the fully wired HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Registry returns the provider registry.
func (s *Server) Registry() *providers.Registry {
	return s.registry
}

// Extractor returns the extraction client.
func (s *Server) Extractor() *extract.Client {
	return s.extractor
}

// Credentials returns the credential store.
func (s *Server) Credentials() *extract.Credentials {
	return s.creds
}

// withServices wraps a handler to enrich the request context with services.
func (s *Server) withServices(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if s.services != nil {
			ctx = svcctx.WithServices(ctx, s.services)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireInit is middleware that ensures the server is fully initialized.
// Returns 503 Service Unavailable if the extraction client isn't ready.
func (s *Server) requireInit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.services == nil || s.services.Extractor == nil || s.services.LLMCallStore == nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error":"server not fully initialized"}`))
			return
		}
		next(w, r)
	}
}
