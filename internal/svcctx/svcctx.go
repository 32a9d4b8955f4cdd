// Package svcctx provides service context for dependency injection via context.
// This package is separate from server to avoid import cycles with endpoints.
package svcctx

import (
	"context"
	"log/slog"

	"github.com/jackzampolin/labscan/internal/config"
	"github.com/jackzampolin/labscan/internal/extract"
	"github.com/jackzampolin/labscan/internal/home"
	"github.com/jackzampolin/labscan/internal/llmcall"
	"github.com/jackzampolin/labscan/internal/providers"
)

// Services holds all core services that flow through context.
// Components extract what they need via the individual extractors.
type Services struct {
	Registry      *providers.Registry
	Extractor     *extract.Client
	Credentials   *extract.Credentials
	LLMCallStore  *llmcall.Store
	ConfigManager *config.Manager
	Logger        *slog.Logger
	Home          *home.Dir

	// MaxUploadBytes bounds POST /api/extract bodies.
	MaxUploadBytes int64
}

type servicesKey struct{}

// WithServices returns a new context with services attached.
func WithServices(ctx context.Context, s *Services) context.Context {
	return context.WithValue(ctx, servicesKey{}, s)
}

// ServicesFrom extracts the full Services struct from context.
// Returns nil if not present.
func ServicesFrom(ctx context.Context) *Services {
	s, _ := ctx.Value(servicesKey{}).(*Services)
	return s
}

// RegistryFrom extracts the provider registry from context.
func RegistryFrom(ctx context.Context) *providers.Registry {
	if s := ServicesFrom(ctx); s != nil {
		return s.Registry
	}
	return nil
}

// ExtractorFrom extracts the extraction client from context.
func ExtractorFrom(ctx context.Context) *extract.Client {
	if s := ServicesFrom(ctx); s != nil {
		return s.Extractor
	}
	return nil
}

// CredentialsFrom extracts the credential store from context.
func CredentialsFrom(ctx context.Context) *extract.Credentials {
	if s := ServicesFrom(ctx); s != nil {
		return s.Credentials
	}
	return nil
}

// LLMCallStoreFrom extracts the model call store from context.
func LLMCallStoreFrom(ctx context.Context) *llmcall.Store {
	if s := ServicesFrom(ctx); s != nil {
		return s.LLMCallStore
	}
	return nil
}

// ConfigManagerFrom extracts the config manager from context.
func ConfigManagerFrom(ctx context.Context) *config.Manager {
	if s := ServicesFrom(ctx); s != nil {
		return s.ConfigManager
	}
	return nil
}

// LoggerFrom extracts the logger from context, falling back to slog.Default.
func LoggerFrom(ctx context.Context) *slog.Logger {
	if s := ServicesFrom(ctx); s != nil && s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// HomeFrom extracts the home directory from context.
func HomeFrom(ctx context.Context) *home.Dir {
	if s := ServicesFrom(ctx); s != nil {
		return s.Home
	}
	return nil
}

// MaxUploadBytesFrom returns the upload limit, or 0 if unset.
func MaxUploadBytesFrom(ctx context.Context) int64 {
	if s := ServicesFrom(ctx); s != nil {
		return s.MaxUploadBytes
	}
	return 0
}
