package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"

	"github.com/jackzampolin/labscan/internal/document"
	"github.com/jackzampolin/labscan/internal/extract"
	"github.com/jackzampolin/labscan/internal/providers"
)

// EnvPrefix prefixes environment overrides, e.g. LABSCAN_SERVER_PORT.
const EnvPrefix = "LABSCAN"

// Manager handles loading and hot-reloading configuration.
type Manager struct {
	v         *viper.Viper
	mu        sync.RWMutex
	config    *Config
	callbacks []func(*Config)
	onError   func(error)
}

// NewManager creates a new config manager and loads initial config.
// An empty cfgFile searches ./config.yaml then $HOME/.labscan/config.yaml.
func NewManager(cfgFile string) (*Manager, error) {
	cm := &Manager{
		v:         viper.New(),
		callbacks: make([]func(*Config), 0),
	}

	if err := cm.initViper(cfgFile); err != nil {
		return nil, err
	}

	cfg, err := cm.load()
	if err != nil {
		return nil, err
	}
	cm.config = cfg

	return cm, nil
}

// initViper sets up viper with defaults and config file.
func (cm *Manager) initViper(cfgFile string) error {
	v := cm.v
	setDefaults(v, DefaultConfig())

	// Environment variables with LABSCAN_ prefix
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Config file
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.labscan")
	}

	// Try to read config file (not required)
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	return nil
}

// setDefaults registers every leaf key so environment overrides apply to it.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("providers", d.Providers)

	v.SetDefault("extraction.provider", d.Extraction.Provider)
	v.SetDefault("extraction.model", d.Extraction.Model)
	v.SetDefault("extraction.mode", d.Extraction.Mode)
	v.SetDefault("extraction.include_units", d.Extraction.IncludeUnits)
	v.SetDefault("extraction.temperature", d.Extraction.Temperature)
	v.SetDefault("extraction.top_p", d.Extraction.TopP)
	v.SetDefault("extraction.max_tokens", d.Extraction.MaxTokens)
	v.SetDefault("extraction.timeout", d.Extraction.Timeout)
	v.SetDefault("extraction.max_attempts", d.Extraction.MaxAttempts)
	v.SetDefault("extraction.cache_size", d.Extraction.CacheSize)
	v.SetDefault("extraction.history_size", d.Extraction.HistorySize)

	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.max_upload_mb", d.Server.MaxUploadMB)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.file", d.Logging.File)
	v.SetDefault("logging.max_size_mb", d.Logging.MaxSizeMB)
	v.SetDefault("logging.max_backups", d.Logging.MaxBackups)
	v.SetDefault("logging.max_age_days", d.Logging.MaxAgeDays)
	v.SetDefault("logging.compress", d.Logging.Compress)
}

// load parses the current viper state into a Config struct.
func (cm *Manager) load() (*Config, error) {
	var cfg Config
	if err := cm.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ConfigFile returns the path of the loaded config file, or "" when running
// on defaults.
func (cm *Manager) ConfigFile() string {
	return cm.v.ConfigFileUsed()
}

// Get returns the current configuration (thread-safe).
func (cm *Manager) Get() *Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.config
}

// OnChange registers a callback for config changes.
func (cm *Manager) OnChange(fn func(*Config)) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.callbacks = append(cm.callbacks, fn)
}

// OnError registers a callback for reloads that fail to parse or validate.
// The previous configuration stays active.
func (cm *Manager) OnError(fn func(error)) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.onError = fn
}

// WatchConfig enables hot-reloading of configuration.
func (cm *Manager) WatchConfig() {
	cm.v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := cm.load()
		if err != nil {
			cm.mu.RLock()
			onError := cm.onError
			cm.mu.RUnlock()
			if onError != nil {
				onError(fmt.Errorf("reload %s: %w", e.Name, err))
			}
			return
		}

		cm.mu.Lock()
		cm.config = cfg
		callbacks := make([]func(*Config), len(cm.callbacks))
		copy(callbacks, cm.callbacks)
		cm.mu.Unlock()

		for _, fn := range callbacks {
			fn(cfg)
		}
	})
	cm.v.WatchConfig()
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// ResolveEnvVars expands ${ENV_VAR} references in a string.
func ResolveEnvVars(value string) string {
	if value == "" {
		return value
	}
	return envVarPattern.ReplaceAllStringFunc(value, func(match string) string {
		varName := match[2 : len(match)-1]
		return os.Getenv(varName)
	})
}

// Validate checks values that would otherwise fail later at request time.
func (c *Config) Validate() error {
	if _, err := extract.ParseMode(c.Extraction.Mode); err != nil {
		return fmt.Errorf("extraction.mode: %w", err)
	}
	if _, err := c.ExtractionTimeout(); err != nil {
		return fmt.Errorf("extraction.timeout: %w", err)
	}
	if c.Extraction.Provider != "" {
		if _, ok := c.Providers[c.Extraction.Provider]; !ok {
			return fmt.Errorf("extraction.provider: %q is not configured under providers", c.Extraction.Provider)
		}
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port: %d out of range", c.Server.Port)
	}
	if c.Server.MaxUploadMB < 0 {
		return fmt.Errorf("server.max_upload_mb: must not be negative")
	}
	return nil
}

// ExtractionTimeout parses extraction.timeout; empty means the default.
func (c *Config) ExtractionTimeout() (time.Duration, error) {
	if c.Extraction.Timeout == "" {
		return extract.DefaultTimeout, nil
	}
	d, err := time.ParseDuration(c.Extraction.Timeout)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("must be positive, got %s", d)
	}
	return d, nil
}

// ToProviderRegistryConfig converts the config to a format suitable for providers.Registry.
// It resolves all ${ENV_VAR} references in API keys.
func (c *Config) ToProviderRegistryConfig() providers.RegistryConfig {
	cfg := providers.RegistryConfig{
		LLMProviders: make(map[string]providers.LLMProviderConfig),
	}

	for name, p := range c.Providers {
		cfg.LLMProviders[name] = providers.LLMProviderConfig{
			Type:      p.Type,
			Model:     p.Model,
			APIKey:    ResolveEnvVars(p.APIKey),
			BaseURL:   p.BaseURL,
			RateLimit: p.RateLimit,
			Enabled:   p.Enabled,
		}
	}

	return cfg
}

// ToExtractOptions converts the extraction section to client options.
func (c *Config) ToExtractOptions() extract.Options {
	mode, _ := extract.ParseMode(c.Extraction.Mode)
	timeout, _ := c.ExtractionTimeout()
	return extract.Options{
		Provider:     c.Extraction.Provider,
		Model:        c.Extraction.Model,
		Mode:         mode,
		IncludeUnits: c.Extraction.IncludeUnits,
		Temperature:  c.Extraction.Temperature,
		TopP:         c.Extraction.TopP,
		MaxTokens:    c.Extraction.MaxTokens,
		Timeout:      timeout,
		MaxAttempts:  c.Extraction.MaxAttempts,
		CacheSize:    c.Extraction.CacheSize,
	}
}

// ActiveAPIKey returns the resolved key of the extraction provider. It seeds
// the credential store.
func (c *Config) ActiveAPIKey() string {
	p, ok := c.Providers[c.Extraction.Provider]
	if !ok {
		return ""
	}
	return ResolveEnvVars(p.APIKey)
}

// MaxUploadBytes returns the upload limit in bytes.
func (c *Config) MaxUploadBytes() int64 {
	if c.Server.MaxUploadMB <= 0 {
		return document.DefaultMaxBytes
	}
	return int64(c.Server.MaxUploadMB) << 20
}

// Addr returns the server listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// WriteDefault writes the default configuration to the specified path.
func WriteDefault(path string) error {
	cfg := DefaultConfig()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# labscan configuration
# API keys use ${ENV_VAR} syntax to reference environment variables
# Set these in your shell: export GEMINI_API_KEY=xxx OPENAI_API_KEY=xxx OPENROUTER_API_KEY=xxx
# Any key can be overridden with LABSCAN_<SECTION>_<KEY>, e.g. LABSCAN_SERVER_PORT=9090

`)
	return os.WriteFile(path, append(header, data...), 0o644)
}
