package config

// Config holds labscan configuration.
// Stored at: ~/.labscan/config.yaml
type Config struct {
	Providers  map[string]ProviderCfg `mapstructure:"providers" yaml:"providers"`
	Extraction ExtractionCfg          `mapstructure:"extraction" yaml:"extraction"`
	Server     ServerCfg              `mapstructure:"server" yaml:"server"`
	Logging    LoggingCfg             `mapstructure:"logging" yaml:"logging"`
}

// ProviderCfg configures a remote model provider.
type ProviderCfg struct {
	Type      string  `mapstructure:"type" yaml:"type"`                   // "gemini", "openai", "openrouter", "mock"
	Model     string  `mapstructure:"model" yaml:"model"`                 // Default model
	APIKey    string  `mapstructure:"api_key" yaml:"api_key"`             // API key (supports ${ENV_VAR} syntax)
	BaseURL   string  `mapstructure:"base_url" yaml:"base_url,omitempty"` // Endpoint override
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit"`       // Requests per minute
	Enabled   bool    `mapstructure:"enabled" yaml:"enabled"`
}

// ExtractionCfg controls how documents are sent and parsed.
type ExtractionCfg struct {
	Provider     string  `mapstructure:"provider" yaml:"provider"`           // Key into Providers
	Model        string  `mapstructure:"model" yaml:"model,omitempty"`       // Overrides the provider model
	Mode         string  `mapstructure:"mode" yaml:"mode"`                   // "schema" or "lines"
	IncludeUnits bool    `mapstructure:"include_units" yaml:"include_units"` // Ask for units in the schema variant
	Temperature  float64 `mapstructure:"temperature" yaml:"temperature"`
	TopP         float64 `mapstructure:"top_p" yaml:"top_p"`
	MaxTokens    int     `mapstructure:"max_tokens" yaml:"max_tokens"`
	Timeout      string  `mapstructure:"timeout" yaml:"timeout"`           // Go duration, e.g. "120s"
	MaxAttempts  int     `mapstructure:"max_attempts" yaml:"max_attempts"` // 1 = no retries
	CacheSize    int     `mapstructure:"cache_size" yaml:"cache_size"`     // Cached responses; negative disables
	HistorySize  int     `mapstructure:"history_size" yaml:"history_size"` // Recorded model calls kept in memory
}

// ServerCfg configures the HTTP server.
type ServerCfg struct {
	Host        string `mapstructure:"host" yaml:"host"`
	Port        int    `mapstructure:"port" yaml:"port"`
	MaxUploadMB int    `mapstructure:"max_upload_mb" yaml:"max_upload_mb"`
}

// LoggingCfg configures log output.
type LoggingCfg struct {
	Level      string `mapstructure:"level" yaml:"level"`               // debug, info, warn, error
	File       string `mapstructure:"file" yaml:"file,omitempty"`       // Empty logs to stderr
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`   // Rotate after this size
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`   // Rotated files kept
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"` // Days to keep rotated files
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Providers: map[string]ProviderCfg{
			"gemini": {
				Type:      "gemini",
				Model:     "gemini-3-pro-preview",
				APIKey:    "${GEMINI_API_KEY}",
				RateLimit: 60,
				Enabled:   true,
			},
			"openai": {
				Type:      "openai",
				Model:     "gpt-4o",
				APIKey:    "${OPENAI_API_KEY}",
				RateLimit: 60,
				Enabled:   false,
			},
			"openrouter": {
				Type:      "openrouter",
				Model:     "google/gemini-2.5-pro",
				APIKey:    "${OPENROUTER_API_KEY}",
				RateLimit: 60,
				Enabled:   false,
			},
		},
		Extraction: ExtractionCfg{
			Provider:     "gemini",
			Mode:         "schema",
			IncludeUnits: true,
			Temperature:  0.1,
			TopP:         0.95,
			Timeout:      "120s",
			MaxAttempts:  1,
			CacheSize:    128,
			HistorySize:  500,
		},
		Server: ServerCfg{
			Host:        "127.0.0.1",
			Port:        8080,
			MaxUploadMB: 10,
		},
		Logging: LoggingCfg{
			Level:      "info",
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 28,
			Compress:   true,
		},
	}
}

// GetProvider returns a provider config by name.
func (c *Config) GetProvider(name string) (ProviderCfg, bool) {
	cfg, ok := c.Providers[name]
	return cfg, ok
}

// EnabledProviders returns all enabled providers.
func (c *Config) EnabledProviders() map[string]ProviderCfg {
	result := make(map[string]ProviderCfg)
	for name, cfg := range c.Providers {
		if cfg.Enabled {
			result[name] = cfg
		}
	}
	return result
}
