package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jackzampolin/labscan/internal/extract"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configFile := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configFile, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return configFile
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	gemini, ok := cfg.GetProvider("gemini")
	if !ok {
		t.Fatal("expected default gemini provider")
	}
	if gemini.APIKey != "${GEMINI_API_KEY}" {
		t.Errorf("expected gemini API key placeholder, got %s", gemini.APIKey)
	}
	if gemini.Model != "gemini-3-pro-preview" {
		t.Errorf("unexpected default model %s", gemini.Model)
	}
	if cfg.Extraction.Temperature != 0.1 || cfg.Extraction.TopP != 0.95 {
		t.Errorf("unexpected sampling defaults %+v", cfg.Extraction)
	}
	if cfg.MaxUploadBytes() != 10<<20 {
		t.Errorf("expected 10MB upload limit, got %d", cfg.MaxUploadBytes())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
	if enabled := cfg.EnabledProviders(); len(enabled) != 1 {
		t.Errorf("expected only gemini enabled, got %v", enabled)
	}
}

func TestResolveEnvVars(t *testing.T) {
	t.Run("resolves environment variable", func(t *testing.T) {
		t.Setenv("TEST_API_KEY", "secret123")

		result := ResolveEnvVars("${TEST_API_KEY}")
		if result != "secret123" {
			t.Errorf("expected secret123, got %s", result)
		}
	})

	t.Run("returns empty for missing env var", func(t *testing.T) {
		result := ResolveEnvVars("${DEFINITELY_NOT_SET_12345}")
		if result != "" {
			t.Errorf("expected empty string, got %s", result)
		}
	})

	t.Run("leaves literal values unchanged", func(t *testing.T) {
		result := ResolveEnvVars("literal-value")
		if result != "literal-value" {
			t.Errorf("expected literal-value, got %s", result)
		}
	})
}

func TestConfig_ActiveAPIKey(t *testing.T) {
	t.Setenv("TEST_GEMINI_KEY", "gm-key-123")

	cfg := DefaultConfig()
	cfg.Providers["gemini"] = ProviderCfg{Type: "gemini", APIKey: "${TEST_GEMINI_KEY}", Enabled: true}

	if got := cfg.ActiveAPIKey(); got != "gm-key-123" {
		t.Errorf("expected gm-key-123, got %s", got)
	}

	cfg.Extraction.Provider = "missing"
	if got := cfg.ActiveAPIKey(); got != "" {
		t.Errorf("expected empty key for unknown provider, got %s", got)
	}
}

func TestConfig_ToProviderRegistryConfig(t *testing.T) {
	t.Setenv("TEST_OPENAI_KEY", "sk-test")

	cfg := DefaultConfig()
	cfg.Providers["openai"] = ProviderCfg{
		Type:      "openai",
		Model:     "gpt-4o",
		APIKey:    "${TEST_OPENAI_KEY}",
		BaseURL:   "http://localhost:9999/v1",
		RateLimit: 30,
		Enabled:   true,
	}

	reg := cfg.ToProviderRegistryConfig()
	openai, ok := reg.LLMProviders["openai"]
	if !ok {
		t.Fatal("openai missing from registry config")
	}
	if openai.APIKey != "sk-test" || openai.BaseURL != "http://localhost:9999/v1" || openai.RateLimit != 30 {
		t.Errorf("unexpected provider config %+v", openai)
	}
	if len(reg.LLMProviders) != len(cfg.Providers) {
		t.Errorf("expected %d providers, got %d", len(cfg.Providers), len(reg.LLMProviders))
	}
}

func TestConfig_ToExtractOptions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Extraction.Mode = "lines"
	cfg.Extraction.Timeout = "30s"
	cfg.Extraction.MaxAttempts = 3

	opts := cfg.ToExtractOptions()
	if opts.Mode != extract.ModeLines {
		t.Errorf("expected lines mode, got %s", opts.Mode)
	}
	if opts.Timeout != 30*time.Second {
		t.Errorf("expected 30s timeout, got %s", opts.Timeout)
	}
	if opts.MaxAttempts != 3 || opts.Provider != "gemini" {
		t.Errorf("unexpected options %+v", opts)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errSub string
	}{
		{"bad mode", func(c *Config) { c.Extraction.Mode = "xml" }, "extraction.mode"},
		{"bad timeout", func(c *Config) { c.Extraction.Timeout = "soon" }, "extraction.timeout"},
		{"negative timeout", func(c *Config) { c.Extraction.Timeout = "-1s" }, "extraction.timeout"},
		{"unknown provider", func(c *Config) { c.Extraction.Provider = "nope" }, "extraction.provider"},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.errSub) {
				t.Errorf("error %q does not mention %s", err, tt.errSub)
			}
		})
	}
}

func TestNewManager(t *testing.T) {
	t.Run("loads from config file", func(t *testing.T) {
		configFile := writeConfig(t, `
providers:
  gemini:
    type: gemini
    model: gemini-2.5-flash
    api_key: literal-key-123
    enabled: true
extraction:
  provider: gemini
  mode: lines
server:
  port: 9191
`)

		mgr, err := NewManager(configFile)
		if err != nil {
			t.Fatalf("failed to create manager: %v", err)
		}

		cfg := mgr.Get()
		if cfg.Providers["gemini"].Model != "gemini-2.5-flash" {
			t.Errorf("expected gemini-2.5-flash, got %s", cfg.Providers["gemini"].Model)
		}
		if cfg.Extraction.Mode != "lines" {
			t.Errorf("expected lines mode, got %s", cfg.Extraction.Mode)
		}
		if cfg.Server.Port != 9191 {
			t.Errorf("expected port 9191, got %d", cfg.Server.Port)
		}
		// Keys absent from the file keep their defaults.
		if cfg.Extraction.TopP != 0.95 || cfg.Server.MaxUploadMB != 10 {
			t.Errorf("defaults not applied: %+v %+v", cfg.Extraction, cfg.Server)
		}
		if mgr.ConfigFile() != configFile {
			t.Errorf("expected config file %s, got %s", configFile, mgr.ConfigFile())
		}
	})

	t.Run("environment overrides", func(t *testing.T) {
		t.Setenv("LABSCAN_SERVER_PORT", "7070")
		t.Setenv("LABSCAN_EXTRACTION_MAX_ATTEMPTS", "4")

		mgr, err := NewManager(writeConfig(t, "server:\n  host: 0.0.0.0\n"))
		if err != nil {
			t.Fatalf("failed to create manager: %v", err)
		}
		cfg := mgr.Get()
		if cfg.Server.Port != 7070 {
			t.Errorf("expected port 7070, got %d", cfg.Server.Port)
		}
		if cfg.Extraction.MaxAttempts != 4 {
			t.Errorf("expected 4 attempts, got %d", cfg.Extraction.MaxAttempts)
		}
		if cfg.Server.Host != "0.0.0.0" {
			t.Errorf("expected host from file, got %s", cfg.Server.Host)
		}
	})

	t.Run("rejects invalid config", func(t *testing.T) {
		_, err := NewManager(writeConfig(t, "extraction:\n  mode: xml\n"))
		if err == nil {
			t.Fatal("expected error for invalid mode")
		}
	})
}

func TestManager_OnChange_Multiple(t *testing.T) {
	mgr, err := NewManager(writeConfig(t, "server:\n  port: 8080\n"))
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}

	// Register multiple callbacks
	mgr.OnChange(func(cfg *Config) {})
	mgr.OnChange(func(cfg *Config) {})
	mgr.OnChange(func(cfg *Config) {})

	mgr.mu.RLock()
	if len(mgr.callbacks) != 3 {
		t.Errorf("expected 3 callbacks, got %d", len(mgr.callbacks))
	}
	mgr.mu.RUnlock()
}

func TestManager_WatchConfig(t *testing.T) {
	configFile := writeConfig(t, "server:\n  port: 8080\n")

	mgr, err := NewManager(configFile)
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}

	changed := make(chan *Config, 4)
	mgr.OnChange(func(cfg *Config) { changed <- cfg })
	mgr.WatchConfig()

	if err := os.WriteFile(configFile, []byte("server:\n  port: 9090\n"), 0o644); err != nil {
		t.Fatalf("failed to rewrite config: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case cfg := <-changed:
			if cfg.Server.Port == 9090 {
				if mgr.Get().Server.Port != 9090 {
					t.Error("Get() did not return the reloaded config")
				}
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for config reload")
		}
	}
}

func TestManager_Get_ThreadSafe(t *testing.T) {
	mgr, err := NewManager(writeConfig(t, "server:\n  port: 8080\n"))
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}

	// Call Get concurrently to verify no race conditions
	done := make(chan struct{})
	for i := 0; i < 10; i++ {
		go func() {
			for j := 0; j < 100; j++ {
				cfg := mgr.Get()
				_ = cfg.Server.Port
			}
			done <- struct{}{}
		}()
	}

	// Wait for all goroutines
	for i := 0; i < 10; i++ {
		<-done
	}
}

func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}

	mgr, err := NewManager(path)
	if err != nil {
		t.Fatalf("written default does not load: %v", err)
	}
	cfg := mgr.Get()
	if cfg.Extraction.Timeout != "120s" || cfg.Providers["gemini"].APIKey != "${GEMINI_API_KEY}" {
		t.Errorf("unexpected round-trip config %+v", cfg.Extraction)
	}
}
