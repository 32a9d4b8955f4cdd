package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/jackzampolin/labscan/internal/config"
	"github.com/jackzampolin/labscan/internal/providers"
	"github.com/jackzampolin/labscan/internal/server/endpoints"
)

const testKey = "test-api-key-123456"

func mockRegistry() (*providers.Registry, *providers.MockClient) {
	mock := providers.NewMockClient()
	registry := providers.NewRegistry()
	registry.RegisterLLM(providers.MockClientName, mock)
	return registry, mock
}

// writeConfig writes a config file whose extraction provider is the mock.
func writeConfig(t *testing.T, key string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := fmt.Sprintf(`providers:
  mock:
    type: mock
    api_key: %q
    enabled: true
extraction:
  provider: mock
  mode: schema
  include_units: true
`, key)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func freePort(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to find free port: %v", err)
	}
	defer l.Close()
	return strconv.Itoa(l.Addr().(*net.TCPAddr).Port)
}

func TestNew_SeedsCredentialsFromConfig(t *testing.T) {
	registry, _ := mockRegistry()
	cm, err := config.NewManager(writeConfig(t, testKey))
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	srv, err := New(Config{ConfigManager: cm, Registry: registry})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if !srv.Credentials().Status().Configured {
		t.Error("expected key from config to be configured")
	}
	if got := srv.Extractor().Options().Provider; got != providers.MockClientName {
		t.Errorf("Provider = %q, want %q", got, providers.MockClientName)
	}
	if srv.Addr() != "127.0.0.1:8080" {
		t.Errorf("Addr() = %q", srv.Addr())
	}
}

func TestHandler_AuthStatus(t *testing.T) {
	registry, _ := mockRegistry()
	cm, err := config.NewManager(writeConfig(t, testKey))
	if err != nil {
		t.Fatal(err)
	}
	srv, err := New(Config{ConfigManager: cm, Registry: registry})
	if err != nil {
		t.Fatal(err)
	}

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/auth")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var auth endpoints.AuthStatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&auth); err != nil {
		t.Fatal(err)
	}
	if !auth.Credentials.Configured || auth.Provider != providers.MockClientName {
		t.Errorf("auth = %+v", auth)
	}
}

func TestServer_Lifecycle(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	registry, _ := mockRegistry()
	port := freePort(t)
	srv, err := New(Config{Host: "127.0.0.1", Port: port, Registry: registry})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	serverErr := make(chan error, 1)
	serverCtx, serverCancel := context.WithCancel(ctx)
	go func() {
		serverErr <- srv.Start(serverCtx)
	}()

	baseURL := "http://127.0.0.1:" + port
	if err := waitForServer(ctx, baseURL, 10*time.Second); err != nil {
		serverCancel()
		t.Fatalf("server did not start: %v", err)
	}

	if !srv.IsRunning() {
		t.Error("IsRunning() = false while serving")
	}

	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		t.Fatalf("health check failed: %v", err)
	}
	var health endpoints.HealthResponse
	json.NewDecoder(resp.Body).Decode(&health)
	resp.Body.Close()
	if health.Status != "ok" {
		t.Errorf("health.Status = %q, want ok", health.Status)
	}

	serverCancel()
	select {
	case err := <-serverErr:
		if err != nil {
			t.Errorf("Start() returned error: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("server did not shut down")
	}

	if srv.IsRunning() {
		t.Error("IsRunning() = true after shutdown")
	}
}

func TestServer_DoubleStart(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	registry, _ := mockRegistry()
	port := freePort(t)
	srv, err := New(Config{Port: port, Registry: registry})
	if err != nil {
		t.Fatal(err)
	}

	serverCtx, serverCancel := context.WithCancel(ctx)
	defer serverCancel()
	done := make(chan struct{})
	go func() {
		srv.Start(serverCtx)
		close(done)
	}()

	if err := waitForServer(ctx, "http://127.0.0.1:"+port, 10*time.Second); err != nil {
		t.Fatalf("server did not start: %v", err)
	}

	if err := srv.Start(ctx); err == nil {
		t.Error("second Start() should fail while running")
	}

	serverCancel()
	<-done
}

func TestServer_PortInUse(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	port := strconv.Itoa(l.Addr().(*net.TCPAddr).Port)

	registry, _ := mockRegistry()
	srv, err := New(Config{Port: port, Registry: registry})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Start(ctx); err == nil {
		t.Error("Start() should fail when the port is taken")
	}
	if srv.IsRunning() {
		t.Error("IsRunning() = true after failed start")
	}
}

func TestServer_ConfigReloadReseedsKey(t *testing.T) {
	registry, _ := mockRegistry()
	path := writeConfig(t, "")
	cm, err := config.NewManager(path)
	if err != nil {
		t.Fatal(err)
	}
	srv, err := New(Config{ConfigManager: cm, Registry: registry})
	if err != nil {
		t.Fatal(err)
	}
	if srv.Credentials().Status().Configured {
		t.Fatal("expected no key before reload")
	}

	reloaded := make(chan struct{}, 1)
	cm.OnChange(func(*config.Config) {
		select {
		case reloaded <- struct{}{}:
		default:
		}
	})
	cm.WatchConfig()

	// Give the watcher a moment to register before editing the file.
	time.Sleep(100 * time.Millisecond)
	content, _ := os.ReadFile(writeConfig(t, testKey))
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case <-reloaded:
	case <-time.After(5 * time.Second):
		t.Fatal("config reload not observed")
	}

	key, err := srv.Credentials().Key()
	if err != nil || key != testKey {
		t.Errorf("Key() = %q, %v; want reseeded key", key, err)
	}
}

// waitForServer polls the health endpoint until it responds.
func waitForServer(ctx context.Context, baseURL string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	client := &http.Client{Timeout: time.Second}
	for time.Now().Before(deadline) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/health", nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
	return fmt.Errorf("timeout waiting for %s", baseURL)
}
