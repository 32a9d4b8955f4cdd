package endpoints

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/jackzampolin/labscan/internal/api"
	"github.com/jackzampolin/labscan/internal/extract"
	"github.com/jackzampolin/labscan/internal/llmcall"
	"github.com/jackzampolin/labscan/internal/providers"
	"github.com/jackzampolin/labscan/internal/svcctx"

	_ "github.com/jackzampolin/labscan/docs/swagger"
)

const testKey = "test-api-key-123456"

var pngBytes = []byte("\x89PNG\r\n\x1a\nfake image bytes")

type testEnv struct {
	handler  http.Handler
	mock     *providers.MockClient
	services *svcctx.Services
}

func newTestEnv(t *testing.T, key string) *testEnv {
	t.Helper()

	mock := providers.NewMockClient()
	registry := providers.NewRegistry()
	registry.RegisterLLM(providers.MockClientName, mock)

	store := llmcall.NewStore(10)
	extractor, err := extract.NewClient(extract.Config{
		Resolver:    registry,
		Credentials: extract.NewCredentials(key, "test"),
		Options:     extract.Options{Provider: providers.MockClientName, IncludeUnits: true},
		Recorder:    llmcall.NewRecorder(store),
	})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	services := &svcctx.Services{
		Registry:       registry,
		Extractor:      extractor,
		Credentials:    extractor.Credentials(),
		LLMCallStore:   store,
		MaxUploadBytes: 1 << 10,
	}

	reg := api.NewRegistry()
	if err := reg.RegisterAll(All(Config{})); err != nil {
		t.Fatalf("RegisterAll() error = %v", err)
	}
	mux := http.NewServeMux()
	reg.RegisterRoutes(mux, func(h http.HandlerFunc) http.HandlerFunc { return h })

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mux.ServeHTTP(w, r.WithContext(svcctx.WithServices(r.Context(), services)))
	})
	return &testEnv{handler: handler, mock: mock, services: services}
}

func (e *testEnv) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func uploadRequest(t *testing.T, name string, data []byte, fields map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		t.Fatal(err)
	}
	part.Write(data)
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/extract", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, testKey)
	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if got := decode[HealthResponse](t, rec); got.Status != "ok" {
		t.Errorf("Status = %q, want ok", got.Status)
	}
}

func TestReady(t *testing.T) {
	t.Run("ready", func(t *testing.T) {
		env := newTestEnv(t, testKey)
		rec := env.do(t, httptest.NewRequest(http.MethodGet, "/ready", nil))
		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, want 200: %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("missing key", func(t *testing.T) {
		env := newTestEnv(t, "")
		rec := env.do(t, httptest.NewRequest(http.MethodGet, "/ready", nil))
		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("status = %d, want 503", rec.Code)
		}
		if got := decode[HealthResponse](t, rec); got.Credentials != "missing" {
			t.Errorf("Credentials = %q, want missing", got.Credentials)
		}
	})
}

func TestStatus(t *testing.T) {
	env := newTestEnv(t, testKey)
	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	got := decode[StatusResponse](t, rec)
	if got.Extraction.Provider != providers.MockClientName {
		t.Errorf("Provider = %q, want %q", got.Extraction.Provider, providers.MockClientName)
	}
	if !got.Credentials.Configured {
		t.Error("expected credentials to be configured")
	}
	if strings.Contains(rec.Body.String(), testKey) {
		t.Error("status response must not contain the key")
	}
}

func TestExtract_Success(t *testing.T) {
	env := newTestEnv(t, testKey)
	env.mock.ResponseText = `{"exams":[{"parameter":"Glicose","value":"95","unit":"mg/dL"}]}`

	rec := env.do(t, uploadRequest(t, "exame.png", pngBytes, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	got := decode[extract.ExtractionResponse](t, rec)
	if len(got.Results) != 1 || got.Results[0].Parameter != "Glicose" {
		t.Errorf("Results = %+v", got.Results)
	}
	if got.RawText != "Glicose: 95 mg/dL" {
		t.Errorf("RawText = %q", got.RawText)
	}
	if got.Meta.Outcome != extract.OutcomeClean {
		t.Errorf("Outcome = %q, want clean", got.Meta.Outcome)
	}
}

func TestExtract_LinesModeFromQuery(t *testing.T) {
	env := newTestEnv(t, testKey)
	env.mock.ResponseText = "Hemoglobina: 13.5\nLeucócitos: 6500"

	req := uploadRequest(t, "exame.png", pngBytes, nil)
	req.URL.RawQuery = "mode=lines"
	rec := env.do(t, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	got := decode[extract.ExtractionResponse](t, rec)
	if got.Meta.Mode != extract.ModeLines || len(got.Results) != 2 {
		t.Errorf("Mode = %q, Results = %+v", got.Meta.Mode, got.Results)
	}
	if env.mock.LastRequest().ResponseSchema != nil {
		t.Error("lines mode must not send a response schema")
	}
}

func TestExtract_Errors(t *testing.T) {
	tests := []struct {
		name       string
		key        string
		setup      func(*providers.MockClient)
		req        func(t *testing.T) *http.Request
		wantStatus int
		wantCode   extract.Kind
		wantCalls  int64
	}{
		{
			name: "missing key",
			key:  "",
			req: func(t *testing.T) *http.Request {
				return uploadRequest(t, "exame.png", pngBytes, nil)
			},
			wantStatus: http.StatusUnauthorized,
			wantCode:   extract.KindAPIKeyMissing,
		},
		{
			name: "rejected key",
			key:  testKey,
			setup: func(m *providers.MockClient) {
				m.Err = &providers.Error{Provider: "mock", Kind: providers.KindAuth, StatusCode: 403, Message: "forbidden"}
			},
			req: func(t *testing.T) *http.Request {
				return uploadRequest(t, "exame.png", pngBytes, nil)
			},
			wantStatus: http.StatusUnauthorized,
			wantCode:   extract.KindAuthRequired,
			wantCalls:  1,
		},
		{
			name: "unsupported type",
			key:  testKey,
			req: func(t *testing.T) *http.Request {
				return uploadRequest(t, "notes.txt", []byte("plain text"), nil)
			},
			wantStatus: http.StatusUnsupportedMediaType,
			wantCode:   extract.KindInvalidDocument,
		},
		{
			name: "too large",
			key:  testKey,
			req: func(t *testing.T) *http.Request {
				return uploadRequest(t, "exame.png", bytes.Repeat([]byte("x"), 2<<10), nil)
			},
			wantStatus: http.StatusRequestEntityTooLarge,
			wantCode:   extract.KindInvalidDocument,
		},
		{
			name: "missing file field",
			key:  testKey,
			req: func(t *testing.T) *http.Request {
				req := httptest.NewRequest(http.MethodPost, "/api/extract", strings.NewReader("mode=schema"))
				req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
				return req
			},
			wantStatus: http.StatusBadRequest,
			wantCode:   extract.KindInvalidDocument,
		},
		{
			name: "unknown mode",
			key:  testKey,
			req: func(t *testing.T) *http.Request {
				return uploadRequest(t, "exame.png", pngBytes, map[string]string{"mode": "xml"})
			},
			wantStatus: http.StatusBadRequest,
			wantCode:   extract.KindInvalidDocument,
		},
		{
			name: "unprocessable output",
			key:  testKey,
			setup: func(m *providers.MockClient) {
				m.ResponseText = "sorry, I cannot read this"
			},
			req: func(t *testing.T) *http.Request {
				return uploadRequest(t, "exame.png", pngBytes, nil)
			},
			wantStatus: http.StatusUnprocessableEntity,
			wantCode:   extract.KindUnprocessable,
			wantCalls:  1,
		},
		{
			name: "remote failure",
			key:  testKey,
			setup: func(m *providers.MockClient) {
				m.Err = &providers.Error{Provider: "mock", Kind: providers.KindInvalidRequest, StatusCode: 400, Message: "boom"}
			},
			req: func(t *testing.T) *http.Request {
				return uploadRequest(t, "exame.png", pngBytes, nil)
			},
			wantStatus: http.StatusBadGateway,
			wantCode:   extract.KindRemote,
			wantCalls:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, tt.key)
			if tt.setup != nil {
				tt.setup(env.mock)
			}

			rec := env.do(t, tt.req(t))
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
			got := decode[ErrorResponse](t, rec)
			if got.Code != string(tt.wantCode) {
				t.Errorf("code = %q, want %q", got.Code, tt.wantCode)
			}
			if got.Message == "" {
				t.Error("expected a user-facing message")
			}
			if env.mock.RequestCount() != tt.wantCalls {
				t.Errorf("remote calls = %d, want %d", env.mock.RequestCount(), tt.wantCalls)
			}
		})
	}
}

func TestExtract_RejectedKeyThenReauthenticate(t *testing.T) {
	env := newTestEnv(t, testKey)
	env.mock.Err = &providers.Error{Provider: "mock", Kind: providers.KindAuth, StatusCode: 401, Message: "bad key"}

	rec := env.do(t, uploadRequest(t, "exame.png", pngBytes, nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}

	// The key was invalidated, so the next upload fails without a remote call.
	rec = env.do(t, uploadRequest(t, "exame.png", pngBytes, nil))
	if got := decode[ErrorResponse](t, rec); got.Code != string(extract.KindAPIKeyMissing) {
		t.Errorf("code = %q, want %q", got.Code, extract.KindAPIKeyMissing)
	}
	if env.mock.RequestCount() != 1 {
		t.Errorf("remote calls = %d, want 1", env.mock.RequestCount())
	}

	body := strings.NewReader(`{"api_key":"new-api-key-654321"}`)
	rec = env.do(t, httptest.NewRequest(http.MethodPut, "/api/auth/key", body))
	if rec.Code != http.StatusOK {
		t.Fatalf("set key status = %d: %s", rec.Code, rec.Body.String())
	}

	env.mock.Err = nil
	env.mock.ResponseText = `{"exams":[{"parameter":"Ureia","value":"30","unit":"mg/dL"}]}`
	rec = env.do(t, uploadRequest(t, "exame.png", pngBytes, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status after re-auth = %d: %s", rec.Code, rec.Body.String())
	}
	if got := env.mock.LastRequest().APIKey; got != "new-api-key-654321" {
		t.Errorf("request used key %q, want the new key", got)
	}
}

func TestAuthEndpoints(t *testing.T) {
	env := newTestEnv(t, "")

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/auth", nil))
	if got := decode[AuthStatusResponse](t, rec); got.Credentials.Configured {
		t.Error("expected no key configured")
	}

	rec = env.do(t, httptest.NewRequest(http.MethodPut, "/api/auth/key", strings.NewReader(`{"api_key":"undefined"}`)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed key status = %d, want 400", rec.Code)
	}

	rec = env.do(t, httptest.NewRequest(http.MethodPut, "/api/auth/key", strings.NewReader(`not json`)))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad body status = %d, want 400", rec.Code)
	}

	rec = env.do(t, httptest.NewRequest(http.MethodPut, "/api/auth/key", strings.NewReader(`{"api_key":"`+testKey+`"}`)))
	if rec.Code != http.StatusOK {
		t.Fatalf("set key status = %d", rec.Code)
	}
	got := decode[AuthStatusResponse](t, rec)
	if !got.Credentials.Configured || got.Credentials.Source != "api" {
		t.Errorf("Credentials = %+v", got.Credentials)
	}
	if got.Credentials.Hint != "…3456" {
		t.Errorf("Hint = %q", got.Credentials.Hint)
	}

	rec = env.do(t, httptest.NewRequest(http.MethodDelete, "/api/auth/key", nil))
	if got := decode[AuthStatusResponse](t, rec); got.Credentials.Configured {
		t.Error("expected key to be cleared")
	}
}

func TestLLMCallEndpoints(t *testing.T) {
	env := newTestEnv(t, testKey)
	env.mock.ResponseText = `{"exams":[{"parameter":"Glicose","value":"95","unit":"mg/dL"}]}`

	if rec := env.do(t, uploadRequest(t, "exame.png", pngBytes, nil)); rec.Code != http.StatusOK {
		t.Fatalf("extract status = %d", rec.Code)
	}

	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/api/llmcalls?success=true", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	list := decode[LLMCallsResponse](t, rec)
	if list.Total != 1 {
		t.Fatalf("Total = %d, want 1", list.Total)
	}
	call := list.Calls[0]
	if call.Outcome != string(extract.OutcomeClean) || call.Results != 1 {
		t.Errorf("call = %+v", call)
	}

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/llmcalls/"+call.ID, nil))
	if got := decode[LLMCallResponse](t, rec); got.Call == nil || got.Call.ID != call.ID {
		t.Errorf("get call = %+v", got)
	}

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/llmcalls/does-not-exist", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing call status = %d, want 404", rec.Code)
	}

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/llmcalls/counts", nil))
	counts := decode[LLMCallCountsResponse](t, rec)
	if counts.Counts[string(extract.OutcomeClean)] != 1 {
		t.Errorf("counts = %v", counts.Counts)
	}

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/api/llmcalls?limit=abc", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", rec.Code)
	}
}

func TestSwagger(t *testing.T) {
	env := newTestEnv(t, testKey)
	rec := env.do(t, httptest.NewRequest(http.MethodGet, "/swagger.json", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	spec := decode[map[string]any](t, rec)
	paths, _ := spec["paths"].(map[string]any)
	if _, ok := paths["/api/extract"]; !ok {
		t.Error("spec missing /api/extract")
	}
	if spec["host"] != "example.com" {
		t.Errorf("host = %v, want request host", spec["host"])
	}

	rec = env.do(t, httptest.NewRequest(http.MethodGet, "/swagger", nil))
	if !strings.Contains(rec.Body.String(), "swagger-ui") {
		t.Error("expected swagger UI page")
	}
}

func TestStatusForKind(t *testing.T) {
	tests := map[extract.Kind]int{
		extract.KindAPIKeyMissing:   http.StatusUnauthorized,
		extract.KindAuthRequired:    http.StatusUnauthorized,
		extract.KindInvalidDocument: http.StatusBadRequest,
		extract.KindUnprocessable:   http.StatusUnprocessableEntity,
		extract.KindRemote:          http.StatusBadGateway,
		"":                          http.StatusInternalServerError,
	}
	for kind, want := range tests {
		if got := statusForKind(kind); got != want {
			t.Errorf("statusForKind(%q) = %d, want %d", kind, got, want)
		}
	}
}

func TestParseCallFilter(t *testing.T) {
	f, err := parseCallFilter(url.Values{})
	if err != nil {
		t.Fatal(err)
	}
	if f.Limit != defaultCallLimit || f.Success != nil || f.After != nil {
		t.Errorf("defaults = %+v", f)
	}

	f, err = parseCallFilter(url.Values{
		"success": {"false"},
		"limit":   {"5"},
		"offset":  {"2"},
		"after":   {"2026-01-15T00:00:00Z"},
		"outcome": {"recovered"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if f.Success == nil || *f.Success || f.Limit != 5 || f.Offset != 2 || f.Outcome != "recovered" {
		t.Errorf("filter = %+v", f)
	}
	if f.After == nil || f.After.Year() != 2026 {
		t.Errorf("After = %v", f.After)
	}

	for _, bad := range []url.Values{
		{"success": {"maybe"}},
		{"offset": {"-1"}},
		{"before": {"yesterday"}},
	} {
		if _, err := parseCallFilter(bad); err == nil {
			t.Errorf("parseCallFilter(%v) should fail", bad)
		}
	}
}
