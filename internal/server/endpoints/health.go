package endpoints

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/labscan/internal/api"
	"github.com/jackzampolin/labscan/internal/extract"
	"github.com/jackzampolin/labscan/internal/svcctx"
)

// HealthResponse is the response for health endpoints.
type HealthResponse struct {
	Status      string `json:"status"`
	Provider    string `json:"provider,omitempty"`
	Credentials string `json:"credentials,omitempty"`
}

// HealthEndpoint handles GET /health.
type HealthEndpoint struct{}

func (e *HealthEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/health", e.handler
}

func (e *HealthEndpoint) RequiresInit() bool { return false }

// handler godoc
//
//	@Summary		Liveness check
//	@Tags			health
//	@Produce		json
//	@Success		200	{object}	HealthResponse
//	@Router			/health [get]
func (e *HealthEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

func (e *HealthEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check server health",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp HealthResponse
			if err := client.Get(cmd.Context(), "/health", &resp); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Status: %s\n", resp.Status)
			return nil
		},
	}
}

// ReadyEndpoint handles GET /ready.
type ReadyEndpoint struct{}

func (e *ReadyEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/ready", e.handler
}

func (e *ReadyEndpoint) RequiresInit() bool { return false }

// handler godoc
//
//	@Summary		Readiness check
//	@Description	Ready when the extraction provider is registered and an API key is configured
//	@Tags			health
//	@Produce		json
//	@Success		200	{object}	HealthResponse
//	@Failure		503	{object}	HealthResponse
//	@Router			/ready [get]
func (e *ReadyEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok", Provider: "ok", Credentials: "ok"}

	extractor := svcctx.ExtractorFrom(r.Context())
	registry := svcctx.RegistryFrom(r.Context())
	if extractor == nil || registry == nil {
		resp.Status = "degraded"
		resp.Provider = "not_initialized"
		resp.Credentials = "not_initialized"
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}

	if !registry.HasLLM(extractor.Options().Provider) {
		resp.Status = "degraded"
		resp.Provider = "not_registered"
	}
	if !extractor.Credentials().Status().Configured {
		resp.Status = "degraded"
		resp.Credentials = "missing"
	}

	if resp.Status != "ok" {
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (e *ReadyEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "ready",
		Short: "Check server readiness (provider and API key)",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp HealthResponse
			err := client.Get(cmd.Context(), "/ready", &resp)
			var apiErr *api.Error
			if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusServiceUnavailable {
				return fmt.Errorf("server not ready")
			}
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Status:      %s\n", resp.Status)
			fmt.Fprintf(out, "Provider:    %s\n", resp.Provider)
			fmt.Fprintf(out, "Credentials: %s\n", resp.Credentials)
			return nil
		},
	}
}

// StatusResponse is the detailed status response.
type StatusResponse struct {
	Server      string                   `json:"server"`
	Providers   []string                 `json:"providers"`
	Extraction  ExtractionStatus         `json:"extraction"`
	Credentials extract.CredentialStatus `json:"credentials"`
	History     int                      `json:"history"`
	ConfigFile  string                   `json:"config_file,omitempty"`
}

// ExtractionStatus shows the active extraction settings.
type ExtractionStatus struct {
	Provider     string       `json:"provider"`
	Model        string       `json:"model,omitempty"`
	Mode         extract.Mode `json:"mode"`
	IncludeUnits bool         `json:"include_units"`
	Timeout      string       `json:"timeout"`
	MaxAttempts  int          `json:"max_attempts"`
}

// StatusEndpoint handles GET /status.
type StatusEndpoint struct{}

func (e *StatusEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/status", e.handler
}

func (e *StatusEndpoint) RequiresInit() bool { return false }

// handler godoc
//
//	@Summary		Server status
//	@Description	Registered providers, active extraction settings and credential status
//	@Tags			health
//	@Produce		json
//	@Success		200	{object}	StatusResponse
//	@Router			/status [get]
func (e *StatusEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Server:    "running",
		Providers: []string{},
	}

	if registry := svcctx.RegistryFrom(r.Context()); registry != nil {
		resp.Providers = registry.ListLLM()
	}
	if extractor := svcctx.ExtractorFrom(r.Context()); extractor != nil {
		opts := extractor.Options()
		resp.Extraction = ExtractionStatus{
			Provider:     opts.Provider,
			Model:        opts.Model,
			Mode:         opts.Mode,
			IncludeUnits: opts.IncludeUnits,
			Timeout:      opts.Timeout.String(),
			MaxAttempts:  opts.MaxAttempts,
		}
		resp.Credentials = extractor.Credentials().Status()
	}
	if store := svcctx.LLMCallStoreFrom(r.Context()); store != nil {
		resp.History = store.Len()
	}
	if cm := svcctx.ConfigManagerFrom(r.Context()); cm != nil {
		resp.ConfigFile = cm.ConfigFile()
	}

	writeJSON(w, http.StatusOK, resp)
}

func (e *StatusEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Get detailed server status",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp StatusResponse
			if err := client.Get(cmd.Context(), "/status", &resp); err != nil {
				return err
			}
			if api.IsStructuredOutput() {
				return api.Output(resp)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Server: %s\n", resp.Server)
			fmt.Fprintf(out, "Extraction:\n")
			fmt.Fprintf(out, "  Provider: %s\n", resp.Extraction.Provider)
			fmt.Fprintf(out, "  Model:    %s\n", resp.Extraction.Model)
			fmt.Fprintf(out, "  Mode:     %s\n", resp.Extraction.Mode)
			fmt.Fprintf(out, "  Timeout:  %s\n", resp.Extraction.Timeout)
			fmt.Fprintf(out, "Credentials:\n")
			fmt.Fprintf(out, "  Configured: %t\n", resp.Credentials.Configured)
			if resp.Credentials.Source != "" {
				fmt.Fprintf(out, "  Source:     %s\n", resp.Credentials.Source)
			}
			fmt.Fprintf(out, "Providers: %v\n", resp.Providers)
			fmt.Fprintf(out, "History:   %d calls\n", resp.History)
			if resp.ConfigFile != "" {
				fmt.Fprintf(out, "Config:    %s\n", resp.ConfigFile)
			}
			return nil
		},
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
