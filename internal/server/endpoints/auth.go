package endpoints

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/labscan/internal/api"
	"github.com/jackzampolin/labscan/internal/extract"
	"github.com/jackzampolin/labscan/internal/svcctx"
)

// AuthStatusResponse reports the stored API key without revealing it.
type AuthStatusResponse struct {
	Provider    string                   `json:"provider"`
	Credentials extract.CredentialStatus `json:"credentials"`
}

// SetAPIKeyRequest is the body of PUT /api/auth/key.
type SetAPIKeyRequest struct {
	APIKey string `json:"api_key"`
}

func authStatus(r *http.Request) (AuthStatusResponse, bool) {
	extractor := svcctx.ExtractorFrom(r.Context())
	if extractor == nil {
		return AuthStatusResponse{}, false
	}
	return AuthStatusResponse{
		Provider:    extractor.Options().Provider,
		Credentials: extractor.Credentials().Status(),
	}, true
}

// GetAuthEndpoint handles GET /api/auth.
type GetAuthEndpoint struct{}

func (e *GetAuthEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/api/auth", e.handler
}

func (e *GetAuthEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Credential status
//	@Description	Whether an API key is configured for the extraction provider
//	@Tags			auth
//	@Produce		json
//	@Success		200	{object}	AuthStatusResponse
//	@Router			/api/auth [get]
func (e *GetAuthEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	resp, ok := authStatus(r)
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "extractor not initialized")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (e *GetAuthEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether the server has an API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp AuthStatusResponse
			if err := client.Get(cmd.Context(), "/api/auth", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}

// SetAPIKeyEndpoint handles PUT /api/auth/key.
type SetAPIKeyEndpoint struct{}

func (e *SetAPIKeyEndpoint) Route() (string, string, http.HandlerFunc) {
	return "PUT", "/api/auth/key", e.handler
}

func (e *SetAPIKeyEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Set the API key
//	@Description	Replace the key used for extraction. Used to re-authenticate after AUTH_REQUIRED.
//	@Tags			auth
//	@Accept			json
//	@Produce		json
//	@Param			request	body		SetAPIKeyRequest	true	"New key"
//	@Success		200		{object}	AuthStatusResponse
//	@Failure		400		{object}	ErrorResponse
//	@Router			/api/auth/key [put]
func (e *SetAPIKeyEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	extractor := svcctx.ExtractorFrom(r.Context())
	if extractor == nil {
		writeError(w, http.StatusServiceUnavailable, "extractor not initialized")
		return
	}

	var req SetAPIKeyRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	if err := extractor.Credentials().Set(req.APIKey, "api"); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   err.Error(),
			Code:    string(extract.KindOf(err)),
			Message: extract.UserMessage(err),
		})
		return
	}
	svcctx.LoggerFrom(r.Context()).Info("API key updated", "source", "api")

	resp, _ := authStatus(r)
	writeJSON(w, http.StatusOK, resp)
}

func (e *SetAPIKeyEndpoint) Command(getServerURL func() string) *cobra.Command {
	var fromEnv string
	cmd := &cobra.Command{
		Use:   "set-key [key]",
		Short: "Send a new API key to the server",
		Long: `Send a new API key to the server.

The key is read from the argument, from --from-env, or from stdin when the
argument is "-".`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var key string
			switch {
			case fromEnv != "":
				key = os.Getenv(fromEnv)
			case len(args) == 1 && args[0] == "-":
				var line string
				if _, err := fmt.Fscanln(cmd.InOrStdin(), &line); err != nil {
					return fmt.Errorf("failed to read key from stdin: %w", err)
				}
				key = line
			case len(args) == 1:
				key = args[0]
			default:
				return fmt.Errorf("a key argument or --from-env is required")
			}
			if !extract.ValidKey(key) {
				return fmt.Errorf("key is empty or malformed")
			}

			client := api.NewClient(getServerURL())
			var resp AuthStatusResponse
			if err := client.Put(cmd.Context(), "/api/auth/key", SetAPIKeyRequest{APIKey: strings.TrimSpace(key)}, &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&fromEnv, "from-env", "", "Read the key from this environment variable")
	return cmd
}

// ClearAPIKeyEndpoint handles DELETE /api/auth/key.
type ClearAPIKeyEndpoint struct{}

func (e *ClearAPIKeyEndpoint) Route() (string, string, http.HandlerFunc) {
	return "DELETE", "/api/auth/key", e.handler
}

func (e *ClearAPIKeyEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Clear the API key
//	@Tags			auth
//	@Produce		json
//	@Success		200	{object}	AuthStatusResponse
//	@Router			/api/auth/key [delete]
func (e *ClearAPIKeyEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	extractor := svcctx.ExtractorFrom(r.Context())
	if extractor == nil {
		writeError(w, http.StatusServiceUnavailable, "extractor not initialized")
		return
	}
	extractor.Credentials().Clear()
	svcctx.LoggerFrom(r.Context()).Info("API key cleared")

	resp, _ := authStatus(r)
	writeJSON(w, http.StatusOK, resp)
}

func (e *ClearAPIKeyEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "clear-key",
		Short: "Remove the server's API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := api.NewClient(getServerURL())
			var resp AuthStatusResponse
			if err := client.Delete(cmd.Context(), "/api/auth/key", &resp); err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
}
