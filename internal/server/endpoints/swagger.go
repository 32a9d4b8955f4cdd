package endpoints

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
	"github.com/swaggo/swag"

	"github.com/jackzampolin/labscan/internal/api"
)

const swaggerSpecPath = "/swagger.json"

// SwaggerEndpoint serves the OpenAPI document registered with swag, with
// its host rewritten to the one the request arrived on.
type SwaggerEndpoint struct {
	// InstanceName selects the registered spec (default: swag.Name)
	InstanceName string
}

func (e *SwaggerEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", swaggerSpecPath, e.handler
}

func (e *SwaggerEndpoint) RequiresInit() bool { return false }

func (e *SwaggerEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	name := e.InstanceName
	if name == "" {
		name = swag.Name
	}

	doc, err := swag.ReadDoc(name)
	if err != nil {
		writeError(w, http.StatusNotFound, "openapi document not registered")
		return
	}

	var spec map[string]any
	if err := json.Unmarshal([]byte(doc), &spec); err != nil {
		writeError(w, http.StatusInternalServerError, "openapi document is not valid JSON")
		return
	}
	if r.Host != "" {
		spec["host"] = r.Host
	}

	w.Header().Set("Access-Control-Allow-Origin", "*")
	writeJSON(w, http.StatusOK, spec)
}

func (e *SwaggerEndpoint) Command(getServerURL func() string) *cobra.Command {
	var outFile string
	var ui bool
	cmd := &cobra.Command{
		Use:   "swagger",
		Short: "Fetch the OpenAPI document from the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if ui {
				fmt.Fprintln(cmd.OutOrStdout(), getServerURL()+"/swagger")
				return nil
			}

			client := api.NewClient(getServerURL())
			var spec map[string]any
			if err := client.Get(cmd.Context(), swaggerSpecPath, &spec); err != nil {
				return err
			}
			if outFile != "" {
				return api.OutputToFile(spec, outFile)
			}
			return api.Output(spec)
		},
	}
	cmd.Flags().StringVar(&outFile, "out", "", "Write the document to this file")
	cmd.Flags().BoolVar(&ui, "ui", false, "Print the Swagger UI address instead")
	return cmd
}

// SwaggerUIEndpoint serves a Swagger UI page backed by SwaggerEndpoint.
type SwaggerUIEndpoint struct{}

func (e *SwaggerUIEndpoint) Route() (string, string, http.HandlerFunc) {
	return "GET", "/swagger", e.handler
}

func (e *SwaggerUIEndpoint) RequiresInit() bool { return false }

const swaggerUIPage = `<!DOCTYPE html>
<html lang="pt-BR">
<head>
  <meta charset="utf-8">
  <title>labscan API</title>
  <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css">
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    window.ui = SwaggerUIBundle({ url: %q, dom_id: '#swagger-ui', deepLinking: true });
  </script>
</body>
</html>`

func (e *SwaggerUIEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, swaggerUIPage, swaggerSpecPath)
}

// Command is hidden; `labscan api swagger --ui` prints the same address.
func (e *SwaggerUIEndpoint) Command(getServerURL func() string) *cobra.Command {
	return &cobra.Command{
		Use:    "swagger-ui",
		Hidden: true,
		Short:  "Print the Swagger UI address",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), getServerURL()+"/swagger")
			return nil
		},
	}
}
