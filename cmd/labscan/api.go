package main

import (
	"github.com/spf13/cobra"

	"github.com/jackzampolin/labscan/internal/server/endpoints"
)

var serverURL string

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Commands that call the running server",
	Long: `API commands call the running labscan server via HTTP.

These commands require a running server (labscan serve).
Use --server to specify a custom server URL.

Examples:
  labscan api health                  # Check server health
  labscan api extract laudo.pdf       # Upload a report for extraction
  labscan api auth set-key --from-env # Replace the server's API key
  labscan api llmcalls list --limit 5 # Recent model calls`,
}

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "API key management commands",
}

var llmcallsCmd = &cobra.Command{
	Use:   "llmcalls",
	Short: "LLM call history commands",
}

// getServerURL returns the server URL at runtime (after flag parsing).
func getServerURL() string {
	return serverURL
}

func init() {
	apiCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "Server URL")

	// Health and status at top level
	apiCmd.AddCommand((&endpoints.HealthEndpoint{}).Command(getServerURL))
	apiCmd.AddCommand((&endpoints.ReadyEndpoint{}).Command(getServerURL))
	apiCmd.AddCommand((&endpoints.StatusEndpoint{}).Command(getServerURL))

	apiCmd.AddCommand((&endpoints.ExtractEndpoint{}).Command(getServerURL))

	for _, ep := range endpoints.AuthCommands() {
		authCmd.AddCommand(ep.Command(getServerURL))
	}
	for _, ep := range endpoints.LLMCallCommands() {
		llmcallsCmd.AddCommand(ep.Command(getServerURL))
	}

	apiCmd.AddCommand((&endpoints.SwaggerEndpoint{}).Command(getServerURL))

	apiCmd.AddCommand(authCmd)
	apiCmd.AddCommand(llmcallsCmd)
	rootCmd.AddCommand(apiCmd)
}
