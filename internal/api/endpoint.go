package api

import (
	"net/http"

	"github.com/spf13/cobra"
)

// Endpoint pairs an HTTP route with the CLI command that calls it, so the
// server and `labscan api` stay in step.
type Endpoint interface {
	// Route returns the method, path pattern and handler.
	Route() (method, path string, handler http.HandlerFunc)

	// RequiresInit reports whether the handler needs the extractor and call
	// history in the request context.
	RequiresInit() bool

	// Command builds the client-side command. The server URL is resolved when
	// the command runs, after flags are parsed.
	Command(getServerURL func() string) *cobra.Command
}
