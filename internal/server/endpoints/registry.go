package endpoints

import (
	"github.com/jackzampolin/labscan/internal/api"
)

// Config holds dependencies needed by some endpoints.
type Config struct {
	// SwaggerInstance selects the registered OpenAPI spec.
	SwaggerInstance string
}

// All returns all endpoint instances.
func All(cfg Config) []api.Endpoint {
	return []api.Endpoint{
		// Health endpoints
		&HealthEndpoint{},
		&ReadyEndpoint{},
		&StatusEndpoint{},

		// Extraction
		&ExtractEndpoint{},

		// Credential endpoints
		&GetAuthEndpoint{},
		&SetAPIKeyEndpoint{},
		&ClearAPIKeyEndpoint{},

		// LLM call history endpoints
		&ListLLMCallsEndpoint{},
		&GetLLMCallEndpoint{},
		&LLMCallCountsEndpoint{},

		// Swagger/OpenAPI endpoints
		&SwaggerEndpoint{InstanceName: cfg.SwaggerInstance},
		&SwaggerUIEndpoint{},
	}
}

// AuthCommands returns endpoints for credential operations.
// This groups auth-related commands under "auth" subcommand.
func AuthCommands() []api.Endpoint {
	return []api.Endpoint{
		&GetAuthEndpoint{},
		&SetAPIKeyEndpoint{},
		&ClearAPIKeyEndpoint{},
	}
}

// LLMCallCommands returns endpoints for LLM call history operations.
// This groups llmcall-related commands under "llmcalls" subcommand.
func LLMCallCommands() []api.Endpoint {
	return []api.Endpoint{
		&ListLLMCallsEndpoint{},
		&GetLLMCallEndpoint{},
		&LLMCallCountsEndpoint{},
	}
}
