// Package llmcall provides model call recording and querying for traceability.
// Every extraction call is recorded with its outcome, response, and metrics.
package llmcall

import (
	"time"

	"github.com/google/uuid"

	"github.com/jackzampolin/labscan/internal/providers"
)

// Call represents a recorded model call.
type Call struct {
	// Unique identifier
	ID string `json:"id"`

	// Timing
	Timestamp time.Time `json:"timestamp"`
	LatencyMs int       `json:"latency_ms"`

	// Context references
	RequestID   string `json:"request_id,omitempty"`
	Document    string `json:"document,omitempty"`
	DocumentSHA string `json:"document_sha256,omitempty"`

	// Extraction variant and parse result
	Mode    string `json:"mode"`
	Outcome string `json:"outcome,omitempty"`
	Results int    `json:"results"`

	// Model info
	Provider    string   `json:"provider"`
	Model       string   `json:"model"`
	Temperature *float64 `json:"temperature,omitempty"`

	// Token usage
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`

	// Response
	Response string `json:"response,omitempty"`

	// Status
	Success   bool   `json:"success"`
	Error     string `json:"error,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`
}

// RecordOptions provides context for recording a model call.
type RecordOptions struct {
	// Context references (all optional)
	RequestID   string
	Document    string
	DocumentSHA string

	Mode    string
	Outcome string
	Results int

	// Request parameters (pointer to distinguish "not set" from "set to 0")
	Temperature *float64

	// Set when the call or its parsing failed.
	Err       error
	ErrorKind string
}

// FromGenerateResult creates a Call from a GenerateResult. A nil result is
// allowed for calls that failed before the provider answered; provider and
// model are then taken from fallback.
func FromGenerateResult(result *providers.GenerateResult, fallback providers.LLMClient, opts RecordOptions) *Call {
	call := &Call{
		ID:          uuid.New().String(),
		Timestamp:   time.Now(),
		RequestID:   opts.RequestID,
		Document:    opts.Document,
		DocumentSHA: opts.DocumentSHA,
		Mode:        opts.Mode,
		Outcome:     opts.Outcome,
		Results:     opts.Results,
		Temperature: opts.Temperature,
		Success:     opts.Err == nil,
		ErrorKind:   opts.ErrorKind,
	}

	if result != nil {
		call.LatencyMs = int(result.ExecutionTime.Milliseconds())
		call.Provider = result.Provider
		call.Model = result.ModelUsed
		call.InputTokens = result.PromptTokens
		call.OutputTokens = result.CompletionTokens
		call.Response = result.Content
	} else if fallback != nil {
		call.Provider = fallback.Name()
		call.Model = fallback.Model()
	}

	if opts.Err != nil {
		call.Error = opts.Err.Error()
	}
	return call
}
