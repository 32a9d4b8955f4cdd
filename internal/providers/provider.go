package providers

import (
	"context"
	"encoding/json"
	"time"
)

// LLMClient sends a single multimodal generation request to a remote model.
type LLMClient interface {
	// Generate sends one prompt plus inline attachments and returns the model text.
	Generate(ctx context.Context, req *GenerateRequest) (*GenerateResult, error)

	// Name returns the client identifier (e.g., "gemini").
	Name() string

	// Model returns the default model used when a request leaves Model empty.
	Model() string
}

// Attachment is an inline document sent alongside the prompt.
type Attachment struct {
	Name     string
	MIMEType string
	Data     []byte
}

// GenerateRequest is a request to a generative model.
type GenerateRequest struct {
	// Required
	Prompt      string       `json:"prompt"`
	Attachments []Attachment `json:"-"`

	// Role constraint sent as the system instruction
	SystemInstruction string `json:"system_instruction,omitempty"`

	// Model selection (uses client default if empty)
	Model string `json:"model,omitempty"`

	// Generation parameters
	Temperature float64 `json:"temperature,omitempty"`
	TopP        float64 `json:"top_p,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`

	// ResponseSchema is a JSON Schema document. When set the provider is asked
	// for JSON output matching it.
	ResponseSchema json.RawMessage `json:"response_schema,omitempty"`

	// APIKey overrides the key the client was built with.
	APIKey string `json:"-"`

	// Request tracking
	RequestID string `json:"-"`
}

// GenerateResult is the response from a generation call.
type GenerateResult struct {
	// Raw model text
	Content string `json:"content"`

	// Token counts
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`

	// Timing
	ExecutionTime time.Duration `json:"execution_time"`

	// Provider info
	Provider  string `json:"provider"`
	ModelUsed string `json:"model_used"`

	// Request tracking
	RequestID    string `json:"request_id"`
	FinishReason string `json:"finish_reason,omitempty"`
}

func modelOrDefault(requested, fallback string) string {
	if requested != "" {
		return requested
	}
	return fallback
}

func keyOrDefault(requested, fallback string) string {
	if requested != "" {
		return requested
	}
	return fallback
}
