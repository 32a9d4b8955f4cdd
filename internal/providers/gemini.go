package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"google.golang.org/genai"
)

const (
	GeminiClientName   = "gemini"
	GeminiDefaultModel = "gemini-3-pro-preview"
)

// GeminiConfig holds configuration for the Gemini client.
type GeminiConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	RPM          int
	Timeout      time.Duration
	HTTPClient   *http.Client
}

// GeminiClient calls the Gemini API through google.golang.org/genai.
type GeminiClient struct {
	apiKey       string
	baseURL      string
	defaultModel string
	rpm          int
	httpClient   *http.Client
	limiter      *RateLimiter

	// genai clients bind their key at construction, so one is kept per key.
	mu      sync.Mutex
	clients map[string]*genai.Client
}

// NewGeminiClient creates a new Gemini client.
func NewGeminiClient(cfg GeminiConfig) *GeminiClient {
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = GeminiDefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Minute
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &GeminiClient{
		apiKey:       cfg.APIKey,
		baseURL:      cfg.BaseURL,
		defaultModel: cfg.DefaultModel,
		rpm:          cfg.RPM,
		httpClient:   cfg.HTTPClient,
		limiter:      NewRateLimiter(cfg.RPM),
		clients:      make(map[string]*genai.Client),
	}
}

// Name returns the client identifier.
func (c *GeminiClient) Name() string {
	return GeminiClientName
}

// Model returns the default model.
func (c *GeminiClient) Model() string {
	return c.defaultModel
}

// Generate sends the prompt and inline documents as a single user turn.
func (c *GeminiClient) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResult, error) {
	start := time.Now()
	model := modelOrDefault(req.Model, c.defaultModel)

	client, err := c.clientFor(ctx, keyOrDefault(req.APIKey, c.apiKey))
	if err != nil {
		return nil, err
	}

	config, err := c.buildConfig(req)
	if err != nil {
		return nil, err
	}

	parts := []*genai.Part{genai.NewPartFromText(req.Prompt)}
	for _, a := range req.Attachments {
		parts = append(parts, genai.NewPartFromBytes(a.Data, a.MIMEType))
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	resp, err := client.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		mapped := c.mapError(err)
		var perr *Error
		if errors.As(mapped, &perr) && perr.Kind == KindRateLimit {
			c.limiter.Record429(perr.RetryAfter)
		}
		return nil, mapped
	}

	result := &GenerateResult{
		Content:       resp.Text(),
		Provider:      GeminiClientName,
		ModelUsed:     model,
		RequestID:     req.RequestID,
		ExecutionTime: time.Since(start),
	}
	if resp.ModelVersion != "" {
		result.ModelUsed = resp.ModelVersion
	}
	if usage := resp.UsageMetadata; usage != nil {
		result.PromptTokens = int(usage.PromptTokenCount)
		result.CompletionTokens = int(usage.CandidatesTokenCount)
		result.TotalTokens = int(usage.TotalTokenCount)
	}
	if len(resp.Candidates) > 0 {
		result.FinishReason = string(resp.Candidates[0].FinishReason)
	}
	return result, nil
}

func (c *GeminiClient) buildConfig(req *GenerateRequest) (*genai.GenerateContentConfig, error) {
	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(req.Temperature)),
	}
	if req.TopP > 0 {
		config.TopP = genai.Ptr(float32(req.TopP))
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.SystemInstruction != "" {
		config.SystemInstruction = genai.NewContentFromText(req.SystemInstruction, genai.RoleUser)
	}
	if len(req.ResponseSchema) > 0 {
		schema, err := geminiSchema(req.ResponseSchema)
		if err != nil {
			return nil, err
		}
		config.ResponseMIMEType = "application/json"
		config.ResponseSchema = schema
	}
	return config, nil
}

func (c *GeminiClient) clientFor(ctx context.Context, apiKey string) (*genai.Client, error) {
	if apiKey == "" {
		return nil, &Error{Provider: GeminiClientName, Kind: KindAuth, Message: "no API key configured"}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if client, ok := c.clients[apiKey]; ok {
		return client, nil
	}

	cc := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: c.httpClient,
	}
	if c.baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: c.baseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	// Only the most recent key is worth keeping.
	clear(c.clients)
	c.clients[apiKey] = client
	return client, nil
}

// mapError converts genai errors into provider errors. Gemini reports an
// invalid key as 400 INVALID_ARGUMENT with reason API_KEY_INVALID.
func (c *GeminiClient) mapError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
	case errors.As(err, &apiErrPtr) && apiErrPtr != nil:
		apiErr = *apiErrPtr
	default:
		return networkError(GeminiClientName, err)
	}

	kind := kindForStatus(apiErr.Code)
	switch apiErr.Status {
	case "UNAUTHENTICATED", "PERMISSION_DENIED":
		kind = KindAuth
	case "NOT_FOUND":
		kind = KindNotFound
	case "RESOURCE_EXHAUSTED":
		kind = KindRateLimit
	case "UNAVAILABLE", "DEADLINE_EXCEEDED", "INTERNAL":
		kind = KindTransient
	}
	if hasReason(apiErr.Details, "API_KEY_INVALID") {
		kind = KindAuth
	}

	return &Error{
		Provider:   GeminiClientName,
		Kind:       kind,
		StatusCode: apiErr.Code,
		Message:    apiErr.Message,
		RetryAfter: retryDelay(apiErr.Details),
		Err:        err,
	}
}

func hasReason(details []map[string]any, reason string) bool {
	for _, d := range details {
		if r, ok := d["reason"].(string); ok && r == reason {
			return true
		}
	}
	return false
}

// retryDelay reads google.rpc.RetryInfo ("retryDelay": "12s").
func retryDelay(details []map[string]any) time.Duration {
	for _, d := range details {
		if s, ok := d["retryDelay"].(string); ok {
			if dur, err := time.ParseDuration(s); err == nil {
				return dur
			}
		}
	}
	return 0
}

// geminiSchema converts a JSON Schema document into the OpenAPI subset that
// Gemini accepts for response schemas.
func geminiSchema(raw json.RawMessage) (*genai.Schema, error) {
	var root map[string]any
	if err := json.Unmarshal(raw, &root); err != nil {
		return nil, fmt.Errorf("invalid response schema: %w", err)
	}
	return convertSchemaNode(root), nil
}

func convertSchemaNode(node map[string]any) *genai.Schema {
	s := &genai.Schema{}
	if t, ok := node["type"].(string); ok {
		s.Type = genai.Type(strings.ToUpper(t))
	}
	if d, ok := node["description"].(string); ok {
		s.Description = d
	}
	if enum, ok := node["enum"].([]any); ok {
		for _, v := range enum {
			if str, ok := v.(string); ok {
				s.Enum = append(s.Enum, str)
			}
		}
	}
	if req, ok := node["required"].([]any); ok {
		for _, v := range req {
			if str, ok := v.(string); ok {
				s.Required = append(s.Required, str)
			}
		}
		s.PropertyOrdering = s.Required
	}
	if props, ok := node["properties"].(map[string]any); ok {
		s.Properties = make(map[string]*genai.Schema, len(props))
		for name, p := range props {
			if pm, ok := p.(map[string]any); ok {
				s.Properties[name] = convertSchemaNode(pm)
			}
		}
	}
	if items, ok := node["items"].(map[string]any); ok {
		s.Items = convertSchemaNode(items)
	}
	return s
}

var _ LLMClient = (*GeminiClient)(nil)
