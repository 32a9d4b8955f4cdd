package providers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	OpenRouterName         = "openrouter"
	OpenRouterBaseURL      = "https://openrouter.ai/api/v1"
	OpenRouterDefaultModel = "google/gemini-2.5-pro"
)

// OpenRouterConfig holds configuration for the OpenRouter client.
type OpenRouterConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	Timeout      time.Duration
	RPM          int
}

// OpenRouterClient implements LLMClient using the OpenRouter chat API.
type OpenRouterClient struct {
	apiKey       string
	baseURL      string
	defaultModel string
	rpm          int
	client       *http.Client
	limiter      *RateLimiter
}

// NewOpenRouterClient creates a new OpenRouter client.
func NewOpenRouterClient(cfg OpenRouterConfig) *OpenRouterClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = OpenRouterBaseURL
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = OpenRouterDefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}

	return &OpenRouterClient{
		apiKey:       cfg.APIKey,
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		defaultModel: cfg.DefaultModel,
		rpm:          cfg.RPM,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter: NewRateLimiter(cfg.RPM),
	}
}

// Name returns the client identifier.
func (c *OpenRouterClient) Name() string {
	return OpenRouterName
}

// Model returns the default model.
func (c *OpenRouterClient) Model() string {
	return c.defaultModel
}

// Generate sends one chat completion with the documents attached as data URLs.
func (c *OpenRouterClient) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResult, error) {
	start := time.Now()
	model := modelOrDefault(req.Model, c.defaultModel)

	apiKey := keyOrDefault(req.APIKey, c.apiKey)
	if apiKey == "" {
		return nil, &Error{Provider: OpenRouterName, Kind: KindAuth, Message: "no API key configured"}
	}

	orReq, err := c.buildRequest(req, model)
	if err != nil {
		return nil, err
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	orResp, err := c.doRequest(ctx, apiKey, orReq)
	if err != nil {
		var perr *Error
		if errors.As(err, &perr) && perr.Kind == KindRateLimit {
			c.limiter.Record429(perr.RetryAfter)
		}
		return nil, err
	}

	choice := orResp.Choices[0]
	return &GenerateResult{
		Content:          messageText(choice.Message.Content),
		FinishReason:     choice.FinishReason,
		PromptTokens:     orResp.Usage.PromptTokens,
		CompletionTokens: orResp.Usage.CompletionTokens,
		TotalTokens:      orResp.Usage.TotalTokens,
		ExecutionTime:    time.Since(start),
		Provider:         OpenRouterName,
		ModelUsed:        modelOrDefault(orResp.Model, model),
		RequestID:        req.RequestID,
	}, nil
}

func (c *OpenRouterClient) buildRequest(req *GenerateRequest, model string) (*openRouterRequest, error) {
	content := []openRouterContent{{Type: "text", Text: req.Prompt}}
	for _, a := range req.Attachments {
		dataURL := fmt.Sprintf("data:%s;base64,%s", a.MIMEType, base64.StdEncoding.EncodeToString(a.Data))
		if strings.HasPrefix(a.MIMEType, "image/") {
			content = append(content, openRouterContent{
				Type:     "image_url",
				ImageURL: &openRouterImageURL{URL: dataURL},
			})
			continue
		}
		content = append(content, openRouterContent{
			Type: "file",
			File: &openRouterFile{Filename: a.Name, FileData: dataURL},
		})
	}

	var messages []openRouterMessage
	if req.SystemInstruction != "" {
		messages = append(messages, openRouterMessage{Role: "system", Content: req.SystemInstruction})
	}
	messages = append(messages, openRouterMessage{Role: "user", Content: content})

	orReq := &openRouterRequest{
		Model:       model,
		Messages:    messages,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		MaxTokens:   req.MaxTokens,
	}

	if len(req.ResponseSchema) > 0 {
		wrapped, err := json.Marshal(map[string]any{
			"name":   "lab_results",
			"strict": true,
			"schema": json.RawMessage(req.ResponseSchema),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to wrap response schema: %w", err)
		}
		orReq.ResponseFormat = &openRouterResponseFormat{
			Type:       "json_schema",
			JSONSchema: wrapped,
		}
	}
	return orReq, nil
}

// doRequest performs a single round trip and classifies failures.
func (c *OpenRouterClient) doRequest(ctx context.Context, apiKey string, orReq *openRouterRequest) (*openRouterResponse, error) {
	bodyBytes, err := json.Marshal(orReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("HTTP-Referer", "https://github.com/jackzampolin/labscan")
	req.Header.Set("X-Title", "labscan")

	resp, err := c.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, networkError(OpenRouterName, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, networkError(OpenRouterName, fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		perr := &Error{
			Provider:   OpenRouterName,
			Kind:       kindForStatus(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Message:    string(respBody),
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
		var orResp openRouterResponse
		if json.Unmarshal(respBody, &orResp) == nil && orResp.Error != nil {
			perr.Message = orResp.Error.Message
		}
		return nil, perr
	}

	var orResp openRouterResponse
	if err := json.Unmarshal(respBody, &orResp); err != nil {
		return nil, &Error{Provider: OpenRouterName, Kind: KindTransient, Message: "failed to unmarshal response", Err: err}
	}

	// OpenRouter can answer 200 with an embedded error or no choices.
	if orResp.Error != nil {
		kind := KindUnknown
		switch code := fmt.Sprintf("%v", orResp.Error.Code); code {
		case "overloaded", "rate_limit_exceeded", "429":
			kind = KindRateLimit
		case "401", "403":
			kind = KindAuth
		case "500", "502", "503":
			kind = KindTransient
		}
		return nil, &Error{Provider: OpenRouterName, Kind: kind, Message: orResp.Error.Message}
	}
	if len(orResp.Choices) == 0 {
		return nil, &Error{
			Provider: OpenRouterName,
			Kind:     KindTransient,
			Message:  fmt.Sprintf("empty choices in response (model=%s, id=%s)", orResp.Model, orResp.ID),
		}
	}

	return &orResp, nil
}

// messageText flattens string or multipart message content.
func messageText(content any) string {
	switch v := content.(type) {
	case string:
		return v
	case []any:
		var sb strings.Builder
		for _, part := range v {
			if m, ok := part.(map[string]any); ok {
				if text, ok := m["text"].(string); ok {
					sb.WriteString(text)
				}
			}
		}
		return sb.String()
	default:
		return ""
	}
}

var _ LLMClient = (*OpenRouterClient)(nil)
