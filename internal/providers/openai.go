package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const (
	OpenAIClientName   = "openai"
	OpenAIDefaultModel = "gpt-4o"
)

// OpenAIConfig holds configuration for the OpenAI chat client.
type OpenAIConfig struct {
	APIKey       string
	DefaultModel string
	RPM          int
	Timeout      time.Duration
	BaseURL      string       // Optional (tests, compatible gateways)
	HTTPClient   *http.Client // Optional (tests)
}

// OpenAIClient sends vision chat completions with the official OpenAI SDK.
type OpenAIClient struct {
	apiKey       string
	defaultModel string
	rpm          int
	baseURL      string
	limiter      *RateLimiter
	client       openai.Client
}

// NewOpenAIClient creates a new OpenAI client. SDK-level retries are disabled;
// callers decide the retry policy.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = OpenAIDefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Minute
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	opts := []option.RequestOption{
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0),
	}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIClient{
		apiKey:       cfg.APIKey,
		defaultModel: cfg.DefaultModel,
		rpm:          cfg.RPM,
		baseURL:      cfg.BaseURL,
		limiter:      NewRateLimiter(cfg.RPM),
		client:       openai.NewClient(opts...),
	}
}

// Name returns the client identifier.
func (c *OpenAIClient) Name() string {
	return OpenAIClientName
}

// Model returns the default model.
func (c *OpenAIClient) Model() string {
	return c.defaultModel
}

// Generate sends the prompt and documents as one user message.
func (c *OpenAIClient) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResult, error) {
	start := time.Now()
	model := modelOrDefault(req.Model, c.defaultModel)

	apiKey := keyOrDefault(req.APIKey, c.apiKey)
	if apiKey == "" {
		return nil, &Error{Provider: OpenAIClientName, Kind: KindAuth, Message: "no API key configured"}
	}

	params, err := c.buildParams(req, model)
	if err != nil {
		return nil, err
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	resp, err := c.client.Chat.Completions.New(ctx, params, option.WithAPIKey(apiKey))
	if err != nil {
		mapped := mapOpenAIError(err)
		var perr *Error
		if errors.As(mapped, &perr) && perr.Kind == KindRateLimit {
			c.limiter.Record429(perr.RetryAfter)
		}
		return nil, mapped
	}
	if len(resp.Choices) == 0 {
		return nil, &Error{Provider: OpenAIClientName, Kind: KindTransient, Message: "empty choices in response"}
	}

	return &GenerateResult{
		Content:          resp.Choices[0].Message.Content,
		FinishReason:     resp.Choices[0].FinishReason,
		PromptTokens:     int(resp.Usage.PromptTokens),
		CompletionTokens: int(resp.Usage.CompletionTokens),
		TotalTokens:      int(resp.Usage.TotalTokens),
		ExecutionTime:    time.Since(start),
		Provider:         OpenAIClientName,
		ModelUsed:        modelOrDefault(resp.Model, model),
		RequestID:        req.RequestID,
	}, nil
}

func (c *OpenAIClient) buildParams(req *GenerateRequest, model string) (openai.ChatCompletionNewParams, error) {
	parts := []openai.ChatCompletionContentPartUnionParam{openai.TextContentPart(req.Prompt)}
	for _, a := range req.Attachments {
		dataURL := fmt.Sprintf("data:%s;base64,%s", a.MIMEType, base64.StdEncoding.EncodeToString(a.Data))
		if strings.HasPrefix(a.MIMEType, "image/") {
			parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
				URL:    dataURL,
				Detail: "high",
			}))
			continue
		}
		parts = append(parts, openai.FileContentPart(openai.ChatCompletionContentPartFileFileParam{
			FileData: openai.String(dataURL),
			Filename: openai.String(a.Name),
		}))
	}

	var messages []openai.ChatCompletionMessageParamUnion
	if req.SystemInstruction != "" {
		messages = append(messages, openai.SystemMessage(req.SystemInstruction))
	}
	messages = append(messages, openai.UserMessage(parts))

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(model),
		Messages:    messages,
		Temperature: openai.Float(req.Temperature),
	}
	if req.TopP > 0 {
		params.TopP = openai.Float(req.TopP)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}
	if len(req.ResponseSchema) > 0 {
		var schema map[string]any
		if err := json.Unmarshal(req.ResponseSchema, &schema); err != nil {
			return params, fmt.Errorf("invalid response schema: %w", err)
		}
		delete(schema, "$schema")
		delete(schema, "$id")
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   "lab_results",
					Schema: schema,
					Strict: openai.Bool(true),
				},
			},
		}
	}
	return params, nil
}

func mapOpenAIError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		return networkError(OpenAIClientName, err)
	}

	perr := &Error{
		Provider:   OpenAIClientName,
		Kind:       kindForStatus(apiErr.StatusCode),
		StatusCode: apiErr.StatusCode,
		Message:    apiErr.Message,
		Err:        err,
	}
	if apiErr.Code == "invalid_api_key" {
		perr.Kind = KindAuth
	}
	if apiErr.Response != nil {
		perr.RetryAfter = parseRetryAfter(apiErr.Response.Header.Get("Retry-After"))
	}
	return perr
}

var _ LLMClient = (*OpenAIClient)(nil)
