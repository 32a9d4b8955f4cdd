package providers

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const MockClientName = "mock"

// MockClient is an LLMClient for testing.
type MockClient struct {
	// Configurable behavior
	Latency      time.Duration
	DefaultModel string
	ResponseText string
	// Responses, when set, are returned in order; the last one repeats.
	Responses []string
	// Err is returned from every call when set.
	Err error
	// FailTimes makes the first N calls return Err before succeeding.
	FailTimes int

	// State
	requestCount atomic.Int64
	mu           sync.Mutex
	lastRequest  *GenerateRequest
}

// NewMockClient creates a new mock client with sensible defaults.
func NewMockClient() *MockClient {
	return &MockClient{
		DefaultModel: "mock-model",
		ResponseText: `{"exams":[]}`,
	}
}

// Name returns the client identifier.
func (c *MockClient) Name() string {
	return MockClientName
}

// Model returns the default model.
func (c *MockClient) Model() string {
	return c.DefaultModel
}

// Generate returns the configured response.
func (c *MockClient) Generate(ctx context.Context, req *GenerateRequest) (*GenerateResult, error) {
	start := time.Now()
	count := c.requestCount.Add(1)

	c.mu.Lock()
	copied := *req
	c.lastRequest = &copied
	c.mu.Unlock()

	if c.Err != nil && (c.FailTimes == 0 || int(count) <= c.FailTimes) {
		return nil, c.Err
	}

	if c.Latency > 0 {
		select {
		case <-time.After(c.Latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	text := c.ResponseText
	if n := len(c.Responses); n > 0 {
		idx := int(count) - 1
		if idx >= n {
			idx = n - 1
		}
		text = c.Responses[idx]
	}

	promptTokens := len(req.Prompt) / 4
	completionTokens := len(text) / 4
	return &GenerateResult{
		Content:          text,
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
		TotalTokens:      promptTokens + completionTokens,
		ExecutionTime:    time.Since(start),
		Provider:         MockClientName,
		ModelUsed:        modelOrDefault(req.Model, c.DefaultModel),
		RequestID:        modelOrDefault(req.RequestID, fmt.Sprintf("mock-%d", count)),
	}, nil
}

// RequestCount returns the number of Generate calls.
func (c *MockClient) RequestCount() int64 {
	return c.requestCount.Load()
}

// LastRequest returns a copy of the most recent request, or nil.
func (c *MockClient) LastRequest() *GenerateRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastRequest
}

// Reset clears the request counter.
func (c *MockClient) Reset() {
	c.requestCount.Store(0)
	c.mu.Lock()
	c.lastRequest = nil
	c.mu.Unlock()
}

var _ LLMClient = (*MockClient)(nil)
