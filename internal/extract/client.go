package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/jackzampolin/labscan/internal/document"
	"github.com/jackzampolin/labscan/internal/llmcall"
	"github.com/jackzampolin/labscan/internal/providers"
)

// Default generation parameters.
const (
	DefaultProvider    = providers.GeminiClientName
	DefaultTemperature = 0.1
	DefaultTopP        = 0.95
	DefaultTimeout     = 120 * time.Second
	DefaultMaxAttempts = 1
	DefaultCacheSize   = 128
)

// Resolver looks up a provider client by name. *providers.Registry satisfies it.
type Resolver interface {
	GetLLM(name string) (providers.LLMClient, error)
}

// Options are the client-wide extraction settings. Zero values take the
// defaults from DefaultOptions, except IncludeUnits.
type Options struct {
	Provider     string
	Model        string
	Mode         Mode
	IncludeUnits bool
	Temperature  float64
	TopP         float64
	MaxTokens    int
	Timeout      time.Duration
	// MaxAttempts bounds calls per extraction; only transient and
	// rate-limit failures are retried.
	MaxAttempts int
	// CacheSize is the number of successful responses kept; negative disables caching.
	CacheSize int
}

// DefaultOptions returns the settings used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		Provider:     DefaultProvider,
		Mode:         ModeSchema,
		IncludeUnits: true,
		Temperature:  DefaultTemperature,
		TopP:         DefaultTopP,
		Timeout:      DefaultTimeout,
		MaxAttempts:  DefaultMaxAttempts,
		CacheSize:    DefaultCacheSize,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Provider == "" {
		o.Provider = d.Provider
	}
	if o.Mode == "" {
		o.Mode = d.Mode
	}
	if o.Temperature <= 0 {
		o.Temperature = d.Temperature
	}
	if o.TopP <= 0 {
		o.TopP = d.TopP
	}
	if o.Timeout <= 0 {
		o.Timeout = d.Timeout
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = d.MaxAttempts
	}
	if o.CacheSize == 0 {
		o.CacheSize = d.CacheSize
	}
	return o
}

// Option overrides a setting for a single extraction.
type Option func(*Options)

// WithMode selects the prompt and parser variant.
func WithMode(m Mode) Option {
	return func(o *Options) {
		if m != "" {
			o.Mode = m
		}
	}
}

// WithUnits controls whether units are requested in the schema variant.
func WithUnits(include bool) Option {
	return func(o *Options) { o.IncludeUnits = include }
}

// WithProvider selects a registered provider by name.
func WithProvider(name string) Option {
	return func(o *Options) {
		if name != "" {
			o.Provider = name
		}
	}
}

// WithModel overrides the provider's default model.
func WithModel(model string) Option {
	return func(o *Options) {
		if model != "" {
			o.Model = model
		}
	}
}

// Config configures a Client.
type Config struct {
	Resolver    Resolver
	Credentials *Credentials
	Options     Options
	// Recorder receives one record per remote call; nil disables recording.
	Recorder *llmcall.Recorder
	Logger   *slog.Logger
}

// Client runs extractions. It is safe for concurrent use.
type Client struct {
	resolver Resolver
	creds    *Credentials
	recorder *llmcall.Recorder
	logger   *slog.Logger

	mu    sync.RWMutex
	opts  Options
	cache *lru.Cache[string, *ExtractionResponse]

	group singleflight.Group

	flightMu sync.Mutex
	flights  map[string]*flight
}

// flight is the context of a shared model call. It is cancelled once every
// caller waiting on it has gone.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// NewClient creates an extraction client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Resolver == nil {
		return nil, fmt.Errorf("resolver is required")
	}
	if cfg.Credentials == nil {
		cfg.Credentials = &Credentials{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	c := &Client{
		resolver: cfg.Resolver,
		creds:    cfg.Credentials,
		recorder: cfg.Recorder,
		logger:   cfg.Logger,
		flights:  make(map[string]*flight),
	}
	c.Configure(cfg.Options)
	return c, nil
}

// Credentials returns the credential store used by the client.
func (c *Client) Credentials() *Credentials {
	return c.creds
}

// Options returns the current settings.
func (c *Client) Options() Options {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.opts
}

// Configure replaces the settings. The response cache is rebuilt (and
// emptied) when its size changes.
func (c *Client) Configure(opts Options) {
	opts = opts.withDefaults()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cache == nil || c.opts.CacheSize != opts.CacheSize {
		c.cache = nil
		if opts.CacheSize > 0 {
			c.cache, _ = lru.New[string, *ExtractionResponse](opts.CacheSize)
		}
	}
	c.opts = opts
}

// ExtractFile extracts from the file at path. The credential is checked
// before the file is read.
func (c *Client) ExtractFile(ctx context.Context, path string, opts ...Option) (*ExtractionResponse, error) {
	if _, err := c.creds.Key(); err != nil {
		return nil, err
	}
	doc, err := document.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}
	return c.Extract(ctx, doc, opts...)
}

// ExtractReader extracts from r. The credential is checked before r is read.
func (c *Client) ExtractReader(ctx context.Context, name string, r io.Reader, mimeType string, opts ...Option) (*ExtractionResponse, error) {
	if _, err := c.creds.Key(); err != nil {
		return nil, err
	}
	doc, err := document.Read(name, r, mimeType)
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}
	return c.Extract(ctx, doc, opts...)
}

// Extract sends doc to the configured provider and parses the answer.
func (c *Client) Extract(ctx context.Context, doc *document.Document, opts ...Option) (*ExtractionResponse, error) {
	key, err := c.creds.Key()
	if err != nil {
		return nil, err
	}
	if doc == nil || len(doc.Data) == 0 {
		return nil, &Error{Kind: KindInvalidDocument, Message: "document is empty"}
	}

	c.mu.RLock()
	settings := c.opts
	cache := c.cache
	c.mu.RUnlock()
	activeProvider := settings.Provider
	for _, opt := range opts {
		opt(&settings)
	}
	// The stored key belongs to the configured provider. Other providers
	// use their own configured keys.
	if settings.Provider != activeProvider {
		key = ""
	}
	if settings.Mode != ModeSchema && settings.Mode != ModeLines {
		return nil, &Error{Kind: KindInvalidDocument, Message: "unknown mode " + string(settings.Mode)}
	}

	client, err := c.resolver.GetLLM(settings.Provider)
	if err != nil {
		return nil, &Error{Kind: KindRemote, Message: MessageProcessFailed, Err: err}
	}
	if settings.Model == "" {
		settings.Model = client.Model()
	}

	cacheKey := responseKey(doc, settings)
	if cache != nil {
		if resp, ok := cache.Get(cacheKey); ok {
			out := resp.clone()
			out.Meta.Cached = true
			c.logger.Debug("extraction served from cache",
				"request_id", out.Meta.RequestID,
				"sha256", doc.SHA256)
			return out, nil
		}
	}

	flightCtx, leave := c.joinFlight(ctx, cacheKey)
	defer leave()
	ch := c.group.DoChan(cacheKey, func() (any, error) {
		return c.run(flightCtx, doc, client, key, settings)
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, &Error{Kind: KindRemote, Message: MessageProcessFailed, Err: ctx.Err()}
	}
	if res.Err != nil {
		return nil, res.Err
	}
	resp := res.Val.(*ExtractionResponse)
	if cache != nil {
		cache.Add(cacheKey, resp)
	}
	return resp.clone(), nil
}

// joinFlight returns the context for the shared call under key. The call
// outlives any single caller and is cancelled when the last one leaves.
func (c *Client) joinFlight(ctx context.Context, key string) (context.Context, func()) {
	c.flightMu.Lock()
	f, ok := c.flights[key]
	if !ok {
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{ctx: fctx, cancel: cancel}
		c.flights[key] = f
	}
	f.waiters++
	c.flightMu.Unlock()

	return f.ctx, func() {
		c.flightMu.Lock()
		defer c.flightMu.Unlock()
		f.waiters--
		if f.waiters == 0 {
			f.cancel()
			delete(c.flights, key)
		}
	}
}

func (c *Client) run(ctx context.Context, doc *document.Document, client providers.LLMClient, key string, settings Options) (*ExtractionResponse, error) {
	start := time.Now()
	requestID := uuid.NewString()
	logger := c.logger.With(
		"request_id", requestID,
		"provider", client.Name(),
		"model", settings.Model,
		"mode", settings.Mode)

	req := &providers.GenerateRequest{
		Prompt:            BuildPrompt(settings.Mode, settings.IncludeUnits),
		Attachments:       []providers.Attachment{{Name: doc.Name, MIMEType: doc.MIMEType, Data: doc.Data}},
		SystemInstruction: SystemInstruction,
		Model:             settings.Model,
		Temperature:       settings.Temperature,
		TopP:              settings.TopP,
		MaxTokens:         settings.MaxTokens,
		APIKey:            key,
		RequestID:         requestID,
	}
	if settings.Mode == ModeSchema {
		schema, err := ResponseSchema()
		if err != nil {
			return nil, &Error{Kind: KindRemote, Message: MessageProcessFailed, Err: err}
		}
		req.ResponseSchema = schema
	}

	recordOpts := llmcall.RecordOptions{
		RequestID:   requestID,
		Document:    doc.Name,
		DocumentSHA: doc.SHA256,
		Mode:        string(settings.Mode),
		Temperature: &settings.Temperature,
	}

	logger.Info("sending document to model", "document", doc.Name, "mime_type", doc.MIMEType, "bytes", doc.Size)

	var result *providers.GenerateResult
	attempts := 0
	err := retry.Do(
		func() error {
			attempts++
			callCtx, cancel := context.WithTimeout(ctx, settings.Timeout)
			defer cancel()
			r, err := client.Generate(callCtx, req)
			if err != nil {
				return err
			}
			result = r
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(uint(settings.MaxAttempts)),
		retry.RetryIf(providers.IsRetryable),
		retry.LastErrorOnly(true),
		retry.Delay(time.Second),
		retry.MaxDelay(30*time.Second),
		retry.DelayType(retryAfterDelay),
		retry.OnRetry(func(n uint, err error) {
			logger.Warn("model call failed, retrying", "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		xerr := c.remoteError(err, key)
		recordOpts.Err = err
		recordOpts.ErrorKind = string(xerr.Kind)
		c.recorder.Record(result, client, recordOpts)
		logger.Error("model call failed", "attempts", attempts, "kind", xerr.Kind, "error", err)
		return nil, xerr
	}

	resp := &ExtractionResponse{}
	switch settings.Mode {
	case ModeLines:
		resp.Results = ParseLines(result.Content)
		resp.RawText = result.Content
		resp.Meta.Outcome = OutcomeLines
	default:
		results, outcome, err := ParseStructured(result.Content)
		if err != nil {
			recordOpts.Err = err
			recordOpts.ErrorKind = string(KindUnprocessable)
			c.recorder.Record(result, client, recordOpts)
			logger.Error("model output could not be parsed", "error", err, "response_chars", len(result.Content))
			return nil, err
		}
		resp.Results = results
		resp.RawText = RenderRawText(results)
		resp.Meta.Outcome = outcome
	}
	if resp.Results == nil {
		resp.Results = []ExamResult{}
	}
	if resp.Meta.Outcome.Degraded() {
		logger.Warn("model output was malformed; records recovered by pattern matching",
			"outcome", resp.Meta.Outcome,
			"results", len(resp.Results))
	}

	resp.Meta.RequestID = requestID
	resp.Meta.Mode = settings.Mode
	resp.Meta.Provider = result.Provider
	resp.Meta.Model = result.ModelUsed
	resp.Meta.Document = doc.Name
	resp.Meta.MIMEType = doc.MIMEType
	resp.Meta.SHA256 = doc.SHA256
	resp.Meta.Pages = doc.Pages
	resp.Meta.Attempts = attempts
	resp.Meta.StartedAt = start
	resp.Meta.Elapsed = time.Since(start)
	resp.Meta.TokensUsed = result.TotalTokens

	recordOpts.Outcome = string(resp.Meta.Outcome)
	recordOpts.Results = len(resp.Results)
	c.recorder.Record(result, client, recordOpts)

	logger.Info("extraction complete",
		"outcome", resp.Meta.Outcome,
		"results", len(resp.Results),
		"attempts", attempts,
		"elapsed", resp.Meta.Elapsed)
	return resp, nil
}

// remoteError maps a provider failure to AUTH_REQUIRED or REMOTE_FAILURE. A
// rejected stored key is invalidated so later calls fail fast; an empty key
// means the provider used its own.
func (c *Client) remoteError(err error, key string) *Error {
	switch providers.KindOf(err) {
	case providers.KindAuth, providers.KindNotFound:
		if key != "" && c.creds.Invalidate(key) {
			c.logger.Warn("API key rejected by provider; credential cleared")
		}
		return &Error{Kind: KindAuthRequired, Message: MessageAuthFailed, Err: err}
	default:
		return &Error{Kind: KindRemote, Message: MessageProcessFailed, Err: err}
	}
}

// retryAfterDelay honours a provider's Retry-After hint, else backs off.
func retryAfterDelay(n uint, err error, config *retry.Config) time.Duration {
	var perr *providers.Error
	if errors.As(err, &perr) && perr.RetryAfter > 0 {
		return perr.RetryAfter
	}
	return retry.BackOffDelay(n, err, config)
}

// responseKey identifies a response by document and every setting that
// reaches the model.
func responseKey(doc *document.Document, o Options) string {
	return strings.Join([]string{
		doc.SHA256,
		string(o.Mode),
		strconv.FormatBool(o.IncludeUnits),
		o.Provider,
		o.Model,
		strconv.FormatFloat(o.Temperature, 'g', -1, 64),
		strconv.FormatFloat(o.TopP, 'g', -1, 64),
		strconv.Itoa(o.MaxTokens),
	}, "|")
}

func (r *ExtractionResponse) clone() *ExtractionResponse {
	out := *r
	out.Results = slices.Clone(r.Results)
	return &out
}
