// Package router is the model router client. All language model and
// embedding traffic goes through one OpenAI-wire proxy endpoint; the
// client layers catalog compatibility checks, a daily token budget, and
// kinded error classification on top of the transport.
package router

import (
	"context"
	"errors"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/aria-ai/aria/internal/config"
	"github.com/aria-ai/aria/internal/errdefs"
	"github.com/aria-ai/aria/internal/observability"
)

// Client talks to the model router proxy.
type Client struct {
	oa      *openai.Client
	catalog *config.Catalog
	budget  *Budget
	logger  *observability.Logger
	metrics *observability.Metrics
	timeout time.Duration
	now     func() time.Time

	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the structured logger.
func WithLogger(l *observability.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithMetrics sets the metrics collectors.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithBudget sets the daily token budget tracker.
func WithBudget(b *Budget) Option {
	return func(c *Client) { c.budget = b }
}

// WithClock injects the clock for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// WithHTTPClient overrides the transport, used by tests pointing at a
// local server.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New builds a client for the configured proxy endpoint.
func New(cfg config.RouterConfig, catalog *config.Catalog, opts ...Option) (*Client, error) {
	token, err := config.ResolveSecret(cfg.Token)
	if err != nil {
		return nil, err
	}
	if token == "" {
		token = "unauthenticated"
	}

	c := &Client{
		catalog: catalog,
		logger:  observability.NewLogger(observability.LogConfig{}),
		metrics: observability.NopMetrics(),
		timeout: cfg.Timeout.Std(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.timeout <= 0 {
		c.timeout = 60 * time.Second
	}
	if c.budget == nil {
		c.budget = NewBudget(cfg.DailyTokenBudget, c.now)
	}

	oaCfg := openai.DefaultConfig(token)
	oaCfg.BaseURL = cfg.BaseURL
	if c.httpClient != nil {
		oaCfg.HTTPClient = c.httpClient
	} else {
		oaCfg.HTTPClient = &http.Client{Timeout: c.timeout}
	}
	c.oa = openai.NewClientWithConfig(oaCfg)
	return c, nil
}

// ChatRequest is one chat completion call.
type ChatRequest struct {
	Model       string
	System      string
	Messages    []Message
	Tools       []openai.Tool
	MaxTokens   int
	Temperature float32
}

// Message is one turn in a chat request.
type Message struct {
	Role    string
	Content string

	// ToolCallID links a tool role message to the call it answers.
	ToolCallID string
}

// ChatResponse is the completed call with usage accounting.
type ChatResponse struct {
	Content      string
	ToolCalls    []openai.ToolCall
	FinishReason string
	InputTokens  int
	OutputTokens int
	Cost         float64
}

// Chat performs one chat completion. Compatibility and budget are
// checked before any bytes leave the process.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	spec, ok := c.catalog.Spec(req.Model)
	if !ok {
		return nil, errdefs.New(errdefs.KindConfiguration, "model %q is not in the catalog", req.Model)
	}
	if len(req.Tools) > 0 && !spec.ToolCalling {
		return nil, errdefs.New(errdefs.KindIncompatibleModel,
			"model %q does not support tool calling", req.Model)
	}
	if err := c.budget.Check(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	oaReq := openai.ChatCompletionRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Tools:       req.Tools,
	}
	if req.System != "" {
		oaReq.Messages = append(oaReq.Messages, openai.ChatCompletionMessage{
			Role: openai.ChatMessageRoleSystem, Content: req.System,
		})
	}
	for _, m := range req.Messages {
		oaReq.Messages = append(oaReq.Messages, openai.ChatCompletionMessage{
			Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID,
		})
	}

	start := c.now()
	resp, err := c.oa.CreateChatCompletion(ctx, oaReq)
	if err != nil {
		return nil, classify(err, req.Model)
	}
	if len(resp.Choices) == 0 {
		return nil, errdefs.New(errdefs.KindRetryable, "model %q returned no choices", req.Model)
	}

	choice := resp.Choices[0]
	out := &ChatResponse{
		Content:      choice.Message.Content,
		ToolCalls:    choice.Message.ToolCalls,
		FinishReason: string(choice.FinishReason),
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}
	out.Cost = cost(spec, out.InputTokens, out.OutputTokens)

	c.budget.Spend(int64(out.InputTokens + out.OutputTokens))
	c.metrics.RouterTokens.WithLabelValues(req.Model, "in").Add(float64(out.InputTokens))
	c.metrics.RouterTokens.WithLabelValues(req.Model, "out").Add(float64(out.OutputTokens))
	c.logger.Debug(ctx, "chat completion",
		"model", req.Model,
		"tokens_in", out.InputTokens,
		"tokens_out", out.OutputTokens,
		"latency_ms", c.now().Sub(start).Milliseconds())
	return out, nil
}

// Embed produces an embedding for each input through the catalog's
// embedding model.
func (c *Client) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	model := c.catalog.EmbeddingModel
	if model == "" {
		return nil, errdefs.New(errdefs.KindConfiguration, "no embedding model in the catalog")
	}
	if err := c.budget.Check(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.oa.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(model),
		Input: inputs,
	})
	if err != nil {
		return nil, classify(err, model)
	}

	out := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		out[i] = d.Embedding
	}
	c.budget.Spend(int64(resp.Usage.PromptTokens))
	c.metrics.RouterTokens.WithLabelValues(model, "in").Add(float64(resp.Usage.PromptTokens))
	return out, nil
}

// Budget exposes the tracker for status commands.
func (c *Client) Budget() *Budget {
	return c.budget
}

// classify maps transport failures to the error taxonomy: 429 is rate
// limited, 5xx and I/O errors retry, remaining 4xx are permanent.
func classify(err error, model string) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == http.StatusTooManyRequests:
			return errdefs.Wrap(errdefs.KindRateLimited, err, "model %q rate limited", model)
		case apiErr.HTTPStatusCode >= 500:
			return errdefs.Wrap(errdefs.KindRetryable, err, "model %q upstream error", model)
		case apiErr.HTTPStatusCode >= 400:
			return errdefs.Wrap(errdefs.KindPermanent, err, "model %q rejected request", model)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errdefs.Wrap(errdefs.KindCancelled, err, "model %q call cancelled", model)
	}
	return errdefs.Wrap(errdefs.KindRetryable, err, "model %q transport error", model)
}

// cost prices a call from the catalog's per-million rates.
func cost(spec config.ModelSpec, in, out int) float64 {
	return float64(in)/1e6*spec.CostInPerM + float64(out)/1e6*spec.CostOutPerM
}
