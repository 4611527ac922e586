package router

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/aria-ai/aria/internal/config"
	"github.com/aria-ai/aria/internal/errdefs"
)

func testCatalog() *config.Catalog {
	return &config.Catalog{
		Primary:        "chat-large",
		Fallbacks:      []string{"chat-small"},
		EmbeddingModel: "embed-1",
		Models: map[string]config.ModelSpec{
			"chat-large": {ToolCalling: true, ContextWindow: 128000, CostInPerM: 3, CostOutPerM: 15},
			"chat-small": {ToolCalling: true, ContextWindow: 16000, CostInPerM: 0.5, CostOutPerM: 1.5},
			"chat-plain": {ToolCalling: false, ContextWindow: 8000},
			"embed-1":    {ContextWindow: 8192, EmbeddingDim: 3},
		},
	}
}

func newTestClient(t *testing.T, handler http.Handler, opts ...Option) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := config.RouterConfig{
		BaseURL: srv.URL + "/v1",
		Token:   "test-token",
		Timeout: config.Duration(5 * time.Second),
	}
	c, err := New(cfg, testCatalog(), opts...)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c, srv
}

func chatOK(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, `{
		"choices": [{"message": {"role": "assistant", "content": "hello"}, "finish_reason": "stop"}],
		"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
	}`)
}

func TestChatParsesUsageAndCost(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(chatOK))

	resp, err := c.Chat(context.Background(), ChatRequest{
		Model:    "chat-large",
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if resp.Content != "hello" {
		t.Errorf("content = %q, want hello", resp.Content)
	}
	if resp.InputTokens != 10 || resp.OutputTokens != 5 {
		t.Errorf("tokens = %d/%d, want 10/5", resp.InputTokens, resp.OutputTokens)
	}
	// 10 in at $3/M + 5 out at $15/M.
	want := 10.0/1e6*3 + 5.0/1e6*15
	if resp.Cost != want {
		t.Errorf("cost = %v, want %v", resp.Cost, want)
	}
	if c.Budget().Spent() != 15 {
		t.Errorf("budget spent = %d, want 15", c.Budget().Spent())
	}
}

func TestIncompatibleModelNeverHitsWire(t *testing.T) {
	var hits atomic.Int64
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		chatOK(w, r)
	}))

	_, err := c.Chat(context.Background(), ChatRequest{
		Model: "chat-plain",
		Tools: []openai.Tool{{Type: openai.ToolTypeFunction}},
	})
	if errdefs.KindOf(err) != errdefs.KindIncompatibleModel {
		t.Fatalf("kind = %v, want IncompatibleModel", errdefs.KindOf(err))
	}
	if hits.Load() != 0 {
		t.Errorf("request reached the wire %d times, want 0", hits.Load())
	}
}

func TestErrorClassification(t *testing.T) {
	cases := []struct {
		status int
		want   errdefs.Kind
	}{
		{http.StatusTooManyRequests, errdefs.KindRateLimited},
		{http.StatusInternalServerError, errdefs.KindRetryable},
		{http.StatusBadGateway, errdefs.KindRetryable},
		{http.StatusBadRequest, errdefs.KindPermanent},
		{http.StatusUnauthorized, errdefs.KindPermanent},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprint(tc.status), func(t *testing.T) {
			c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tc.status)
				fmt.Fprint(w, `{"error": {"message": "nope", "type": "server_error"}}`)
			}))

			_, err := c.Chat(context.Background(), ChatRequest{Model: "chat-large"})
			if errdefs.KindOf(err) != tc.want {
				t.Errorf("status %d: kind = %v, want %v", tc.status, errdefs.KindOf(err), err)
			}
		})
	}
}

func TestBudgetBlocksWhenExhausted(t *testing.T) {
	var hits atomic.Int64
	clock := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	budget := NewBudget(100, func() time.Time { return clock })
	budget.Spend(100)

	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		chatOK(w, r)
	}), WithBudget(budget))

	_, err := c.Chat(context.Background(), ChatRequest{Model: "chat-large"})
	if errdefs.KindOf(err) != errdefs.KindBudgetExceeded {
		t.Fatalf("kind = %v, want BudgetExceeded", errdefs.KindOf(err))
	}
	if hits.Load() != 0 {
		t.Error("exhausted budget should block before the wire")
	}
}

func TestBudgetResetsAtUTCMidnight(t *testing.T) {
	clock := time.Date(2026, 3, 1, 23, 50, 0, 0, time.UTC)
	b := NewBudget(100, func() time.Time { return clock })

	b.Spend(100)
	if err := b.Check(); err == nil {
		t.Fatal("budget should be exhausted")
	}

	clock = clock.Add(20 * time.Minute) // past midnight
	if err := b.Check(); err != nil {
		t.Errorf("budget should reset after midnight: %v", err)
	}
	if b.Spent() != 0 {
		t.Errorf("spent = %d, want 0 after rollover", b.Spent())
	}
}

func TestUnknownModelIsConfigurationError(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(chatOK))
	_, err := c.Chat(context.Background(), ChatRequest{Model: "ghost"})
	if errdefs.KindOf(err) != errdefs.KindConfiguration {
		t.Errorf("kind = %v, want Configuration", errdefs.KindOf(err))
	}
}

func TestEmbed(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"data": [
				{"embedding": [0.1, 0.2, 0.3], "index": 0},
				{"embedding": [0.4, 0.5, 0.6], "index": 1}
			],
			"usage": {"prompt_tokens": 8, "total_tokens": 8}
		}`)
	}))

	vecs, err := c.Embed(context.Background(), []string{"one", "two"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(vecs) != 2 || len(vecs[0]) != 3 {
		t.Fatalf("got %d vectors of dim %d, want 2 of 3", len(vecs), len(vecs[0]))
	}
	if c.Budget().Spent() != 8 {
		t.Errorf("budget spent = %d, want 8", c.Budget().Spent())
	}
}
