package cognition

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/aria-ai/aria/internal/config"
	"github.com/aria-ai/aria/internal/errdefs"
	"github.com/aria-ai/aria/internal/router"
)

// RouterModel adapts the router client to the pipeline's model-facing
// interfaces: reply composition, sentiment classification, compression
// summaries, and embeddings. Replies route through the task's agent
// models when declared; the ancillary calls use the catalog defaults.
type RouterModel struct {
	client  *router.Client
	catalog *config.Catalog
}

// NewRouterModel wires the router client and the model catalog.
func NewRouterModel(client *router.Client, catalog *config.Catalog) *RouterModel {
	return &RouterModel{client: client, catalog: catalog}
}

// Embed delegates to the router's embedding endpoint.
func (m *RouterModel) Embed(ctx context.Context, inputs []string) ([][]float32, error) {
	return m.client.Embed(ctx, inputs)
}

// Reply composes the assistant reply. The choice's primary model is
// tried first and its fallback scopes the failover to that task; a
// choice with no declared models uses the catalog chain.
func (m *RouterModel) Reply(ctx context.Context, choice ModelChoice, system, user string) (string, error) {
	primary := choice.Primary
	if primary == "" {
		primary = m.catalog.Primary
	}
	fallbacks := m.catalog.Fallbacks
	if choice.Fallback != "" {
		fallbacks = []string{choice.Fallback}
	}

	res, err := m.client.ChatWithFallback(ctx, router.ChatRequest{
		Model:    primary,
		System:   system,
		Messages: []router.Message{{Role: "user", Content: user}},
	}, fallbacks...)
	if err != nil {
		return "", err
	}
	return res.Response.Content, nil
}

const classifyPrompt = `Classify the emotional tone of the user message. Respond with only a JSON object: {"valence": v, "arousal": a, "dominance": d} where each value is between -1 and 1.`

// ClassifySentiment asks the model for a structured VAD estimate.
func (m *RouterModel) ClassifySentiment(ctx context.Context, text string) (Score, error) {
	res, err := m.client.ChatWithFallback(ctx, router.ChatRequest{
		Model:       m.catalog.Primary,
		System:      classifyPrompt,
		Messages:    []router.Message{{Role: "user", Content: text}},
		MaxTokens:   64,
		Temperature: 0,
	}, m.catalog.Fallbacks...)
	if err != nil {
		return Score{}, err
	}

	raw := strings.TrimSpace(res.Response.Content)
	if start := strings.IndexByte(raw, '{'); start >= 0 {
		if end := strings.LastIndexByte(raw, '}'); end > start {
			raw = raw[start : end+1]
		}
	}
	var score Score
	if err := json.Unmarshal([]byte(raw), &score); err != nil {
		return Score{}, errdefs.Wrap(errdefs.KindValidation, err, "unparseable sentiment classification")
	}
	score.Confidence = 0.8
	return score, nil
}

// Summarize asks the model for a compression summary.
func (m *RouterModel) Summarize(ctx context.Context, instructions string, texts []string) (string, error) {
	res, err := m.client.ChatWithFallback(ctx, router.ChatRequest{
		Model:       m.catalog.Primary,
		System:      instructions,
		Messages:    []router.Message{{Role: "user", Content: strings.Join(texts, "\n---\n")}},
		Temperature: 0,
	}, m.catalog.Fallbacks...)
	if err != nil {
		return "", err
	}
	return res.Response.Content, nil
}
