package router

import (
	"context"

	"github.com/aria-ai/aria/internal/backoff"
	"github.com/aria-ai/aria/internal/errdefs"
)

// modelAttempts is each model's call budget in a fallback chain: one
// retry with backoff on transient kinds, then the chain fails over.
const modelAttempts = 2

// Attempt records one failed model in a fallback chain.
type Attempt struct {
	Model string
	Kind  errdefs.Kind
	Err   error
}

// FallbackResult is the successful response plus the failures that
// preceded it.
type FallbackResult struct {
	Response *ChatResponse
	Model    string
	Attempts []Attempt
}

// ChatWithFallback tries the request's model, then each fallback in
// order. A model that fails with a transient kind (429, 5xx, timeout)
// is retried once with backoff before the chain moves on; failover
// also happens on model-shape mismatches (incompatible or uncataloged
// models). Permanent request errors, budget exhaustion, and
// cancellation stop the chain.
func (c *Client) ChatWithFallback(ctx context.Context, req ChatRequest, fallbacks ...string) (*FallbackResult, error) {
	chain := append([]string{req.Model}, fallbacks...)
	var attempts []Attempt

	for _, model := range chain {
		if ctx.Err() != nil {
			return nil, errdefs.Wrap(errdefs.KindCancelled, ctx.Err(), "fallback chain cancelled")
		}
		attempt := req
		attempt.Model = model
		resp, err := backoff.Retry(ctx, backoff.Default(), modelAttempts,
			func(int) (*ChatResponse, error) {
				return c.Chat(ctx, attempt)
			})
		if err == nil {
			return &FallbackResult{Response: resp, Model: model, Attempts: attempts}, nil
		}

		kind := errdefs.KindOf(err)
		attempts = append(attempts, Attempt{Model: model, Kind: kind, Err: err})
		switch kind {
		case errdefs.KindRateLimited, errdefs.KindRetryable, errdefs.KindUnavailable,
			errdefs.KindIncompatibleModel, errdefs.KindConfiguration:
			continue
		default:
			return nil, err
		}
	}

	last := attempts[len(attempts)-1]
	return nil, errdefs.Wrap(last.Kind, last.Err,
		"all %d models in the fallback chain failed", len(chain))
}
