package router

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"github.com/aria-ai/aria/internal/errdefs"
)

func TestFallbackChainRecoversFromUpstreamError(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Model string `json:"model"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.Model == "chat-large" {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprint(w, `{"error": {"message": "down"}}`)
			return
		}
		chatOK(w, r)
	}))

	res, err := c.ChatWithFallback(context.Background(),
		ChatRequest{Model: "chat-large", Messages: []Message{{Role: "user", Content: "hi"}}},
		"chat-small")
	if err != nil {
		t.Fatalf("fallback: %v", err)
	}
	if res.Model != "chat-small" {
		t.Errorf("served by %s, want chat-small", res.Model)
	}
	if len(res.Attempts) != 1 || res.Attempts[0].Model != "chat-large" {
		t.Errorf("attempts = %+v, want one failed chat-large attempt", res.Attempts)
	}
}

func TestFallbackStopsOnPermanentError(t *testing.T) {
	calls := 0
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error": {"message": "malformed"}}`)
	}))

	_, err := c.ChatWithFallback(context.Background(),
		ChatRequest{Model: "chat-large"}, "chat-small")
	if errdefs.KindOf(err) != errdefs.KindPermanent {
		t.Fatalf("kind = %v, want Permanent", errdefs.KindOf(err))
	}
	if calls != 1 {
		t.Errorf("made %d calls, want 1: a permanent error must not fail over", calls)
	}
}

func TestFallbackRetriesPrimaryBeforeFailingOver(t *testing.T) {
	hits := map[string]int{}
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Model string `json:"model"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		hits[body.Model]++
		if body.Model == "chat-large" {
			w.WriteHeader(http.StatusTooManyRequests)
			fmt.Fprint(w, `{"error": {"message": "slow down"}}`)
			return
		}
		chatOK(w, r)
	}))

	res, err := c.ChatWithFallback(context.Background(),
		ChatRequest{Model: "chat-large", Messages: []Message{{Role: "user", Content: "hi"}}},
		"chat-small")
	if err != nil {
		t.Fatalf("fallback: %v", err)
	}
	if res.Model != "chat-small" {
		t.Errorf("served by %s, want chat-small", res.Model)
	}
	if hits["chat-large"] != modelAttempts {
		t.Errorf("primary hit %d times, want %d before failover", hits["chat-large"], modelAttempts)
	}
	if hits["chat-small"] != 1 {
		t.Errorf("fallback hit %d times, want 1", hits["chat-small"])
	}
}

func TestFallbackRecoversOnPrimaryRetry(t *testing.T) {
	hits := map[string]int{}
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Model string `json:"model"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		hits[body.Model]++
		if body.Model == "chat-large" && hits["chat-large"] == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprint(w, `{"error": {"message": "blip"}}`)
			return
		}
		chatOK(w, r)
	}))

	res, err := c.ChatWithFallback(context.Background(),
		ChatRequest{Model: "chat-large", Messages: []Message{{Role: "user", Content: "hi"}}},
		"chat-small")
	if err != nil {
		t.Fatalf("fallback: %v", err)
	}
	if res.Model != "chat-large" {
		t.Errorf("served by %s, want the retried primary", res.Model)
	}
	if len(res.Attempts) != 0 {
		t.Errorf("attempts = %+v, want none: the retry is not a failover", res.Attempts)
	}
	if hits["chat-small"] != 0 {
		t.Errorf("fallback hit %d times, want 0", hits["chat-small"])
	}
}

func TestFallbackExhaustionWrapsLastError(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error": {"message": "slow down"}}`)
	}))

	_, err := c.ChatWithFallback(context.Background(),
		ChatRequest{Model: "chat-large"}, "chat-small")
	if err == nil {
		t.Fatal("expected exhaustion error")
	}
	if errdefs.KindOf(err) != errdefs.KindRateLimited {
		t.Errorf("kind = %v, want the last attempt's kind", errdefs.KindOf(err))
	}
}
