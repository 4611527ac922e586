package ratelimit

import (
	"testing"
	"time"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestBucketStartsFull(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)}
	b := newBucketAt(6, clock.now)

	for i := 0; i < 6; i++ {
		if !b.Allow() {
			t.Fatalf("call %d should be allowed", i)
		}
	}
	if b.Allow() {
		t.Fatal("bucket should be empty after burst")
	}
}

func TestBucketRefillRate(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)}
	b := newBucketAt(60, clock.now) // 1 token/second

	for i := 0; i < 60; i++ {
		b.Allow()
	}
	if b.Allow() {
		t.Fatal("bucket should be empty")
	}

	clock.advance(time.Second)
	if !b.Allow() {
		t.Fatal("one token should have refilled after 1s")
	}
	if b.Allow() {
		t.Fatal("only one token should have refilled")
	}
}

func TestBucketCapacityClamp(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)}
	b := newBucketAt(10, clock.now)

	clock.advance(time.Hour)
	if got := b.Tokens(); got != 10 {
		t.Errorf("Tokens() = %v, want capacity clamp at 10", got)
	}
}

func TestBucketRetryAfter(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)}
	b := newBucketAt(60, clock.now)

	if wait := b.RetryAfter(); wait != 0 {
		t.Errorf("RetryAfter() = %v, want 0 for full bucket", wait)
	}
	for i := 0; i < 60; i++ {
		b.Allow()
	}
	wait := b.RetryAfter()
	if wait <= 0 || wait > time.Second {
		t.Errorf("RetryAfter() = %v, want (0, 1s]", wait)
	}
}

// Rate-limit soundness: over a window of W seconds, successful invocations
// are bounded by maxPerMinute*(W/60) + burst capacity.
func TestLimiterWindowBound(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)}
	l := NewLimiterAt(clock.now)
	l.Register("knowledge_graph", 30)

	allowed := 0
	for step := 0; step < 1200; step++ { // 120s at 100ms steps
		if l.Allow("knowledge_graph") {
			allowed++
		}
		clock.advance(100 * time.Millisecond)
	}

	// 30/min over 120s = 60 refilled, plus 30 burst.
	if allowed > 90 {
		t.Errorf("allowed %d invocations, want <= 90", allowed)
	}
	if allowed < 60 {
		t.Errorf("allowed %d invocations, want >= 60", allowed)
	}
}

func TestLimiterUnregisteredUnlimited(t *testing.T) {
	l := NewLimiter()
	for i := 0; i < 1000; i++ {
		if !l.Allow("unknown") {
			t.Fatal("unregistered skill should never be limited")
		}
	}
	if l.RetryAfter("unknown") != 0 {
		t.Error("unregistered skill should have zero wait")
	}
}
