// Package backoff provides exponential backoff with jitter for the runtime's
// retry policy, plus a kind-aware retry helper.
package backoff

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Policy defines the parameters for exponential backoff calculation.
type Policy struct {
	// InitialMs is the initial backoff duration in milliseconds.
	InitialMs float64
	// MaxMs is the maximum backoff duration in milliseconds.
	MaxMs float64
	// Factor is the exponential factor applied per attempt.
	Factor float64
	// Jitter is the randomization factor (0.0 to 1.0) applied to the backoff.
	Jitter float64
}

// Compute calculates the backoff for a given attempt number (1-indexed):
// base = InitialMs * Factor^(attempt-1), plus base*Jitter*random, capped at MaxMs.
func Compute(policy Policy, attempt int) time.Duration {
	return ComputeWithRand(policy, attempt, rand.Float64()) // #nosec G404 -- jitter does not require cryptographic randomness
}

// ComputeWithRand calculates the backoff with a caller-supplied random value
// in [0.0, 1.0). Used by tests for deterministic results.
func ComputeWithRand(policy Policy, attempt int, randomValue float64) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	base := policy.InitialMs * math.Pow(policy.Factor, exp)
	jitter := base * policy.Jitter * randomValue
	total := math.Min(policy.MaxMs, base+jitter)
	return time.Duration(math.Round(total)) * time.Millisecond
}

// Default returns the policy used for router and store retries.
// Initial: 100ms, Max: 30s, Factor: 2, Jitter: 10%
func Default() Policy {
	return Policy{InitialMs: 100, MaxMs: 30000, Factor: 2, Jitter: 0.1}
}

// Conservative returns the policy used for startup store connection attempts.
// Initial: 500ms, Max: 60s, Factor: 2.5, Jitter: 20%
func Conservative() Policy {
	return Policy{InitialMs: 500, MaxMs: 60000, Factor: 2.5, Jitter: 0.2}
}

// Sleep waits the computed backoff for the attempt, returning early with the
// context error on cancellation.
func Sleep(ctx context.Context, policy Policy, attempt int) error {
	d := Compute(policy, attempt)
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
