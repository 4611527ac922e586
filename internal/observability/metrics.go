package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the runtime's prometheus collectors.
type Metrics struct {
	// SkillInvocations counts invocations by skill, tool, and outcome.
	SkillInvocations *prometheus.CounterVec

	// SkillLatency observes invocation latency by skill.
	SkillLatency *prometheus.HistogramVec

	// PipelineLatency observes end-to-end cognition pipeline latency.
	PipelineLatency prometheus.Histogram

	// SchedulerRuns counts heartbeat job runs by job and outcome.
	SchedulerRuns *prometheus.CounterVec

	// RouterTokens counts tokens spent by model and direction.
	RouterTokens *prometheus.CounterVec

	// RateLimited counts invocations rejected by the per-skill bucket.
	RateLimited *prometheus.CounterVec
}

// NewMetrics creates and registers the collectors on the given registerer.
// Pass prometheus.NewRegistry() in tests to avoid global state.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SkillInvocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aria_skill_invocations_total",
			Help: "Skill invocations by skill, tool, and outcome.",
		}, []string{"skill", "tool", "outcome"}),
		SkillLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aria_skill_latency_seconds",
			Help:    "Skill invocation latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"skill"}),
		PipelineLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "aria_pipeline_latency_seconds",
			Help:    "Cognition pipeline end-to-end latency.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		SchedulerRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aria_scheduler_runs_total",
			Help: "Heartbeat job runs by job and outcome.",
		}, []string{"job", "outcome"}),
		RouterTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aria_router_tokens_total",
			Help: "Tokens spent through the model router by model and direction.",
		}, []string{"model", "direction"}),
		RateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aria_rate_limited_total",
			Help: "Invocations rejected by the per-skill token bucket.",
		}, []string{"skill"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.SkillInvocations,
			m.SkillLatency,
			m.PipelineLatency,
			m.SchedulerRuns,
			m.RouterTokens,
			m.RateLimited,
		)
	}
	return m
}

// NopMetrics returns unregistered collectors for tests and tools that do
// not expose a metrics endpoint.
func NopMetrics() *Metrics {
	return NewMetrics(nil)
}
