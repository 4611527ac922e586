package skills

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/aria-ai/aria/internal/config"
	"github.com/aria-ai/aria/internal/errdefs"
	"github.com/aria-ai/aria/internal/observability"
	"github.com/aria-ai/aria/internal/ratelimit"
	"github.com/aria-ai/aria/pkg/models"
)

// degradeThreshold is the consecutive failure count that marks a skill
// degraded.
const degradeThreshold = 3

// Registry owns every registered skill and mediates all invocations.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry

	limiter *ratelimit.Limiter
	auditor *Auditor
	logger  *observability.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

type entry struct {
	skill    Skill
	status   Status
	settings config.SkillSettings
	tools    map[string]*toolEntry
	failures int // consecutive, reset on success
	lastErr  error
}

type toolEntry struct {
	tool     Tool
	compiled *jsonschema.Schema
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithLogger sets the structured logger.
func WithLogger(l *observability.Logger) RegistryOption {
	return func(r *Registry) { r.logger = l }
}

// WithMetrics sets the metrics collectors.
func WithMetrics(m *observability.Metrics) RegistryOption {
	return func(r *Registry) { r.metrics = m }
}

// WithAuditor sets the invocation audit sink.
func WithAuditor(a *Auditor) RegistryOption {
	return func(r *Registry) { r.auditor = a }
}

// WithClock injects the clock for tests.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		entries: make(map[string]*entry),
		logger:  observability.NewLogger(observability.LogConfig{}),
		metrics: observability.NopMetrics(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.limiter = ratelimit.NewLimiterAt(r.now)
	return r
}

// Register adds a skill under its descriptor settings. Duplicate names,
// invalid schemas, and handler/schema signature drift all fail here.
// Disabled skills register in StatusDisabled and fail fast on invoke.
func (r *Registry) Register(ctx context.Context, s Skill, settings config.SkillSettings) error {
	name := s.Name()
	if name == "" {
		return errdefs.New(errdefs.KindConfiguration, "skill name must not be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[name]; exists {
		return errdefs.New(errdefs.KindDuplicate, "skill %q is already registered", name)
	}

	e := &entry{
		skill:    s,
		status:   StatusUninitialized,
		settings: settings,
		tools:    make(map[string]*toolEntry),
	}
	for _, tool := range s.Tools() {
		if _, dup := e.tools[tool.Name]; dup {
			return errdefs.New(errdefs.KindDuplicate,
				"skill %q declares tool %q twice", name, tool.Name)
		}
		if err := checkSignature(name, tool); err != nil {
			return err
		}
		compiled, err := jsonschema.CompileString(name+"/"+tool.Name+".json", string(tool.Schema))
		if err != nil {
			return errdefs.Wrap(errdefs.KindConfiguration, err,
				"skill %q tool %q: schema does not compile", name, tool.Name)
		}
		e.tools[tool.Name] = &toolEntry{tool: tool, compiled: compiled}
	}

	if !settings.Enabled {
		e.status = StatusDisabled
		r.entries[name] = e
		r.logger.Info(ctx, "skill registered disabled", "skill", name)
		return nil
	}

	if err := s.Initialize(ctx, settings); err != nil {
		e.lastErr = err
		r.entries[name] = e
		r.logger.Warn(ctx, "skill failed to initialize", "skill", name, "error", err)
		return errdefs.Wrap(errdefs.KindConfiguration, err, "initialize skill %q", name)
	}

	e.status = StatusReady
	r.limiter.Register(name, settings.MaxPerMinute)
	r.entries[name] = e
	r.logger.Info(ctx, "skill registered", "skill", name,
		"tools", len(e.tools), "max_per_minute", settings.MaxPerMinute)
	return nil
}

// Info is a skill's registry view.
type Info struct {
	Name   string
	Layer  Layer
	Status Status
	Tools  []Tool
}

// List returns every skill in stable name order.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]Info, 0, len(names))
	for _, name := range names {
		e := r.entries[name]
		info := Info{Name: name, Layer: e.skill.Layer(), Status: e.status}
		toolNames := make([]string, 0, len(e.tools))
		for tn := range e.tools {
			toolNames = append(toolNames, tn)
		}
		sort.Strings(toolNames)
		for _, tn := range toolNames {
			info.Tools = append(info.Tools, e.tools[tn].tool)
		}
		out = append(out, info)
	}
	return out
}

// Status returns a skill's current status.
func (r *Registry) Status(name string) (Status, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return "", errdefs.New(errdefs.KindNotFound, "skill %q is not registered", name)
	}
	return e.status, nil
}

// RetryAfter reports how long until the skill's bucket has a token.
func (r *Registry) RetryAfter(name string) time.Duration {
	return r.limiter.RetryAfter(name)
}

// Invoke runs one tool call through the full gate sequence: status,
// rate limit, schema validation, execution, audit.
func (r *Registry) Invoke(ctx context.Context, skillName, toolName string, args json.RawMessage) (json.RawMessage, error) {
	r.mu.RLock()
	e, ok := r.entries[skillName]
	if !ok {
		r.mu.RUnlock()
		return nil, errdefs.New(errdefs.KindNotFound, "skill %q is not registered", skillName)
	}
	status := e.status
	te, toolOK := e.tools[toolName]
	r.mu.RUnlock()

	switch status {
	case StatusDisabled:
		return nil, errdefs.New(errdefs.KindUnavailable, "skill %q is disabled", skillName)
	case StatusUninitialized:
		return nil, errdefs.New(errdefs.KindUnavailable, "skill %q is not initialized", skillName)
	case StatusDegraded:
		return nil, errdefs.New(errdefs.KindUnavailable, "skill %q is degraded", skillName)
	}
	if !toolOK {
		return nil, errdefs.New(errdefs.KindNotFound,
			"skill %q has no tool %q", skillName, toolName)
	}

	if !r.limiter.Allow(skillName) {
		r.metrics.RateLimited.WithLabelValues(skillName).Inc()
		return nil, errdefs.New(errdefs.KindRateLimited,
			"skill %q rate limited, retry in %s", skillName, r.limiter.RetryAfter(skillName).Round(time.Millisecond))
	}

	if err := validateArgs(te.compiled, args); err != nil {
		return nil, errdefs.Wrap(errdefs.KindValidation, err,
			"skill %q tool %q: invalid arguments", skillName, toolName)
	}

	started := r.now()
	result, invokeErr := e.skill.Invoke(ctx, toolName, args)
	ended := r.now()
	latency := ended.Sub(started)

	outcome := "success"
	errText := ""
	if invokeErr != nil {
		outcome = string(errdefs.KindOf(invokeErr))
		errText = invokeErr.Error()
	}
	r.metrics.SkillInvocations.WithLabelValues(skillName, toolName, outcome).Inc()
	r.metrics.SkillLatency.WithLabelValues(skillName).Observe(latency.Seconds())

	if r.auditor != nil {
		r.auditor.Record(&models.SkillInvocation{
			Skill:     skillName,
			Tool:      toolName,
			ArgsHash:  argsHash(args),
			Success:   invokeErr == nil,
			LatencyMS: latency.Milliseconds(),
			Error:     errText,
			SessionID: observability.SessionIDFrom(ctx),
			StartedAt: started.UTC(),
			EndedAt:   ended.UTC(),
		})
	}

	r.trackHealth(ctx, skillName, invokeErr)
	if invokeErr != nil {
		return nil, invokeErr
	}
	return result, nil
}

// trackHealth counts consecutive failures and marks the skill degraded
// at the threshold. A degraded skill is fenced off from traffic; only a
// passing health check in RunHealthChecks restores it. Cancellation
// doesn't count against the skill.
func (r *Registry) trackHealth(ctx context.Context, name string, invokeErr error) {
	if errdefs.KindOf(invokeErr) == errdefs.KindCancelled {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok {
		return
	}
	if invokeErr == nil {
		e.failures = 0
		e.lastErr = nil
		return
	}
	e.failures++
	e.lastErr = invokeErr
	if e.failures >= degradeThreshold && e.status == StatusReady {
		e.status = StatusDegraded
		r.logger.Warn(ctx, "skill degraded", "skill", name,
			"consecutive_failures", e.failures, "error", invokeErr)
	}
}

// ApplyDescriptor re-applies skill enablement from a reloaded tools
// descriptor. Skills flipped off go disabled immediately; skills flipped
// on initialize with their new settings. Skills absent from the
// descriptor are treated as disabled. Registration itself never changes
// here, only status and limits.
func (r *Registry) ApplyDescriptor(ctx context.Context, td *config.ToolsDescriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for name, e := range r.entries {
		settings, found := td.Settings(name)
		enabled := found && settings.Enabled

		switch {
		case !enabled && e.status != StatusDisabled:
			e.status = StatusDisabled
			r.logger.Info(ctx, "skill disabled by descriptor reload", "skill", name)
		case enabled && e.status == StatusDisabled:
			if err := e.skill.Initialize(ctx, settings); err != nil {
				e.lastErr = err
				e.status = StatusUninitialized
				r.logger.Warn(ctx, "skill failed to re-enable", "skill", name, "error", err)
				continue
			}
			e.settings = settings
			e.status = StatusReady
			e.failures = 0
			r.limiter.Register(name, settings.MaxPerMinute)
			r.logger.Info(ctx, "skill enabled by descriptor reload",
				"skill", name, "max_per_minute", settings.MaxPerMinute)
		case enabled:
			if settings.MaxPerMinute != e.settings.MaxPerMinute {
				r.limiter.Register(name, settings.MaxPerMinute)
				r.logger.Info(ctx, "skill rate limit updated",
					"skill", name, "max_per_minute", settings.MaxPerMinute)
			}
			e.settings = settings
		}
	}
}

// RunHealthChecks probes every non-disabled skill and restores degraded
// skills whose checks pass. The heartbeat scheduler calls this.
func (r *Registry) RunHealthChecks(ctx context.Context) {
	r.mu.RLock()
	names := make([]string, 0, len(r.entries))
	for name, e := range r.entries {
		if e.status != StatusDisabled {
			names = append(names, name)
		}
	}
	r.mu.RUnlock()
	sort.Strings(names)

	for _, name := range names {
		r.mu.RLock()
		e := r.entries[name]
		skill := e.skill
		r.mu.RUnlock()

		err := skill.HealthCheck(ctx)

		r.mu.Lock()
		switch {
		case err == nil && e.status == StatusDegraded:
			e.status = StatusReady
			e.failures = 0
			e.lastErr = nil
			r.logger.Info(ctx, "skill recovered via health check", "skill", name)
		case err == nil && e.status == StatusUninitialized:
			// Initialization failed earlier but the dependency is back.
			if initErr := skill.Initialize(ctx, e.settings); initErr == nil {
				e.status = StatusReady
				r.limiter.Register(name, e.settings.MaxPerMinute)
				r.logger.Info(ctx, "skill initialized late", "skill", name)
			}
		case err != nil && e.status == StatusReady:
			e.status = StatusDegraded
			e.lastErr = err
			r.logger.Warn(ctx, "skill failed health check", "skill", name, "error", err)
		}
		r.mu.Unlock()
	}
}

func validateArgs(schema *jsonschema.Schema, args json.RawMessage) error {
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	var decoded any
	if err := json.Unmarshal(args, &decoded); err != nil {
		return fmt.Errorf("args are not valid JSON: %w", err)
	}
	return schema.Validate(decoded)
}
