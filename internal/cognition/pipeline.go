package cognition

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/aria-ai/aria/internal/backoff"
	"github.com/aria-ai/aria/internal/config"
	"github.com/aria-ai/aria/internal/coordinator"
	"github.com/aria-ai/aria/internal/errdefs"
	"github.com/aria-ai/aria/internal/observability"
	"github.com/aria-ai/aria/internal/sessions"
	"github.com/aria-ai/aria/internal/store"
	"github.com/aria-ai/aria/pkg/models"
)

// ModelChoice names the chat models for one reply. Empty fields fall
// back to the catalog defaults, so a persona without declared models
// still gets served.
type ModelChoice struct {
	Primary  string
	Fallback string
}

// ChatModel composes the assistant reply.
type ChatModel interface {
	Reply(ctx context.Context, choice ModelChoice, system, user string) (string, error)
}

// Invoker runs one tool call. The skill registry satisfies this.
type Invoker interface {
	Invoke(ctx context.Context, skill, tool string, args json.RawMessage) (json.RawMessage, error)
}

// AgentSelector picks a persona for the message. The coordinator
// satisfies this.
type AgentSelector interface {
	Select(ctx context.Context, task coordinator.Task) (*models.AgentProfile, error)
}

// PlanStep is one declared tool call in a skill plan.
type PlanStep struct {
	Skill string
	Tool  string
	Args  json.RawMessage

	// Critical aborts the plan on failure; non-critical failures are
	// recorded and skipped.
	Critical bool
}

// PlanInput is what a planner sees for one message.
type PlanInput struct {
	Message string
	Tone    Tone
	Agent   *models.AgentProfile
	Context []Item
}

// Planner chooses the skill plan for a message. Plans are explicit
// lists; there is no implicit chaining.
type Planner interface {
	Plan(ctx context.Context, in PlanInput) ([]PlanStep, error)
}

// NopPlanner plans nothing; the reply comes straight from the model.
type NopPlanner struct{}

func (NopPlanner) Plan(context.Context, PlanInput) ([]PlanStep, error) { return nil, nil }

// StepResult is the outcome of one executed plan step.
type StepResult struct {
	Step   PlanStep
	Output json.RawMessage
	Err    error
}

// Reply is the pipeline's answer for one message.
type Reply struct {
	Text    string
	Tone    Tone
	Refused bool
	AgentID string
	Steps   []StepResult
}

// Deps wires the pipeline's collaborators. Guard and Planner default
// when nil; Selector, Model, and Compressor are optional.
type Deps struct {
	Guard      *Guard
	Analyzer   *Analyzer
	Retriever  *Retriever
	Selector   AgentSelector
	Invoker    Invoker
	Planner    Planner
	Model      ChatModel
	Sessions   *sessions.Manager
	Store      *store.Store
	Compressor *Compressor

	// MainSessionID prefixes the synthetic session ids used for
	// heartbeat messages.
	MainSessionID string
}

// Pipeline processes one user message (or one heartbeat message)
// end to end. Admission is bounded by MaxInFlight.
type Pipeline struct {
	guard      *Guard
	analyzer   *Analyzer
	retriever  *Retriever
	selector   AgentSelector
	invoker    Invoker
	planner    Planner
	model      ChatModel
	sessions   *sessions.Manager
	activities *store.ActivityStore
	memories   *store.MemoryStore
	compressor *Compressor
	logger     *observability.Logger
	metrics    *observability.Metrics
	now        func() time.Time

	sem                  chan struct{}
	compressionThreshold int
	compressing          atomic.Bool
	mainSessionID        string
}

// PipelineOption configures the pipeline.
type PipelineOption func(*Pipeline)

// WithLogger sets the structured logger.
func WithLogger(l *observability.Logger) PipelineOption {
	return func(p *Pipeline) { p.logger = l }
}

// WithMetrics sets the metrics collectors.
func WithMetrics(m *observability.Metrics) PipelineOption {
	return func(p *Pipeline) { p.metrics = m }
}

// WithClock injects the clock for tests.
func WithClock(now func() time.Time) PipelineOption {
	return func(p *Pipeline) { p.now = now }
}

// NewPipeline builds the pipeline from its collaborators.
func NewPipeline(cfg config.PipelineConfig, deps Deps, opts ...PipelineOption) (*Pipeline, error) {
	if deps.Sessions == nil || deps.Store == nil {
		return nil, errdefs.New(errdefs.KindConfiguration, "pipeline needs sessions and store")
	}
	guard := deps.Guard
	if guard == nil {
		var err error
		guard, err = NewGuard(GuardPolicy{})
		if err != nil {
			return nil, err
		}
	}
	planner := deps.Planner
	if planner == nil {
		planner = NopPlanner{}
	}
	analyzer := deps.Analyzer
	if analyzer == nil {
		analyzer = NewAnalyzer(nil)
	}
	maxInFlight := cfg.MaxInFlight
	if maxInFlight <= 0 {
		maxInFlight = 16
	}
	threshold := cfg.CompressionThreshold
	if threshold <= 0 {
		threshold = 100
	}
	mainID := deps.MainSessionID
	if mainID == "" {
		mainID = "main"
	}

	p := &Pipeline{
		guard:                guard,
		analyzer:             analyzer,
		retriever:            deps.Retriever,
		selector:             deps.Selector,
		invoker:              deps.Invoker,
		planner:              planner,
		model:                deps.Model,
		sessions:             deps.Sessions,
		activities:           deps.Store.Activities,
		memories:             deps.Store.Memories,
		compressor:           deps.Compressor,
		logger:               observability.NewLogger(observability.LogConfig{}),
		metrics:              observability.NopMetrics(),
		now:                  time.Now,
		sem:                  make(chan struct{}, maxInFlight),
		compressionThreshold: threshold,
		mainSessionID:        mainID,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Process runs the full step sequence for one message.
func (p *Pipeline) Process(ctx context.Context, sessionID, text string) (*Reply, error) {
	select {
	case p.sem <- struct{}{}:
		defer func() { <-p.sem }()
	case <-ctx.Done():
		return nil, errdefs.Wrap(errdefs.KindCancelled, ctx.Err(), "pipeline admission")
	}
	start := p.now()
	defer func() {
		p.metrics.PipelineLatency.Observe(p.now().Sub(start).Seconds())
	}()

	ctx = observability.WithCorrelationID(ctx, uuid.NewString())
	ctx = observability.WithSessionID(ctx, sessionID)

	if _, err := p.sessions.Ensure(ctx, sessionID); err != nil {
		return nil, err
	}

	// Step 1: boundary guard.
	verdict := p.guard.Check(text)
	if !verdict.Allowed {
		p.recordActivity(ctx, sessionID, "message_refused",
			map[string]any{"reason": verdict.Reason})
		return &Reply{Refused: true, Text: RefusalMessage, Tone: ToneNeutral}, nil
	}
	text = verdict.Text

	// Step 2: sentiment.
	score := p.analyzer.Analyze(ctx, text)
	tone := ToneFor(score)

	ws, err := p.sessions.Working(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if raw, mErr := json.Marshal(score); mErr == nil {
		ws.Put("last_sentiment", raw, models.CategorySentiment, 0.3)
	}

	// Step 3: memory retrieval.
	var contextItems []Item
	if p.retriever != nil {
		contextItems = p.retriever.Context(ctx, text, ws.Snapshot())
	}

	// Step 4: agent selection. An empty roster is not an error for the
	// message; the pipeline answers without a persona.
	var agent *models.AgentProfile
	if p.selector != nil {
		agent, err = p.selector.Select(ctx, coordinator.Task{
			Description: text,
			Tags:        keywords(text),
		})
		if err != nil {
			if errdefs.KindOf(err) != errdefs.KindUnavailable {
				return nil, err
			}
			agent = nil
		}
	}

	// Step 5: skill plan.
	steps, err := p.planner.Plan(ctx, PlanInput{
		Message: text, Tone: tone, Agent: agent, Context: contextItems,
	})
	if err != nil {
		return nil, err
	}

	// Step 6: invocation. Non-critical failures are recorded and the
	// plan continues; a critical failure aborts with partial results.
	reply := &Reply{Tone: tone}
	if agent != nil {
		reply.AgentID = agent.ID
	}
	aborted := false
	for _, step := range steps {
		var out json.RawMessage
		var stepErr error
		if p.invoker == nil {
			stepErr = errdefs.New(errdefs.KindUnavailable, "no skill registry attached")
		} else {
			out, stepErr = p.invoke(ctx, step.Skill, step.Tool, step.Args)
		}
		reply.Steps = append(reply.Steps, StepResult{Step: step, Output: out, Err: stepErr})
		if stepErr != nil {
			p.recordActivity(ctx, sessionID, "step_failed", map[string]any{
				"skill": step.Skill, "tool": step.Tool,
				"kind": string(errdefs.KindOf(stepErr)), "critical": step.Critical,
			})
			if step.Critical {
				aborted = true
				reply.Text = userMessageFor(errdefs.KindOf(stepErr))
				break
			}
		}
	}

	// Compose the reply unless a critical step already decided it.
	if !aborted {
		reply.Text = p.compose(ctx, text, tone, agent, contextItems, reply.Steps)
	}

	// Step 7: persist.
	p.recordActivity(ctx, sessionID, "message_processed", map[string]any{
		"message": text,
		"reply":   reply.Text,
		"tone":    string(tone),
	})
	if err := ws.MessageBoundary(ctx); err != nil {
		p.logger.Warn(ctx, "checkpoint failed", "error", err)
	}
	if err := p.sessions.Touch(ctx, sessionID); err != nil {
		p.logger.Warn(ctx, "session touch failed", "error", err)
	}

	// Step 8: compression trigger.
	p.maybeCompress(ctx)

	return reply, nil
}

// compose builds the assistant reply via the model, falling back to a
// canned acknowledgement when no model is attached or the call fails.
func (p *Pipeline) compose(ctx context.Context, text string, tone Tone, agent *models.AgentProfile, items []Item, steps []StepResult) string {
	if p.model == nil {
		return "Noted."
	}
	var b strings.Builder
	if agent != nil {
		fmt.Fprintf(&b, "You are acting as the %s persona.\n", agent.Role)
	}
	b.WriteString(toneDirectives[tone])
	if len(items) > 0 {
		b.WriteString("\nRelevant context:\n")
		b.WriteString(Render(items))
	}
	for _, res := range steps {
		if res.Err == nil && len(res.Output) > 0 {
			fmt.Fprintf(&b, "\nResult of %s.%s: %s\n", res.Step.Skill, res.Step.Tool, string(res.Output))
		}
	}

	var choice ModelChoice
	if agent != nil {
		choice = ModelChoice{Primary: agent.PrimaryModel, Fallback: agent.FallbackModel}
	}
	out, err := p.model.Reply(ctx, choice, b.String(), text)
	if err != nil {
		p.logger.Warn(ctx, "reply composition failed",
			"kind", string(errdefs.KindOf(err)), "error", err)
		return userMessageFor(errdefs.KindOf(err))
	}
	return out
}

var toneDirectives = map[Tone]string{
	ToneEmpathetic:  "The user sounds distressed. Acknowledge the difficulty before answering.",
	ToneStepByStep:  "The user sounds unsure. Answer as a short numbered list of concrete steps.",
	ToneCelebratory: "The user shares good news. Open with genuine congratulations.",
	ToneNeutral:     "Answer plainly and directly.",
}

// userMessageFor maps an error kind to the user-visible message.
func userMessageFor(kind errdefs.Kind) string {
	switch kind {
	case errdefs.KindProtected:
		return "I can't do that: the target is protected."
	case errdefs.KindRateLimited, errdefs.KindUnavailable:
		return "That service is degraded right now. Please try again shortly."
	case errdefs.KindRetryable:
		return "Something went wrong on my side. It is worth retrying in a moment."
	case errdefs.KindBudgetExceeded:
		return "I've hit today's usage budget; I can only use local capabilities until it resets."
	case errdefs.KindValidation:
		return "I couldn't act on that: the request didn't validate."
	default:
		return "Something unexpected went wrong. I've noted it for review."
	}
}

// stepAttempts is the per-call retry budget for transient invocation
// failures: one retry, then the result is recorded as-is.
const stepAttempts = 2

// invoke runs one tool call, retrying transient kinds with backoff.
func (p *Pipeline) invoke(ctx context.Context, skill, tool string, args json.RawMessage) (json.RawMessage, error) {
	return backoff.Retry(ctx, backoff.Default(), stepAttempts,
		func(int) (json.RawMessage, error) {
			return p.invoker.Invoke(ctx, skill, tool, args)
		})
}

func (p *Pipeline) recordActivity(ctx context.Context, sessionID, action string, details map[string]any) {
	raw, _ := json.Marshal(details)
	if err := p.activities.Record(ctx, &models.Activity{
		Action:    action,
		Details:   raw,
		SessionID: sessionID,
	}); err != nil {
		p.logger.Warn(ctx, "activity write failed", "action", action, "error", err)
	}
}

// maybeCompress enqueues one compression run when the raw memory window
// exceeds the threshold. At most one run is in flight.
func (p *Pipeline) maybeCompress(ctx context.Context) {
	if p.compressor == nil {
		return
	}
	count, err := p.memories.CountUncompressed(ctx)
	if err != nil || count <= p.compressionThreshold {
		return
	}
	if !p.compressing.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer p.compressing.Store(false)
		runCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if n, err := p.compressor.Run(runCtx); err != nil {
			p.logger.Warn(runCtx, "compression run failed", "error", err)
		} else if n > 0 {
			p.logger.Info(runCtx, "compression run finished", "compressed", n)
		}
	}()
}

// RunMessage processes a heartbeat message job inside a cron session
// rooted under the main session id.
func (p *Pipeline) RunMessage(ctx context.Context, jobID, message string) (string, error) {
	reply, err := p.Process(ctx, p.mainSessionID+":cron:"+jobID, message)
	if err != nil {
		return "", err
	}
	return reply.Text, nil
}

// RunSkill invokes one tool directly for a heartbeat skill job.
func (p *Pipeline) RunSkill(ctx context.Context, jobID, skill, tool string, args map[string]any) (string, error) {
	if p.invoker == nil {
		return "", errdefs.New(errdefs.KindUnavailable, "no skill registry attached")
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return "", errdefs.Wrap(errdefs.KindValidation, err, "job %q args", jobID)
	}
	ctx = observability.WithSessionID(ctx, p.mainSessionID+":cron:"+jobID)
	out, err := p.invoke(ctx, skill, tool, raw)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
