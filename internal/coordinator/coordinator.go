// Package coordinator selects agent personas for tasks and manages
// delegation. Selection is pheromone weighted: a decaying reputation
// score learned from delegated task outcomes, blended with recent speed
// and cost.
package coordinator

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aria-ai/aria/internal/config"
	"github.com/aria-ai/aria/internal/errdefs"
	"github.com/aria-ai/aria/internal/observability"
	"github.com/aria-ai/aria/internal/store"
	"github.com/aria-ai/aria/pkg/models"
)

// Scoring weights. Pheromone dominates; speed and cost refine ties.
const (
	weightPheromone = 0.6
	weightSpeed     = 0.3
	weightCost      = 0.1
)

// latencyCeiling normalizes recent speed: anything at or above this
// counts as zero speed.
const latencyCeiling = 30 * time.Second

// Coordinator owns the persona roster and the pheromone trail.
type Coordinator struct {
	mu       sync.RWMutex
	profiles map[string]*models.AgentProfile

	cfg      config.CoordinatorConfig
	agents   *store.AgentStore
	sessions *store.SessionStore
	logger   *observability.Logger
	now      func() time.Time

	// history tracks recent delegation outcomes per agent for the speed
	// and cost normalizations.
	history map[string][]outcome

	// lastSuccess tracks each agent's most recent successful delegation
	// for tie-breaking. In-memory only; ties among restarted agents fall
	// through to id order.
	lastSuccess map[string]time.Time
}

type outcome struct {
	latency time.Duration
	cost    float64
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the structured logger.
func WithLogger(l *observability.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithClock injects the clock for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// New builds a coordinator from the configured personas.
func New(cfg config.CoordinatorConfig, agentCfgs []config.AgentConfig, agents *store.AgentStore, sessions *store.SessionStore, opts ...Option) (*Coordinator, error) {
	c := &Coordinator{
		profiles: make(map[string]*models.AgentProfile, len(agentCfgs)),
		cfg:      cfg,
		agents:   agents,
		sessions: sessions,
		logger:   observability.NewLogger(observability.LogConfig{}),
		now:      time.Now,
		history:  make(map[string][]outcome),

		lastSuccess: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.cfg.HistoryWindow <= 0 {
		c.cfg.HistoryWindow = 20
	}
	if c.cfg.Decay <= 0 || c.cfg.Decay > 1 {
		c.cfg.Decay = 0.95
	}

	for _, ac := range agentCfgs {
		if _, dup := c.profiles[ac.ID]; dup {
			return nil, errdefs.New(errdefs.KindConfiguration, "duplicate agent %q", ac.ID)
		}
		c.profiles[ac.ID] = &models.AgentProfile{
			ID:            ac.ID,
			Role:          models.AgentRole(ac.Role),
			AllowedSkills: ac.AllowedSkills,
			PrimaryModel:  ac.PrimaryModel,
			FallbackModel: ac.FallbackModel,
			FocusTags:     ac.FocusTags,
			Pheromone:     0.5,
		}
	}
	return c, nil
}

// LoadState hydrates pheromone scores from the store.
func (c *Coordinator) LoadState(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, p := range c.profiles {
		st, err := c.agents.GetPheromone(ctx, id)
		if err != nil {
			return err
		}
		p.Pheromone = st.Pheromone
		p.LastUpdateAt = st.LastUpdateAt
	}
	return nil
}

// Task describes work needing an agent.
type Task struct {
	// Description is what the task is about.
	Description string

	// RequiredSkills must all be allowed for the agent.
	RequiredSkills []string

	// Tags bias selection toward agents whose focus tags overlap.
	Tags []string
}

// Candidate is one scored agent from a selection round.
type Candidate struct {
	Agent *models.AgentProfile
	Score float64
}

// Select picks the best persona for a task: filter by required skills,
// prefer focus tag overlap, then score the survivors.
func (c *Coordinator) Select(ctx context.Context, task Task) (*models.AgentProfile, error) {
	ranked, err := c.Rank(ctx, task)
	if err != nil {
		return nil, err
	}
	return ranked[0].Agent, nil
}

// Rank returns all eligible agents in score order, best first.
func (c *Coordinator) Rank(ctx context.Context, task Task) ([]Candidate, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Filter: every required skill must be allowed.
	var pool []*models.AgentProfile
	for _, p := range c.profiles {
		if hasAllSkills(p, task.RequiredSkills) {
			pool = append(pool, p)
		}
	}
	if len(pool) == 0 {
		return nil, errdefs.New(errdefs.KindUnavailable,
			"no agent allows all required skills %v", task.RequiredSkills)
	}

	// Prefer focus overlap: when any candidate's tags intersect the
	// task's, drop those with none.
	if len(task.Tags) > 0 {
		var focused []*models.AgentProfile
		for _, p := range pool {
			if tagOverlap(p.FocusTags, task.Tags) > 0 {
				focused = append(focused, p)
			}
		}
		if len(focused) > 0 {
			pool = focused
		}
	}

	now := c.now()
	ranked := make([]Candidate, 0, len(pool))
	for _, p := range pool {
		c.applyDecayLocked(p, now)
		score := weightPheromone*p.Pheromone +
			weightSpeed*c.speedNormLocked(p.ID) +
			weightCost*c.costNormLocked(p.ID)
		ranked = append(ranked, Candidate{Agent: p, Score: score})
	}
	// Ties prefer the agent that succeeded most recently, then id order
	// for determinism.
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		si, sj := c.lastSuccess[ranked[i].Agent.ID], c.lastSuccess[ranked[j].Agent.ID]
		if !si.Equal(sj) {
			return si.After(sj)
		}
		return ranked[i].Agent.ID < ranked[j].Agent.ID
	})
	return ranked, nil
}

// applyDecayLocked applies the daily decay factor for the time elapsed
// since the last update. Decay happens on read so idle agents drift
// back toward zero without a background job.
func (c *Coordinator) applyDecayLocked(p *models.AgentProfile, now time.Time) {
	if p.LastUpdateAt.IsZero() {
		p.LastUpdateAt = now
		return
	}
	days := now.Sub(p.LastUpdateAt).Hours() / 24
	if days <= 0 {
		return
	}
	p.Pheromone *= math.Pow(c.cfg.Decay, days)
	p.LastUpdateAt = now
}

// speedNormLocked maps recent average latency into [0,1]; faster is
// higher. Cold agents score 0.5.
func (c *Coordinator) speedNormLocked(agentID string) float64 {
	hist := c.history[agentID]
	if len(hist) == 0 {
		return 0.5
	}
	var total time.Duration
	for _, o := range hist {
		total += o.latency
	}
	avg := total / time.Duration(len(hist))
	return 1 - clamp01(float64(avg)/float64(latencyCeiling))
}

// costNormLocked maps recent average cost into [0,1] against the most
// expensive agent seen; cheaper is higher. Cold agents score 0.5.
func (c *Coordinator) costNormLocked(agentID string) float64 {
	hist := c.history[agentID]
	if len(hist) == 0 {
		return 0.5
	}
	var sum float64
	for _, o := range hist {
		sum += o.cost
	}
	avg := sum / float64(len(hist))

	var maxAvg float64
	for _, h := range c.history {
		if len(h) == 0 {
			continue
		}
		var s float64
		for _, o := range h {
			s += o.cost
		}
		if a := s / float64(len(h)); a > maxAvg {
			maxAvg = a
		}
	}
	if maxAvg == 0 {
		return 0.5
	}
	return 1 - clamp01(avg/maxAvg)
}

// Delegation is a running delegated task.
type Delegation struct {
	ID        string
	AgentID   string
	SessionID string
	Task      Task
	StartedAt time.Time
}

// Delegate creates a subagent session owned by the chosen agent.
func (c *Coordinator) Delegate(ctx context.Context, parentSessionID string, task Task) (*Delegation, error) {
	agent, err := c.Select(ctx, task)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	sessionID := fmt.Sprintf("%s:subagent:%s", parentSessionID, id)
	sess := &models.Session{
		ID:              sessionID,
		Kind:            models.SessionSubagent,
		ParentSessionID: parentSessionID,
		AgentID:         agent.ID,
		State:           models.SessionActive,
	}
	if err := c.sessions.Create(ctx, sess); err != nil {
		return nil, err
	}

	c.logger.Info(ctx, "task delegated",
		"agent", agent.ID, "session_id", sessionID, "task", task.Description)
	return &Delegation{
		ID: id, AgentID: agent.ID, SessionID: sessionID,
		Task: task, StartedAt: c.now(),
	}, nil
}

// Complete records a delegation outcome: pheromone reward or penalty,
// history for the speed/cost normalizations, and session completion.
func (c *Coordinator) Complete(ctx context.Context, d *Delegation, success bool, cost float64) error {
	latency := c.now().Sub(d.StartedAt)

	c.mu.Lock()
	p, ok := c.profiles[d.AgentID]
	if !ok {
		c.mu.Unlock()
		return errdefs.New(errdefs.KindNotFound, "agent %q is not configured", d.AgentID)
	}
	now := c.now()
	c.applyDecayLocked(p, now)
	if success {
		p.Pheromone = clamp01(p.Pheromone + c.cfg.Reward)
		c.lastSuccess[d.AgentID] = now
	} else {
		p.Pheromone = clamp01(p.Pheromone - c.cfg.Penalty)
	}
	p.LastUpdateAt = now

	hist := append(c.history[d.AgentID], outcome{latency: latency, cost: cost})
	if len(hist) > c.cfg.HistoryWindow {
		hist = hist[len(hist)-c.cfg.HistoryWindow:]
	}
	c.history[d.AgentID] = hist
	score := p.Pheromone
	c.mu.Unlock()

	if err := c.agents.SetPheromone(ctx, d.AgentID, score, now); err != nil {
		return err
	}
	if err := c.sessions.SetState(ctx, d.SessionID, models.SessionCompleted); err != nil && err != store.ErrNotFound {
		return err
	}
	c.logger.Info(ctx, "delegation completed",
		"agent", d.AgentID, "success", success,
		"latency_ms", latency.Milliseconds(), "pheromone", score)
	return nil
}

// Broadcast invokes fn for every configured agent, in id order. Errors
// are collected, not short-circuited.
func (c *Coordinator) Broadcast(ctx context.Context, fn func(ctx context.Context, agent *models.AgentProfile) error) []error {
	c.mu.RLock()
	ids := make([]string, 0, len(c.profiles))
	for id := range c.profiles {
		ids = append(ids, id)
	}
	c.mu.RUnlock()
	sort.Strings(ids)

	var errs []error
	for _, id := range ids {
		c.mu.RLock()
		p := c.profiles[id]
		c.mu.RUnlock()
		if err := fn(ctx, p); err != nil {
			errs = append(errs, fmt.Errorf("agent %s: %w", id, err))
		}
	}
	return errs
}

// Profile returns a configured agent by id.
func (c *Coordinator) Profile(id string) (*models.AgentProfile, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.profiles[id]
	if !ok {
		return nil, errdefs.New(errdefs.KindNotFound, "agent %q is not configured", id)
	}
	return p, nil
}

func hasAllSkills(p *models.AgentProfile, required []string) bool {
	for _, s := range required {
		if !p.HasSkill(s) {
			return false
		}
	}
	return true
}

func tagOverlap(a, b []string) int {
	set := make(map[string]bool, len(a))
	for _, t := range a {
		set[t] = true
	}
	n := 0
	for _, t := range b {
		if set[t] {
			n++
		}
	}
	return n
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
