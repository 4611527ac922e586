package heartbeat

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/aria-ai/aria/internal/config"
	"github.com/aria-ai/aria/internal/errdefs"
	"github.com/aria-ai/aria/internal/observability"
	"github.com/aria-ai/aria/internal/store"
	"github.com/aria-ai/aria/pkg/models"
)

// runTimeout bounds a single job execution.
const runTimeout = 120 * time.Second

// Delivery policies decide what the user hears about a run.
const (
	DeliveryAnnounce  = "announce"
	DeliveryNone      = "none"
	DeliveryErrorOnly = "error_only"
)

// Runner executes one job occurrence. Message jobs inject a synthetic
// message into the pipeline; skill jobs invoke a tool directly.
type Runner interface {
	RunMessage(ctx context.Context, jobID, message string) (string, error)
	RunSkill(ctx context.Context, jobID, skill, tool string, args map[string]any) (string, error)
}

// Announcer delivers run results per the job's delivery policy.
type Announcer interface {
	Announce(ctx context.Context, jobID, text string)
}

// Job is one scheduled unit tracked by the scheduler.
type Job struct {
	Spec     config.JobSpec
	Schedule Schedule

	mu       sync.Mutex
	nextRun  time.Time
	lastRun  time.Time
	lastErr  error
	running  bool
	disabled bool
}

// Snapshot is a job's state for status commands.
type Snapshot struct {
	ID       string
	Schedule string
	Kind     string
	Delivery string
	Enabled  bool
	NextRun  time.Time
	LastRun  time.Time
	LastErr  string
	Running  bool
}

// Scheduler dispatches due jobs on a ticker. Per-kind concurrency caps
// keep a slow message job from starving skill jobs and vice versa.
type Scheduler struct {
	mu   sync.Mutex
	jobs map[string]*Job

	runner    Runner
	announcer Announcer
	jobStore  *store.JobStore
	logger    *observability.Logger
	metrics   *observability.Metrics
	now       func() time.Time
	tick      time.Duration

	// Per-kind slot semaphores.
	messageSlots chan struct{}
	skillSlots   chan struct{}

	started bool
	loop    sync.WaitGroup
	runs    sync.WaitGroup
}

// Option configures the scheduler.
type Option func(*Scheduler)

// WithLogger sets the structured logger.
func WithLogger(l *observability.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithMetrics sets the metrics collectors.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithAnnouncer sets the delivery sink.
func WithAnnouncer(a Announcer) Option {
	return func(s *Scheduler) { s.announcer = a }
}

// WithClock injects the clock for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithTickInterval overrides the dispatch tick.
func WithTickInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.tick = d
		}
	}
}

// NewScheduler builds a scheduler over the declared jobs. Invalid
// schedules fail construction; this is a startup-time configuration
// error, not something to limp past.
func NewScheduler(jobsFile *config.JobsFile, runner Runner, jobStore *store.JobStore, opts ...Option) (*Scheduler, error) {
	s := &Scheduler{
		jobs:         make(map[string]*Job),
		runner:       runner,
		jobStore:     jobStore,
		logger:       observability.NewLogger(observability.LogConfig{}),
		metrics:      observability.NopMetrics(),
		now:          time.Now,
		tick:         time.Second,
		messageSlots: make(chan struct{}, 2),
		skillSlots:   make(chan struct{}, 4),
	}
	for _, opt := range opts {
		opt(s)
	}

	now := s.now()
	for _, spec := range jobsFile.Jobs {
		sched, err := ParseSchedule(spec.Schedule)
		if err != nil {
			return nil, errdefs.Wrap(errdefs.KindConfiguration, err, "job %q", spec.ID)
		}
		job := &Job{Spec: spec, Schedule: sched, disabled: !spec.IsEnabled()}
		job.nextRun = sched.Next(now)
		s.jobs[spec.ID] = job
	}
	return s, nil
}

// Sync writes the declared job set to the store and removes records for
// jobs no longer in the file. Restores last_run from prior state so a
// restart can catch up one missed occurrence.
func (s *Scheduler) Sync(ctx context.Context) error {
	stored, err := s.jobStore.ListStates(ctx)
	if err != nil {
		return err
	}
	known := map[string]*models.JobState{}
	for _, js := range stored {
		known[js.JobID] = js
	}

	s.mu.Lock()
	for id, job := range s.jobs {
		if prior, ok := known[id]; ok && !prior.LastRunAt.IsZero() {
			job.lastRun = prior.LastRunAt
			// One catch-up at most: if occurrences were missed while the
			// process was down, pull next_run to now so the first tick
			// fires once, then the schedule takes over.
			if missed := job.Schedule.MissedRuns(prior.LastRunAt, s.now()); missed > 0 && !job.disabled {
				job.nextRun = s.now()
				s.logger.Info(ctx, "job catch-up scheduled",
					"job_id", id, "missed", missed)
			}
		}
		delete(known, id)
	}
	jobs := s.snapshotLocked()
	specs := make(map[string]config.JobSpec, len(s.jobs))
	for id, job := range s.jobs {
		specs[id] = job.Spec
	}
	s.mu.Unlock()

	for _, snap := range jobs {
		cmd, _ := json.Marshal(specs[snap.ID])
		if err := s.jobStore.UpsertState(ctx, &models.JobState{
			JobID:     snap.ID,
			Schedule:  snap.Schedule,
			Command:   cmd,
			Delivery:  snap.Delivery,
			Enabled:   snap.Enabled,
			LastRunAt: snap.LastRun,
			LastError: snap.LastErr,
		}); err != nil {
			return err
		}
	}
	for id := range known {
		if err := s.jobStore.DeleteState(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// Start runs the dispatch loop until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	s.loop.Add(1)
	go func() {
		defer s.loop.Done()
		ticker := time.NewTicker(s.tick)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.runDue(ctx)
			}
		}
	}()
}

// Stop waits for in-flight runs to finish.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.loop.Wait()
		s.runs.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce dispatches due jobs immediately and waits for them to finish.
// Tests and the run-job command use this.
func (s *Scheduler) RunOnce(ctx context.Context) int {
	n := s.runDue(ctx)
	s.runs.Wait()
	return n
}

// TriggerNow forces one job to run regardless of its schedule.
func (s *Scheduler) TriggerNow(ctx context.Context, jobID string) error {
	s.mu.Lock()
	job, ok := s.jobs[jobID]
	s.mu.Unlock()
	if !ok {
		return errdefs.New(errdefs.KindNotFound, "job %q is not configured", jobID)
	}
	s.dispatch(ctx, job, s.now())
	s.runs.Wait()
	return nil
}

// SetEnabled toggles a job at runtime.
func (s *Scheduler) SetEnabled(jobID string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return errdefs.New(errdefs.KindNotFound, "job %q is not configured", jobID)
	}
	job.mu.Lock()
	job.disabled = !enabled
	if enabled {
		job.nextRun = job.Schedule.Next(s.now())
	}
	job.mu.Unlock()
	return nil
}

// Jobs returns snapshots ordered by last run (oldest first), matching
// the dispatch order so starved jobs surface at the top.
func (s *Scheduler) Jobs() []Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Scheduler) snapshotLocked() []Snapshot {
	out := make([]Snapshot, 0, len(s.jobs))
	for _, job := range s.jobs {
		job.mu.Lock()
		snap := Snapshot{
			ID:       job.Spec.ID,
			Schedule: job.Schedule.String(),
			Kind:     job.Spec.Kind,
			Delivery: deliveryOf(job.Spec),
			Enabled:  !job.disabled,
			NextRun:  job.nextRun,
			LastRun:  job.lastRun,
			Running:  job.running,
		}
		if job.lastErr != nil {
			snap.LastErr = job.lastErr.Error()
		}
		job.mu.Unlock()
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastRun.Equal(out[j].LastRun) {
			return out[i].LastRun.Before(out[j].LastRun)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// runDue dispatches every due job, least recently run first.
func (s *Scheduler) runDue(ctx context.Context) int {
	now := s.now()

	s.mu.Lock()
	var due []*Job
	for _, job := range s.jobs {
		job.mu.Lock()
		ready := !job.disabled && !job.running && !job.nextRun.IsZero() && !job.nextRun.After(now)
		job.mu.Unlock()
		if ready {
			due = append(due, job)
		}
	}
	s.mu.Unlock()

	sort.Slice(due, func(i, j int) bool {
		due[i].mu.Lock()
		li := due[i].lastRun
		due[i].mu.Unlock()
		due[j].mu.Lock()
		lj := due[j].lastRun
		due[j].mu.Unlock()
		if !li.Equal(lj) {
			return li.Before(lj)
		}
		return due[i].Spec.ID < due[j].Spec.ID
	})

	for _, job := range due {
		s.dispatch(ctx, job, now)
	}
	return len(due)
}

// dispatch claims the minute bucket and runs the job asynchronously.
func (s *Scheduler) dispatch(ctx context.Context, job *Job, now time.Time) {
	claimed, err := s.jobStore.ClaimRun(ctx, job.Spec.ID, now)
	if err != nil {
		s.logger.Warn(ctx, "run claim failed", "job_id", job.Spec.ID, "error", err)
		return
	}

	job.mu.Lock()
	job.nextRun = job.Schedule.Next(now)
	if !claimed {
		// Another dispatch (or a pre-restart run) already owns this
		// minute.
		job.mu.Unlock()
		s.metrics.SchedulerRuns.WithLabelValues(job.Spec.ID, "duplicate").Inc()
		return
	}
	job.running = true
	job.mu.Unlock()

	slots := s.skillSlots
	if job.Spec.Kind == "message" {
		slots = s.messageSlots
	}

	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		select {
		case slots <- struct{}{}:
			defer func() { <-slots }()
		case <-ctx.Done():
			job.mu.Lock()
			job.running = false
			job.mu.Unlock()
			return
		}
		s.execute(ctx, job, now)
	}()
}

func (s *Scheduler) execute(ctx context.Context, job *Job, scheduledAt time.Time) {
	runCtx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()
	runCtx = observability.WithJobID(runCtx, job.Spec.ID)

	var result string
	var err error
	switch job.Spec.Kind {
	case "message":
		result, err = s.runner.RunMessage(runCtx, job.Spec.ID, job.Spec.Message)
	case "skill":
		result, err = s.runner.RunSkill(runCtx, job.Spec.ID, job.Spec.Skill, job.Spec.Tool, job.Spec.Args)
	default:
		err = errdefs.New(errdefs.KindConfiguration, "unknown job kind %q", job.Spec.Kind)
	}

	job.mu.Lock()
	job.running = false
	job.lastRun = scheduledAt
	job.lastErr = err
	job.mu.Unlock()

	outcome := "success"
	if err != nil {
		outcome = "failure"
		s.logger.Warn(runCtx, "job failed", "job_id", job.Spec.ID, "error", err)
	} else {
		s.logger.Debug(runCtx, "job succeeded", "job_id", job.Spec.ID)
	}
	s.metrics.SchedulerRuns.WithLabelValues(job.Spec.ID, outcome).Inc()

	if upErr := s.jobStore.UpsertState(runCtx, &models.JobState{
		JobID:     job.Spec.ID,
		Schedule:  job.Schedule.String(),
		Delivery:  deliveryOf(job.Spec),
		Enabled:   true,
		LastRunAt: scheduledAt,
		LastError: errText(err),
	}); upErr != nil {
		s.logger.Warn(runCtx, "job state write failed", "job_id", job.Spec.ID, "error", upErr)
	}

	s.deliver(runCtx, job.Spec, result, err)
}

// deliver applies the job's delivery policy.
func (s *Scheduler) deliver(ctx context.Context, spec config.JobSpec, result string, runErr error) {
	if s.announcer == nil {
		return
	}
	switch deliveryOf(spec) {
	case DeliveryNone:
	case DeliveryErrorOnly:
		if runErr != nil {
			s.announcer.Announce(ctx, spec.ID, "job "+spec.ID+" failed: "+runErr.Error())
		}
	default: // announce
		if runErr != nil {
			s.announcer.Announce(ctx, spec.ID, "job "+spec.ID+" failed: "+runErr.Error())
		} else if result != "" {
			s.announcer.Announce(ctx, spec.ID, result)
		}
	}
}

func deliveryOf(spec config.JobSpec) string {
	if spec.Delivery == "" {
		return DeliveryAnnounce
	}
	return spec.Delivery
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
