package heartbeat

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aria-ai/aria/internal/config"
	"github.com/aria-ai/aria/internal/errdefs"
	"github.com/aria-ai/aria/internal/store"
	"github.com/aria-ai/aria/pkg/models"
)

type fakeRunner struct {
	mu       sync.Mutex
	messages []string
	skills   []string
	result   string
	err      error
}

func (r *fakeRunner) RunMessage(_ context.Context, _, message string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, message)
	return r.result, r.err
}

func (r *fakeRunner) RunSkill(_ context.Context, _, skill, tool string, _ map[string]any) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.skills = append(r.skills, skill+"/"+tool)
	return r.result, r.err
}

func (r *fakeRunner) messageCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

type fakeAnnouncer struct {
	mu   sync.Mutex
	msgs []string
}

func (a *fakeAnnouncer) Announce(_ context.Context, _, text string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.msgs = append(a.msgs, text)
}

func (a *fakeAnnouncer) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.msgs)
}

func jobStateAt(id string, lastRun time.Time) *models.JobState {
	return &models.JobState{JobID: id, Schedule: "every 10m", Enabled: true, LastRunAt: lastRun}
}

func openJobStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func messageJob(id, schedule string) config.JobSpec {
	return config.JobSpec{ID: id, Schedule: schedule, Kind: "message", Message: "check in"}
}

func newTestScheduler(t *testing.T, now *time.Time, runner *fakeRunner, st *store.Store, ann Announcer, specs ...config.JobSpec) *Scheduler {
	t.Helper()
	s, err := NewScheduler(&config.JobsFile{Jobs: specs}, runner, st.Jobs,
		WithClock(func() time.Time { return *now }),
		WithAnnouncer(ann))
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	return s
}

func TestRunOnceDispatchesDueJobs(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	st := openJobStore(t)
	runner := &fakeRunner{result: "all quiet"}
	ann := &fakeAnnouncer{}
	s := newTestScheduler(t, &now, runner, st, ann, messageJob("review", "every 1m"))
	ctx := context.Background()

	if n := s.RunOnce(ctx); n != 0 {
		t.Fatalf("dispatched %d before due time, want 0", n)
	}

	now = now.Add(time.Minute)
	if n := s.RunOnce(ctx); n != 1 {
		t.Fatalf("dispatched %d, want 1", n)
	}
	if runner.messageCount() != 1 {
		t.Errorf("runner ran %d times, want 1", runner.messageCount())
	}
	if ann.count() != 1 {
		t.Errorf("announced %d times, want 1", ann.count())
	}

	snaps := s.Jobs()
	if len(snaps) != 1 || !snaps[0].LastRun.Equal(now) {
		t.Errorf("snapshot = %+v, want last run at %v", snaps, now)
	}
}

func TestClaimPreventsDuplicateDispatch(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	st := openJobStore(t)
	runner := &fakeRunner{}
	a := newTestScheduler(t, &now, runner, st, nil, messageJob("review", "every 1m"))
	b := newTestScheduler(t, &now, runner, st, nil, messageJob("review", "every 1m"))
	ctx := context.Background()

	now = now.Add(time.Minute)
	a.RunOnce(ctx)
	b.RunOnce(ctx)

	if runner.messageCount() != 1 {
		t.Errorf("runner ran %d times across two schedulers, want 1", runner.messageCount())
	}
}

func TestCatchUpAtMostOnce(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	st := openJobStore(t)
	ctx := context.Background()

	// Three occurrences were missed while the process was down.
	if err := st.Jobs.UpsertState(ctx, jobStateAt("review", now.Add(-30*time.Minute))); err != nil {
		t.Fatalf("seed state: %v", err)
	}

	runner := &fakeRunner{}
	s := newTestScheduler(t, &now, runner, st, nil, messageJob("review", "every 10m"))
	if err := s.Sync(ctx); err != nil {
		t.Fatalf("sync: %v", err)
	}

	if n := s.RunOnce(ctx); n != 1 {
		t.Fatalf("catch-up dispatched %d, want 1", n)
	}
	// Same instant again: the schedule owns the next fire, no more
	// catch-up runs.
	if n := s.RunOnce(ctx); n != 0 {
		t.Errorf("second pass dispatched %d, want 0", n)
	}
	if runner.messageCount() != 1 {
		t.Errorf("runner ran %d times, want 1", runner.messageCount())
	}
}

func TestDeliveryErrorOnly(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	st := openJobStore(t)
	runner := &fakeRunner{result: "fine"}
	ann := &fakeAnnouncer{}
	spec := messageJob("quiet", "every 1m")
	spec.Delivery = DeliveryErrorOnly
	s := newTestScheduler(t, &now, runner, st, ann, spec)
	ctx := context.Background()

	now = now.Add(time.Minute)
	s.RunOnce(ctx)
	if ann.count() != 0 {
		t.Fatalf("announced a success under error_only")
	}

	runner.mu.Lock()
	runner.err = errors.New("backend down")
	runner.mu.Unlock()
	now = now.Add(time.Minute)
	s.RunOnce(ctx)
	if ann.count() != 1 {
		t.Errorf("announced %d times after failure, want 1", ann.count())
	}
}

func TestDeliveryNoneStaysSilent(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	st := openJobStore(t)
	runner := &fakeRunner{err: errors.New("boom")}
	ann := &fakeAnnouncer{}
	spec := messageJob("silent", "every 1m")
	spec.Delivery = DeliveryNone
	s := newTestScheduler(t, &now, runner, st, ann, spec)

	now = now.Add(time.Minute)
	s.RunOnce(context.Background())
	if ann.count() != 0 {
		t.Errorf("announced %d times under none, want 0", ann.count())
	}
	snaps := s.Jobs()
	if snaps[0].LastErr == "" {
		t.Error("failure not recorded in job state")
	}
}

func TestDisabledJobNeverRuns(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	st := openJobStore(t)
	runner := &fakeRunner{}
	off := false
	spec := messageJob("paused", "every 1m")
	spec.Enabled = &off
	s := newTestScheduler(t, &now, runner, st, nil, spec)
	ctx := context.Background()

	now = now.Add(5 * time.Minute)
	if n := s.RunOnce(ctx); n != 0 {
		t.Fatalf("dispatched %d for a disabled job", n)
	}

	if err := s.SetEnabled("paused", true); err != nil {
		t.Fatalf("enable: %v", err)
	}
	now = now.Add(time.Minute)
	if n := s.RunOnce(ctx); n != 1 {
		t.Errorf("dispatched %d after enabling, want 1", n)
	}
}

func TestSkillJobRoutesToRunner(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	st := openJobStore(t)
	runner := &fakeRunner{}
	s := newTestScheduler(t, &now, runner, st, nil, config.JobSpec{
		ID: "sweep", Schedule: "every 1m", Kind: "skill",
		Skill: "knowledge_graph", Tool: "clear_auto_generated",
	})

	now = now.Add(time.Minute)
	s.RunOnce(context.Background())

	runner.mu.Lock()
	defer runner.mu.Unlock()
	if len(runner.skills) != 1 || runner.skills[0] != "knowledge_graph/clear_auto_generated" {
		t.Errorf("skill calls = %v", runner.skills)
	}
}

func TestSyncRemovesStaleState(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	st := openJobStore(t)
	ctx := context.Background()

	if err := st.Jobs.UpsertState(ctx, jobStateAt("ghost", now)); err != nil {
		t.Fatalf("seed: %v", err)
	}

	s := newTestScheduler(t, &now, &fakeRunner{}, st, nil, messageJob("review", "every 1m"))
	if err := s.Sync(ctx); err != nil {
		t.Fatalf("sync: %v", err)
	}

	if _, err := st.Jobs.GetState(ctx, "ghost"); err != store.ErrNotFound {
		t.Errorf("stale state survived sync: %v", err)
	}
	if _, err := st.Jobs.GetState(ctx, "review"); err != nil {
		t.Errorf("declared job missing from store: %v", err)
	}
}

func TestTriggerNowUnknownJob(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	st := openJobStore(t)
	s := newTestScheduler(t, &now, &fakeRunner{}, st, nil)

	err := s.TriggerNow(context.Background(), "ghost")
	if errdefs.KindOf(err) != errdefs.KindNotFound {
		t.Errorf("kind = %v, want NotFound", errdefs.KindOf(err))
	}
}

func TestRejectsInvalidSchedule(t *testing.T) {
	st := openJobStore(t)
	_, err := NewScheduler(&config.JobsFile{Jobs: []config.JobSpec{
		messageJob("bad", "whenever"),
	}}, &fakeRunner{}, st.Jobs)
	if errdefs.KindOf(err) != errdefs.KindConfiguration {
		t.Errorf("kind = %v, want Configuration", errdefs.KindOf(err))
	}
}
