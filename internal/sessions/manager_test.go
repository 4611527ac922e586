package sessions

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/aria-ai/aria/internal/config"
	"github.com/aria-ai/aria/internal/errdefs"
	"github.com/aria-ai/aria/internal/store"
	"github.com/aria-ai/aria/pkg/models"
)

func newTestManager(t *testing.T, now *time.Time) (*Manager, *store.Store) {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	m := NewManager(config.SessionConfig{
		MainSessionID:   "agent:main",
		CheckpointEvery: 2,
		PruneMaxAge:     config.Duration(24 * time.Hour),
	}, st, WithClock(func() time.Time { return *now }))
	return m, st
}

func TestEnsureDerivesKindFromMarkers(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	m, _ := newTestManager(t, &now)
	ctx := context.Background()

	tests := []struct {
		id   string
		kind models.SessionKind
	}{
		{"agent:main", models.SessionMain},
		{"agent:main:subagent:42", models.SessionSubagent},
		{"agent:main:cron:review", models.SessionCron},
		{"agent:main:run:once", models.SessionRun},
	}
	for _, tc := range tests {
		sess, err := m.Ensure(ctx, tc.id)
		if err != nil {
			t.Fatalf("ensure %s: %v", tc.id, err)
		}
		if sess.Kind != tc.kind {
			t.Errorf("kind(%s) = %s, want %s", tc.id, sess.Kind, tc.kind)
		}
	}

	// Second ensure returns the existing row.
	again, err := m.Ensure(ctx, "agent:main")
	if err != nil {
		t.Fatalf("re-ensure: %v", err)
	}
	if again.State != models.SessionActive {
		t.Errorf("state = %s, want active", again.State)
	}
}

func TestDeleteMainSessionIsProtected(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	m, st := newTestManager(t, &now)
	ctx := context.Background()

	if _, err := m.Ensure(ctx, "agent:main"); err != nil {
		t.Fatalf("ensure: %v", err)
	}

	err := m.Delete(ctx, "agent:main")
	if errdefs.KindOf(err) != errdefs.KindProtected {
		t.Fatalf("kind = %v, want Protected", errdefs.KindOf(err))
	}
	if !strings.Contains(err.Error(), "Cannot delete current session agent:main") {
		t.Errorf("message = %q", err.Error())
	}

	sess, err := st.Sessions.Get(ctx, "agent:main")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if sess.State != models.SessionActive {
		t.Errorf("state = %s, protected session must stay active", sess.State)
	}
}

func TestDeleteProtectsUnmarkedIDsWithoutRows(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	m, _ := newTestManager(t, &now)

	// No session row exists; the id's markers still resolve to main.
	err := m.Delete(context.Background(), "some-other-main")
	if errdefs.KindOf(err) != errdefs.KindProtected {
		t.Errorf("kind = %v, want Protected", errdefs.KindOf(err))
	}
}

func TestDeleteSubagentWipesWorkingMemory(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	m, st := newTestManager(t, &now)
	ctx := context.Background()
	id := "agent:main:subagent:7"

	if _, err := m.Ensure(ctx, id); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	ws, err := m.Working(ctx, id)
	if err != nil {
		t.Fatalf("working: %v", err)
	}
	ws.Put("task", json.RawMessage(`"review the diff"`), "", 0.8)
	if err := ws.Checkpoint(ctx); err != nil {
		t.Fatalf("checkpoint: %v", err)
	}

	if err := m.Delete(ctx, id); err != nil {
		t.Fatalf("delete: %v", err)
	}

	sess, _ := st.Sessions.Get(ctx, id)
	if sess.State != models.SessionPruned {
		t.Errorf("state = %s, want pruned", sess.State)
	}
	items, err := st.Memories.ListWorking(ctx, id)
	if err != nil {
		t.Fatalf("list working: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("working memory survived delete: %d items", len(items))
	}

	acts, _, err := st.Activities.List(ctx, 10, "")
	if err != nil {
		t.Fatalf("list activities: %v", err)
	}
	found := false
	for _, a := range acts {
		if a.Action == "session_deleted" && a.SessionID == id {
			found = true
		}
	}
	if !found {
		t.Error("no session_deleted audit row")
	}
}

func TestDeleteCancelsRootedContexts(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	m, _ := newTestManager(t, &now)
	ctx := context.Background()
	id := "agent:main:run:99"

	if _, err := m.Ensure(ctx, id); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	rooted, cancel := m.RootContext(ctx, id)
	defer cancel()

	if err := m.Delete(ctx, id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	select {
	case <-rooted.Done():
	default:
		t.Error("rooted context not cancelled by delete")
	}
}

func TestPruneSkipsProtectedSessions(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	m, st := newTestManager(t, &now)
	ctx := context.Background()

	if _, err := m.Ensure(ctx, "agent:main"); err != nil {
		t.Fatalf("ensure main: %v", err)
	}
	if _, err := m.Ensure(ctx, "agent:main:subagent:old"); err != nil {
		t.Fatalf("ensure subagent: %v", err)
	}

	// Both sessions are now stale relative to the advanced clock.
	now = now.Add(48 * time.Hour)
	n, err := m.Prune(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 1 {
		t.Errorf("pruned %d, want 1", n)
	}

	main, _ := st.Sessions.Get(ctx, "agent:main")
	if main.State != models.SessionActive {
		t.Errorf("main state = %s, want active", main.State)
	}
	sub, _ := st.Sessions.Get(ctx, "agent:main:subagent:old")
	if sub.State != models.SessionPruned {
		t.Errorf("subagent state = %s, want pruned", sub.State)
	}
}
