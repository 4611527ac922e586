// Package sessions tracks conversation, subagent, cron, and run
// sessions, persists per-session working memory, and enforces the
// deletion protection on main sessions.
package sessions

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/aria-ai/aria/internal/config"
	"github.com/aria-ai/aria/internal/errdefs"
	"github.com/aria-ai/aria/internal/observability"
	"github.com/aria-ai/aria/internal/store"
	"github.com/aria-ai/aria/pkg/models"
)

// Manager owns the session table and the in-memory working sets.
type Manager struct {
	cfg        config.SessionConfig
	sessions   *store.SessionStore
	memories   *store.MemoryStore
	activities *store.ActivityStore
	logger     *observability.Logger
	now        func() time.Time

	mu      sync.Mutex
	working map[string]*WorkingSet
	cancels map[string][]context.CancelFunc
}

// Option configures the manager.
type Option func(*Manager)

// WithLogger sets the structured logger.
func WithLogger(l *observability.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithClock injects the clock for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// NewManager builds a session manager over the store facade.
func NewManager(cfg config.SessionConfig, st *store.Store, opts ...Option) *Manager {
	m := &Manager{
		cfg:        cfg,
		sessions:   st.Sessions,
		memories:   st.Memories,
		activities: st.Activities,
		logger:     observability.NewLogger(observability.LogConfig{}),
		now:        time.Now,
		working:    make(map[string]*WorkingSet),
		cancels:    make(map[string][]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Ensure returns the session, creating it when missing. The kind is
// derived from markers in the id.
func (m *Manager) Ensure(ctx context.Context, id string) (*models.Session, error) {
	sess, err := m.sessions.Get(ctx, id)
	if err == nil {
		return sess, nil
	}
	if err != store.ErrNotFound {
		return nil, err
	}

	now := m.now().UTC()
	sess = &models.Session{ID: id, CreatedAt: now, LastActiveAt: now}
	if err := m.sessions.Create(ctx, sess); err != nil {
		if err == store.ErrAlreadyExists {
			return m.sessions.Get(ctx, id)
		}
		return nil, err
	}
	m.logger.Info(ctx, "session created", "session_id", id, "kind", string(sess.Kind))
	return sess, nil
}

// Get returns a session by id.
func (m *Manager) Get(ctx context.Context, id string) (*models.Session, error) {
	sess, err := m.sessions.Get(ctx, id)
	if err == store.ErrNotFound {
		return nil, errdefs.New(errdefs.KindNotFound, "session %s not found", id)
	}
	return sess, err
}

// Touch bumps a session's last activity time.
func (m *Manager) Touch(ctx context.Context, id string) error {
	err := m.sessions.Touch(ctx, id)
	if err == store.ErrNotFound {
		return errdefs.New(errdefs.KindNotFound, "session %s not found", id)
	}
	return err
}

// ListActiveWithin returns active sessions with activity inside the
// window, least recently active first.
func (m *Manager) ListActiveWithin(ctx context.Context, window time.Duration) ([]*models.Session, error) {
	all, err := m.sessions.ListByState(ctx, models.SessionActive, 500)
	if err != nil {
		return nil, err
	}
	cutoff := m.now().Add(-window)
	out := all[:0]
	for _, sess := range all {
		if !sess.LastActiveAt.Before(cutoff) {
			out = append(out, sess)
		}
	}
	return out, nil
}

// Working returns the session's in-memory working set, hydrating it
// from the stored checkpoint on first access.
func (m *Manager) Working(ctx context.Context, sessionID string) (*WorkingSet, error) {
	m.mu.Lock()
	ws, ok := m.working[sessionID]
	if !ok {
		ws = newWorkingSet(sessionID, m.memories, m.cfg.CheckpointEvery, m.logger, m.now)
		m.working[sessionID] = ws
	}
	m.mu.Unlock()

	if !ok {
		if err := ws.restore(ctx); err != nil {
			return nil, err
		}
	}
	return ws, nil
}

// RootContext derives a cancellable context rooted at the session.
// Deleting the session cancels every context rooted at it, so in-flight
// work observes the cancellation and returns Cancelled.
func (m *Manager) RootContext(ctx context.Context, sessionID string) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(observability.WithSessionID(ctx, sessionID))
	m.mu.Lock()
	m.cancels[sessionID] = append(m.cancels[sessionID], cancel)
	m.mu.Unlock()
	return ctx, cancel
}

// protected reports whether the id must never be deleted: the current
// process's main session, or any id whose markers resolve to main.
func (m *Manager) protected(id string, kind models.SessionKind) bool {
	if id == m.cfg.MainSessionID {
		return true
	}
	return kind == models.SessionMain
}

// Delete removes a session: cancel its rooted contexts, mark it pruned,
// hard delete its working memory, and record an audit activity. Main
// sessions refuse with a Protected error and stay active.
func (m *Manager) Delete(ctx context.Context, id string) error {
	kind := models.KindFromSessionID(id)
	if sess, err := m.sessions.Get(ctx, id); err == nil {
		kind = sess.Kind
	} else if err != store.ErrNotFound {
		return err
	}
	if m.protected(id, kind) {
		return errdefs.New(errdefs.KindProtected, "Cannot delete current session %s", id)
	}

	m.mu.Lock()
	for _, cancel := range m.cancels[id] {
		cancel()
	}
	delete(m.cancels, id)
	delete(m.working, id)
	m.mu.Unlock()

	if err := m.sessions.SetState(ctx, id, models.SessionPruned); err != nil && err != store.ErrNotFound {
		return err
	}
	if err := m.memories.DeleteWorking(ctx, id); err != nil {
		return err
	}

	details, _ := json.Marshal(map[string]any{"kind": string(kind)})
	if err := m.activities.Record(ctx, &models.Activity{
		Action:    "session_deleted",
		Details:   details,
		SessionID: id,
	}); err != nil {
		m.logger.Warn(ctx, "audit write failed", "session_id", id, "error", err)
	}
	m.logger.Info(ctx, "session deleted", "session_id", id, "kind", string(kind))
	return nil
}

// Prune sweeps sessions idle longer than maxAge. Protected sessions are
// skipped. Returns the number deleted.
func (m *Manager) Prune(ctx context.Context, maxAge time.Duration) (int, error) {
	idle, err := m.sessions.ListIdleSince(ctx, m.now().Add(-maxAge))
	if err != nil {
		return 0, err
	}
	n := 0
	for _, sess := range idle {
		if m.protected(sess.ID, sess.Kind) {
			continue
		}
		if err := m.Delete(ctx, sess.ID); err != nil {
			m.logger.Warn(ctx, "prune skipped session",
				"session_id", sess.ID, "error", err)
			continue
		}
		n++
	}
	if n > 0 {
		m.logger.Info(ctx, "sessions pruned", "count", n, "max_age", maxAge.String())
	}
	return n, nil
}

// Flush checkpoints every dirty working set. The shutdown path and the
// panic hook call this so an abrupt exit loses at most the writes since
// the last boundary.
func (m *Manager) Flush(ctx context.Context) error {
	m.mu.Lock()
	sets := make([]*WorkingSet, 0, len(m.working))
	for _, ws := range m.working {
		sets = append(sets, ws)
	}
	m.mu.Unlock()

	var firstErr error
	for _, ws := range sets {
		if err := ws.Checkpoint(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Close flushes all working sets with a bounded deadline.
func (m *Manager) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.Flush(ctx)
}
