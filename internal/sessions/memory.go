package sessions

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/aria-ai/aria/internal/observability"
	"github.com/aria-ai/aria/internal/store"
	"github.com/aria-ai/aria/pkg/models"
)

// reconcileSkew decides startup conflicts between the in-memory set and
// the stored checkpoint: the stored row wins only when it is at least
// this much newer.
const reconcileSkew = time.Minute

// WorkingSet is the in-memory working memory for one session. The
// pipeline reads and writes it between messages; every checkpointEvery
// message boundaries the whole set flushes to the store in one
// transaction. One writer per session.
type WorkingSet struct {
	sessionID string
	memories  *store.MemoryStore
	logger    *observability.Logger
	now       func() time.Time
	every     int

	mu         sync.Mutex
	items      map[string]*models.WorkingMemoryItem
	boundaries int
	dirty      bool
}

func newWorkingSet(sessionID string, memories *store.MemoryStore, every int, logger *observability.Logger, now func() time.Time) *WorkingSet {
	if every <= 0 {
		every = 5
	}
	return &WorkingSet{
		sessionID: sessionID,
		memories:  memories,
		logger:    logger,
		now:       now,
		every:     every,
		items:     make(map[string]*models.WorkingMemoryItem),
	}
}

// Put stores or replaces a key. Importance is clamped to [0,1].
func (w *WorkingSet) Put(key string, value json.RawMessage, category string, importance float64) {
	if importance < 0 {
		importance = 0
	}
	if importance > 1 {
		importance = 1
	}
	now := w.now()

	w.mu.Lock()
	defer w.mu.Unlock()
	item, ok := w.items[key]
	if !ok {
		item = &models.WorkingMemoryItem{
			Key:       key,
			SessionID: w.sessionID,
			CreatedAt: now,
		}
		w.items[key] = item
	}
	item.Value = value
	item.Category = category
	item.Importance = importance
	item.AccessedAt = now
	w.dirty = true
}

// Get returns a copy of a key's item and bumps its access stats.
func (w *WorkingSet) Get(key string) (*models.WorkingMemoryItem, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	item, ok := w.items[key]
	if !ok {
		return nil, false
	}
	item.AccessedAt = w.now()
	item.AccessCount++
	w.dirty = true
	cp := *item
	return &cp, true
}

// Delete removes a key from the in-memory set.
func (w *WorkingSet) Delete(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.items[key]; ok {
		delete(w.items, key)
		w.dirty = true
	}
}

// Snapshot returns copies of every item, most important first.
func (w *WorkingSet) Snapshot() []*models.WorkingMemoryItem {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.snapshotLocked()
}

func (w *WorkingSet) snapshotLocked() []*models.WorkingMemoryItem {
	out := make([]*models.WorkingMemoryItem, 0, len(w.items))
	for _, item := range w.items {
		cp := *item
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Importance != out[j].Importance {
			return out[i].Importance > out[j].Importance
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// Len returns the number of keys held.
func (w *WorkingSet) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.items)
}

// MessageBoundary marks the end of one processed message and flushes
// the set when the boundary counter reaches the checkpoint interval.
func (w *WorkingSet) MessageBoundary(ctx context.Context) error {
	w.mu.Lock()
	w.boundaries++
	due := w.boundaries%w.every == 0
	w.mu.Unlock()
	if !due {
		return nil
	}
	return w.Checkpoint(ctx)
}

// Checkpoint writes the set to the store in one transaction. A clean
// set is a no-op.
func (w *WorkingSet) Checkpoint(ctx context.Context) error {
	w.mu.Lock()
	if !w.dirty {
		w.mu.Unlock()
		return nil
	}
	snapshot := w.snapshotLocked()
	w.mu.Unlock()

	if err := w.memories.CheckpointWorking(ctx, w.sessionID, snapshot); err != nil {
		return err
	}
	w.mu.Lock()
	w.dirty = false
	w.mu.Unlock()
	w.logger.Debug(ctx, "working memory checkpointed",
		"session_id", w.sessionID, "keys", len(snapshot))
	return nil
}

// restore merges the stored checkpoint with whatever is already in
// memory. Conflicts resolve by timestamp: a stored row less than a
// minute newer loses to memory; a minute or more newer wins.
func (w *WorkingSet) restore(ctx context.Context) error {
	w.mu.Lock()
	snapshot := w.snapshotLocked()
	w.mu.Unlock()

	if len(snapshot) > 0 {
		if err := w.memories.ReconcileWorking(ctx, w.sessionID, snapshot, reconcileSkew); err != nil {
			return err
		}
	}
	stored, err := w.memories.ListWorking(ctx, w.sessionID)
	if err != nil {
		return err
	}

	w.mu.Lock()
	memoryKeys := len(w.items)
	w.items = make(map[string]*models.WorkingMemoryItem, len(stored))
	for _, item := range stored {
		cp := *item
		w.items[item.Key] = &cp
	}
	w.dirty = false
	w.mu.Unlock()

	w.logger.Info(ctx, "working memory restored",
		"session_id", w.sessionID,
		"memory_keys", memoryKeys, "stored_keys", len(stored))
	return nil
}
