package skills

import (
	"context"
	"sync"
	"time"

	"github.com/aria-ai/aria/internal/observability"
	"github.com/aria-ai/aria/internal/store"
	"github.com/aria-ai/aria/pkg/models"
)

// Auditor buffers invocation records and flushes them to the store in
// batches. Recording never blocks an invocation; a full buffer drops
// the oldest row and logs it.
type Auditor struct {
	mu      sync.Mutex
	buf     []*models.SkillInvocation
	maxBuf  int
	store   *store.InvocationStore
	logger  *observability.Logger
	ticker  *time.Ticker
	done    chan struct{}
	stopped sync.Once
}

// NewAuditor starts the flush loop. Call Close to flush and stop.
func NewAuditor(invStore *store.InvocationStore, logger *observability.Logger, flushEvery time.Duration) *Auditor {
	if flushEvery <= 0 {
		flushEvery = 5 * time.Second
	}
	a := &Auditor{
		maxBuf: 1024,
		store:  invStore,
		logger: logger,
		ticker: time.NewTicker(flushEvery),
		done:   make(chan struct{}),
	}
	go a.loop()
	return a
}

// Record enqueues one audit row.
func (a *Auditor) Record(inv *models.SkillInvocation) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.buf) >= a.maxBuf {
		a.buf = a.buf[1:]
		a.logger.Warn(context.Background(), "audit buffer full, dropping oldest row")
	}
	a.buf = append(a.buf, inv)
}

// Flush writes the buffered rows now.
func (a *Auditor) Flush(ctx context.Context) error {
	a.mu.Lock()
	batch := a.buf
	a.buf = nil
	a.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	if err := a.store.RecordBatch(ctx, batch); err != nil {
		// Put the batch back so the next flush retries it.
		a.mu.Lock()
		a.buf = append(batch, a.buf...)
		a.mu.Unlock()
		return err
	}
	return nil
}

// Close flushes outstanding rows and stops the loop.
func (a *Auditor) Close() error {
	var err error
	a.stopped.Do(func() {
		close(a.done)
		a.ticker.Stop()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = a.Flush(ctx)
	})
	return err
}

func (a *Auditor) loop() {
	for {
		select {
		case <-a.done:
			return
		case <-a.ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := a.Flush(ctx); err != nil {
				a.logger.Warn(ctx, "audit flush failed", "error", err)
			}
			cancel()
		}
	}
}
