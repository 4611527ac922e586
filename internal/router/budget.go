package router

import (
	"sync"
	"time"

	"github.com/aria-ai/aria/internal/errdefs"
)

// Budget tracks daily token spend. The day boundary is UTC midnight;
// crossing it resets the counter. A zero limit disables enforcement.
type Budget struct {
	mu    sync.Mutex
	limit int64
	spent int64
	day   time.Time
	now   func() time.Time
}

// NewBudget creates a tracker with the given daily token limit.
func NewBudget(limit int64, now func() time.Time) *Budget {
	if now == nil {
		now = time.Now
	}
	return &Budget{limit: limit, now: now, day: dayOf(now())}
}

// Check fails with BudgetExceeded once the day's spend reaches the limit.
func (b *Budget) Check() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.rollover()
	if b.limit > 0 && b.spent >= b.limit {
		return errdefs.New(errdefs.KindBudgetExceeded,
			"daily token budget exhausted: %d of %d spent", b.spent, b.limit)
	}
	return nil
}

// Spend records tokens against the current day.
func (b *Budget) Spend(tokens int64) {
	if tokens <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollover()
	b.spent += tokens
}

// Spent returns the current day's running total.
func (b *Budget) Spent() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rollover()
	return b.spent
}

// Limit returns the configured daily limit. Zero means unlimited.
func (b *Budget) Limit() int64 {
	return b.limit
}

func (b *Budget) rollover() {
	today := dayOf(b.now())
	if !today.Equal(b.day) {
		b.day = today
		b.spent = 0
	}
}

func dayOf(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}
