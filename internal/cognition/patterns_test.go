package cognition

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/aria-ai/aria/internal/observability"
	"github.com/aria-ai/aria/internal/store"
	"github.com/aria-ai/aria/pkg/models"
)

func seedActivity(t *testing.T, st *store.Store, text string, at time.Time) {
	t.Helper()
	details, _ := json.Marshal(map[string]string{"message": text})
	if err := st.Activities.Record(context.Background(), &models.Activity{
		Action: "message_processed", Details: details, CreatedAt: at,
	}); err != nil {
		t.Fatalf("seed activity: %v", err)
	}
}

func newTestRecognizer(t *testing.T, now time.Time) (*Recognizer, *store.Store) {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	r := NewRecognizer(st.Activities, st.Knowledge,
		observability.NewLogger(observability.LogConfig{Level: "error"}))
	r.now = func() time.Time { return now }
	return r, st
}

func findPattern(patterns []*models.Pattern, signature string) *models.Pattern {
	for _, p := range patterns {
		if p.Signature == signature {
			return p
		}
	}
	return nil
}

func TestFrequencyPattern(t *testing.T) {
	now := time.Date(2026, 3, 20, 12, 0, 0, 0, time.UTC)
	r, st := newTestRecognizer(t, now)

	// Six mentions spread over three weeks, at varying hours so the
	// temporal trigger stays quiet.
	for i := 0; i < 6; i++ {
		at := now.Add(-time.Duration(i*3*24+i*5) * time.Hour)
		seedActivity(t, st, "migrating the postgres database again", at)
	}

	patterns, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	p := findPattern(patterns, "frequency:postgres")
	if p == nil {
		t.Fatalf("no frequency pattern, got %+v", signatures(patterns))
	}
	if p.Confidence <= 0 || p.Confidence > 1 {
		t.Errorf("confidence = %v, want (0,1]", p.Confidence)
	}
}

func TestKnowledgeGapPattern(t *testing.T) {
	now := time.Date(2026, 3, 20, 12, 0, 0, 0, time.UTC)
	r, st := newTestRecognizer(t, now)

	for i := 0; i < 3; i++ {
		at := now.Add(-time.Duration(i*48+i) * time.Hour)
		seedActivity(t, st, "how does the terraform state locking work?", at)
	}

	patterns, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if findPattern(patterns, "gap:terraform") == nil {
		t.Errorf("no gap pattern, got %v", signatures(patterns))
	}
}

func TestAnsweredQuestionsAreNotAGap(t *testing.T) {
	now := time.Date(2026, 3, 20, 12, 0, 0, 0, time.UTC)
	r, st := newTestRecognizer(t, now)

	for i := 0; i < 3; i++ {
		at := now.Add(-time.Duration(i*48+i) * time.Hour)
		seedActivity(t, st, "how does the terraform state locking work?", at)
	}
	seedActivity(t, st, "terraform state locking uses a dynamodb table", now.Add(-time.Hour))

	patterns, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if findPattern(patterns, "gap:terraform") != nil {
		t.Error("gap pattern emitted despite an answer in the window")
	}
}

func TestEmergingPattern(t *testing.T) {
	now := time.Date(2026, 3, 20, 12, 0, 0, 0, time.UTC)
	r, st := newTestRecognizer(t, now)

	// All mentions inside the last week, none before.
	for i := 0; i < 4; i++ {
		at := now.Add(-time.Duration(i*24+i) * time.Hour)
		seedActivity(t, st, "thinking about the grafana dashboards", at)
	}

	patterns, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if findPattern(patterns, "emerging:grafana") == nil {
		t.Errorf("no emerging pattern, got %v", signatures(patterns))
	}
}

func TestTemporalPattern(t *testing.T) {
	now := time.Date(2026, 3, 20, 12, 0, 0, 0, time.UTC)
	r, st := newTestRecognizer(t, now)

	// Every mention lands at 09:00.
	for i := 0; i < 6; i++ {
		at := time.Date(2026, 3, 19-i*2, 9, 0, 0, 0, time.UTC)
		seedActivity(t, st, "standup notes for the revenue report", at)
	}

	patterns, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	p := findPattern(patterns, "temporal:revenue")
	if p == nil {
		t.Fatalf("no temporal pattern, got %v", signatures(patterns))
	}
	if p.Template == "" || p.Confidence <= temporalShare {
		t.Errorf("pattern = %+v, want confidence above the share threshold", p)
	}
}

func TestRunIsIdempotent(t *testing.T) {
	now := time.Date(2026, 3, 20, 12, 0, 0, 0, time.UTC)
	r, st := newTestRecognizer(t, now)

	for i := 0; i < 6; i++ {
		at := now.Add(-time.Duration(i*3*24+i*5) * time.Hour)
		seedActivity(t, st, "migrating the postgres database again", at)
	}

	if _, err := r.Run(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if _, err := r.Run(context.Background()); err != nil {
		t.Fatalf("second run: %v", err)
	}
	stored, err := st.Knowledge.ListPatterns(context.Background(), 0, 100)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	seen := map[string]int{}
	for _, p := range stored {
		seen[p.Signature]++
	}
	for sig, n := range seen {
		if n != 1 {
			t.Errorf("signature %s stored %d times, want 1", sig, n)
		}
	}
}

func signatures(patterns []*models.Pattern) []string {
	out := make([]string, len(patterns))
	for i, p := range patterns {
		out[i] = p.Signature
	}
	return out
}
