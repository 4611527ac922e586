package cognition

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aria-ai/aria/internal/observability"
	"github.com/aria-ai/aria/internal/store"
	"github.com/aria-ai/aria/pkg/models"
)

// patternWindow is the sliding window the recognizer scans.
const patternWindow = 30 * 24 * time.Hour

// Detection thresholds.
const (
	minFrequency  = 5   // occurrences for a frequent-topic pattern
	growthFactor  = 2.0 // recent vs historical daily rate for emerging
	gapThreshold  = 3   // repeated unanswered questions for a gap
	temporalShare = 0.3 // hour-of-day concentration for temporal
)

// Recognizer is the scheduled batch job that scans recent activities
// for recurring topics and emits Pattern records.
type Recognizer struct {
	activities *store.ActivityStore
	knowledge  *store.KnowledgeStore
	logger     *observability.Logger
	now        func() time.Time
}

// NewRecognizer builds a pattern recognizer.
func NewRecognizer(activities *store.ActivityStore, knowledge *store.KnowledgeStore, logger *observability.Logger) *Recognizer {
	return &Recognizer{
		activities: activities,
		knowledge:  knowledge,
		logger:     logger,
		now:        time.Now,
	}
}

// topicStats accumulates one topic's occurrences inside the window.
type topicStats struct {
	total     int
	recent    int // last 7 days
	questions int
	answered  int
	examples  []string
	hours     [24]int
}

// Run scans the window and upserts every detected pattern. Returns the
// patterns written.
func (r *Recognizer) Run(ctx context.Context) ([]*models.Pattern, error) {
	now := r.now()
	acts, err := r.activities.ListSince(ctx, now.Add(-patternWindow))
	if err != nil {
		return nil, err
	}

	stats := make(map[string]*topicStats)
	recentCutoff := now.Add(-7 * 24 * time.Hour)
	for _, act := range acts {
		text := activityText(act)
		if text == "" {
			continue
		}
		isQuestion := strings.Contains(text, "?")
		for _, topic := range keywords(text) {
			ts, ok := stats[topic]
			if !ok {
				ts = &topicStats{}
				stats[topic] = ts
			}
			ts.total++
			if act.CreatedAt.After(recentCutoff) {
				ts.recent++
			}
			if isQuestion {
				ts.questions++
			} else {
				ts.answered++
			}
			ts.hours[act.CreatedAt.UTC().Hour()]++
			if len(ts.examples) < 3 {
				ts.examples = append(ts.examples, text)
			}
		}
	}

	var out []*models.Pattern
	for topic, ts := range stats {
		for _, p := range detect(topic, ts) {
			if err := r.knowledge.UpsertPattern(ctx, p); err != nil {
				return out, err
			}
			out = append(out, p)
		}
	}
	if len(out) > 0 {
		r.logger.Info(ctx, "patterns detected", "count", len(out))
	}
	return out, nil
}

// detect applies the four triggers to one topic's stats.
func detect(topic string, ts *topicStats) []*models.Pattern {
	var out []*models.Pattern

	if ts.total >= minFrequency {
		out = append(out, &models.Pattern{
			Signature:  "frequency:" + topic,
			Template:   fmt.Sprintf("topic %q recurs often", topic),
			Examples:   ts.examples,
			Confidence: clampConfidence(float64(ts.total) / float64(2*minFrequency)),
			UsageCount: ts.total,
		})
	}

	historical := ts.total - ts.recent
	recentRate := float64(ts.recent) / 7
	historicalRate := float64(historical) / 23
	emerging := (historical == 0 && ts.recent >= 3) ||
		(historical > 0 && recentRate/historicalRate >= growthFactor)
	if emerging {
		out = append(out, &models.Pattern{
			Signature:  "emerging:" + topic,
			Template:   fmt.Sprintf("interest in %q is growing", topic),
			Examples:   ts.examples,
			Confidence: clampConfidence(recentRate / (historicalRate*growthFactor + 0.5)),
			UsageCount: ts.recent,
		})
	}

	if ts.questions >= gapThreshold && ts.answered == 0 {
		out = append(out, &models.Pattern{
			Signature:  "gap:" + topic,
			Template:   fmt.Sprintf("questions about %q go unanswered", topic),
			Examples:   ts.examples,
			Confidence: clampConfidence(float64(ts.questions) / float64(2*gapThreshold)),
			UsageCount: ts.questions,
		})
	}

	if ts.total >= minFrequency {
		peak := 0
		peakHour := 0
		for hour, n := range ts.hours {
			if n > peak {
				peak = n
				peakHour = hour
			}
		}
		if share := float64(peak) / float64(ts.total); share > temporalShare {
			out = append(out, &models.Pattern{
				Signature:  "temporal:" + topic,
				Template:   fmt.Sprintf("topic %q concentrates around %02d:00 UTC", topic, peakHour),
				Examples:   ts.examples,
				Confidence: clampConfidence(share),
				UsageCount: ts.total,
			})
		}
	}
	return out
}

// activityText pulls the human text out of an activity's details.
func activityText(act *models.Activity) string {
	if len(act.Details) == 0 {
		return ""
	}
	var details map[string]any
	if err := json.Unmarshal(act.Details, &details); err != nil {
		return ""
	}
	for _, key := range []string{"message", "text", "reply"} {
		if v, ok := details[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func clampConfidence(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
