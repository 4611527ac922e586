package cognition

import (
	"context"
	"sort"
	"time"

	"github.com/aria-ai/aria/internal/observability"
	"github.com/aria-ai/aria/internal/store"
	"github.com/aria-ai/aria/pkg/models"
)

// Tier boundaries. The newest hotWindow raw items stay untouched; the
// next recentWindow compress to roughly 30% of their text; everything
// older compresses to roughly 10%.
const (
	hotWindow    = 20
	recentWindow = 100

	// keepRatio is the share of highest-scoring items quoted verbatim in
	// the summarization prompt so nothing important depends on recall.
	keepRatio = 0.3
)

// Importance scoring weights for picking what a summary must preserve.
const (
	scoreRecency      = 0.4
	scoreSignificance = 0.3
	scoreCategory     = 0.2
	scoreLength       = 0.1
)

// categoryWeights biases compression toward keeping decisions and goals
// over ambient chatter.
var categoryWeights = map[string]float64{
	"decision":               0.9,
	"goal":                   0.8,
	"fact":                   0.7,
	"":                       0.5,
	models.CategorySentiment: 0.2,
}

const recentInstructions = "Summarize the following memory items to about 30% of their length. " +
	"Preserve every named entity, number, date, and decision exactly as written. Output plain prose."

const archiveInstructions = "Summarize the following memory items to about 10% of their length. " +
	"Preserve every named entity, number, date, and decision exactly as written. Output plain prose."

// Summarizer produces the compressed text. The router-backed model
// adapter satisfies this.
type Summarizer interface {
	Summarize(ctx context.Context, instructions string, texts []string) (string, error)
}

// Compressor folds old semantic memories into summary tiers. Sources
// are marked compressed with a reference to the summary, never deleted.
type Compressor struct {
	memories   *store.MemoryStore
	summarizer Summarizer
	embedder   Embedder
	logger     *observability.Logger
	now        func() time.Time
}

// NewCompressor builds a compressor.
func NewCompressor(memories *store.MemoryStore, summarizer Summarizer, embedder Embedder, logger *observability.Logger) *Compressor {
	return &Compressor{
		memories:   memories,
		summarizer: summarizer,
		embedder:   embedder,
		logger:     logger,
		now:        time.Now,
	}
}

// Run compresses everything past the hot window and returns the number
// of raw items folded into summaries.
func (c *Compressor) Run(ctx context.Context) (int, error) {
	all, err := c.memories.ListRecentSemantic(ctx, "", 500)
	if err != nil {
		return 0, err
	}

	// Summaries from prior runs live alongside raw items; only raw items
	// are compression candidates.
	var raw []*models.SemanticMemory
	for _, m := range all {
		if m.Category == models.CategoryCompressedRecent || m.Category == models.CategoryCompressedArchive {
			continue
		}
		raw = append(raw, m)
	}
	if len(raw) <= hotWindow {
		return 0, nil
	}

	compressed := 0
	recentEnd := hotWindow + recentWindow
	if recentEnd > len(raw) {
		recentEnd = len(raw)
	}

	if n, err := c.compressTier(ctx, raw[hotWindow:recentEnd],
		models.CategoryCompressedRecent, recentInstructions); err != nil {
		return compressed, err
	} else {
		compressed += n
	}
	if recentEnd < len(raw) {
		n, err := c.compressTier(ctx, raw[recentEnd:],
			models.CategoryCompressedArchive, archiveInstructions)
		if err != nil {
			return compressed, err
		}
		compressed += n
	}
	return compressed, nil
}

func (c *Compressor) compressTier(ctx context.Context, items []*models.SemanticMemory, category, instructions string) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}
	now := c.now()

	// Score every item and lead the prompt with the top keepRatio so the
	// summary anchors on what matters.
	scored := make([]*models.SemanticMemory, len(items))
	copy(scored, items)
	scores := make(map[string]float64, len(items))
	maxLen := 1
	oldest := now
	for _, m := range items {
		if len(m.Content) > maxLen {
			maxLen = len(m.Content)
		}
		if m.CreatedAt.Before(oldest) {
			oldest = m.CreatedAt
		}
	}
	span := now.Sub(oldest)
	for _, m := range items {
		recency := 1.0
		if span > 0 {
			recency = 1 - now.Sub(m.CreatedAt).Seconds()/span.Seconds()
		}
		scores[m.ID] = scoreRecency*recency +
			scoreSignificance*m.Importance +
			scoreCategory*categoryWeight(m.Category) +
			scoreLength*float64(len(m.Content))/float64(maxLen)
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scores[scored[i].ID] > scores[scored[j].ID]
	})

	keep := int(float64(len(scored))*keepRatio + 0.5)
	if keep < 1 {
		keep = 1
	}
	texts := make([]string, 0, len(scored))
	maxImportance := 0.0
	for i, m := range scored {
		if i < keep {
			texts = append(texts, "[must preserve] "+m.Content)
		} else {
			texts = append(texts, m.Content)
		}
		if m.Importance > maxImportance {
			maxImportance = m.Importance
		}
	}

	summaryText, err := c.summarizer.Summarize(ctx, instructions, texts)
	if err != nil {
		return 0, err
	}
	summary := &models.SemanticMemory{
		Content:    summaryText,
		Category:   category,
		Importance: maxImportance,
	}
	if c.embedder != nil {
		if vecs, embErr := c.embedder.Embed(ctx, []string{summaryText}); embErr == nil && len(vecs) == 1 {
			summary.Embedding = vecs[0]
		} else if embErr != nil {
			c.logger.Warn(ctx, "summary embedding failed", "error", embErr)
		}
	}
	if err := c.memories.AddSemantic(ctx, summary); err != nil {
		return 0, err
	}

	ids := make([]string, len(items))
	for i, m := range items {
		ids[i] = m.ID
	}
	if err := c.memories.MarkCompressed(ctx, ids, summary.ID); err != nil {
		return 0, err
	}
	c.logger.Info(ctx, "memories compressed",
		"tier", category, "sources", len(ids), "summary_id", summary.ID)
	return len(ids), nil
}

func categoryWeight(category string) float64 {
	if w, ok := categoryWeights[category]; ok {
		return w
	}
	return 0.5
}
