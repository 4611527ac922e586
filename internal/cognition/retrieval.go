package cognition

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"

	"github.com/aria-ai/aria/internal/observability"
	"github.com/aria-ai/aria/internal/store"
	"github.com/aria-ai/aria/pkg/models"
)

// Reciprocal rank fusion constants. Each source contributes
// weight/(k + rank) per item; duplicates accumulate across sources.
const (
	rrfK = 60

	weightSemantic = 1.0
	weightGraph    = 0.8
	weightMemory   = 0.6
)

// charsPerToken is the prose estimate used for the context budget.
const charsPerToken = 4

const defaultTokenBudget = 2000

// Source names the retrieval channel an item came from.
type Source string

const (
	SourceSemantic Source = "semantic"
	SourceGraph    Source = "graph"
	SourceMemory   Source = "memory"
)

// Item is one fused context snippet.
type Item struct {
	Content string
	Source  Source
	Score   float64
}

// Embedder turns text into vectors. The router client satisfies this.
type Embedder interface {
	Embed(ctx context.Context, inputs []string) ([][]float32, error)
}

// Retriever assembles the context window for one message: working
// memory, semantic search, and knowledge graph neighbors, merged by
// weighted reciprocal rank fusion and trimmed to the token budget.
type Retriever struct {
	memories    *store.MemoryStore
	knowledge   *store.KnowledgeStore
	embedder    Embedder
	logger      *observability.Logger
	tokenBudget int
}

// NewRetriever builds a retriever. A nil embedder disables the semantic
// channel; the other channels still contribute.
func NewRetriever(memories *store.MemoryStore, knowledge *store.KnowledgeStore, embedder Embedder, tokenBudget int, logger *observability.Logger) *Retriever {
	if tokenBudget <= 0 {
		tokenBudget = defaultTokenBudget
	}
	return &Retriever{
		memories:    memories,
		knowledge:   knowledge,
		embedder:    embedder,
		logger:      logger,
		tokenBudget: tokenBudget,
	}
}

// Context retrieves and fuses context for the query. Channel failures
// degrade the result instead of failing the message.
func (r *Retriever) Context(ctx context.Context, query string, working []*models.WorkingMemoryItem) []Item {
	var lists []rankedList

	if mem := memoryChannel(working); len(mem) > 0 {
		lists = append(lists, rankedList{source: SourceMemory, weight: weightMemory, items: mem})
	}
	if sem := r.semanticChannel(ctx, query); len(sem) > 0 {
		lists = append(lists, rankedList{source: SourceSemantic, weight: weightSemantic, items: sem})
	}
	if graph := r.graphChannel(ctx, query); len(graph) > 0 {
		lists = append(lists, rankedList{source: SourceGraph, weight: weightGraph, items: graph})
	}

	fused := fuse(lists, rrfK)
	return trimToBudget(fused, r.tokenBudget)
}

// memoryChannel renders working memory, already importance-ordered.
func memoryChannel(working []*models.WorkingMemoryItem) []string {
	out := make([]string, 0, len(working))
	for _, item := range working {
		out = append(out, fmt.Sprintf("%s: %s", item.Key, string(item.Value)))
	}
	return out
}

func (r *Retriever) semanticChannel(ctx context.Context, query string) []string {
	if r.embedder == nil {
		return nil
	}
	vecs, err := r.embedder.Embed(ctx, []string{query})
	if err != nil || len(vecs) == 0 {
		r.logger.Debug(ctx, "semantic channel skipped", "error", err)
		return nil
	}
	results, err := r.memories.SearchSemantic(ctx, vecs[0], 10)
	if err != nil {
		r.logger.Warn(ctx, "semantic search failed", "error", err)
		return nil
	}
	out := make([]string, 0, len(results))
	for _, res := range results {
		out = append(out, res.Memory.Content)
	}
	return out
}

// graphChannel looks up entities matching the query's keywords and
// renders their immediate neighborhoods.
func (r *Retriever) graphChannel(ctx context.Context, query string) []string {
	var out []string
	for _, kw := range keywords(query) {
		if len(out) >= 10 {
			break
		}
		entities, err := r.knowledge.FindEntities(ctx, kw, "", 3)
		if err != nil {
			r.logger.Warn(ctx, "graph lookup failed", "keyword", kw, "error", err)
			return out
		}
		for _, ent := range entities {
			hood, err := r.knowledge.Traverse(ctx, ent.ID, 1)
			if err != nil {
				continue
			}
			for _, n := range hood {
				if n.Relation == nil {
					continue
				}
				out = append(out, fmt.Sprintf("%s %s %s",
					ent.Name, n.Relation.RelationType, n.Entity.Name))
			}
		}
	}
	return out
}

type rankedList struct {
	source Source
	weight float64
	items  []string
}

// fuse merges ranked lists by weighted reciprocal rank fusion. Items
// are deduplicated by a hash of their normalized content; a duplicate
// accumulates score from every list it appears in and keeps the source
// of its first appearance.
func fuse(lists []rankedList, k int) []Item {
	type slot struct {
		item  Item
		order int
	}
	byHash := make(map[uint64]*slot)
	order := 0

	for _, list := range lists {
		for rank, content := range list.items {
			h := contentHash(content)
			contribution := list.weight / float64(k+rank+1)
			if s, ok := byHash[h]; ok {
				s.item.Score += contribution
				continue
			}
			byHash[h] = &slot{
				item:  Item{Content: content, Source: list.source, Score: contribution},
				order: order,
			}
			order++
		}
	}

	slots := make([]*slot, 0, len(byHash))
	for _, s := range byHash {
		slots = append(slots, s)
	}
	sort.Slice(slots, func(i, j int) bool {
		if slots[i].item.Score != slots[j].item.Score {
			return slots[i].item.Score > slots[j].item.Score
		}
		return slots[i].order < slots[j].order
	})

	out := make([]Item, len(slots))
	for i, s := range slots {
		out[i] = s.item
	}
	return out
}

// trimToBudget keeps the top items whose cumulative estimated token
// count fits the budget.
func trimToBudget(items []Item, tokenBudget int) []Item {
	budget := tokenBudget * charsPerToken
	used := 0
	for i, item := range items {
		used += len(item.Content)
		if used > budget {
			return items[:i]
		}
	}
	return items
}

func contentHash(content string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(strings.ToLower(strings.TrimSpace(content))))
	return h.Sum64()
}

// Render joins fused items into a prompt block.
func Render(items []Item) string {
	var b strings.Builder
	for _, item := range items {
		b.WriteString("- ")
		b.WriteString(item.Content)
		b.WriteByte('\n')
	}
	return b.String()
}
