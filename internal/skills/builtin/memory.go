package builtin

import (
	"context"
	"encoding/json"

	"github.com/aria-ai/aria/internal/config"
	"github.com/aria-ai/aria/internal/errdefs"
	"github.com/aria-ai/aria/internal/router"
	"github.com/aria-ai/aria/internal/skills"
	"github.com/aria-ai/aria/internal/store"
	"github.com/aria-ai/aria/pkg/models"
)

// MemorySkill stores and searches semantic memories. Embeddings come
// from the model router, which makes this a token-spending skill.
type MemorySkill struct {
	store  *store.MemoryStore
	router *router.Client
}

// NewMemorySkill wires the skill to the memory store and router.
func NewMemorySkill(ms *store.MemoryStore, rc *router.Client) *MemorySkill {
	return &MemorySkill{store: ms, router: rc}
}

func (s *MemorySkill) Name() string        { return "memory" }
func (s *MemorySkill) Layer() skills.Layer { return skills.LayerModel }

type rememberArgs struct {
	Content    string  `json:"content"`
	Category   string  `json:"category,omitempty"`
	Importance float64 `json:"importance,omitempty"`
}

type searchArgs struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

func (s *MemorySkill) Tools() []skills.Tool {
	return []skills.Tool{
		{
			Name:        "remember",
			Description: "Store a long-term memory with an embedding.",
			Schema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"content": {"type": "string", "minLength": 1},
					"category": {"type": "string"},
					"importance": {"type": "number", "minimum": 0, "maximum": 1}
				},
				"required": ["content"]
			}`),
			Args: rememberArgs{},
		},
		{
			Name:        "search",
			Description: "Search memories by semantic similarity.",
			Schema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"query": {"type": "string", "minLength": 1},
					"limit": {"type": "integer", "minimum": 1, "maximum": 50}
				},
				"required": ["query"]
			}`),
			Args: searchArgs{},
		},
	}
}

func (s *MemorySkill) Initialize(context.Context, config.SkillSettings) error { return nil }

func (s *MemorySkill) HealthCheck(ctx context.Context) error {
	_, err := s.store.ListRecentSemantic(ctx, "", 1)
	return err
}

func (s *MemorySkill) Invoke(ctx context.Context, tool string, args json.RawMessage) (json.RawMessage, error) {
	switch tool {
	case "remember":
		var a rememberArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, errdefs.Wrap(errdefs.KindValidation, err, "decode args")
		}
		vecs, err := s.router.Embed(ctx, []string{a.Content})
		if err != nil {
			return nil, err
		}
		importance := a.Importance
		if importance == 0 {
			importance = 0.5
		}
		mem := &models.SemanticMemory{
			Content:    a.Content,
			Category:   a.Category,
			Importance: importance,
			Embedding:  vecs[0],
		}
		if err := s.store.AddSemantic(ctx, mem); err != nil {
			return nil, err
		}
		return json.Marshal(map[string]string{"id": mem.ID})

	case "search":
		var a searchArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, errdefs.Wrap(errdefs.KindValidation, err, "decode args")
		}
		vecs, err := s.router.Embed(ctx, []string{a.Query})
		if err != nil {
			return nil, err
		}
		limit := a.Limit
		if limit <= 0 {
			limit = 10
		}
		results, err := s.store.SearchSemantic(ctx, vecs[0], limit)
		if err != nil {
			return nil, err
		}
		return json.Marshal(results)

	default:
		return nil, errdefs.New(errdefs.KindNotFound, "unknown tool %q", tool)
	}
}
