// Package builtin holds the skills that ship with the runtime. They
// cover the agent's own state: goals, memories, and the knowledge graph.
package builtin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aria-ai/aria/internal/config"
	"github.com/aria-ai/aria/internal/errdefs"
	"github.com/aria-ai/aria/internal/skills"
	"github.com/aria-ai/aria/internal/store"
	"github.com/aria-ai/aria/pkg/models"
)

// KnowledgeSkill exposes the knowledge graph.
type KnowledgeSkill struct {
	store    *store.KnowledgeStore
	maxDepth int
}

// NewKnowledgeSkill wires the skill to the graph store.
func NewKnowledgeSkill(ks *store.KnowledgeStore) *KnowledgeSkill {
	return &KnowledgeSkill{store: ks, maxDepth: 3}
}

func (s *KnowledgeSkill) Name() string        { return "knowledge_graph" }
func (s *KnowledgeSkill) Layer() skills.Layer { return skills.LayerStore }

type upsertEntityArgs struct {
	Name       string          `json:"name"`
	EntityType string          `json:"entity_type"`
	Properties json.RawMessage `json:"properties,omitempty"`
}

type relateArgs struct {
	FromID       string `json:"from_id"`
	ToID         string `json:"to_id"`
	RelationType string `json:"relation_type"`
}

type traverseArgs struct {
	RootID string `json:"root_id"`
	Depth  int    `json:"depth,omitempty"`
}

type findArgs struct {
	Name       string `json:"name"`
	EntityType string `json:"entity_type,omitempty"`
}

func (s *KnowledgeSkill) Tools() []skills.Tool {
	return []skills.Tool{
		{
			Name:        "upsert_entity",
			Description: "Create or update an entity in the knowledge graph.",
			Schema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"name": {"type": "string"},
					"entity_type": {"type": "string"},
					"properties": {"type": "object"}
				},
				"required": ["name", "entity_type"]
			}`),
			Args: upsertEntityArgs{},
		},
		{
			Name:        "relate",
			Description: "Add a directed relation between two entities.",
			Schema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"from_id": {"type": "string"},
					"to_id": {"type": "string"},
					"relation_type": {"type": "string"}
				},
				"required": ["from_id", "to_id", "relation_type"]
			}`),
			Args: relateArgs{},
		},
		{
			Name:        "traverse",
			Description: "Walk the graph outward from an entity.",
			Schema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"root_id": {"type": "string"},
					"depth": {"type": "integer", "minimum": 1, "maximum": 5}
				},
				"required": ["root_id"]
			}`),
			Args: traverseArgs{},
		},
		{
			Name:        "find",
			Description: "Find entities by name substring.",
			Schema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"name": {"type": "string"},
					"entity_type": {"type": "string"}
				},
				"required": ["name"]
			}`),
			Args: findArgs{},
		},
		{
			Name:        "clear_auto_generated",
			Description: "Hard delete the machine-managed subgraph before a re-sync.",
			Schema:      json.RawMessage(`{"type": "object", "properties": {}}`),
		},
	}
}

// Initialize reads the optional graph_depth override from the descriptor.
func (s *KnowledgeSkill) Initialize(_ context.Context, settings config.SkillSettings) error {
	if v, ok := settings.Extra["graph_depth"]; ok {
		depth, ok := v.(int)
		if !ok || depth < 1 || depth > 5 {
			return fmt.Errorf("graph_depth must be an integer in [1,5], got %v", v)
		}
		s.maxDepth = depth
	}
	return nil
}

func (s *KnowledgeSkill) HealthCheck(ctx context.Context) error {
	_, err := s.store.FindEntities(ctx, "", "", 1)
	return err
}

func (s *KnowledgeSkill) Invoke(ctx context.Context, tool string, args json.RawMessage) (json.RawMessage, error) {
	switch tool {
	case "upsert_entity":
		var a upsertEntityArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, errdefs.Wrap(errdefs.KindValidation, err, "decode args")
		}
		id, err := s.store.UpsertEntity(ctx, &models.KnowledgeEntity{
			Name: a.Name, EntityType: a.EntityType, Properties: a.Properties,
		})
		if err != nil {
			return nil, err
		}
		return json.Marshal(map[string]string{"id": id})

	case "relate":
		var a relateArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, errdefs.Wrap(errdefs.KindValidation, err, "decode args")
		}
		rel := &models.KnowledgeRelation{
			FromID: a.FromID, ToID: a.ToID, RelationType: a.RelationType,
		}
		if err := s.store.AddRelation(ctx, rel); err != nil {
			return nil, err
		}
		return json.Marshal(map[string]string{"id": rel.ID})

	case "traverse":
		var a traverseArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, errdefs.Wrap(errdefs.KindValidation, err, "decode args")
		}
		depth := a.Depth
		if depth <= 0 || depth > s.maxDepth {
			depth = s.maxDepth
		}
		nbrs, err := s.store.Traverse(ctx, a.RootID, depth)
		if err != nil {
			return nil, err
		}
		type node struct {
			Entity   *models.KnowledgeEntity `json:"entity"`
			Relation string                  `json:"relation,omitempty"`
			Depth    int                     `json:"depth"`
		}
		out := make([]node, 0, len(nbrs))
		for _, n := range nbrs {
			nd := node{Entity: n.Entity, Depth: n.Depth}
			if n.Relation != nil {
				nd.Relation = n.Relation.RelationType
			}
			out = append(out, nd)
		}
		return json.Marshal(out)

	case "find":
		var a findArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, errdefs.Wrap(errdefs.KindValidation, err, "decode args")
		}
		entities, err := s.store.FindEntities(ctx, a.Name, a.EntityType, 50)
		if err != nil {
			return nil, err
		}
		return json.Marshal(entities)

	case "clear_auto_generated":
		n, err := s.store.ClearAutoGenerated(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(map[string]int64{"deleted": n})

	default:
		return nil, errdefs.New(errdefs.KindNotFound, "unknown tool %q", tool)
	}
}
