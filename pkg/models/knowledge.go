package models

import (
	"encoding/json"
	"time"
)

// KnowledgeEntity is a node in the knowledge graph.
type KnowledgeEntity struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	EntityType string          `json:"entity_type"`
	Properties json.RawMessage `json:"properties,omitempty"`

	// AutoGenerated marks machine-managed subgraphs that may be wiped and
	// rebuilt idempotently by the knowledge sync.
	AutoGenerated bool      `json:"auto_generated,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// KnowledgeRelation is a directed edge between two entities.
type KnowledgeRelation struct {
	ID            string          `json:"id"`
	FromID        string          `json:"from_id"`
	ToID          string          `json:"to_id"`
	RelationType  string          `json:"relation_type"`
	Properties    json.RawMessage `json:"properties,omitempty"`
	AutoGenerated bool            `json:"auto_generated,omitempty"`
}

// Pattern is a stored analysis result emitted by the pattern recognition job.
type Pattern struct {
	ID          string    `json:"id"`
	Signature   string    `json:"signature"`
	Template    string    `json:"template"`
	Examples    []string  `json:"examples,omitempty"`
	Confidence  float64   `json:"confidence"`
	UsageCount  int       `json:"usage_count"`
	SuccessRate float64   `json:"success_rate"`
	CreatedAt   time.Time `json:"created_at"`
	LastUsedAt  time.Time `json:"last_used_at"`
}
