package models

import (
	"encoding/json"
	"time"
)

// WorkingMemoryItem is a short-lived, per-session key/value entry.
// Keys are unique per session, or globally when SessionID is empty.
type WorkingMemoryItem struct {
	Key         string          `json:"key"`
	Value       json.RawMessage `json:"value"`
	Category    string          `json:"category,omitempty"`
	Importance  float64         `json:"importance"`
	SessionID   string          `json:"session_id,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	AccessedAt  time.Time       `json:"accessed_at"`
	AccessCount int             `json:"access_count"`
}

// SemanticMemory is a long-term memory entry with an embedding supplied by
// the model router. The embedding is opaque to the core; its dimension is
// declared in the model catalog. Entries are never mutated after insert.
type SemanticMemory struct {
	ID         string          `json:"id"`
	Content    string          `json:"content"`
	Category   string          `json:"category,omitempty"`
	Importance float64         `json:"importance"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	Embedding  []float32       `json:"-"`
	CreatedAt  time.Time       `json:"created_at"`

	// CompressedInto references the summary memory that subsumed this entry.
	// Empty for entries that have not been compressed.
	CompressedInto string `json:"compressed_into,omitempty"`
}

// SearchResult pairs a semantic memory with its similarity score.
type SearchResult struct {
	Memory *SemanticMemory `json:"memory"`
	Score  float32         `json:"score"`
}

// Memory categories used by the cognition pipeline.
const (
	CategorySentiment         = "sentiment"
	CategoryCompressedRecent  = "compressed_recent"
	CategoryCompressedArchive = "compressed_archive"
)
