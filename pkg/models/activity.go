package models

import (
	"encoding/json"
	"time"
)

// Activity is an append-only log row used by heartbeat reports and dashboards.
type Activity struct {
	ID        string          `json:"id"`
	Action    string          `json:"action"`
	Details   json.RawMessage `json:"details,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// SkillInvocation is the audit record for one tool call through the registry.
// Append-only.
type SkillInvocation struct {
	ID        string    `json:"id"`
	Skill     string    `json:"skill"`
	Tool      string    `json:"tool"`
	ArgsHash  string    `json:"args_hash"`
	Success   bool      `json:"success"`
	LatencyMS int64     `json:"latency_ms"`
	Tokens    int       `json:"tokens,omitempty"`
	Error     string    `json:"error,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
}
