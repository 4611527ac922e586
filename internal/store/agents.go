package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// AgentStore persists per-agent pheromone state. Persona definitions
// live in config; only the learned score survives restarts.
type AgentStore struct {
	db *sql.DB
}

// PheromoneState is one agent's stored score.
type PheromoneState struct {
	AgentID      string
	Pheromone    float64
	LastUpdateAt time.Time
}

// GetPheromone returns the stored score. Unknown agents cold-start at
// 0.5 with a zero timestamp.
func (s *AgentStore) GetPheromone(ctx context.Context, agentID string) (PheromoneState, error) {
	st := PheromoneState{AgentID: agentID, Pheromone: 0.5}
	err := s.db.QueryRowContext(ctx,
		`SELECT pheromone, last_update_at FROM agent_state WHERE id = ?`,
		agentID).Scan(&st.Pheromone, &st.LastUpdateAt)
	if err == sql.ErrNoRows {
		return st, nil
	}
	if err != nil {
		return st, fmt.Errorf("get pheromone: %w", err)
	}
	return st, nil
}

// SetPheromone writes the score and update timestamp.
func (s *AgentStore) SetPheromone(ctx context.Context, agentID string, value float64, at time.Time) error {
	if agentID == "" {
		return fmt.Errorf("agent id is required")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO agent_state (id, pheromone, last_update_at) VALUES (?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   pheromone = excluded.pheromone,
		   last_update_at = excluded.last_update_at`,
		agentID, value, at.UTC())
	if err != nil {
		return fmt.Errorf("set pheromone: %w", err)
	}
	return nil
}
