package models

import "time"

// AgentRole is the broad specialization of a persona.
type AgentRole string

const (
	RoleCoordinator AgentRole = "coordinator"
	RoleCoder       AgentRole = "coder"
	RoleAnalyst     AgentRole = "analyst"
	RoleCreator     AgentRole = "creator"
	RoleMemory      AgentRole = "memory"
)

// AgentProfile defines a persona: a named bias applied on top of the same
// agent identity. It modifies allowed skills and model choices without
// replacing core values.
type AgentProfile struct {
	ID            string    `json:"agent_id"`
	Role          AgentRole `json:"role"`
	AllowedSkills []string  `json:"allowed_skills"`
	PrimaryModel  string    `json:"primary_model"`
	FallbackModel string    `json:"fallback_model"`
	FocusTags     []string  `json:"focus_tags,omitempty"`

	// Pheromone is the decaying reputation score in [0,1], cold-started at 0.5.
	Pheromone    float64   `json:"pheromone"`
	LastUpdateAt time.Time `json:"last_update_at"`
}

// HasSkill reports whether the persona may call the named skill.
func (a *AgentProfile) HasSkill(name string) bool {
	for _, s := range a.AllowedSkills {
		if s == name {
			return true
		}
	}
	return false
}

// JobState is the operational record for a scheduled heartbeat job. The
// declarative config file remains the source of truth for the schedule;
// only run outcomes live in the store.
type JobState struct {
	JobID     string    `json:"job_id"`
	Schedule  string    `json:"schedule"`
	Command   []byte    `json:"command,omitempty"`
	Delivery  string    `json:"delivery"`
	Enabled   bool      `json:"enabled"`
	LastRunAt time.Time `json:"last_run_at,omitempty"`
	LastError string    `json:"last_error,omitempty"`
}
