package models

import "time"

// GoalStatus is the lifecycle state of a goal.
type GoalStatus string

const (
	GoalActive     GoalStatus = "active"
	GoalInProgress GoalStatus = "in_progress"
	GoalCompleted  GoalStatus = "completed"
	GoalPaused     GoalStatus = "paused"
)

// Goal is a tracked objective on the agent's board.
//
// Priority is ascending: 1 is highest, 5 is lowest. Within a board column
// goals are ordered by Position. CompletedAt is non-nil exactly when
// Status is GoalCompleted.
type Goal struct {
	ID           string     `json:"goal_id"`
	Title        string     `json:"title"`
	Description  string     `json:"description,omitempty"`
	Status       GoalStatus `json:"status"`
	Priority     int        `json:"priority"`
	Progress     int        `json:"progress"`
	DueAt        *time.Time `json:"due_at,omitempty"`
	ParentGoalID string     `json:"parent_goal_id,omitempty"`
	SprintID     string     `json:"sprint_id,omitempty"`
	BoardColumn  string     `json:"board_column,omitempty"`
	Position     int        `json:"position"`
	CreatedAt    time.Time  `json:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at"`
}
