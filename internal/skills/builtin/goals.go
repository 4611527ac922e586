package builtin

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aria-ai/aria/internal/config"
	"github.com/aria-ai/aria/internal/errdefs"
	"github.com/aria-ai/aria/internal/skills"
	"github.com/aria-ai/aria/internal/store"
	"github.com/aria-ai/aria/pkg/models"
)

// GoalsSkill exposes the goal board.
type GoalsSkill struct {
	store *store.GoalStore
}

// NewGoalsSkill wires the skill to the goal store.
func NewGoalsSkill(gs *store.GoalStore) *GoalsSkill {
	return &GoalsSkill{store: gs}
}

func (s *GoalsSkill) Name() string        { return "goals" }
func (s *GoalsSkill) Layer() skills.Layer { return skills.LayerCore }

type createGoalArgs struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Priority    int    `json:"priority,omitempty"`
	DueAt       string `json:"due_at,omitempty"`
}

type updateGoalArgs struct {
	ID       string `json:"id"`
	Status   string `json:"status,omitempty"`
	Progress int    `json:"progress,omitempty"`
	Priority int    `json:"priority,omitempty"`
}

type listGoalsArgs struct {
	Status string `json:"status,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Cursor string `json:"cursor,omitempty"`
}

func (s *GoalsSkill) Tools() []skills.Tool {
	return []skills.Tool{
		{
			Name:        "create",
			Description: "Create a goal on the board.",
			Schema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"title": {"type": "string", "minLength": 1},
					"description": {"type": "string"},
					"priority": {"type": "integer", "minimum": 1, "maximum": 5},
					"due_at": {"type": "string", "format": "date-time"}
				},
				"required": ["title"]
			}`),
			Args: createGoalArgs{},
		},
		{
			Name:        "update",
			Description: "Update a goal's status, progress, or priority.",
			Schema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"id": {"type": "string"},
					"status": {"type": "string", "enum": ["active", "in_progress", "completed", "paused"]},
					"progress": {"type": "integer", "minimum": 0, "maximum": 100},
					"priority": {"type": "integer", "minimum": 1, "maximum": 5}
				},
				"required": ["id"]
			}`),
			Args: updateGoalArgs{},
		},
		{
			Name:        "list",
			Description: "List goals by status, highest priority first.",
			Schema: json.RawMessage(`{
				"type": "object",
				"properties": {
					"status": {"type": "string", "enum": ["active", "in_progress", "completed", "paused"]},
					"limit": {"type": "integer", "minimum": 1, "maximum": 100},
					"cursor": {"type": "string"}
				}
			}`),
			Args: listGoalsArgs{},
		},
	}
}

func (s *GoalsSkill) Initialize(context.Context, config.SkillSettings) error { return nil }

func (s *GoalsSkill) HealthCheck(ctx context.Context) error {
	_, _, err := s.store.ListActive(ctx, 1, "")
	return err
}

func (s *GoalsSkill) Invoke(ctx context.Context, tool string, args json.RawMessage) (json.RawMessage, error) {
	switch tool {
	case "create":
		var a createGoalArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, errdefs.Wrap(errdefs.KindValidation, err, "decode args")
		}
		goal := &models.Goal{
			Title:       a.Title,
			Description: a.Description,
			Priority:    a.Priority,
		}
		if a.DueAt != "" {
			due, err := time.Parse(time.RFC3339, a.DueAt)
			if err != nil {
				return nil, errdefs.Wrap(errdefs.KindValidation, err, "parse due_at")
			}
			goal.DueAt = &due
		}
		if err := s.store.Create(ctx, goal); err != nil {
			return nil, err
		}
		return json.Marshal(goal)

	case "update":
		var a updateGoalArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, errdefs.Wrap(errdefs.KindValidation, err, "decode args")
		}
		goal, err := s.store.Get(ctx, a.ID)
		if err != nil {
			if err == store.ErrNotFound {
				return nil, errdefs.New(errdefs.KindNotFound, "goal %q not found", a.ID)
			}
			return nil, err
		}
		if a.Status != "" {
			goal.Status = models.GoalStatus(a.Status)
		}
		if a.Progress > 0 {
			goal.Progress = a.Progress
		}
		if a.Priority > 0 {
			goal.Priority = a.Priority
		}
		if err := s.store.Update(ctx, goal); err != nil {
			return nil, err
		}
		return json.Marshal(goal)

	case "list":
		var a listGoalsArgs
		if err := json.Unmarshal(args, &a); err != nil {
			return nil, errdefs.Wrap(errdefs.KindValidation, err, "decode args")
		}
		status := models.GoalActive
		if a.Status != "" {
			status = models.GoalStatus(a.Status)
		}
		goals, next, err := s.store.ListByStatus(ctx, status, a.Limit, a.Cursor)
		if err != nil {
			return nil, err
		}
		return json.Marshal(map[string]any{"goals": goals, "next_cursor": next})

	default:
		return nil, errdefs.New(errdefs.KindNotFound, "unknown tool %q", tool)
	}
}
