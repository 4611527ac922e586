package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/aria-ai/aria/pkg/models"
)

// GoalStore persists goals.
type GoalStore struct {
	db *sql.DB
}

const goalColumns = `id, title, description, status, priority, progress, due_at,
	parent_goal_id, sprint_id, board_column, position, created_at, completed_at, updated_at`

// Create inserts a goal. A zero ID gets a fresh uuid; zero timestamps
// get now.
func (s *GoalStore) Create(ctx context.Context, goal *models.Goal) error {
	if goal == nil || goal.Title == "" {
		return fmt.Errorf("goal title is required")
	}
	if goal.ID == "" {
		goal.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if goal.CreatedAt.IsZero() {
		goal.CreatedAt = now
	}
	goal.UpdatedAt = now
	if goal.Status == "" {
		goal.Status = models.GoalActive
	}
	if goal.Priority <= 0 {
		goal.Priority = 3
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO goals (`+goalColumns+`)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		goal.ID, goal.Title, goal.Description, goal.Status, goal.Priority,
		goal.Progress, goal.DueAt, goal.ParentGoalID, goal.SprintID,
		goal.BoardColumn, goal.Position, goal.CreatedAt, goal.CompletedAt,
		goal.UpdatedAt,
	)
	if isDuplicate(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("create goal: %w", err)
	}
	return nil
}

// Get returns a goal by id.
func (s *GoalStore) Get(ctx context.Context, id string) (*models.Goal, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+goalColumns+` FROM goals WHERE id = ?`, id)
	return scanGoal(row)
}

// ListActive returns active goals ordered by priority (1 is highest)
// then recency. Cursor pages over (created_at, id) within the order.
func (s *GoalStore) ListActive(ctx context.Context, limit int, pageCursor string) ([]*models.Goal, string, error) {
	return s.list(ctx, string(models.GoalActive), limit, pageCursor)
}

// ListByStatus returns goals in a given status with the same ordering.
func (s *GoalStore) ListByStatus(ctx context.Context, status models.GoalStatus, limit int, pageCursor string) ([]*models.Goal, string, error) {
	return s.list(ctx, string(status), limit, pageCursor)
}

func (s *GoalStore) list(ctx context.Context, status string, limit int, pageCursor string) ([]*models.Goal, string, error) {
	limit = clampLimit(limit)
	c, err := decodeCursor(pageCursor)
	if err != nil {
		return nil, "", err
	}

	// Keyset pagination over (priority ASC, created_at DESC, id ASC).
	// The cursor carries (created_at, id); the cursor row's priority is
	// looked up so deleted-then-resumed pages cannot skip rows wholesale.
	var args []any
	query := `SELECT ` + goalColumns + ` FROM goals WHERE status = ?`
	args = append(args, status)
	if c.ID != "" {
		query += ` AND (
			priority > COALESCE((SELECT priority FROM goals WHERE id = ?), 0)
			OR (priority = (SELECT priority FROM goals WHERE id = ?)
				AND (created_at < ? OR (created_at = ? AND id > ?))))`
		args = append(args, c.ID, c.ID, c.CreatedAt, c.CreatedAt, c.ID)
	}
	query += ` ORDER BY priority ASC, created_at DESC, id ASC LIMIT ?`
	args = append(args, limit+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, "", fmt.Errorf("list goals: %w", err)
	}
	defer rows.Close()

	var goals []*models.Goal
	for rows.Next() {
		g, err := scanGoal(rows)
		if err != nil {
			return nil, "", err
		}
		goals = append(goals, g)
	}
	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("list goals: %w", err)
	}

	var next string
	if len(goals) > limit {
		goals = goals[:limit]
		last := goals[len(goals)-1]
		next = encodeCursor(last.CreatedAt, last.ID)
	}
	return goals, next, nil
}

// Update rewrites mutable fields. Status transitions to completed set
// completed_at once.
func (s *GoalStore) Update(ctx context.Context, goal *models.Goal) error {
	if goal == nil || goal.ID == "" {
		return fmt.Errorf("goal id is required")
	}
	goal.UpdatedAt = time.Now().UTC()
	if goal.Status == models.GoalCompleted && goal.CompletedAt == nil {
		t := goal.UpdatedAt
		goal.CompletedAt = &t
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE goals SET title = ?, description = ?, status = ?, priority = ?,
		 progress = ?, due_at = ?, parent_goal_id = ?, sprint_id = ?,
		 board_column = ?, position = ?, completed_at = ?, updated_at = ?
		 WHERE id = ?`,
		goal.Title, goal.Description, goal.Status, goal.Priority,
		goal.Progress, goal.DueAt, goal.ParentGoalID, goal.SprintID,
		goal.BoardColumn, goal.Position, goal.CompletedAt, goal.UpdatedAt,
		goal.ID,
	)
	if err != nil {
		return fmt.Errorf("update goal: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a goal.
func (s *GoalStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM goals WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete goal: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGoal(row rowScanner) (*models.Goal, error) {
	var g models.Goal
	var dueAt, completedAt sql.NullTime
	if err := row.Scan(
		&g.ID, &g.Title, &g.Description, &g.Status, &g.Priority, &g.Progress,
		&dueAt, &g.ParentGoalID, &g.SprintID, &g.BoardColumn, &g.Position,
		&g.CreatedAt, &completedAt, &g.UpdatedAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan goal: %w", err)
	}
	if dueAt.Valid {
		g.DueAt = &dueAt.Time
	}
	if completedAt.Valid {
		g.CompletedAt = &completedAt.Time
	}
	return &g, nil
}
