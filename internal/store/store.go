// Package store persists the runtime's durable state in SQLite. Every
// entity gets its own file and its own narrow interface; Store groups
// them behind one handle so callers depend only on what they use.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// Store groups the entity stores over one database handle.
type Store struct {
	db *sql.DB

	Goals       *GoalStore
	Activities  *ActivityStore
	Memories    *MemoryStore
	Sessions    *SessionStore
	Invocations *InvocationStore
	Knowledge   *KnowledgeStore
	Jobs        *JobStore
	Agents      *AgentStore
}

// Open opens (creating if needed) the database at path and runs
// migrations. Use ":memory:" for tests.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("store path is required")
	}

	dsn := path
	if path != ":memory:" {
		// WAL keeps readers unblocked during checkpoint writes.
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)", path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// The driver serializes writes; a single connection avoids
	// SQLITE_BUSY churn under concurrent writers.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return &Store{
		db:          db,
		Goals:       &GoalStore{db: db},
		Activities:  &ActivityStore{db: db},
		Memories:    &MemoryStore{db: db},
		Sessions:    &SessionStore{db: db},
		Invocations: &InvocationStore{db: db},
		Knowledge:   &KnowledgeStore{db: db},
		Jobs:        &JobStore{db: db},
		Agents:      &AgentStore{db: db},
	}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the handle for maintenance commands.
func (s *Store) DB() *sql.DB {
	return s.db
}

func isDuplicate(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func migrate(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS goals (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			priority INTEGER NOT NULL DEFAULT 3,
			progress REAL NOT NULL DEFAULT 0,
			due_at TIMESTAMP,
			parent_goal_id TEXT,
			sprint_id TEXT,
			board_column TEXT NOT NULL DEFAULT '',
			position INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			completed_at TIMESTAMP,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_goals_status ON goals(status, priority, created_at DESC)`,

		`CREATE TABLE IF NOT EXISTS activities (
			id TEXT PRIMARY KEY,
			action TEXT NOT NULL,
			details TEXT,
			session_id TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_activities_created ON activities(created_at DESC, id)`,

		`CREATE TABLE IF NOT EXISTS working_memory (
			session_id TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			category TEXT NOT NULL DEFAULT '',
			importance REAL NOT NULL DEFAULT 0.5,
			created_at TIMESTAMP NOT NULL,
			accessed_at TIMESTAMP NOT NULL,
			access_count INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (session_id, key)
		)`,

		`CREATE TABLE IF NOT EXISTS semantic_memories (
			id TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			category TEXT NOT NULL DEFAULT '',
			importance REAL NOT NULL DEFAULT 0.5,
			metadata TEXT,
			embedding BLOB,
			created_at TIMESTAMP NOT NULL,
			compressed_into TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_category ON semantic_memories(category, created_at DESC)`,

		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			state TEXT NOT NULL,
			parent_session_id TEXT NOT NULL DEFAULT '',
			agent_id TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			last_active_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_state ON sessions(state, last_active_at)`,

		`CREATE TABLE IF NOT EXISTS skill_invocations (
			id TEXT PRIMARY KEY,
			skill TEXT NOT NULL,
			tool TEXT NOT NULL,
			args_hash TEXT NOT NULL DEFAULT '',
			success INTEGER NOT NULL,
			latency_ms INTEGER NOT NULL DEFAULT 0,
			tokens INTEGER NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT '',
			session_id TEXT NOT NULL DEFAULT '',
			started_at TIMESTAMP NOT NULL,
			ended_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_invocations_skill ON skill_invocations(skill, started_at DESC)`,

		`CREATE TABLE IF NOT EXISTS knowledge_entities (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			entity_type TEXT NOT NULL,
			properties TEXT,
			auto_generated INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			UNIQUE (name, entity_type)
		)`,

		`CREATE TABLE IF NOT EXISTS knowledge_relations (
			id TEXT PRIMARY KEY,
			from_id TEXT NOT NULL REFERENCES knowledge_entities(id) ON DELETE CASCADE,
			to_id TEXT NOT NULL REFERENCES knowledge_entities(id) ON DELETE CASCADE,
			relation_type TEXT NOT NULL,
			properties TEXT,
			auto_generated INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_relations_from ON knowledge_relations(from_id)`,

		`CREATE TABLE IF NOT EXISTS patterns (
			id TEXT PRIMARY KEY,
			signature TEXT NOT NULL UNIQUE,
			template TEXT NOT NULL,
			examples TEXT,
			confidence REAL NOT NULL DEFAULT 0,
			usage_count INTEGER NOT NULL DEFAULT 0,
			success_rate REAL NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL,
			last_used_at TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS job_state (
			job_id TEXT PRIMARY KEY,
			schedule TEXT NOT NULL,
			command TEXT,
			delivery TEXT NOT NULL DEFAULT '',
			enabled INTEGER NOT NULL DEFAULT 1,
			last_run_at TIMESTAMP,
			last_error TEXT NOT NULL DEFAULT ''
		)`,

		`CREATE TABLE IF NOT EXISTS job_runs (
			job_id TEXT NOT NULL,
			minute TEXT NOT NULL,
			ran_at TIMESTAMP NOT NULL,
			PRIMARY KEY (job_id, minute)
		)`,

		`CREATE TABLE IF NOT EXISTS agent_state (
			id TEXT PRIMARY KEY,
			pheromone REAL NOT NULL DEFAULT 0.5,
			last_update_at TIMESTAMP NOT NULL
		)`,
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec %.40q: %w", stmt, err)
		}
	}
	return nil
}
