package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/aria-ai/aria/pkg/models"
)

// KnowledgeStore persists the knowledge graph and learned patterns.
type KnowledgeStore struct {
	db *sql.DB
}

// UpsertEntity inserts an entity or updates its properties when the
// (name, entity_type) pair already exists. Returns the stored entity id.
func (s *KnowledgeStore) UpsertEntity(ctx context.Context, e *models.KnowledgeEntity) (string, error) {
	if e == nil || e.Name == "" || e.EntityType == "" {
		return "", fmt.Errorf("entity name and type are required")
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO knowledge_entities (id, name, entity_type, properties, auto_generated, created_at)
		 VALUES (?,?,?,?,?,?)
		 ON CONFLICT(name, entity_type) DO UPDATE SET
		   properties = excluded.properties,
		   auto_generated = excluded.auto_generated`,
		e.ID, e.Name, e.EntityType, []byte(e.Properties), e.AutoGenerated, e.CreatedAt,
	)
	if err != nil {
		return "", fmt.Errorf("upsert entity: %w", err)
	}

	// The conflict path keeps the existing id; read it back.
	var id string
	err = s.db.QueryRowContext(ctx,
		`SELECT id FROM knowledge_entities WHERE name = ? AND entity_type = ?`,
		e.Name, e.EntityType).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("upsert entity: %w", err)
	}
	e.ID = id
	return id, nil
}

// GetEntity returns an entity by id.
func (s *KnowledgeStore) GetEntity(ctx context.Context, id string) (*models.KnowledgeEntity, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, entity_type, properties, auto_generated, created_at
		 FROM knowledge_entities WHERE id = ?`, id)
	return scanEntity(row)
}

// FindEntities returns entities matching a name substring, optionally
// filtered by type.
func (s *KnowledgeStore) FindEntities(ctx context.Context, nameLike, entityType string, limit int) ([]*models.KnowledgeEntity, error) {
	limit = clampLimit(limit)
	query := `SELECT id, name, entity_type, properties, auto_generated, created_at
		 FROM knowledge_entities WHERE name LIKE ?`
	args := []any{"%" + nameLike + "%"}
	if entityType != "" {
		query += ` AND entity_type = ?`
		args = append(args, entityType)
	}
	query += ` ORDER BY name ASC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find entities: %w", err)
	}
	defer rows.Close()

	var out []*models.KnowledgeEntity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// AddRelation inserts a directed edge. Both endpoints must exist.
func (s *KnowledgeStore) AddRelation(ctx context.Context, r *models.KnowledgeRelation) error {
	if r == nil || r.FromID == "" || r.ToID == "" || r.RelationType == "" {
		return fmt.Errorf("relation endpoints and type are required")
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO knowledge_relations (id, from_id, to_id, relation_type, properties, auto_generated)
		 VALUES (?,?,?,?,?,?)`,
		r.ID, r.FromID, r.ToID, r.RelationType, []byte(r.Properties), r.AutoGenerated,
	)
	if err != nil {
		return fmt.Errorf("add relation: %w", err)
	}
	return nil
}

// Neighborhood is one entity with the relation that reached it.
type Neighborhood struct {
	Entity   *models.KnowledgeEntity
	Relation *models.KnowledgeRelation
	Depth    int
}

// Traverse walks outgoing edges breadth-first from a root entity up to
// maxDepth. Each entity is visited at most once, so cycles terminate.
func (s *KnowledgeStore) Traverse(ctx context.Context, rootID string, maxDepth int) ([]Neighborhood, error) {
	if maxDepth <= 0 {
		maxDepth = 2
	}
	root, err := s.GetEntity(ctx, rootID)
	if err != nil {
		return nil, err
	}

	visited := map[string]bool{rootID: true}
	out := []Neighborhood{{Entity: root, Depth: 0}}
	frontier := []string{rootID}

	for depth := 1; depth <= maxDepth && len(frontier) > 0; depth++ {
		var next []string
		for _, from := range frontier {
			rels, err := s.relationsFrom(ctx, from)
			if err != nil {
				return nil, err
			}
			for _, rel := range rels {
				if visited[rel.ToID] {
					continue
				}
				visited[rel.ToID] = true
				entity, err := s.GetEntity(ctx, rel.ToID)
				if err != nil {
					if err == ErrNotFound {
						continue
					}
					return nil, err
				}
				out = append(out, Neighborhood{Entity: entity, Relation: rel, Depth: depth})
				next = append(next, rel.ToID)
			}
		}
		frontier = next
	}
	return out, nil
}

func (s *KnowledgeStore) relationsFrom(ctx context.Context, fromID string) ([]*models.KnowledgeRelation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, from_id, to_id, relation_type, properties, auto_generated
		 FROM knowledge_relations WHERE from_id = ? ORDER BY id ASC`, fromID)
	if err != nil {
		return nil, fmt.Errorf("relations from %s: %w", fromID, err)
	}
	defer rows.Close()

	var out []*models.KnowledgeRelation
	for rows.Next() {
		var r models.KnowledgeRelation
		var props []byte
		if err := rows.Scan(&r.ID, &r.FromID, &r.ToID, &r.RelationType, &props, &r.AutoGenerated); err != nil {
			return nil, fmt.Errorf("scan relation: %w", err)
		}
		r.Properties = props
		out = append(out, &r)
	}
	return out, rows.Err()
}

// ClearAutoGenerated hard-deletes machine-managed entities and their
// edges so a sync can rebuild the subgraph idempotently.
func (s *KnowledgeStore) ClearAutoGenerated(ctx context.Context) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("clear auto generated: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM knowledge_relations WHERE auto_generated = 1
		 OR from_id IN (SELECT id FROM knowledge_entities WHERE auto_generated = 1)
		 OR to_id IN (SELECT id FROM knowledge_entities WHERE auto_generated = 1)`); err != nil {
		return 0, fmt.Errorf("clear auto generated relations: %w", err)
	}
	res, err := tx.ExecContext(ctx,
		`DELETE FROM knowledge_entities WHERE auto_generated = 1`)
	if err != nil {
		return 0, fmt.Errorf("clear auto generated entities: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, tx.Commit()
}

// UpsertPattern inserts or refreshes a learned pattern by signature.
func (s *KnowledgeStore) UpsertPattern(ctx context.Context, p *models.Pattern) error {
	if p == nil || p.Signature == "" {
		return fmt.Errorf("pattern signature is required")
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	examples, err := json.Marshal(p.Examples)
	if err != nil {
		return fmt.Errorf("marshal examples: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO patterns (id, signature, template, examples, confidence, usage_count, success_rate, created_at, last_used_at)
		 VALUES (?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(signature) DO UPDATE SET
		   template = excluded.template,
		   examples = excluded.examples,
		   confidence = excluded.confidence,
		   usage_count = excluded.usage_count,
		   success_rate = excluded.success_rate,
		   last_used_at = excluded.last_used_at`,
		p.ID, p.Signature, p.Template, examples, p.Confidence,
		p.UsageCount, p.SuccessRate, p.CreatedAt, nullableTime(p.LastUsedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert pattern: %w", err)
	}
	return nil
}

// ListPatterns returns patterns above a confidence floor, most confident
// first.
func (s *KnowledgeStore) ListPatterns(ctx context.Context, minConfidence float64, limit int) ([]*models.Pattern, error) {
	limit = clampLimit(limit)
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, signature, template, examples, confidence, usage_count, success_rate, created_at, last_used_at
		 FROM patterns WHERE confidence >= ?
		 ORDER BY confidence DESC, signature ASC LIMIT ?`, minConfidence, limit)
	if err != nil {
		return nil, fmt.Errorf("list patterns: %w", err)
	}
	defer rows.Close()

	var out []*models.Pattern
	for rows.Next() {
		var p models.Pattern
		var examples []byte
		var lastUsed sql.NullTime
		if err := rows.Scan(
			&p.ID, &p.Signature, &p.Template, &examples, &p.Confidence,
			&p.UsageCount, &p.SuccessRate, &p.CreatedAt, &lastUsed,
		); err != nil {
			return nil, fmt.Errorf("scan pattern: %w", err)
		}
		if len(examples) > 0 {
			if err := json.Unmarshal(examples, &p.Examples); err != nil {
				return nil, fmt.Errorf("unmarshal examples: %w", err)
			}
		}
		if lastUsed.Valid {
			p.LastUsedAt = lastUsed.Time
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

func scanEntity(row rowScanner) (*models.KnowledgeEntity, error) {
	var e models.KnowledgeEntity
	var props []byte
	if err := row.Scan(&e.ID, &e.Name, &e.EntityType, &props, &e.AutoGenerated, &e.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan entity: %w", err)
	}
	e.Properties = props
	return &e, nil
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
