package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/aria-ai/aria/pkg/models"
)

// MemoryStore persists working memory (per-session key/value) and
// semantic memories (embedded long-term entries).
type MemoryStore struct {
	db *sql.DB
}

// PutWorking upserts a working memory item. Later writes win except
// that callers reconciling a checkpoint should use ReconcileWorking.
func (s *MemoryStore) PutWorking(ctx context.Context, item *models.WorkingMemoryItem) error {
	if item == nil || item.SessionID == "" || item.Key == "" {
		return fmt.Errorf("working memory session id and key are required")
	}
	now := time.Now().UTC()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.AccessedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO working_memory
		 (session_id, key, value, category, importance, created_at, accessed_at, access_count)
		 VALUES (?,?,?,?,?,?,?,?)
		 ON CONFLICT(session_id, key) DO UPDATE SET
		   value = excluded.value,
		   category = excluded.category,
		   importance = excluded.importance,
		   accessed_at = excluded.accessed_at`,
		item.SessionID, item.Key, []byte(item.Value), item.Category,
		item.Importance, item.CreatedAt, item.AccessedAt, item.AccessCount,
	)
	if err != nil {
		return fmt.Errorf("put working memory: %w", err)
	}
	return nil
}

// GetWorking returns one item and bumps its access stats.
func (s *MemoryStore) GetWorking(ctx context.Context, sessionID, key string) (*models.WorkingMemoryItem, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT session_id, key, value, category, importance, created_at, accessed_at, access_count
		 FROM working_memory WHERE session_id = ? AND key = ?`, sessionID, key)

	item, err := scanWorking(row)
	if err != nil {
		return nil, err
	}
	_, _ = s.db.ExecContext(ctx,
		`UPDATE working_memory SET accessed_at = ?, access_count = access_count + 1
		 WHERE session_id = ? AND key = ?`, time.Now().UTC(), sessionID, key)
	item.AccessCount++
	return item, nil
}

// ListWorking returns every item for a session, most important first.
func (s *MemoryStore) ListWorking(ctx context.Context, sessionID string) ([]*models.WorkingMemoryItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, key, value, category, importance, created_at, accessed_at, access_count
		 FROM working_memory WHERE session_id = ?
		 ORDER BY importance DESC, accessed_at DESC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list working memory: %w", err)
	}
	defer rows.Close()

	var out []*models.WorkingMemoryItem
	for rows.Next() {
		item, err := scanWorking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// ReconcileWorking merges a checkpointed snapshot back into the session.
// A stored row wins only when it is at least skew newer than the snapshot
// item; otherwise the snapshot wins.
func (s *MemoryStore) ReconcileWorking(ctx context.Context, sessionID string, snapshot []*models.WorkingMemoryItem, skew time.Duration) error {
	existing, err := s.ListWorking(ctx, sessionID)
	if err != nil {
		return err
	}
	byKey := make(map[string]*models.WorkingMemoryItem, len(existing))
	for _, item := range existing {
		byKey[item.Key] = item
	}

	for _, item := range snapshot {
		if cur, ok := byKey[item.Key]; ok && !cur.AccessedAt.Before(item.AccessedAt.Add(skew)) {
			continue
		}
		put := *item
		put.SessionID = sessionID
		if err := s.PutWorking(ctx, &put); err != nil {
			return err
		}
	}
	return nil
}

// CheckpointWorking writes a session's working memory snapshot in a
// single transaction so a crash mid-checkpoint never leaves a torn set.
func (s *MemoryStore) CheckpointWorking(ctx context.Context, sessionID string, items []*models.WorkingMemoryItem) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin checkpoint: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO working_memory
		 (session_id, key, value, category, importance, created_at, accessed_at, access_count)
		 VALUES (?,?,?,?,?,?,?,?)
		 ON CONFLICT(session_id, key) DO UPDATE SET
		   value = excluded.value,
		   category = excluded.category,
		   importance = excluded.importance,
		   accessed_at = excluded.accessed_at,
		   access_count = excluded.access_count`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare checkpoint: %w", err)
	}
	defer stmt.Close()

	for _, item := range items {
		createdAt := item.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		if _, err := stmt.ExecContext(ctx,
			sessionID, item.Key, []byte(item.Value), item.Category,
			item.Importance, createdAt, item.AccessedAt, item.AccessCount,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("checkpoint %q: %w", item.Key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit checkpoint: %w", err)
	}
	return nil
}

// DeleteWorking wipes a session's working memory.
func (s *MemoryStore) DeleteWorking(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM working_memory WHERE session_id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("delete working memory: %w", err)
	}
	return nil
}

// AddSemantic inserts a semantic memory.
func (s *MemoryStore) AddSemantic(ctx context.Context, m *models.SemanticMemory) error {
	if m == nil || m.Content == "" {
		return fmt.Errorf("memory content is required")
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO semantic_memories
		 (id, content, category, importance, metadata, embedding, created_at, compressed_into)
		 VALUES (?,?,?,?,?,?,?,?)`,
		m.ID, m.Content, m.Category, m.Importance, []byte(m.Metadata),
		encodeEmbedding(m.Embedding), m.CreatedAt, m.CompressedInto,
	)
	if isDuplicate(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("add semantic memory: %w", err)
	}
	return nil
}

// GetSemantic returns one memory by id.
func (s *MemoryStore) GetSemantic(ctx context.Context, id string) (*models.SemanticMemory, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, content, category, importance, metadata, embedding, created_at, compressed_into
		 FROM semantic_memories WHERE id = ?`, id)
	return scanSemantic(row)
}

// SearchSemantic ranks uncompressed memories by cosine similarity to the
// query vector. The scan is linear; the memory corpus is small enough
// that an index would cost more than it saves.
func (s *MemoryStore) SearchSemantic(ctx context.Context, query []float32, limit int) ([]models.SearchResult, error) {
	if len(query) == 0 {
		return nil, fmt.Errorf("query embedding is required")
	}
	limit = clampLimit(limit)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, content, category, importance, metadata, embedding, created_at, compressed_into
		 FROM semantic_memories WHERE compressed_into = '' AND embedding IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("search memories: %w", err)
	}
	defer rows.Close()

	var results []models.SearchResult
	for rows.Next() {
		m, err := scanSemantic(rows)
		if err != nil {
			return nil, err
		}
		score := cosine(query, m.Embedding)
		if math.IsNaN(float64(score)) {
			continue
		}
		results = append(results, models.SearchResult{Memory: m, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search memories: %w", err)
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Memory.ID < results[j].Memory.ID
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// ListRecentSemantic returns the newest uncompressed memories in a
// category, newest first. Empty category matches all.
func (s *MemoryStore) ListRecentSemantic(ctx context.Context, category string, limit int) ([]*models.SemanticMemory, error) {
	limit = clampLimit(limit)
	query := `SELECT id, content, category, importance, metadata, embedding, created_at, compressed_into
		 FROM semantic_memories WHERE compressed_into = ''`
	var args []any
	if category != "" {
		query += ` AND category = ?`
		args = append(args, category)
	}
	query += ` ORDER BY created_at DESC, id ASC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	defer rows.Close()

	var out []*models.SemanticMemory
	for rows.Next() {
		m, err := scanSemantic(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// CountUncompressed returns the raw window size the compression trigger
// watches.
func (s *MemoryStore) CountUncompressed(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM semantic_memories
		 WHERE compressed_into = '' AND category NOT IN (?, ?)`,
		models.CategoryCompressedRecent, models.CategoryCompressedArchive,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count memories: %w", err)
	}
	return n, nil
}

// MarkCompressed points source memories at their summary. Sources are
// never deleted; compression is reversible by construction.
func (s *MemoryStore) MarkCompressed(ctx context.Context, sourceIDs []string, summaryID string) error {
	if summaryID == "" || len(sourceIDs) == 0 {
		return fmt.Errorf("summary id and sources are required")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("mark compressed: %w", err)
	}
	defer tx.Rollback()

	for _, id := range sourceIDs {
		if _, err := tx.ExecContext(ctx,
			`UPDATE semantic_memories SET compressed_into = ? WHERE id = ?`,
			summaryID, id); err != nil {
			return fmt.Errorf("mark compressed %s: %w", id, err)
		}
	}
	return tx.Commit()
}

func scanWorking(row rowScanner) (*models.WorkingMemoryItem, error) {
	var item models.WorkingMemoryItem
	var value []byte
	if err := row.Scan(
		&item.SessionID, &item.Key, &value, &item.Category, &item.Importance,
		&item.CreatedAt, &item.AccessedAt, &item.AccessCount,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan working memory: %w", err)
	}
	item.Value = value
	return &item, nil
}

func scanSemantic(row rowScanner) (*models.SemanticMemory, error) {
	var m models.SemanticMemory
	var metadata, embedding []byte
	if err := row.Scan(
		&m.ID, &m.Content, &m.Category, &m.Importance, &metadata,
		&embedding, &m.CreatedAt, &m.CompressedInto,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan semantic memory: %w", err)
	}
	m.Metadata = metadata
	m.Embedding = decodeEmbedding(embedding)
	return &m, nil
}

// encodeEmbedding packs a vector as little-endian float32s.
func encodeEmbedding(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, v)
	return buf.Bytes()
}

func decodeEmbedding(b []byte) []float32 {
	if len(b) == 0 || len(b)%4 != 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	_ = binary.Read(bytes.NewReader(b), binary.LittleEndian, &v)
	return v
}

func cosine(a, b []float32) float32 {
	if len(a) == 0 || len(a) != len(b) {
		return float32(math.NaN())
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return float32(math.NaN())
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
