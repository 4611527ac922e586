package builtin

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/aria-ai/aria/internal/config"
	"github.com/aria-ai/aria/internal/errdefs"
	"github.com/aria-ai/aria/internal/store"
	"github.com/aria-ai/aria/pkg/models"
)

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGoalsSkillRoundTrip(t *testing.T) {
	st := openStore(t)
	s := NewGoalsSkill(st.Goals)
	ctx := context.Background()

	out, err := s.Invoke(ctx, "create",
		json.RawMessage(`{"title": "ship the release", "priority": 1}`))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	var created models.Goal
	if err := json.Unmarshal(out, &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.ID == "" || created.Priority != 1 {
		t.Fatalf("created = %+v, want id and priority 1", created)
	}

	_, err = s.Invoke(ctx, "update",
		json.RawMessage(`{"id": "`+created.ID+`", "status": "completed"}`))
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	out, err = s.Invoke(ctx, "list", json.RawMessage(`{"status": "completed"}`))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var listed struct {
		Goals []models.Goal `json:"goals"`
	}
	if err := json.Unmarshal(out, &listed); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(listed.Goals) != 1 || listed.Goals[0].CompletedAt == nil {
		t.Errorf("listed = %+v, want one completed goal", listed.Goals)
	}
}

func TestGoalsUpdateUnknownID(t *testing.T) {
	st := openStore(t)
	s := NewGoalsSkill(st.Goals)

	_, err := s.Invoke(context.Background(), "update", json.RawMessage(`{"id": "ghost"}`))
	if errdefs.KindOf(err) != errdefs.KindNotFound {
		t.Errorf("kind = %v, want NotFound", errdefs.KindOf(err))
	}
}

func TestKnowledgeSkillGraphOps(t *testing.T) {
	st := openStore(t)
	s := NewKnowledgeSkill(st.Knowledge)
	ctx := context.Background()

	if err := s.Initialize(ctx, config.SkillSettings{}); err != nil {
		t.Fatalf("init: %v", err)
	}

	mk := func(name string) string {
		out, err := s.Invoke(ctx, "upsert_entity",
			json.RawMessage(`{"name": "`+name+`", "entity_type": "concept"}`))
		if err != nil {
			t.Fatalf("upsert %s: %v", name, err)
		}
		var r map[string]string
		_ = json.Unmarshal(out, &r)
		return r["id"]
	}
	a, b := mk("planning"), mk("scheduling")

	_, err := s.Invoke(ctx, "relate",
		json.RawMessage(`{"from_id": "`+a+`", "to_id": "`+b+`", "relation_type": "related_to"}`))
	if err != nil {
		t.Fatalf("relate: %v", err)
	}

	out, err := s.Invoke(ctx, "traverse", json.RawMessage(`{"root_id": "`+a+`"}`))
	if err != nil {
		t.Fatalf("traverse: %v", err)
	}
	var nodes []struct {
		Depth int `json:"depth"`
	}
	if err := json.Unmarshal(out, &nodes); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(nodes) != 2 {
		t.Errorf("traverse returned %d nodes, want 2", len(nodes))
	}
}

func TestKnowledgeInitializeRejectsBadDepth(t *testing.T) {
	st := openStore(t)
	s := NewKnowledgeSkill(st.Knowledge)

	err := s.Initialize(context.Background(), config.SkillSettings{
		Extra: map[string]any{"graph_depth": 99},
	})
	if err == nil {
		t.Error("expected error for out-of-range graph_depth")
	}
}
