package cognition

import (
	"strings"
	"testing"
)

func TestFuseMatchesWeightedRRF(t *testing.T) {
	// Semantic list [x,y,z] at weight 1.0 and memory list [y,w] at 0.6:
	// y gains from both lists and leads; w's low weight keeps it last.
	got := fuse([]rankedList{
		{source: SourceSemantic, weight: weightSemantic, items: []string{"x", "y", "z"}},
		{source: SourceMemory, weight: weightMemory, items: []string{"y", "w"}},
	}, rrfK)

	want := []string{"y", "x", "z", "w"}
	if len(got) != len(want) {
		t.Fatalf("fused %d items, want %d", len(got), len(want))
	}
	for i, content := range want {
		if got[i].Content != content {
			t.Errorf("rank %d = %q, want %q", i, got[i].Content, content)
		}
	}
}

func TestFuseSharedItemOutranksSingleSource(t *testing.T) {
	got := fuse([]rankedList{
		{source: SourceSemantic, weight: 1.0, items: []string{"only-a", "both"}},
		{source: SourceGraph, weight: 1.0, items: []string{"both", "only-b"}},
	}, rrfK)

	if got[0].Content != "both" {
		t.Errorf("top = %q, want the item present in both lists", got[0].Content)
	}
}

func TestFuseDeduplicatesByNormalizedContent(t *testing.T) {
	got := fuse([]rankedList{
		{source: SourceSemantic, weight: 1.0, items: []string{"Deploy Friday"}},
		{source: SourceMemory, weight: 0.6, items: []string{"  deploy friday "}},
	}, rrfK)

	if len(got) != 1 {
		t.Fatalf("fused %d items, want 1 after dedupe", len(got))
	}
	if got[0].Source != SourceSemantic {
		t.Errorf("source = %s, want first appearance kept", got[0].Source)
	}
}

func TestTrimToBudgetCapsCumulativeLength(t *testing.T) {
	long := strings.Repeat("a", 30)
	items := []Item{
		{Content: long}, {Content: long}, {Content: long}, {Content: long},
	}
	// Budget of 20 tokens = 80 chars: two 30-char items fit, the third
	// crosses the line.
	got := trimToBudget(items, 20)
	if len(got) != 2 {
		t.Errorf("kept %d items, want 2 under the budget", len(got))
	}
}

func TestKeywordsDropStopwordsAndShortWords(t *testing.T) {
	got := keywords("How can I deploy the kubernetes cluster?")
	joined := strings.Join(got, " ")
	if !strings.Contains(joined, "kubernetes") || !strings.Contains(joined, "cluster") {
		t.Errorf("keywords = %v, want kubernetes and cluster", got)
	}
	for _, kw := range got {
		if kw == "how" || kw == "can" || kw == "the" {
			t.Errorf("keyword %q should have been dropped", kw)
		}
	}
}
