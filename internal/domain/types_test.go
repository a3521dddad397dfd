package domain

import (
	"testing"
	"time"
)

func TestTierForScore_Boundaries(t *testing.T) {
	tiers := DefaultTierThresholds()

	cases := []struct {
		score float64
		want  string
	}{
		{1.0, RelDuplicateOf},
		{0.95, RelDuplicateOf},
		{0.9499, RelHighlyRelatedTo},
		{0.85, RelHighlyRelatedTo},
		{0.8499, RelRelatedTo},
		{0.75, RelRelatedTo},
		{0.7499, ""},
		{0.0, ""},
	}
	for _, tc := range cases {
		if got := TierForScore(tc.score, tiers); got != tc.want {
			t.Fatalf("TierForScore(%v) = %q, want %q", tc.score, got, tc.want)
		}
	}
}

func TestTierForScore_LooseDisabledByDefault(t *testing.T) {
	if got := TierForScore(0.70, DefaultTierThresholds()); got != "" {
		t.Fatalf("loose tier should be disabled by default, got %q", got)
	}

	tiers := DefaultTierThresholds()
	tiers.Loose = 0.65
	if got := TierForScore(0.70, tiers); got != RelLooselyRelatedTo {
		t.Fatalf("TierForScore(0.70) with loose=0.65 = %q, want %q", got, RelLooselyRelatedTo)
	}
	if got := TierForScore(0.60, tiers); got != "" {
		t.Fatalf("TierForScore(0.60) with loose=0.65 = %q, want empty", got)
	}
}

func TestTierForScore_Monotonic(t *testing.T) {
	tiers := DefaultTierThresholds()
	tiers.Loose = 0.65

	rank := map[string]int{
		"":                  0,
		RelLooselyRelatedTo: 1,
		RelRelatedTo:        2,
		RelHighlyRelatedTo:  3,
		RelDuplicateOf:      4,
	}

	prev := 0
	for score := 0.0; score <= 1.0; score += 0.01 {
		got := rank[TierForScore(score, tiers)]
		if got < prev {
			t.Fatalf("tier weakened as score rose: score=%v", score)
		}
		prev = got
	}
}

func TestNode_EmbeddableText(t *testing.T) {
	n := Node{Title: "  Auth decision  ", Content: "Use JWT."}
	if got := n.EmbeddableText(); got != "Auth decision\n\nUse JWT." {
		t.Fatalf("EmbeddableText = %q", got)
	}

	n = Node{Title: "Only title"}
	if got := n.EmbeddableText(); got != "Only title" {
		t.Fatalf("EmbeddableText = %q", got)
	}

	n = Node{Content: "   "}
	if n.HasContent() {
		t.Fatal("whitespace-only node should not report content")
	}
}

func TestSprint_Complete(t *testing.T) {
	sp := Sprint{Status: SprintActive, TaskCount: 4, DoneTaskCount: 4}
	if !sp.Complete() {
		t.Fatal("all tasks done should count as complete")
	}
	sp = Sprint{Status: SprintCompleted}
	if !sp.Complete() {
		t.Fatal("completed status should count as complete")
	}
	sp = Sprint{Status: SprintActive, TaskCount: 0, DoneTaskCount: 0}
	if sp.Complete() {
		t.Fatal("empty sprint is not complete")
	}
}

func TestValidKind(t *testing.T) {
	for _, k := range KnowledgeKinds {
		if !ValidKind(k) {
			t.Fatalf("knowledge kind %q should be valid", k)
		}
	}
	if ValidKind(NodeKind("Widget")) {
		t.Fatal("unknown kind accepted")
	}
}

func TestValidTemporalRelationship(t *testing.T) {
	for _, rel := range []string{RelCreated, RelModified, RelDiscovered, RelValidated, RelEncountered} {
		if !ValidTemporalRelationship(rel) {
			t.Fatalf("temporal relationship %q should be valid", rel)
		}
	}
	if ValidTemporalRelationship(RelRelatedTo) {
		t.Fatal("similarity relationship accepted as temporal")
	}
}

func TestLanePriority_Order(t *testing.T) {
	if !(LanePriority(LaneNow) < LanePriority(LaneNext) &&
		LanePriority(LaneNext) < LanePriority(LaneLater) &&
		LanePriority(LaneLater) < LanePriority(LaneDone)) {
		t.Fatal("lane priority order broken")
	}
}

func TestSprintCompletedAt(t *testing.T) {
	done := time.Now().Add(-time.Hour)
	sp := Sprint{Status: SprintCompleted, CompletedAt: &done}
	if !sp.Complete() || sp.CompletedAt == nil {
		t.Fatal("completed sprint lost its completion time")
	}
}
