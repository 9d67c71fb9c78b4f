package persona

import (
	"strings"
	"testing"
)

func TestAssembleFixedOrder(t *testing.T) {
	ratio := 0.5
	out := Assemble(Input{
		EthosChecklist:    "ETHOS",
		Archetype:         "sage",
		Archetypes:        Archetypes{"sage": "SAGE-OVERLAY"},
		IdentityStatement: "IDENTITY",
		Mode:              ModeCounselor,
		BiographicalHints: "BIO",
		Emotional:         EmotionGrief,
		HumanityRatio:     &ratio,
	})

	order := []string{"ETHOS", "SAGE-OVERLAY", "IDENTITY", "Counselor", "BIO", "cold-logic", "blend technical", "sovereign judgment"}
	last := -1
	for _, part := range order {
		idx := strings.Index(out, part)
		if idx < 0 {
			t.Fatalf("expected %q to appear in assembled directive: %s", part, out)
		}
		if idx < last {
			t.Fatalf("expected %q to appear after previous part, got order violation", part)
		}
		last = idx
	}
}

func TestClassifyArchetypeIdempotent(t *testing.T) {
	archetypes := Archetypes{"sage": "x", "jester": "y"}
	first := ClassifyArchetype("ask the sage about fate", archetypes, "default")
	second := ClassifyArchetype("ask the sage about fate", archetypes, "default")
	if first != second {
		t.Fatalf("classifier must be idempotent, got %q then %q", first, second)
	}
	if first != "sage" {
		t.Fatalf("expected sage to match, got %q", first)
	}
}

func TestClassifyArchetypeFallback(t *testing.T) {
	archetypes := Archetypes{"sage": "x"}
	got := ClassifyArchetype("no match here", archetypes, "default")
	if got != "default" {
		t.Fatalf("expected fallback, got %q", got)
	}
}
