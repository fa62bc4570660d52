package scheduler

import "testing"

func TestManagerOrderEqualWeightsRoundRobin(t *testing.T) {
	m := NewManager()
	items := []WeightedItem{{Name: "A"}, {Name: "B"}, {Name: "C"}}

	var got []string
	for i := 0; i < 6; i++ {
		order := m.Order("key", items)
		got = append(got, order[0])
	}

	want := []string{"A", "B", "C", "A", "B", "C"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("pick %d = %s, want %s (full: %v)", i, got[i], want[i], got)
		}
	}
}

func TestManagerOrderWeightedConvergesToRatio(t *testing.T) {
	m := NewManager()
	items := []WeightedItem{{Name: "A", Weight: 3}, {Name: "B", Weight: 1}}

	counts := map[string]int{}
	const rounds = 400
	for i := 0; i < rounds; i++ {
		order := m.Order("key", items)
		counts[order[0]]++
		if len(order) != 2 {
			t.Fatalf("expected both candidates present in order, got %v", order)
		}
	}

	ratio := float64(counts["A"]) / float64(counts["B"])
	if ratio < 2.7 || ratio > 3.3 {
		t.Fatalf("A:B pick ratio = %.2f, want close to 3:1 (counts=%v)", ratio, counts)
	}
}

func TestManagerOrderFailoverTailPreservesDeclarationOrder(t *testing.T) {
	m := NewManager()
	items := []WeightedItem{{Name: "A"}, {Name: "B"}, {Name: "C"}}

	order := m.Order("key", items)
	if len(order) != 3 {
		t.Fatalf("expected 3 candidates, got %d", len(order))
	}
	seen := map[string]bool{}
	for _, n := range order {
		seen[n] = true
	}
	for _, want := range []string{"A", "B", "C"} {
		if !seen[want] {
			t.Fatalf("order %v missing candidate %s", order, want)
		}
	}

	// The second pick is B; the failover tail keeps A before C.
	order = m.Order("key", items)
	want := []string{"B", "A", "C"}
	if len(order) != len(want) {
		t.Fatalf("second order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("second order = %v, want %v", order, want)
		}
	}
}

func TestManagerOrderSingleCandidate(t *testing.T) {
	m := NewManager()
	order := m.Order("key", []WeightedItem{{Name: "solo"}})
	if len(order) != 1 || order[0] != "solo" {
		t.Fatalf("got %v, want [solo]", order)
	}
}

func TestManagerOrderResetsOnCandidateSetChange(t *testing.T) {
	m := NewManager()
	m.Order("key", []WeightedItem{{Name: "A"}, {Name: "B"}})
	order := m.Order("key", []WeightedItem{{Name: "A"}, {Name: "B"}, {Name: "C"}})
	if len(order) != 3 {
		t.Fatalf("expected candidate set change to reset group, got %v", order)
	}
}
