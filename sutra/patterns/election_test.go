package patterns

import "testing"

func TestElect_PicksLexicographicallySmallest(t *testing.T) {
	leader, ok := Elect([]string{"charlie", "alice", "bob"})
	if !ok {
		t.Fatal("expected ok for non-empty candidates")
	}
	if leader != "alice" {
		t.Fatalf("expected alice, got %s", leader)
	}
}

func TestElect_EmptyCandidates(t *testing.T) {
	_, ok := Elect(nil)
	if ok {
		t.Fatal("expected ok=false for no candidates")
	}
}

func TestElect_DoesNotMutateInput(t *testing.T) {
	candidates := []string{"b", "a"}
	Elect(candidates)
	if candidates[0] != "b" || candidates[1] != "a" {
		t.Fatalf("expected input slice untouched, got %v", candidates)
	}
}
