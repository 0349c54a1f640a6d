package messaging

import "testing"

func TestFuzzyMatch(t *testing.T) {
	participants := []string{"Dr. Alice Moreau", "bob", "  "}
	tests := []struct {
		identity string
		want     bool
	}{
		{"bob", true},
		{"BOB", true},
		{"alice", true},
		{"Dr. Alice Moreau", true},
		{"bobby", true}, // identity contains a participant
		{"al", true},    // known false positive
		{"carol", false},
		{"", false},
		{"   ", false},
	}
	for _, tt := range tests {
		if got := FuzzyMatch(participants, tt.identity); got != tt.want {
			t.Errorf("FuzzyMatch(%q) = %v, want %v", tt.identity, got, tt.want)
		}
	}
}

func TestExactMatch(t *testing.T) {
	participants := []string{"alice", "bob"}
	if !ExactMatch(participants, "bob") {
		t.Error("ExactMatch(bob) = false")
	}
	for _, id := range []string{"Bob", "al", ""} {
		if ExactMatch(participants, id) {
			t.Errorf("ExactMatch(%q) = true", id)
		}
	}
}

func TestMatcherFor(t *testing.T) {
	if MatcherFor("exact")([]string{"alice"}, "ali") {
		t.Error("exact matcher accepted a substring")
	}
	if !MatcherFor("fuzzy")([]string{"alice"}, "ali") {
		t.Error("fuzzy matcher rejected a substring")
	}
	if !MatcherFor("")([]string{"alice"}, "ali") {
		t.Error("default matcher should be fuzzy")
	}
}
