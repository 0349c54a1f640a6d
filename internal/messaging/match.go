package messaging

import "strings"

// Matcher decides whether identity counts as one of participants.
type Matcher func(participants []string, identity string) bool

// FuzzyMatch treats identity as a participant when it equals, contains, or
// is contained in any entry, ignoring case. Display names and identity
// strings share one namespace in this domain, so "Dr. Bob" and "bob" both
// resolve to the same person. It also yields false positives ("al" matches
// "Alice"); ExactMatch is the strict alternative.
func FuzzyMatch(participants []string, identity string) bool {
	id := strings.ToLower(strings.TrimSpace(identity))
	if id == "" {
		return false
	}
	for _, p := range participants {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		if p == id || strings.Contains(p, id) || strings.Contains(id, p) {
			return true
		}
	}
	return false
}

// ExactMatch requires identity to equal a participant entry exactly.
func ExactMatch(participants []string, identity string) bool {
	if identity == "" {
		return false
	}
	for _, p := range participants {
		if p == identity {
			return true
		}
	}
	return false
}

// MatcherFor maps the chat.identity_match config value to a Matcher.
// Anything other than "exact" selects FuzzyMatch.
func MatcherFor(name string) Matcher {
	if name == "exact" {
		return ExactMatch
	}
	return FuzzyMatch
}
