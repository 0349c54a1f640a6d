package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Participant is the richer participant shape some clients send. Only its
// identity survives projection.
type Participant struct {
	Identity    string `json:"identity,omitempty"`
	ID          string `json:"id,omitempty"`
	Name        string `json:"name,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
}

// key returns the first non-empty identifying field.
func (p Participant) key() string {
	for _, s := range []string{p.Identity, p.ID, p.Name, p.DisplayName} {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}

// participantKeys lists the object fields consulted, in order, when a
// participant arrives as a generic map.
var participantKeys = []string{"identity", "id", "name", "displayName", "display_name"}

// ProjectParticipants flattens any accepted participant representation to
// a list of identity strings. Order is preserved, duplicates and blanks are
// dropped. A nil input yields an empty, non-nil list.
func ProjectParticipants(v any) ([]string, error) {
	out := make([]string, 0)
	seen := make(map[string]struct{})
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" {
			return
		}
		if _, ok := seen[s]; ok {
			return
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}

	switch t := v.(type) {
	case nil:
	case []string:
		for _, s := range t {
			add(s)
		}
	case []Participant:
		for _, p := range t {
			add(p.key())
		}
	case []map[string]any:
		for _, m := range t {
			add(mapKey(m))
		}
	case []any:
		for i, item := range t {
			s, err := projectOne(item)
			if err != nil {
				return nil, fmt.Errorf("models: participants[%d]: %w", i, err)
			}
			add(s)
		}
	case json.RawMessage:
		return projectJSON(t)
	case []byte:
		return projectJSON(t)
	default:
		return nil, fmt.Errorf("models: unsupported participants type %T", v)
	}
	return out, nil
}

// projectOne reduces a single decoded participant to its identity.
func projectOne(item any) (string, error) {
	switch p := item.(type) {
	case string:
		return p, nil
	case map[string]any:
		return mapKey(p), nil
	case Participant:
		return p.key(), nil
	case nil:
		return "", nil
	default:
		return "", fmt.Errorf("unsupported participant type %T", item)
	}
}

func mapKey(m map[string]any) string {
	for _, k := range participantKeys {
		if s, ok := m[k].(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

func projectJSON(data []byte) ([]string, error) {
	var raw []any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("models: decode participants: %w", err)
	}
	return ProjectParticipants(raw)
}

// ParticipantDiff returns the identities present only in next (added) and
// only in prev (removed), each in the order they appear.
func ParticipantDiff(prev, next []string) (added, removed []string) {
	inPrev := make(map[string]struct{}, len(prev))
	for _, p := range prev {
		inPrev[p] = struct{}{}
	}
	inNext := make(map[string]struct{}, len(next))
	for _, n := range next {
		inNext[n] = struct{}{}
	}
	added = make([]string, 0)
	removed = make([]string, 0)
	for _, n := range next {
		if _, ok := inPrev[n]; !ok {
			added = append(added, n)
		}
	}
	for _, p := range prev {
		if _, ok := inNext[p]; !ok {
			removed = append(removed, p)
		}
	}
	return added, removed
}
