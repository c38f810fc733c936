package delta

import (
	"encoding/json"
	"strings"
)

// ParseNotes turns the narrator's free-form system notes into proposals.
// Each note is expected as "key: value" or "key = value"; the value side is
// decoded as JSON when possible (numbers, booleans, quoted strings, arrays)
// and kept as plain text otherwise. Notes with no separator are ignored —
// they are observations, not state changes.
func ParseNotes(notes []string, source string) []Proposal {
	proposals := make([]Proposal, 0, len(notes))

	for _, note := range notes {
		key, rawValue, ok := splitNote(note)
		if !ok {
			continue
		}

		var value any
		if err := json.Unmarshal([]byte(rawValue), &value); err != nil {
			value = rawValue
		}

		proposals = append(proposals, Proposal{
			Key:    key,
			Value:  value,
			Source: source,
		})
	}

	return proposals
}

func splitNote(note string) (key, value string, ok bool) {
	sep := strings.IndexAny(note, ":=")
	if sep <= 0 {
		return "", "", false
	}

	key = strings.TrimSpace(note[:sep])
	value = strings.TrimSpace(note[sep+1:])
	if key == "" || value == "" || strings.ContainsAny(key, " \t") {
		return "", "", false
	}
	return key, value, true
}
