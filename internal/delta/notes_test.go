package delta

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNotes(t *testing.T) {
	proposals := ParseNotes([]string{
		"hp: 40",
		"alive = false",
		"location: the old mill",
		`inventory: ["rope", "lantern"]`,
		"the party rested overnight", // no separator: observation, not a change
		": orphan value",
	}, "narrator")

	require.Len(t, proposals, 4)

	assert.Equal(t, Proposal{Key: "hp", Value: float64(40), Source: "narrator"}, proposals[0])
	assert.Equal(t, Proposal{Key: "alive", Value: false, Source: "narrator"}, proposals[1])
	assert.Equal(t, Proposal{Key: "location", Value: "the old mill", Source: "narrator"}, proposals[2])
	assert.Equal(t, []any{"rope", "lantern"}, proposals[3].Value)
}

func TestParseNotesQuotedString(t *testing.T) {
	proposals := ParseNotes([]string{`mood: "angry"`}, "narrator")
	require.Len(t, proposals, 1)
	assert.Equal(t, "angry", proposals[0].Value)
}

func TestParseNotesRejectsSpacedKeys(t *testing.T) {
	// Prose that happens to contain a colon is not a state change.
	proposals := ParseNotes([]string{"the door: it creaks open"}, "narrator")
	assert.Empty(t, proposals)
}
