package delta

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talefold/talefold/internal/story"
)

func ptr(f float64) *float64 { return &f }

func testSchema() []story.SchemaField {
	return []story.SchemaField{
		{Key: "hp", Type: story.FieldNumber, Min: ptr(0), Max: ptr(100), Default: float64(100)},
		{Key: "alive", Type: story.FieldBool, Default: true},
		{Key: "location", Type: story.FieldText, Default: "village"},
		{Key: "mood", Type: story.FieldEnum, Options: []string{"calm", "angry", "afraid"}, Default: "calm"},
		{Key: "inventory", Type: story.FieldTextList},
	}
}

func TestComputeClampToMaxIsNoOp(t *testing.T) {
	// hp proposed above max clamps to 100, which equals the default: no
	// change, but the clamp is still reported.
	res := Compute(testSchema(), nil, []Proposal{
		{Key: "hp", Value: float64(150), Source: "narrator"},
	})

	assert.Empty(t, res.Changes)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, "hp", res.Warnings[0].Key)
	assert.Contains(t, res.Warnings[0].Reason, "clamped")
}

func TestComputeInRangeChange(t *testing.T) {
	res := Compute(testSchema(), nil, []Proposal{
		{Key: "hp", Value: float64(40), Source: "narrator"},
	})

	require.Len(t, res.Changes, 1)
	assert.Equal(t, Change{Key: "hp", Previous: float64(100), New: float64(40), Source: "narrator"}, res.Changes[0])
	assert.Empty(t, res.Warnings)
}

func TestComputeClampBounds(t *testing.T) {
	cases := []struct {
		name     string
		proposed float64
		want     float64
	}{
		{"below min", -20, 0},
		{"above max", 250, 100},
		{"in range", 55, 55},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res := Compute(testSchema(), nil, []Proposal{
				{Key: "hp", Value: tc.proposed, Source: "narrator"},
			})
			require.Len(t, res.Changes, 1)
			assert.Equal(t, tc.want, res.Changes[0].New)
		})
	}
}

func TestComputeUnknownKeyDropped(t *testing.T) {
	res := Compute(testSchema(), nil, []Proposal{
		{Key: "mana", Value: float64(10), Source: "narrator"},
	})

	assert.Empty(t, res.Changes)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, Warning{Key: "mana", Reason: "unknown schema key"}, res.Warnings[0])
}

func TestComputeNoOpStability(t *testing.T) {
	current := map[string]any{"location": "forest"}
	res := Compute(testSchema(), current, []Proposal{
		{Key: "location", Value: "forest", Source: "narrator"},
		{Key: "alive", Value: true, Source: "narrator"}, // equals default
	})

	assert.Empty(t, res.Changes)
	assert.Empty(t, res.Warnings)
}

func TestComputeTypeMismatchSkipped(t *testing.T) {
	res := Compute(testSchema(), nil, []Proposal{
		{Key: "alive", Value: "very much so", Source: "narrator"},
		{Key: "hp", Value: "not a number", Source: "narrator"},
	})

	assert.Empty(t, res.Changes)
	assert.Len(t, res.Warnings, 2)
}

func TestComputeNumericString(t *testing.T) {
	// System notes arrive as text; "40" must count as a number.
	res := Compute(testSchema(), nil, []Proposal{
		{Key: "hp", Value: "40", Source: "narrator"},
	})

	require.Len(t, res.Changes, 1)
	assert.Equal(t, float64(40), res.Changes[0].New)
}

func TestComputeEnumValidation(t *testing.T) {
	res := Compute(testSchema(), nil, []Proposal{
		{Key: "mood", Value: "angry", Source: "narrator"},
		{Key: "mood", Value: "ecstatic", Source: "narrator"},
	})

	// The invalid later proposal is skipped; the valid earlier one stands.
	require.Len(t, res.Changes, 1)
	assert.Equal(t, "angry", res.Changes[0].New)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0].Reason, "not a declared option")
}

func TestComputeTextList(t *testing.T) {
	res := Compute(testSchema(), nil, []Proposal{
		{Key: "inventory", Value: []any{"rope", "lantern"}, Source: "narrator"},
	})

	require.Len(t, res.Changes, 1)
	assert.Equal(t, []string{"rope", "lantern"}, res.Changes[0].New)

	// Same list against stored state is a no-op.
	current := map[string]any{"inventory": []any{"rope", "lantern"}}
	res = Compute(testSchema(), current, []Proposal{
		{Key: "inventory", Value: []string{"rope", "lantern"}, Source: "narrator"},
	})
	assert.Empty(t, res.Changes)
}

func TestComputeLastProposalWins(t *testing.T) {
	res := Compute(testSchema(), nil, []Proposal{
		{Key: "hp", Value: float64(80), Source: "narrator"},
		{Key: "hp", Value: float64(60), Source: "narrator"},
	})

	require.Len(t, res.Changes, 1)
	assert.Equal(t, float64(60), res.Changes[0].New)
}

func TestComputeIsPure(t *testing.T) {
	schema := testSchema()
	current := map[string]any{"hp": float64(70), "location": "cave"}
	proposals := []Proposal{
		{Key: "hp", Value: float64(130), Source: "narrator"},
		{Key: "location", Value: "ridge", Source: "narrator"},
		{Key: "ghost", Value: true, Source: "narrator"},
	}

	first := Compute(schema, current, proposals)
	second := Compute(schema, current, proposals)

	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("delta computation not deterministic (-first +second):\n%s", diff)
	}
}

func TestComputeChangesFollowSchemaOrder(t *testing.T) {
	res := Compute(testSchema(), nil, []Proposal{
		{Key: "mood", Value: "afraid", Source: "narrator"},
		{Key: "hp", Value: float64(10), Source: "narrator"},
	})

	require.Len(t, res.Changes, 2)
	assert.Equal(t, "hp", res.Changes[0].Key)
	assert.Equal(t, "mood", res.Changes[1].Key)
}
