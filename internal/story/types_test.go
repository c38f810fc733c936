package story

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(f float64) *float64 { return &f }

func TestSchemaFieldValidate(t *testing.T) {
	cases := []struct {
		name    string
		field   SchemaField
		wantErr string
	}{
		{"valid number", SchemaField{Key: "hp", Type: FieldNumber, Min: ptr(0), Max: ptr(100), Default: float64(50)}, ""},
		{"missing key", SchemaField{Type: FieldText}, "key is required"},
		{"unknown type", SchemaField{Key: "x", Type: "blob"}, "unknown type"},
		{"enum without options", SchemaField{Key: "mood", Type: FieldEnum}, "enum requires options"},
		{"inverted bounds", SchemaField{Key: "hp", Type: FieldNumber, Min: ptr(10), Max: ptr(5)}, "min 10 exceeds max 5"},
		{"default out of bounds", SchemaField{Key: "hp", Type: FieldNumber, Max: ptr(10), Default: float64(50)}, "above max"},
		{"default wrong type", SchemaField{Key: "hp", Type: FieldNumber, Default: "full"}, "want number"},
		{"default off enum", SchemaField{Key: "mood", Type: FieldEnum, Options: []string{"calm"}, Default: "angry"}, "not an option"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.field.Validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestWorldValidateDuplicateKeys(t *testing.T) {
	w := World{
		Name: "Emberfall",
		Schema: []SchemaField{
			{Key: "hp", Type: FieldNumber},
			{Key: "hp", Type: FieldText},
		},
	}
	err := w.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate schema key")
}

func TestDefaultValue(t *testing.T) {
	assert.Equal(t, float64(0), (&SchemaField{Key: "n", Type: FieldNumber}).DefaultValue())
	assert.Equal(t, false, (&SchemaField{Key: "b", Type: FieldBool}).DefaultValue())
	assert.Equal(t, "", (&SchemaField{Key: "t", Type: FieldText}).DefaultValue())
	assert.Equal(t, "calm", (&SchemaField{Key: "e", Type: FieldEnum, Options: []string{"calm", "angry"}}).DefaultValue())
	assert.Equal(t, []string{}, (&SchemaField{Key: "l", Type: FieldTextList}).DefaultValue())
	assert.Equal(t, float64(7), (&SchemaField{Key: "n", Type: FieldNumber, Default: float64(7)}).DefaultValue())
}

func TestEffectiveProfile(t *testing.T) {
	sc := StoryCharacter{Profile: "a scholar"}
	assert.Equal(t, "a scholar", sc.EffectiveProfile())

	sc.ProfileOverride = "a spy"
	assert.Equal(t, "a spy", sc.EffectiveProfile())
}
