// Package story provides the core data model: worlds, characters, stories,
// turns, and the typed state schema that turns mutate.
package story

import (
	"fmt"
	"time"
)

// FieldType enumerates the value types a schema field can hold.
type FieldType string

const (
	FieldNumber   FieldType = "number"
	FieldBool     FieldType = "bool"
	FieldText     FieldType = "text"
	FieldEnum     FieldType = "enum"
	FieldTextList FieldType = "text_list"
)

// SchemaField is one typed, named slot of mutable story state.
type SchemaField struct {
	Key         string    `json:"key"`  // Stable identifier, unique within a world
	Name        string    `json:"name"` // Display name
	Type        FieldType `json:"type"`
	Description string    `json:"description,omitempty"` // AI-facing description
	Default     any       `json:"default,omitempty"`
	Min         *float64  `json:"min,omitempty"` // Number fields only
	Max         *float64  `json:"max,omitempty"`
	Options     []string  `json:"options,omitempty"` // Enum fields only
	SortOrder   int       `json:"sort_order"`
}

// Validate checks internal consistency: known type, enum options present,
// min <= max, and a default that satisfies the field's type and bounds.
func (f *SchemaField) Validate() error {
	if f.Key == "" {
		return fmt.Errorf("schema field: key is required")
	}
	switch f.Type {
	case FieldNumber, FieldBool, FieldText, FieldTextList:
	case FieldEnum:
		if len(f.Options) == 0 {
			return fmt.Errorf("schema field %q: enum requires options", f.Key)
		}
	default:
		return fmt.Errorf("schema field %q: unknown type %q", f.Key, f.Type)
	}
	if f.Min != nil && f.Max != nil && *f.Min > *f.Max {
		return fmt.Errorf("schema field %q: min %v exceeds max %v", f.Key, *f.Min, *f.Max)
	}
	if f.Default != nil {
		if err := f.CheckValue(f.Default); err != nil {
			return fmt.Errorf("schema field %q: default: %w", f.Key, err)
		}
	}
	return nil
}

// CheckValue reports whether v satisfies the field's type and bounds.
// Number values must already be float64 (the JSON number representation).
func (f *SchemaField) CheckValue(v any) error {
	switch f.Type {
	case FieldNumber:
		n, ok := v.(float64)
		if !ok {
			return fmt.Errorf("want number, got %T", v)
		}
		if f.Min != nil && n < *f.Min {
			return fmt.Errorf("%v below min %v", n, *f.Min)
		}
		if f.Max != nil && n > *f.Max {
			return fmt.Errorf("%v above max %v", n, *f.Max)
		}
	case FieldBool:
		if _, ok := v.(bool); !ok {
			return fmt.Errorf("want bool, got %T", v)
		}
	case FieldText:
		if _, ok := v.(string); !ok {
			return fmt.Errorf("want text, got %T", v)
		}
	case FieldEnum:
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("want enum option, got %T", v)
		}
		for _, opt := range f.Options {
			if opt == s {
				return nil
			}
		}
		return fmt.Errorf("%q is not an option", s)
	case FieldTextList:
		switch list := v.(type) {
		case []string:
		case []any:
			for _, el := range list {
				if _, ok := el.(string); !ok {
					return fmt.Errorf("list element: want text, got %T", el)
				}
			}
		default:
			return fmt.Errorf("want text list, got %T", v)
		}
	}
	return nil
}

// DefaultValue returns the field's default, or the zero value for its type
// when no default is declared.
func (f *SchemaField) DefaultValue() any {
	if f.Default != nil {
		return f.Default
	}
	switch f.Type {
	case FieldNumber:
		return float64(0)
	case FieldBool:
		return false
	case FieldText:
		return ""
	case FieldEnum:
		if len(f.Options) > 0 {
			return f.Options[0]
		}
		return ""
	case FieldTextList:
		return []string{}
	}
	return nil
}

// World is a reusable setting definition: rules text plus a typed state schema.
type World struct {
	ID        string        `json:"id"`
	OwnerID   string        `json:"owner_id"`
	Name      string        `json:"name"`
	Rules     string        `json:"rules"`
	Schema    []SchemaField `json:"schema"` // Ordered by SortOrder
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Validate checks the world and its schema, including key uniqueness.
func (w *World) Validate() error {
	if w.Name == "" {
		return fmt.Errorf("world: name is required")
	}
	seen := make(map[string]bool, len(w.Schema))
	for i := range w.Schema {
		f := &w.Schema[i]
		if err := f.Validate(); err != nil {
			return fmt.Errorf("world %q: %w", w.Name, err)
		}
		if seen[f.Key] {
			return fmt.Errorf("world %q: duplicate schema key %q", w.Name, f.Key)
		}
		seen[f.Key] = true
	}
	return nil
}

// Field returns the schema field with the given key, or nil.
func (w *World) Field(key string) *SchemaField {
	for i := range w.Schema {
		if w.Schema[i].Key == key {
			return &w.Schema[i]
		}
	}
	return nil
}

// Character is a canonical character definition, owned by a user and
// referenced (never owned) by stories.
type Character struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Name      string    `json:"name"`
	Profile   string    `json:"profile"`
	Tags      []string  `json:"tags,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Story is one ongoing play-through of a World with a cast of Characters.
type Story struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	WorldID   string    `json:"world_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"` // Touched after every persisted turn
}

// StoryCharacter joins a Story to a Character. The per-story profile override
// shadows the canonical profile without mutating it.
type StoryCharacter struct {
	ID              string `json:"id"`
	StoryID         string `json:"story_id"`
	CharacterID     string `json:"character_id"`
	Name            string `json:"name"` // Denormalized from the character row
	Profile         string `json:"profile"`
	ProfileOverride string `json:"profile_override,omitempty"`
	StateSummary    string `json:"state_summary,omitempty"` // Cache, refreshed out of band
}

// EffectiveProfile returns the override when present, else the canonical profile.
func (sc *StoryCharacter) EffectiveProfile() string {
	if sc.ProfileOverride != "" {
		return sc.ProfileOverride
	}
	return sc.Profile
}

// Relationship is a directed edge between two story characters. Symmetric
// relationships are two edges.
type Relationship struct {
	ID      string   `json:"id"`
	StoryID string   `json:"story_id"`
	FromID  string   `json:"from_id"` // StoryCharacter ID
	ToID    string   `json:"to_id"`
	Score   float64  `json:"score"` // -1.0 (hostile) to 1.0 (devoted)
	Tags    []string `json:"tags,omitempty"`
}

// DialogueLine is one spoken line within a turn.
type DialogueLine struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// StoryTurn is one user-input/AI-response exchange. Turns are append-only:
// a turn is never mutated after creation; derived state references it by ID.
type StoryTurn struct {
	ID          string         `json:"id"`
	StoryID     string         `json:"story_id"`
	Seq         int            `json:"seq"` // Storage order, 1-based
	UserInput   string         `json:"user_input"`
	Narrative   string         `json:"narrative"`
	Dialogue    []DialogueLine `json:"dialogue,omitempty"`
	SceneTags   []string       `json:"scene_tags,omitempty"`
	SystemNotes []string       `json:"system_notes,omitempty"` // Raw observations fed to delta extraction
	CreatedAt   time.Time      `json:"created_at"`
}

// StateValue is the stored value for one schema key of one story. A key with
// no row holds its schema default.
type StateValue struct {
	StoryID string `json:"story_id"`
	Key     string `json:"key"`
	Value   any    `json:"value"`
}

// ChangeLogEntry records one field-level state mutation attributed to a turn.
// Write-once; read by the audit/diff UI, never by the pipeline itself.
type ChangeLogEntry struct {
	ID        string    `json:"id"`
	TurnID    string    `json:"turn_id"`
	StoryID   string    `json:"story_id"`
	Key       string    `json:"key"`
	Previous  any       `json:"previous"`
	New       any       `json:"new"`
	Source    string    `json:"source"` // Which agent proposed the change
	CreatedAt time.Time `json:"created_at"`
}

// ProviderSettings is a user's resolved AI provider configuration. The
// credential is opaque to everything except the provider client.
type ProviderSettings struct {
	OwnerID      string  `json:"owner_id"`
	Provider     string  `json:"provider"`
	Credential   string  `json:"-"` // Never serialized outward
	DefaultModel string  `json:"default_model"`
	Temperature  float64 `json:"temperature,omitempty"`
	TopP         float64 `json:"top_p,omitempty"`
	MaxTokens    int     `json:"max_tokens,omitempty"`
}
