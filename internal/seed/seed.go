// Package seed imports a YAML world bundle — world, schema, characters, and
// optionally a ready-to-play story — into the store.
package seed

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/talefold/talefold/internal/store"
	"github.com/talefold/talefold/internal/story"
)

// Bundle is the YAML shape of a world seed file.
type Bundle struct {
	World struct {
		Name   string `yaml:"name"`
		Rules  string `yaml:"rules"`
		Schema []struct {
			Key         string   `yaml:"key"`
			Name        string   `yaml:"name"`
			Type        string   `yaml:"type"`
			Description string   `yaml:"description"`
			Default     any      `yaml:"default"`
			Min         *float64 `yaml:"min"`
			Max         *float64 `yaml:"max"`
			Options     []string `yaml:"options"`
		} `yaml:"schema"`
	} `yaml:"world"`

	Characters []struct {
		Name    string   `yaml:"name"`
		Profile string   `yaml:"profile"`
		Tags    []string `yaml:"tags"`
	} `yaml:"characters"`

	Story *struct {
		Title string   `yaml:"title"`
		Cast  []string `yaml:"cast"` // Character names from this bundle
	} `yaml:"story"`
}

// Result summarizes what an import created.
type Result struct {
	WorldID    string
	StoryID    string
	Characters int
}

// ImportFile reads and imports a bundle from disk.
func ImportFile(ctx context.Context, db *store.DB, ownerID, path string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read bundle: %w", err)
	}

	var bundle Bundle
	if err := yaml.Unmarshal(data, &bundle); err != nil {
		return nil, fmt.Errorf("parse bundle: %w", err)
	}
	return Import(ctx, db, ownerID, &bundle)
}

// Import creates the bundle's world, characters, and story.
func Import(ctx context.Context, db *store.DB, ownerID string, bundle *Bundle) (*Result, error) {
	now := time.Now().UTC()

	world := story.World{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Name:      bundle.World.Name,
		Rules:     bundle.World.Rules,
		CreatedAt: now,
		UpdatedAt: now,
	}
	for i, f := range bundle.World.Schema {
		world.Schema = append(world.Schema, story.SchemaField{
			Key:         f.Key,
			Name:        f.Name,
			Type:        story.FieldType(f.Type),
			Description: f.Description,
			Default:     normalizeYAML(f.Default),
			Min:         f.Min,
			Max:         f.Max,
			Options:     f.Options,
			SortOrder:   i,
		})
	}
	if err := db.CreateWorld(ctx, &world); err != nil {
		return nil, fmt.Errorf("import world: %w", err)
	}

	byName := make(map[string]string, len(bundle.Characters))
	for _, c := range bundle.Characters {
		char := story.Character{
			ID:        uuid.NewString(),
			OwnerID:   ownerID,
			Name:      c.Name,
			Profile:   c.Profile,
			Tags:      c.Tags,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := db.CreateCharacter(ctx, &char); err != nil {
			return nil, fmt.Errorf("import character %q: %w", c.Name, err)
		}
		byName[c.Name] = char.ID
	}

	res := &Result{WorldID: world.ID, Characters: len(bundle.Characters)}

	if bundle.Story != nil {
		st := story.Story{
			ID:        uuid.NewString(),
			OwnerID:   ownerID,
			WorldID:   world.ID,
			Title:     bundle.Story.Title,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := db.CreateStory(ctx, &st); err != nil {
			return nil, fmt.Errorf("import story: %w", err)
		}
		for _, name := range bundle.Story.Cast {
			charID, ok := byName[name]
			if !ok {
				return nil, fmt.Errorf("story cast references unknown character %q", name)
			}
			sc := story.StoryCharacter{
				ID:          uuid.NewString(),
				StoryID:     st.ID,
				CharacterID: charID,
			}
			if err := db.AddStoryCharacter(ctx, ownerID, &sc); err != nil {
				return nil, fmt.Errorf("cast %q: %w", name, err)
			}
		}
		res.StoryID = st.ID
	}

	return res, nil
}

// normalizeYAML converts YAML scalar types to the JSON-typed representation
// the schema layer expects: numbers become float64, nested lists stay []any.
func normalizeYAML(v any) any {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case []any:
		out := make([]any, len(n))
		for i, el := range n {
			out[i] = normalizeYAML(el)
		}
		return out
	}
	return v
}
