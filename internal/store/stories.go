package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/talefold/talefold/internal/story"
)

type storyRow struct {
	ID        string `db:"id"`
	OwnerID   string `db:"owner_id"`
	WorldID   string `db:"world_id"`
	Title     string `db:"title"`
	CreatedAt string `db:"created_at"`
	UpdatedAt string `db:"updated_at"`
}

type castRow struct {
	ID              string `db:"id"`
	StoryID         string `db:"story_id"`
	CharacterID     string `db:"character_id"`
	Name            string `db:"name"`
	Profile         string `db:"profile"`
	ProfileOverride string `db:"profile_override"`
	StateSummary    string `db:"state_summary"`
}

type relationshipRow struct {
	ID       string  `db:"id"`
	StoryID  string  `db:"story_id"`
	FromID   string  `db:"from_id"`
	ToID     string  `db:"to_id"`
	Score    float64 `db:"score"`
	TagsJSON string  `db:"tags_json"`
}

type turnRow struct {
	ID              string `db:"id"`
	StoryID         string `db:"story_id"`
	Seq             int    `db:"seq"`
	UserInput       string `db:"user_input"`
	Narrative       string `db:"narrative"`
	DialogueJSON    string `db:"dialogue_json"`
	SceneTagsJSON   string `db:"scene_tags_json"`
	SystemNotesJSON string `db:"system_notes_json"`
	CreatedAt       string `db:"created_at"`
}

type changeLogRow struct {
	ID           string         `db:"id"`
	TurnID       string         `db:"turn_id"`
	StoryID      string         `db:"story_id"`
	Key          string         `db:"key"`
	PreviousJSON sql.NullString `db:"previous_json"`
	NewJSON      sql.NullString `db:"new_json"`
	Source       string         `db:"source"`
	CreatedAt    string         `db:"created_at"`
}

// CreateStory inserts a story for an existing world.
func (db *DB) CreateStory(ctx context.Context, s *story.Story) error {
	if _, err := db.GetWorld(ctx, s.OwnerID, s.WorldID); err != nil {
		return fmt.Errorf("story world: %w", err)
	}
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO stories (id, owner_id, world_id, title, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		s.ID, s.OwnerID, s.WorldID, s.Title, formatTime(s.CreatedAt), formatTime(s.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert story: %w", err)
	}
	return nil
}

// GetStory loads one story, scoped to the owner.
func (db *DB) GetStory(ctx context.Context, ownerID, storyID string) (*story.Story, error) {
	var row storyRow
	err := db.conn.GetContext(ctx, &row,
		`SELECT * FROM stories WHERE id = ? AND owner_id = ?`, storyID, ownerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, story.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get story: %w", err)
	}
	s := storyFromRow(row)
	return &s, nil
}

// ListStories returns the owner's stories, most recently active first.
func (db *DB) ListStories(ctx context.Context, ownerID string) ([]story.Story, error) {
	var rows []storyRow
	err := db.conn.SelectContext(ctx, &rows,
		`SELECT * FROM stories WHERE owner_id = ? ORDER BY updated_at DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list stories: %w", err)
	}

	stories := make([]story.Story, 0, len(rows))
	for _, row := range rows {
		stories = append(stories, storyFromRow(row))
	}
	return stories, nil
}

// DeleteStory removes a story and everything it owns: cast, relationships,
// turns, state, and change log.
func (db *DB) DeleteStory(ctx context.Context, ownerID, storyID string) error {
	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`DELETE FROM stories WHERE id = ? AND owner_id = ?`, storyID, ownerID)
	if err != nil {
		return fmt.Errorf("delete story: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return story.ErrNotFound
	}

	for _, table := range []string{"story_characters", "relationships", "story_turns", "story_state", "change_log"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE story_id = ?`, storyID); err != nil {
			return fmt.Errorf("delete %s: %w", table, err)
		}
	}
	return tx.Commit()
}

// AddStoryCharacter joins a canonical character to a story's cast,
// denormalizing its name and profile at join time.
func (db *DB) AddStoryCharacter(ctx context.Context, ownerID string, sc *story.StoryCharacter) error {
	if _, err := db.GetStory(ctx, ownerID, sc.StoryID); err != nil {
		return err
	}
	c, err := db.GetCharacter(ctx, ownerID, sc.CharacterID)
	if err != nil {
		return fmt.Errorf("cast character: %w", err)
	}
	sc.Name = c.Name
	sc.Profile = c.Profile

	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO story_characters (id, story_id, character_id, name, profile, profile_override, state_summary)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sc.ID, sc.StoryID, sc.CharacterID, sc.Name, sc.Profile, sc.ProfileOverride, sc.StateSummary,
	)
	if err != nil {
		return fmt.Errorf("insert story character: %w", err)
	}
	return nil
}

// UpdateStoryCharacter rewrites a cast member's override and summary.
func (db *DB) UpdateStoryCharacter(ctx context.Context, ownerID string, sc *story.StoryCharacter) error {
	if _, err := db.GetStory(ctx, ownerID, sc.StoryID); err != nil {
		return err
	}
	res, err := db.conn.ExecContext(ctx,
		`UPDATE story_characters SET profile_override = ?, state_summary = ?
		 WHERE id = ? AND story_id = ?`,
		sc.ProfileOverride, sc.StateSummary, sc.ID, sc.StoryID,
	)
	if err != nil {
		return fmt.Errorf("update story character: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return story.ErrNotFound
	}
	return nil
}

// StoryCast returns a story's cast with canonical names and profiles joined
// in. Cast members whose canonical character was deleted keep the
// denormalized copies taken at join time.
func (db *DB) StoryCast(ctx context.Context, storyID string) ([]story.StoryCharacter, error) {
	var rows []castRow
	err := db.conn.SelectContext(ctx, &rows,
		`SELECT sc.id, sc.story_id, sc.character_id, sc.profile_override, sc.state_summary,
		        COALESCE(c.name, sc.name) AS name, COALESCE(c.profile, sc.profile) AS profile
		 FROM story_characters sc
		 LEFT JOIN characters c ON c.id = sc.character_id
		 WHERE sc.story_id = ?
		 ORDER BY sc.id`, storyID)
	if err != nil {
		return nil, fmt.Errorf("load cast: %w", err)
	}

	cast := make([]story.StoryCharacter, 0, len(rows))
	for _, r := range rows {
		cast = append(cast, story.StoryCharacter{
			ID:              r.ID,
			StoryID:         r.StoryID,
			CharacterID:     r.CharacterID,
			Name:            r.Name,
			Profile:         r.Profile,
			ProfileOverride: r.ProfileOverride,
			StateSummary:    r.StateSummary,
		})
	}
	return cast, nil
}

// SetRelationship upserts a directed relationship edge between two cast
// members.
func (db *DB) SetRelationship(ctx context.Context, ownerID string, r *story.Relationship) error {
	if _, err := db.GetStory(ctx, ownerID, r.StoryID); err != nil {
		return err
	}
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO relationships (id, story_id, from_id, to_id, score, tags_json)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET score = excluded.score, tags_json = excluded.tags_json`,
		r.ID, r.StoryID, r.FromID, r.ToID, r.Score, marshalJSON(r.Tags),
	)
	if err != nil {
		return fmt.Errorf("set relationship: %w", err)
	}
	return nil
}

// StoryRelationships returns all relationship edges for a story.
func (db *DB) StoryRelationships(ctx context.Context, storyID string) ([]story.Relationship, error) {
	var rows []relationshipRow
	err := db.conn.SelectContext(ctx, &rows,
		`SELECT * FROM relationships WHERE story_id = ? ORDER BY id`, storyID)
	if err != nil {
		return nil, fmt.Errorf("load relationships: %w", err)
	}

	rels := make([]story.Relationship, 0, len(rows))
	for _, r := range rows {
		rels = append(rels, story.Relationship{
			ID:      r.ID,
			StoryID: r.StoryID,
			FromID:  r.FromID,
			ToID:    r.ToID,
			Score:   r.Score,
			Tags:    unmarshalStrings(r.TagsJSON),
		})
	}
	return rels, nil
}

// RecentTurns returns the last limit turns in storage order (oldest first).
func (db *DB) RecentTurns(ctx context.Context, storyID string, limit int) ([]story.StoryTurn, error) {
	var rows []turnRow
	err := db.conn.SelectContext(ctx, &rows,
		`SELECT * FROM (
		    SELECT * FROM story_turns WHERE story_id = ? ORDER BY seq DESC LIMIT ?
		 ) ORDER BY seq ASC`, storyID, limit)
	if err != nil {
		return nil, fmt.Errorf("load turns: %w", err)
	}
	return turnsFromRows(rows), nil
}

// Turns returns a story's full turn history in storage order.
func (db *DB) Turns(ctx context.Context, ownerID, storyID string) ([]story.StoryTurn, error) {
	if _, err := db.GetStory(ctx, ownerID, storyID); err != nil {
		return nil, err
	}
	var rows []turnRow
	err := db.conn.SelectContext(ctx, &rows,
		`SELECT * FROM story_turns WHERE story_id = ? ORDER BY seq ASC`, storyID)
	if err != nil {
		return nil, fmt.Errorf("load turns: %w", err)
	}
	return turnsFromRows(rows), nil
}

// ChangeLog returns a story's change-log entries in write order.
func (db *DB) ChangeLog(ctx context.Context, ownerID, storyID string) ([]story.ChangeLogEntry, error) {
	if _, err := db.GetStory(ctx, ownerID, storyID); err != nil {
		return nil, err
	}
	var rows []changeLogRow
	err := db.conn.SelectContext(ctx, &rows,
		`SELECT * FROM change_log WHERE story_id = ? ORDER BY created_at, id`, storyID)
	if err != nil {
		return nil, fmt.Errorf("load change log: %w", err)
	}

	entries := make([]story.ChangeLogEntry, 0, len(rows))
	for _, r := range rows {
		entry := story.ChangeLogEntry{
			ID:        r.ID,
			TurnID:    r.TurnID,
			StoryID:   r.StoryID,
			Key:       r.Key,
			Source:    r.Source,
			CreatedAt: parseTime(r.CreatedAt),
		}
		if r.PreviousJSON.Valid {
			entry.Previous = unmarshalValue(r.PreviousJSON.String)
		}
		if r.NewJSON.Valid {
			entry.New = unmarshalValue(r.NewJSON.String)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func storyFromRow(row storyRow) story.Story {
	return story.Story{
		ID:        row.ID,
		OwnerID:   row.OwnerID,
		WorldID:   row.WorldID,
		Title:     row.Title,
		CreatedAt: parseTime(row.CreatedAt),
		UpdatedAt: parseTime(row.UpdatedAt),
	}
}

func turnsFromRows(rows []turnRow) []story.StoryTurn {
	turns := make([]story.StoryTurn, 0, len(rows))
	for _, r := range rows {
		t := story.StoryTurn{
			ID:          r.ID,
			StoryID:     r.StoryID,
			Seq:         r.Seq,
			UserInput:   r.UserInput,
			Narrative:   r.Narrative,
			SceneTags:   unmarshalStrings(r.SceneTagsJSON),
			SystemNotes: unmarshalStrings(r.SystemNotesJSON),
			CreatedAt:   parseTime(r.CreatedAt),
		}
		_ = unmarshalInto(r.DialogueJSON, &t.Dialogue)
		turns = append(turns, t)
	}
	return turns
}
