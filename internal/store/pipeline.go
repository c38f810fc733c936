package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/talefold/talefold/internal/story"
	"github.com/talefold/talefold/internal/turn"
)

// The store implements turn.Store.
var _ turn.Store = (*DB)(nil)

// LoadSnapshot reads everything the turn pipeline needs about one story in a
// single pass, enforcing owner scope.
func (db *DB) LoadSnapshot(ctx context.Context, ownerID, storyID string, window int) (*turn.Snapshot, error) {
	s, err := db.GetStory(ctx, ownerID, storyID)
	if err != nil {
		return nil, err
	}
	w, err := db.GetWorld(ctx, ownerID, s.WorldID)
	if err != nil {
		return nil, fmt.Errorf("story world: %w", err)
	}
	cast, err := db.StoryCast(ctx, storyID)
	if err != nil {
		return nil, err
	}
	rels, err := db.StoryRelationships(ctx, storyID)
	if err != nil {
		return nil, err
	}
	turns, err := db.RecentTurns(ctx, storyID, window)
	if err != nil {
		return nil, err
	}
	state, err := db.storyState(ctx, storyID)
	if err != nil {
		return nil, err
	}

	var maxSeq sql.NullInt64
	err = db.conn.GetContext(ctx, &maxSeq,
		`SELECT MAX(seq) FROM story_turns WHERE story_id = ?`, storyID)
	if err != nil {
		return nil, fmt.Errorf("next seq: %w", err)
	}

	return &turn.Snapshot{
		Story:         *s,
		World:         *w,
		Cast:          cast,
		Relationships: rels,
		Turns:         turns,
		State:         state,
		NextSeq:       int(maxSeq.Int64) + 1,
	}, nil
}

func (db *DB) storyState(ctx context.Context, storyID string) (map[string]any, error) {
	type stateRow struct {
		Key       string `db:"key"`
		ValueJSON string `db:"value_json"`
	}
	var rows []stateRow
	err := db.conn.SelectContext(ctx, &rows,
		`SELECT key, value_json FROM story_state WHERE story_id = ?`, storyID)
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}

	state := make(map[string]any, len(rows))
	for _, r := range rows {
		state[r.Key] = unmarshalValue(r.ValueJSON)
	}
	return state, nil
}

// ProviderSettings resolves the owner's AI provider configuration.
func (db *DB) ProviderSettings(ctx context.Context, ownerID string) (*story.ProviderSettings, error) {
	type settingsRow struct {
		OwnerID      string  `db:"owner_id"`
		Provider     string  `db:"provider"`
		Credential   string  `db:"credential"`
		DefaultModel string  `db:"default_model"`
		Temperature  float64 `db:"temperature"`
		TopP         float64 `db:"top_p"`
		MaxTokens    int     `db:"max_tokens"`
	}
	var row settingsRow
	err := db.conn.GetContext(ctx, &row,
		`SELECT * FROM provider_settings WHERE owner_id = ?`, ownerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, story.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("provider settings: %w", err)
	}

	return &story.ProviderSettings{
		OwnerID:      row.OwnerID,
		Provider:     row.Provider,
		Credential:   row.Credential,
		DefaultModel: row.DefaultModel,
		Temperature:  row.Temperature,
		TopP:         row.TopP,
		MaxTokens:    row.MaxTokens,
	}, nil
}

// SetProviderSettings upserts the owner's provider configuration.
func (db *DB) SetProviderSettings(ctx context.Context, s *story.ProviderSettings) error {
	if s.Credential == "" || s.DefaultModel == "" {
		return fmt.Errorf("provider settings: credential and default model are required")
	}
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO provider_settings (owner_id, provider, credential, default_model, temperature, top_p, max_tokens)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (owner_id) DO UPDATE SET
		   provider = excluded.provider,
		   credential = excluded.credential,
		   default_model = excluded.default_model,
		   temperature = excluded.temperature,
		   top_p = excluded.top_p,
		   max_tokens = excluded.max_tokens`,
		s.OwnerID, s.Provider, s.Credential, s.DefaultModel, s.Temperature, s.TopP, s.MaxTokens,
	)
	if err != nil {
		return fmt.Errorf("set provider settings: %w", err)
	}
	return nil
}

// PersistTurn writes one turn's results in a single transaction, in fixed
// order: turn row, state upserts, change-log rows, story marker. The order
// matters for partial-failure forensics on stores without atomicity; with
// SQLite the transaction makes the whole batch atomic, and a state value can
// never outlive its owning turn.
func (db *DB) PersistTurn(ctx context.Context, t *story.StoryTurn, state []story.StateValue, log []story.ChangeLogEntry) error {
	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return &turn.PersistError{Step: "turn", Err: err}
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO story_turns (id, story_id, seq, user_input, narrative, dialogue_json, scene_tags_json, system_notes_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.StoryID, t.Seq, t.UserInput, t.Narrative,
		marshalJSON(t.Dialogue), marshalJSON(t.SceneTags), marshalJSON(t.SystemNotes),
		formatTime(t.CreatedAt),
	)
	if err != nil {
		return &turn.PersistError{Step: "turn", Err: err}
	}

	for _, sv := range state {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO story_state (story_id, key, value_json) VALUES (?, ?, ?)
			 ON CONFLICT (story_id, key) DO UPDATE SET value_json = excluded.value_json`,
			sv.StoryID, sv.Key, marshalJSON(sv.Value),
		)
		if err != nil {
			return &turn.PersistError{Step: "state", Err: fmt.Errorf("key %q: %w", sv.Key, err)}
		}
	}

	for _, entry := range log {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO change_log (id, turn_id, story_id, key, previous_json, new_json, source, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			entry.ID, entry.TurnID, entry.StoryID, entry.Key,
			marshalJSON(entry.Previous), marshalJSON(entry.New),
			entry.Source, formatTime(entry.CreatedAt),
		)
		if err != nil {
			return &turn.PersistError{Step: "log", Err: fmt.Errorf("key %q: %w", entry.Key, err)}
		}
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE stories SET updated_at = ? WHERE id = ?`,
		formatTime(time.Now().UTC()), t.StoryID,
	)
	if err != nil {
		return &turn.PersistError{Step: "marker", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return &turn.PersistError{Step: "turn", Err: fmt.Errorf("commit: %w", err)}
	}
	return nil
}
