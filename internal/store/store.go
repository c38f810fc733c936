// Package store provides SQLite-backed persistence for worlds, characters,
// stories, turns, and the change log.
package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// DB wraps a SQLite connection.
type DB struct {
	conn *sqlx.DB
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS worlds (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		name TEXT NOT NULL,
		rules TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS schema_fields (
		world_id TEXT NOT NULL,
		key TEXT NOT NULL,
		name TEXT NOT NULL,
		type TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		default_json TEXT,
		min REAL,
		max REAL,
		options_json TEXT,
		sort_order INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (world_id, key),
		FOREIGN KEY (world_id) REFERENCES worlds(id)
	);

	CREATE TABLE IF NOT EXISTS characters (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		name TEXT NOT NULL,
		profile TEXT NOT NULL DEFAULT '',
		tags_json TEXT NOT NULL DEFAULT '[]',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS stories (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		world_id TEXT NOT NULL,
		title TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		FOREIGN KEY (world_id) REFERENCES worlds(id)
	);

	CREATE TABLE IF NOT EXISTS story_characters (
		id TEXT PRIMARY KEY,
		story_id TEXT NOT NULL,
		character_id TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		profile TEXT NOT NULL DEFAULT '',
		profile_override TEXT NOT NULL DEFAULT '',
		state_summary TEXT NOT NULL DEFAULT '',
		FOREIGN KEY (story_id) REFERENCES stories(id),
		FOREIGN KEY (character_id) REFERENCES characters(id)
	);

	CREATE TABLE IF NOT EXISTS relationships (
		id TEXT PRIMARY KEY,
		story_id TEXT NOT NULL,
		from_id TEXT NOT NULL,
		to_id TEXT NOT NULL,
		score REAL NOT NULL DEFAULT 0,
		tags_json TEXT NOT NULL DEFAULT '[]',
		FOREIGN KEY (story_id) REFERENCES stories(id)
	);

	CREATE TABLE IF NOT EXISTS story_turns (
		id TEXT PRIMARY KEY,
		story_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		user_input TEXT NOT NULL,
		narrative TEXT NOT NULL,
		dialogue_json TEXT NOT NULL DEFAULT '[]',
		scene_tags_json TEXT NOT NULL DEFAULT '[]',
		system_notes_json TEXT NOT NULL DEFAULT '[]',
		created_at TEXT NOT NULL,
		FOREIGN KEY (story_id) REFERENCES stories(id)
	);

	CREATE TABLE IF NOT EXISTS story_state (
		story_id TEXT NOT NULL,
		key TEXT NOT NULL,
		value_json TEXT NOT NULL,
		PRIMARY KEY (story_id, key),
		FOREIGN KEY (story_id) REFERENCES stories(id)
	);

	CREATE TABLE IF NOT EXISTS change_log (
		id TEXT PRIMARY KEY,
		turn_id TEXT NOT NULL,
		story_id TEXT NOT NULL,
		key TEXT NOT NULL,
		previous_json TEXT,
		new_json TEXT,
		source TEXT NOT NULL,
		created_at TEXT NOT NULL,
		FOREIGN KEY (turn_id) REFERENCES story_turns(id)
	);

	CREATE TABLE IF NOT EXISTS provider_settings (
		owner_id TEXT PRIMARY KEY,
		provider TEXT NOT NULL,
		credential TEXT NOT NULL,
		default_model TEXT NOT NULL,
		temperature REAL NOT NULL DEFAULT 0,
		top_p REAL NOT NULL DEFAULT 0,
		max_tokens INTEGER NOT NULL DEFAULT 0
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_turns_story_seq ON story_turns(story_id, seq);
	CREATE INDEX IF NOT EXISTS idx_change_log_story ON change_log(story_id);
	CREATE INDEX IF NOT EXISTS idx_change_log_turn ON change_log(turn_id);
	CREATE INDEX IF NOT EXISTS idx_story_characters_story ON story_characters(story_id);
	CREATE INDEX IF NOT EXISTS idx_relationships_story ON relationships(story_id);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// timestamps are stored as RFC 3339 text.
const timeLayout = time.RFC3339Nano

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func marshalJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}

func unmarshalStrings(raw string) []string {
	var out []string
	if raw == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}

func unmarshalInto(raw string, v any) error {
	if raw == "" {
		return nil
	}
	return json.Unmarshal([]byte(raw), v)
}

func unmarshalValue(raw string) any {
	var v any
	if raw == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil
	}
	return v
}
