package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/talefold/talefold/internal/story"
)

type characterRow struct {
	ID        string `db:"id"`
	OwnerID   string `db:"owner_id"`
	Name      string `db:"name"`
	Profile   string `db:"profile"`
	TagsJSON  string `db:"tags_json"`
	CreatedAt string `db:"created_at"`
	UpdatedAt string `db:"updated_at"`
}

// CreateCharacter inserts a canonical character.
func (db *DB) CreateCharacter(ctx context.Context, c *story.Character) error {
	if c.Name == "" {
		return fmt.Errorf("character: name is required")
	}
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO characters (id, owner_id, name, profile, tags_json, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.OwnerID, c.Name, c.Profile, marshalJSON(c.Tags),
		formatTime(c.CreatedAt), formatTime(c.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert character: %w", err)
	}
	return nil
}

// UpdateCharacter rewrites a character's editable fields.
func (db *DB) UpdateCharacter(ctx context.Context, c *story.Character) error {
	res, err := db.conn.ExecContext(ctx,
		`UPDATE characters SET name = ?, profile = ?, tags_json = ?, updated_at = ?
		 WHERE id = ? AND owner_id = ?`,
		c.Name, c.Profile, marshalJSON(c.Tags), formatTime(c.UpdatedAt), c.ID, c.OwnerID,
	)
	if err != nil {
		return fmt.Errorf("update character: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return story.ErrNotFound
	}
	return nil
}

// GetCharacter loads one character, scoped to the owner.
func (db *DB) GetCharacter(ctx context.Context, ownerID, characterID string) (*story.Character, error) {
	var row characterRow
	err := db.conn.GetContext(ctx, &row,
		`SELECT * FROM characters WHERE id = ? AND owner_id = ?`, characterID, ownerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, story.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get character: %w", err)
	}
	c := characterFromRow(row)
	return &c, nil
}

// ListCharacters returns the owner's characters.
func (db *DB) ListCharacters(ctx context.Context, ownerID string) ([]story.Character, error) {
	var rows []characterRow
	err := db.conn.SelectContext(ctx, &rows,
		`SELECT * FROM characters WHERE owner_id = ? ORDER BY name`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list characters: %w", err)
	}

	chars := make([]story.Character, 0, len(rows))
	for _, row := range rows {
		chars = append(chars, characterFromRow(row))
	}
	return chars, nil
}

// DeleteCharacter removes a canonical character. Story casts referencing it
// keep their denormalized copy of the profile.
func (db *DB) DeleteCharacter(ctx context.Context, ownerID, characterID string) error {
	res, err := db.conn.ExecContext(ctx,
		`DELETE FROM characters WHERE id = ? AND owner_id = ?`, characterID, ownerID)
	if err != nil {
		return fmt.Errorf("delete character: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return story.ErrNotFound
	}
	return nil
}

func characterFromRow(row characterRow) story.Character {
	return story.Character{
		ID:        row.ID,
		OwnerID:   row.OwnerID,
		Name:      row.Name,
		Profile:   row.Profile,
		Tags:      unmarshalStrings(row.TagsJSON),
		CreatedAt: parseTime(row.CreatedAt),
		UpdatedAt: parseTime(row.UpdatedAt),
	}
}
