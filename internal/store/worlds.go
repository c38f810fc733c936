package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/talefold/talefold/internal/story"
)

type worldRow struct {
	ID        string `db:"id"`
	OwnerID   string `db:"owner_id"`
	Name      string `db:"name"`
	Rules     string `db:"rules"`
	CreatedAt string `db:"created_at"`
	UpdatedAt string `db:"updated_at"`
}

type fieldRow struct {
	WorldID     string          `db:"world_id"`
	Key         string          `db:"key"`
	Name        string          `db:"name"`
	Type        string          `db:"type"`
	Description string          `db:"description"`
	DefaultJSON sql.NullString  `db:"default_json"`
	Min         sql.NullFloat64 `db:"min"`
	Max         sql.NullFloat64 `db:"max"`
	OptionsJSON sql.NullString  `db:"options_json"`
	SortOrder   int             `db:"sort_order"`
}

// CreateWorld inserts a world and its schema fields.
func (db *DB) CreateWorld(ctx context.Context, w *story.World) error {
	if err := w.Validate(); err != nil {
		return err
	}

	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO worlds (id, owner_id, name, rules, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		w.ID, w.OwnerID, w.Name, w.Rules, formatTime(w.CreatedAt), formatTime(w.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert world: %w", err)
	}

	if err := insertSchemaFields(ctx, tx, w.ID, w.Schema); err != nil {
		return err
	}
	return tx.Commit()
}

// UpdateWorld replaces a world's metadata and schema fields. Stored state
// values written under the old schema are left in place; type drift against a
// changed schema is detected at read time, not reconciled here.
func (db *DB) UpdateWorld(ctx context.Context, w *story.World) error {
	if err := w.Validate(); err != nil {
		return err
	}

	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE worlds SET name = ?, rules = ?, updated_at = ? WHERE id = ? AND owner_id = ?`,
		w.Name, w.Rules, formatTime(w.UpdatedAt), w.ID, w.OwnerID,
	)
	if err != nil {
		return fmt.Errorf("update world: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return story.ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM schema_fields WHERE world_id = ?`, w.ID); err != nil {
		return fmt.Errorf("clear schema: %w", err)
	}
	if err := insertSchemaFields(ctx, tx, w.ID, w.Schema); err != nil {
		return err
	}
	return tx.Commit()
}

func insertSchemaFields(ctx context.Context, tx *sqlx.Tx, worldID string, fields []story.SchemaField) error {
	for _, f := range fields {
		var defaultJSON, optionsJSON any
		if f.Default != nil {
			defaultJSON = marshalJSON(f.Default)
		}
		if len(f.Options) > 0 {
			optionsJSON = marshalJSON(f.Options)
		}
		var min, max any
		if f.Min != nil {
			min = *f.Min
		}
		if f.Max != nil {
			max = *f.Max
		}

		_, err := tx.ExecContext(ctx,
			`INSERT INTO schema_fields (world_id, key, name, type, description, default_json, min, max, options_json, sort_order)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			worldID, f.Key, f.Name, string(f.Type), f.Description, defaultJSON, min, max, optionsJSON, f.SortOrder,
		)
		if err != nil {
			return fmt.Errorf("insert schema field %q: %w", f.Key, err)
		}
	}
	return nil
}

// GetWorld loads a world with its schema, scoped to the owner.
func (db *DB) GetWorld(ctx context.Context, ownerID, worldID string) (*story.World, error) {
	var row worldRow
	err := db.conn.GetContext(ctx, &row,
		`SELECT * FROM worlds WHERE id = ? AND owner_id = ?`, worldID, ownerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, story.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get world: %w", err)
	}

	schema, err := db.schemaFields(ctx, worldID)
	if err != nil {
		return nil, err
	}

	w := worldFromRow(row)
	w.Schema = schema
	return w, nil
}

// ListWorlds returns the owner's worlds without schema fields.
func (db *DB) ListWorlds(ctx context.Context, ownerID string) ([]story.World, error) {
	var rows []worldRow
	err := db.conn.SelectContext(ctx, &rows,
		`SELECT * FROM worlds WHERE owner_id = ? ORDER BY created_at`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list worlds: %w", err)
	}

	worlds := make([]story.World, 0, len(rows))
	for _, row := range rows {
		worlds = append(worlds, *worldFromRow(row))
	}
	return worlds, nil
}

// DeleteWorld removes a world and its schema fields. Stories referencing the
// world are the caller's responsibility to delete first.
func (db *DB) DeleteWorld(ctx context.Context, ownerID, worldID string) error {
	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`DELETE FROM worlds WHERE id = ? AND owner_id = ?`, worldID, ownerID)
	if err != nil {
		return fmt.Errorf("delete world: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return story.ErrNotFound
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM schema_fields WHERE world_id = ?`, worldID); err != nil {
		return fmt.Errorf("delete schema: %w", err)
	}
	return tx.Commit()
}

func (db *DB) schemaFields(ctx context.Context, worldID string) ([]story.SchemaField, error) {
	var rows []fieldRow
	err := db.conn.SelectContext(ctx, &rows,
		`SELECT * FROM schema_fields WHERE world_id = ? ORDER BY sort_order, key`, worldID)
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}

	fields := make([]story.SchemaField, 0, len(rows))
	for _, r := range rows {
		f := story.SchemaField{
			Key:         r.Key,
			Name:        r.Name,
			Type:        story.FieldType(r.Type),
			Description: r.Description,
			SortOrder:   r.SortOrder,
		}
		if r.DefaultJSON.Valid {
			var def any
			if err := json.Unmarshal([]byte(r.DefaultJSON.String), &def); err == nil {
				f.Default = def
			}
		}
		if r.Min.Valid {
			min := r.Min.Float64
			f.Min = &min
		}
		if r.Max.Valid {
			max := r.Max.Float64
			f.Max = &max
		}
		if r.OptionsJSON.Valid {
			f.Options = unmarshalStrings(r.OptionsJSON.String)
		}
		fields = append(fields, f)
	}
	return fields, nil
}

func worldFromRow(row worldRow) *story.World {
	return &story.World{
		ID:        row.ID,
		OwnerID:   row.OwnerID,
		Name:      row.Name,
		Rules:     row.Rules,
		CreatedAt: parseTime(row.CreatedAt),
		UpdatedAt: parseTime(row.UpdatedAt),
	}
}
