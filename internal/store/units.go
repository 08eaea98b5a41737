package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Unit is one cached unit snapshot. Snapshot is opaque to the store.
type Unit struct {
	ID        string
	Plugin    string
	Name      string
	Snapshot  json.RawMessage
	UpdatedAt time.Time
}

// Units returns every cached unit of a plugin ordered by ID.
func (db *DB) Units(ctx context.Context, plugin string) ([]Unit, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, plugin, name, snapshot, updated_at
		FROM units WHERE plugin = ? ORDER BY id
	`, plugin)
	if err != nil {
		return nil, fmt.Errorf("query units: %w", err)
	}
	defer rows.Close()

	var out []Unit
	for rows.Next() {
		var u Unit
		var snapshot, updatedAt string
		if err := rows.Scan(&u.ID, &u.Plugin, &u.Name, &snapshot, &updatedAt); err != nil {
			return nil, err
		}
		u.Snapshot = json.RawMessage(snapshot)
		u.UpdatedAt, _ = time.Parse(time.DateTime, updatedAt)
		out = append(out, u)
	}
	return out, rows.Err()
}

// ReplaceUnits makes the cached set of a plugin exactly units.
func (db *DB) ReplaceUnits(ctx context.Context, plugin string, units []Unit) error {
	return db.Tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM units WHERE plugin = ?`, plugin); err != nil {
			return fmt.Errorf("clear units: %w", err)
		}
		for _, u := range units {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO units (id, plugin, name, snapshot, updated_at)
				VALUES (?, ?, ?, ?, datetime('now'))
			`, u.ID, plugin, u.Name, string(u.Snapshot)); err != nil {
				return fmt.Errorf("insert unit %s: %w", u.ID, err)
			}
		}
		return nil
	})
}

// DeleteUnit drops one cached unit.
func (db *DB) DeleteUnit(ctx context.Context, plugin, id string) error {
	_, err := db.ExecContext(ctx, `DELETE FROM units WHERE plugin = ? AND id = ?`, plugin, id)
	if err != nil {
		return fmt.Errorf("delete unit %s: %w", id, err)
	}
	return nil
}
