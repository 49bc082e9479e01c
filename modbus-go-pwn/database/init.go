package database

import (
	"database/sql"
	"fmt"
	"strings"
)

// Target is a named assessment target profile.
type Target struct {
	Name        string
	Host        string
	Port        int
	UnitID      int
	Description string
}

const createTargetsSQL = `
CREATE TABLE IF NOT EXISTS targets (
    name TEXT PRIMARY KEY,
    host TEXT NOT NULL,
    port INTEGER NOT NULL DEFAULT 502,
    unit_id INTEGER NOT NULL DEFAULT 1,
    description TEXT
);`

// InitTargets ensures the targets schema exists.
func InitTargets(db *sql.DB) error {
	if _, err := db.Exec(createTargetsSQL); err != nil {
		return fmt.Errorf("create targets table: %w", err)
	}
	return nil
}

// SaveTargets inserts or replaces profiles in one transaction.
func SaveTargets(db *sql.DB, targets []Target) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT OR REPLACE INTO targets(name, host, port, unit_id, description) VALUES(?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, t := range targets {
		if _, err := stmt.Exec(strings.ToLower(t.Name), t.Host, t.Port, t.UnitID, t.Description); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert target %s: %w", t.Name, err)
		}
	}
	return tx.Commit()
}

// LoadTargets reads every profile keyed by lower-cased name.
func LoadTargets(db *sql.DB) (map[string]Target, error) {
	rows, err := db.Query("SELECT name, host, port, unit_id, description FROM targets ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("query targets: %w", err)
	}
	defer rows.Close()

	targets := make(map[string]Target)
	for rows.Next() {
		var (
			t    Target
			desc sql.NullString
		)
		if err := rows.Scan(&t.Name, &t.Host, &t.Port, &t.UnitID, &desc); err != nil {
			return nil, err
		}
		t.Description = desc.String
		targets[t.Name] = t
	}
	return targets, rows.Err()
}

// OpenTargets opens the profile database at path and loads it.
func OpenTargets(path string) (map[string]Target, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	defer db.Close()
	targets, err := LoadTargets(db)
	if err != nil {
		return nil, fmt.Errorf("%w\nHINT: create '%s' with the 'modbus-db-init' tool", err, path)
	}
	return targets, nil
}
