// Package settingsstore holds the mutable subset of engine configuration
// (risk thresholds, slippage cap) as key/value rows so they can be changed
// by an operator without a redeploy, mirroring the teacher's
// internal/modules/settings.Repository. The circuit breaker and the Rules
// Engine do not read these values; they use fixed thresholds.
package settingsstore

import (
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// Store handles settings persisted in the config database's settings table.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// New creates a settings store over an already-migrated config database.
func New(db *sql.DB, log zerolog.Logger) *Store {
	return &Store{db: db, log: log.With().Str("component", "settingsstore").Logger()}
}

const schema = `
CREATE TABLE IF NOT EXISTS settings (
	key         TEXT PRIMARY KEY,
	value       TEXT NOT NULL,
	description TEXT,
	updated_at  INTEGER NOT NULL
);
`

// Migrate creates the settings table if it does not already exist.
func (s *Store) Migrate() error {
	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to migrate settings schema: %w", err)
	}
	return nil
}

// Get retrieves a raw setting value. The second return is false if the key
// does not exist (absence is not an error).
func (s *Store) Get(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get setting %s: %w", key, err)
	}
	return value, true, nil
}

// Set upserts a setting value.
func (s *Store) Set(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO settings (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to set setting %s: %w", key, err)
	}
	return nil
}

// GetFloat retrieves a setting as float64. ok is false if absent.
func (s *Store) GetFloat(key string) (float64, bool, error) {
	raw, ok, err := s.Get(key)
	if err != nil || !ok {
		return 0, false, err
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		s.log.Warn().Err(err).Str("key", key).Str("value", raw).Msg("failed to parse float setting")
		return 0, false, nil
	}
	return v, true, nil
}

// SetFloat stores a float64 setting.
func (s *Store) SetFloat(key string, value float64) error {
	return s.Set(key, strconv.FormatFloat(value, 'f', -1, 64))
}

// GetAll returns every stored setting as a map.
func (s *Store) GetAll() (map[string]string, error) {
	rows, err := s.db.Query(`SELECT key, value FROM settings`)
	if err != nil {
		return nil, fmt.Errorf("failed to list settings: %w", err)
	}
	defer rows.Close()

	result := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("failed to scan setting row: %w", err)
		}
		result[k] = v
	}
	return result, rows.Err()
}
