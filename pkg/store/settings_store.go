package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// SettingsStore persists small keyed JSON documents. No caller writes to
// it: the sleep-schedule config served at GET/PUT
// /api/settings/sleep-schedule is held in memory by the Lifecycle Manager.
// **[SUPPLEMENT]** generic key/value shape so future settings don't need
// their own migration.
type SettingsStore struct {
	db *sql.DB
}

// Get unmarshals the JSON value stored under key into dest. Returns
// apperr-free sql.ErrNoRows-wrapped error if absent; callers treat a miss
// as "use defaults", not a hard error.
func (s *SettingsStore) Get(ctx context.Context, key string, dest any) error {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&raw)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(raw), dest)
}

// Set upserts key's JSON value.
func (s *SettingsStore) Set(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode setting %s: %w", key, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, string(raw))
	if err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}
	return nil
}

// IsNotFound reports whether err is the "setting absent" sentinel from Get.
func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
