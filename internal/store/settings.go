package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// DebugKey is the setting that turns on debug logging in page contexts.
const DebugKey = "zapelm.debug"

// Setting returns the value stored under key and whether it exists.
func (s *Store) Setting(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.DB.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store: setting %s: %w", key, err)
	}
	return v, true, nil
}

// SetSetting upserts a setting.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("store: set setting %s: %w", key, err)
	}
	return nil
}

// Debug reports whether the debug setting is on.
func (s *Store) Debug(ctx context.Context) (bool, error) {
	v, _, err := s.Setting(ctx, DebugKey)
	return v == "true", err
}

// SetDebug stores the debug setting.
func (s *Store) SetDebug(ctx context.Context, on bool) error {
	v := "false"
	if on {
		v = "true"
	}
	return s.SetSetting(ctx, DebugKey, v)
}
