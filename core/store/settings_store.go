package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

type SettingsStore interface {
	GetSettings(ctx context.Context) (*EscalationSettings, error)
	UpdateSettings(ctx context.Context, settings *EscalationSettings) error
	EnsureSettings(ctx context.Context, defaults EscalationSettings) error
}

type settingsStore struct {
	db *DB
}

func NewSettingsStore(db *DB) SettingsStore {
	return &settingsStore{db: db}
}

func (s *settingsStore) GetSettings(ctx context.Context) (*EscalationSettings, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, window_ms, token_expiry_ms, cooldown_seconds, sweep_enabled, updated_at
		FROM escalation_settings ORDER BY id ASC LIMIT 1`)
	var out EscalationSettings
	var sweepInt int
	if err := row.Scan(&out.ID, &out.WindowMs, &out.TokenExpiryMs, &out.CooldownSeconds, &sweepInt, &out.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	out.SweepEnabled = sweepInt == 1
	return &out, nil
}

func (s *settingsStore) UpdateSettings(ctx context.Context, settings *EscalationSettings) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE escalation_settings
		SET window_ms=?, token_expiry_ms=?, cooldown_seconds=?, sweep_enabled=?, updated_at=?
		WHERE id=?`,
		settings.WindowMs, settings.TokenExpiryMs, settings.CooldownSeconds, boolToInt(settings.SweepEnabled), now, settings.ID)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return errors.New("settings row missing")
	}
	settings.UpdatedAt = now
	return nil
}

// EnsureSettings seeds the singleton row from config defaults on first start.
func (s *settingsStore) EnsureSettings(ctx context.Context, defaults EscalationSettings) error {
	existing, err := s.GetSettings(ctx)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO escalation_settings(window_ms, token_expiry_ms, cooldown_seconds, sweep_enabled, updated_at)
		VALUES(?,?,?,?,?)`,
		defaults.WindowMs, defaults.TokenExpiryMs, defaults.CooldownSeconds, boolToInt(defaults.SweepEnabled), time.Now().UTC())
	return err
}
