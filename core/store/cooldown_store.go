package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// AlertCooldown suppresses duplicate channel dispatch for one (site, check)
// pair. Independent of the escalation issue lifecycle.
type AlertCooldown struct {
	SiteID    int64     `json:"site_id"`
	CheckID   string    `json:"check_id"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

type CooldownStore interface {
	GetCooldown(ctx context.Context, siteID int64, checkID string) (*AlertCooldown, error)
	ArmCooldown(ctx context.Context, siteID int64, checkID string, expiresAt time.Time) error
	ClearAllCooldowns(ctx context.Context) (int64, error)
}

type cooldownStore struct {
	db *DB
}

func NewCooldownStore(db *DB) CooldownStore {
	return &cooldownStore{db: db}
}

func (s *cooldownStore) GetCooldown(ctx context.Context, siteID int64, checkID string) (*AlertCooldown, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT site_id, check_id, expires_at, created_at
		FROM alert_cooldowns WHERE site_id=? AND check_id=?`, siteID, checkID)
	var cd AlertCooldown
	if err := row.Scan(&cd.SiteID, &cd.CheckID, &cd.ExpiresAt, &cd.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &cd, nil
}

func (s *cooldownStore) ArmCooldown(ctx context.Context, siteID int64, checkID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alert_cooldowns(site_id, check_id, expires_at, created_at)
		VALUES(?,?,?,?)
		ON CONFLICT (site_id, check_id)
		DO UPDATE SET expires_at=excluded.expires_at`,
		siteID, checkID, expiresAt, time.Now().UTC())
	return err
}

func (s *cooldownStore) ClearAllCooldowns(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM alert_cooldowns`)
	if err != nil {
		return 0, err
	}
	affected, _ := res.RowsAffected()
	return affected, nil
}
