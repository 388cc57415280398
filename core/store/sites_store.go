package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"
)

type Site struct {
	ID             int64  `json:"id"`
	OrganizationID int64  `json:"organization_id"`
	Name           string `json:"name"`
	URL            string `json:"url"`
	APIKeyHash     string `json:"-"`

	Level1Name  string `json:"level1_name,omitempty"`
	Level1Email string `json:"level1_email,omitempty"`
	Level2Name  string `json:"level2_name,omitempty"`
	Level2Email string `json:"level2_email,omitempty"`
	Level3Name  string `json:"level3_name,omitempty"`
	Level3Email string `json:"level3_email,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasEscalationContacts reports whether any level has a contact email.
func (s *Site) HasEscalationContacts() bool {
	return strings.TrimSpace(s.Level1Email) != "" ||
		strings.TrimSpace(s.Level2Email) != "" ||
		strings.TrimSpace(s.Level3Email) != ""
}

// CheckResult is one execution of one check against one site. Rows are
// created in "pending" state when a task is handed to an agent and flip to
// the check outcome (passed/warning/critical/error) on completion.
type CheckResult struct {
	ID          int64      `json:"id"`
	SiteID      int64      `json:"site_id"`
	TaskID      string     `json:"task_id"`
	CheckID     string     `json:"check_id"`
	CheckName   string     `json:"check_name"`
	MonitorType string     `json:"monitor_type"`
	Status      string     `json:"status"`
	Score       float64    `json:"score"`
	Message     string     `json:"message,omitempty"`
	DetailsJSON string     `json:"details_json,omitempty"`
	DurationMs  int64      `json:"duration_ms"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Check outcome statuses as reported by agents.
const (
	ResultStatusPending  = "pending"
	ResultStatusPassed   = "passed"
	ResultStatusWarning  = "warning"
	ResultStatusCritical = "critical"
	ResultStatusError    = "error"
)

type SitesStore interface {
	CreateSite(ctx context.Context, site *Site) (int64, error)
	GetSite(ctx context.Context, id int64) (*Site, error)
	UpdateSiteContacts(ctx context.Context, site *Site) error

	CreatePendingResult(ctx context.Context, res *CheckResult) (int64, error)
	CompletePendingResult(ctx context.Context, res *CheckResult) (int64, error)
	GetCheckResult(ctx context.Context, id int64) (*CheckResult, error)
}

type sitesStore struct {
	db *DB
}

func NewSitesStore(db *DB) SitesStore {
	return &sitesStore{db: db}
}

func (s *sitesStore) CreateSite(ctx context.Context, site *Site) (int64, error) {
	now := time.Now().UTC()
	site.CreatedAt = now
	site.UpdatedAt = now
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO sites(organization_id, name, url, api_key_hash,
			level1_name, level1_email, level2_name, level2_email, level3_name, level3_email,
			created_at, updated_at)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?)
		RETURNING id`,
		site.OrganizationID, strings.TrimSpace(site.Name), strings.TrimSpace(site.URL), site.APIKeyHash,
		site.Level1Name, site.Level1Email, site.Level2Name, site.Level2Email, site.Level3Name, site.Level3Email,
		now, now)
	if err := row.Scan(&site.ID); err != nil {
		return 0, err
	}
	return site.ID, nil
}

func (s *sitesStore) GetSite(ctx context.Context, id int64) (*Site, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, organization_id, name, url, api_key_hash,
			level1_name, level1_email, level2_name, level2_email, level3_name, level3_email,
			created_at, updated_at
		FROM sites WHERE id=?`, id)
	var site Site
	if err := row.Scan(&site.ID, &site.OrganizationID, &site.Name, &site.URL, &site.APIKeyHash,
		&site.Level1Name, &site.Level1Email, &site.Level2Name, &site.Level2Email, &site.Level3Name, &site.Level3Email,
		&site.CreatedAt, &site.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &site, nil
}

func (s *sitesStore) UpdateSiteContacts(ctx context.Context, site *Site) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sites SET level1_name=?, level1_email=?, level2_name=?, level2_email=?, level3_name=?, level3_email=?, updated_at=?
		WHERE id=?`,
		site.Level1Name, site.Level1Email, site.Level2Name, site.Level2Email, site.Level3Name, site.Level3Email,
		time.Now().UTC(), site.ID)
	return err
}

func (s *sitesStore) CreatePendingResult(ctx context.Context, res *CheckResult) (int64, error) {
	now := time.Now().UTC()
	res.CreatedAt = now
	res.Status = ResultStatusPending
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO check_results(site_id, task_id, check_id, check_name, monitor_type, status, score, message, details_json, duration_ms, created_at, completed_at)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,NULL)
		RETURNING id`,
		res.SiteID, res.TaskID, res.CheckID, res.CheckName, res.MonitorType, res.Status, 0.0, "", "", 0, now)
	if err := row.Scan(&res.ID); err != nil {
		return 0, err
	}
	return res.ID, nil
}

// CompletePendingResult consumes the pending row for the task, scoped to the
// submitting site so a key for one site can never flip another site's rows.
// When no pending row matches (agent retry, duplicate delivery, foreign task
// id) a fresh completed row is inserted under the caller's site instead of
// failing: the result must not be lost.
func (s *sitesStore) CompletePendingResult(ctx context.Context, res *CheckResult) (int64, error) {
	now := time.Now().UTC()
	res.CompletedAt = &now
	row := s.db.QueryRowContext(ctx, `
		UPDATE check_results
		SET status=?, score=?, message=?, details_json=?, duration_ms=?, completed_at=?
		WHERE task_id=? AND site_id=? AND status=?
		RETURNING id, check_id, check_name, monitor_type, created_at`,
		res.Status, res.Score, res.Message, res.DetailsJSON, res.DurationMs, now,
		res.TaskID, res.SiteID, ResultStatusPending)
	err := row.Scan(&res.ID, &res.CheckID, &res.CheckName, &res.MonitorType, &res.CreatedAt)
	if err == nil {
		return res.ID, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}
	res.CreatedAt = now
	row = s.db.QueryRowContext(ctx, `
		INSERT INTO check_results(site_id, task_id, check_id, check_name, monitor_type, status, score, message, details_json, duration_ms, created_at, completed_at)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?)
		RETURNING id`,
		res.SiteID, res.TaskID, res.CheckID, res.CheckName, res.MonitorType, res.Status, res.Score, res.Message, res.DetailsJSON, res.DurationMs, now, now)
	if err := row.Scan(&res.ID); err != nil {
		return 0, err
	}
	return res.ID, nil
}

func (s *sitesStore) GetCheckResult(ctx context.Context, id int64) (*CheckResult, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, site_id, task_id, check_id, check_name, monitor_type, status, score, message, details_json, duration_ms, created_at, completed_at
		FROM check_results WHERE id=?`, id)
	var res CheckResult
	var completed sql.NullTime
	if err := row.Scan(&res.ID, &res.SiteID, &res.TaskID, &res.CheckID, &res.CheckName, &res.MonitorType,
		&res.Status, &res.Score, &res.Message, &res.DetailsJSON, &res.DurationMs, &res.CreatedAt, &completed); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if completed.Valid {
		res.CompletedAt = &completed.Time
	}
	return &res, nil
}
