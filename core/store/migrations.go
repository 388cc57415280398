package store

import (
	"context"
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"

	"hexascan/core/utils"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// sqliteMigrations mirrors the goose postgres migrations for the sqlite
// driver used by tests and single-binary dev runs.
var sqliteMigrations = []string{
	`CREATE TABLE IF NOT EXISTS sites (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		organization_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		url TEXT NOT NULL DEFAULT '',
		api_key_hash TEXT NOT NULL DEFAULT '',
		level1_name TEXT NOT NULL DEFAULT '',
		level1_email TEXT NOT NULL DEFAULT '',
		level2_name TEXT NOT NULL DEFAULT '',
		level2_email TEXT NOT NULL DEFAULT '',
		level3_name TEXT NOT NULL DEFAULT '',
		level3_email TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS check_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		site_id INTEGER NOT NULL,
		task_id TEXT NOT NULL,
		check_id TEXT NOT NULL,
		check_name TEXT NOT NULL DEFAULT '',
		monitor_type TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		score REAL NOT NULL DEFAULT 0,
		message TEXT NOT NULL DEFAULT '',
		details_json TEXT NOT NULL DEFAULT '',
		duration_ms INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		completed_at TIMESTAMP,
		FOREIGN KEY(site_id) REFERENCES sites(id) ON DELETE CASCADE
	);`,
	`CREATE INDEX IF NOT EXISTS idx_check_results_task ON check_results(task_id, status);`,
	`CREATE TABLE IF NOT EXISTS escalation_issues (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		public_id TEXT UNIQUE NOT NULL,
		organization_id INTEGER NOT NULL,
		site_id INTEGER NOT NULL,
		check_result_id INTEGER NOT NULL,
		check_id TEXT NOT NULL DEFAULT '',
		check_name TEXT NOT NULL DEFAULT '',
		monitor_type TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		current_level INTEGER NOT NULL DEFAULT 1,
		max_level INTEGER NOT NULL,
		token TEXT UNIQUE NOT NULL,
		token_expires_at TIMESTAMP NOT NULL,
		level1_name TEXT NOT NULL DEFAULT '',
		level1_email TEXT NOT NULL DEFAULT '',
		level2_name TEXT NOT NULL DEFAULT '',
		level2_email TEXT NOT NULL DEFAULT '',
		level3_name TEXT NOT NULL DEFAULT '',
		level3_email TEXT NOT NULL DEFAULT '',
		level1_notified_at TIMESTAMP,
		level2_notified_at TIMESTAMP,
		level3_notified_at TIMESTAMP,
		resolved_at TIMESTAMP,
		resolved_by_name TEXT NOT NULL DEFAULT '',
		resolved_by_email TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_escalation_issues_org_status ON escalation_issues(organization_id, status);`,
	`CREATE INDEX IF NOT EXISTS idx_escalation_issues_site_check ON escalation_issues(site_id, check_id, status);`,
	`CREATE TABLE IF NOT EXISTS escalation_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		issue_id INTEGER NOT NULL,
		event_type TEXT NOT NULL,
		level INTEGER,
		user_name TEXT NOT NULL DEFAULT '',
		user_email TEXT NOT NULL DEFAULT '',
		message TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		FOREIGN KEY(issue_id) REFERENCES escalation_issues(id) ON DELETE CASCADE
	);`,
	`CREATE INDEX IF NOT EXISTS idx_escalation_events_issue_created ON escalation_events(issue_id, created_at);`,
	`CREATE TABLE IF NOT EXISTS alert_cooldowns (
		site_id INTEGER NOT NULL,
		check_id TEXT NOT NULL,
		expires_at TIMESTAMP NOT NULL,
		created_at TIMESTAMP NOT NULL,
		PRIMARY KEY (site_id, check_id)
	);`,
	`CREATE TABLE IF NOT EXISTS escalation_settings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		window_ms INTEGER NOT NULL DEFAULT 600000,
		token_expiry_ms INTEGER NOT NULL DEFAULT 86400000,
		cooldown_seconds INTEGER NOT NULL DEFAULT 1800,
		sweep_enabled INTEGER NOT NULL DEFAULT 1,
		updated_at TIMESTAMP NOT NULL
	);`,
}

func ApplyMigrations(ctx context.Context, db *DB, logger *utils.Logger) error {
	if db.IsPostgres() {
		return applyGooseMigrations(ctx, db, logger)
	}
	return applySQLiteMigrations(ctx, db, logger)
}

func applyGooseMigrations(ctx context.Context, db *DB, logger *utils.Logger) error {
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	goose.SetLogger(goose.NopLogger())
	if err := goose.UpContext(ctx, db.DB, "migrations"); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	if logger != nil {
		logger.Printf("postgres migrations applied")
	}
	return nil
}

func applySQLiteMigrations(ctx context.Context, db *DB, logger *utils.Logger) error {
	for i, stmt := range sqliteMigrations {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite migration #%d failed: %w", i+1, err)
		}
	}
	if logger != nil {
		logger.Printf("sqlite migrations applied")
	}
	return nil
}
