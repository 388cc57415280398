package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"hexascan/config"
	"hexascan/core/utils"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	logger := utils.NewTestLogger()
	cfg := &config.AppConfig{
		DBDriver: "sqlite",
		DBURL:    filepath.Join(t.TempDir(), "hexascan.db"),
	}
	db, err := NewDB(cfg, logger)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := ApplyMigrations(context.Background(), db, logger); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	return db
}

func seedSite(t *testing.T, sites SitesStore) *Site {
	t.Helper()
	site := &Site{
		OrganizationID: 1,
		Name:           "shop",
		URL:            "https://shop.example.com",
		Level1Name:     "Dana",
		Level1Email:    "dana@example.com",
	}
	if _, err := sites.CreateSite(context.Background(), site); err != nil {
		t.Fatalf("create site: %v", err)
	}
	return site
}

func TestCompletePendingResultConsumesTask(t *testing.T) {
	db := newTestDB(t)
	sites := NewSitesStore(db)
	ctx := context.Background()
	site := seedSite(t, sites)

	pending := &CheckResult{SiteID: site.ID, TaskID: "task-1", CheckID: "uptime", CheckName: "Uptime", MonitorType: "https"}
	if _, err := sites.CreatePendingResult(ctx, pending); err != nil {
		t.Fatalf("create pending: %v", err)
	}

	done := &CheckResult{
		SiteID: site.ID, TaskID: "task-1", CheckID: "uptime",
		Status: ResultStatusCritical, Score: 5, Message: "down", DurationMs: 120,
	}
	id, err := sites.CompletePendingResult(ctx, done)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if id != pending.ID {
		t.Fatalf("completed id = %d, want pending row %d", id, pending.ID)
	}
	stored, err := sites.GetCheckResult(ctx, id)
	if err != nil || stored == nil {
		t.Fatalf("get result: %v", err)
	}
	if stored.Status != ResultStatusCritical || stored.CompletedAt == nil {
		t.Fatalf("stored = %+v", stored)
	}
}

// A duplicate delivery finds no pending row; the result must land in a fresh
// completed row instead of being dropped.
func TestCompletePendingResultDuplicateDelivery(t *testing.T) {
	db := newTestDB(t)
	sites := NewSitesStore(db)
	ctx := context.Background()
	site := seedSite(t, sites)

	pending := &CheckResult{SiteID: site.ID, TaskID: "task-1", CheckID: "uptime"}
	if _, err := sites.CreatePendingResult(ctx, pending); err != nil {
		t.Fatalf("create pending: %v", err)
	}
	first := &CheckResult{SiteID: site.ID, TaskID: "task-1", CheckID: "uptime", Status: ResultStatusPassed, Score: 100}
	firstID, err := sites.CompletePendingResult(ctx, first)
	if err != nil {
		t.Fatalf("first complete: %v", err)
	}
	second := &CheckResult{SiteID: site.ID, TaskID: "task-1", CheckID: "uptime", Status: ResultStatusPassed, Score: 100}
	secondID, err := sites.CompletePendingResult(ctx, second)
	if err != nil {
		t.Fatalf("duplicate complete: %v", err)
	}
	if secondID == firstID {
		t.Fatalf("duplicate reused row %d", firstID)
	}
	stored, _ := sites.GetCheckResult(ctx, secondID)
	if stored == nil || stored.Status != ResultStatusPassed {
		t.Fatalf("duplicate row = %+v", stored)
	}
}

// A submission scoped to another site must never consume that site's pending
// row; it lands in a fresh row under the submitter's own site.
func TestCompletePendingResultScopedToSite(t *testing.T) {
	db := newTestDB(t)
	sites := NewSitesStore(db)
	ctx := context.Background()
	siteA := seedSite(t, sites)
	siteB := &Site{OrganizationID: 2, Name: "blog", URL: "https://blog.example.com"}
	if _, err := sites.CreateSite(ctx, siteB); err != nil {
		t.Fatalf("create site B: %v", err)
	}

	pending := &CheckResult{SiteID: siteA.ID, TaskID: "task-a", CheckID: "uptime"}
	if _, err := sites.CreatePendingResult(ctx, pending); err != nil {
		t.Fatalf("create pending: %v", err)
	}

	foreign := &CheckResult{SiteID: siteB.ID, TaskID: "task-a", CheckID: "uptime", Status: ResultStatusCritical, Score: 5, Message: "poisoned"}
	foreignID, err := sites.CompletePendingResult(ctx, foreign)
	if err != nil {
		t.Fatalf("foreign complete: %v", err)
	}
	if foreignID == pending.ID {
		t.Fatalf("foreign submission consumed site A's row %d", pending.ID)
	}
	stored, _ := sites.GetCheckResult(ctx, foreignID)
	if stored == nil || stored.SiteID != siteB.ID {
		t.Fatalf("foreign row = %+v, want site %d", stored, siteB.ID)
	}

	// Site A's pending row is untouched and still consumable by its owner.
	orig, _ := sites.GetCheckResult(ctx, pending.ID)
	if orig == nil || orig.Status != ResultStatusPending {
		t.Fatalf("pending row = %+v, want still pending", orig)
	}
	own := &CheckResult{SiteID: siteA.ID, TaskID: "task-a", CheckID: "uptime", Status: ResultStatusPassed, Score: 100}
	ownID, err := sites.CompletePendingResult(ctx, own)
	if err != nil {
		t.Fatalf("own complete: %v", err)
	}
	if ownID != pending.ID {
		t.Fatalf("own completion id = %d, want pending row %d", ownID, pending.ID)
	}
}

func TestEscalateIssueConflictOnStaleLevel(t *testing.T) {
	db := newTestDB(t)
	escalations := NewEscalationStore(db)
	ctx := context.Background()
	now := time.Now().UTC()

	issue := &EscalationIssue{
		PublicID: "pub-1", OrganizationID: 1, SiteID: 1, CheckResultID: 1,
		CheckID: "uptime", Status: IssueStatusOpen, CurrentLevel: 1, MaxLevel: 3,
		Token: "tok-1", TokenExpiresAt: now.Add(time.Hour),
		Level1Email: "dana@example.com", Level2Email: "lee@example.com",
		Level1NotifiedAt: &now, CreatedAt: now,
	}
	if _, err := escalations.CreateIssue(ctx, issue); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := escalations.EscalateIssue(ctx, issue.ID, 1, now); err != nil {
		t.Fatalf("escalate: %v", err)
	}
	// Replaying the same guard must fail: the level moved on.
	if err := escalations.EscalateIssue(ctx, issue.ID, 1, now); err != ErrConflict {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
	// Resolve wins over a concurrent escalation attempt.
	if err := escalations.ResolveIssue(ctx, issue.ID, "Lee", "lee@example.com", now); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if err := escalations.EscalateIssue(ctx, issue.ID, 2, now); err != ErrConflict {
		t.Fatalf("err = %v, want ErrConflict after resolve", err)
	}
}
