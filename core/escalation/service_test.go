package escalation

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"hexascan/config"
	"hexascan/core/store"
	"hexascan/core/utils"
)

type sentMail struct {
	To      string
	Subject string
}

type mockSender struct {
	mu   sync.Mutex
	sent []sentMail
}

func (m *mockSender) Send(_ context.Context, toEmail, subject, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMail{To: toEmail, Subject: subject})
	return nil
}

func (m *mockSender) all() []sentMail {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]sentMail, len(m.sent))
	copy(out, m.sent)
	return out
}

func (m *mockSender) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = nil
}

type testEnv struct {
	db       *store.DB
	svc      *Service
	escStore store.EscalationStore
	settings store.SettingsStore
	sender   *mockSender
	codec    *TokenCodec
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := utils.NewTestLogger()
	cfg := &config.AppConfig{
		DBDriver: "sqlite",
		DBURL:    filepath.Join(t.TempDir(), "hexascan.db"),
	}
	db, err := store.NewDB(cfg, logger)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := store.ApplyMigrations(context.Background(), db, logger); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	settings := store.NewSettingsStore(db)
	if err := settings.EnsureSettings(context.Background(), store.EscalationSettings{
		WindowMs:        600000,
		TokenExpiryMs:   86400000,
		CooldownSeconds: 1800,
		SweepEnabled:    true,
	}); err != nil {
		t.Fatalf("seed settings: %v", err)
	}
	escStore := store.NewEscalationStore(db)
	codec := NewTokenCodec("test-secret")
	sender := &mockSender{}
	notifier := NewNotifier(sender, codec, nil, "https://status.example.com", logger)
	svc := NewService(escStore, settings, notifier, codec, logger)
	return &testEnv{db: db, svc: svc, escStore: escStore, settings: settings, sender: sender, codec: codec}
}

// backdateIssue shifts an issue's creation and notification stamps into the
// past so sweep deadlines can be exercised without sleeping out real windows.
func (e *testEnv) backdateIssue(t *testing.T, issueID int64, by time.Duration) {
	t.Helper()
	past := time.Now().UTC().Add(-by)
	if _, err := e.db.ExecContext(context.Background(), `
		UPDATE escalation_issues
		SET created_at=?, level1_notified_at=?
		WHERE id=?`, past, past, issueID); err != nil {
		t.Fatalf("backdate issue %d: %v", issueID, err)
	}
}

func (e *testEnv) setSettings(t *testing.T, mutate func(*store.EscalationSettings)) {
	t.Helper()
	ctx := context.Background()
	current, err := e.settings.GetSettings(ctx)
	if err != nil || current == nil {
		t.Fatalf("get settings: %v", err)
	}
	mutate(current)
	if err := e.settings.UpdateSettings(ctx, current); err != nil {
		t.Fatalf("update settings: %v", err)
	}
	e.svc.InvalidateSettings()
}

func twoLevelTrigger() TriggerContext {
	return TriggerContext{
		OrganizationID: 1,
		SiteID:         10,
		CheckResultID:  100,
		CheckID:        "ssl_expiry",
		CheckName:      "SSL certificate expiry",
		MonitorType:    "https",
		Level1Name:     "Dana Ops",
		Level1Email:    "dana@example.com",
		Level2Name:     "Lee Lead",
		Level2Email:    "lee@example.com",
	}
}

func threeLevelTrigger() TriggerContext {
	trig := twoLevelTrigger()
	trig.Level3Name = "Max Mgmt"
	trig.Level3Email = "max@example.com"
	return trig
}

func eventTypes(t *testing.T, escStore store.EscalationStore, issueID int64) []string {
	t.Helper()
	events, err := escStore.ListEvents(context.Background(), issueID, 0)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	out := make([]string, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.EventType)
	}
	return out
}

func countEvents(types []string, want string) int {
	n := 0
	for _, v := range types {
		if v == want {
			n++
		}
	}
	return n
}

func TestCreateIssueWithoutContactsIsNoOp(t *testing.T) {
	env := newTestEnv(t)
	issue, err := env.svc.CreateIssue(context.Background(), TriggerContext{
		OrganizationID: 1, SiteID: 10, CheckResultID: 100, CheckID: "uptime",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if issue != nil {
		t.Fatal("issue created with no contacts configured")
	}
	active, err := env.escStore.ListActiveIssues(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("found %d issues, want none", len(active))
	}
	if len(env.sender.all()) != 0 {
		t.Fatal("mail sent without an issue")
	}
}

func TestCreateIssueNotifiesLevelOne(t *testing.T) {
	env := newTestEnv(t)
	issue, err := env.svc.CreateIssue(context.Background(), twoLevelTrigger())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if issue == nil {
		t.Fatal("no issue created")
	}
	if issue.Status != store.IssueStatusOpen || issue.CurrentLevel != 1 || issue.MaxLevel != 2 {
		t.Fatalf("unexpected issue state: %+v", issue)
	}
	if len(issue.Token) != 64 {
		t.Fatalf("token length = %d", len(issue.Token))
	}
	if issue.Level1NotifiedAt == nil {
		t.Fatal("level1_notified_at not stamped")
	}
	types := eventTypes(t, env.escStore, issue.ID)
	if countEvents(types, store.EventCreated) != 1 {
		t.Fatalf("events = %v, want one created", types)
	}
	mails := env.sender.all()
	if len(mails) != 1 || mails[0].To != "dana@example.com" {
		t.Fatalf("mails = %v, want one to level 1", mails)
	}
}

func TestEscalateChainToExhaustion(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	issue, err := env.svc.CreateIssue(ctx, twoLevelTrigger())
	if err != nil || issue == nil {
		t.Fatalf("create: %v", err)
	}
	env.sender.reset()

	if err := env.svc.Escalate(ctx, issue); err != nil {
		t.Fatalf("escalate: %v", err)
	}
	reloaded, err := env.escStore.GetIssue(ctx, issue.ID)
	if err != nil || reloaded == nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.CurrentLevel != 2 {
		t.Fatalf("level = %d, want 2", reloaded.CurrentLevel)
	}
	if reloaded.Level2NotifiedAt == nil {
		t.Fatal("level2_notified_at not stamped")
	}
	mails := env.sender.all()
	if len(mails) != 2 {
		t.Fatalf("mails = %v, want bypass + new level", mails)
	}
	recipients := map[string]bool{}
	for _, m := range mails {
		recipients[m.To] = true
	}
	if !recipients["dana@example.com"] || !recipients["lee@example.com"] {
		t.Fatalf("recipients = %v", recipients)
	}

	// At max level: the next timeout exhausts the chain.
	if err := env.svc.Escalate(ctx, reloaded); err != nil {
		t.Fatalf("exhaust: %v", err)
	}
	final, _ := env.escStore.GetIssue(ctx, issue.ID)
	if final.Status != store.IssueStatusExhausted {
		t.Fatalf("status = %s, want exhausted", final.Status)
	}
	if final.CurrentLevel != 2 {
		t.Fatalf("level moved past max: %d", final.CurrentLevel)
	}
	types := eventTypes(t, env.escStore, issue.ID)
	if countEvents(types, store.EventEscalated) != 1 || countEvents(types, store.EventExhausted) != 1 {
		t.Fatalf("events = %v", types)
	}

	// Terminal: further sweeps are no-ops.
	env.sender.reset()
	if err := env.svc.Escalate(ctx, final); err != nil {
		t.Fatalf("escalate terminal: %v", err)
	}
	if len(env.sender.all()) != 0 {
		t.Fatal("mail sent for terminal issue")
	}
}

func TestSingleLevelExhaustsOnFirstTimeout(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	trig := twoLevelTrigger()
	trig.Level2Name, trig.Level2Email = "", ""
	issue, err := env.svc.CreateIssue(ctx, trig)
	if err != nil || issue == nil {
		t.Fatalf("create: %v", err)
	}
	if issue.MaxLevel != 1 {
		t.Fatalf("maxLevel = %d, want 1", issue.MaxLevel)
	}
	if err := env.svc.Escalate(ctx, issue); err != nil {
		t.Fatalf("escalate: %v", err)
	}
	got, _ := env.escStore.GetIssue(ctx, issue.ID)
	if got.Status != store.IssueStatusExhausted || got.CurrentLevel != 1 {
		t.Fatalf("state = %s level %d, want exhausted at level 1", got.Status, got.CurrentLevel)
	}
	types := eventTypes(t, env.escStore, issue.ID)
	if countEvents(types, store.EventExhausted) != 1 || countEvents(types, store.EventEscalated) != 0 {
		t.Fatalf("events = %v", types)
	}
}

func TestEscalateStaleSnapshotIsSilentNoOp(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	issue, err := env.svc.CreateIssue(ctx, threeLevelTrigger())
	if err != nil || issue == nil {
		t.Fatalf("create: %v", err)
	}
	stale := *issue
	if err := env.svc.Escalate(ctx, issue); err != nil {
		t.Fatalf("first escalate: %v", err)
	}
	if err := env.svc.Escalate(ctx, &stale); err != nil {
		t.Fatalf("stale escalate: %v", err)
	}
	reloaded, _ := env.escStore.GetIssue(ctx, issue.ID)
	if reloaded.CurrentLevel != 2 {
		t.Fatalf("level = %d, want 2 (stale snapshot must lose)", reloaded.CurrentLevel)
	}
	types := eventTypes(t, env.escStore, issue.ID)
	if countEvents(types, store.EventEscalated) != 1 {
		t.Fatalf("events = %v, want exactly one escalated", types)
	}
}

func TestConcurrentEscalationsIncrementOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	issue, err := env.svc.CreateIssue(ctx, threeLevelTrigger())
	if err != nil || issue == nil {
		t.Fatalf("create: %v", err)
	}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		snapshot := *issue
		go func() {
			defer wg.Done()
			_ = env.svc.Escalate(ctx, &snapshot)
		}()
	}
	wg.Wait()
	reloaded, _ := env.escStore.GetIssue(ctx, issue.ID)
	if reloaded.CurrentLevel != 2 {
		t.Fatalf("level = %d, want exactly one increment", reloaded.CurrentLevel)
	}
	types := eventTypes(t, env.escStore, issue.ID)
	if countEvents(types, store.EventEscalated) != 1 {
		t.Fatalf("events = %v, want one escalated", types)
	}
}

func TestRecordViewIdempotentPerEmail(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	issue, _ := env.svc.CreateIssue(ctx, twoLevelTrigger())
	for i := 0; i < 3; i++ {
		if err := env.svc.RecordView(ctx, issue.Token, "Dana@Example.com"); err != nil {
			t.Fatalf("record view: %v", err)
		}
	}
	if err := env.svc.RecordView(ctx, issue.Token, "visitor@example.com"); err != nil {
		t.Fatalf("record view: %v", err)
	}
	types := eventTypes(t, env.escStore, issue.ID)
	if countEvents(types, store.EventViewed) != 2 {
		t.Fatalf("events = %v, want two viewed (one per distinct email)", types)
	}
}

func TestAddReportLevelRules(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	issue, _ := env.svc.CreateIssue(ctx, threeLevelTrigger())
	if err := env.svc.Escalate(ctx, issue); err != nil {
		t.Fatalf("escalate: %v", err)
	}

	// Bypassed level 1 may still report.
	ev, err := env.svc.AddReport(ctx, issue.Token, "dana@example.com", "checked the cert chain", 0)
	if err != nil {
		t.Fatalf("level1 report: %v", err)
	}
	if ev.Level == nil || *ev.Level != 1 {
		t.Fatalf("report level = %v, want 1 (derived from email)", ev.Level)
	}

	// Level 3 has not been reached yet.
	if _, err := env.svc.AddReport(ctx, issue.Token, "max@example.com", "too early", 0); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
	// Unknown emails never report.
	if _, err := env.svc.AddReport(ctx, issue.Token, "stranger@example.com", "hi", 0); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
	// Empty messages are rejected.
	if _, err := env.svc.AddReport(ctx, issue.Token, "lee@example.com", "   ", 0); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
}

func TestUpdateStatusRequiresCurrentLevel(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	issue, _ := env.svc.CreateIssue(ctx, twoLevelTrigger())
	if err := env.svc.Escalate(ctx, issue); err != nil {
		t.Fatalf("escalate: %v", err)
	}

	// Level 1 lost authority when the issue escalated past them.
	if _, err := env.svc.UpdateStatus(ctx, issue.Token, store.IssueStatusAcknowledged, "dana@example.com", ""); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
	updated, err := env.svc.UpdateStatus(ctx, issue.Token, store.IssueStatusAcknowledged, "lee@example.com", "on it")
	if err != nil {
		t.Fatalf("ack: %v", err)
	}
	if updated.Status != store.IssueStatusAcknowledged {
		t.Fatalf("status = %s", updated.Status)
	}
	// Same-status transition is rejected.
	if _, err := env.svc.UpdateStatus(ctx, issue.Token, store.IssueStatusAcknowledged, "lee@example.com", ""); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
	if _, err := env.svc.UpdateStatus(ctx, issue.Token, "paused", "lee@example.com", ""); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition for unknown status", err)
	}
}

func TestResolveNotifiesEveryNotifiedLevelOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	issue, _ := env.svc.CreateIssue(ctx, twoLevelTrigger())
	if err := env.svc.Escalate(ctx, issue); err != nil {
		t.Fatalf("escalate: %v", err)
	}
	env.sender.reset()

	resolved, err := env.svc.UpdateStatus(ctx, issue.Token, store.IssueStatusResolved, "lee@example.com", "rotated the cert")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Status != store.IssueStatusResolved || resolved.ResolvedAt == nil {
		t.Fatalf("resolved state: %+v", resolved)
	}
	if resolved.ResolvedByEmail != "lee@example.com" {
		t.Fatalf("resolved by = %s", resolved.ResolvedByEmail)
	}
	mails := env.sender.all()
	if len(mails) != 2 {
		t.Fatalf("resolution mails = %v, want both notified levels", mails)
	}

	// Terminal from here on.
	if _, err := env.svc.UpdateStatus(ctx, issue.Token, store.IssueStatusAcknowledged, "lee@example.com", ""); !errors.Is(err, ErrTerminal) {
		t.Fatalf("err = %v, want ErrTerminal", err)
	}
	if _, err := env.svc.AddReport(ctx, issue.Token, "lee@example.com", "late note", 0); !errors.Is(err, ErrTerminal) {
		t.Fatalf("err = %v, want ErrTerminal", err)
	}
}

func TestResolveMailDedupesSharedEmail(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	trig := twoLevelTrigger()
	trig.Level2Email = "DANA@example.com" // same person at both levels
	issue, _ := env.svc.CreateIssue(ctx, trig)
	if err := env.svc.Escalate(ctx, issue); err != nil {
		t.Fatalf("escalate: %v", err)
	}
	env.sender.reset()
	if _, err := env.svc.UpdateStatus(ctx, issue.Token, store.IssueStatusResolved, "dana@example.com", ""); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if mails := env.sender.all(); len(mails) != 1 {
		t.Fatalf("resolution mails = %v, want one per distinct email", mails)
	}
}

func TestSharedContactActsAtEscalatedLevel(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	trig := twoLevelTrigger()
	trig.Level2Email = "DANA@example.com" // same person at both levels
	issue, _ := env.svc.CreateIssue(ctx, trig)
	if err := env.svc.Escalate(ctx, issue); err != nil {
		t.Fatalf("escalate: %v", err)
	}
	updated, err := env.svc.UpdateStatus(ctx, issue.Token, store.IssueStatusAcknowledged, "dana@example.com", "")
	if err != nil {
		t.Fatalf("acknowledge at level 2: %v", err)
	}
	if updated.Status != store.IssueStatusAcknowledged {
		t.Fatalf("status = %s, want acknowledged", updated.Status)
	}
}

type eventWriteFailStore struct {
	store.EscalationStore
}

func (s *eventWriteFailStore) AddEvent(context.Context, *store.EscalationEvent) (int64, error) {
	return 0, errors.New("events table unavailable")
}

func TestEscalateSurvivesEventWriteFailure(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	issue, _ := env.svc.CreateIssue(ctx, twoLevelTrigger())

	svc := NewService(&eventWriteFailStore{env.escStore}, env.settings, nil, env.codec, utils.NewTestLogger())
	if err := svc.Escalate(ctx, issue); err != nil {
		t.Fatalf("escalate: %v", err)
	}
	got, err := env.escStore.GetIssueByToken(ctx, issue.Token)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.CurrentLevel != 2 {
		t.Fatalf("level = %d, want 2 despite lost event", got.CurrentLevel)
	}
	if n := countEvents(eventTypes(t, env.escStore, issue.ID), store.EventEscalated); n != 0 {
		t.Fatalf("escalated events = %d, want 0", n)
	}
}

func TestViewIssueClaims(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	issue, _ := env.svc.CreateIssue(ctx, threeLevelTrigger())

	// No claim: full access while at level 1.
	view, err := env.svc.ViewIssue(ctx, issue.Token, 0, "")
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if !view.CanUpdate || !view.CanAddReport || view.ViewerLevel != 0 {
		t.Fatalf("view = %+v", view)
	}
	if view.TimeRemainingMs <= 0 {
		t.Fatalf("remaining = %d, want positive", view.TimeRemainingMs)
	}
	if len(view.Events) == 0 {
		t.Fatal("timeline empty")
	}

	// Verified claim at the current level.
	sig1 := env.codec.SignLevel(issue.Token, 1)
	view, _ = env.svc.ViewIssue(ctx, issue.Token, 1, sig1)
	if !view.CanUpdate || view.ViewerLevel != 1 {
		t.Fatalf("level1 claim view = %+v", view)
	}

	// Level-1 signature presented as a level-2 claim: read-only.
	view, _ = env.svc.ViewIssue(ctx, issue.Token, 2, sig1)
	if view.CanUpdate || view.CanAddReport || view.ViewerLevel != 0 {
		t.Fatalf("forged claim view = %+v", view)
	}

	// After escalation a verified level-1 claim may report but not update.
	if err := env.svc.Escalate(ctx, issue); err != nil {
		t.Fatalf("escalate: %v", err)
	}
	view, _ = env.svc.ViewIssue(ctx, issue.Token, 1, sig1)
	if view.CanUpdate || !view.CanAddReport {
		t.Fatalf("bypassed level view = %+v", view)
	}

	if _, err := env.svc.ViewIssue(ctx, strings.Repeat("0", 64), 0, ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestExpiredTokenGatesActions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.setSettings(t, func(s *store.EscalationSettings) { s.TokenExpiryMs = 1 })
	issue, _ := env.svc.CreateIssue(ctx, twoLevelTrigger())
	time.Sleep(10 * time.Millisecond)

	view, err := env.svc.ViewIssue(ctx, issue.Token, 0, "")
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	if view.CanUpdate || view.CanAddReport {
		t.Fatalf("expired token still actionable: %+v", view)
	}
	if _, err := env.svc.AddReport(ctx, issue.Token, "dana@example.com", "msg", 0); !errors.Is(err, ErrExpired) {
		t.Fatalf("err = %v, want ErrExpired", err)
	}
	if _, err := env.svc.UpdateStatus(ctx, issue.Token, store.IssueStatusResolved, "dana@example.com", ""); !errors.Is(err, ErrExpired) {
		t.Fatalf("err = %v, want ErrExpired", err)
	}
}
