package escalation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"

	"hexascan/core/metrics"
	"hexascan/core/store"
	"hexascan/core/utils"
)

// Service owns the escalation issue lifecycle. All mutation goes through its
// operations; the backing store's conditional updates are the only
// serialization point, so overlapping sweeps and concurrent resolutions
// settle on exactly one winner.
type Service struct {
	store    store.EscalationStore
	settings store.SettingsStore
	notifier *Notifier
	codec    *TokenCodec
	logger   *utils.Logger

	mu             sync.Mutex
	cached         store.EscalationSettings
	lastSettingsAt time.Time
}

func NewService(st store.EscalationStore, settings store.SettingsStore, notifier *Notifier, codec *TokenCodec, logger *utils.Logger) *Service {
	return &Service{
		store:    st,
		settings: settings,
		notifier: notifier,
		codec:    codec,
		logger:   logger,
	}
}

// recordEvent appends a timeline event for an already-committed transition.
// The transition is never rolled back over a lost event; the gap in the
// timeline is logged and counted instead.
func (s *Service) recordEvent(ctx context.Context, ev *store.EscalationEvent) {
	if _, err := s.store.AddEvent(ctx, ev); err != nil {
		metrics.EventWriteErrors.Inc()
		s.logger.Errorf("record %s event for issue %d: %v", ev.EventType, ev.IssueID, err)
	}
}

// CurrentSettings returns the runtime tunables, refreshed from the store at
// most every 10 seconds. Admin updates apply without a restart.
func (s *Service) CurrentSettings(ctx context.Context) store.EscalationSettings {
	s.mu.Lock()
	needFetch := s.cached.ID == 0 || time.Since(s.lastSettingsAt) > 10*time.Second
	s.mu.Unlock()
	if needFetch {
		if settings, err := s.settings.GetSettings(ctx); err == nil && settings != nil {
			s.mu.Lock()
			s.cached = *settings
			s.lastSettingsAt = time.Now().UTC()
			s.mu.Unlock()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cached
}

// InvalidateSettings drops the settings cache; the next call refetches.
func (s *Service) InvalidateSettings() {
	s.mu.Lock()
	s.lastSettingsAt = time.Time{}
	s.cached = store.EscalationSettings{}
	s.mu.Unlock()
}

// TriggerContext carries everything the trigger bridge knows about the
// qualifying check result and the site's configured contacts.
type TriggerContext struct {
	OrganizationID int64
	SiteID         int64
	CheckResultID  int64
	CheckID        string
	CheckName      string
	MonitorType    string
	Message        string
	Score          float64

	Level1Name  string
	Level1Email string
	Level2Name  string
	Level2Email string
	Level3Name  string
	Level3Email string
}

func (t TriggerContext) maxLevel() int {
	max := 0
	if strings.TrimSpace(t.Level1Email) != "" {
		max = 1
	}
	if strings.TrimSpace(t.Level2Email) != "" {
		max = 2
	}
	if strings.TrimSpace(t.Level3Email) != "" {
		max = 3
	}
	return max
}

// CreateIssue opens an escalation issue at level 1 and notifies the level-1
// contact. With no contact configured at any level it returns (nil, nil):
// no issue, no events, no mail. Deduplication per triggering check result is
// the caller's responsibility.
func (s *Service) CreateIssue(ctx context.Context, trig TriggerContext) (*store.EscalationIssue, error) {
	maxLevel := trig.maxLevel()
	if maxLevel == 0 {
		return nil, nil
	}
	token, err := s.codec.GenerateToken()
	if err != nil {
		return nil, err
	}
	settings := s.CurrentSettings(ctx)
	now := time.Now().UTC()
	issue := &store.EscalationIssue{
		PublicID:         uuid.Must(uuid.NewV4()).String(),
		OrganizationID:   trig.OrganizationID,
		SiteID:           trig.SiteID,
		CheckResultID:    trig.CheckResultID,
		CheckID:          trig.CheckID,
		CheckName:        trig.CheckName,
		MonitorType:      trig.MonitorType,
		Status:           store.IssueStatusOpen,
		CurrentLevel:     1,
		MaxLevel:         maxLevel,
		Token:            token,
		TokenExpiresAt:   now.Add(settings.TokenExpiry()),
		Level1Name:       trig.Level1Name,
		Level1Email:      trig.Level1Email,
		Level2Name:       trig.Level2Name,
		Level2Email:      trig.Level2Email,
		Level3Name:       trig.Level3Name,
		Level3Email:      trig.Level3Email,
		Level1NotifiedAt: &now,
		CreatedAt:        now,
	}
	if _, err := s.store.CreateIssue(ctx, issue); err != nil {
		return nil, err
	}
	metrics.IssuesCreated.Inc()
	if s.notifier != nil {
		s.notifier.NotifyLevel(ctx, issue, 1, Deadline(issue, settings.Window()), false)
	}
	return issue, nil
}

// Escalate moves a past-deadline issue one level up, or to exhausted when it
// already sits at its highest configured level. Invoked by the sweeper only.
// A conditional update losing to a concurrent writer is a silent no-op: the
// other transition won and this snapshot is stale.
func (s *Service) Escalate(ctx context.Context, issue *store.EscalationIssue) error {
	if store.IsTerminalIssueStatus(issue.Status) {
		return nil
	}
	now := time.Now().UTC()
	if issue.CurrentLevel >= issue.MaxLevel {
		if err := s.store.ExhaustIssue(ctx, issue.ID, issue.CurrentLevel, now); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return nil
			}
			return err
		}
		level := issue.CurrentLevel
		s.recordEvent(ctx, &store.EscalationEvent{
			IssueID:   issue.ID,
			EventType: store.EventExhausted,
			Level:     &level,
			Message:   "escalation chain exhausted",
			CreatedAt: now,
		})
		metrics.Exhaustions.Inc()
		return nil
	}
	fromLevel := issue.CurrentLevel
	if err := s.store.EscalateIssue(ctx, issue.ID, fromLevel, now); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil
		}
		return err
	}
	updated := *issue
	updated.CurrentLevel = fromLevel + 1
	switch updated.CurrentLevel {
	case 2:
		updated.Level2NotifiedAt = &now
	case 3:
		updated.Level3NotifiedAt = &now
	}
	newLevel := updated.CurrentLevel
	s.recordEvent(ctx, &store.EscalationEvent{
		IssueID:   issue.ID,
		EventType: store.EventEscalated,
		Level:     &newLevel,
		Message:   "deadline passed without action",
		CreatedAt: now,
	})
	metrics.Escalations.Inc()
	if s.notifier != nil {
		settings := s.CurrentSettings(ctx)
		if _, email, ok := issue.ContactAt(fromLevel); ok {
			s.notifier.NotifyEscalationBypass(ctx, &updated, fromLevel, email)
		}
		s.notifier.NotifyLevel(ctx, &updated, newLevel, Deadline(&updated, settings.Window()), true)
	}
	return nil
}

// PublicView is the token-page projection of an issue.
type PublicView struct {
	Issue           *store.EscalationIssue  `json:"issue"`
	Events          []store.EscalationEvent `json:"events"`
	Deadline        time.Time               `json:"deadline"`
	TimeRemainingMs int64                   `json:"time_remaining_ms"`
	ViewerLevel     int                     `json:"viewer_level,omitempty"`
	CanUpdate       bool                    `json:"can_update"`
	CanAddReport    bool                    `json:"can_add_report"`
}

// ViewIssue resolves an issue by its bearer token. Token lookup is the first
// and only gate: an unknown token is ErrNotFound regardless of anything else.
// claimLevel/signature are the optional scoping query params; a claim that
// fails signature verification yields a read-only view rather than an error.
func (s *Service) ViewIssue(ctx context.Context, token string, claimLevel int, signature string) (*PublicView, error) {
	issue, err := s.store.GetIssueByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if issue == nil {
		return nil, ErrNotFound
	}
	now := time.Now().UTC()
	settings := s.CurrentSettings(ctx)
	expired := now.After(issue.TokenExpiresAt)
	active := !store.IsTerminalIssueStatus(issue.Status)

	noClaim := claimLevel == 0 && strings.TrimSpace(signature) == ""
	verified := false
	if !noClaim && claimLevel >= 1 && claimLevel <= store.MaxEscalationLevel {
		verified = s.codec.VerifyLevel(token, claimLevel, signature)
	}
	viewerLevel := 0
	if verified {
		viewerLevel = claimLevel
	}

	view := &PublicView{
		Issue:           issue,
		Deadline:        Deadline(issue, settings.Window()),
		TimeRemainingMs: TimeRemaining(issue, settings.Window(), now).Milliseconds(),
		ViewerLevel:     viewerLevel,
		CanUpdate:       !expired && active && (noClaim || (verified && claimLevel == issue.CurrentLevel)),
		CanAddReport:    !expired && active && (noClaim || (verified && claimLevel <= issue.CurrentLevel)),
	}
	events, err := s.store.ListEvents(ctx, issue.ID, 0)
	if err != nil {
		return nil, err
	}
	view.Events = events
	return view, nil
}

// RecordView appends a VIEWED event at most once per (issue, viewer email).
// Repeat views by the same viewer are silent no-ops.
func (s *Service) RecordView(ctx context.Context, token, viewerEmail string) error {
	issue, err := s.store.GetIssueByToken(ctx, token)
	if err != nil {
		return err
	}
	if issue == nil {
		return ErrNotFound
	}
	email := strings.TrimSpace(viewerEmail)
	if email == "" {
		return nil
	}
	seen, err := s.store.HasViewEvent(ctx, issue.ID, email)
	if err != nil {
		return err
	}
	if seen {
		return nil
	}
	level := issue.LevelForEmail(email)
	ev := &store.EscalationEvent{
		IssueID:   issue.ID,
		EventType: store.EventViewed,
		UserEmail: email,
		CreatedAt: time.Now().UTC(),
	}
	if level > 0 {
		ev.Level = &level
		name, _, _ := issue.ContactAt(level)
		ev.UserName = name
	}
	_, err = s.store.AddEvent(ctx, ev)
	return err
}

// AddReport appends a REPORT_ADDED event. The caller's level is determined
// by matching the email against the configured contacts, never by the
// caller-supplied claim. Contacts at or below the current level may report;
// a level the escalation has not yet reached may not.
func (s *Service) AddReport(ctx context.Context, token, viewerEmail, message string, claimLevel int) (*store.EscalationEvent, error) {
	issue, err := s.store.GetIssueByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if issue == nil {
		return nil, ErrNotFound
	}
	now := time.Now().UTC()
	if now.After(issue.TokenExpiresAt) {
		return nil, ErrExpired
	}
	if store.IsTerminalIssueStatus(issue.Status) {
		return nil, ErrTerminal
	}
	if strings.TrimSpace(message) == "" {
		return nil, ErrInvalidTransition
	}
	level := issue.LevelForEmail(viewerEmail)
	if level == 0 {
		return nil, ErrUnauthorized
	}
	if level > issue.CurrentLevel {
		return nil, ErrUnauthorized
	}
	name, email, _ := issue.ContactAt(level)
	ev := &store.EscalationEvent{
		IssueID:   issue.ID,
		EventType: store.EventReportAdded,
		Level:     &level,
		UserName:  name,
		UserEmail: email,
		Message:   strings.TrimSpace(message),
		CreatedAt: now,
	}
	if _, err := s.store.AddEvent(ctx, ev); err != nil {
		return nil, err
	}
	return ev, nil
}

// UpdateStatus transitions an active issue. Only the contact at exactly the
// current level may change status. RESOLVED stamps resolver identity and
// fans out the recovery notice to every level ever notified; losing the
// conditional update to a concurrent transition surfaces as ErrTerminal.
func (s *Service) UpdateStatus(ctx context.Context, token, newStatus, actorEmail, message string) (*store.EscalationIssue, error) {
	issue, err := s.store.GetIssueByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if issue == nil {
		return nil, ErrNotFound
	}
	now := time.Now().UTC()
	if now.After(issue.TokenExpiresAt) {
		return nil, ErrExpired
	}
	if store.IsTerminalIssueStatus(issue.Status) {
		return nil, ErrTerminal
	}
	status := strings.ToLower(strings.TrimSpace(newStatus))
	switch status {
	case store.IssueStatusAcknowledged, store.IssueStatusInProgress, store.IssueStatusResolved:
	default:
		return nil, ErrInvalidTransition
	}
	// Authorization compares against the current-level contact directly:
	// the same email may be configured at several levels, and after an
	// escalation that contact still owns the issue.
	name, email, ok := issue.ContactAt(issue.CurrentLevel)
	if !ok || !strings.EqualFold(strings.TrimSpace(actorEmail), strings.TrimSpace(email)) {
		return nil, ErrUnauthorized
	}
	level := issue.CurrentLevel

	if status == store.IssueStatusResolved {
		if err := s.store.ResolveIssue(ctx, issue.ID, name, email, now); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return nil, ErrTerminal
			}
			return nil, err
		}
		s.recordEvent(ctx, &store.EscalationEvent{
			IssueID:   issue.ID,
			EventType: store.EventResolved,
			Level:     &level,
			UserName:  name,
			UserEmail: email,
			Message:   strings.TrimSpace(message),
			CreatedAt: now,
		})
		metrics.Resolutions.Inc()
		resolved := *issue
		resolved.Status = store.IssueStatusResolved
		resolved.ResolvedAt = &now
		resolved.ResolvedByName = name
		resolved.ResolvedByEmail = email
		if s.notifier != nil {
			s.notifier.NotifyResolution(ctx, &resolved, email)
		}
		return &resolved, nil
	}

	// Judged against the snapshot read above. A transition racing in between
	// is harmless: the conditional write below only touches active rows.
	if status == issue.Status {
		return nil, ErrInvalidTransition
	}
	if err := s.store.SetIssueStatus(ctx, issue.ID, status, now); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, ErrTerminal
		}
		return nil, err
	}
	eventType := store.EventAcknowledged
	if status == store.IssueStatusInProgress {
		eventType = store.EventInProgress
	}
	s.recordEvent(ctx, &store.EscalationEvent{
		IssueID:   issue.ID,
		EventType: eventType,
		Level:     &level,
		UserName:  name,
		UserEmail: email,
		Message:   strings.TrimSpace(message),
		CreatedAt: now,
	})
	updated := *issue
	updated.Status = status
	updated.UpdatedAt = now
	return &updated, nil
}
