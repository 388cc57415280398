package store

import (
	"strings"
	"time"
)

// Issue lifecycle states. Resolved and exhausted are terminal.
const (
	IssueStatusOpen         = "open"
	IssueStatusAcknowledged = "acknowledged"
	IssueStatusInProgress   = "in_progress"
	IssueStatusResolved     = "resolved"
	IssueStatusExhausted    = "exhausted"
)

// Timeline event types, append-only.
const (
	EventCreated      = "created"
	EventViewed       = "viewed"
	EventReportAdded  = "report_added"
	EventAcknowledged = "acknowledged"
	EventInProgress   = "in_progress"
	EventResolved     = "resolved"
	EventEscalated    = "escalated"
	EventExhausted    = "exhausted"
)

const MaxEscalationLevel = 3

func ActiveIssueStatuses() []string {
	return []string{IssueStatusOpen, IssueStatusAcknowledged, IssueStatusInProgress}
}

func IsTerminalIssueStatus(status string) bool {
	return status == IssueStatusResolved || status == IssueStatusExhausted
}

type EscalationIssue struct {
	ID             int64     `json:"id"`
	PublicID       string    `json:"public_id"`
	OrganizationID int64     `json:"organization_id"`
	SiteID         int64     `json:"site_id"`
	CheckResultID  int64     `json:"check_result_id"`
	CheckID        string    `json:"check_id"`
	CheckName      string    `json:"check_name"`
	MonitorType    string    `json:"monitor_type"`
	Status         string    `json:"status"`
	CurrentLevel   int       `json:"current_level"`
	MaxLevel       int       `json:"max_level"`
	Token          string    `json:"-"`
	TokenExpiresAt time.Time `json:"token_expires_at"`

	Level1Name  string `json:"level1_name,omitempty"`
	Level1Email string `json:"level1_email,omitempty"`
	Level2Name  string `json:"level2_name,omitempty"`
	Level2Email string `json:"level2_email,omitempty"`
	Level3Name  string `json:"level3_name,omitempty"`
	Level3Email string `json:"level3_email,omitempty"`

	Level1NotifiedAt *time.Time `json:"level1_notified_at,omitempty"`
	Level2NotifiedAt *time.Time `json:"level2_notified_at,omitempty"`
	Level3NotifiedAt *time.Time `json:"level3_notified_at,omitempty"`

	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`
	ResolvedByName  string     `json:"resolved_by_name,omitempty"`
	ResolvedByEmail string     `json:"resolved_by_email,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ContactAt returns the configured contact for a level, if any.
func (i *EscalationIssue) ContactAt(level int) (name, email string, ok bool) {
	switch level {
	case 1:
		name, email = i.Level1Name, i.Level1Email
	case 2:
		name, email = i.Level2Name, i.Level2Email
	case 3:
		name, email = i.Level3Name, i.Level3Email
	}
	return name, email, strings.TrimSpace(email) != ""
}

// LevelNotifiedAt returns the first-notified timestamp for a level.
func (i *EscalationIssue) LevelNotifiedAt(level int) *time.Time {
	switch level {
	case 1:
		return i.Level1NotifiedAt
	case 2:
		return i.Level2NotifiedAt
	case 3:
		return i.Level3NotifiedAt
	}
	return nil
}

// NotifiedEmails returns the deduplicated emails of every level that has been
// notified at least once, in level order.
func (i *EscalationIssue) NotifiedEmails() []string {
	seen := map[string]struct{}{}
	var out []string
	for level := 1; level <= MaxEscalationLevel; level++ {
		if i.LevelNotifiedAt(level) == nil {
			continue
		}
		_, email, ok := i.ContactAt(level)
		if !ok {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(email))
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, email)
	}
	return out
}

// LevelForEmail matches an email against the configured contacts,
// case-insensitively. Returns 0 when no contact matches.
func (i *EscalationIssue) LevelForEmail(email string) int {
	needle := strings.ToLower(strings.TrimSpace(email))
	if needle == "" {
		return 0
	}
	for level := 1; level <= MaxEscalationLevel; level++ {
		_, contact, ok := i.ContactAt(level)
		if ok && strings.ToLower(strings.TrimSpace(contact)) == needle {
			return level
		}
	}
	return 0
}

type EscalationEvent struct {
	ID        int64     `json:"id"`
	IssueID   int64     `json:"issue_id"`
	EventType string    `json:"event_type"`
	Level     *int      `json:"level,omitempty"`
	UserName  string    `json:"user_name,omitempty"`
	UserEmail string    `json:"user_email,omitempty"`
	Message   string    `json:"message,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type IssueFilter struct {
	OrganizationID int64
	SiteID         int64
	StatusIn       []string
	Limit          int
	Offset         int
}

// EscalationSettings is the single runtime-tunable settings row. Services
// read it at call time (with a short cache); updates apply without restart.
type EscalationSettings struct {
	ID              int64     `json:"id"`
	WindowMs        int64     `json:"window_ms"`
	TokenExpiryMs   int64     `json:"token_expiry_ms"`
	CooldownSeconds int       `json:"cooldown_seconds"`
	SweepEnabled    bool      `json:"sweep_enabled"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (s EscalationSettings) Window() time.Duration {
	if s.WindowMs <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(s.WindowMs) * time.Millisecond
}

func (s EscalationSettings) Cooldown() time.Duration {
	if s.CooldownSeconds <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(s.CooldownSeconds) * time.Second
}

func (s EscalationSettings) TokenExpiry() time.Duration {
	if s.TokenExpiryMs <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(s.TokenExpiryMs) * time.Millisecond
}
