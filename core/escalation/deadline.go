package escalation

import (
	"time"

	"hexascan/core/store"
)

// Deadline is the instant at which the issue's current level times out:
// the current level's first-notified timestamp (falling back to createdAt)
// plus the escalation window. Pure; shared by the sweeper and read APIs.
func Deadline(issue *store.EscalationIssue, window time.Duration) time.Time {
	base := issue.CreatedAt
	if at := issue.LevelNotifiedAt(issue.CurrentLevel); at != nil {
		base = *at
	}
	return base.Add(window)
}

// TimeRemaining is the countdown until Deadline, floored at zero.
func TimeRemaining(issue *store.EscalationIssue, window time.Duration, now time.Time) time.Duration {
	remaining := Deadline(issue, window).Sub(now)
	if remaining < 0 {
		return 0
	}
	return remaining
}
