package escalation

import (
	"testing"
	"time"

	"hexascan/core/store"
)

func TestDeadlineUsesCurrentLevelNotifiedAt(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	notified2 := created.Add(10 * time.Minute)
	issue := &store.EscalationIssue{
		CurrentLevel:     2,
		CreatedAt:        created,
		Level1NotifiedAt: &created,
		Level2NotifiedAt: &notified2,
	}
	got := Deadline(issue, 10*time.Minute)
	want := notified2.Add(10 * time.Minute)
	if !got.Equal(want) {
		t.Fatalf("deadline = %s, want %s", got, want)
	}
}

func TestDeadlineFallsBackToCreatedAt(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	issue := &store.EscalationIssue{CurrentLevel: 1, CreatedAt: created}
	got := Deadline(issue, 5*time.Minute)
	if !got.Equal(created.Add(5 * time.Minute)) {
		t.Fatalf("deadline = %s, want createdAt+window", got)
	}
}

func TestTimeRemainingFloorsAtZero(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	issue := &store.EscalationIssue{CurrentLevel: 1, CreatedAt: created, Level1NotifiedAt: &created}

	now := created.Add(3 * time.Minute)
	if got := TimeRemaining(issue, 10*time.Minute, now); got != 7*time.Minute {
		t.Fatalf("remaining = %s, want 7m", got)
	}
	late := created.Add(time.Hour)
	if got := TimeRemaining(issue, 10*time.Minute, late); got != 0 {
		t.Fatalf("remaining = %s, want 0 after deadline", got)
	}
}
