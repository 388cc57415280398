package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrConflict signals a conditional update that matched no row: the issue
// moved on (level changed or reached a terminal status) between read and
// write. Callers treat it as "the other writer won".
var ErrConflict = errors.New("conflict")

type EscalationStore interface {
	CreateIssue(ctx context.Context, issue *EscalationIssue) (int64, error)
	GetIssue(ctx context.Context, id int64) (*EscalationIssue, error)
	GetIssueByPublicID(ctx context.Context, publicID string) (*EscalationIssue, error)
	GetIssueByToken(ctx context.Context, token string) (*EscalationIssue, error)
	ListIssues(ctx context.Context, filter IssueFilter) ([]EscalationIssue, error)
	ListActiveIssues(ctx context.Context) ([]EscalationIssue, error)
	FindActiveIssueForCheck(ctx context.Context, siteID int64, checkID string) (*EscalationIssue, error)

	EscalateIssue(ctx context.Context, id int64, fromLevel int, at time.Time) error
	ExhaustIssue(ctx context.Context, id int64, atLevel int, at time.Time) error
	ResolveIssue(ctx context.Context, id int64, byName, byEmail string, at time.Time) error
	SetIssueStatus(ctx context.Context, id int64, status string, at time.Time) error

	AddEvent(ctx context.Context, event *EscalationEvent) (int64, error)
	ListEvents(ctx context.Context, issueID int64, limit int) ([]EscalationEvent, error)
	HasViewEvent(ctx context.Context, issueID int64, email string) (bool, error)
}

type escalationStore struct {
	db *DB
}

func NewEscalationStore(db *DB) EscalationStore {
	return &escalationStore{db: db}
}

const issueColumns = `id, public_id, organization_id, site_id, check_result_id, check_id, check_name, monitor_type,
	status, current_level, max_level, token, token_expires_at,
	level1_name, level1_email, level2_name, level2_email, level3_name, level3_email,
	level1_notified_at, level2_notified_at, level3_notified_at,
	resolved_at, resolved_by_name, resolved_by_email, created_at, updated_at`

func (s *escalationStore) CreateIssue(ctx context.Context, issue *EscalationIssue) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	now := time.Now().UTC()
	if issue.CreatedAt.IsZero() {
		issue.CreatedAt = now
	}
	issue.UpdatedAt = issue.CreatedAt
	row := tx.QueryRowContext(ctx, `
		INSERT INTO escalation_issues(public_id, organization_id, site_id, check_result_id, check_id, check_name, monitor_type,
			status, current_level, max_level, token, token_expires_at,
			level1_name, level1_email, level2_name, level2_email, level3_name, level3_email,
			level1_notified_at, level2_notified_at, level3_notified_at,
			resolved_at, resolved_by_name, resolved_by_email, created_at, updated_at)
		VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		RETURNING id`,
		issue.PublicID, issue.OrganizationID, issue.SiteID, issue.CheckResultID, issue.CheckID, issue.CheckName, issue.MonitorType,
		issue.Status, issue.CurrentLevel, issue.MaxLevel, issue.Token, issue.TokenExpiresAt,
		issue.Level1Name, issue.Level1Email, issue.Level2Name, issue.Level2Email, issue.Level3Name, issue.Level3Email,
		nullTime(issue.Level1NotifiedAt), nullTime(issue.Level2NotifiedAt), nullTime(issue.Level3NotifiedAt),
		nullTime(issue.ResolvedAt), issue.ResolvedByName, issue.ResolvedByEmail, issue.CreatedAt, issue.UpdatedAt)
	if err := row.Scan(&issue.ID); err != nil {
		tx.Rollback()
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO escalation_events(issue_id, event_type, level, user_name, user_email, message, created_at)
		VALUES(?,?,?,?,?,?,?)`,
		issue.ID, EventCreated, 1, "", "", issue.CheckName, issue.CreatedAt); err != nil {
		tx.Rollback()
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return issue.ID, nil
}

func (s *escalationStore) GetIssue(ctx context.Context, id int64) (*EscalationIssue, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+issueColumns+` FROM escalation_issues WHERE id=?`, id)
	return scanIssue(row)
}

func (s *escalationStore) GetIssueByPublicID(ctx context.Context, publicID string) (*EscalationIssue, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+issueColumns+` FROM escalation_issues WHERE public_id=?`, publicID)
	return scanIssue(row)
}

func (s *escalationStore) GetIssueByToken(ctx context.Context, token string) (*EscalationIssue, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+issueColumns+` FROM escalation_issues WHERE token=?`, token)
	return scanIssue(row)
}

func (s *escalationStore) ListIssues(ctx context.Context, filter IssueFilter) ([]EscalationIssue, error) {
	query := `SELECT ` + issueColumns + ` FROM escalation_issues WHERE 1=1`
	var args []any
	if filter.OrganizationID > 0 {
		query += ` AND organization_id=?`
		args = append(args, filter.OrganizationID)
	}
	if filter.SiteID > 0 {
		query += ` AND site_id=?`
		args = append(args, filter.SiteID)
	}
	if len(filter.StatusIn) > 0 {
		query += ` AND status IN (` + placeholders(len(filter.StatusIn)) + `)`
		for _, st := range filter.StatusIn {
			args = append(args, st)
		}
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += ` OFFSET ?`
			args = append(args, filter.Offset)
		}
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectIssues(rows)
}

func (s *escalationStore) ListActiveIssues(ctx context.Context) ([]EscalationIssue, error) {
	statuses := ActiveIssueStatuses()
	args := make([]any, 0, len(statuses))
	for _, st := range statuses {
		args = append(args, st)
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+issueColumns+` FROM escalation_issues
		WHERE status IN (`+placeholders(len(statuses))+`)
		ORDER BY created_at ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectIssues(rows)
}

func (s *escalationStore) FindActiveIssueForCheck(ctx context.Context, siteID int64, checkID string) (*EscalationIssue, error) {
	statuses := ActiveIssueStatuses()
	args := []any{siteID, checkID}
	for _, st := range statuses {
		args = append(args, st)
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT `+issueColumns+` FROM escalation_issues
		WHERE site_id=? AND check_id=? AND status IN (`+placeholders(len(statuses))+`)
		ORDER BY created_at DESC LIMIT 1`, args...)
	return scanIssue(row)
}

// EscalateIssue bumps current_level by exactly one, guarded on the level the
// caller read. Overlapping sweeps race here; the loser gets ErrConflict and
// must not append events or send mail.
func (s *escalationStore) EscalateIssue(ctx context.Context, id int64, fromLevel int, at time.Time) error {
	if fromLevel < 1 || fromLevel >= MaxEscalationLevel {
		return fmt.Errorf("escalate from level %d: out of range", fromLevel)
	}
	newLevel := fromLevel + 1
	column := fmt.Sprintf("level%d_notified_at", newLevel)
	statuses := ActiveIssueStatuses()
	args := []any{newLevel, at, at, id, fromLevel}
	for _, st := range statuses {
		args = append(args, st)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE escalation_issues
		SET current_level=?, `+column+`=?, updated_at=?
		WHERE id=? AND current_level=? AND status IN (`+placeholders(len(statuses))+`)`, args...)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrConflict
	}
	return nil
}

func (s *escalationStore) ExhaustIssue(ctx context.Context, id int64, atLevel int, at time.Time) error {
	statuses := ActiveIssueStatuses()
	args := []any{IssueStatusExhausted, at, id, atLevel}
	for _, st := range statuses {
		args = append(args, st)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE escalation_issues
		SET status=?, updated_at=?
		WHERE id=? AND current_level=? AND status IN (`+placeholders(len(statuses))+`)`, args...)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrConflict
	}
	return nil
}

func (s *escalationStore) ResolveIssue(ctx context.Context, id int64, byName, byEmail string, at time.Time) error {
	statuses := ActiveIssueStatuses()
	args := []any{IssueStatusResolved, at, byName, byEmail, at, id}
	for _, st := range statuses {
		args = append(args, st)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE escalation_issues
		SET status=?, resolved_at=?, resolved_by_name=?, resolved_by_email=?, updated_at=?
		WHERE id=? AND status IN (`+placeholders(len(statuses))+`)`, args...)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrConflict
	}
	return nil
}

func (s *escalationStore) SetIssueStatus(ctx context.Context, id int64, status string, at time.Time) error {
	if status != IssueStatusAcknowledged && status != IssueStatusInProgress {
		return fmt.Errorf("set issue status %q: not an active transition", status)
	}
	statuses := ActiveIssueStatuses()
	args := []any{status, at, id}
	for _, st := range statuses {
		args = append(args, st)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE escalation_issues
		SET status=?, updated_at=?
		WHERE id=? AND status IN (`+placeholders(len(statuses))+`)`, args...)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrConflict
	}
	return nil
}

func (s *escalationStore) AddEvent(ctx context.Context, event *EscalationEvent) (int64, error) {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO escalation_events(issue_id, event_type, level, user_name, user_email, message, created_at)
		VALUES(?,?,?,?,?,?,?)
		RETURNING id`,
		event.IssueID, event.EventType, nullableInt(event.Level), event.UserName, event.UserEmail, event.Message, event.CreatedAt)
	if err := row.Scan(&event.ID); err != nil {
		return 0, err
	}
	return event.ID, nil
}

func (s *escalationStore) ListEvents(ctx context.Context, issueID int64, limit int) ([]EscalationEvent, error) {
	query := `
		SELECT id, issue_id, event_type, level, user_name, user_email, message, created_at
		FROM escalation_events WHERE issue_id=? ORDER BY created_at ASC, id ASC`
	args := []any{issueID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []EscalationEvent
	for rows.Next() {
		var ev EscalationEvent
		var level sql.NullInt64
		if err := rows.Scan(&ev.ID, &ev.IssueID, &ev.EventType, &level, &ev.UserName, &ev.UserEmail, &ev.Message, &ev.CreatedAt); err != nil {
			return nil, err
		}
		if level.Valid {
			val := int(level.Int64)
			ev.Level = &val
		}
		res = append(res, ev)
	}
	return res, rows.Err()
}

func (s *escalationStore) HasViewEvent(ctx context.Context, issueID int64, email string) (bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM escalation_events
		WHERE issue_id=? AND event_type=? AND LOWER(user_email)=LOWER(?)`,
		issueID, EventViewed, email)
	var count int
	if err := row.Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

func collectIssues(rows *sql.Rows) ([]EscalationIssue, error) {
	var res []EscalationIssue
	for rows.Next() {
		issue, err := scanIssue(rows)
		if err != nil {
			return nil, err
		}
		if issue != nil {
			res = append(res, *issue)
		}
	}
	return res, rows.Err()
}

func scanIssue(row interface{ Scan(dest ...any) error }) (*EscalationIssue, error) {
	var i EscalationIssue
	var l1, l2, l3, resolvedAt sql.NullTime
	if err := row.Scan(
		&i.ID, &i.PublicID, &i.OrganizationID, &i.SiteID, &i.CheckResultID, &i.CheckID, &i.CheckName, &i.MonitorType,
		&i.Status, &i.CurrentLevel, &i.MaxLevel, &i.Token, &i.TokenExpiresAt,
		&i.Level1Name, &i.Level1Email, &i.Level2Name, &i.Level2Email, &i.Level3Name, &i.Level3Email,
		&l1, &l2, &l3,
		&resolvedAt, &i.ResolvedByName, &i.ResolvedByEmail, &i.CreatedAt, &i.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if l1.Valid {
		i.Level1NotifiedAt = &l1.Time
	}
	if l2.Valid {
		i.Level2NotifiedAt = &l2.Time
	}
	if l3.Valid {
		i.Level3NotifiedAt = &l3.Time
	}
	if resolvedAt.Valid {
		i.ResolvedAt = &resolvedAt.Time
	}
	return &i, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}
