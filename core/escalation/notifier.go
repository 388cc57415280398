package escalation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"strings"
	"time"

	"hexascan/config"
	"hexascan/core/metrics"
	"hexascan/core/store"
	"hexascan/core/utils"
)

// MailSender is the thin send interface the notifier is decoupled through.
// Pooling and retry are the transport's concern.
type MailSender interface {
	Send(ctx context.Context, toEmail, subject, htmlBody string) error
}

// HTTPMailSender posts messages to an HTTP mail relay.
type HTTPMailSender struct {
	client   *http.Client
	relayURL string
	apiKey   string
	from     string
}

func NewHTTPMailSender(cfg config.MailConfig) *HTTPMailSender {
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPMailSender{
		client:   &http.Client{Timeout: timeout},
		relayURL: strings.TrimRight(strings.TrimSpace(cfg.RelayURL), "/"),
		apiKey:   cfg.APIKey,
		from:     cfg.From,
	}
}

func (s *HTTPMailSender) Send(ctx context.Context, toEmail, subject, htmlBody string) error {
	if s.relayURL == "" {
		return errors.New("mail relay url missing")
	}
	if strings.TrimSpace(toEmail) == "" {
		return errors.New("mail recipient missing")
	}
	body := map[string]any{
		"from":    s.from,
		"to":      toEmail,
		"subject": subject,
		"html":    htmlBody,
	}
	raw, _ := json.Marshal(body)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.relayURL+"/messages", bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return fmt.Errorf("mail relay status %d", resp.StatusCode)
}

// Notifier renders and sends level-specific escalation mail. Sends are
// best-effort: failures are logged and swallowed, never rolled back into the
// state transition that triggered them.
type Notifier struct {
	sender    MailSender
	codec     *TokenCodec
	results   store.SitesStore
	publicURL string
	logger    *utils.Logger
}

func NewNotifier(sender MailSender, codec *TokenCodec, results store.SitesStore, publicURL string, logger *utils.Logger) *Notifier {
	return &Notifier{
		sender:    sender,
		codec:     codec,
		results:   results,
		publicURL: strings.TrimRight(strings.TrimSpace(publicURL), "/"),
		logger:    logger,
	}
}

func (n *Notifier) issueURL(issue *store.EscalationIssue, level int) string {
	sig := n.codec.SignLevel(issue.Token, level)
	return fmt.Sprintf("%s/escalations/%s?level=%d&sig=%s",
		n.publicURL, url.PathEscape(issue.Token), level, sig)
}

// NotifyLevel sends the incident notice to the contact at the given level.
// isEscalation switches the wording from "new incident" to "escalated to you".
func (n *Notifier) NotifyLevel(ctx context.Context, issue *store.EscalationIssue, level int, deadline time.Time, isEscalation bool) {
	name, email, ok := issue.ContactAt(level)
	if !ok {
		return
	}
	subject := fmt.Sprintf("[HexaScan] Critical incident: %s", issue.CheckName)
	intro := "A critical incident needs your attention."
	if isEscalation {
		subject = fmt.Sprintf("[HexaScan] Incident escalated to you: %s", issue.CheckName)
		intro = fmt.Sprintf("An unresolved incident escalated to level %d and is now your responsibility.", level)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "<p>Hello %s,</p>", html.EscapeString(displayName(name, email)))
	fmt.Fprintf(&b, "<p>%s</p>", intro)
	fmt.Fprintf(&b, "<p><b>Check:</b> %s<br><b>Type:</b> %s<br><b>Status:</b> %s</p>",
		html.EscapeString(issue.CheckName), html.EscapeString(issue.MonitorType), html.EscapeString(strings.ToUpper(issue.Status)))
	if result := n.triggeringResult(ctx, issue); result != nil {
		fmt.Fprintf(&b, "<p><b>Score:</b> %.0f/100", result.Score)
		if strings.TrimSpace(result.Message) != "" {
			fmt.Fprintf(&b, "<br><b>Detail:</b> %s", html.EscapeString(result.Message))
		}
		b.WriteString("</p>")
	}
	fmt.Fprintf(&b, "<p>If nobody acts before <b>%s</b>, the incident escalates to the next level.</p>",
		deadline.UTC().Format("2006-01-02 15:04 UTC"))
	fmt.Fprintf(&b, `<p><a href="%s">Open the incident page</a></p>`, n.issueURL(issue, level))
	n.send(ctx, email, subject, b.String())
}

// NotifyEscalationBypass tells the level that just timed out that
// responsibility moved on.
func (n *Notifier) NotifyEscalationBypass(ctx context.Context, issue *store.EscalationIssue, bypassedLevel int, email string) {
	if strings.TrimSpace(email) == "" {
		return
	}
	subject := fmt.Sprintf("[HexaScan] Incident escalated past you: %s", issue.CheckName)
	var b strings.Builder
	fmt.Fprintf(&b, "<p>The incident for <b>%s</b> was not handled within the escalation window.</p>",
		html.EscapeString(issue.CheckName))
	fmt.Fprintf(&b, "<p>It has been escalated from level %d to level %d. You can still add reports with context.</p>",
		bypassedLevel, issue.CurrentLevel)
	fmt.Fprintf(&b, `<p><a href="%s">Open the incident page</a></p>`, n.issueURL(issue, bypassedLevel))
	n.send(ctx, email, subject, b.String())
}

// NotifyResolution sends the recovery notice to the deduplicated union of
// every level that was ever notified.
func (n *Notifier) NotifyResolution(ctx context.Context, issue *store.EscalationIssue, resolvedByEmail string) {
	subject := fmt.Sprintf("[HexaScan] Incident resolved: %s", issue.CheckName)
	var b strings.Builder
	fmt.Fprintf(&b, "<p>The incident for <b>%s</b> has been resolved", html.EscapeString(issue.CheckName))
	if strings.TrimSpace(resolvedByEmail) != "" {
		fmt.Fprintf(&b, " by %s", html.EscapeString(resolvedByEmail))
	}
	b.WriteString(".</p>")
	if issue.ResolvedAt != nil {
		fmt.Fprintf(&b, "<p><b>Resolved at:</b> %s</p>", issue.ResolvedAt.UTC().Format("2006-01-02 15:04 UTC"))
	}
	for _, email := range issue.NotifiedEmails() {
		n.send(ctx, email, subject, b.String())
	}
}

// triggeringResult loads the check result the issue was opened for. Mail
// rendering works without it; lookup failures only drop the detail lines.
func (n *Notifier) triggeringResult(ctx context.Context, issue *store.EscalationIssue) *store.CheckResult {
	if n.results == nil || issue.CheckResultID <= 0 {
		return nil
	}
	result, err := n.results.GetCheckResult(ctx, issue.CheckResultID)
	if err != nil {
		if n.logger != nil {
			n.logger.Errorf("load result %d for mail: %v", issue.CheckResultID, err)
		}
		return nil
	}
	return result
}

func (n *Notifier) send(ctx context.Context, email, subject, body string) {
	if n.sender == nil {
		return
	}
	if err := n.sender.Send(ctx, email, subject, body); err != nil {
		metrics.MailsFailed.Inc()
		if n.logger != nil {
			n.logger.Errorf("escalation mail to %s: %v", email, err)
		}
		return
	}
	metrics.MailsSent.Inc()
}

func displayName(name, email string) string {
	if strings.TrimSpace(name) != "" {
		return name
	}
	return email
}
