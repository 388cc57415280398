package alerts

import (
	"context"

	"hexascan/core/escalation"
	"hexascan/core/metrics"
	"hexascan/core/store"
	"hexascan/core/utils"
)

// ChannelDispatcher delivers a non-escalating alert to the organization's
// notification channels (chat webhooks, plain mail digests). Best-effort.
type ChannelDispatcher interface {
	DispatchAlert(ctx context.Context, site *store.Site, result *store.CheckResult)
}

// Trigger bridges completed check results into the alerting pipeline:
// warning and worse go to the channels behind the cooldown gate, and
// critical/error additionally open an escalation issue when the site has
// contacts configured and no active issue for the same check.
type Trigger struct {
	sites      store.SitesStore
	escalation *escalation.Service
	escStore   store.EscalationStore
	gate       *Gate
	dispatcher ChannelDispatcher
	logger     *utils.Logger
}

func NewTrigger(sites store.SitesStore, svc *escalation.Service, escStore store.EscalationStore, gate *Gate, dispatcher ChannelDispatcher, logger *utils.Logger) *Trigger {
	return &Trigger{
		sites:      sites,
		escalation: svc,
		escStore:   escStore,
		gate:       gate,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

func qualifiesForChannels(status string) bool {
	return status == store.ResultStatusWarning ||
		status == store.ResultStatusCritical ||
		status == store.ResultStatusError
}

func qualifiesForEscalation(status string) bool {
	return status == store.ResultStatusCritical || status == store.ResultStatusError
}

// HandleResult reacts to one completed check result. Channel suppression and
// issue creation are decided independently: a cooldown never blocks an
// escalation, and an existing issue never blocks a channel alert.
func (t *Trigger) HandleResult(ctx context.Context, result *store.CheckResult) {
	if result == nil || !qualifiesForChannels(result.Status) {
		return
	}
	site, err := t.sites.GetSite(ctx, result.SiteID)
	if err != nil {
		t.logger.Errorf("alert trigger: load site %d: %v", result.SiteID, err)
		return
	}
	if site == nil {
		return
	}

	if t.gate.ShouldSuppress(ctx, result.SiteID, result.CheckID) {
		metrics.AlertsSuppressed.Inc()
	} else {
		if t.dispatcher != nil {
			t.dispatcher.DispatchAlert(ctx, site, result)
		}
		settings := t.escalation.CurrentSettings(ctx)
		window := settings.Cooldown()
		if err := t.gate.Arm(ctx, result.SiteID, result.CheckID, window); err != nil {
			t.logger.Errorf("alert trigger: arm cooldown site=%d check=%s: %v", result.SiteID, result.CheckID, err)
		}
	}

	if !qualifiesForEscalation(result.Status) || !site.HasEscalationContacts() {
		return
	}
	existing, err := t.escStore.FindActiveIssueForCheck(ctx, result.SiteID, result.CheckID)
	if err != nil {
		t.logger.Errorf("alert trigger: active issue lookup site=%d check=%s: %v", result.SiteID, result.CheckID, err)
		return
	}
	if existing != nil {
		return
	}
	issue, err := t.escalation.CreateIssue(ctx, escalation.TriggerContext{
		OrganizationID: site.OrganizationID,
		SiteID:         site.ID,
		CheckResultID:  result.ID,
		CheckID:        result.CheckID,
		CheckName:      result.CheckName,
		MonitorType:    result.MonitorType,
		Message:        result.Message,
		Score:          result.Score,
		Level1Name:     site.Level1Name,
		Level1Email:    site.Level1Email,
		Level2Name:     site.Level2Name,
		Level2Email:    site.Level2Email,
		Level3Name:     site.Level3Name,
		Level3Email:    site.Level3Email,
	})
	if err != nil {
		t.logger.Errorf("alert trigger: create issue site=%d check=%s: %v", result.SiteID, result.CheckID, err)
		return
	}
	if issue != nil {
		t.logger.Printf("escalation issue %s opened for site %d check %s", issue.PublicID, site.ID, result.CheckID)
	}
}
