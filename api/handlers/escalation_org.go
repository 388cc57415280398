package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"hexascan/core/alerts"
	"hexascan/core/auth"
	"hexascan/core/escalation"
	"hexascan/core/store"
	"hexascan/core/utils"
)

// OrgEscalationHandler serves the org console: issue listings, runtime
// settings, and the cooldown escape hatch.
type OrgEscalationHandler struct {
	escalations store.EscalationStore
	settings    store.SettingsStore
	svc         *escalation.Service
	gate        *alerts.Gate
	logger      *utils.Logger
}

func NewOrgEscalationHandler(escalations store.EscalationStore, settings store.SettingsStore, svc *escalation.Service, gate *alerts.Gate, logger *utils.Logger) *OrgEscalationHandler {
	return &OrgEscalationHandler{
		escalations: escalations,
		settings:    settings,
		svc:         svc,
		gate:        gate,
		logger:      logger,
	}
}

func (h *OrgEscalationHandler) List(w http.ResponseWriter, r *http.Request) {
	ident := auth.OrgFromContext(r.Context())
	q := r.URL.Query()
	filter := store.IssueFilter{OrganizationID: ident.OrganizationID}
	if siteID, err := strconv.ParseInt(q.Get("site_id"), 10, 64); err == nil && siteID > 0 {
		filter.SiteID = siteID
	}
	if status := strings.TrimSpace(q.Get("status")); status != "" {
		if status == "active" {
			filter.StatusIn = store.ActiveIssueStatuses()
		} else {
			filter.StatusIn = []string{status}
		}
	}
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 50
	}
	filter.Offset, _ = strconv.Atoi(q.Get("offset"))
	issues, err := h.escalations.ListIssues(r.Context(), filter)
	if err != nil {
		h.logger.Errorf("list escalations org=%d: %v", ident.OrganizationID, err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": issues, "count": len(issues)})
}

func (h *OrgEscalationHandler) Get(w http.ResponseWriter, r *http.Request) {
	ident := auth.OrgFromContext(r.Context())
	publicID := strings.TrimSpace(urlParam(r, "public_id"))
	issue, err := h.escalations.GetIssueByPublicID(r.Context(), publicID)
	if err != nil {
		h.logger.Errorf("get escalation %s: %v", publicID, err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	// Cross-org lookups 404, never 403: existence must not leak.
	if issue == nil || issue.OrganizationID != ident.OrganizationID {
		http.Error(w, escalation.ErrNotFound.Error(), http.StatusNotFound)
		return
	}
	events, err := h.escalations.ListEvents(r.Context(), issue.ID, 0)
	if err != nil {
		h.logger.Errorf("list events issue=%d: %v", issue.ID, err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"issue": issue, "events": events})
}

func (h *OrgEscalationHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.settings.GetSettings(r.Context())
	if err != nil || settings == nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (h *OrgEscalationHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var body struct {
		WindowMs        *int64 `json:"window_ms"`
		TokenExpiryMs   *int64 `json:"token_expiry_ms"`
		CooldownSeconds *int   `json:"cooldown_seconds"`
		SweepEnabled    *bool  `json:"sweep_enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	settings, err := h.settings.GetSettings(r.Context())
	if err != nil || settings == nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	if body.WindowMs != nil {
		if *body.WindowMs < 1000 {
			http.Error(w, "settings.windowTooShort", http.StatusBadRequest)
			return
		}
		settings.WindowMs = *body.WindowMs
	}
	if body.TokenExpiryMs != nil {
		if *body.TokenExpiryMs < 60_000 {
			http.Error(w, "settings.tokenExpiryTooShort", http.StatusBadRequest)
			return
		}
		settings.TokenExpiryMs = *body.TokenExpiryMs
	}
	if body.CooldownSeconds != nil {
		if *body.CooldownSeconds < 0 {
			http.Error(w, "settings.cooldownNegative", http.StatusBadRequest)
			return
		}
		settings.CooldownSeconds = *body.CooldownSeconds
	}
	if body.SweepEnabled != nil {
		settings.SweepEnabled = *body.SweepEnabled
	}
	if err := h.settings.UpdateSettings(r.Context(), settings); err != nil {
		h.logger.Errorf("update escalation settings: %v", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	h.svc.InvalidateSettings()
	writeJSON(w, http.StatusOK, settings)
}

func (h *OrgEscalationHandler) ClearCooldowns(w http.ResponseWriter, r *http.Request) {
	cleared, err := h.gate.ClearAll(r.Context())
	if err != nil {
		h.logger.Errorf("clear cooldowns: %v", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"cleared": cleared})
}
