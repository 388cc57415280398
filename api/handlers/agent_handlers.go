package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"hexascan/core/alerts"
	"hexascan/core/auth"
	"hexascan/core/store"
	"hexascan/core/utils"
)

// AgentHandler ingests check results from authenticated monitoring agents.
type AgentHandler struct {
	sites   store.SitesStore
	trigger *alerts.Trigger
	logger  *utils.Logger
}

func NewAgentHandler(sites store.SitesStore, trigger *alerts.Trigger, logger *utils.Logger) *AgentHandler {
	return &AgentHandler{sites: sites, trigger: trigger, logger: logger}
}

func validResultStatus(status string) bool {
	switch status {
	case store.ResultStatusPassed, store.ResultStatusWarning, store.ResultStatusCritical, store.ResultStatusError:
		return true
	}
	return false
}

// SubmitResult completes a pending task with the agent's outcome and feeds
// the result into the alert pipeline. Duplicate deliveries are absorbed by
// the store, not rejected.
func (h *AgentHandler) SubmitResult(w http.ResponseWriter, r *http.Request) {
	site := auth.SiteFromContext(r.Context())
	var body struct {
		TaskID      string         `json:"task_id"`
		CheckID     string         `json:"check_id"`
		CheckName   string         `json:"check_name"`
		MonitorType string         `json:"monitor_type"`
		Status      string         `json:"status"`
		Score       float64        `json:"score"`
		Message     string         `json:"message"`
		Details     map[string]any `json:"details"`
		DurationMs  int64          `json:"duration_ms"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	status := strings.ToLower(strings.TrimSpace(body.Status))
	if strings.TrimSpace(body.TaskID) == "" || !validResultStatus(status) {
		http.Error(w, "results.invalidPayload", http.StatusBadRequest)
		return
	}
	if body.Score < 0 || body.Score > 100 {
		http.Error(w, "results.scoreOutOfRange", http.StatusBadRequest)
		return
	}
	detailsJSON := ""
	if len(body.Details) > 0 {
		raw, err := json.Marshal(body.Details)
		if err != nil {
			http.Error(w, "results.invalidPayload", http.StatusBadRequest)
			return
		}
		detailsJSON = string(raw)
	}
	result := &store.CheckResult{
		SiteID:      site.ID,
		TaskID:      strings.TrimSpace(body.TaskID),
		CheckID:     body.CheckID,
		CheckName:   body.CheckName,
		MonitorType: body.MonitorType,
		Status:      status,
		Score:       body.Score,
		Message:     body.Message,
		DetailsJSON: detailsJSON,
		DurationMs:  body.DurationMs,
	}
	// The store scopes the pending-row consume to the authenticated site, so
	// a foreign task id only produces a fresh row under the caller's own site.
	if _, err := h.sites.CompletePendingResult(r.Context(), result); err != nil {
		h.logger.Errorf("complete result site=%d task=%s: %v", site.ID, result.TaskID, err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	h.trigger.HandleResult(r.Context(), result)
	writeJSON(w, http.StatusAccepted, map[string]any{"result_id": result.ID, "status": result.Status})
}
