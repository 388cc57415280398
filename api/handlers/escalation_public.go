package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"hexascan/core/escalation"
	"hexascan/core/utils"
)

// PublicEscalationHandler serves the token-bearer incident page endpoints.
// No session, no org identity: the token in the URL is the credential.
type PublicEscalationHandler struct {
	svc    *escalation.Service
	logger *utils.Logger
}

func NewPublicEscalationHandler(svc *escalation.Service, logger *utils.Logger) *PublicEscalationHandler {
	return &PublicEscalationHandler{svc: svc, logger: logger}
}

func (h *PublicEscalationHandler) View(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(urlParam(r, "token"))
	level, _ := strconv.Atoi(r.URL.Query().Get("level"))
	sig := strings.TrimSpace(r.URL.Query().Get("sig"))
	view, err := h.svc.ViewIssue(r.Context(), token, level, sig)
	if err != nil {
		writeEscalationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *PublicEscalationHandler) RecordView(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(urlParam(r, "token"))
	var body struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if err := h.svc.RecordView(r.Context(), token, body.Email); err != nil {
		writeEscalationError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *PublicEscalationHandler) AddReport(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(urlParam(r, "token"))
	var body struct {
		Email   string `json:"email"`
		Message string `json:"message"`
		Level   int    `json:"level"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	event, err := h.svc.AddReport(r.Context(), token, body.Email, body.Message, body.Level)
	if err != nil {
		writeEscalationError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, event)
}

func (h *PublicEscalationHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(urlParam(r, "token"))
	var body struct {
		Status  string `json:"status"`
		Email   string `json:"email"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	issue, err := h.svc.UpdateStatus(r.Context(), token, body.Status, body.Email, body.Message)
	if err != nil {
		writeEscalationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, issue)
}
