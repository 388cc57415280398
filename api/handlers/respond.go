package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"hexascan/core/escalation"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeEscalationError maps the service error taxonomy onto HTTP statuses.
// Sentinel messages double as i18n keys for the console frontend.
func writeEscalationError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, escalation.ErrNotFound):
		http.Error(w, escalation.ErrNotFound.Error(), http.StatusNotFound)
	case errors.Is(err, escalation.ErrExpired):
		http.Error(w, escalation.ErrExpired.Error(), http.StatusGone)
	case errors.Is(err, escalation.ErrUnauthorized):
		http.Error(w, escalation.ErrUnauthorized.Error(), http.StatusForbidden)
	case errors.Is(err, escalation.ErrTerminal):
		http.Error(w, escalation.ErrTerminal.Error(), http.StatusConflict)
	case errors.Is(err, escalation.ErrInvalidTransition):
		http.Error(w, escalation.ErrInvalidTransition.Error(), http.StatusBadRequest)
	default:
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}
