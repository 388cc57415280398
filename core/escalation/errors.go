package escalation

import "errors"

// Business-rule failures surface as typed sentinels so callers map each case
// explicitly instead of catching everything.
var (
	// ErrNotFound: no issue matches the token or id.
	ErrNotFound = errors.New("escalation.notFound")
	// ErrExpired: the capability token is past its expiry.
	ErrExpired = errors.New("escalation.tokenExpired")
	// ErrTerminal: the issue is resolved or exhausted; no further mutation.
	ErrTerminal = errors.New("escalation.terminal")
	// ErrUnauthorized: the email is not a configured contact, or the contact
	// is not at the authoritative level for the requested action.
	ErrUnauthorized = errors.New("escalation.unauthorized")
	// ErrInvalidTransition: the requested status change is not a legal move.
	ErrInvalidTransition = errors.New("escalation.invalidTransition")
)
