package domain

import "errors"

// Sentinel errors for domain-level error discrimination.
// Services wrap these so handlers can map to HTTP status codes without leaking infrastructure details.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrBadRequest   = errors.New("bad request")

	// ErrAccessDenied means the backing store rejected the caller's credentials or
	// table permissions. It is a configuration problem and is never retried.
	ErrAccessDenied = errors.New("store access denied")
	// ErrUnavailable means the backing store could not be reached after the
	// transport exhausted its retries.
	ErrUnavailable = errors.New("store unavailable")
	// ErrChallengeFailed is raised when step-up re-authentication is rejected.
	ErrChallengeFailed = errors.New("access denied")
)
