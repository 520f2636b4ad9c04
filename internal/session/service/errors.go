package service

import "errors"

// Session error taxonomy. Backend errors are classified into these at the
// service boundary; raw store or cache errors never reach callers. The HTTP
// layer collapses everything except ErrUnavailable into one generic
// "invalid session" response so callers cannot probe which ids exist.
var (
	ErrNotFound     = errors.New("session_not_found")
	ErrExpired      = errors.New("session_expired")
	ErrRevoked      = errors.New("session_revoked")
	ErrInvalidToken = errors.New("invalid_refresh_token")
	ErrUnavailable  = errors.New("session_store_unavailable")
	ErrConflict     = errors.New("concurrent_refresh_conflict")
)
