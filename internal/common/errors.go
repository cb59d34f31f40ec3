// Package common defines shared constants and sentinel errors used across
// the fieldsync engine. Callers should use errors.Is to match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// ErrStorageUnavailable means the local durable store failed to
	// initialize. Offline capture cannot work without it, so it is surfaced
	// once to every caller instead of being retried silently.
	ErrStorageUnavailable = errors.New("local storage unavailable")

	// Network-level errors.
	ErrUnavailable    = errors.New("server unavailable")
	ErrServerRejected = errors.New("request rejected by server")

	// ErrVersionConflict marks a server-detected divergence. It is not a
	// failure: the operation is resolved server-wins and recorded.
	ErrVersionConflict = errors.New("version conflict")

	// ErrRetriesExhausted is the terminal per-operation state after the
	// retry ceiling. Resuming requires an explicit operator reset.
	ErrRetriesExhausted = errors.New("retries exhausted")

	// Auth errors (token lifecycle).
	ErrorUnauthorized = errors.New("unauthorized")
	ErrTokenExpired   = errors.New("token expired")
)
