// Package common defines shared constants and sentinel errors used across
// the device and facility nodes. Callers should use errors.Is to match these
// values.
package common

import "errors"

var (
	// Record store errors.
	ErrNotFound  = errors.New("not found")
	ErrConflict  = errors.New("version conflict")
	ErrStoreFull = errors.New("store full")

	// ErrInvalidRecord rejects malformed local edits: missing id, unknown
	// type or an attempt to change the type of an existing record.
	ErrInvalidRecord = errors.New("invalid record")

	// Change log errors.
	ErrCompacted = errors.New("change log compacted")

	// Session and transport errors.
	ErrUnreachable     = errors.New("target unreachable")
	ErrSessionFailed   = errors.New("session failed")
	ErrCursorRegressed = errors.New("cursor regressed")
	ErrProtocol        = errors.New("protocol mismatch")
	ErrBusy            = errors.New("session already active")
	ErrCancelled       = errors.New("session cancelled")

	// Auth errors.
	ErrUnauthorized = errors.New("unauthorized")
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)
