package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrNotFound     = errors.New("resource not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrBadRequest   = errors.New("bad request")

	// Security core errors
	ErrInvalidAttemptKind = errors.New("invalid attempt kind")
	ErrInvalidIdentity    = errors.New("identity must not be empty")
	ErrNotificationFailed = errors.New("suspicious activity notification failed")
	ErrStoreUnavailable   = errors.New("attempt store unavailable")
)
