package models

import (
	"time"

	"github.com/google/uuid"
)

// AttemptKind identifies the authentication flow an attempt belongs to
type AttemptKind string

const (
	AttemptKindLogin         AttemptKind = "login"
	AttemptKindRegister      AttemptKind = "register"
	AttemptKindPasswordReset AttemptKind = "password_reset"
)

// Valid reports whether k is one of the known attempt kinds
func (k AttemptKind) Valid() bool {
	switch k {
	case AttemptKindLogin, AttemptKindRegister, AttemptKindPasswordReset:
		return true
	}
	return false
}

// ParseAttemptKind converts a raw string into an AttemptKind
func ParseAttemptKind(raw string) (AttemptKind, error) {
	k := AttemptKind(raw)
	if !k.Valid() {
		return "", ErrInvalidAttemptKind
	}
	return k, nil
}

// AttemptContext carries optional network metadata about the client.
// Both fields may be empty; an empty context is a low-information signal, not an error.
type AttemptContext struct {
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

// Attempt is a single authentication attempt stored in the ledger
type Attempt struct {
	ID          uuid.UUID   `db:"id" json:"id"`
	Identity    string      `db:"identity" json:"identity"`
	Kind        AttemptKind `db:"kind" json:"kind"`
	Success     bool        `db:"success" json:"success"`
	IPAddress   string      `db:"ip_address" json:"ip_address,omitempty"`
	UserAgent   string      `db:"user_agent" json:"user_agent,omitempty"`
	AttemptTime time.Time   `db:"attempt_time" json:"attempt_time"`
}

// NewAttempt builds an attempt record stamped at the given instant
func NewAttempt(identity string, success bool, kind AttemptKind, actx AttemptContext, at time.Time) *Attempt {
	return &Attempt{
		ID:          uuid.New(),
		Identity:    identity,
		Kind:        kind,
		Success:     success,
		IPAddress:   actx.IPAddress,
		UserAgent:   actx.UserAgent,
		AttemptTime: at,
	}
}

// Context returns the network metadata recorded with the attempt
func (a *Attempt) Context() AttemptContext {
	return AttemptContext{IPAddress: a.IPAddress, UserAgent: a.UserAgent}
}
