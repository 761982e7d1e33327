package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// Roles recognised on operator tokens
const (
	RoleAdmin   = "admin"
	RoleService = "service"
)

// TokenClaims are the claims carried by operator bearer tokens
type TokenClaims struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}
