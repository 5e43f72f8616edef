package models

import "github.com/golang-jwt/jwt/v5"

// SessionClaims are the claims carried by the identity provider's session
// tokens. Subject holds the identity provider user ID.
type SessionClaims struct {
	Email        string `json:"email"`
	FullName     string `json:"full_name,omitempty"`
	Role         string `json:"role,omitempty"`
	Organization string `json:"organization,omitempty"`
	jwt.RegisteredClaims
}
