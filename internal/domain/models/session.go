package models

import (
	"time"

	"github.com/panashe-dev/kombi-go/internal/domain/types"
)

// User is the cached identity snapshot. The Ledger may return more fields;
// privacy-sensitive ones (email and the like) are scrubbed before they reach
// this struct, so they intentionally have no home here.
type User struct {
	ID     string     `json:"id"`
	Name   string     `json:"name"`
	Phone  string     `json:"phone,omitempty"`
	Role   types.Role `json:"role"`
	Rating float64    `json:"rating,omitempty"`
	City   string     `json:"city,omitempty"`
}

// Session is the persisted credential state. A token is never stored without
// its paired expiry; absence of a token means unauthenticated.
type Session struct {
	Token       string    `json:"token"`
	TokenExpiry time.Time `json:"tokenExpiry"`
	User        *User     `json:"user,omitempty"`
}

// Valid reports whether the session holds a non-expired credential.
func (s *Session) Valid(now time.Time) bool {
	return s != nil && s.Token != "" && now.Before(s.TokenExpiry)
}

// Credentials for login.
type Credentials struct {
	Phone    string `json:"phone"`
	Password string `json:"password"`
}

// SignupRequest for account creation.
type SignupRequest struct {
	Name     string     `json:"name"`
	Phone    string     `json:"phone"`
	Password string     `json:"password"`
	Role     types.Role `json:"role"`
	City     string     `json:"city,omitempty"`
}

// ProfileUpdate mutates the identity on the Ledger.
type ProfileUpdate struct {
	Name string `json:"name,omitempty"`
	City string `json:"city,omitempty"`
}
