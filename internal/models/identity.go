package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is an authenticated principal as seen by the auth gateway.
type Identity struct {
	ID           string    `db:"id" json:"id"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	// SessionID is set for identities recovered from an access token.
	SessionID string `db:"-" json:"session_id,omitempty"`
}

// RefreshToken is a persisted refresh token. Rotations keep the session id.
type RefreshToken struct {
	ID         string     `db:"id" json:"id"`
	IdentityID string     `db:"identity_id" json:"identity_id"`
	SessionID  string     `db:"session_id" json:"session_id"`
	Token      string     `db:"token" json:"-"`
	ExpiresAt  time.Time  `db:"expires_at" json:"expires_at"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	Revoked    bool       `db:"revoked" json:"revoked"`
	RevokedAt  *time.Time `db:"revoked_at" json:"revoked_at,omitempty"`
}

// JWTClaims is the access token payload.
type JWTClaims struct {
	IdentityID string `json:"identity_id"`
	Email      string `json:"email"`
	SessionID  string `json:"sid"`
	jwt.RegisteredClaims
}

// AuthEventType enumerates auth state changes pushed by the gateway.
type AuthEventType string

const (
	AuthEventSignedIn       AuthEventType = "SIGNED_IN"
	AuthEventSignedOut      AuthEventType = "SIGNED_OUT"
	AuthEventTokenRefreshed AuthEventType = "TOKEN_REFRESHED"
)

// AuthEvent is one auth state change. IdentityID may be empty for a global sign-out.
type AuthEvent struct {
	Type       AuthEventType
	IdentityID string
	Email      string
	SessionID  string
	At         time.Time
}
