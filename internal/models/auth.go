package models

import "time"

// LoginRequest holds credentials for a password sign-in.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// RefreshTokenRequest exchanges a refresh token for a new token pair.
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// LogoutRequest revokes the session behind a refresh token.
type LogoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// AuthSession is what the gateway returns after a successful sign-in or refresh.
type AuthSession struct {
	Identity     Identity  `json:"identity"`
	SessionID    string    `json:"session_id"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresIn    int64     `json:"expires_in"`
	IssuedAt     time.Time `json:"issued_at"`
}

// LoginResponse is returned by the console login flow.
type LoginResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresIn    int64     `json:"expires_in"`
	IssuedAt     time.Time `json:"issued_at"`
	Profile      Profile   `json:"profile"`
	RedirectPath string    `json:"redirect_path"`
}

// Session is the resolved "who is logged in" state for one request.
type Session struct {
	Identity  *Identity `json:"identity"`
	Profile   *Profile  `json:"profile"`
	Loading   bool      `json:"loading"`
	TimedOut  bool      `json:"timed_out,omitempty"`
	Anonymous bool      `json:"anonymous"`
}
