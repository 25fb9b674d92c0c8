package auth

import "time"

type Principal struct {
	ID           string
	Email        string
	Username     string
	PasswordHash string
	DisplayName  string
	Session      Session
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Session is the per-principal rotation state. At most one refresh token is
// valid at a time: the one whose hash matches RefreshTokenHash at the current
// TokenVersion within TokenFamilyID. RevokedAt non-nil kills the whole family.
type Session struct {
	TokenFamilyID    string
	TokenVersion     int
	RefreshTokenHash string
	RevokedAt        *time.Time
}

type Tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

type Profile struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
}

func (p Principal) PublicProfile() Profile {
	return Profile{
		ID:          p.ID,
		Email:       p.Email,
		Username:    p.Username,
		DisplayName: p.DisplayName,
	}
}

type LoginAttempt struct {
	Email          string
	FailedAttempts int
	LockedUntil    *time.Time
}
