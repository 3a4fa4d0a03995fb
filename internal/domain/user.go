package domain

import "time"

// Level is a user's account tier
type Level int

const (
	LevelFree Level = 0
	LevelPro  Level = 1
)

func (l Level) String() string {
	if l == LevelPro {
		return "pro"
	}
	return "free"
}

// User is a registered account
type User struct {
	ID            string  `json:"id"`
	Username      string  `json:"username"`
	Email         *string `json:"email,omitempty"`
	Admin         bool    `json:"admin"`
	Level         Level   `json:"level"`
	PasswordHash  string  `json:"-"`
	EmailVerified bool    `json:"email_verified"`
}

// IsPro reports whether the user has upgraded
func (u *User) IsPro() bool {
	return u.Level == LevelPro
}

// HasEmail reports whether an email address is on file
func (u *User) HasEmail() bool {
	return u.Email != nil && *u.Email != ""
}

// Profile holds the user's public details and best score
type Profile struct {
	ID          string  `json:"id"`
	UserID      string  `json:"user_id"`
	DisplayName *string `json:"display_name,omitempty"`
	AvatarURL   *string `json:"avatar_url,omitempty"`
	BestScore   *int64  `json:"best_score,omitempty"`
}

// Session is a signed-in browser session. ID is the SHA-256 of the
// cookie token, never the token itself.
type Session struct {
	ID        string    `json:"-"`
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// EmailVerificationRequest is a pending emailed code for confirming an
// address
type EmailVerificationRequest struct {
	ID        string
	UserID    string
	Email     string
	Code      string
	ExpiresAt time.Time
}

// PasswordResetSession tracks a forgot-password flow. ID is the SHA-256
// of the cookie token.
type PasswordResetSession struct {
	ID            string
	UserID        string
	Email         string
	Code          string
	EmailVerified bool
	ExpiresAt     time.Time
}

// LeaderboardEntry is one row of the all-time leaderboard
type LeaderboardEntry struct {
	Rank        int     `json:"rank"`
	UserID      string  `json:"user_id"`
	Username    string  `json:"username"`
	DisplayName *string `json:"display_name,omitempty"`
	BestScore   int64   `json:"best_score"`
}
