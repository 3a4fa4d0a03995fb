package api

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ernie/play4096/internal/domain"
	"github.com/ernie/play4096/internal/mail"
)

func verifiedEmail(email string) func(*domain.User) {
	return func(u *domain.User) {
		u.Email = &email
		u.EmailVerified = true
	}
}

func TestUpdateDetails(t *testing.T) {
	f := newFixture(t)
	alice := f.createUser("alice", "hunter22", verifiedEmail("alice@example.com"))
	f.createUser("bob", "hunter22", verifiedEmail("bob@example.com"))
	c := f.login("alice", "hunter22")

	resp := c.post("/api/account/details", map[string]string{"email": "not-an-email"})
	assert.Equal(t, http.StatusBadRequest, resp.status)
	assert.Equal(t, "Invalid email", resp.errorMessage(t))

	resp = c.post("/api/account/details", map[string]string{"email": "bob@example.com"})
	assert.Equal(t, http.StatusBadRequest, resp.status)
	assert.Equal(t, "Email is already used", resp.errorMessage(t))

	resp = c.post("/api/account/details", map[string]string{"display_name": strings.Repeat("x", 65)})
	assert.Equal(t, http.StatusBadRequest, resp.status)

	// keeping the same address keeps it verified
	resp = c.post("/api/account/details", map[string]string{"email": "alice@example.com", "display_name": "Alice"})
	require.Equal(t, http.StatusOK, resp.status)
	assert.True(t, f.user(alice.ID).EmailVerified)

	resp = c.post("/api/account/details", map[string]string{"email": "alice@new.example", "display_name": "Alice"})
	require.Equal(t, http.StatusOK, resp.status)
	u := f.user(alice.ID)
	assert.Equal(t, "alice@new.example", *u.Email)
	assert.False(t, u.EmailVerified)

	account := c.get("/api/account").json(t)
	profile := account["profile"].(map[string]interface{})
	assert.Equal(t, "Alice", profile["display_name"])
}

func TestChangePassword(t *testing.T) {
	f := newFixture(t)
	f.createUser("alice", "hunter22", nil)
	c := f.login("alice", "hunter22")

	resp := c.post("/api/account/password", map[string]string{"current_password": "wrong-pass", "new_password": "newpass1"})
	assert.Equal(t, http.StatusUnauthorized, resp.status)
	assert.Equal(t, "Invalid current password", resp.errorMessage(t))

	resp = c.post("/api/account/password", map[string]string{"current_password": "hunter22", "new_password": "abc"})
	assert.Equal(t, http.StatusBadRequest, resp.status)

	resp = c.post("/api/account/password", map[string]string{"current_password": "hunter22", "new_password": "newpass1"})
	require.Equal(t, http.StatusOK, resp.status)

	f.login("alice", "newpass1")
}

func TestAccountRequiresAuth(t *testing.T) {
	f := newFixture(t)
	c := f.client()
	for _, path := range []string{"/api/account", "/api/verify-email", "/api/checkout", "/api/game/history"} {
		resp := c.get(path)
		assert.Equal(t, http.StatusUnauthorized, resp.status, path)
		assert.Equal(t, "Not authenticated", resp.errorMessage(t), path)
	}
	assert.Equal(t, http.StatusUnauthorized, c.post("/api/verify-email", map[string]string{"code": "X"}).status)
	assert.Equal(t, http.StatusUnauthorized, c.post("/api/verify-email/resend", nil).status)
}

func TestVerifyEmail(t *testing.T) {
	f := newFixture(t)
	email := "alice@example.com"
	alice := f.createUser("alice", "hunter22", func(u *domain.User) { u.Email = &email })
	c := f.login("alice", "hunter22")

	body := c.get("/api/verify-email").json(t)
	assert.Equal(t, email, body["email"])
	assert.Equal(t, false, body["already_verified"])
	assert.Equal(t, true, body["expired"])

	resp := c.post("/api/verify-email/resend", nil)
	require.Equal(t, http.StatusOK, resp.status)
	assert.Equal(t, "A new code was sent to your inbox.", resp.json(t)["message"])
	assert.NotEmpty(t, c.cookie(verificationCookie))
	code := f.lastCode(mail.KindVerification)
	assert.Len(t, code, 8)

	assert.Equal(t, false, c.get("/api/verify-email").json(t)["expired"])

	resp = c.post("/api/verify-email", map[string]string{"code": ""})
	assert.Equal(t, http.StatusBadRequest, resp.status)
	assert.Equal(t, "Enter your code", resp.errorMessage(t))

	resp = c.post("/api/verify-email", map[string]string{"code": "WRONGCOD"})
	assert.Equal(t, http.StatusBadRequest, resp.status)
	assert.Equal(t, "Incorrect code.", resp.errorMessage(t))

	resp = c.post("/api/verify-email", map[string]string{"code": code})
	require.Equal(t, http.StatusOK, resp.status, string(resp.body))
	assert.Equal(t, true, resp.json(t)["success"])
	assert.Empty(t, c.cookie(verificationCookie))
	assert.True(t, f.user(alice.ID).EmailVerified)

	// nothing left to verify
	resp = c.post("/api/verify-email/resend", nil)
	assert.Equal(t, http.StatusForbidden, resp.status)
}

func TestVerifyEmailExpiredCodeResends(t *testing.T) {
	f := newFixture(t)
	email := "alice@example.com"
	f.createUser("alice", "hunter22", func(u *domain.User) { u.Email = &email })
	c := f.login("alice", "hunter22")

	require.Equal(t, http.StatusOK, c.post("/api/verify-email/resend", nil).status)
	first := c.cookie(verificationCookie)
	code := f.lastCode(mail.KindVerification)

	f.clock.Advance(codeLifetime + time.Minute)

	resp := c.post("/api/verify-email", map[string]string{"code": code})
	require.Equal(t, http.StatusOK, resp.status)
	body := resp.json(t)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "The verification code was expired. We sent another code to your inbox.", body["message"])
	assert.Len(t, f.mailer.Sent(), 2)
	assert.NotEqual(t, first, c.cookie(verificationCookie))
}

func TestVerifyEmailWithoutAddress(t *testing.T) {
	f := newFixture(t)
	f.createUser("alice", "hunter22", nil)
	c := f.login("alice", "hunter22")

	resp := c.get("/api/verify-email")
	assert.Equal(t, http.StatusBadRequest, resp.status)
	assert.Equal(t, "User email not found", resp.errorMessage(t))

	resp = c.post("/api/verify-email/resend", nil)
	assert.Equal(t, http.StatusBadRequest, resp.status)
	assert.Equal(t, "User email not found", resp.errorMessage(t))
}

func TestResendVerificationRateLimited(t *testing.T) {
	f := newFixture(t)
	email := "alice@example.com"
	f.createUser("alice", "hunter22", func(u *domain.User) { u.Email = &email })
	c := f.login("alice", "hunter22")

	for i := 0; i < 3; i++ {
		require.Equal(t, http.StatusOK, c.post("/api/verify-email/resend", nil).status)
	}
	assert.Equal(t, http.StatusTooManyRequests, c.post("/api/verify-email/resend", nil).status)
	assert.Len(t, f.mailer.Sent(), 3)
}

func TestForgotPasswordValidation(t *testing.T) {
	f := newFixture(t)
	email := "carol@example.com"
	f.createUser("carol", "hunter22", func(u *domain.User) { u.Email = &email })
	c := f.client()

	tests := []struct {
		email string
		want  string
	}{
		{"nope", "Invalid email"},
		{"nobody@example.com", "An account with this email address does not exist"},
		{"carol@example.com", "Your email address is not verified. Please contact support."},
	}
	for _, tt := range tests {
		resp := c.post("/api/forgot-password", map[string]string{"email": tt.email})
		assert.Equal(t, http.StatusBadRequest, resp.status, tt.email)
		assert.Equal(t, tt.want, resp.errorMessage(t), tt.email)
	}
	assert.Empty(t, f.mailer.Sent())
	assert.Empty(t, c.cookie(resetCookie))
}

func TestPasswordReset(t *testing.T) {
	f := newFixture(t)
	alice := f.createUser("alice", "hunter22", verifiedEmail("alice@example.com"))
	other := f.login("alice", "hunter22")
	c := f.client()

	assert.Equal(t, http.StatusUnauthorized, c.get("/api/reset-password").status)

	resp := c.post("/api/forgot-password", map[string]string{"email": "alice@example.com"})
	require.Equal(t, http.StatusOK, resp.status, string(resp.body))
	assert.Equal(t, "/reset-password/verify-email", resp.json(t)["next"])
	require.NotEmpty(t, c.cookie(resetCookie))
	code := f.lastCode(mail.KindPasswordReset)

	body := c.get("/api/reset-password").json(t)
	assert.Equal(t, "alice@example.com", body["email"])
	assert.Equal(t, false, body["email_verified"])

	// the code must be confirmed first
	resp = c.post("/api/reset-password", map[string]string{"password": "brand-new-pass"})
	assert.Equal(t, http.StatusForbidden, resp.status)

	resp = c.post("/api/reset-password/verify-email", map[string]string{"code": ""})
	assert.Equal(t, "Please enter your code", resp.errorMessage(t))
	resp = c.post("/api/reset-password/verify-email", map[string]string{"code": "WRONGCOD"})
	assert.Equal(t, http.StatusBadRequest, resp.status)
	assert.Equal(t, "Incorrect code", resp.errorMessage(t))

	resp = c.post("/api/reset-password/verify-email", map[string]string{"code": code})
	require.Equal(t, http.StatusOK, resp.status, string(resp.body))
	assert.Equal(t, "/reset-password", resp.json(t)["next"])
	assert.Equal(t, http.StatusForbidden, c.post("/api/reset-password/verify-email", map[string]string{"code": code}).status)

	for _, weak := range []string{"short", "seven77"} {
		resp = c.post("/api/reset-password", map[string]string{"password": weak})
		assert.Equal(t, http.StatusBadRequest, resp.status, weak)
	}
	resp = c.post("/api/reset-password", map[string]string{"password": "alice123"})
	assert.Equal(t, http.StatusOK, resp.status)

	// the reset signed this client in and everyone else out
	assert.Empty(t, c.cookie(resetCookie))
	assert.Equal(t, true, c.get("/api/auth/me").json(t)["authenticated"])
	assert.Equal(t, false, other.get("/api/auth/me").json(t)["authenticated"])
	assert.True(t, f.user(alice.ID).EmailVerified)

	f.login("alice", "alice123")
}

func TestPasswordResetExpires(t *testing.T) {
	f := newFixture(t)
	f.createUser("alice", "hunter22", verifiedEmail("alice@example.com"))
	c := f.client()

	require.Equal(t, http.StatusOK, c.post("/api/forgot-password", map[string]string{"email": "alice@example.com"}).status)
	f.clock.Advance(codeLifetime)

	assert.Equal(t, http.StatusUnauthorized, c.get("/api/reset-password").status)
	assert.Empty(t, c.cookie(resetCookie))
}

func TestForgotPasswordRateLimitedPerUser(t *testing.T) {
	f := newFixture(t)
	f.createUser("alice", "hunter22", verifiedEmail("alice@example.com"))

	for i := 0; i < 3; i++ {
		c := f.client()
		c.header.Set("X-Forwarded-For", "192.0.2."+string(rune('1'+i)))
		require.Equal(t, http.StatusOK, c.post("/api/forgot-password", map[string]string{"email": "alice@example.com"}).status)
	}

	c := f.client()
	c.header.Set("X-Forwarded-For", "192.0.2.9")
	resp := c.post("/api/forgot-password", map[string]string{"email": "alice@example.com"})
	assert.Equal(t, http.StatusTooManyRequests, resp.status)
}
