package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ernie/play4096/internal/domain"
)

func TestHashPassword(t *testing.T) {
	hash, err := HashPassword("correct horse")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(hash, "$argon2id$v=19$m=19456,t=2,p=1$"))
	assert.True(t, CheckPassword("correct horse", hash))
	assert.False(t, CheckPassword("wrong horse", hash))

	other, err := HashPassword("correct horse")
	require.NoError(t, err)
	assert.NotEqual(t, hash, other, "salt should differ")
}

func TestCheckPasswordMalformedHash(t *testing.T) {
	for _, hash := range []string{
		"",
		"plain",
		"$2a$10$abcdefghijklmnopqrstuv",
		"$argon2id$v=19$m=19456,t=2,p=1$!!!$abc",
		"$argon2id$v=18$m=19456,t=2,p=1$c2FsdA$a2V5",
		"$argon2id$v=19$m=0,t=2,p=1$c2FsdA$a2V5",
	} {
		assert.False(t, CheckPassword("x", hash), hash)
	}
}

func TestGenerateCodes(t *testing.T) {
	id := GenerateUserID()
	assert.Len(t, id, 24)
	assert.Equal(t, strings.ToLower(id), id)

	token := GenerateSessionToken()
	assert.Len(t, token, 32)
	assert.NotEqual(t, token, GenerateSessionToken())

	otp := GenerateOTP()
	assert.Len(t, otp, 8)
	assert.Equal(t, strings.ToUpper(otp), otp)

	hash := HashToken("abc")
	assert.Equal(t, "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad", hash)
}

func TestConstantTimeEqual(t *testing.T) {
	assert.True(t, ConstantTimeEqual("ABCD2345", "ABCD2345"))
	assert.False(t, ConstantTimeEqual("ABCD2345", "ABCD2346"))
	assert.False(t, ConstantTimeEqual("ABC", "ABCD"))
}

func TestTokenRoundTrip(t *testing.T) {
	svc := NewService("secret", time.Hour)
	user := &domain.User{ID: "u1", Username: "alice", Admin: true, Level: domain.LevelPro}

	token, err := svc.GenerateToken(user)
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "alice", claims.Username)
	assert.True(t, claims.IsAdmin)
	assert.Equal(t, domain.LevelPro, claims.Level)
}

func TestValidateTokenRejects(t *testing.T) {
	svc := NewService("secret", time.Hour)
	user := &domain.User{ID: "u1", Username: "alice"}

	token, err := svc.GenerateToken(user)
	require.NoError(t, err)

	_, err = NewService("other", time.Hour).ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = svc.ValidateToken("not.a.token")
	assert.ErrorIs(t, err, ErrInvalidToken)

	svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = svc.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestCheckUsername(t *testing.T) {
	assert.Empty(t, CheckUsername("alice"))
	assert.Empty(t, CheckUsername("a.b-c_d@e"))
	assert.NotEmpty(t, CheckUsername("ab"))
	assert.NotEmpty(t, CheckUsername(strings.Repeat("a", 32)))
	assert.NotEmpty(t, CheckUsername("has space"))
	assert.NotEmpty(t, CheckUsername(" alice"))
	assert.True(t, ValidUsername("bob"))
	assert.False(t, ValidUsername("bob!"))
}

func TestPasswordRules(t *testing.T) {
	assert.False(t, ValidPassword("12345"))
	assert.True(t, ValidPassword("123456"))
	assert.False(t, ValidPassword(strings.Repeat("x", 256)))

	assert.False(t, StrongPassword("alice", "short"))
	assert.False(t, StrongPassword("alice123", "alice123"))
	assert.True(t, StrongPassword("alice", "a much longer one"))
}

func TestValidEmail(t *testing.T) {
	assert.True(t, ValidEmail("a@b.co"))
	assert.False(t, ValidEmail("a@b"))
	assert.False(t, ValidEmail("nobody"))
	assert.False(t, ValidEmail(strings.Repeat("a", 250)+"@b.com"))
}
