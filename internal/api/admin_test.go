package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ernie/play4096/internal/domain"
)

func TestAdminUsers(t *testing.T) {
	f := newFixture(t)
	admin := f.createUser("admin", "hunter22", func(u *domain.User) { u.Admin = true })
	bob := f.createUser("bob", "hunter22", nil)
	c := f.login("admin", "hunter22")

	resp := c.get("/api/admin/users")
	require.Equal(t, http.StatusOK, resp.status)
	assert.Contains(t, string(resp.body), `"username":"bob"`)
	assert.NotContains(t, string(resp.body), "argon2id")

	resp = c.do(http.MethodPatch, "/api/admin/users/"+bob.ID, map[string]string{"level": "pro"})
	require.Equal(t, http.StatusOK, resp.status, string(resp.body))
	assert.Equal(t, float64(domain.LevelPro), resp.json(t)["level"])
	assert.Equal(t, domain.LevelPro, f.user(bob.ID).Level)

	resp = c.do(http.MethodPatch, "/api/admin/users/"+bob.ID, map[string]bool{"admin": true})
	require.Equal(t, http.StatusOK, resp.status)
	assert.True(t, f.user(bob.ID).Admin)

	tests := []struct {
		name   string
		id     string
		body   interface{}
		status int
	}{
		{"empty", bob.ID, map[string]string{}, http.StatusBadRequest},
		{"bad level", bob.ID, map[string]string{"level": "gold"}, http.StatusBadRequest},
		{"self demotion", admin.ID, map[string]bool{"admin": false}, http.StatusBadRequest},
		{"unknown user", "missing", map[string]string{"level": "free"}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := c.do(http.MethodPatch, "/api/admin/users/"+tt.id, tt.body)
			assert.Equal(t, tt.status, resp.status)
		})
	}

	assert.Equal(t, http.StatusBadRequest, c.do(http.MethodDelete, "/api/admin/users/"+admin.ID, nil).status)
	assert.Equal(t, http.StatusNoContent, c.do(http.MethodDelete, "/api/admin/users/"+bob.ID, nil).status)
	assert.Equal(t, http.StatusNotFound, c.do(http.MethodDelete, "/api/admin/users/"+bob.ID, nil).status)
}

func TestDeletedUserSessionEnds(t *testing.T) {
	f := newFixture(t)
	f.createUser("admin", "hunter22", func(u *domain.User) { u.Admin = true })
	bob := f.createUser("bob", "hunter22", nil)
	admin := f.login("admin", "hunter22")
	c := f.login("bob", "hunter22")

	require.Equal(t, http.StatusNoContent, admin.do(http.MethodDelete, "/api/admin/users/"+bob.ID, nil).status)
	assert.Equal(t, false, c.get("/api/auth/me").json(t)["authenticated"])
}
