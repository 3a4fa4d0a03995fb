package api

import (
	"net/http"
	"time"
)

// Cookie names
const (
	sessionCookie      = "auth-session"
	verificationCookie = "email_verification"
	resetCookie        = "password_reset_session"
)

// setCookie writes an HttpOnly cookie that expires with its record
func (r *Router) setCookie(w http.ResponseWriter, name, value string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   r.cfg.IsProduction(),
		SameSite: http.SameSiteLaxMode,
	})
}

// deleteCookie expires a cookie immediately
func (r *Router) deleteCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   r.cfg.IsProduction(),
		SameSite: http.SameSiteLaxMode,
	})
}

func readCookie(req *http.Request, name string) string {
	c, err := req.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}
