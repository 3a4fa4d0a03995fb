package auth

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9@._-]+$`)
	emailPattern    = regexp.MustCompile(`^.+@.+\..+$`)
)

// CheckUsername returns the problems with a proposed username, if any
func CheckUsername(username string) []string {
	var problems []string
	if n := utf8.RuneCountInString(username); n < 3 || n > 31 {
		problems = append(problems, "Username must be between 3 and 31 characters")
	}
	if !usernamePattern.MatchString(username) {
		problems = append(problems, "Username must be alphanumeric")
	}
	if strings.TrimSpace(username) != username {
		problems = append(problems, "Username must not contain leading or trailing whitespace")
	}
	return problems
}

// ValidUsername reports whether a username is acceptable
func ValidUsername(username string) bool {
	return len(CheckUsername(username)) == 0
}

// ValidPassword checks the length rule applied at registration and login
func ValidPassword(password string) bool {
	n := utf8.RuneCountInString(password)
	return n >= 6 && n <= 255
}

// StrongPassword checks a new password chosen during a reset
func StrongPassword(username, password string) bool {
	n := utf8.RuneCountInString(password)
	if n < 8 || n > 255 {
		return false
	}
	return !strings.EqualFold(password, username)
}

// ValidEmail checks the shape and length of an email address
func ValidEmail(email string) bool {
	return len(email) < 256 && emailPattern.MatchString(email)
}
