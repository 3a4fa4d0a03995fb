package api

import (
	"net/http"
	"strconv"

	"github.com/ernie/play4096/internal/domain"
)

// parseLimit parses and validates a limit parameter with default and max values
func parseLimit(r *http.Request, defaultLimit, maxLimit int) int {
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			return min(parsed, maxLimit)
		}
	}
	return defaultLimit
}

// parseLevel accepts "free", "pro" or the numeric level
func parseLevel(s string) (domain.Level, bool) {
	switch s {
	case "free", "0":
		return domain.LevelFree, true
	case "pro", "1":
		return domain.LevelPro, true
	}
	return 0, false
}
