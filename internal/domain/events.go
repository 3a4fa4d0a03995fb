package domain

import "time"

// Event types for the live feed
const (
	EventScoreUpdate  = "score_update"
	EventUserUpgraded = "user_upgraded"
	EventLeaderboard  = "leaderboard"
)

// Event represents a real-time notification for WebSocket broadcast
type Event struct {
	Type      string      `json:"event"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// ScoreUpdateEvent is sent when a user sets a new best score
type ScoreUpdateEvent struct {
	UserID    string `json:"user_id"`
	Username  string `json:"username"`
	BestScore int64  `json:"best_score"`
	Pro       bool   `json:"pro"`
}

// UserUpgradedEvent is sent when a checkout completes
type UserUpgradedEvent struct {
	UserID   string `json:"user_id"`
	Username string `json:"username"`
}

// LeaderboardEvent carries a refreshed leaderboard
type LeaderboardEvent struct {
	Entries []LeaderboardEntry `json:"entries"`
}
