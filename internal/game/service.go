// Package game persists games and best scores and runs server-side play.
package game

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ernie/play4096/internal/board"
	"github.com/ernie/play4096/internal/domain"
	"github.com/ernie/play4096/internal/events"
	"github.com/ernie/play4096/internal/metrics"
)

var (
	ErrGameNotFound = errors.New("game not found")
	ErrGameComplete = errors.New("game is already complete")
	ErrInvalidScore = errors.New("score must not be negative")
)

// Store is the persistence the service needs
type Store interface {
	CreateGame(ctx context.Context, g *domain.Game) error
	GetGame(ctx context.Context, id string) (*domain.Game, error)
	UpdateGame(ctx context.Context, g *domain.Game) error
	GetCurrentGame(ctx context.Context, playerID string) (*domain.Game, error)
	ListUserGames(ctx context.Context, playerID string, limit int) ([]domain.Game, error)
	UpdateBestScore(ctx context.Context, userID string, score int64) (bool, error)
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
	GetLeaderboard(ctx context.Context, limit int) ([]domain.LeaderboardEntry, error)
}

// GameSave is a client-reported game state
type GameSave struct {
	ID       string      `json:"id,omitempty"`
	Score    int64       `json:"score"`
	Won      bool        `json:"won"`
	Complete bool        `json:"complete"`
	Board    board.Board `json:"board"`
}

// MoveResult is the outcome of a server-side move
type MoveResult struct {
	Game   *domain.Game  `json:"game"`
	Events []board.Event `json:"events"`
	Moved  bool          `json:"moved"`
}

// Service handles game persistence
type Service struct {
	store   Store
	opts    board.Options
	events  events.Publisher
	metrics *metrics.Metrics
	log     *logrus.Entry

	now     func() time.Time
	newRand func() *rand.Rand

	// serialises read-modify-write of server-side games
	moveMu sync.Mutex
}

// NewService creates a game service. opts.Rand is ignored; each game gets
// its own source.
func NewService(store Store, opts board.Options, pub events.Publisher, m *metrics.Metrics, log *logrus.Entry) *Service {
	if pub == nil {
		pub = events.Nop{}
	}
	opts.Rand = nil
	return &Service{
		store:   store,
		opts:    opts,
		events:  pub,
		metrics: m,
		log:     log.WithField("component", "game"),
		now:     time.Now,
		newRand: func() *rand.Rand { return nil },
	}
}

func (s *Service) options() board.Options {
	o := s.opts
	o.Rand = s.newRand()
	return o
}

func (s *Service) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Second)
}

func outcome(g *domain.Game) string {
	switch {
	case g.Won:
		return "won"
	case g.Complete:
		return "lost"
	}
	return "in_progress"
}

// SaveGame creates or updates a game for the user and returns its id.
// Updating a game the user does not own reports ErrGameNotFound.
func (s *Service) SaveGame(ctx context.Context, userID string, save GameSave) (string, error) {
	if err := save.Board.Validate(); err != nil {
		return "", err
	}
	if save.Score < 0 {
		return "", ErrInvalidScore
	}
	now := s.timestamp()

	if save.ID != "" {
		existing, err := s.ownedGame(ctx, userID, save.ID)
		if err != nil {
			return "", err
		}
		if !existing.Won && save.Won {
			existing.CompletedOn = &now
		}
		existing.Score = save.Score
		existing.Won = save.Won
		existing.Complete = save.Complete
		existing.Board = save.Board
		existing.UpdatedOn = now
		if err := s.store.UpdateGame(ctx, existing); err != nil {
			return "", fmt.Errorf("updating game: %w", err)
		}
		s.metrics.GameSaved(outcome(existing))
		return existing.ID, nil
	}

	g := &domain.Game{
		ID:        uuid.NewString(),
		PlayerID:  userID,
		CreatedOn: now,
		UpdatedOn: now,
		Score:     save.Score,
		Won:       save.Won,
		Complete:  save.Complete,
		Board:     save.Board,
	}
	if g.Won {
		g.CompletedOn = &now
	}
	if err := s.store.CreateGame(ctx, g); err != nil {
		return "", fmt.Errorf("creating game: %w", err)
	}
	s.metrics.GameSaved(outcome(g))
	return g.ID, nil
}

func (s *Service) ownedGame(ctx context.Context, userID, id string) (*domain.Game, error) {
	g, err := s.store.GetGame(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, ErrGameNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading game: %w", err)
	}
	if g.PlayerID != userID {
		return nil, ErrGameNotFound
	}
	return g, nil
}

// SaveScore raises the user's best score when score beats it. Reports
// whether it changed.
func (s *Service) SaveScore(ctx context.Context, userID string, score int64) (bool, error) {
	if score < 0 {
		return false, ErrInvalidScore
	}
	changed, err := s.store.UpdateBestScore(ctx, userID, score)
	if err != nil {
		return false, fmt.Errorf("updating best score: %w", err)
	}
	if changed {
		s.announceScore(ctx, userID, score)
	}
	return changed, nil
}

// announceScore publishes the new best score and, for PRO users, the
// refreshed leaderboard. Failures are logged only.
func (s *Service) announceScore(ctx context.Context, userID string, score int64) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		s.log.WithError(err).WithField("user_id", userID).Warn("Loading user for score event")
		return
	}

	s.publish(ctx, domain.Event{
		Type: domain.EventScoreUpdate,
		Data: domain.ScoreUpdateEvent{
			UserID:    user.ID,
			Username:  user.Username,
			BestScore: score,
			Pro:       user.IsPro(),
		},
	})

	if !user.IsPro() {
		return
	}
	entries, err := s.store.GetLeaderboard(ctx, 0)
	if err != nil {
		s.log.WithError(err).Warn("Loading leaderboard for event")
		return
	}
	s.publish(ctx, domain.Event{
		Type: domain.EventLeaderboard,
		Data: domain.LeaderboardEvent{Entries: entries},
	})
}

func (s *Service) publish(ctx context.Context, ev domain.Event) {
	ev.Timestamp = s.now().UTC()
	if err := s.events.Publish(ctx, ev); err != nil {
		s.log.WithError(err).WithField("event", ev.Type).Warn("Publishing event")
	}
}

// CurrentGame returns the user's latest incomplete game, or nil
func (s *Service) CurrentGame(ctx context.Context, userID string) (*domain.Game, error) {
	g, err := s.store.GetCurrentGame(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading current game: %w", err)
	}
	return g, nil
}

// History returns the user's recent games
func (s *Service) History(ctx context.Context, userID string, limit int) ([]domain.Game, error) {
	return s.store.ListUserGames(ctx, userID, limit)
}

// NewGame starts and stores a server-side game
func (s *Service) NewGame(ctx context.Context, userID string) (*domain.Game, error) {
	bg := board.New(s.options())
	now := s.timestamp()

	g := &domain.Game{
		ID:        uuid.NewString(),
		PlayerID:  userID,
		CreatedOn: now,
		UpdatedOn: now,
		Board:     bg.Board,
	}
	if err := s.store.CreateGame(ctx, g); err != nil {
		return nil, fmt.Errorf("creating game: %w", err)
	}
	s.log.WithFields(logrus.Fields{"user_id": userID, "game_id": g.ID}).Debug("Started game")
	return g, nil
}

// Move applies dir to a stored game. A move that changes nothing is not
// persisted.
func (s *Service) Move(ctx context.Context, userID, gameID string, dir board.Direction) (*MoveResult, error) {
	if !dir.Valid() {
		return nil, board.ErrInvalidDirection
	}

	s.moveMu.Lock()
	defer s.moveMu.Unlock()

	g, err := s.ownedGame(ctx, userID, gameID)
	if err != nil {
		return nil, err
	}
	if g.Complete {
		return nil, ErrGameComplete
	}

	bg, err := board.Restore(g.Board, g.Score, s.options())
	if err != nil {
		return nil, fmt.Errorf("restoring game %s: %w", g.ID, err)
	}

	evs, moved := bg.Move(dir)
	if !moved && !bg.Over {
		return &MoveResult{Game: g, Events: []board.Event{}, Moved: false}, nil
	}

	now := s.timestamp()
	if bg.Won && !g.Won {
		g.CompletedOn = &now
	}
	g.Board = bg.Board
	g.Score = bg.Score
	g.Won = bg.Won
	g.Complete = bg.Over
	g.UpdatedOn = now

	if err := s.store.UpdateGame(ctx, g); err != nil {
		return nil, fmt.Errorf("updating game: %w", err)
	}
	if moved {
		s.metrics.MoveApplied()
	}
	if g.Complete {
		s.metrics.GameSaved(outcome(g))
	}

	if _, err := s.SaveScore(ctx, userID, g.Score); err != nil {
		s.log.WithError(err).WithField("user_id", userID).Warn("Raising best score after move")
	}

	if evs == nil {
		evs = []board.Event{}
	}
	return &MoveResult{Game: g, Events: evs, Moved: moved}, nil
}
