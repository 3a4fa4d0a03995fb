package board

import (
	"fmt"
	"math/rand/v2"
)

// Defaults for a standard game
const (
	DefaultSize            = 4
	DefaultStartingTiles   = 2
	DefaultWinTile         = 2048
	DefaultFourProbability = 0.5
)

// Options configures a Game. Zero Size, StartingTiles, WinTile and Rand
// take the defaults; FourProbability is used as given.
type Options struct {
	Size            int
	StartingTiles   int
	WinTile         int
	FourProbability float64
	Rand            *rand.Rand
}

func (o Options) withDefaults() Options {
	if o.Size == 0 {
		o.Size = DefaultSize
	}
	if o.StartingTiles == 0 {
		o.StartingTiles = DefaultStartingTiles
	}
	if o.WinTile == 0 {
		o.WinTile = DefaultWinTile
	}
	if o.Rand == nil {
		o.Rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return o
}

// Game is a single playthrough
type Game struct {
	Board Board `json:"board"`
	Score int64 `json:"score"`
	Won   bool  `json:"won"`
	Over  bool  `json:"over"`

	opts Options
}

// New starts a game on an empty board with the configured starting tiles
func New(opts Options) *Game {
	opts = opts.withDefaults()
	g := &Game{Board: NewBoard(opts.Size), opts: opts}
	for i := 0; i < opts.StartingTiles; i++ {
		g.Spawn()
	}
	return g
}

// Restore resumes a persisted board. Won and Over are derived from the
// tiles; the board size overrides opts.Size.
func Restore(b Board, score int64, opts Options) (*Game, error) {
	if err := b.Validate(); err != nil {
		return nil, fmt.Errorf("restoring board: %w", err)
	}
	opts = opts.withDefaults()
	opts.Size = b.Size()
	g := &Game{Board: b.Clone(), Score: score, opts: opts}
	g.Won = g.Board.MaxTile() >= opts.WinTile
	g.Over = g.Board.IsOver()
	return g, nil
}

// Spawn places a 2 or 4 on a random empty cell. It returns nil when the
// board is full.
func (g *Game) Spawn() *Event {
	cells := g.Board.Empty()
	if len(cells) == 0 {
		return nil
	}
	value := 2
	if g.opts.Rand.Float64() < g.opts.FourProbability {
		value = 4
	}
	p := cells[g.opts.Rand.IntN(len(cells))]
	g.Board.set(p, value)
	return &Event{Type: EventSpawn, To: &p, Value: value}
}

// Move slides the board in dir. When nothing moves the game is unchanged
// and no events are returned. Otherwise the events are the tile moves,
// one spawn, won/lost transitions and a closing snapshot.
func (g *Game) Move(dir Direction) ([]Event, bool) {
	if g.Over || !dir.Valid() {
		return nil, false
	}

	n := g.Board.Size()
	next := g.Board.Clone()
	var events []Event
	moved := false

	for i := 0; i < n; i++ {
		line := make([]int, n)
		for k := 0; k < n; k++ {
			line[k] = next.get(cellAt(dir, n, i, k))
		}

		collapsed, gained, moves := collapse(line)
		if equalLine(line, collapsed) {
			continue
		}
		moved = true
		g.Score += int64(gained)
		for k := 0; k < n; k++ {
			next.set(cellAt(dir, n, i, k), collapsed[k])
		}
		for _, m := range moves {
			from := cellAt(dir, n, i, m.From)
			to := cellAt(dir, n, i, m.To)
			events = append(events, Event{
				Type:   EventMove,
				From:   &from,
				To:     &to,
				Value:  m.Value,
				Merged: m.Merged,
			})
		}
	}

	if !moved {
		return nil, false
	}

	g.Board = next
	if spawn := g.Spawn(); spawn != nil {
		events = append(events, *spawn)
	}
	if !g.Won && g.Board.MaxTile() >= g.opts.WinTile {
		g.Won = true
		events = append(events, Event{Type: EventWon})
	}
	if g.Board.IsOver() {
		g.Over = true
		events = append(events, Event{Type: EventLost})
	}
	events = append(events, Event{Type: EventSnapshot, Board: g.Board.Clone()})
	return events, true
}

// cellAt maps index k of line i, read in sweep order for dir, to a board
// position. Lines are rows for Left/Right and columns for Up/Down; index 0
// is the edge tiles slide toward.
func cellAt(dir Direction, n, i, k int) Point {
	switch dir {
	case Right:
		return Point{X: n - 1 - k, Y: i}
	case Up:
		return Point{X: i, Y: k}
	case Down:
		return Point{X: i, Y: n - 1 - k}
	default:
		return Point{X: k, Y: i}
	}
}
