// Package board implements the tile-sliding grid engine: collapsing rows
// and columns, spawning tiles and detecting wins and losses.
package board

import (
	"errors"
	"fmt"
)

// Size limits accepted by Validate
const (
	MinSize = 2
	MaxSize = 8
)

// maxTile bounds tile values accepted from clients
const maxTile = 1 << 30

var (
	ErrNotSquare    = errors.New("board must be square")
	ErrSize         = fmt.Errorf("board size must be between %d and %d", MinSize, MaxSize)
	ErrInvalidValue = errors.New("tile values must be 0 or a power of two")
)

// Board is an N×N grid of tile values indexed [row][col]. Zero is empty.
type Board [][]int

// Point is a cell position; X is the column and Y the row.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// NewBoard returns an empty n×n board
func NewBoard(n int) Board {
	b := make(Board, n)
	for i := range b {
		b[i] = make([]int, n)
	}
	return b
}

// Size returns the number of rows
func (b Board) Size() int {
	return len(b)
}

// Clone returns a deep copy
func (b Board) Clone() Board {
	out := make(Board, len(b))
	for i, row := range b {
		out[i] = append([]int(nil), row...)
	}
	return out
}

// Equal reports whether two boards hold the same tiles
func (b Board) Equal(other Board) bool {
	if len(b) != len(other) {
		return false
	}
	for i := range b {
		if !equalLine(b[i], other[i]) {
			return false
		}
	}
	return true
}

// Validate checks shape and tile values
func (b Board) Validate() error {
	n := len(b)
	if n < MinSize || n > MaxSize {
		return ErrSize
	}
	for _, row := range b {
		if len(row) != n {
			return ErrNotSquare
		}
		for _, v := range row {
			if !validTile(v) {
				return fmt.Errorf("%w: %d", ErrInvalidValue, v)
			}
		}
	}
	return nil
}

func validTile(v int) bool {
	if v == 0 {
		return true
	}
	return v >= 2 && v <= maxTile && v&(v-1) == 0
}

// Empty returns the positions of all empty cells in row-major order
func (b Board) Empty() []Point {
	var cells []Point
	for y, row := range b {
		for x, v := range row {
			if v == 0 {
				cells = append(cells, Point{X: x, Y: y})
			}
		}
	}
	return cells
}

// MaxTile returns the largest tile on the board
func (b Board) MaxTile() int {
	best := 0
	for _, row := range b {
		for _, v := range row {
			if v > best {
				best = v
			}
		}
	}
	return best
}

// IsOver reports whether no move is possible: the board is full and no
// two orthogonal neighbours are equal.
func (b Board) IsOver() bool {
	n := len(b)
	for _, row := range b {
		for _, v := range row {
			if v == 0 {
				return false
			}
		}
	}
	for i := 0; i < n; i++ {
		for j := 0; j < n-1; j++ {
			if b[i][j] == b[i][j+1] {
				return false
			}
		}
	}
	for i := 0; i < n-1; i++ {
		for j := 0; j < n; j++ {
			if b[i][j] == b[i+1][j] {
				return false
			}
		}
	}
	return true
}

func (b Board) get(p Point) int {
	return b[p.Y][p.X]
}

func (b Board) set(p Point, v int) {
	b[p.Y][p.X] = v
}

func equalLine(a, c []int) bool {
	if len(a) != len(c) {
		return false
	}
	for i := range a {
		if a[i] != c[i] {
			return false
		}
	}
	return true
}
