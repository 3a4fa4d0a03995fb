package board

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Direction is a move direction. The numeric values match the codes the
// web client has always sent.
type Direction int

const (
	Left  Direction = 10
	Right Direction = 20
	Up    Direction = 30
	Down  Direction = 40
)

// ErrInvalidDirection is returned for unknown directions
var ErrInvalidDirection = errors.New("invalid direction")

// Directions lists all valid directions
var Directions = []Direction{Left, Right, Up, Down}

func (d Direction) String() string {
	switch d {
	case Left:
		return "left"
	case Right:
		return "right"
	case Up:
		return "up"
	case Down:
		return "down"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

// Valid reports whether d is one of the four directions
func (d Direction) Valid() bool {
	switch d {
	case Left, Right, Up, Down:
		return true
	}
	return false
}

// ParseDirection accepts a direction name or its numeric code
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "left":
		return Left, nil
	case "right":
		return Right, nil
	case "up":
		return Up, nil
	case "down":
		return Down, nil
	}
	if n, err := strconv.Atoi(s); err == nil && Direction(n).Valid() {
		return Direction(n), nil
	}
	return 0, fmt.Errorf("%w %q", ErrInvalidDirection, s)
}

// MarshalJSON encodes the direction name
func (d Direction) MarshalJSON() ([]byte, error) {
	if !d.Valid() {
		return nil, fmt.Errorf("%w %d", ErrInvalidDirection, int(d))
	}
	return json.Marshal(d.String())
}

// UnmarshalJSON accepts either a name or a numeric code
func (d *Direction) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		if !Direction(n).Valid() {
			return fmt.Errorf("%w %d", ErrInvalidDirection, n)
		}
		*d = Direction(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("direction must be a string or number")
	}
	parsed, err := ParseDirection(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
