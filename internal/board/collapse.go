package board

// lineMove records a tile that changed position during a collapse.
// Indices are positions within the line being collapsed.
type lineMove struct {
	From   int
	To     int
	Value  int // value at To after the move
	Merged bool
}

// Collapse slides and merges a line toward index 0 in a single pass and
// returns the new line and the points gained. A tile produced by a merge
// does not merge again in the same pass. The input is not modified.
func Collapse(line []int) ([]int, int) {
	out, gained, _ := collapse(line)
	return out, gained
}

func collapse(in []int) ([]int, int, []lineMove) {
	line := append([]int(nil), in...)
	var moves []lineMove
	gained := 0
	lastPlaced := 0

	// Positions at or after current still hold their original tiles, so
	// current is always the tile's source index.
	for current := 1; current < len(line); current++ {
		v := line[current]
		switch {
		case v == 0:
		case line[lastPlaced] == 0:
			line[lastPlaced] = v
			line[current] = 0
			moves = append(moves, lineMove{From: current, To: lastPlaced, Value: v})
		case line[lastPlaced] == v:
			line[lastPlaced] *= 2
			line[current] = 0
			gained += line[lastPlaced]
			moves = append(moves, lineMove{From: current, To: lastPlaced, Value: line[lastPlaced], Merged: true})
			lastPlaced++
		case lastPlaced+1 != current:
			line[lastPlaced+1] = v
			line[current] = 0
			lastPlaced++
			moves = append(moves, lineMove{From: current, To: lastPlaced, Value: v})
		default:
			lastPlaced++
		}
	}
	return line, gained, moves
}
