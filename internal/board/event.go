package board

// Event types emitted by Game for animation and replay
const (
	EventMove     = "move"
	EventSpawn    = "spawn"
	EventSnapshot = "snapshot"
	EventWon      = "won"
	EventLost     = "lost"
)

// Event describes one step of a move. Move events carry From and To;
// spawn events carry To and Value; snapshot events carry the board after
// the move completed.
type Event struct {
	Type   string `json:"type"`
	From   *Point `json:"from,omitempty"`
	To     *Point `json:"to,omitempty"`
	Value  int    `json:"value,omitempty"`
	Merged bool   `json:"merged,omitempty"`
	Board  Board  `json:"board,omitempty"`
}
