package isolation

import (
	"encoding/json"
	"fmt"
)

// Snapshot is the wire form of a Board.
type Snapshot struct {
	Width   int   `json:"width" yaml:"width"`
	Height  int   `json:"height" yaml:"height"`
	Blocked []int `json:"blocked" yaml:"blocked"`
	// Positions holds each player's square index, -1 before placement.
	Positions [2]int `json:"positions" yaml:"positions"`
	// ToMove is Player1 or Player2.
	ToMove int `json:"to_move" yaml:"to_move"`
	Ply    int `json:"ply" yaml:"ply"`
}

func (b *Board) Snapshot() Snapshot {
	s := Snapshot{
		Width:     b.width,
		Height:    b.height,
		Blocked:   []int{},
		Positions: b.positions,
		ToMove:    b.Player(),
		Ply:       b.ply,
	}
	for i, cell := range b.cells {
		if cell == blocked {
			s.Blocked = append(s.Blocked, i)
		}
	}
	return s
}

func (b *Board) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.Snapshot())
}

// FromSnapshot rebuilds a board, rejecting inconsistent input.
func FromSnapshot(s Snapshot) (*Board, error) {
	b, err := NewBoard(s.Width, s.Height)
	if err != nil {
		return nil, err
	}
	if s.ToMove != Player1 && s.ToMove != Player2 {
		return nil, fmt.Errorf("to_move must be %d or %d, got %d", Player1, Player2, s.ToMove)
	}
	b.toMove = s.ToMove - 1
	b.ply = s.Ply

	for _, idx := range s.Blocked {
		if idx < 0 || idx >= len(b.cells) {
			return nil, fmt.Errorf("blocked square %d out of range", idx)
		}
		b.cells[idx] = blocked
	}
	for i, idx := range s.Positions {
		if idx == -1 {
			continue
		}
		if idx < 0 || idx >= len(b.cells) {
			return nil, fmt.Errorf("position of player %d out of range: %d", i+1, idx)
		}
		if b.cells[idx] != blocked {
			return nil, fmt.Errorf("position of player %d (%d) must be blocked", i+1, idx)
		}
	}
	b.positions = s.Positions
	return b, nil
}
