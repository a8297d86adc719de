package isolation

import (
	"arbor/game"
)

// Features encodes boards for neural evaluators as three planes seen from
// the player to move: its own piece, the opponent's piece and every
// blocked square.
type Features struct {
	Width  int
	Height int
}

func (f Features) Shape() (channels, height, width int) {
	return 3, f.Height, f.Width
}

func (f Features) ActionSpace() int {
	return f.Width * f.Height
}

func (f Features) Features(state game.State, dst []float32) {
	b := mustBoard(state)
	clear(dst)
	plane := f.Width * f.Height
	if own := b.positions[b.toMove]; own >= 0 {
		dst[own] = 1
	}
	if opp := b.positions[1-b.toMove]; opp >= 0 {
		dst[plane+opp] = 1
	}
	for i, cell := range b.cells {
		if cell == blocked {
			dst[2*plane+i] = 1
		}
	}
}
