package isolation

import (
	"arbor/game"
)

// MoveDifference scores a board as the number of moves available to the
// player to move minus those of its opponent. Decided boards score the
// size of the board, signed by the winner.
func MoveDifference(s game.State) float64 {
	b := mustBoard(s)
	if decided, score := b.decided(); decided {
		return score
	}
	own := len(b.movesOf(b.toMove))
	opp := len(b.movesOf(1 - b.toMove))
	return float64(own - opp)
}

// Mobility scores a board by the moves available to the player to move.
func Mobility(s game.State) float64 {
	b := mustBoard(s)
	if decided, score := b.decided(); decided {
		return score
	}
	return float64(len(b.movesOf(b.toMove)))
}

// Aggressive weighs the opponent's mobility twice as much as our own,
// chasing positions where the opponent runs out of room first.
func Aggressive(s game.State) float64 {
	b := mustBoard(s)
	if decided, score := b.decided(); decided {
		return score
	}
	own := len(b.movesOf(b.toMove))
	opp := len(b.movesOf(1 - b.toMove))
	return float64(own - 2*opp)
}

// Scale is the magnitude of a decided position for the heuristics above.
func (b *Board) Scale() float64 {
	return float64(len(b.cells))
}

func (b *Board) decided() (bool, float64) {
	if len(b.movesOf(b.toMove)) == 0 {
		return true, -b.Scale()
	}
	return false, 0
}

func mustBoard(s game.State) *Board {
	b, ok := s.(*Board)
	if !ok {
		panic("unexpected state type")
	}
	return b
}
