package engine

import (
	"context"

	"arbor/experiments/metrics"
	"arbor/game"

	"github.com/google/uuid"
)

// MaxTurns caps a game that would otherwise run on.
const MaxTurns = 500

// Sample is one position of a finished game labeled for training.
type Sample struct {
	Ply    int
	Player int
	State  game.State
	// Policy is the mover's search visit distribution.
	Policy map[game.Action]float64
	// Outcome is the final result from Player's perspective, 0 when the
	// game was drawn or cut off.
	Outcome float64
}

type Result struct {
	ID      uuid.UUID
	Winner  int // Player ID, 0 when nobody won
	Final   game.State
	Actions []game.Action
	Game    metrics.GameMetric
	Moves   []metrics.MoveMetric
	Samples []Sample
}

type Engine interface {
	// Run plays a game till there's a winner or a max number of turns is reached
	Run(ctx context.Context) (Result, error)
}
