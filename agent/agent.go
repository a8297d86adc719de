package agent

import (
	"context"

	"arbor/game"
)

type Agent interface {
	// FindMove returns the move to play and the statistics behind it
	FindMove(ctx context.Context, state game.State) (Decision, error)
	// Observe tells the agent about a move another player made
	Observe(action game.Action)
}
