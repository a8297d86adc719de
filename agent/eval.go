package agent

import (
	"context"

	"arbor/game"
	"arbor/searcher"

	"github.com/rs/zerolog/log"
)

type evaluationAgent struct {
	controller *Controller
	budget     searcher.Budget
}

// NewEvaluationAgent returns a new agent for actual game play during
// evaluation. It always plays the most visited move.
func NewEvaluationAgent(mcts *searcher.MCTS, budget searcher.Budget) Agent {
	return &evaluationAgent{controller: NewController(mcts, nil), budget: budget}
}

func (a *evaluationAgent) FindMove(ctx context.Context, state game.State) (Decision, error) {
	return a.controller.Decide(ctx, state, a.budget)
}

func (a *evaluationAgent) Observe(action game.Action) {
	if err := a.controller.Observe(action); err != nil {
		log.Error().Err(err).Msgf("failed to observe move %d", action)
	}
}
