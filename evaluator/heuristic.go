package evaluator

import (
	"context"
	"math"

	"arbor/game"
)

// Heuristic turns a hand-written scoring function into an evaluator. The
// value squashes the score of the state; priors are a softmax over the
// scores of the successor states, seen from the player choosing the move.
type Heuristic struct {
	score       game.Evaluate
	scale       float64
	temperature float64
}

// NewHeuristic wraps score. Scores are divided by scale before the tanh
// squash, so scale should be about the size of a clearly winning score.
func NewHeuristic(score game.Evaluate, scale, temperature float64) *Heuristic {
	if scale <= 0 {
		scale = 1
	}
	return &Heuristic{score: score, scale: scale, temperature: temperature}
}

func (h *Heuristic) Evaluate(ctx context.Context, state game.State) (Evaluation, error) {
	if err := ctx.Err(); err != nil {
		return Evaluation{}, contextError(err)
	}

	actions := state.LegalActions()
	scores := make([]float64, len(actions))
	for i, a := range actions {
		// The successor is scored for the opponent, negate it back
		scores[i] = -h.score(state.Play(a)) / h.scale
	}

	priors := make(map[game.Action]float64, len(actions))
	for i, p := range Softmax(scores, h.temperature) {
		priors[actions[i]] = p
	}

	return Evaluation{
		Value:  math.Tanh(h.score(state) / h.scale),
		Priors: priors,
	}, nil
}
