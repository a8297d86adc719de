package evaluator

import (
	"context"
	"math"
	"sync"

	"arbor/game"

	"golang.org/x/exp/rand"
)

const MaxCutoff = math.MaxInt

// Rollout estimates a state's value by playing random moves until the game
// ends or the cutoff depth is reached, where the fallback heuristic (if
// any) scores the position. Priors are uniform.
type Rollout struct {
	mu       sync.Mutex
	rng      *rand.Rand
	cutoff   int
	fallback game.Evaluate
	scale    float64
}

func NewRollout(seed uint64, cutoff int, fallback game.Evaluate, scale float64) *Rollout {
	if cutoff <= 0 {
		cutoff = MaxCutoff
	}
	if scale <= 0 {
		scale = 1
	}
	return &Rollout{
		rng:      rand.New(rand.NewSource(seed)),
		cutoff:   cutoff,
		fallback: fallback,
		scale:    scale,
	}
}

func (r *Rollout) Evaluate(ctx context.Context, state game.State) (Evaluation, error) {
	if err := ctx.Err(); err != nil {
		return Evaluation{}, contextError(err)
	}
	return Evaluation{
		Value:  r.rollout(state),
		Priors: UniformPriors(state.LegalActions()),
	}, nil
}

func (r *Rollout) rollout(state game.State) float64 {
	sign := 1.0
	depth := 0
	moves := state.LegalActions()
	// Rollout till game over or for cutoff number of moves
	for len(moves) > 0 && !state.Terminal() && depth < r.cutoff {
		state = state.Play(moves[r.intn(len(moves))])
		moves = state.LegalActions()
		sign = -sign
		depth++
	}

	if game.IsOver(state) {
		return sign * game.FinalValue(state)
	}
	if r.fallback == nil {
		return 0
	}
	return sign * math.Tanh(r.fallback(state)/r.scale)
}

func (r *Rollout) intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.Intn(n)
}
