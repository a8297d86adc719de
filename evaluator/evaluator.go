package evaluator

import (
	"context"
	"errors"
	"fmt"
	"math"

	"arbor/game"

	"gonum.org/v1/gonum/floats"
)

var (
	// ErrTimeout marks an evaluation that did not finish in time. Callers
	// may retry it.
	ErrTimeout = errors.New("evaluator timed out")
	// ErrUnavailable marks an evaluator that cannot serve requests right now.
	ErrUnavailable = errors.New("evaluator unavailable")
)

// Evaluation is the output of an evaluator for one state.
type Evaluation struct {
	// Value estimates the outcome in [-1, 1] from the perspective of the
	// player to move.
	Value float64
	// Priors maps each legal action to its probability. Probabilities sum to 1.
	Priors map[game.Action]float64
}

// Evaluator produces a value estimate and move priors for a state.
type Evaluator interface {
	Evaluate(ctx context.Context, state game.State) (Evaluation, error)
}

// Func adapts a function to the Evaluator interface.
type Func func(ctx context.Context, state game.State) (Evaluation, error)

func (f Func) Evaluate(ctx context.Context, state game.State) (Evaluation, error) {
	return f(ctx, state)
}

// BatchEvaluator evaluates several states in one call, typically a single
// forward pass of a network.
type BatchEvaluator interface {
	EvaluateBatch(ctx context.Context, states []game.State) ([]Evaluation, error)
}

// Uniform knows nothing about the game: every position is even and every
// legal action equally likely.
type Uniform struct{}

func (Uniform) Evaluate(ctx context.Context, state game.State) (Evaluation, error) {
	if err := ctx.Err(); err != nil {
		return Evaluation{}, contextError(err)
	}
	return Evaluation{Value: 0, Priors: UniformPriors(state.LegalActions())}, nil
}

// UniformPriors spreads the probability mass evenly over actions.
func UniformPriors(actions []game.Action) map[game.Action]float64 {
	priors := make(map[game.Action]float64, len(actions))
	for _, a := range actions {
		priors[a] = 1 / float64(len(actions))
	}
	return priors
}

// Softmax turns scores into probabilities; temperature <= 0 is treated as 1.
func Softmax(scores []float64, temperature float64) []float64 {
	if len(scores) == 0 {
		return nil
	}
	if temperature <= 0 {
		temperature = 1
	}
	probs := make([]float64, len(scores))
	copy(probs, scores)
	floats.Scale(1/temperature, probs)
	floats.AddConst(-floats.Max(probs), probs)
	for i, p := range probs {
		probs[i] = math.Exp(p)
	}
	floats.Scale(1/floats.Sum(probs), probs)
	return probs
}

// contextError maps a context error onto the evaluator taxonomy.
func contextError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
