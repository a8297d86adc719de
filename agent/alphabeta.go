package agent

import (
	"context"
	"errors"
	"math"
	"time"

	"arbor/experiments/metrics"
	"arbor/game"

	"github.com/rs/zerolog/log"
)

// DefaultSearchDepth is the fixed depth of an alpha-beta agent that has
// neither a depth nor a time budget.
const DefaultSearchDepth = 3

var errOutOfTime = errors.New("alpha-beta search out of time")

type AlphaBetaOption func(*alphaBetaAgent)

// WithSearchDepth stops deepening at depth plies.
func WithSearchDepth(depth int) AlphaBetaOption {
	return func(a *alphaBetaAgent) {
		if depth > 0 {
			a.depth = depth
		}
	}
}

// alphaBetaAgent is a depth-limited negamax search with alpha-beta pruning
// over a heuristic. It is the classical baseline the tree search is
// measured against.
type alphaBetaAgent struct {
	score     game.Evaluate
	budget    time.Duration
	threshold time.Duration
	depth     int
}

// NewAlphaBetaAgent deepens iteratively until budget minus threshold has
// passed and plays the best move of the last completed depth. threshold is
// the margin kept to return before the budget runs out. score rates a
// state for the player to move.
func NewAlphaBetaAgent(score game.Evaluate, budget, threshold time.Duration, options ...AlphaBetaOption) Agent {
	a := &alphaBetaAgent{score: score, budget: budget, threshold: threshold}
	for _, option := range options {
		option(a)
	}
	if a.budget <= 0 && a.depth == 0 {
		a.depth = DefaultSearchDepth
	}
	return a
}

// abSearch is the state of one decision.
type abSearch struct {
	ctx      context.Context
	score    game.Evaluate
	deadline time.Time
	nodes    int
	// cut is set when a branch stopped at the depth limit rather than at
	// the end of the game.
	cut bool
}

func (a *alphaBetaAgent) FindMove(ctx context.Context, state game.State) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return Decision{Action: game.NoAction}, err
	}
	if game.IsOver(state) {
		return Decision{Action: game.NoAction, GameOver: true}, nil
	}

	start := time.Now()
	s := &abSearch{ctx: ctx, score: a.score}
	if a.budget > 0 {
		s.deadline = start.Add(a.budget - a.threshold)
	}

	actions := state.LegalActions()
	best, value := actions[0], math.Inf(-1)
	completed := 0

	maxDepth := a.depth
	if maxDepth == 0 {
		maxDepth = math.MaxInt
	}
	for depth := 1; depth <= maxDepth; depth++ {
		s.cut = false
		action, v, err := s.root(state, actions, depth)
		if err != nil {
			break
		}
		best, value, completed = action, v, depth
		// The whole game tree was searched or the result is decided
		if !s.cut || math.IsInf(v, 0) {
			break
		}
	}
	if err := ctx.Err(); err != nil {
		return Decision{Action: game.NoAction}, err
	}
	if completed == 0 {
		log.Warn().Msg("alpha-beta search ran out of time before depth 1")
	}

	d := Decision{
		Action: best,
		Metric: metrics.SearchMetric{
			Goroutines:  1,
			Duration:    time.Since(start),
			Simulations: s.nodes,
			MaxDepth:    completed,
		},
	}
	switch {
	case math.IsInf(value, 1):
		d.Value = game.Win
	case math.IsInf(value, -1) && completed > 0:
		d.Value = game.Loss
	}
	return d, nil
}

func (a *alphaBetaAgent) Observe(game.Action) {}

// root returns the best action at depth and its value.
func (s *abSearch) root(state game.State, actions []game.Action, depth int) (game.Action, float64, error) {
	best, alpha := actions[0], math.Inf(-1)
	for _, action := range actions {
		v, err := s.negamax(state.Play(action), depth-1, math.Inf(-1), -alpha)
		if err != nil {
			return game.NoAction, 0, err
		}
		if -v > alpha {
			best, alpha = action, -v
		}
	}
	return best, alpha, nil
}

// negamax returns the value of state for the player to move, searched to
// depth plies within the window (alpha, beta).
func (s *abSearch) negamax(state game.State, depth int, alpha, beta float64) (float64, error) {
	if err := s.check(); err != nil {
		return 0, err
	}
	s.nodes++

	if game.IsOver(state) {
		switch v := game.FinalValue(state); {
		case v > game.Draw:
			return math.Inf(1), nil
		case v < game.Draw:
			return math.Inf(-1), nil
		}
		return 0, nil
	}
	if depth == 0 {
		s.cut = true
		return s.score(state), nil
	}

	value := math.Inf(-1)
	for _, action := range state.LegalActions() {
		v, err := s.negamax(state.Play(action), depth-1, -beta, -alpha)
		if err != nil {
			return 0, err
		}
		value = math.Max(value, -v)
		alpha = math.Max(alpha, value)
		if alpha >= beta {
			break
		}
	}
	return value, nil
}

func (s *abSearch) check() error {
	if err := s.ctx.Err(); err != nil {
		return err
	}
	if !s.deadline.IsZero() && time.Now().After(s.deadline) {
		return errOutOfTime
	}
	return nil
}
