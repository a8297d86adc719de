package agent

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"arbor/experiments/metrics"
	"arbor/game"
	"arbor/searcher"

	"github.com/rs/zerolog/log"
)

var (
	ErrBusy = errors.New("controller is busy deciding")
	// ErrAborted marks a decision that produced no move. The retained tree
	// is gone after a contract violation, so the next decision starts fresh.
	ErrAborted = errors.New("decision aborted")
)

type Phase int32

const (
	Idle Phase = iota
	Thinking
	Decided
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Thinking:
		return "thinking"
	case Decided:
		return "decided"
	default:
		return fmt.Sprintf("phase(%d)", int32(p))
	}
}

// Decision is the move chosen for one turn together with the search
// statistics behind it.
type Decision struct {
	Action game.Action
	// Policy is the root visit distribution, usable as a training target.
	Policy   map[game.Action]float64
	Value    float64
	Fallback bool
	GameOver bool
	Metric   metrics.SearchMetric
}

// Chooser picks the move to play from a finished search.
type Chooser func(result searcher.Result) game.Action

func bestAction(result searcher.Result) game.Action {
	return result.Action
}

// Controller runs one decision at a time over a search tree it keeps
// between turns.
type Controller struct {
	phase  atomic.Int32
	mcts   *searcher.MCTS
	choose Chooser
}

// NewController picks the most visited move unless choose says otherwise.
func NewController(mcts *searcher.MCTS, choose Chooser) *Controller {
	if choose == nil {
		choose = bestAction
	}
	return &Controller{mcts: mcts, choose: choose}
}

func (c *Controller) Phase() Phase {
	return Phase(c.phase.Load())
}

// begin claims the controller for one operation on the kept tree. Every
// claim ends by storing Idle or Decided.
func (c *Controller) begin() bool {
	return c.phase.CompareAndSwap(int32(Idle), int32(Thinking)) ||
		c.phase.CompareAndSwap(int32(Decided), int32(Thinking))
}

// Decide searches state within budget and returns the move to play. The
// subtree under that move is kept as the root of the next decision.
func (c *Controller) Decide(ctx context.Context, state game.State, budget searcher.Budget) (Decision, error) {
	if !c.begin() {
		return Decision{Action: game.NoAction}, ErrBusy
	}

	result, err := c.mcts.Search(ctx, state, budget)
	switch {
	case err == nil, errors.Is(err, searcher.ErrNoSimulations):
	case errors.Is(err, searcher.ErrContractViolation):
		c.mcts.Reset()
		c.phase.Store(int32(Idle))
		return Decision{Action: game.NoAction}, fmt.Errorf("%w: %w", ErrAborted, err)
	case ctx.Err() != nil:
		c.phase.Store(int32(Idle))
		return Decision{Action: game.NoAction}, fmt.Errorf("%w: %w", ErrAborted, err)
	default:
		c.phase.Store(int32(Idle))
		return Decision{Action: game.NoAction}, err
	}

	if result.GameOver {
		c.phase.Store(int32(Idle))
		return Decision{Action: game.NoAction, GameOver: true}, nil
	}

	action := result.Action
	if !result.Fallback {
		action = c.choose(result)
	}
	if err := c.mcts.Advance(action); err != nil {
		log.Debug().Err(err).Msg("dropping search tree")
		c.mcts.Reset()
	}

	c.phase.Store(int32(Decided))
	return Decision{
		Action:   action,
		Policy:   result.Policy,
		Value:    result.Value,
		Fallback: result.Fallback,
		Metric:   result.Metric,
	}, nil
}

// Observe advances the kept tree by a move played by someone else. An
// unexplored move drops the tree and the next decision starts fresh.
func (c *Controller) Observe(action game.Action) error {
	if !c.begin() {
		return ErrBusy
	}
	if err := c.mcts.Advance(action); err != nil {
		log.Warn().Msgf("observed move %d is not in the search tree, resetting it", action)
		c.mcts.Reset()
	}
	c.phase.Store(int32(Idle))
	return nil
}

// Reset forgets the kept tree.
func (c *Controller) Reset() error {
	if !c.begin() {
		return ErrBusy
	}
	c.mcts.Reset()
	c.phase.Store(int32(Idle))
	return nil
}
