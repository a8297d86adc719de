package searcher

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"arbor/evaluator"
	"arbor/experiments/metrics"
	"arbor/game"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// DefaultMaxFailures is how many simulations in a row may be abandoned
// before the evaluator is considered down.
const DefaultMaxFailures = 64

type Option func(mcts *MCTS)

// Budget bounds one search by simulation count, wall-clock duration or
// both, whichever runs out first.
type Budget struct {
	Simulations int
	Duration    time.Duration
}

func (b Budget) Validate() error {
	if b.Simulations < 0 || b.Duration < 0 || (b.Simulations == 0 && b.Duration == 0) {
		return fmt.Errorf("%+v: %w", b, ErrInvalidBudget)
	}
	return nil
}

// Result is the outcome of one search.
type Result struct {
	Action game.Action
	// Policy is the visit distribution over the root's actions.
	Policy map[game.Action]float64
	// Value is the root's mean value from the perspective of the player to move.
	Value       float64
	Simulations int
	GameOver    bool
	Fallback    bool
	Metric      metrics.SearchMetric
}

type MCTS struct {
	goroutines       int
	exploration      float64
	evaluatorTimeout time.Duration
	maxFailures      int
	evaluator        evaluator.Evaluator
	tree             *Tree
	metrics          metrics.Collector
}

func WithExploration(c float64) Option {
	return func(m *MCTS) {
		if c > 0 {
			m.exploration = c
		}
	}
}

// WithEvaluatorTimeout bounds each evaluator call, including calls to an
// evaluator that ignores its context.
func WithEvaluatorTimeout(timeout time.Duration) Option {
	return func(m *MCTS) {
		if timeout > 0 {
			m.evaluatorTimeout = timeout
		}
	}
}

func WithMaxFailures(failures int) Option {
	return func(m *MCTS) {
		if failures > 0 {
			m.maxFailures = failures
		}
	}
}

func WithMetrics() Option {
	return func(m *MCTS) {
		m.metrics = metrics.NewCollector()
	}
}

func WithCollector(collector metrics.Collector) Option {
	return func(m *MCTS) {
		if collector != nil {
			m.metrics = collector
		}
	}
}

func NewMCTS(eval evaluator.Evaluator, goroutines int, options ...Option) (*MCTS, error) {
	if eval == nil {
		return nil, errors.New("mcts requires an evaluator")
	}
	if goroutines <= 0 {
		return nil, fmt.Errorf("mcts requires at least one goroutine, got %d", goroutines)
	}
	m := &MCTS{ // Default values
		goroutines:  goroutines,
		exploration: DefaultExploration,
		maxFailures: DefaultMaxFailures,
		evaluator:   eval,
		tree:        NewTree(),
		metrics:     metrics.NewDummyCollector(),
	}
	for _, option := range options {
		option(m)
	}
	m.evaluator = evaluator.WithTimeout(eval, m.evaluatorTimeout)
	return m, nil
}

func (m *MCTS) Tree() *Tree {
	return m.tree
}

// Advance moves the retained tree along an action played in the game.
func (m *MCTS) Advance(action game.Action) error {
	_, err := m.tree.Advance(action)
	return err
}

// Reset drops the retained tree.
func (m *MCTS) Reset() {
	m.tree.Reset()
}

// Search runs simulations from state until the budget is spent and selects
// a move. The returned error is ErrNoSimulations alongside a usable
// prior-based result when nothing was backed up in time. A contract
// violation discards the tree.
func (m *MCTS) Search(ctx context.Context, state game.State, budget Budget) (Result, error) {
	if err := budget.Validate(); err != nil {
		return Result{Action: game.NoAction}, err
	}

	root, reset := m.tree.Root(state)
	if game.IsOver(state) {
		return Result{Action: game.NoAction, GameOver: true}, nil
	}

	m.metrics.SetTreeReset(reset)
	m.metrics.Start(m.goroutines)
	simulations, err := m.run(ctx, root, budget)
	metric := m.metrics.Complete(m.tree.Size())
	if err != nil {
		var violation *ContractViolationError
		if errors.As(err, &violation) {
			log.Error().Err(err).Msgf("evaluator broke its contract on state\n%v", violation.State)
			m.tree.Reset()
		}
		return Result{Action: game.NoAction, Metric: metric}, err
	}

	result := Result{
		Policy:      m.tree.Policy(root),
		Value:       -m.tree.Stats(root).Q,
		Simulations: simulations,
		Metric:      metric,
	}
	action, ok := m.tree.BestAction(root)
	if !ok {
		result.Action = m.tree.FallbackAction(root)
		result.Fallback = true
		log.Warn().Msgf("no simulation finished within %+v, falling back to prior move %d", budget, result.Action)
		return result, ErrNoSimulations
	}
	result.Action = action
	log.Debug().Msgf("searched %d simulations in %v, tree size %d", simulations, metric.Duration, m.tree.Size())
	return result, nil
}

// run drives the workers. Budget expiry stops new simulations while
// in-flight ones run to completion against the caller's context.
func (m *MCTS) run(ctx context.Context, root NodeID, budget Budget) (int, error) {
	var deadline time.Time
	if budget.Duration > 0 {
		deadline = time.Now().Add(budget.Duration)
	}

	var claimed, completed, failures atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < m.goroutines; i++ {
		g.Go(func() error {
			for {
				if gctx.Err() != nil {
					return nil
				}
				if !deadline.IsZero() && !time.Now().Before(deadline) {
					return nil
				}
				if budget.Simulations > 0 && claimed.Add(1) > int64(budget.Simulations) {
					claimed.Add(-1)
					return nil
				}

				err := m.simulate(ctx, root)
				switch {
				case err == nil:
					completed.Add(1)
					failures.Store(0)
					m.metrics.AddSimulation()
				case errors.Is(err, errAbandoned):
					claimed.Add(-1)
					if ctx.Err() != nil {
						return nil
					}
					m.metrics.AddAbandoned()
					if failures.Add(1) >= int64(m.maxFailures) {
						return fmt.Errorf("%d simulations abandoned in a row: %w", m.maxFailures, errors.Join(ErrEvaluatorUnavailable, err))
					}
				default:
					return err
				}
			}
		})
	}

	err := g.Wait()
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	return int(completed.Load()), err
}
