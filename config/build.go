package config

import (
	"fmt"

	"arbor/agent"
	"arbor/evaluator"
	"arbor/experiments/metrics"
	"arbor/game"
	"arbor/game/isolation"
	"arbor/searcher"
)

// Stack is an evaluator assembled from configuration, holding on to
// everything that has to be released with it.
type Stack struct {
	evaluator.Evaluator
	closers []func() error
}

func (s *Stack) Close() error {
	var first error
	// Release outermost layers first
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	s.closers = nil
	return first
}

// HeuristicFn returns the Isolation scoring function named by the config.
func (c EvaluatorConfig) HeuristicFn() game.Evaluate {
	switch c.Heuristic {
	case "mobility":
		return isolation.Mobility
	case "aggressive":
		return isolation.Aggressive
	default:
		return isolation.MoveDifference
	}
}

// BuildEvaluator layers the configured evaluator as base -> batcher -> cache.
// The per-call deadline belongs to the searcher. board sizes the heuristics
// and the network input.
func (c Config) BuildEvaluator(board *isolation.Board) (*Stack, error) {
	ec := c.Evaluator
	stack := &Stack{}
	heuristic := ec.HeuristicFn()

	var eval evaluator.Evaluator
	switch ec.Kind {
	case "uniform":
		eval = evaluator.Uniform{}
	case "heuristic":
		eval = evaluator.NewHeuristic(heuristic, board.Scale(), ec.Temperature)
	case "rollout":
		eval = evaluator.NewRollout(ec.Seed, ec.RolloutCutoff, heuristic, board.Scale())
	case "onnx":
		onnx, err := evaluator.NewOnnx(evaluator.OnnxConfig{
			ModelPath:         ec.ModelPath,
			SharedLibraryPath: ec.LibraryPath,
		}, isolation.Features{Width: board.Width(), Height: board.Height()})
		if err != nil {
			return nil, err
		}
		stack.closers = append(stack.closers, onnx.Close)
		batcher := evaluator.NewBatcher(onnx, evaluator.BatchConfig{Size: ec.BatchSize, Timeout: ec.BatchTimeout})
		stack.closers = append(stack.closers, batcher.Close)
		eval = batcher
	default:
		return nil, fmt.Errorf("unknown evaluator kind %q", ec.Kind)
	}

	if ec.Kind != "onnx" && ec.BatchSize > 1 {
		batcher := evaluator.NewBatcher(evaluator.Sequential{Evaluator: eval}, evaluator.BatchConfig{Size: ec.BatchSize, Timeout: ec.BatchTimeout})
		stack.closers = append(stack.closers, batcher.Close)
		eval = batcher
	}

	if ec.CacheSize > 0 {
		cached, err := evaluator.NewCached(eval, ec.CacheSize)
		if err != nil {
			stack.Close()
			return nil, err
		}
		stack.closers = append(stack.closers, func() error {
			cached.Close()
			return nil
		})
		eval = cached
	}

	stack.Evaluator = eval
	return stack, nil
}

// NewAlphaBetaAgent builds the alpha-beta baseline over the configured
// heuristic and search duration.
func (c Config) NewAlphaBetaAgent() agent.Agent {
	return agent.NewAlphaBetaAgent(c.Evaluator.HeuristicFn(), c.Search.Duration, c.AlphaBeta.Threshold,
		agent.WithSearchDepth(c.AlphaBeta.Depth))
}

// Budget is the per-decision budget.
func (c SearchConfig) Budget() searcher.Budget {
	return searcher.Budget{Simulations: c.Simulations, Duration: c.Duration}
}

// NewMCTS builds a searcher over eval. A nil collector falls back to the
// in-memory one when metrics are enabled.
func (c SearchConfig) NewMCTS(eval evaluator.Evaluator, collector metrics.Collector) (*searcher.MCTS, error) {
	options := []searcher.Option{
		searcher.WithExploration(c.Exploration),
		searcher.WithEvaluatorTimeout(c.EvaluatorTimeout),
		searcher.WithMaxFailures(c.MaxFailures),
	}
	switch {
	case collector != nil:
		options = append(options, searcher.WithCollector(collector))
	case c.Metrics:
		options = append(options, searcher.WithMetrics())
	}
	return searcher.NewMCTS(eval, c.Goroutines, options...)
}

// NewBoard returns the empty starting board.
func (c GameConfig) NewBoard() (*isolation.Board, error) {
	return isolation.NewBoard(c.Width, c.Height)
}
