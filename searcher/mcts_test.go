package searcher

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"arbor/evaluator"
	"arbor/game"

	"github.com/stretchr/testify/require"
)

// nim: take 1 to 3 stones, the player facing an empty pile has lost.
type nim struct {
	pile   int
	player int
}

func (s nim) Player() int { return s.player }

func (s nim) LegalActions() []game.Action {
	var actions []game.Action
	for take := 1; take <= 3 && take <= s.pile; take++ {
		actions = append(actions, game.Action(take))
	}
	return actions
}

func (s nim) Play(action game.Action) game.State {
	return nim{pile: s.pile - int(action), player: 3 - s.player}
}

func (s nim) Terminal() bool       { return s.pile == 0 }
func (s nim) Outcome() float64     { return game.Loss }
func (s nim) Hash() game.StateHash { return game.StateHash(s.pile<<2 | s.player) }

func newTestMCTS(t *testing.T, eval evaluator.Evaluator, goroutines int, options ...Option) *MCTS {
	t.Helper()
	m, err := NewMCTS(eval, goroutines, options...)
	require.NoError(t, err)
	return m
}

// walk visits every materialized node below id, depth first.
func walk(tree *Tree, id NodeID, visit func(id NodeID)) {
	visit(id)
	for _, e := range tree.Edges(id) {
		if e.Child != nilNode {
			walk(tree, e.Child, visit)
		}
	}
}

func TestNewMCTS(t *testing.T) {
	t.Run("requires an evaluator", func(t *testing.T) {
		_, err := NewMCTS(nil, 1)
		require.Error(t, err)
	})

	t.Run("requires a goroutine", func(t *testing.T) {
		_, err := NewMCTS(evaluator.Uniform{}, 0)
		require.Error(t, err)
	})

	t.Run("ignores invalid options", func(t *testing.T) {
		m := newTestMCTS(t, evaluator.Uniform{}, 1, WithExploration(-1), WithMaxFailures(0))
		require.Equal(t, DefaultExploration, m.exploration)
		require.Equal(t, DefaultMaxFailures, m.maxFailures)
	})
}

func TestBudgetValidate(t *testing.T) {
	require.ErrorIs(t, Budget{}.Validate(), ErrInvalidBudget)
	require.ErrorIs(t, Budget{Simulations: -1, Duration: time.Second}.Validate(), ErrInvalidBudget)
	require.NoError(t, Budget{Simulations: 1}.Validate())
	require.NoError(t, Budget{Duration: time.Millisecond}.Validate())
}

func TestSearchBookkeeping(t *testing.T) {
	for _, goroutines := range []int{1, 8} {
		m := newTestMCTS(t, evaluator.Uniform{}, goroutines)

		result, err := m.Search(context.Background(), nim{pile: 9, player: 1}, Budget{Simulations: 500})
		require.NoError(t, err)
		require.Equal(t, 500, result.Simulations)

		tree := m.Tree()
		root := tree.RootID()
		require.Equal(t, 500, tree.Stats(root).Visits, "Root should count every backed-up simulation")

		walk(tree, root, func(id NodeID) {
			stats := tree.Stats(id)
			require.Zero(t, stats.VirtualLoss, "No virtual loss should remain after the search")
			if stats.Visits > 0 {
				require.InDelta(t, stats.Value/float64(stats.Visits), stats.Q, 1e-9)
			}

			state := tree.State(id).(nim)
			if state.Terminal() {
				require.Empty(t, tree.Edges(id))
				return
			}
			if !stats.Expanded {
				return
			}
			// The expanding simulation stops at the node, every other one
			// continues into exactly one child.
			children := 0
			for _, e := range tree.Edges(id) {
				require.True(t, game.IsLegal(state, e.Action), "Edges should only hold legal actions")
				if e.Child != nilNode {
					children += tree.Stats(e.Child).Visits
				}
			}
			require.Equal(t, stats.Visits, 1+children)
		})
	}
}

func TestSearchFindsWinningMove(t *testing.T) {
	// Taking one stone leaves a multiple of four.
	m := newTestMCTS(t, evaluator.Uniform{}, 1)

	result, err := m.Search(context.Background(), nim{pile: 5, player: 1}, Budget{Simulations: 1000})
	require.NoError(t, err)
	require.Equal(t, game.Action(1), result.Action)
	require.Greater(t, result.Value, 0.0, "Winning side should expect a positive value")
	require.InDelta(t, 1.0, result.Policy[1]+result.Policy[2]+result.Policy[3], 1e-9)
}

func TestSearchDeterminism(t *testing.T) {
	search := func() Result {
		m := newTestMCTS(t, evaluator.Uniform{}, 1)
		result, err := m.Search(context.Background(), nim{pile: 13, player: 1}, Budget{Simulations: 300})
		require.NoError(t, err)
		return result
	}

	first, second := search(), search()
	require.Equal(t, first.Action, second.Action)
	require.Equal(t, first.Policy, second.Policy)
	require.Equal(t, first.Value, second.Value)
}

func TestSearchTerminalRoot(t *testing.T) {
	calls := atomic.Int32{}
	eval := evaluator.Func(func(ctx context.Context, state game.State) (evaluator.Evaluation, error) {
		calls.Add(1)
		return evaluator.Uniform{}.Evaluate(ctx, state)
	})
	m := newTestMCTS(t, eval, 1)

	result, err := m.Search(context.Background(), nim{pile: 0, player: 1}, Budget{Simulations: 1})
	require.NoError(t, err)
	require.True(t, result.GameOver)
	require.Equal(t, game.NoAction, result.Action)
	require.Zero(t, calls.Load(), "Terminal states should not be evaluated")
}

func TestSearchTreeReuse(t *testing.T) {
	m := newTestMCTS(t, evaluator.Uniform{}, 1, WithMetrics())
	state := nim{pile: 10, player: 1}

	result, err := m.Search(context.Background(), state, Budget{Simulations: 400})
	require.NoError(t, err)
	require.True(t, result.Metric.IsTreeReset)

	tree := m.Tree()
	var child NodeID = nilNode
	for _, e := range tree.Edges(tree.RootID()) {
		if e.Action == result.Action {
			child = e.Child
		}
	}
	require.NotEqual(t, nilNode, child)

	before := map[game.Action]NodeStats{game.NoAction: tree.Stats(child)}
	for _, e := range tree.Edges(child) {
		if e.Child != nilNode {
			before[e.Action] = tree.Stats(e.Child)
		}
	}
	size := 0
	walk(tree, child, func(NodeID) { size++ })

	root, err := tree.Advance(result.Action)
	require.NoError(t, err)
	require.Equal(t, NodeID(0), root)
	require.Equal(t, size, tree.Size(), "Advance should release every node outside the kept subtree")

	after := map[game.Action]NodeStats{game.NoAction: tree.Stats(root)}
	for _, e := range tree.Edges(root) {
		if e.Child != nilNode {
			after[e.Action] = tree.Stats(e.Child)
		}
	}
	require.Equal(t, before, after, "Advance should keep subtree statistics")

	next := state.Play(result.Action)
	id, reset := tree.Root(next)
	require.False(t, reset)
	require.Equal(t, root, id)

	result, err = m.Search(context.Background(), next, Budget{Simulations: 10})
	require.NoError(t, err)
	require.False(t, result.Metric.IsTreeReset)
	require.Equal(t, before[game.NoAction].Visits+10, tree.Stats(tree.RootID()).Visits)
}

func TestTreeAdvance(t *testing.T) {
	t.Run("empty tree", func(t *testing.T) {
		_, err := NewTree().Advance(1)
		require.ErrorIs(t, err, ErrInvalidMove)
	})

	t.Run("untraversed edge", func(t *testing.T) {
		tree := NewTree()
		root, _ := tree.Root(nim{pile: 3, player: 1})
		tree.Expand(root, []game.Action{1, 2, 3}, evaluator.UniformPriors([]game.Action{1, 2, 3}))

		_, err := tree.Advance(2)
		require.ErrorIs(t, err, ErrInvalidMove)
		require.Equal(t, 1, tree.Size(), "Failed advance should leave the tree alone")
	})

	t.Run("mismatched root rebuilds", func(t *testing.T) {
		tree := NewTree()
		tree.Root(nim{pile: 3, player: 1})
		_, reset := tree.Root(nim{pile: 4, player: 1})
		require.True(t, reset)
	})
}

func TestSearchContractViolation(t *testing.T) {
	tests := []struct {
		name       string
		evaluation evaluator.Evaluation
	}{
		{"illegal action", evaluator.Evaluation{Priors: map[game.Action]float64{1: 0.5, 7: 0.5}}},
		{"value out of range", evaluator.Evaluation{Value: 1.5, Priors: map[game.Action]float64{1: 1}}},
		{"value not a number", evaluator.Evaluation{Value: math.NaN(), Priors: map[game.Action]float64{1: 1}}},
		{"negative prior", evaluator.Evaluation{Priors: map[game.Action]float64{1: -0.5, 2: 1.5}}},
		{"priors not normalized", evaluator.Evaluation{Priors: map[game.Action]float64{1: 0.5, 2: 0.2}}},
		{"no priors", evaluator.Evaluation{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eval := evaluator.Func(func(context.Context, game.State) (evaluator.Evaluation, error) {
				return tt.evaluation, nil
			})
			m := newTestMCTS(t, eval, 2)
			state := nim{pile: 3, player: 1}

			result, err := m.Search(context.Background(), state, Budget{Simulations: 10})
			require.ErrorIs(t, err, ErrContractViolation)
			require.Equal(t, game.NoAction, result.Action)

			var violation *ContractViolationError
			require.ErrorAs(t, err, &violation)
			require.Equal(t, state, violation.State, "Violation should carry the offending state")
			require.Zero(t, m.Tree().Size(), "Tree should be discarded")
		})
	}
}

func TestSearchEvaluatorFailures(t *testing.T) {
	t.Run("abandoned simulations are retried", func(t *testing.T) {
		calls := atomic.Int32{}
		eval := evaluator.Func(func(ctx context.Context, state game.State) (evaluator.Evaluation, error) {
			if calls.Add(1)%2 == 0 {
				return evaluator.Evaluation{}, evaluator.ErrTimeout
			}
			return evaluator.Uniform{}.Evaluate(ctx, state)
		})
		m := newTestMCTS(t, eval, 1, WithMetrics())

		result, err := m.Search(context.Background(), nim{pile: 9, player: 1}, Budget{Simulations: 50})
		require.NoError(t, err)
		require.Equal(t, 50, result.Simulations)
		require.Equal(t, 50, m.Tree().Stats(m.Tree().RootID()).Visits)
		require.Positive(t, result.Metric.Abandoned)
	})

	t.Run("evaluator unavailable", func(t *testing.T) {
		eval := evaluator.Func(func(context.Context, game.State) (evaluator.Evaluation, error) {
			return evaluator.Evaluation{}, evaluator.ErrUnavailable
		})
		m := newTestMCTS(t, eval, 4, WithMaxFailures(5))

		_, err := m.Search(context.Background(), nim{pile: 9, player: 1}, Budget{Simulations: 100})
		require.ErrorIs(t, err, ErrEvaluatorUnavailable)
		require.ErrorIs(t, err, evaluator.ErrUnavailable)

		stats := m.Tree().Stats(m.Tree().RootID())
		require.Zero(t, stats.Visits)
		require.Zero(t, stats.VirtualLoss, "Abandoned simulations should release their virtual loss")
	})

	t.Run("no simulation reaches a child", func(t *testing.T) {
		state := nim{pile: 5, player: 1}
		eval := evaluator.Func(func(ctx context.Context, s game.State) (evaluator.Evaluation, error) {
			if s == game.State(state) {
				return evaluator.Evaluation{Priors: map[game.Action]float64{1: 0.2, 2: 0.5, 3: 0.3}}, nil
			}
			return evaluator.Evaluation{}, evaluator.ErrTimeout
		})
		m := newTestMCTS(t, eval, 1, WithMaxFailures(math.MaxInt32))

		result, err := m.Search(context.Background(), state, Budget{Duration: 20 * time.Millisecond})
		require.ErrorIs(t, err, ErrNoSimulations)
		require.True(t, result.Fallback)
		require.Equal(t, game.Action(2), result.Action, "Fallback should pick the highest prior")
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		m := newTestMCTS(t, evaluator.Uniform{}, 2)

		_, err := m.Search(ctx, nim{pile: 9, player: 1}, Budget{Simulations: 100})
		require.ErrorIs(t, err, context.Canceled)
	})
}

func TestSearchEvaluatorTimeout(t *testing.T) {
	eval := evaluator.Func(func(ctx context.Context, state game.State) (evaluator.Evaluation, error) {
		<-ctx.Done()
		return evaluator.Evaluation{}, evaluator.ErrTimeout
	})
	m := newTestMCTS(t, eval, 2, WithEvaluatorTimeout(time.Millisecond), WithMaxFailures(3))

	_, err := m.Search(context.Background(), nim{pile: 9, player: 1}, Budget{Duration: time.Second})
	require.ErrorIs(t, err, ErrEvaluatorUnavailable)
	require.ErrorIs(t, err, evaluator.ErrTimeout)
}

func TestSearchEvaluatorIgnoringDeadline(t *testing.T) {
	eval := evaluator.Func(func(context.Context, game.State) (evaluator.Evaluation, error) {
		time.Sleep(200 * time.Millisecond)
		return evaluator.Uniform{}.Evaluate(context.Background(), nim{pile: 1, player: 1})
	})
	m := newTestMCTS(t, eval, 1, WithEvaluatorTimeout(5*time.Millisecond), WithMaxFailures(1))

	start := time.Now()
	_, err := m.Search(context.Background(), nim{pile: 9, player: 1}, Budget{Simulations: 10})
	require.ErrorIs(t, err, ErrEvaluatorUnavailable)
	require.ErrorIs(t, err, evaluator.ErrTimeout)
	require.Less(t, time.Since(start), 150*time.Millisecond, "Slow call should be cut off at the deadline")
}

func TestSearchDurationBudget(t *testing.T) {
	m := newTestMCTS(t, evaluator.Uniform{}, 4)

	start := time.Now()
	result, err := m.Search(context.Background(), nim{pile: 20, player: 1}, Budget{Duration: 30 * time.Millisecond})
	require.NoError(t, err)
	require.Less(t, time.Since(start), time.Second)
	require.Positive(t, result.Simulations)
	require.Equal(t, result.Simulations, m.Tree().Stats(m.Tree().RootID()).Visits)
}

func TestSearchInvalidBudget(t *testing.T) {
	m := newTestMCTS(t, evaluator.Uniform{}, 1)
	_, err := m.Search(context.Background(), nim{pile: 3, player: 1}, Budget{})
	require.True(t, errors.Is(err, ErrInvalidBudget))
}
