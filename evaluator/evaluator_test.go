package evaluator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"arbor/game"
	"arbor/game/isolation"

	"github.com/stretchr/testify/require"
)

func sumPriors(priors map[game.Action]float64) float64 {
	sum := 0.0
	for _, p := range priors {
		sum += p
	}
	return sum
}

func TestUniform(t *testing.T) {
	board := isolation.NewDefaultBoard().Forecast(24).Forecast(0)

	ev, err := Uniform{}.Evaluate(context.Background(), board)

	require.NoError(t, err)
	require.Equal(t, 0.0, ev.Value)
	require.Len(t, ev.Priors, 8)
	require.InDelta(t, 1.0, sumPriors(ev.Priors), 1e-9)
	for _, p := range ev.Priors {
		require.InDelta(t, 0.125, p, 1e-9)
	}
}

func TestUniformCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Uniform{}.Evaluate(ctx, isolation.NewDefaultBoard())

	require.ErrorIs(t, err, ErrUnavailable)
}

func TestSoftmax(t *testing.T) {
	probs := Softmax([]float64{1, 2, 3}, 1)

	require.InDelta(t, 1.0, probs[0]+probs[1]+probs[2], 1e-9)
	require.Less(t, probs[0], probs[1])
	require.Less(t, probs[1], probs[2])
	require.Nil(t, Softmax(nil, 1))

	flat := Softmax([]float64{1, 2, 3}, 1e9)
	require.InDelta(t, 1.0/3, flat[0], 1e-6, "High temperature should flatten the distribution")
}

func TestHeuristic(t *testing.T) {
	h := NewHeuristic(isolation.MoveDifference, 8, 1)
	board := isolation.NewDefaultBoard().Forecast(24).Forecast(0)

	ev, err := h.Evaluate(context.Background(), board)

	require.NoError(t, err)
	require.Greater(t, ev.Value, 0.0, "Centered player should be ahead")
	require.LessOrEqual(t, ev.Value, 1.0)
	require.Len(t, ev.Priors, len(board.LegalActions()))
	require.InDelta(t, 1.0, sumPriors(ev.Priors), 1e-9)
}

func TestRollout(t *testing.T) {
	t.Run("terminal state returns its outcome", func(t *testing.T) {
		board, err := isolation.FromSnapshot(isolation.Snapshot{
			Width: 3, Height: 3, Blocked: []int{0, 4, 5, 7}, Positions: [2]int{0, 4}, ToMove: isolation.Player1,
		})
		require.NoError(t, err)

		ev, err := NewRollout(1, 0, nil, 1).Evaluate(context.Background(), board)

		require.NoError(t, err)
		require.Equal(t, game.Loss, ev.Value)
		require.Empty(t, ev.Priors)
	})

	t.Run("blocked player loses even when the state is not terminal", func(t *testing.T) {
		ev, err := NewRollout(1, 0, nil, 1).Evaluate(context.Background(), blockedChain{})

		require.NoError(t, err)
		require.Equal(t, game.Win, ev.Value, "The opponent of the root player has no move left")
	})

	t.Run("same seed plays the same rollouts", func(t *testing.T) {
		board := isolation.NewDefaultBoard()
		a := NewRollout(42, 0, nil, 1)
		b := NewRollout(42, 0, nil, 1)

		for i := 0; i < 10; i++ {
			evA, err := a.Evaluate(context.Background(), board)
			require.NoError(t, err)
			evB, err := b.Evaluate(context.Background(), board)
			require.NoError(t, err)
			require.Equal(t, evA.Value, evB.Value)
			require.Contains(t, []float64{game.Win, game.Loss}, evA.Value, "Full playouts should end decided")
		}
	})

	t.Run("cutoff falls back to the heuristic", func(t *testing.T) {
		board := isolation.NewDefaultBoard()

		ev, err := NewRollout(7, 1, isolation.Mobility, 49).Evaluate(context.Background(), board)

		require.NoError(t, err)
		require.Greater(t, ev.Value, -1.0)
		require.Less(t, ev.Value, 1.0)
	})
}

// blockedChain has a single move at depth 0 and no move at depth 1, where
// it never reports Terminal and its Outcome would call the game a draw.
type blockedChain struct{ depth int }

func (b blockedChain) Player() int { return b.depth%2 + 1 }

func (b blockedChain) LegalActions() []game.Action {
	if b.depth == 0 {
		return []game.Action{0}
	}
	return nil
}

func (b blockedChain) Play(game.Action) game.State { return blockedChain{depth: b.depth + 1} }
func (b blockedChain) Terminal() bool              { return false }
func (b blockedChain) Outcome() float64            { return game.Draw }
func (b blockedChain) Hash() game.StateHash        { return game.StateHash(b.depth) }

type countingEvaluator struct {
	calls atomic.Int64
	delay time.Duration
	err   error
}

func (c *countingEvaluator) Evaluate(ctx context.Context, state game.State) (Evaluation, error) {
	c.calls.Add(1)
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	if c.err != nil {
		return Evaluation{}, c.err
	}
	return Uniform{}.Evaluate(context.Background(), state)
}

func TestCached(t *testing.T) {
	next := &countingEvaluator{}
	cached, err := NewCached(next, 100)
	require.NoError(t, err)
	defer cached.Close()
	board := isolation.NewDefaultBoard().Forecast(24)

	first, err := cached.Evaluate(context.Background(), board)
	require.NoError(t, err)
	cached.Wait()
	second, err := cached.Evaluate(context.Background(), board)
	require.NoError(t, err)

	require.Equal(t, first, second)
	require.Equal(t, int64(1), next.calls.Load(), "Second call should be served from the cache")
	require.Equal(t, int64(1), cached.Hits())
	require.Equal(t, int64(1), cached.Misses())

	second.Priors[game.Action(0)] = 42
	third, err := cached.Evaluate(context.Background(), board)
	require.NoError(t, err)
	require.NotEqual(t, 42.0, third.Priors[game.Action(0)], "Cached priors should not be shared with callers")
}

func TestCachedDoesNotStoreErrors(t *testing.T) {
	next := &countingEvaluator{err: ErrUnavailable}
	cached, err := NewCached(next, 100)
	require.NoError(t, err)
	defer cached.Close()

	_, err = cached.Evaluate(context.Background(), isolation.NewDefaultBoard())
	require.ErrorIs(t, err, ErrUnavailable)
	cached.Wait()
	_, err = cached.Evaluate(context.Background(), isolation.NewDefaultBoard())
	require.ErrorIs(t, err, ErrUnavailable)
	require.Equal(t, int64(2), next.calls.Load())
}

func TestWithTimeout(t *testing.T) {
	t.Run("slow evaluator times out", func(t *testing.T) {
		slow := WithTimeout(&countingEvaluator{delay: 200 * time.Millisecond}, 10*time.Millisecond)

		_, err := slow.Evaluate(context.Background(), isolation.NewDefaultBoard())

		require.ErrorIs(t, err, ErrTimeout)
	})

	t.Run("fast evaluator passes through", func(t *testing.T) {
		fast := WithTimeout(Uniform{}, time.Second)

		ev, err := fast.Evaluate(context.Background(), isolation.NewDefaultBoard())

		require.NoError(t, err)
		require.Len(t, ev.Priors, 49)
	})

	t.Run("zero limit returns the evaluator itself", func(t *testing.T) {
		require.Equal(t, Uniform{}, WithTimeout(Uniform{}, 0))
	})
}

type recordingBatch struct {
	mu      sync.Mutex
	batches []int
	err     error
}

func (r *recordingBatch) EvaluateBatch(ctx context.Context, states []game.State) ([]Evaluation, error) {
	r.mu.Lock()
	r.batches = append(r.batches, len(states))
	r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	return Sequential{Uniform{}}.EvaluateBatch(ctx, states)
}

func TestBatcher(t *testing.T) {
	t.Run("concurrent requests share batches", func(t *testing.T) {
		next := &recordingBatch{}
		b := NewBatcher(next, BatchConfig{Size: 4, Timeout: 50 * time.Millisecond})
		defer b.Close()
		board := isolation.NewDefaultBoard()

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ev, err := b.Evaluate(context.Background(), board)
				require.NoError(t, err)
				require.Len(t, ev.Priors, 49)
			}()
		}
		wg.Wait()

		next.mu.Lock()
		defer next.mu.Unlock()
		total := 0
		for _, size := range next.batches {
			require.LessOrEqual(t, size, 4)
			total += size
		}
		require.Equal(t, 8, total)
		require.Less(t, len(next.batches), 8, "Some requests should have been batched together")
	})

	t.Run("batch errors reach every caller", func(t *testing.T) {
		b := NewBatcher(&recordingBatch{err: ErrUnavailable}, BatchConfig{Size: 2, Timeout: time.Millisecond})
		defer b.Close()

		_, err := b.Evaluate(context.Background(), isolation.NewDefaultBoard())

		require.ErrorIs(t, err, ErrUnavailable)
	})

	t.Run("closed batcher rejects requests", func(t *testing.T) {
		b := NewBatcher(&recordingBatch{}, BatchConfig{})
		require.NoError(t, b.Close())

		_, err := b.Evaluate(context.Background(), isolation.NewDefaultBoard())

		require.True(t, errors.Is(err, ErrUnavailable))
	})
}

func TestDecodeOutputs(t *testing.T) {
	board := isolation.NewDefaultBoard().Forecast(24).Forecast(0)
	legal := board.LegalActions()
	policy := make([]float32, 49)
	policy[legal[0]] = 5 // strongly preferred legal move
	policy[48] = 100     // illegal square, must be masked out

	evs := decodeOutputs([]game.State{board}, policy, []float32{3}, 49)

	require.Len(t, evs, 1)
	require.Equal(t, 3.0, evs[0].Value, "Out of range values are passed on for the search to reject")
	require.Len(t, evs[0].Priors, len(legal))
	require.NotContains(t, evs[0].Priors, game.Action(48))
	require.InDelta(t, 1.0, sumPriors(evs[0].Priors), 1e-6)
	require.Greater(t, evs[0].Priors[legal[0]], evs[0].Priors[legal[1]])
}
