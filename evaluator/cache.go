package evaluator

import (
	"context"
	"fmt"
	"maps"
	"sync/atomic"

	"arbor/game"

	"github.com/dgraph-io/ristretto/v2"
)

// Cached memoizes an evaluator by state hash. Evaluators must be
// deterministic enough for a cached answer to stand in for a fresh one.
type Cached struct {
	next   Evaluator
	cache  *ristretto.Cache[uint64, Evaluation]
	hits   atomic.Int64
	misses atomic.Int64
}

// NewCached keeps up to size evaluations.
func NewCached(next Evaluator, size int64) (*Cached, error) {
	if size <= 0 {
		return nil, fmt.Errorf("cache size must be positive, got %d", size)
	}
	cache, err := ristretto.NewCache(&ristretto.Config[uint64, Evaluation]{
		NumCounters: size * 10,
		MaxCost:     size,
		BufferItems: 64,
		// Every entry costs 1, size counts entries rather than bytes
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create evaluation cache: %w", err)
	}
	return &Cached{next: next, cache: cache}, nil
}

func (c *Cached) Evaluate(ctx context.Context, state game.State) (Evaluation, error) {
	key := uint64(state.Hash())
	if ev, ok := c.cache.Get(key); ok {
		c.hits.Add(1)
		return Evaluation{Value: ev.Value, Priors: maps.Clone(ev.Priors)}, nil
	}
	c.misses.Add(1)

	ev, err := c.next.Evaluate(ctx, state)
	if err != nil {
		return Evaluation{}, err
	}
	c.cache.Set(key, Evaluation{Value: ev.Value, Priors: maps.Clone(ev.Priors)}, 1)
	return ev, nil
}

// Wait blocks until pending writes are visible to Evaluate.
func (c *Cached) Wait() {
	c.cache.Wait()
}

func (c *Cached) Hits() int64   { return c.hits.Load() }
func (c *Cached) Misses() int64 { return c.misses.Load() }

func (c *Cached) Close() {
	c.cache.Close()
}
