package evaluator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"arbor/game"
)

const (
	DefaultBatchSize    = 16
	DefaultBatchTimeout = time.Millisecond
)

type BatchConfig struct {
	Size    int
	Timeout time.Duration
}

type batchRequest struct {
	ctx   context.Context
	state game.State
	resp  chan result
}

// Batcher groups concurrent Evaluate calls into batches of up to Size
// states, flushing a partial batch after Timeout.
type Batcher struct {
	next     BatchEvaluator
	cfg      BatchConfig
	requests chan batchRequest
	done     chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

func NewBatcher(next BatchEvaluator, cfg BatchConfig) *Batcher {
	if cfg.Size <= 0 {
		cfg.Size = DefaultBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultBatchTimeout
	}
	b := &Batcher{
		next:     next,
		cfg:      cfg,
		requests: make(chan batchRequest, cfg.Size*2),
		done:     make(chan struct{}),
	}
	b.wg.Add(1)
	go b.loop()
	return b
}

func (b *Batcher) Evaluate(ctx context.Context, state game.State) (Evaluation, error) {
	select {
	case <-b.done:
		return Evaluation{}, fmt.Errorf("%w: batcher closed", ErrUnavailable)
	default:
	}

	req := batchRequest{ctx: ctx, state: state, resp: make(chan result, 1)}
	select {
	case b.requests <- req:
	case <-b.done:
		return Evaluation{}, fmt.Errorf("%w: batcher closed", ErrUnavailable)
	case <-ctx.Done():
		return Evaluation{}, contextError(ctx.Err())
	}

	select {
	case r := <-req.resp:
		return r.ev, r.err
	case <-b.done:
		return Evaluation{}, fmt.Errorf("%w: batcher closed", ErrUnavailable)
	case <-ctx.Done():
		return Evaluation{}, contextError(ctx.Err())
	}
}

// Close stops the batching loop. Pending requests fail with ErrUnavailable.
func (b *Batcher) Close() error {
	b.once.Do(func() { close(b.done) })
	b.wg.Wait()
	return nil
}

func (b *Batcher) loop() {
	defer b.wg.Done()

	pending := make([]batchRequest, 0, b.cfg.Size)
	ticker := time.NewTicker(b.cfg.Timeout)
	defer ticker.Stop()

	for {
		select {
		case req := <-b.requests:
			pending = append(pending, req)
			if len(pending) >= b.cfg.Size {
				b.run(pending)
				pending = pending[:0]
			}
		case <-ticker.C:
			if len(pending) > 0 {
				b.run(pending)
				pending = pending[:0]
			}
		case <-b.done:
			for _, req := range pending {
				req.resp <- result{err: fmt.Errorf("%w: batcher closed", ErrUnavailable)}
			}
			return
		}
	}
}

func (b *Batcher) run(pending []batchRequest) {
	// Requests whose caller already gave up are dropped from the batch
	live := make([]batchRequest, 0, len(pending))
	states := make([]game.State, 0, len(pending))
	for _, req := range pending {
		if req.ctx.Err() != nil {
			req.resp <- result{err: contextError(req.ctx.Err())}
			continue
		}
		live = append(live, req)
		states = append(states, req.state)
	}
	if len(live) == 0 {
		return
	}

	evs, err := b.next.EvaluateBatch(context.Background(), states)
	if err == nil && len(evs) != len(states) {
		err = fmt.Errorf("%w: batch returned %d evaluations for %d states", ErrUnavailable, len(evs), len(states))
	}
	for i, req := range live {
		if err != nil {
			req.resp <- result{err: err}
			continue
		}
		req.resp <- result{ev: evs[i]}
	}
}

// Sequential adapts a single-state evaluator to BatchEvaluator by
// evaluating states one at a time.
type Sequential struct {
	Evaluator
}

func (s Sequential) EvaluateBatch(ctx context.Context, states []game.State) ([]Evaluation, error) {
	evs := make([]Evaluation, len(states))
	for i, state := range states {
		ev, err := s.Evaluate(ctx, state)
		if err != nil {
			return nil, err
		}
		evs[i] = ev
	}
	return evs, nil
}

var _ BatchEvaluator = Sequential{}
