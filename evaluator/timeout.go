package evaluator

import (
	"context"
	"errors"
	"time"

	"arbor/game"
)

type timeout struct {
	next  Evaluator
	limit time.Duration
}

// WithTimeout bounds every call to next by limit. Calls that overrun
// return ErrTimeout even if next ignores its context.
func WithTimeout(next Evaluator, limit time.Duration) Evaluator {
	if limit <= 0 {
		return next
	}
	return &timeout{next: next, limit: limit}
}

type result struct {
	ev  Evaluation
	err error
}

func (t *timeout) Evaluate(ctx context.Context, state game.State) (Evaluation, error) {
	ctx, cancel := context.WithTimeout(ctx, t.limit)
	defer cancel()

	done := make(chan result, 1)
	go func() {
		ev, err := t.next.Evaluate(ctx, state)
		done <- result{ev: ev, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil && errors.Is(r.err, context.DeadlineExceeded) {
			return Evaluation{}, contextError(r.err)
		}
		return r.ev, r.err
	case <-ctx.Done():
		return Evaluation{}, contextError(ctx.Err())
	}
}
