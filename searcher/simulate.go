package searcher

import (
	"context"
	"errors"
	"math"
	"time"

	"arbor/evaluator"
	"arbor/game"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/floats"
)

// priorTolerance bounds how far a prior distribution may sum away from 1.
const priorTolerance = 1e-3

// errAbandoned marks a simulation dropped on an evaluator failure.
var errAbandoned = errors.New("simulation abandoned")

// simulate runs one selection, expansion and backup from the root. Every
// node on the path carries a virtual loss until the simulation is either
// backed up or abandoned.
func (m *MCTS) simulate(ctx context.Context, root NodeID) error {
	path := make([]*node, 0, 16)
	backedUp := false
	defer func() {
		if !backedUp {
			for _, n := range path {
				n.reverseLoss()
			}
		}
	}()

	id := root
	n := m.tree.node(id)
	n.applyLoss()
	path = append(path, n)

	var value float64
	for {
		if n.over {
			value = game.FinalValue(n.state)
			m.metrics.AddTerminal()
			break
		}

		if !n.expanded.Load() {
			expanded, v, err := m.expand(ctx, n)
			if err != nil {
				return err
			}
			if expanded {
				value = v
				break
			}
			m.metrics.AddCollision()
		}

		i := m.tree.selectEdge(n, m.exploration)
		id = m.tree.child(id, n, i)
		n = m.tree.node(id)
		n.applyLoss()
		path = append(path, n)
	}

	// value is from the perspective of the player to move at the leaf; each
	// node stores it from the perspective of the player who moved into it.
	leaf := path[len(path)-1].player
	for i := len(path) - 1; i >= 0; i-- {
		if path[i].player == leaf {
			path[i].backup(-value)
		} else {
			path[i].backup(value)
		}
	}
	backedUp = true
	m.metrics.ObserveDepth(len(path) - 1)
	return nil
}

// expand evaluates n and creates its edges. It reports false when another
// worker expanded n first, in which case the caller descends through it.
func (m *MCTS) expand(ctx context.Context, n *node) (bool, float64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.expanded.Load() {
		return false, 0, nil
	}

	ev, err := m.evaluate(ctx, n.state)
	if err != nil {
		return false, 0, err
	}
	actions := n.state.LegalActions()
	if err := validate(n.state, actions, ev); err != nil {
		return false, 0, err
	}
	n.expand(actions, ev.Priors)
	return true, ev.Value, nil
}

func (m *MCTS) evaluate(ctx context.Context, state game.State) (evaluator.Evaluation, error) {
	start := time.Now()
	ev, err := m.evaluator.Evaluate(ctx, state)
	m.metrics.ObserveEvaluation(time.Since(start))
	if err != nil {
		log.Debug().Err(err).Msg("abandoning simulation")
		return ev, errors.Join(errAbandoned, err)
	}
	return ev, nil
}

// validate checks an evaluation against the legal actions of state.
func validate(state game.State, actions []game.Action, ev evaluator.Evaluation) error {
	if math.IsNaN(ev.Value) || ev.Value < game.Loss || ev.Value > game.Win {
		return violation(state, "value %v outside [%v, %v]", ev.Value, game.Loss, game.Win)
	}
	if len(ev.Priors) == 0 {
		return violation(state, "no priors for %d legal actions", len(actions))
	}

	legal := make(map[game.Action]bool, len(actions))
	for _, a := range actions {
		legal[a] = true
	}
	probs := make([]float64, 0, len(ev.Priors))
	for a, p := range ev.Priors {
		if !legal[a] {
			return violation(state, "prior for illegal action %d", a)
		}
		if math.IsNaN(p) || math.IsInf(p, 0) || p < 0 {
			return violation(state, "prior %v for action %d is not a probability", p, a)
		}
		probs = append(probs, p)
	}
	if sum := floats.Sum(probs); math.Abs(sum-1) > priorTolerance {
		return violation(state, "priors sum to %v", sum)
	}
	return nil
}
