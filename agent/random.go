package agent

import (
	"context"
	"sync"

	"arbor/game"

	"golang.org/x/exp/rand"
)

// randomAgent plays a uniformly random legal move. It is the baseline
// opponent of experiments.
type randomAgent struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewRandomAgent(seed uint64) Agent {
	return &randomAgent{rng: rand.New(rand.NewSource(seed))}
}

func (a *randomAgent) FindMove(ctx context.Context, state game.State) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return Decision{Action: game.NoAction}, err
	}
	if game.IsOver(state) {
		return Decision{Action: game.NoAction, GameOver: true}, nil
	}

	actions := state.LegalActions()
	a.mu.Lock()
	action := actions[a.rng.Intn(len(actions))]
	a.mu.Unlock()
	return Decision{Action: action}, nil
}

func (a *randomAgent) Observe(game.Action) {}
