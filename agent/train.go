package agent

import (
	"context"
	"math"
	"slices"
	"sync"

	"arbor/game"
	"arbor/searcher"

	"github.com/rs/zerolog/log"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
)

type trainingAgent struct {
	mu         sync.Mutex // guards rng
	rng        *rand.Rand
	controller *Controller
	budget     searcher.Budget
}

// NewTrainingAgent returns a new agent for self-play during training. It
// samples its move from the visit distribution sharpened by temperature;
// a temperature of 0 plays the most visited move.
func NewTrainingAgent(mcts *searcher.MCTS, budget searcher.Budget, temperature float64, seed uint64) Agent {
	a := &trainingAgent{rng: rand.New(rand.NewSource(seed)), budget: budget}
	a.controller = NewController(mcts, func(result searcher.Result) game.Action {
		if temperature <= 0 || len(result.Policy) == 0 {
			return result.Action
		}
		return a.sample(adjustTemperature(result.Policy, temperature))
	})
	return a
}

func (a *trainingAgent) FindMove(ctx context.Context, state game.State) (Decision, error) {
	return a.controller.Decide(ctx, state, a.budget)
}

func (a *trainingAgent) Observe(action game.Action) {
	if err := a.controller.Observe(action); err != nil {
		log.Error().Err(err).Msgf("failed to observe move %d", action)
	}
}

func adjustTemperature(policy map[game.Action]float64, temperature float64) map[game.Action]float64 {
	// Compute temperature-adjusted move probabilities
	exponent := 1.0 / temperature
	adjusted := make(map[game.Action]float64, len(policy))
	probs := make([]float64, 0, len(policy))
	for move, visit := range policy {
		prob := math.Pow(visit, exponent)
		adjusted[move] = prob
		probs = append(probs, prob)
	}
	// Normalize
	sum := floats.Sum(probs)
	for move := range adjusted {
		adjusted[move] /= sum
	}
	return adjusted
}

// sample walks actions in ascending order so a seed always maps to the
// same move.
func (a *trainingAgent) sample(policy map[game.Action]float64) game.Action {
	actions := make([]game.Action, 0, len(policy))
	for action := range policy {
		actions = append(actions, action)
	}
	slices.Sort(actions)

	a.mu.Lock()
	sampled := a.rng.Float64()
	a.mu.Unlock()

	cumulative := 0.0
	for _, action := range actions {
		cumulative += policy[action]
		if sampled < cumulative {
			return action
		}
	}
	return actions[len(actions)-1] // Fallback in case of rounding errors
}
