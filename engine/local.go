package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"arbor/agent"
	"arbor/experiments/metrics"
	"arbor/game"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type Option func(l *Local)

// MoveHook is called after every move, e.g. to render the board.
type MoveHook func(turn int, player int, action game.Action, state game.State)

func WithMaxTurns(turns int) Option {
	return func(l *Local) {
		if turns > 0 {
			l.maxTurns = turns
		}
	}
}

func WithMoveHook(hook MoveHook) Option {
	return func(l *Local) {
		l.hook = hook
	}
}

// Local plays agents against each other in process. agents[i] plays the
// player with ID i+1.
type Local struct {
	initial  game.State
	agents   []agent.Agent
	maxTurns int
	hook     MoveHook
}

func NewLocal(initial game.State, agents []agent.Agent, options ...Option) (*Local, error) {
	if initial == nil {
		return nil, errors.New("engine requires an initial state")
	}
	if len(agents) < 2 {
		return nil, fmt.Errorf("need at least two agents, got %d", len(agents))
	}
	l := &Local{initial: initial, agents: agents, maxTurns: MaxTurns}
	for _, option := range options {
		option(l)
	}
	return l, nil
}

// Run executes the entire game loop until a winner is found.
func (l *Local) Run(ctx context.Context) (Result, error) {
	result := Result{ID: uuid.New()}
	state := l.initial
	start := time.Now()
	startingPlayer := state.Player()

	log.Info().Msgf("game %s: player %d is starting", result.ID, startingPlayer)

	lastPlayer := 0
	turn := 1
	for !game.IsOver(state) && turn <= l.maxTurns {
		player := state.Player()
		if player < 1 || player > len(l.agents) {
			return result, fmt.Errorf("no agent for player %d", player)
		}

		decision, err := l.agents[player-1].FindMove(ctx, state)
		if err != nil {
			return result, fmt.Errorf("player %d on turn %d: %w", player, turn, err)
		}

		action := decision.Action
		if !game.IsLegal(state, action) {
			fallback := state.LegalActions()[0]
			log.Warn().Msgf("player %d returned illegal move %d, forcing %d", player, action, fallback)
			action = fallback
		}

		result.Moves = append(result.Moves, metrics.MoveMetric{
			Step:         turn,
			Player:       player,
			SearchMetric: decision.Metric,
		})
		if len(decision.Policy) > 0 {
			result.Samples = append(result.Samples, Sample{
				Ply:    turn - 1,
				Player: player,
				State:  state,
				Policy: decision.Policy,
			})
		}
		result.Actions = append(result.Actions, action)

		state = state.Play(action)
		for i, a := range l.agents {
			if i != player-1 {
				a.Observe(action)
			}
		}
		if l.hook != nil {
			l.hook(turn, player, action, state)
		}

		lastPlayer = player
		turn++
	}

	result.Final = state
	result.Winner = winner(state, lastPlayer)
	for i := range result.Samples {
		result.Samples[i].Outcome = outcome(result.Samples[i].Player, result.Winner)
	}

	end := time.Now()
	result.Game = metrics.GameMetric{
		StartingPlayer: startingPlayer,
		Winner:         result.Winner,
		StartTime:      start,
		EndTime:        end,
		Duration:       end.Sub(start),
		TotalMoves:     len(result.Actions),
	}

	if result.Winner != 0 {
		log.Info().Msgf("game %s ended after %d moves, winner: player %d", result.ID, len(result.Actions), result.Winner)
	} else {
		log.Info().Msgf("game %s stopped after %d moves without a winner", result.ID, len(result.Actions))
	}
	return result, nil
}

// winner reads the result off a final state. Outcome is from the
// perspective of the player to move, so a loss there is a win for whoever
// moved last.
func winner(state game.State, lastPlayer int) int {
	if !game.IsOver(state) {
		return 0
	}
	value := game.FinalValue(state)
	switch {
	case value < 0:
		return lastPlayer
	case value > 0:
		return state.Player()
	default:
		return 0
	}
}

func outcome(player, winner int) float64 {
	switch {
	case winner == 0:
		return game.Draw
	case player == winner:
		return game.Win
	default:
		return game.Loss
	}
}
