package game

// Action identifies a move by its index in a game's action space. Lower
// indices win ties wherever the search has to break them deterministically.
type Action int

// NoAction is returned when the player to move has nothing to play.
const NoAction Action = -1

const (
	Win  = 1.0
	Draw = 0.0
	Loss = -Win
)

type StateHash uint64

// State should be immutable - operations on State always return a new copy
type State interface {
	// Player returns the id of the player to move.
	Player() int
	LegalActions() []Action
	Play(Action) State
	Terminal() bool
	// Outcome scores a terminal state from the perspective of the player to
	// move, in [Loss, Win]. It is undefined on non-terminal states.
	Outcome() float64
	Hash() StateHash
}

// Evaluates the game state to a score indicating how favorable the current
// player's position is. The scale is heuristic-specific.
type Evaluate func(State) float64

// IsLegal reports whether action is one of the legal actions of state.
func IsLegal(state State, action Action) bool {
	for _, a := range state.LegalActions() {
		if a == action {
			return true
		}
	}
	return false
}

// IsOver reports whether no further action can be played from state.
func IsOver(state State) bool {
	return state.Terminal() || len(state.LegalActions()) == 0
}

// FinalValue scores a state where play is over from the perspective of the
// player to move. Having no legal action counts as a loss.
func FinalValue(state State) float64 {
	if state.Terminal() {
		return state.Outcome()
	}
	return Loss
}
