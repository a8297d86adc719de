package searcher

import (
	"errors"
	"fmt"

	"arbor/game"
)

var (
	// ErrInvalidMove is returned when the tree is advanced along an action no
	// simulation has traversed yet.
	ErrInvalidMove = errors.New("no traversed edge for action")
	// ErrNoSimulations accompanies a result picked from priors alone because
	// the budget ran out before any simulation was backed up.
	ErrNoSimulations = errors.New("budget exhausted with no simulations")

	ErrContractViolation = errors.New("evaluator contract violation")

	// ErrEvaluatorUnavailable stops a search after too many consecutive
	// simulations were abandoned on evaluator failures.
	ErrEvaluatorUnavailable = errors.New("evaluator unavailable")

	ErrInvalidBudget = errors.New("budget must bound simulations or duration")
)

// ContractViolationError is fatal to a search: the tree built so far cannot
// be trusted and is discarded.
type ContractViolationError struct {
	State  game.State
	Reason string
}

func (e *ContractViolationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrContractViolation, e.Reason)
}

func (e *ContractViolationError) Unwrap() error {
	return ErrContractViolation
}

func violation(state game.State, format string, args ...any) error {
	return &ContractViolationError{State: state, Reason: fmt.Sprintf(format, args...)}
}
