package server

import (
	"time"

	"arbor/game"
	"arbor/game/isolation"
	"arbor/searcher"
)

// Budget overrides the server's default search budget for one decision.
type Budget struct {
	Simulations int   `json:"simulations" binding:"min=0"`
	DurationMS  int64 `json:"duration_ms" binding:"min=0"`
}

func (b *Budget) searchBudget(fallback searcher.Budget) searcher.Budget {
	if b == nil {
		return fallback
	}
	return searcher.Budget{
		Simulations: b.Simulations,
		Duration:    time.Duration(b.DurationMS) * time.Millisecond,
	}
}

type SessionResponse struct {
	Session string `json:"session"`
}

type SessionRequest struct {
	Session string `json:"session" binding:"required,uuid"`
}

type DecideRequest struct {
	Session string             `json:"session" binding:"required,uuid"`
	Board   isolation.Snapshot `json:"board"`
	Budget  *Budget            `json:"budget,omitempty"`
}

// DecideResponse carries the chosen move both as an action and as the
// square it lands on. Row and Col are -1 when the game is over.
type DecideResponse struct {
	Action      game.Action             `json:"action"`
	Row         int                     `json:"row"`
	Col         int                     `json:"col"`
	Policy      map[game.Action]float64 `json:"policy,omitempty"`
	Value       float64                 `json:"value"`
	GameOver    bool                    `json:"game_over"`
	Fallback    bool                    `json:"fallback"`
	Simulations int                     `json:"simulations"`
}

type ObserveRequest struct {
	Session string      `json:"session" binding:"required,uuid"`
	Action  game.Action `json:"action"`
}

type StatusResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
