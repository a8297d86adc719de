package searcher

import "arbor/game"

// BestAction returns the most visited child of id. Ties go to the higher Q,
// then to the lower action. ok is false when no child has been visited.
func (t *Tree) BestAction(id NodeID) (action game.Action, ok bool) {
	best := EdgeStats{Action: game.NoAction}
	var bestVisits int
	var bestQ float64
	for _, e := range t.Edges(id) {
		if e.Child == nilNode {
			continue
		}
		stats := t.Stats(e.Child)
		if stats.Visits == 0 {
			continue
		}
		if !ok || stats.Visits > bestVisits || (stats.Visits == bestVisits && stats.Q > bestQ) {
			best, bestVisits, bestQ, ok = e, stats.Visits, stats.Q, true
		}
	}
	return best.Action, ok
}

// FallbackAction picks the action with the highest prior, the lowest action
// on ties. An unexpanded node falls back to its lowest legal action.
func (t *Tree) FallbackAction(id NodeID) game.Action {
	edges := t.Edges(id)
	if len(edges) == 0 {
		actions := t.State(id).LegalActions()
		if len(actions) == 0 {
			return game.NoAction
		}
		lowest := actions[0]
		for _, a := range actions[1:] {
			if a < lowest {
				lowest = a
			}
		}
		return lowest
	}

	best := edges[0]
	for _, e := range edges[1:] {
		if e.Prior > best.Prior {
			best = e
		}
	}
	return best.Action
}

// Policy returns the visit distribution over the children of id.
func (t *Tree) Policy(id NodeID) map[game.Action]float64 {
	policy := make(map[game.Action]float64)
	total := 0
	for _, e := range t.Edges(id) {
		if e.Child == nilNode {
			continue
		}
		if visits := t.Stats(e.Child).Visits; visits > 0 {
			policy[e.Action] = float64(visits)
			total += visits
		}
	}
	for action := range policy {
		policy[action] /= float64(total)
	}
	return policy
}
