package searcher

import "math"

// DefaultExploration is the PUCT constant c.
const DefaultExploration = 1.5

// puct scores a child as Q + c*P*sqrt(N)/(1+n).
type puct struct {
	numerator float64 // c*sqrt(N)
}

func newPUCT(c float64, parentVisits int32) puct {
	return puct{numerator: c * math.Sqrt(float64(parentVisits))}
}

func (p puct) evaluate(q, prior float64, visits int32) float64 {
	return q + p.numerator*prior/(1+float64(visits))
}

// selectEdge picks the edge maximizing PUCT. Edges are sorted by action, so
// keeping the first maximum breaks ties toward the lowest action.
func (t *Tree) selectEdge(n *node, c float64) int {
	policy := newPUCT(c, n.visits.Load())

	best := -1
	bestScore := math.Inf(-1)
	for i := range n.edges {
		e := &n.edges[i]
		q, visits := 0.0, int32(0)
		if id := NodeID(e.child.Load()); id != nilNode {
			child := t.node(id)
			q, visits = child.q(), child.visits.Load()
		}
		if score := policy.evaluate(q, e.prior, visits); score > bestScore {
			best, bestScore = i, score
		}
	}
	return best
}
