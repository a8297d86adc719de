package searcher

import (
	"math"
	"sync"
	"sync/atomic"

	"arbor/game"
)

// NodeID addresses a node in the tree arena. IDs are stable until the
// tree is advanced or reset.
type NodeID int32

const nilNode NodeID = -1

type edge struct {
	action game.Action
	prior  float64
	child  atomic.Int32 // NodeID, nilNode until the first traversal
}

type node struct {
	mu     sync.Mutex // guards expansion and child materialization
	state  game.State
	parent NodeID
	action game.Action // action played from the parent
	prior  float64
	player int
	over   bool

	// visits counts real and in-flight simulations; virtual counts the
	// in-flight ones only. virtual <= visits holds at all times.
	visits  atomic.Int32
	virtual atomic.Int32
	value   atomicFloat // W, from the perspective of the player who moved here

	expanded atomic.Bool
	edges    []edge // immutable once expanded is set
}

func newNode(state game.State, parent NodeID, action game.Action, prior float64) *node {
	return &node{
		state:  state,
		parent: parent,
		action: action,
		prior:  prior,
		player: state.Player(),
		over:   game.IsOver(state),
	}
}

func (n *node) applyLoss() {
	n.visits.Add(1)
	n.virtual.Add(1)
}

// backup turns the in-flight visit into a real one.
func (n *node) backup(value float64) {
	n.value.Add(value)
	n.virtual.Add(-1)
}

func (n *node) reverseLoss() {
	n.virtual.Add(-1)
	n.visits.Add(-1)
}

func (n *node) realVisits() int32 {
	for {
		visits, virtual := n.visits.Load(), n.virtual.Load()
		if virtual <= visits {
			return visits - virtual
		}
	}
}

// q is the mean value seen by selection: in-flight visits count as draws.
func (n *node) q() float64 {
	visits := n.visits.Load()
	if visits <= 0 {
		return 0
	}
	return n.value.Load() / float64(visits)
}

type atomicFloat struct {
	bits atomic.Uint64
}

func (f *atomicFloat) Load() float64 {
	return math.Float64frombits(f.bits.Load())
}

func (f *atomicFloat) Add(delta float64) {
	for {
		old := f.bits.Load()
		next := math.Float64bits(math.Float64frombits(old) + delta)
		if f.bits.CompareAndSwap(old, next) {
			return
		}
	}
}
