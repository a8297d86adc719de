package searcher

import (
	"fmt"
	"sort"
	"sync"

	"arbor/game"

	"github.com/rs/zerolog/log"
)

// Tree is an arena of nodes with exactly one root. Nodes are appended
// concurrently during a search; Advance and Reset must not overlap with one.
type Tree struct {
	mu    sync.RWMutex
	nodes []*node
	root  NodeID
}

func NewTree() *Tree {
	return &Tree{root: nilNode}
}

// NodeStats is a snapshot of a node's statistics.
type NodeStats struct {
	Action      game.Action
	Prior       float64
	Visits      int     // backed-up simulations only
	Value       float64 // W
	Q           float64 // W/N, 0 when unvisited
	VirtualLoss int
	Expanded    bool
}

// EdgeStats describes an expanded action. Child is nilNode until a
// simulation has traversed the edge.
type EdgeStats struct {
	Action game.Action
	Prior  float64
	Child  NodeID
}

// Root returns the root for state, reusing the current root when it holds
// the same position. The second result reports whether the tree was rebuilt.
func (t *Tree) Root(state game.State) (NodeID, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.root != nilNode {
		root := t.nodes[t.root]
		if root.state.Hash() == state.Hash() {
			return t.root, false
		}
		log.Warn().Msgf("root hash %d does not match state hash %d, rebuilding tree", root.state.Hash(), state.Hash())
	}

	t.nodes = []*node{newNode(state, nilNode, game.NoAction, 1)}
	t.root = 0
	return t.root, true
}

// RootID returns the current root, nilNode on an empty tree.
func (t *Tree) RootID() NodeID {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.root
}

func (t *Tree) Size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return len(t.nodes)
}

// Reset discards every node.
func (t *Tree) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.nodes = nil
	t.root = nilNode
}

func (t *Tree) node(id NodeID) *node {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.nodes[id]
}

func (t *Tree) add(n *node) NodeID {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.nodes = append(t.nodes, n)
	return NodeID(len(t.nodes) - 1)
}

// Expand creates one edge per action, sorted by action, with the prior
// taken from priors (0 when absent) and zero counts. Only the first call
// on a node has an effect; it reports whether this call expanded.
func (t *Tree) Expand(id NodeID, actions []game.Action, priors map[game.Action]float64) bool {
	n := t.node(id)
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.expand(actions, priors)
}

// expand must be called with n.mu held.
func (n *node) expand(actions []game.Action, priors map[game.Action]float64) bool {
	if n.expanded.Load() {
		return false
	}

	sorted := make([]game.Action, len(actions))
	copy(sorted, actions)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	n.edges = make([]edge, len(sorted))
	for i, action := range sorted {
		n.edges[i].action = action
		n.edges[i].prior = priors[action]
		n.edges[i].child.Store(int32(nilNode))
	}
	n.expanded.Store(true)
	return true
}

// child returns the node behind the i-th edge of parent, materializing it
// on first traversal.
func (t *Tree) child(parentID NodeID, parent *node, i int) NodeID {
	e := &parent.edges[i]
	if id := NodeID(e.child.Load()); id != nilNode {
		return id
	}

	parent.mu.Lock()
	defer parent.mu.Unlock()

	if id := NodeID(e.child.Load()); id != nilNode {
		return id
	}
	id := t.add(newNode(parent.state.Play(e.action), parentID, e.action, e.prior))
	e.child.Store(int32(id))
	return id
}

// Advance re-roots the tree onto the child reached by action and releases
// every node outside the new root's subtree. Statistics in the subtree are
// kept as they are.
func (t *Tree) Advance(action game.Action) (NodeID, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.root == nilNode {
		return nilNode, fmt.Errorf("advance by %d on empty tree: %w", action, ErrInvalidMove)
	}

	root := t.nodes[t.root]
	next := nilNode
	if root.expanded.Load() {
		for i := range root.edges {
			if root.edges[i].action == action {
				next = NodeID(root.edges[i].child.Load())
				break
			}
		}
	}
	if next == nilNode {
		return nilNode, fmt.Errorf("advance by %d: %w", action, ErrInvalidMove)
	}

	t.compact(next)
	return t.root, nil
}

// compact keeps the subtree under id, renumbering nodes breadth-first so
// that the new root is 0.
func (t *Tree) compact(id NodeID) {
	remap := map[NodeID]NodeID{id: 0}
	kept := []*node{t.nodes[id]}
	for i := 0; i < len(kept); i++ {
		n := kept[i]
		for j := range n.edges {
			child := NodeID(n.edges[j].child.Load())
			if child == nilNode {
				continue
			}
			remap[child] = NodeID(len(kept))
			kept = append(kept, t.nodes[child])
		}
	}

	for _, n := range kept {
		if parent, ok := remap[n.parent]; ok {
			n.parent = parent
		} else {
			n.parent = nilNode
		}
		for j := range n.edges {
			if child := NodeID(n.edges[j].child.Load()); child != nilNode {
				n.edges[j].child.Store(int32(remap[child]))
			}
		}
	}

	t.nodes = kept
	t.root = 0
}

func (t *Tree) Stats(id NodeID) NodeStats {
	n := t.node(id)
	visits := n.realVisits()
	value := n.value.Load()
	q := 0.0
	if visits > 0 {
		q = value / float64(visits)
	}
	return NodeStats{
		Action:      n.action,
		Prior:       n.prior,
		Visits:      int(visits),
		Value:       value,
		Q:           q,
		VirtualLoss: int(n.virtual.Load()),
		Expanded:    n.expanded.Load(),
	}
}

func (t *Tree) Edges(id NodeID) []EdgeStats {
	n := t.node(id)
	if !n.expanded.Load() {
		return nil
	}
	edges := make([]EdgeStats, len(n.edges))
	for i := range n.edges {
		edges[i] = EdgeStats{
			Action: n.edges[i].action,
			Prior:  n.edges[i].prior,
			Child:  NodeID(n.edges[i].child.Load()),
		}
	}
	return edges
}

// State returns the position held by a node.
func (t *Tree) State(id NodeID) game.State {
	return t.node(id).state
}
