package metrics

import (
	"sync/atomic"
	"time"
)

type SearchMetric struct {
	Goroutines   int
	Duration     time.Duration
	Simulations  int
	Abandoned    int
	Collisions   int
	TerminalHits int
	MaxDepth     int
	TreeSize     int
	IsTreeReset  bool
}

type MoveMetric struct {
	Step   int
	Player int // Player ID
	SearchMetric
}

type GameMetric struct {
	StartingPlayer int // Player ID
	Winner         int // Player ID, 0 when the game was cut off
	StartTime      time.Time
	EndTime        time.Time
	Duration       time.Duration
	TotalMoves     int
}

// Collector gathers statistics of one search at a time. Start resets it.
type Collector interface {
	Start(goroutines int)
	SetTreeReset(value bool)
	AddSimulation()
	AddAbandoned()
	AddCollision()
	AddTerminal()
	ObserveDepth(depth int)
	ObserveEvaluation(elapsed time.Duration)
	Complete(treeSize int) SearchMetric
}

type collector struct {
	goroutines   int
	startTime    time.Time
	simulations  atomic.Int32
	abandoned    atomic.Int32
	collisions   atomic.Int32
	terminalHits atomic.Int32
	maxDepth     atomic.Int32
	isTreeReset  atomic.Bool
}

func NewCollector() Collector {
	return &collector{}
}

func (m *collector) SetTreeReset(value bool) {
	m.isTreeReset.Store(value)
}

func (m *collector) Start(goroutines int) {
	m.startTime = time.Now()
	m.goroutines = goroutines
	m.simulations.Store(0)
	m.abandoned.Store(0)
	m.collisions.Store(0)
	m.terminalHits.Store(0)
	m.maxDepth.Store(0)
}

func (m *collector) AddSimulation() {
	m.simulations.Add(1)
}

func (m *collector) AddAbandoned() {
	m.abandoned.Add(1)
}

func (m *collector) AddCollision() {
	m.collisions.Add(1)
}

func (m *collector) AddTerminal() {
	m.terminalHits.Add(1)
}

func (m *collector) ObserveDepth(depth int) {
	for {
		current := m.maxDepth.Load()
		if int32(depth) <= current || m.maxDepth.CompareAndSwap(current, int32(depth)) {
			return
		}
	}
}

func (m *collector) ObserveEvaluation(elapsed time.Duration) {}

func (m *collector) Complete(treeSize int) SearchMetric {
	return SearchMetric{
		Goroutines:   m.goroutines,
		Duration:     time.Since(m.startTime),
		Simulations:  int(m.simulations.Load()),
		Abandoned:    int(m.abandoned.Load()),
		Collisions:   int(m.collisions.Load()),
		TerminalHits: int(m.terminalHits.Load()),
		MaxDepth:     int(m.maxDepth.Load()),
		TreeSize:     treeSize,
		IsTreeReset:  m.isTreeReset.Load(),
	}
}

type dummyCollector struct{}

func NewDummyCollector() Collector {
	return &dummyCollector{}
}

func (m *dummyCollector) Start(goroutines int)                    {}
func (m *dummyCollector) SetTreeReset(value bool)                 {}
func (m *dummyCollector) AddSimulation()                          {}
func (m *dummyCollector) AddAbandoned()                           {}
func (m *dummyCollector) AddCollision()                           {}
func (m *dummyCollector) AddTerminal()                            {}
func (m *dummyCollector) ObserveDepth(depth int)                  {}
func (m *dummyCollector) ObserveEvaluation(elapsed time.Duration) {}
func (m *dummyCollector) Complete(treeSize int) SearchMetric      { return SearchMetric{} }
