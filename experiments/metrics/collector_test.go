package metrics

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestCollector(t *testing.T) {
	c := NewCollector()
	c.Start(4)
	c.SetTreeReset(true)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(depth int) {
			defer wg.Done()
			c.AddSimulation()
			c.ObserveDepth(depth)
		}(i)
	}
	wg.Wait()
	c.AddAbandoned()
	c.AddCollision()
	c.AddTerminal()

	m := c.Complete(42)
	require.Equal(t, 4, m.Goroutines)
	require.Equal(t, 8, m.Simulations)
	require.Equal(t, 1, m.Abandoned)
	require.Equal(t, 1, m.Collisions)
	require.Equal(t, 1, m.TerminalHits)
	require.Equal(t, 7, m.MaxDepth)
	require.Equal(t, 42, m.TreeSize)
	require.True(t, m.IsTreeReset)

	c.Start(1)
	m = c.Complete(0)
	require.Zero(t, m.Simulations, "Start should clear the counters")
	require.Zero(t, m.MaxDepth)
}

func TestDummyCollector(t *testing.T) {
	c := NewDummyCollector()
	c.Start(2)
	c.AddSimulation()
	require.Equal(t, SearchMetric{}, c.Complete(10))
}

func TestPrometheusCollector(t *testing.T) {
	before := testutil.ToFloat64(simulationsTotal)

	c := NewPrometheusCollector()
	c.Start(1)
	c.AddSimulation()
	c.AddSimulation()
	c.ObserveEvaluation(time.Millisecond)
	m := c.Complete(5)

	require.Equal(t, 2, m.Simulations)
	require.Equal(t, before+2, testutil.ToFloat64(simulationsTotal))
	require.Equal(t, float64(5), testutil.ToFloat64(treeSize))
}

func TestWriter(t *testing.T) {
	w, err := NewWriter(t.TempDir(), "test")
	require.NoError(t, err)

	require.NoError(t, w.WriteAgentConfigs([]AgentConfig{{ID: 1, Goroutines: 2, Duration: time.Second, Exploration: 1.5, Evaluator: "uniform"}}))
	require.NoError(t, w.WriteMoveRecords([]MoveRecord{{Game: 1, MoveMetric: MoveMetric{Step: 3, Player: 2}}}))

	f, err := os.Open(filepath.Join(w.Dir(), "agent_configs.csv"))
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Equal(t, [][]string{
		{"id", "goroutines", "simulations", "duration", "exploration", "evaluator"},
		{"1", "2", "0", "1s", "1.5", "uniform"},
	}, records)

	require.FileExists(t, filepath.Join(w.Dir(), "move_records.csv"))
}
