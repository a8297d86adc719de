package experiments

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"arbor/config"
	"arbor/engine"
	"arbor/game"
	"arbor/game/isolation"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Game.Width = 4
	cfg.Game.Height = 4
	cfg.Game.MaxTurns = 50
	cfg.Evaluator.Kind = "uniform"
	cfg.Evaluator.CacheSize = 0
	cfg.Search.Goroutines = 1
	cfg.Search.Simulations = 10
	cfg.Search.Duration = 0
	cfg.Experiment.Games = 2
	cfg.Experiment.OutputDir = t.TempDir()
	require.NoError(t, cfg.Validate())
	return cfg
}

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return records
}

func TestRunEvaluators(t *testing.T) {
	cfg := testConfig(t)

	dir, err := RunEvaluators(context.Background(), cfg)
	require.NoError(t, err)

	agents := readCSV(t, filepath.Join(dir, "agent_configs.csv"))
	require.Len(t, agents, 1+5, "Header plus three evaluators and the two baselines")
	require.Equal(t, "alphabeta", agents[5][len(agents[5])-1])

	games := readCSV(t, filepath.Join(dir, "game_records.csv"))
	require.Len(t, games, 1+7*cfg.Experiment.Games, "Each evaluator meets both baselines, which also meet each other")
	for _, row := range games[1:] {
		_, err := uuid.Parse(row[1])
		require.NoError(t, err)
	}

	moves := readCSV(t, filepath.Join(dir, "move_records.csv"))
	require.Greater(t, len(moves), 1)
	require.Len(t, moves[0], 12)
}

func TestRunGame(t *testing.T) {
	cfg := testConfig(t)
	random := parallelConfigs(cfg.Search)[0]
	random.Evaluator = "random"

	result, err := runGame(context.Background(), cfg, random, parallelConfigs(cfg.Search)[1], 7)
	require.NoError(t, err)
	require.True(t, game.IsOver(result.Final) || len(result.Actions) == cfg.Game.MaxTurns)
	require.Len(t, result.Moves, len(result.Actions))
}

func TestRunSelfPlay(t *testing.T) {
	cfg := testConfig(t)
	cfg.Search.Simulations = 20

	path, err := RunSelfPlay(context.Background(), cfg)
	require.NoError(t, err)
	require.FileExists(t, path)

	rows, err := ReadSamples(path)
	require.NoError(t, err)
	require.NotEmpty(t, rows)

	games := map[string]bool{}
	for _, row := range rows {
		games[row.GameID] = true
		require.Len(t, row.PolicyProbs, len(row.Actions))
		require.Contains(t, []float32{float32(game.Win), float32(game.Loss)}, row.Value)

		var sum float32
		for _, p := range row.PolicyProbs {
			sum += p
		}
		require.InDelta(t, 1, sum, 1e-4)

		var snapshot isolation.Snapshot
		require.NoError(t, json.Unmarshal(row.State, &snapshot))
		board, err := isolation.FromSnapshot(snapshot)
		require.NoError(t, err)
		require.Equal(t, row.StateHash, uint64(board.Hash()))
	}
	require.Len(t, games, cfg.Experiment.Games)
}

func TestSampleRows(t *testing.T) {
	board, err := isolation.NewBoard(4, 4)
	require.NoError(t, err)
	actions := board.LegalActions()

	result := engine.Result{
		ID: uuid.New(),
		Samples: []engine.Sample{{
			Ply:     0,
			Player:  isolation.Player1,
			State:   board,
			Policy:  map[game.Action]float64{actions[2]: 0.25, actions[0]: 0.75},
			Outcome: game.Loss,
		}},
	}

	rows, err := SampleRows(result)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	row := rows[0]
	require.Equal(t, result.ID.String(), row.GameID)
	require.Equal(t, []int32{int32(actions[0]), int32(actions[2])}, row.Actions, "Actions should be sorted")
	require.Equal(t, []float32{0.75, 0.25}, row.PolicyProbs)
	require.Equal(t, float32(-1), row.Value)
	require.Equal(t, uint64(board.Hash()), row.StateHash)

	path, err := WriteSamples(t.TempDir(), rows)
	require.NoError(t, err)
	read, err := ReadSamples(path)
	require.NoError(t, err)
	require.Equal(t, rows, read)
}
