package experiments

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"arbor/engine"
	"arbor/game"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress/zstd"
)

// SampleRow is one self-play training sample.
//
// State is the JSON snapshot of the position when the game can encode
// itself, its printed form otherwise. Actions and PolicyProbs are parallel:
// PolicyProbs holds the normalized visit counts of the mover's search.
// Value is the final outcome from the mover's perspective.
type SampleRow struct {
	GameID      string    `parquet:"game_id,dict"`
	Ply         int32     `parquet:"ply"`
	Player      int32     `parquet:"player"`
	StateHash   uint64    `parquet:"state_hash"`
	State       []byte    `parquet:"state"`
	Actions     []int32   `parquet:"actions"`
	PolicyProbs []float32 `parquet:"policy_probs"`
	Value       float32   `parquet:"value"`
}

// SampleRows flattens the samples of a finished game.
func SampleRows(result engine.Result) ([]SampleRow, error) {
	rows := make([]SampleRow, 0, len(result.Samples))
	for _, sample := range result.Samples {
		state, err := encodeState(sample.State)
		if err != nil {
			return nil, fmt.Errorf("encode state at ply %d: %w", sample.Ply, err)
		}

		actions := make([]game.Action, 0, len(sample.Policy))
		for action := range sample.Policy {
			actions = append(actions, action)
		}
		slices.Sort(actions)

		row := SampleRow{
			GameID:      result.ID.String(),
			Ply:         int32(sample.Ply),
			Player:      int32(sample.Player),
			StateHash:   uint64(sample.State.Hash()),
			State:       state,
			Actions:     make([]int32, len(actions)),
			PolicyProbs: make([]float32, len(actions)),
			Value:       float32(sample.Outcome),
		}
		for i, action := range actions {
			row.Actions[i] = int32(action)
			row.PolicyProbs[i] = float32(sample.Policy[action])
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func encodeState(state game.State) ([]byte, error) {
	if m, ok := state.(json.Marshaler); ok {
		return m.MarshalJSON()
	}
	return []byte(fmt.Sprint(state)), nil
}

// WriteSamples writes a batch of samples to a new parquet file in dir and
// returns its path. The file appears atomically.
func WriteSamples(dir string, rows []SampleRow) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	name := fmt.Sprintf("selfplay_%d.parquet", time.Now().UnixNano())
	outPath := filepath.Join(dir, name)
	tmpPath := outPath + ".tmp"
	_ = os.Remove(tmpPath)

	if err := parquet.WriteFile(tmpPath, rows,
		parquet.Compression(&zstd.Codec{Level: zstd.SpeedBetterCompression}),
		parquet.SkipPageBounds("state"),
		parquet.KeyValueMetadata("schema", "arbor_selfplay_v1"),
	); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("write parquet: %w", err)
	}

	if err := os.Rename(tmpPath, outPath); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("rename parquet: %w", err)
	}
	return outPath, nil
}

// ReadSamples loads a file written by WriteSamples.
func ReadSamples(path string) ([]SampleRow, error) {
	rows, err := parquet.ReadFile[SampleRow](path)
	if err != nil {
		return nil, fmt.Errorf("read parquet: %w", err)
	}
	return rows, nil
}
