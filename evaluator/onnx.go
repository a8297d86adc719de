package evaluator

import (
	"context"
	"fmt"
	"os"
	"sync"

	"arbor/game"

	ort "github.com/yalue/onnxruntime_go"
)

// Featurizer encodes states into the planes an ONNX model expects.
type Featurizer interface {
	// Shape returns the (channels, height, width) of one encoded state.
	Shape() (channels, height, width int)
	// ActionSpace is the length of the model's policy output.
	ActionSpace() int
	// Features writes the encoding of state into dst, which has
	// channels*height*width elements.
	Features(state game.State, dst []float32)
}

type OnnxConfig struct {
	ModelPath string
	// SharedLibraryPath points at libonnxruntime; ORT_SHARED_LIBRARY_PATH
	// is used when empty.
	SharedLibraryPath string
	InputName         string
	PolicyName        string
	ValueName         string
}

// Onnx evaluates batches of states with an ONNX model producing policy
// logits [B, A] and values [B, 1]. Wrap it in a Batcher to serve
// concurrent searches.
type Onnx struct {
	session    *ort.DynamicAdvancedSession
	featurizer Featurizer
	mu         sync.Mutex
}

var ortInitOnce sync.Once
var ortInitErr error

func NewOnnx(cfg OnnxConfig, featurizer Featurizer) (*Onnx, error) {
	if cfg.InputName == "" {
		cfg.InputName = "input"
	}
	if cfg.PolicyName == "" {
		cfg.PolicyName = "policy"
	}
	if cfg.ValueName == "" {
		cfg.ValueName = "value"
	}

	ortInitOnce.Do(func() {
		path := cfg.SharedLibraryPath
		if path == "" {
			path = os.Getenv("ORT_SHARED_LIBRARY_PATH")
		}
		if path != "" {
			ort.SetSharedLibraryPath(path)
		}
		ortInitErr = ort.InitializeEnvironment()
	})
	if ortInitErr != nil {
		return nil, fmt.Errorf("failed to init onnxruntime: %w", ortInitErr)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer options.Destroy()

	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath,
		[]string{cfg.InputName}, []string{cfg.PolicyName, cfg.ValueName}, options)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return &Onnx{session: session, featurizer: featurizer}, nil
}

func (o *Onnx) Close() error {
	return o.session.Destroy()
}

func (o *Onnx) EvaluateBatch(ctx context.Context, states []game.State) ([]Evaluation, error) {
	if err := ctx.Err(); err != nil {
		return nil, contextError(err)
	}

	batch := int64(len(states))
	channels, height, width := o.featurizer.Shape()
	planeSize := channels * height * width
	actionSpace := o.featurizer.ActionSpace()

	input := make([]float32, len(states)*planeSize)
	for i, state := range states {
		o.featurizer.Features(state, input[i*planeSize:(i+1)*planeSize])
	}

	inputTensor, err := ort.NewTensor(ort.NewShape(batch, int64(channels), int64(height), int64(width)), input)
	if err != nil {
		return nil, fmt.Errorf("%w: input tensor: %v", ErrUnavailable, err)
	}
	defer inputTensor.Destroy()

	policyTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(batch, int64(actionSpace)))
	if err != nil {
		return nil, fmt.Errorf("%w: policy tensor: %v", ErrUnavailable, err)
	}
	defer policyTensor.Destroy()

	valueTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(batch, 1))
	if err != nil {
		return nil, fmt.Errorf("%w: value tensor: %v", ErrUnavailable, err)
	}
	defer valueTensor.Destroy()

	o.mu.Lock()
	err = o.session.Run([]ort.Value{inputTensor}, []ort.Value{policyTensor, valueTensor})
	o.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("%w: run: %v", ErrUnavailable, err)
	}

	return decodeOutputs(states, policyTensor.GetData(), valueTensor.GetData(), actionSpace), nil
}

// decodeOutputs masks the policy logits to the legal actions of each state
// and normalizes them with a softmax.
func decodeOutputs(states []game.State, policy, value []float32, actionSpace int) []Evaluation {
	evs := make([]Evaluation, len(states))
	for i, state := range states {
		logits := policy[i*actionSpace : (i+1)*actionSpace]
		actions := state.LegalActions()

		scores := make([]float64, 0, len(actions))
		legal := make([]game.Action, 0, len(actions))
		for _, a := range actions {
			if int(a) < 0 || int(a) >= actionSpace {
				continue
			}
			legal = append(legal, a)
			scores = append(scores, float64(logits[a]))
		}

		priors := make(map[game.Action]float64, len(legal))
		for j, p := range Softmax(scores, 1) {
			priors[legal[j]] = p
		}
		evs[i] = Evaluation{
			Value:  float64(value[i]),
			Priors: priors,
		}
	}
	return evs
}
