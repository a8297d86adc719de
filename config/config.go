package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the full configuration of the agent, its evaluator and the
// programs around it.
type Config struct {
	Search     SearchConfig     `yaml:"search"`
	Evaluator  EvaluatorConfig  `yaml:"evaluator"`
	Game       GameConfig       `yaml:"game"`
	Server     ServerConfig     `yaml:"server"`
	Log        LogConfig        `yaml:"log"`
	Experiment ExperimentConfig `yaml:"experiment"`
	AlphaBeta  AlphaBetaConfig  `yaml:"alphabeta"`
}

// SearchConfig bounds one decision. At least one of simulations and
// duration must be set.
type SearchConfig struct {
	Goroutines       int           `yaml:"goroutines" validate:"min=1,max=1024"`
	Simulations      int           `yaml:"simulations" validate:"min=0,required_without=Duration"`
	Duration         time.Duration `yaml:"duration" validate:"min=0,required_without=Simulations"`
	Exploration      float64       `yaml:"exploration" validate:"gt=0"`
	EvaluatorTimeout time.Duration `yaml:"evaluator_timeout" validate:"min=0"`
	MaxFailures      int           `yaml:"max_failures" validate:"min=1"`
	Metrics          bool          `yaml:"metrics"`
}

type EvaluatorConfig struct {
	Kind        string  `yaml:"kind" validate:"oneof=uniform heuristic rollout onnx"`
	Heuristic   string  `yaml:"heuristic" validate:"oneof=move_difference mobility aggressive"`
	Temperature float64 `yaml:"temperature" validate:"gte=0"`
	Seed        uint64  `yaml:"seed"`
	// RolloutCutoff is the playout depth before the heuristic takes over.
	RolloutCutoff int           `yaml:"rollout_cutoff" validate:"min=0"`
	CacheSize     int64         `yaml:"cache_size" validate:"min=0"`
	BatchSize     int           `yaml:"batch_size" validate:"min=0"`
	BatchTimeout  time.Duration `yaml:"batch_timeout" validate:"min=0"`
	ModelPath     string        `yaml:"model_path" validate:"required_if=Kind onnx"`
	LibraryPath   string        `yaml:"library_path"`
}

type GameConfig struct {
	Width    int `yaml:"width" validate:"min=3,max=32"`
	Height   int `yaml:"height" validate:"min=3,max=32"`
	MaxTurns int `yaml:"max_turns" validate:"min=1"`
}

type ServerConfig struct {
	Addr        string `yaml:"addr" validate:"required"`
	MaxSessions int    `yaml:"max_sessions" validate:"min=1"`
}

type LogConfig struct {
	Level string `yaml:"level" validate:"oneof=trace debug info warn error"`
	// Format is console, json, or auto to pick console on a terminal.
	Format string `yaml:"format" validate:"oneof=auto console json"`
}

type ExperimentConfig struct {
	Games     int    `yaml:"games" validate:"min=1"`
	OutputDir string `yaml:"output_dir" validate:"required"`
	// Temperature of self-play move sampling.
	Temperature float64 `yaml:"temperature" validate:"gte=0"`
}

// AlphaBetaConfig tunes the alpha-beta baseline opponent. It shares the
// search duration and heuristic of the tree search. A zero depth deepens
// until the duration runs out.
type AlphaBetaConfig struct {
	Depth     int           `yaml:"depth" validate:"min=0"`
	Threshold time.Duration `yaml:"threshold" validate:"min=0"`
}

func Default() Config {
	return Config{
		Search: SearchConfig{
			Goroutines:  4,
			Duration:    time.Second,
			Exploration: 1.5,
			MaxFailures: 64,
		},
		Evaluator: EvaluatorConfig{
			Kind:          "heuristic",
			Heuristic:     "move_difference",
			Temperature:   1,
			RolloutCutoff: 20,
			CacheSize:     1 << 16,
			BatchTimeout:  time.Millisecond,
		},
		Game: GameConfig{
			Width:    7,
			Height:   7,
			MaxTurns: 500,
		},
		Server: ServerConfig{
			Addr:        ":8080",
			MaxSessions: 64,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "auto",
		},
		Experiment: ExperimentConfig{
			Games:       30,
			OutputDir:   "experiments",
			Temperature: 1,
		},
		AlphaBeta: AlphaBetaConfig{
			Threshold: 10 * time.Millisecond,
		},
	}
}

var validate = validator.New()

// Load reads configuration with priority: env > file > defaults. An empty
// path skips the file.
func Load(path string) (Config, error) {
	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return config, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &config); err != nil {
			return config, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := loadFromEnv(&config); err != nil {
		return config, err
	}

	if err := config.Validate(); err != nil {
		return config, fmt.Errorf("invalid config: %w", err)
	}
	return config, nil
}

func (c Config) Validate() error {
	return validate.Struct(c)
}

func loadFromEnv(config *Config) error {
	var errs []error
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			i, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = i
		}
	}
	setFloat := func(key string, dst *float64) {
		if v := os.Getenv(key); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = f
		}
	}
	setDuration := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	// Search
	setInt("ARBOR_SEARCH_GOROUTINES", &config.Search.Goroutines)
	setInt("ARBOR_SEARCH_SIMULATIONS", &config.Search.Simulations)
	setDuration("ARBOR_SEARCH_DURATION", &config.Search.Duration)
	setFloat("ARBOR_SEARCH_EXPLORATION", &config.Search.Exploration)
	setDuration("ARBOR_SEARCH_EVALUATOR_TIMEOUT", &config.Search.EvaluatorTimeout)
	setInt("ARBOR_SEARCH_MAX_FAILURES", &config.Search.MaxFailures)
	if v := os.Getenv("ARBOR_SEARCH_METRICS"); v != "" {
		config.Search.Metrics = v == "true" || v == "1"
	}

	// Evaluator
	setString("ARBOR_EVALUATOR_KIND", &config.Evaluator.Kind)
	setString("ARBOR_EVALUATOR_HEURISTIC", &config.Evaluator.Heuristic)
	setString("ARBOR_EVALUATOR_MODEL_PATH", &config.Evaluator.ModelPath)
	setString("ARBOR_EVALUATOR_LIBRARY_PATH", &config.Evaluator.LibraryPath)
	setInt("ARBOR_EVALUATOR_BATCH_SIZE", &config.Evaluator.BatchSize)

	// Game
	setInt("ARBOR_GAME_WIDTH", &config.Game.Width)
	setInt("ARBOR_GAME_HEIGHT", &config.Game.Height)

	setString("ARBOR_SERVER_ADDR", &config.Server.Addr)
	setString("ARBOR_LOG_LEVEL", &config.Log.Level)
	setString("ARBOR_LOG_FORMAT", &config.Log.Format)
	setString("ARBOR_EXPERIMENT_OUTPUT_DIR", &config.Experiment.OutputDir)
	setInt("ARBOR_ALPHABETA_DEPTH", &config.AlphaBeta.Depth)
	setDuration("ARBOR_ALPHABETA_THRESHOLD", &config.AlphaBeta.Threshold)

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment: %w", errors.Join(errs...))
	}
	return nil
}
