package experiments

import (
	"context"
	"fmt"

	"arbor/agent"
	"arbor/config"
	"arbor/engine"
	"arbor/experiments/metrics"
	"arbor/game/isolation"

	"github.com/rs/zerolog/log"
)

func parallelConfigs(base config.SearchConfig) []metrics.AgentConfig {
	configs := []metrics.AgentConfig{}
	for i, goroutines := range []int{1, 2, 4, 8, 16} {
		configs = append(configs, metrics.AgentConfig{
			ID:          i + 1,
			Goroutines:  goroutines,
			Simulations: base.Simulations,
			Duration:    base.Duration,
			Exploration: base.Exploration,
		})
	}
	return configs
}

// RunParallelization pairs each parallel agent against the sequential
// baseline with the same time budget.
func RunParallelization(ctx context.Context, cfg config.Config) (string, error) {
	baseline := metrics.AgentConfig{
		ID:          0,
		Goroutines:  1,
		Simulations: cfg.Search.Simulations,
		Duration:    cfg.Search.Duration,
		Exploration: cfg.Search.Exploration,
	}
	configs := parallelConfigs(cfg.Search)
	matchUps := [][2]metrics.AgentConfig{}
	for _, ac := range configs {
		matchUps = append(matchUps, [2]metrics.AgentConfig{baseline, ac})
	}
	return runExperiment(ctx, cfg, "parallelization", append(configs, baseline), matchUps)
}

// RunExploration pairs agents with different PUCT constants against the
// configured one.
func RunExploration(ctx context.Context, cfg config.Config) (string, error) {
	baseline := metrics.AgentConfig{
		ID:          0,
		Goroutines:  cfg.Search.Goroutines,
		Simulations: cfg.Search.Simulations,
		Duration:    cfg.Search.Duration,
		Exploration: cfg.Search.Exploration,
	}
	configs := []metrics.AgentConfig{}
	for i, c := range []float64{0.5, 1, 2, 4} {
		ac := baseline
		ac.ID = i + 1
		ac.Exploration = c
		configs = append(configs, ac)
	}
	matchUps := [][2]metrics.AgentConfig{}
	for _, ac := range configs {
		matchUps = append(matchUps, [2]metrics.AgentConfig{baseline, ac})
	}
	return runExperiment(ctx, cfg, "exploration", append(configs, baseline), matchUps)
}

// RunEvaluators pairs every evaluator kind against a random player and an
// alpha-beta player, and the two baselines against each other.
func RunEvaluators(ctx context.Context, cfg config.Config) (string, error) {
	random := metrics.AgentConfig{ID: 0, Evaluator: "random"}
	configs := []metrics.AgentConfig{}
	for i, kind := range []string{"uniform", "heuristic", "rollout"} {
		configs = append(configs, metrics.AgentConfig{
			ID:          i + 1,
			Goroutines:  cfg.Search.Goroutines,
			Simulations: cfg.Search.Simulations,
			Duration:    cfg.Search.Duration,
			Exploration: cfg.Search.Exploration,
			Evaluator:   kind,
		})
	}
	alphaBeta := metrics.AgentConfig{ID: len(configs) + 1, Duration: cfg.Search.Duration, Evaluator: "alphabeta"}
	matchUps := [][2]metrics.AgentConfig{}
	for _, ac := range configs {
		matchUps = append(matchUps, [2]metrics.AgentConfig{random, ac}, [2]metrics.AgentConfig{alphaBeta, ac})
	}
	matchUps = append(matchUps, [2]metrics.AgentConfig{random, alphaBeta})
	return runExperiment(ctx, cfg, "evaluators", append(configs, random, alphaBeta), matchUps)
}

// runExperiment plays cfg.Experiment.Games games per matchup, alternating
// the starting agent, and stores the results as CSV. It returns the output
// directory.
func runExperiment(ctx context.Context, cfg config.Config, name string, configs []metrics.AgentConfig, matchUps [][2]metrics.AgentConfig) (string, error) {
	count := 0
	gameRecords := []metrics.GameRecord{}
	moveRecords := []metrics.MoveRecord{}
	numGames := cfg.Experiment.Games

	log.Info().Msgf("starting %s experiment...", name)

	for mi, matchUp := range matchUps {
		log.Info().Msgf("starting matchup %d of %d between agent1=%+v and agent2=%+v...", mi+1, len(matchUps), matchUp[0], matchUp[1])

		for i := 0; i < numGames; i++ {
			first, second := matchUp[0], matchUp[1]
			if i%2 == 1 {
				first, second = second, first
			}

			result, err := runGame(ctx, cfg, first, second, uint64(count))
			if err != nil {
				return "", fmt.Errorf("matchup %d game %d: %w", mi+1, i+1, err)
			}
			count++
			gameRecords = append(gameRecords, metrics.GameRecord{
				ID:         count,
				GameID:     result.ID.String(),
				Agent1:     first.ID,
				Agent2:     second.ID,
				GameMetric: result.Game,
			})
			for _, mm := range result.Moves {
				moveRecords = append(moveRecords, metrics.MoveRecord{
					Game:       count,
					MoveMetric: mm,
				})
			}

			log.Info().Msgf("completed matchup %d of %d game %d with winner: player %d", mi+1, len(matchUps), i+1, result.Winner)
		}
		log.Info().Msgf("completed matchup %d of %d", mi+1, len(matchUps))
	}

	log.Info().Msgf("completed %s experiment", name)

	writer, err := metrics.NewWriter(cfg.Experiment.OutputDir, name)
	if err != nil {
		return "", fmt.Errorf("failed to create experiment writer: %w", err)
	}
	if err := writer.WriteAgentConfigs(configs); err != nil {
		return "", fmt.Errorf("failed to store agent configs: %w", err)
	}
	if err := writer.WriteGameRecords(gameRecords); err != nil {
		return "", fmt.Errorf("failed to write game records: %w", err)
	}
	if err := writer.WriteMoveRecords(moveRecords); err != nil {
		return "", fmt.Errorf("failed to write move records: %w", err)
	}
	log.Info().Msgf("stored %s experiment results in %s", name, writer.Dir())
	return writer.Dir(), nil
}

// runGame executes a single game between two agents
func runGame(ctx context.Context, cfg config.Config, config1, config2 metrics.AgentConfig, seed uint64) (engine.Result, error) {
	board, err := cfg.Game.NewBoard()
	if err != nil {
		return engine.Result{}, err
	}

	agent1, close1, err := createAgent(cfg, config1, board, seed)
	if err != nil {
		return engine.Result{}, err
	}
	defer close1()
	agent2, close2, err := createAgent(cfg, config2, board, seed+1)
	if err != nil {
		return engine.Result{}, err
	}
	defer close2()

	e, err := engine.NewLocal(board, []agent.Agent{agent1, agent2}, engine.WithMaxTurns(cfg.Game.MaxTurns))
	if err != nil {
		return engine.Result{}, err
	}
	return e.Run(ctx)
}

func createAgent(cfg config.Config, ac metrics.AgentConfig, board *isolation.Board, seed uint64) (agent.Agent, func(), error) {
	switch ac.Evaluator {
	case "random":
		return agent.NewRandomAgent(seed), func() {}, nil
	case "alphabeta":
		return cfg.NewAlphaBetaAgent(), func() {}, nil
	}

	if ac.Evaluator != "" {
		cfg.Evaluator.Kind = ac.Evaluator
	}
	cfg.Evaluator.Seed = seed
	stack, err := cfg.BuildEvaluator(board)
	if err != nil {
		return nil, nil, err
	}

	search := cfg.Search
	search.Goroutines = ac.Goroutines
	search.Simulations = ac.Simulations
	search.Duration = ac.Duration
	search.Exploration = ac.Exploration
	mcts, err := search.NewMCTS(stack, metrics.NewCollector())
	if err != nil {
		stack.Close()
		return nil, nil, err
	}
	return agent.NewEvaluationAgent(mcts, search.Budget()), func() { stack.Close() }, nil
}

// RunSelfPlay plays cfg.Experiment.Games games of the configured agent
// against itself with sampled moves and writes the labeled positions to a
// parquet file, whose path it returns.
func RunSelfPlay(ctx context.Context, cfg config.Config) (string, error) {
	board, err := cfg.Game.NewBoard()
	if err != nil {
		return "", err
	}
	stack, err := cfg.BuildEvaluator(board)
	if err != nil {
		return "", err
	}
	defer stack.Close()

	log.Info().Msgf("starting self-play of %d games...", cfg.Experiment.Games)

	rows := []SampleRow{}
	for i := 0; i < cfg.Experiment.Games; i++ {
		agents := make([]agent.Agent, 2)
		for p := range agents {
			mcts, err := cfg.Search.NewMCTS(stack, nil)
			if err != nil {
				return "", err
			}
			seed := cfg.Evaluator.Seed + uint64(2*i+p)
			agents[p] = agent.NewTrainingAgent(mcts, cfg.Search.Budget(), cfg.Experiment.Temperature, seed)
		}

		e, err := engine.NewLocal(board, agents, engine.WithMaxTurns(cfg.Game.MaxTurns))
		if err != nil {
			return "", err
		}
		result, err := e.Run(ctx)
		if err != nil {
			return "", fmt.Errorf("self-play game %d: %w", i+1, err)
		}

		gameRows, err := SampleRows(result)
		if err != nil {
			return "", err
		}
		rows = append(rows, gameRows...)
		log.Info().Msgf("completed self-play game %d of %d with %d samples", i+1, cfg.Experiment.Games, len(gameRows))
	}

	path, err := WriteSamples(cfg.Experiment.OutputDir, rows)
	if err != nil {
		return "", err
	}
	log.Info().Msgf("stored %d self-play samples in %s", len(rows), path)
	return path, nil
}
