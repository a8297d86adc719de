package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"arbor/agent"
	"arbor/config"
	"arbor/engine"
	"arbor/experiments"
	"arbor/game"
	"arbor/game/isolation"
	"arbor/server"

	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	configPath string
	cfg        config.Config
)

func main() {
	root := &cobra.Command{
		Use:           "arbor",
		Short:         "Evaluator-guided tree search agent",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(configPath)
			if err != nil {
				return err
			}
			return setupLogging(cfg.Log)
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	root.AddCommand(playCmd(), serveCmd(), experimentCmd(), selfPlayCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("arbor failed")
		os.Exit(1)
	}
}

func setupLogging(lc config.LogConfig) error {
	level, err := zerolog.ParseLevel(lc.Level)
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(level)

	console := lc.Format == "console" ||
		(lc.Format == "auto" && isatty.IsTerminal(os.Stderr.Fd()))
	if console {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly})
	}
	return nil
}

func playCmd() *cobra.Command {
	var opponent, remote string
	cmd := &cobra.Command{
		Use:   "play",
		Short: "Play one game of Isolation between two agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			board, err := cfg.Game.NewBoard()
			if err != nil {
				return err
			}
			stack, err := cfg.BuildEvaluator(board)
			if err != nil {
				return err
			}
			defer stack.Close()

			newSearchAgent := func() (agent.Agent, error) {
				mcts, err := cfg.Search.NewMCTS(stack, nil)
				if err != nil {
					return nil, err
				}
				return agent.NewEvaluationAgent(mcts, cfg.Search.Budget()), nil
			}
			first, err := newSearchAgent()
			if err != nil {
				return err
			}

			var second agent.Agent
			switch {
			case remote != "":
				second, err = server.NewRemoteAgent(ctx, server.NewClient(remote, nil), nil)
			case opponent == "random":
				second = agent.NewRandomAgent(cfg.Evaluator.Seed)
			case opponent == "search":
				second, err = newSearchAgent()
			case opponent == "alphabeta":
				second = cfg.NewAlphaBetaAgent()
			default:
				err = fmt.Errorf("unknown opponent %q", opponent)
			}
			if err != nil {
				return err
			}

			profile := termenv.EnvColorProfile()
			fmt.Println(board.Render(profile))
			e, err := engine.NewLocal(board, []agent.Agent{first, second},
				engine.WithMaxTurns(cfg.Game.MaxTurns),
				engine.WithMoveHook(func(turn, player int, action game.Action, state game.State) {
					row, col := board.Square(action)
					fmt.Printf("\nturn %d: player %d moves to (%d, %d)\n", turn, player, row, col)
					fmt.Println(state.(*isolation.Board).Render(profile))
				}),
			)
			if err != nil {
				return err
			}

			result, err := e.Run(ctx)
			if err != nil {
				return err
			}
			if result.Winner == 0 {
				fmt.Printf("\nno winner after %d turns\n", len(result.Actions))
			} else {
				fmt.Printf("\nplayer %d wins after %d turns\n", result.Winner, len(result.Actions))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&opponent, "opponent", "random", "second player: random, search or alphabeta")
	cmd.Flags().StringVar(&remote, "remote", "", "base URL of an arbor server to play as the second player")
	return cmd
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve decisions over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			board, err := cfg.Game.NewBoard()
			if err != nil {
				return err
			}
			stack, err := cfg.BuildEvaluator(board)
			if err != nil {
				return err
			}
			defer stack.Close()
			return server.New(cfg, stack).Run(cmd.Context())
		},
	}
}

func experimentCmd() *cobra.Command {
	runs := map[string]func(context.Context, config.Config) (string, error){
		"parallelization": experiments.RunParallelization,
		"exploration":     experiments.RunExploration,
		"evaluators":      experiments.RunEvaluators,
	}
	return &cobra.Command{
		Use:       "experiment {parallelization|exploration|evaluators}",
		Short:     "Run agent matchups and store the results as CSV",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"parallelization", "exploration", "evaluators"},
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := runs[args[0]](cmd.Context(), cfg)
			if err != nil {
				return err
			}
			fmt.Println(dir)
			return nil
		},
	}
}

func selfPlayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "selfplay",
		Short: "Play training games and store the samples as parquet",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := experiments.RunSelfPlay(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			fmt.Println(path)
			return nil
		},
	}
}
