// Command srpoc solves an ODE with the srpoc kernel, samples the solution and
// fits symbolic regressions to the samples.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/njchilds90/srpoc/internal/config"
	"github.com/njchilds90/srpoc/internal/experiment"
	"github.com/njchilds90/srpoc/internal/logging"
	"github.com/njchilds90/srpoc/internal/runlog"
)

var (
	configPath  string
	kernelPath  string
	historyPath string
	seed        int64
	verbose     bool

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "srpoc",
	Short: "Recover closed forms of an ODE solution by symbolic regression",
	Long: `srpoc asks the srpoc-kernel engine to solve y' = rhs numerically, samples
the solution on an even grid, and runs three symbolic regressions: with the
guess as a custom operator, with no unary operators, and on the residual after
subtracting the guess.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		flags := cmd.Flags()
		if flags.Changed("kernel") {
			cfg.Kernel.Path = kernelPath
		}
		if flags.Changed("history") {
			cfg.History.Path = historyPath
		}
		if flags.Changed("seed") {
			cfg.Regression.Seed = seed
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}

		logger, err = logging.New(cfg.Logging, verbose)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		opts := []experiment.Option{
			experiment.WithLogger(logger),
			experiment.WithOutput(cmd.OutOrStdout()),
		}
		if cfg.History.Path != "" {
			store, err := runlog.Open(ctx, cfg.History.Path)
			if err != nil {
				return err
			}
			defer store.Close()
			opts = append(opts, experiment.WithHistory(store))
		}
		return experiment.New(cfg, opts...).Run(ctx)
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "srpoc.yaml", "Config file (defaults apply when missing)")
	flags.StringVar(&kernelPath, "kernel", "", "Path to the srpoc-kernel executable")
	flags.StringVar(&historyPath, "history", "", "SQLite file for run history")
	flags.Int64Var(&seed, "seed", 0, "Random seed for the regressions")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
