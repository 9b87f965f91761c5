// Package main provides the CLI entry point for benchit, a resumable
// benchmark sweep driver for the SPA sparsity propagation benchmarks.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"

	"github.com/weiihann/benchit/config"
)

func main() {
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))

	ctx, cancel := context.WithCancel(context.Background())
	stop := handleSignals(logger, cancel, atexit.Exit)

	root := newRootCmd(&app{logger: logger, level: level})
	err := root.ExecuteContext(ctx)
	stop()
	cancel()

	if err != nil {
		logger.Error("benchit failed", slog.String("error", err.Error()))
		atexit.Exit(1)
	}
}

// exitInterrupted is the status of a second interrupt.
const exitInterrupted = 130

// handleSignals cancels the run on the first interrupt, letting the current
// benchmark finish its cleanup. A second interrupt calls exit, which closes
// any open sweep through its atexit handler.
func handleSignals(logger *slog.Logger, cancel context.CancelFunc, exit func(int)) (stop func()) {
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)

	done := make(chan struct{})

	go func() {
		for n := 0; ; n++ {
			select {
			case <-done:
				return
			case sig := <-sigs:
				if n == 0 {
					logger.Warn("interrupted, stopping; interrupt again to exit now",
						slog.String("signal", sig.String()))
					cancel()

					continue
				}

				exit(exitInterrupted)

				return
			}
		}
	}()

	return func() {
		signal.Stop(sigs)
		close(done)
	}
}

// app is the state shared by every command.
type app struct {
	logger  *slog.Logger
	level   *slog.LevelVar
	envFile string
	verbose bool
}

// settings resolves the configuration for cmd. Persistent flags that were
// set on the command line win over the environment.
func (a *app) settings(cmd *cobra.Command) (*config.Settings, error) {
	if a.verbose {
		a.level.Set(slog.LevelDebug)
	}

	return config.Load(cmd.Flags(), a.envFile)
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "benchit",
		Short: "Resumable benchmark sweeps for the SPA benchmark binaries",
		Long: `Benchit drives the SPA benchmark binaries through parameter sweeps,
repeating every configuration, checkpointing after each run and appending
one CSV row per run. An interrupted sweep resumes where it stopped.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.envFile, "env-file", config.DefaultEnvFile,
		"Environment file loaded before resolving settings")
	flags.BoolVarP(&a.verbose, "verbose", "v", false,
		"Log at debug level")

	flags.String(config.KeyBinary, "./build/benchmark",
		"Benchmark binary (env BIN_PATH)")
	flags.String(config.KeyTesaBinary, "./build/tesa-prop",
		"TeSA propagation binary (env TESA_BIN_PATH)")
	flags.String(config.KeyBuildDir, "./build",
		"CMake build directory (env BUILD_PATH)")
	flags.String(config.KeySourceDir, ".",
		"SPA source tree (env SPA_ROOT)")
	flags.String(config.KeyResultDir, ".",
		"Directory for result tables and figures (env RESULT_DIR)")
	flags.Int(config.KeyReps, 5,
		"Repetitions per configuration (env BENCHMARK_REPEATS)")
	flags.String(config.KeyDataset, "einsum-dataset",
		"Einsum dataset directory (env EINSUM_DATASET)")
	flags.String(config.KeyOrder, "sequential",
		"Run order: sequential, random, interleaved (env BENCHIT_ORDER)")
	flags.Bool(config.KeyRecover, true,
		"Resume from an existing checkpoint (env BENCHIT_RECOVER)")
	flags.String(config.KeyTimeout, "0",
		"Per invocation timeout, seconds or a duration; 0 disables (env BENCHIT_TIMEOUT)")

	root.AddCommand(
		newRunCmd(a),
		newScreenCmd(a),
		newFigureCmd(a),
		newSummarizeCmd(a),
		newStatusCmd(),
		newListCmd(),
	)

	return root
}
