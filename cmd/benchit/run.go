package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/weiihann/benchit/config"
	"github.com/weiihann/benchit/experiment"
	"github.com/weiihann/benchit/harness"
	"github.com/weiihann/benchit/space"
	"github.com/weiihann/benchit/sweep"
)

// sweepFlags are the experiment knobs shared by run and figure.
type sweepFlags struct {
	seed         int64
	sparsities   []float64
	sizes        []int
	files        []string
	curated      bool
	graph        string
	pattern      string
	sparseFormat string
	warmup       bool
	impls        []string
	rows         string
	checkpoint   string
}

func (f *sweepFlags) register(flags *pflag.FlagSet) {
	flags.Int64Var(&f.seed, "seed", 0,
		"Benchmark seed, also seeds the random run orders")
	flags.Float64SliceVar(&f.sparsities, "sparsities", nil,
		"Sparsity values (default: per experiment)")
	flags.IntSliceVar(&f.sizes, "sizes", nil,
		"Problem sizes (default: per experiment)")
	flags.StringSliceVar(&f.files, "files", nil,
		"Restrict dataset experiments to these files")
	flags.BoolVar(&f.curated, "curated", false,
		"Restrict dataset experiments to the curated einsum files")
	flags.StringVar(&f.graph, "graph", "",
		"Graph model name (default: bert)")
	flags.StringVar(&f.pattern, "pattern", "",
		"Graph sparsity pattern: row, column, row-col, full")
	flags.StringVar(&f.sparseFormat, "sparse-format", "",
		"Sparse format for graph sweeps")
	flags.BoolVar(&f.warmup, "warmup", false,
		"Run one discarded invocation before each configuration")
	flags.StringSliceVar(&f.impls, "impls", nil,
		"Propagation implementations: spa, tesa")
	flags.StringVar(&f.rows, "rows", string(sweep.RowsPerRun),
		"Row mode: per-run, mean")
	flags.StringVar(&f.checkpoint, "checkpoint", "",
		"Checkpoint file (default: <output>"+sweep.CheckpointSuffix+")")
}

func (f *sweepFlags) options(s *config.Settings, logger *slog.Logger) experiment.Options {
	opts := experiment.Options{
		Binary:       s.Binary,
		TesaBinary:   s.TesaBinary,
		SourceDir:    s.SourceDir,
		BuildDir:     s.BuildDir,
		Dataset:      s.Dataset,
		Files:        f.files,
		Seed:         f.seed,
		Sparsities:   f.sparsities,
		Sizes:        f.sizes,
		GraphName:    f.graph,
		Pattern:      f.pattern,
		SparseFormat: f.sparseFormat,
		Warmup:       f.warmup,
		Impls:        f.impls,
		Logger:       logger,
	}

	if f.curated && len(opts.Files) == 0 {
		opts.Files = experiment.CuratedEinsumFiles
	}

	return opts
}

func newRunCmd(a *app) *cobra.Command {
	var (
		sf         sweepFlags
		output     string
		definition string
	)

	cmd := &cobra.Command{
		Use:   "run [experiment]",
		Short: "Run an experiment sweep",
		Long: `Run every repetition of an experiment, appending one CSV row per run
(or per configuration with --rows mean). Progress is checkpointed after every
run; running the same command again resumes an interrupted sweep.

The sweep is either a built-in experiment (see "benchit list") or a YAML
definition given with --definition.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.settings(cmd)
			if err != nil {
				return err
			}

			name := ""
			if len(args) == 1 {
				name = args[0]
			}

			return runExperiment(cmd.Context(), a.logger, runConfig{
				settings:   s,
				flags:      sf,
				experiment: name,
				definition: definition,
				output:     output,
			})
		},
	}

	flags := cmd.Flags()
	sf.register(flags)
	flags.StringVarP(&output, "output", "o", "",
		"Result table (default: <result-dir>/<experiment>_result.csv)")
	flags.StringVar(&definition, "definition", "",
		"YAML sweep definition to run instead of a built-in experiment")

	return cmd
}

type runConfig struct {
	settings   *config.Settings
	flags      sweepFlags
	experiment string
	definition string
	output     string
}

func runExperiment(ctx context.Context, logger *slog.Logger, cfg runConfig) error {
	plan, err := buildPlan(logger, cfg)
	if err != nil {
		return err
	}

	output := cfg.output
	if output == "" {
		output = filepath.Join(cfg.settings.ResultDir, plan.Name+"_result.csv")
	}

	_, err = sweepPlan(ctx, logger, cfg.settings, &cfg.flags, plan, output)

	return err
}

func buildPlan(logger *slog.Logger, cfg runConfig) (*sweep.Plan, error) {
	switch {
	case cfg.definition != "" && cfg.experiment != "":
		return nil, fmt.Errorf("give either an experiment or --definition, not both")
	case cfg.definition != "":
		def, err := space.LoadDefinitionFile(cfg.definition)
		if err != nil {
			return nil, err
		}

		return experiment.Custom(def, cfg.settings.Binary, logger), nil
	case cfg.experiment == "":
		return nil, fmt.Errorf("an experiment name or --definition is required")
	}

	e, err := experiment.Lookup(cfg.experiment)
	if err != nil {
		return nil, err
	}

	return e.Build(cfg.flags.options(cfg.settings, logger))
}

// sweepPlan runs plan into output with the resolved settings.
func sweepPlan(
	ctx context.Context,
	logger *slog.Logger,
	s *config.Settings,
	f *sweepFlags,
	plan *sweep.Plan,
	output string,
) (sweep.Summary, error) {
	order, err := sweep.ParseOrder(s.Order)
	if err != nil {
		return sweep.Summary{}, err
	}

	rows, err := sweep.ParseRowMode(f.rows)
	if err != nil {
		return sweep.Summary{}, err
	}

	logger.InfoContext(ctx, "starting experiment",
		slog.String("experiment", plan.Name),
		slog.String("output", output),
		slog.Int("configs", len(plan.Configs)),
		slog.Int("reps", s.Reps),
		slog.Int64("seed", f.seed),
	)

	runner := harness.NewRunner(plan.Name, nil, logger)

	sw, err := sweep.New(plan, runner, sweep.Options{
		Output:     output,
		Checkpoint: f.checkpoint,
		Reps:       s.Reps,
		Order:      order,
		Seed:       f.seed,
		Recover:    s.Recover,
		Timeout:    s.Timeout,
		Rows:       rows,
	}, logger)
	if err != nil {
		return sweep.Summary{}, err
	}

	sum, err := sw.Run(ctx)
	if err != nil {
		return sum, fmt.Errorf("%s: %w", plan.Name, err)
	}

	logger.InfoContext(ctx, "results written",
		slog.String("output", sum.Output),
		slog.String("run_id", sum.RunID),
		slog.Int("runs", sum.Runs),
		slog.Bool("resumed", sum.Resumed),
	)

	return sum, nil
}
