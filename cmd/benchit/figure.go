package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/weiihann/benchit/config"
	"github.com/weiihann/benchit/experiment"
	"github.com/weiihann/benchit/harness"
	"github.com/weiihann/benchit/report"
	"github.com/weiihann/benchit/results"
)

func newFigureCmd(a *app) *cobra.Command {
	var (
		sf      sweepFlags
		list    string
		runOnly bool
	)

	cmd := &cobra.Command{
		Use:   "figure",
		Short: "Run the sweeps behind the paper figures and summarize them",
		Long: `Run the experiment behind each selected figure into its results table
under the result directory, then write figure<N>.md with the grouped means.
Figures that share a table (11 and 12) reuse the finished sweep.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.settings(cmd)
			if err != nil {
				return err
			}

			figs, err := experiment.ParseFigures(list)
			if err != nil {
				return err
			}

			if len(figs) == 0 {
				return fmt.Errorf("no figures selected")
			}

			return runFigures(cmd.Context(), a.logger, figureConfig{
				settings: s,
				flags:    sf,
				figures:  figs,
				runOnly:  runOnly,
			})
		},
	}

	flags := cmd.Flags()
	sf.register(flags)
	flags.StringVar(&list, "figures", "7,8,9,10,11,12",
		"Comma separated figure ids")
	flags.BoolVar(&runOnly, "run-only", false,
		"Run the sweeps without writing figure summaries")

	return cmd
}

type figureConfig struct {
	settings *config.Settings
	flags    sweepFlags
	figures  []experiment.Figure
	runOnly  bool
}

func runFigures(ctx context.Context, logger *slog.Logger, cfg figureConfig) error {
	if err := os.MkdirAll(cfg.settings.ResultDir, 0o755); err != nil {
		return fmt.Errorf("create result dir: %w", err)
	}

	var host *harness.Host
	if !cfg.runOnly {
		h, err := harness.DescribeHost(ctx)
		if err != nil {
			logger.WarnContext(ctx, "could not describe host", slog.Any("error", err))
		} else {
			host = &h
		}
	}

	opts := cfg.flags.options(cfg.settings, logger)

	for _, fig := range cfg.figures {
		if err := ctx.Err(); err != nil {
			return err
		}

		plan, figOpts, err := fig.Plan(opts)
		if err != nil {
			return err
		}

		table := filepath.Join(cfg.settings.ResultDir, fig.Table(figOpts, cfg.settings.Reps))

		logger.InfoContext(ctx, "building figure",
			slog.String("figure", fig.ID),
			slog.String("experiment", fig.Experiment),
			slog.String("table", table),
			slog.Int64("seed", figOpts.Seed),
		)

		// The figure's own seed also drives the run order.
		flags := cfg.flags
		flags.seed = figOpts.Seed

		if _, err := sweepPlan(ctx, logger, cfg.settings, &flags, plan, table); err != nil {
			return fmt.Errorf("figure %s: %w", fig.ID, err)
		}

		if cfg.runOnly {
			continue
		}

		if err := writeFigure(fig, table, host, cfg.settings.ResultDir); err != nil {
			return fmt.Errorf("figure %s: %w", fig.ID, err)
		}
	}

	return nil
}

func writeFigure(fig experiment.Figure, table string, host *harness.Host, dir string) error {
	data, err := results.ReadTable(table)
	if err != nil {
		return err
	}

	r, err := report.Build(fmt.Sprintf("Figure %s: %s", fig.ID, fig.Title),
		filepath.Base(table), data, fig.GroupBy, fig.Metrics)
	if err != nil {
		return err
	}
	r.Host = host

	f, err := os.Create(filepath.Join(dir, "figure"+fig.ID+".md"))
	if err != nil {
		return fmt.Errorf("create figure summary: %w", err)
	}
	defer f.Close()

	if err := report.Generate(f, r); err != nil {
		return err
	}

	return f.Close()
}
