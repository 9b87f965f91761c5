package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/weiihann/benchit/config"
	"github.com/weiihann/benchit/experiment"
	"github.com/weiihann/benchit/harness"
	"github.com/weiihann/benchit/sweep"
)

func newScreenCmd(a *app) *cobra.Command {
	var (
		output    string
		sparsity  float64
		files     []string
		seed      int64
		timeoutOv string
	)

	cmd := &cobra.Command{
		Use:   "screen",
		Short: "Classify every einsum dataset file as success, timeout or error",
		Long: `Run each einsum dataset file once in the dense format and write one
"<outcome> <file>" line per file. The resulting list is used to pick the files
worth sweeping.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.settings(cmd)
			if err != nil {
				return err
			}

			if timeoutOv != "" {
				if s.Timeout, err = config.ParseTimeout(timeoutOv); err != nil {
					return err
				}
			}

			opts := experiment.Options{
				Binary:  s.Binary,
				Dataset: s.Dataset,
				Files:   files,
				Seed:    seed,
				Logger:  a.logger,
			}
			if sparsity > 0 {
				opts.Sparsities = []float64{sparsity}
			}

			if output == "" {
				output = filepath.Join(s.ResultDir, "filter.txt")
			}

			return screenDataset(cmd.Context(), a.logger, s, opts, output)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&output, "output", "o", "",
		"Filter file (default: <result-dir>/filter.txt)")
	flags.Float64Var(&sparsity, "sparsity", 0,
		"Sparsity of the screening run (default: 0.5)")
	flags.StringSliceVar(&files, "files", nil,
		"Screen only these files")
	flags.Int64Var(&seed, "seed", 0, "Benchmark seed")
	flags.StringVar(&timeoutOv, "screen-timeout", "",
		"Timeout for each screening run, overriding --timeout")

	return cmd
}

func screenDataset(
	ctx context.Context,
	logger *slog.Logger,
	s *config.Settings,
	opts experiment.Options,
	output string,
) error {
	plan, required, err := experiment.ScreenPlan(opts)
	if err != nil {
		return err
	}

	logger.InfoContext(ctx, "screening dataset",
		slog.String("dataset", s.Dataset),
		slog.Int("files", len(plan.Configs)),
		slog.Duration("timeout", s.Timeout),
		slog.String("output", output),
	)

	counts, err := sweep.Screen(ctx, plan, harness.NewRunner(plan.Name, nil, logger),
		sweep.ScreenOptions{
			Output:   output,
			Timeout:  s.Timeout,
			Required: required,
		}, logger)
	if err != nil {
		return fmt.Errorf("screen: %w", err)
	}

	logger.InfoContext(ctx, "screening complete",
		slog.Int(string(harness.OutcomeSuccess), counts[harness.OutcomeSuccess]),
		slog.Int(string(harness.OutcomeTimeout), counts[harness.OutcomeTimeout]),
		slog.Int(string(harness.OutcomeError), counts[harness.OutcomeError]),
	)

	return nil
}
