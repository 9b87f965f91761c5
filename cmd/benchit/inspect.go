package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/weiihann/benchit/checkpoint"
	"github.com/weiihann/benchit/experiment"
	"github.com/weiihann/benchit/harness"
	"github.com/weiihann/benchit/report"
	"github.com/weiihann/benchit/results"
	"github.com/weiihann/benchit/sweep"
)

func newSummarizeCmd(a *app) *cobra.Command {
	var (
		groupBy    []string
		metricCols []string
		title      string
		outputJSON bool
		withHost   bool
		filters    []string
	)

	cmd := &cobra.Command{
		Use:   "summarize <table.csv>",
		Short: "Group a results table and report mean and spread per metric",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := results.ReadTable(args[0])
			if err != nil {
				return err
			}

			for _, f := range filters {
				col, val, ok := strings.Cut(f, "=")
				if !ok {
					return fmt.Errorf("filter %q: want column=value", f)
				}

				if data, err = data.Filter(col, val); err != nil {
					return err
				}
			}

			if len(metricCols) == 0 {
				metricCols = otherColumns(data.Header, groupBy)
			}

			if title == "" {
				title = args[0]
			}

			r, err := report.Build(title, args[0], data, groupBy, metricCols)
			if err != nil {
				return err
			}

			if withHost {
				h, err := harness.DescribeHost(cmd.Context())
				if err != nil {
					a.logger.Warn("could not describe host", "error", err)
				} else {
					r.Host = &h
				}
			}

			if outputJSON {
				return report.GenerateJSON(cmd.OutOrStdout(), r)
			}

			return report.Generate(cmd.OutOrStdout(), r)
		},
	}

	flags := cmd.Flags()
	flags.StringSliceVar(&groupBy, "group-by", nil,
		"Key columns rows are grouped by")
	flags.StringSliceVar(&metricCols, "metrics", nil,
		"Metric columns to summarize (default: every other column)")
	flags.StringVar(&title, "title", "", "Report title")
	flags.BoolVar(&outputJSON, "json", false,
		"Output results as JSON instead of table")
	flags.BoolVar(&withHost, "host", false,
		"Include a description of this machine")
	flags.StringSliceVar(&filters, "filter", nil,
		"Keep only rows where column=value")
	_ = cmd.MarkFlagRequired("group-by")

	return cmd
}

func otherColumns(header, exclude []string) []string {
	skip := make(map[string]bool, len(exclude))
	for _, c := range exclude {
		skip[c] = true
	}

	var out []string
	for _, c := range header {
		if !skip[c] {
			out = append(out, c)
		}
	}

	return out
}

func newStatusCmd() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "status <table.csv>",
		Short: "Show the checkpointed progress of a sweep",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if path == "" {
				path = args[0] + sweep.CheckpointSuffix
			}

			return printStatus(cmd.Context(), cmd.OutOrStdout(), path)
		},
	}

	cmd.Flags().StringVar(&path, "checkpoint", "",
		"Checkpoint file (default: <table>"+sweep.CheckpointSuffix+")")

	return cmd
}

func printStatus(ctx context.Context, w io.Writer, path string) error {
	store, err := checkpoint.Open(ctx, path)
	if err != nil {
		return err
	}
	defer store.Close()

	progress, err := store.Progress(ctx)
	if err != nil {
		return err
	}

	items, err := store.Pending(ctx)
	if err != nil {
		return err
	}

	meta := store.Meta()

	done := 0.0
	if progress.Total > 0 {
		done = 100 * float64(progress.Count) / float64(progress.Total)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "run\t%s\n", meta.RunID)
	fmt.Fprintf(tw, "experiment\t%s\n", meta.Experiment)
	fmt.Fprintf(tw, "output\t%s\n", meta.Output)
	fmt.Fprintf(tw, "checkpoint\t%s\n", store.Path())
	fmt.Fprintf(tw, "created\t%s\n", meta.Created.Format(time.RFC3339))
	fmt.Fprintf(tw, "repetitions\t%d\n", meta.Reps)
	fmt.Fprintf(tw, "progress\t%d/%d (%.1f%%), %d left\n",
		progress.Count, progress.Total, done, progress.Left)
	fmt.Fprintf(tw, "pending configs\t%d\n", len(items))

	return tw.Flush()
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the built-in experiments and figures",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return printCatalog(cmd.OutOrStdout())
		},
	}
}

func printCatalog(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	fmt.Fprintln(tw, "EXPERIMENT\tDESCRIPTION")
	for _, e := range experiment.All() {
		fmt.Fprintf(tw, "%s\t%s\n", e.Name, e.Description)
	}

	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "FIGURE\tEXPERIMENT\tTITLE")
	for _, f := range experiment.Figures() {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", f.ID, f.Experiment, f.Title)
	}

	return tw.Flush()
}
