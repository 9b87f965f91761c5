package experiment

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/weiihann/benchit/space"
	"github.com/weiihann/benchit/sweep"
)

// Figure is the data behind one chart: an experiment sweep and the series
// the chart plots, grouped from the sweep's table.
type Figure struct {
	ID         string
	Title      string
	Experiment string

	// Configure adjusts the options of the experiment.
	Configure func(o *Options)
	// Table names the results table for the configured options.
	Table func(o Options, reps int) string

	GroupBy []string
	Metrics []string
}

var figures = []Figure{
	{
		ID:         "7",
		Title:      "SPA analysis, compilation and execution time (einsum)",
		Experiment: "einsum",
		Configure: func(o *Options) {
			o.Sparsities = []float64{0.5}
			if o.Seed == 0 {
				o.Seed = rand.Int63n(1024) + 1
			}
		},
		Table: func(o Options, reps int) string {
			return fmt.Sprintf("result_%s_%d_%d.csv", space.Float(o.Sparsities[0]), o.Seed, reps)
		},
		GroupBy: []string{"file_name", "format", "propagate"},
		Metrics: []string{"analysis", "compilation", "runtime"},
	},
	{
		ID:         "8",
		Title:      "SPA vs TeSA propagation time",
		Experiment: "proptime",
		Configure: func(o *Options) {
			o.Impls = []string{ImplSPA, ImplTeSA}
		},
		Table: func(_ Options, reps int) string {
			return fmt.Sprintf("proptime_result_%d.csv", reps)
		},
		GroupBy: []string{"impl", "size"},
		Metrics: []string{"proptime"},
	},
	{
		ID:         "9",
		Title:      "Sparsity propagation comparison (einsum)",
		Experiment: "einsum-prop",
		Configure: func(o *Options) {
			o.Sparsities = DefaultSparsities
		},
		Table: func(o Options, reps int) string {
			return fmt.Sprintf("einsum_result_prop_%d_%d.csv", o.Seed, reps)
		},
		GroupBy: []string{"sparsity", "run_lat", "run_bw"},
		Metrics: PropMetrics,
	},
	{
		ID:         "10",
		Title:      "BERT-like graph runtime",
		Experiment: "graph",
		Configure: func(o *Options) {
			o.GraphName = "bert"
			o.Pattern = PatternFull
			o.Sparsities = nil
		},
		Table: func(o Options, reps int) string {
			return fmt.Sprintf("%s_result_%d.csv", o.GraphName, reps)
		},
		GroupBy: []string{"row", "col", "format", "prop"},
		Metrics: []string{"runtime"},
	},
	{
		ID:         "11",
		Title:      "Einsum runtime comparison",
		Experiment: "einsum",
		Configure: func(o *Options) {
			o.Sparsities = DefaultSparsities
		},
		Table:   einsumTable,
		GroupBy: []string{"sparsity", "format", "propagate"},
		Metrics: []string{"runtime"},
	},
	{
		ID:         "12",
		Title:      "Memory reduction (einsum)",
		Experiment: "einsum",
		Configure: func(o *Options) {
			o.Sparsities = DefaultSparsities
		},
		Table:   einsumTable,
		GroupBy: []string{"sparsity", "format", "propagate"},
		Metrics: []string{"memory", "tensors-size"},
	},
}

// Figures 11 and 12 plot the same sweep.
func einsumTable(o Options, reps int) string {
	return fmt.Sprintf("einsum_result_%d_%d.csv", o.Seed, reps)
}

// Figures returns every figure in order.
func Figures() []Figure {
	out := make([]Figure, len(figures))
	copy(out, figures)

	return out
}

// LookupFigure returns the figure with the given id.
func LookupFigure(id string) (Figure, error) {
	id = strings.TrimSpace(id)

	for _, f := range figures {
		if f.ID == id {
			return f, nil
		}
	}

	return Figure{}, fmt.Errorf("%w: figure %q", ErrUnknown, id)
}

// ParseFigures splits a comma separated list of figure ids.
func ParseFigures(list string) ([]Figure, error) {
	var out []Figure

	for _, id := range strings.Split(list, ",") {
		if strings.TrimSpace(id) == "" {
			continue
		}

		f, err := LookupFigure(id)
		if err != nil {
			return nil, err
		}

		out = append(out, f)
	}

	return out, nil
}

// Plan configures opts for the figure and builds its experiment. It returns
// the configured options so callers can name the table.
func (f Figure) Plan(opts Options) (*sweep.Plan, Options, error) {
	e, err := Lookup(f.Experiment)
	if err != nil {
		return nil, opts, err
	}

	if f.Configure != nil {
		f.Configure(&opts)
	}

	plan, err := e.Build(opts)
	if err != nil {
		return nil, opts, fmt.Errorf("figure %s: %w", f.ID, err)
	}

	return plan, opts, nil
}
