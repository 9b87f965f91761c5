// Package sweep drives a benchmark binary over every configuration of an
// experiment, checkpointing each committed run so that an interrupted sweep
// resumes where it stopped.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/weiihann/benchit/harness"
	"github.com/weiihann/benchit/metrics"
	"github.com/weiihann/benchit/space"
)

// Runner executes a single benchmark invocation.
type Runner interface {
	Run(ctx context.Context, inv harness.Invocation, timeout time.Duration) (*harness.Result, error)
}

// Plan describes one experiment: the configurations to visit, how a
// configuration becomes a command line and how the output is parsed.
type Plan struct {
	Name string

	// Params names the table columns holding the configuration fields.
	Params []string
	// Metrics names the metric columns, in table order.
	Metrics []string

	Extractor metrics.Extractor
	Configs   []space.Config

	// Invoke builds the command line of repetition rep of cfg.
	Invoke func(cfg space.Config, rep int) harness.Invocation

	// Prepare runs before the first repetition of a configuration. It is
	// skipped while consecutive runs share the same configuration.
	Prepare func(ctx context.Context, cfg space.Config) error

	// Warmup runs one discarded invocation before the first repetition.
	Warmup bool

	// Label names a configuration in screening output. Defaults to the
	// space separated parameters.
	Label func(cfg space.Config) string
}

// Header returns the table header: parameter columns then metric columns.
func (p *Plan) Header() []string {
	h := make([]string, 0, len(p.Params)+len(p.Metrics))
	h = append(h, p.Params...)

	return append(h, p.Metrics...)
}

func (p *Plan) label(cfg space.Config) string {
	if p.Label != nil {
		return p.Label(cfg)
	}

	return cfg.String()
}

// Validate checks that the plan is complete and its configurations match
// its parameter columns.
func (p *Plan) Validate() error {
	switch {
	case p.Name == "":
		return errors.New("plan has no name")
	case p.Extractor == nil:
		return fmt.Errorf("plan %s has no extractor", p.Name)
	case p.Invoke == nil:
		return fmt.Errorf("plan %s has no invoke function", p.Name)
	case len(p.Metrics) == 0:
		return fmt.Errorf("plan %s has no metrics", p.Name)
	case len(p.Configs) == 0:
		return fmt.Errorf("plan %s has no configurations", p.Name)
	}

	if err := space.Validate(p.Configs, len(p.Params)); err != nil {
		return fmt.Errorf("plan %s: %w", p.Name, err)
	}

	return nil
}

// Order selects how pending configurations are visited.
type Order string

const (
	// OrderSequential visits configurations in generation order.
	OrderSequential Order = "sequential"
	// OrderRandom shuffles the pending configurations once. Repetitions of
	// a configuration still run back to back.
	OrderRandom Order = "random"
	// OrderInterleaved draws a random pending configuration for every run.
	OrderInterleaved Order = "interleaved"
)

// ParseOrder converts a flag value to an Order.
func ParseOrder(s string) (Order, error) {
	switch o := Order(s); o {
	case OrderSequential, OrderRandom, OrderInterleaved:
		return o, nil
	case "":
		return OrderSequential, nil
	default:
		return "", fmt.Errorf("unknown order %q (want sequential, random or interleaved)", s)
	}
}

// RowMode selects what is written to the output table.
type RowMode string

const (
	// RowsPerRun writes one row per repetition.
	RowsPerRun RowMode = "per-run"
	// RowsMean writes one row per configuration holding the mean of all
	// of its repetitions, once the last one is done.
	RowsMean RowMode = "mean"
)

// ParseRowMode converts a flag value to a RowMode.
func ParseRowMode(s string) (RowMode, error) {
	switch m := RowMode(s); m {
	case RowsPerRun, RowsMean:
		return m, nil
	case "":
		return RowsPerRun, nil
	default:
		return "", fmt.Errorf("unknown row mode %q (want per-run or mean)", s)
	}
}
