package sweep

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/weiihann/benchit/harness"
	"github.com/weiihann/benchit/metrics"
	"github.com/weiihann/benchit/space"
)

// ScreenOptions controls Screen.
type ScreenOptions struct {
	// Output receives one "<outcome> <label>" line per configuration.
	Output string
	// Timeout bounds every invocation. Zero means no limit.
	Timeout time.Duration
	// Required metrics must be present for a run to count as a success.
	Required []string
}

// Screen runs every configuration of plan once and classifies it as
// success, timeout or error. Unlike Run it never stops at a failed
// configuration and keeps no checkpoint.
func Screen(
	ctx context.Context,
	plan *Plan,
	runner Runner,
	opts ScreenOptions,
	logger *slog.Logger,
) (map[harness.Outcome]int, error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}

	f, err := os.Create(opts.Output)
	if err != nil {
		return nil, fmt.Errorf("create filter file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	counts := make(map[harness.Outcome]int, 3)
	logger = logger.With(slog.String("experiment", plan.Name))

	for i, cfg := range plan.Configs {
		label := plan.label(cfg)

		outcome, err := screenOne(ctx, plan, runner, opts, cfg)
		if ctx.Err() != nil {
			return counts, ctx.Err()
		}

		attrs := []any{
			slog.String("progress", fmt.Sprintf("%d/%d", i+1, len(plan.Configs))),
			slog.String("config", label),
			slog.String("outcome", string(outcome)),
		}
		if err != nil {
			attrs = append(attrs, slog.Any("error", err))
		}
		logger.InfoContext(ctx, "screened config", attrs...)

		counts[outcome]++

		if _, err := fmt.Fprintf(w, "%s %s\n", outcome, label); err != nil {
			return counts, fmt.Errorf("write filter file: %w", err)
		}

		if err := w.Flush(); err != nil {
			return counts, fmt.Errorf("flush filter file: %w", err)
		}
	}

	return counts, f.Sync()
}

func screenOne(
	ctx context.Context,
	plan *Plan,
	runner Runner,
	opts ScreenOptions,
	cfg space.Config,
) (harness.Outcome, error) {
	res, err := runner.Run(ctx, plan.Invoke(cfg, 0), opts.Timeout)
	if errors.Is(err, harness.ErrTimeout) {
		return harness.OutcomeTimeout, err
	}
	if err != nil {
		return harness.OutcomeError, err
	}

	rec, err := plan.Extractor.Extract(res.Output)
	if err != nil {
		return harness.OutcomeError, fmt.Errorf("parse %s: %w", cfg, err)
	}

	if err := metrics.Require(rec, opts.Required); err != nil {
		return harness.OutcomeError, fmt.Errorf("parse %s: %w", cfg, err)
	}

	return harness.OutcomeSuccess, nil
}
