package sweep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/tebeka/atexit"

	"github.com/weiihann/benchit/checkpoint"
	"github.com/weiihann/benchit/metrics"
	"github.com/weiihann/benchit/results"
	"github.com/weiihann/benchit/space"
)

// CheckpointSuffix is appended to the output path to name the default
// checkpoint file.
const CheckpointSuffix = ".ckpt"

// Options controls a sweep.
type Options struct {
	// Output is the CSV table the rows are written to.
	Output string
	// Checkpoint defaults to Output + CheckpointSuffix.
	Checkpoint string

	Reps  int
	Order Order
	Seed  int64

	// Recover resumes from an existing checkpoint of the same sweep.
	Recover bool

	// Timeout bounds every invocation. Zero means no limit.
	Timeout time.Duration

	Rows RowMode
}

// Summary describes a finished sweep.
type Summary struct {
	RunID      string
	Output     string
	Checkpoint string
	Resumed    bool

	// Runs counts the repetitions executed by this call.
	Runs     int
	Progress checkpoint.Progress
	Elapsed  time.Duration
}

// Sweep runs a Plan to completion.
type Sweep struct {
	plan   *Plan
	runner Runner
	opts   Options
	logger *slog.Logger
}

// New validates plan and opts and creates a Sweep.
func New(plan *Plan, runner Runner, opts Options, logger *slog.Logger) (*Sweep, error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}

	if opts.Output == "" {
		return nil, errors.New("sweep: output path is required")
	}

	if opts.Reps < 1 {
		return nil, fmt.Errorf("sweep: reps must be positive, got %d", opts.Reps)
	}

	if opts.Order == "" {
		opts.Order = OrderSequential
	}

	if opts.Rows == "" {
		opts.Rows = RowsPerRun
	}

	if opts.Checkpoint == "" {
		opts.Checkpoint = opts.Output + CheckpointSuffix
	}

	p := *plan
	p.Configs = space.Dedup(plan.Configs)

	return &Sweep{
		plan:   &p,
		runner: runner,
		opts:   opts,
		logger: logger.With(slog.String("experiment", plan.Name)),
	}, nil
}

// pending is a configuration with repetitions left, tracked in memory
// alongside the checkpoint.
type pending struct {
	key       string
	cfg       space.Config
	remaining int
}

// registerExit is atexit.Register, swapped in tests.
var registerExit = atexit.Register

// state is the open output of one Run call.
type state struct {
	table    *results.Table
	store    *checkpoint.Store
	progress checkpoint.Progress
	prepared string
	runs     int

	exit atexit.HandlerID
}

// newState opens st for writing. Until close, an atexit.Exit (a second
// interrupt in benchit) closes the table and the checkpoint first.
func newState(table *results.Table, store *checkpoint.Store) *state {
	st := &state{table: table, store: store}
	st.exit = registerExit(func() {
		st.table.Close()
		st.store.Close()
	})

	return st
}

// Run executes every pending repetition. It stops at the first failed run
// and returns its error; the checkpoint keeps every committed run, so a
// later Run with Recover set continues from there.
func (s *Sweep) Run(ctx context.Context) (Summary, error) {
	start := time.Now()

	st, resumed, err := s.open(ctx)
	if err != nil {
		return Summary{}, err
	}

	defer st.close()

	meta := st.store.Meta()
	sum := Summary{
		RunID:      meta.RunID,
		Output:     st.table.Path(),
		Checkpoint: st.store.Path(),
		Resumed:    resumed,
	}

	items, err := st.store.Pending(ctx)
	if err != nil {
		return sum, err
	}

	queue := make([]*pending, len(items))
	for i, it := range items {
		queue[i] = &pending{key: it.Key, cfg: it.Params, remaining: it.Remaining}
	}

	s.logger.InfoContext(ctx, "starting sweep",
		slog.String("run_id", meta.RunID),
		slog.Bool("resumed", resumed),
		slog.String("order", string(s.opts.Order)),
		slog.Int("pending_configs", len(queue)),
		slog.Int("done", st.progress.Count),
		slog.Int("total", st.progress.Total),
	)

	rng := rand.New(rand.NewSource(s.opts.Seed))

	switch s.opts.Order {
	case OrderInterleaved:
		err = s.interleaved(ctx, st, queue, rng, meta.Reps)
	case OrderRandom:
		rng.Shuffle(len(queue), func(i, j int) {
			queue[i], queue[j] = queue[j], queue[i]
		})
		err = s.sequential(ctx, st, queue, meta.Reps)
	default:
		err = s.sequential(ctx, st, queue, meta.Reps)
	}

	sum.Runs = st.runs
	sum.Progress = st.progress
	sum.Elapsed = time.Since(start)

	if err != nil {
		return sum, err
	}

	s.logger.InfoContext(ctx, "sweep complete",
		slog.Int("runs", sum.Runs),
		slog.Int("total", sum.Progress.Total),
		slog.Duration("elapsed", sum.Elapsed),
	)

	return sum, nil
}

func (s *Sweep) sequential(
	ctx context.Context,
	st *state,
	queue []*pending,
	reps int,
) error {
	for _, p := range queue {
		for p.remaining > 0 {
			if err := s.step(ctx, st, p, reps); err != nil {
				return err
			}
		}
	}

	return nil
}

func (s *Sweep) interleaved(
	ctx context.Context,
	st *state,
	queue []*pending,
	rng *rand.Rand,
	reps int,
) error {
	for len(queue) > 0 {
		i := rng.Intn(len(queue))
		p := queue[i]

		if err := s.step(ctx, st, p, reps); err != nil {
			return err
		}

		if p.remaining == 0 {
			queue = append(queue[:i], queue[i+1:]...)
		}
	}

	return nil
}

// step runs, records and commits one repetition of p.
func (s *Sweep) step(ctx context.Context, st *state, p *pending, reps int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	rep := reps - p.remaining
	logger := s.logger.With(
		slog.String("config", p.cfg.String()),
		slog.Int("rep", rep),
	)

	logger.InfoContext(ctx, "running config",
		slog.String("progress", fmt.Sprintf("[%d/%d]", st.progress.Count, st.progress.Total)),
	)

	if s.plan.Prepare != nil && st.prepared != p.key {
		st.prepared = ""
		if err := s.plan.Prepare(ctx, p.cfg); err != nil {
			logger.ErrorContext(ctx, "prepare failed", slog.Any("error", err))
			return fmt.Errorf("prepare %s: %w", p.cfg, err)
		}
		st.prepared = p.key
	}

	if s.plan.Warmup && rep == 0 {
		s.warmup(ctx, logger, p.cfg)
	}

	res, err := s.runner.Run(ctx, s.plan.Invoke(p.cfg, rep), s.opts.Timeout)
	if err != nil {
		logger.ErrorContext(ctx, "error running configuration", slog.Any("error", err))
		return fmt.Errorf("run %s: %w", p.cfg, err)
	}

	rec, err := s.plan.Extractor.Extract(res.Output)
	if err != nil {
		logger.ErrorContext(ctx, "error parsing output",
			slog.Any("error", err),
			slog.String("output", res.Output),
		)
		return fmt.Errorf("parse %s: %w", p.cfg, err)
	}

	sample := metrics.Select(rec, s.plan.Metrics)

	offset, err := s.write(ctx, st, p, sample)
	if err != nil {
		logger.ErrorContext(ctx, "error writing row", slog.Any("error", err))
		return err
	}

	progress, err := st.store.Commit(ctx, p.key, checkpoint.Sample(sample), offset)
	if err != nil {
		return fmt.Errorf("commit %s: %w", p.cfg, err)
	}

	st.progress = progress
	st.runs++
	p.remaining--

	logger.DebugContext(ctx, "run committed",
		slog.Duration("wall_time", res.Wall),
		slog.Int("left", progress.Left),
	)

	return nil
}

func (s *Sweep) warmup(ctx context.Context, logger *slog.Logger, cfg space.Config) {
	if _, err := s.runner.Run(ctx, s.plan.Invoke(cfg, 0), s.opts.Timeout); err != nil {
		logger.WarnContext(ctx, "warmup failed", slog.Any("error", err))
	}
}

// write appends the row for the current sample, if the row mode produces
// one, and returns the table length to commit.
func (s *Sweep) write(
	ctx context.Context,
	st *state,
	p *pending,
	sample metrics.Record,
) (int64, error) {
	switch s.opts.Rows {
	case RowsMean:
		if p.remaining > 1 {
			return st.table.Offset()
		}

		stored, err := st.store.Samples(ctx, p.key)
		if err != nil {
			return 0, err
		}

		all := make([]map[string]float64, 0, len(stored)+1)
		for _, smp := range stored {
			all = append(all, smp)
		}
		all = append(all, sample)

		mean := results.Mean(all, s.plan.Metrics)

		return st.table.Append(results.Row(p.cfg, metrics.Values(mean, s.plan.Metrics)))
	default:
		return st.table.Append(results.Row(p.cfg, metrics.Values(sample, s.plan.Metrics)))
	}
}

// open resumes the previous sweep when possible, otherwise it starts a new
// one. It reports whether it resumed.
func (s *Sweep) open(ctx context.Context) (*state, bool, error) {
	if st, ok := s.recover(ctx); ok {
		return st, true, nil
	}

	if err := os.MkdirAll(filepath.Dir(s.opts.Output), 0o755); err != nil {
		return nil, false, fmt.Errorf("create output dir: %w", err)
	}

	// The checkpoint is created first with offset 0. Until the header is
	// written and its offset recorded, the sweep is not resumable.
	store, err := checkpoint.Create(ctx, s.opts.Checkpoint, checkpoint.Meta{
		Experiment: s.plan.Name,
		Output:     s.outputID(),
	}, s.plan.Configs, s.opts.Reps)
	if err != nil {
		return nil, false, err
	}

	table, err := results.Create(s.opts.Output, s.plan.Header())
	if err != nil {
		store.Close()
		return nil, false, err
	}

	st := newState(table, store)

	offset, err := table.Offset()
	if err == nil {
		err = store.SetOffset(ctx, offset)
	}
	if err == nil {
		st.progress, err = store.Progress(ctx)
	}
	if err != nil {
		st.close()
		return nil, false, err
	}

	return st, false, nil
}

// recover reopens the previous sweep. Every failure falls back to a fresh
// sweep and is logged.
func (s *Sweep) recover(ctx context.Context) (*state, bool) {
	if !s.opts.Recover {
		return nil, false
	}

	if _, err := os.Stat(s.opts.Output); err != nil {
		return nil, false
	}

	if !checkpoint.Exists(s.opts.Checkpoint) {
		return nil, false
	}

	logger := s.logger.With(slog.String("checkpoint", s.opts.Checkpoint))

	store, err := checkpoint.Open(ctx, s.opts.Checkpoint)
	if err != nil {
		logger.WarnContext(ctx, "cannot reopen checkpoint, starting over", slog.Any("error", err))
		return nil, false
	}

	meta := store.Meta()
	if meta.Experiment != s.plan.Name || meta.Output != s.outputID() {
		logger.WarnContext(ctx, "checkpoint belongs to another sweep, starting over",
			slog.String("experiment", meta.Experiment),
			slog.String("output", meta.Output),
		)
		store.Close()

		return nil, false
	}

	if meta.Digest != checkpoint.Digest(s.plan.Configs) {
		logger.WarnContext(ctx, "checkpoint was built for other configurations, starting over",
			slog.String("run_id", meta.RunID),
		)
		store.Close()

		return nil, false
	}

	if meta.Reps != s.opts.Reps {
		logger.WarnContext(ctx, "resuming with the checkpoint's repetition count",
			slog.Int("checkpoint_reps", meta.Reps),
			slog.Int("requested_reps", s.opts.Reps),
		)
	}

	offset, err := store.Offset(ctx)
	if err != nil || offset == 0 {
		logger.WarnContext(ctx, "checkpoint has no committed header, starting over")
		store.Close()

		return nil, false
	}

	progress, err := store.Progress(ctx)
	if err != nil {
		logger.WarnContext(ctx, "cannot read progress, starting over", slog.Any("error", err))
		store.Close()

		return nil, false
	}

	table, err := results.Open(s.opts.Output, offset)
	if err != nil {
		logger.WarnContext(ctx, "cannot reopen output, starting over", slog.Any("error", err))
		store.Close()

		return nil, false
	}

	logger.InfoContext(ctx, "recovering sweep",
		slog.String("run_id", meta.RunID),
		slog.Int("left", progress.Left),
		slog.Int("total", progress.Total),
	)

	st := newState(table, store)
	st.progress = progress

	return st, true
}

// outputID identifies the output table in the checkpoint.
func (s *Sweep) outputID() string {
	if abs, err := filepath.Abs(s.opts.Output); err == nil {
		return abs
	}

	return s.opts.Output
}

func (st *state) close() {
	_ = st.exit.Cancel()
	st.table.Close()
	st.store.Close()
}
