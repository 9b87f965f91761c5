package experiment

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"

	"github.com/weiihann/benchit/harness"
	"github.com/weiihann/benchit/metrics"
	"github.com/weiihann/benchit/space"
	"github.com/weiihann/benchit/sweep"
)

// tensorRules maps the labels printed by the tensor benchmarks to metric
// names. Order matters: a line is assigned to its first matching rule.
var tensorRules = []metrics.Rule{
	{Substring: "analysis", Metric: "analysis"},
	{Substring: "load graph", Metric: "load"},
	{Substring: "compilation", Metric: "compilation"},
	{Substring: "runtime", Metric: "runtime"},
	{Substring: "memory used", Metric: "memory"},
	{Substring: "before", Metric: "before"},
	{Substring: "after", Metric: "after"},
	{Substring: "tensors", Metric: "tensors-size"},
	{Substring: "fw_ratio", Metric: "fw_ratio"},
	{Substring: "lat_ratio", Metric: "lat_ratio"},
	{Substring: "bw_ratio", Metric: "bw_ratio"},
	{Substring: "initial_ratio", Metric: "initial_ratio"},
}

// TensorMetrics are the columns of the einsum and graph tables.
var TensorMetrics = []string{
	"before", "after", "analysis", "load", "compilation", "runtime", "memory", "tensors-size",
}

// PropMetrics are the columns of the einsum-prop table.
var PropMetrics = []string{"initial_ratio", "fw_ratio", "lat_ratio", "bw_ratio"}

// DefaultSparsities is the sparsity sweep of the einsum experiments.
var DefaultSparsities = []float64{0.9, 0.7, 0.5, 0.3}

// CuratedEinsumFiles is the subset of the einsum dataset that finishes in
// reasonable time for every format.
var CuratedEinsumFiles = []string{
	"lm_batch_likelihood_brackets_3_16d.txt",
	"lm_batch_likelihood_sentence_3_12d.txt",
	"str_nw_mera_open_26.txt",
	"lm_batch_likelihood_sentence_4_8d.txt",
	"str_nw_ftps_open_30.txt",
	"str_matrix_chain_multiplication_100.txt",
	"str_nw_ftps_open_28.txt",
	"lm_batch_likelihood_sentence_4_4d.txt",
	"mc_2021_027.txt",
	"str_mps_varying_inner_product_200.txt",
	"str_nw_mera_closed_120.txt",
	"gm_queen5_5_3.wcsp.txt",
	"str_matrix_chain_multiplication_1000.txt",
}

func tensorExtractor(logger *slog.Logger, required ...string) *metrics.Rules {
	return &metrics.Rules{
		Rules:    tensorRules,
		Required: required,
		Logger:   logger,
	}
}

func datasetFiles(opts Options) ([]string, error) {
	if len(opts.Files) > 0 {
		return opts.Files, nil
	}

	dir := opts.Dataset
	if dir == "" {
		dir = "einsum-dataset"
	}

	files, err := space.Files(dir)
	if err != nil {
		return nil, err
	}

	if len(files) == 0 {
		return nil, fmt.Errorf("dataset %s is empty", dir)
	}

	return files, nil
}

func datasetPath(opts Options, file string) string {
	dir := opts.Dataset
	if dir == "" {
		dir = "einsum-dataset"
	}

	return filepath.Join(dir, file)
}

func seedArg(seed int64, rep int) string {
	return strconv.FormatInt(seed+int64(rep), 10)
}

// EinsumConfigs enumerates file_name, format, sparsity, propagate. Dense
// tensors are never run with propagation.
func EinsumConfigs(files []string, sparsities []float64) []space.Config {
	variants := []space.Config{{"sparse", "0"}, {"sparse", "1"}, {"dense", "0"}}

	var cfgs []space.Config

	for _, s := range space.Floats(sparsities...) {
		for _, f := range files {
			for _, v := range variants {
				cfgs = append(cfgs, space.Config{f, v[0], s, v[1]})
			}
		}
	}

	return cfgs
}

// Einsum runs every dataset contraction in sparse and dense format. The
// seed of repetition rep is Seed + rep.
func Einsum(opts Options) (*sweep.Plan, error) {
	files, err := datasetFiles(opts)
	if err != nil {
		return nil, err
	}

	bin := opts.binary()

	return &sweep.Plan{
		Name:      "einsum",
		Params:    []string{"file_name", "format", "sparsity", "propagate"},
		Metrics:   TensorMetrics,
		Extractor: tensorExtractor(opts.logger()),
		Configs:   EinsumConfigs(files, opts.sparsities(DefaultSparsities...)),
		Invoke: func(cfg space.Config, rep int) harness.Invocation {
			return harness.Invocation{
				Binary: bin,
				Args: []string{
					"einsum", datasetPath(opts, cfg[0]), cfg[1], cfg[2], cfg[3],
					seedArg(opts.Seed, rep),
				},
			}
		},
		Label: func(cfg space.Config) string { return cfg[0] },
	}, nil
}

// ScreenPlan runs every dataset file once, dense and without propagation,
// at the first configured sparsity. A run counts as a success only when it
// reports its runtime.
func ScreenPlan(opts Options) (*sweep.Plan, []string, error) {
	files, err := datasetFiles(opts)
	if err != nil {
		return nil, nil, err
	}

	sparsity := space.Float(opts.sparsities(0.5)[0])

	cfgs := make([]space.Config, len(files))
	for i, f := range files {
		cfgs[i] = space.Config{f, "dense", sparsity, "0"}
	}

	plan, err := Einsum(Options{
		Binary:  opts.Binary,
		Dataset: opts.Dataset,
		Files:   files,
		Seed:    opts.Seed,
		Logger:  opts.Logger,
	})
	if err != nil {
		return nil, nil, err
	}

	plan.Name = "einsum-screen"
	plan.Configs = cfgs

	return plan, []string{"runtime"}, nil
}

// EinsumProp measures the sparsity ratios after each propagation pass.
// Forward propagation is always on; lateral and backward are toggled.
func EinsumProp(opts Options) (*sweep.Plan, error) {
	files, err := datasetFiles(opts)
	if err != nil {
		return nil, err
	}

	var cfgs []space.Config

	for _, s := range space.Floats(opts.sparsities(DefaultSparsities...)...) {
		cfgs = append(cfgs, space.Product(files, []string{s}, []string{"1"}, []string{"0", "1"}, []string{"0", "1"})...)
	}

	bin := opts.binary()

	return &sweep.Plan{
		Name:      "einsum-prop",
		Params:    []string{"file_name", "sparsity", "run_fw", "run_lat", "run_bw"},
		Metrics:   PropMetrics,
		Extractor: tensorExtractor(opts.logger()),
		Configs:   cfgs,
		Invoke: func(cfg space.Config, rep int) harness.Invocation {
			return harness.Invocation{
				Binary: bin,
				Args: []string{
					"einsum", "prop", datasetPath(opts, cfg[0]), cfg[1], cfg[2], cfg[3], cfg[4],
					seedArg(opts.Seed, rep),
				},
			}
		},
		Label: func(cfg space.Config) string { return cfg[0] },
	}, nil
}

// Graph sparsity patterns.
const (
	PatternColumn = "column"
	PatternRow    = "row"
	PatternRowCol = "row-col"
	PatternFull   = "full"
)

var graphSparsities = []float64{0.1, 0.3, 0.5, 0.7, 0.9}

// GraphConfigs enumerates row, col, format, prop for a sparsity pattern.
// Every sparsity runs as sparse, sparse with propagation and dense (DD).
// The full pattern is column, row and row-col in that order.
func GraphConfigs(pattern, sparseFormat string, sparsities []float64) ([]space.Config, error) {
	if sparseFormat == "" {
		sparseFormat = "SD"
	}

	variants := []space.Config{{sparseFormat, "0"}, {sparseFormat, "1"}, {"DD", "0"}}
	zero := space.Float(0)

	build := func(rowcol func(s string) (string, string)) []space.Config {
		var cfgs []space.Config
		for _, v := range variants {
			for _, s := range space.Floats(sparsities...) {
				r, c := rowcol(s)
				cfgs = append(cfgs, space.Config{r, c, v[0], v[1]})
			}
		}

		return cfgs
	}

	column := func() []space.Config {
		return build(func(s string) (string, string) { return zero, s })
	}
	row := func() []space.Config {
		return build(func(s string) (string, string) { return s, zero })
	}
	rowCol := func() []space.Config {
		return build(func(s string) (string, string) { return s, s })
	}

	switch pattern {
	case PatternColumn:
		return column(), nil
	case PatternRow:
		return row(), nil
	case PatternRowCol:
		return rowCol(), nil
	case PatternFull, "":
		cfgs := column()
		cfgs = append(cfgs, row()...)
		return append(cfgs, rowCol()...), nil
	default:
		return nil, fmt.Errorf("%w: graph pattern %q", ErrUnknown, pattern)
	}
}

// Graph runs a model graph under a row/column sparsity pattern. Every
// repetition uses the same seed.
func Graph(opts Options) (*sweep.Plan, error) {
	model := opts.GraphName
	if model == "" {
		model = "bert"
	}

	seed := opts.Seed
	if seed == 0 {
		seed = 1
	}

	pairs, err := GraphConfigs(opts.Pattern, opts.SparseFormat, opts.sparsities(graphSparsities...))
	if err != nil {
		return nil, err
	}

	cfgs := make([]space.Config, len(pairs))
	for i, p := range pairs {
		cfgs[i] = append(space.Config{model}, p...)
	}

	bin := opts.binary()

	return &sweep.Plan{
		Name:      "graph",
		Params:    []string{"model", "row", "col", "format", "prop"},
		Metrics:   TensorMetrics,
		Extractor: tensorExtractor(opts.logger()),
		Configs:   cfgs,
		Invoke: func(cfg space.Config, _ int) harness.Invocation {
			args := append([]string{"graph"}, cfg...)
			return harness.Invocation{
				Binary: bin,
				Args:   append(args, strconv.FormatInt(seed, 10)),
			}
		},
		Warmup: opts.Warmup,
	}, nil
}

var microSparsities = []float64{0, 0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9}

// Micro runs a single kernel binary that takes only a sparsity and a
// propagation flag. Phases missing from the output are reported as 0.
func Micro(opts Options) (*sweep.Plan, error) {
	bin := opts.binary()

	names := []string{"allocate", "inference", "compile", "runtime"}
	rules := make([]metrics.Rule, len(names))
	for i, n := range names {
		rules[i] = metrics.Rule{Substring: n, Metric: n}
	}

	return &sweep.Plan{
		Name:    "micro",
		Params:  []string{"use_prop", "sparsity"},
		Metrics: names,
		Extractor: &metrics.Rules{
			Rules:    rules,
			Required: []string{"runtime"},
			Logger:   opts.logger(),
		},
		Configs: space.Product([]string{"0", "1"}, space.Floats(opts.sparsities(microSparsities...)...)),
		Invoke: func(cfg space.Config, _ int) harness.Invocation {
			return harness.Invocation{Binary: bin, Args: []string{cfg[1], cfg[0]}}
		},
	}, nil
}
