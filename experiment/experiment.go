// Package experiment defines the benchmark sweeps that can be run against
// the benchmark binary, and the figures built from them.
package experiment

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/weiihann/benchit/sweep"
)

// ErrUnknown is returned for an experiment or figure name not in the
// catalogue.
var ErrUnknown = errors.New("unknown experiment")

// Options carries the paths and knobs shared by every experiment. Zero
// values fall back to each experiment's defaults.
type Options struct {
	Binary     string
	TesaBinary string
	SourceDir  string
	BuildDir   string
	Generator  string
	Dataset    string

	// Files restricts the dataset experiments to these file names.
	Files []string

	Seed       int64
	Sparsities []float64
	Sizes      []int

	GraphName    string
	Pattern      string
	SparseFormat string
	Warmup       bool

	// Impls selects the proptime implementations (spa, tesa).
	Impls []string

	Logger *slog.Logger
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}

	return slog.Default()
}

func (o Options) binary() string {
	if o.Binary != "" {
		return o.Binary
	}

	return "./build/benchmark"
}

func (o Options) sparsities(def ...float64) []float64 {
	if len(o.Sparsities) > 0 {
		return o.Sparsities
	}

	return def
}

func (o Options) sizes(def ...int) []int {
	if len(o.Sizes) > 0 {
		return o.Sizes
	}

	return def
}

// Experiment is one named sweep.
type Experiment struct {
	Name        string
	Description string
	Build       func(opts Options) (*sweep.Plan, error)
}

var catalog = map[string]Experiment{}

func register(e Experiment) {
	if _, dup := catalog[e.Name]; dup {
		panic(fmt.Sprintf("experiment %s registered twice", e.Name))
	}

	catalog[e.Name] = e
}

func init() {
	for _, e := range []Experiment{
		{
			Name:        "einsum",
			Description: "einsum dataset contractions, sparse and dense, with and without propagation",
			Build:       Einsum,
		},
		{
			Name:        "einsum-prop",
			Description: "sparsity ratios of forward, lateral and backward propagation on the einsum dataset",
			Build:       EinsumProp,
		},
		{
			Name:        "graph",
			Description: "model graph runtime under row and column sparsity patterns",
			Build:       Graph,
		},
		{
			Name:        "micro",
			Description: "single kernel phases (allocate, inference, compile, runtime) over sparsity",
			Build:       Micro,
		},
		{
			Name:        "format",
			Description: "matrix multiplication time per left operand storage format",
			Build:       Format,
		},
		{
			Name:        "kernel",
			Description: "square kernel time over size and sparsity ratio",
			Build:       Kernel,
		},
		{
			Name:        "storage",
			Description: "memory footprint of dense and sparse 2D and 3D tensors",
			Build:       Storage,
		},
		{
			Name:        "proptime",
			Description: "propagation time of SPA against TeSA, rebuilt per problem size",
			Build:       Proptime,
		},
	} {
		register(e)
	}
}

// Lookup returns the experiment called name.
func Lookup(name string) (Experiment, error) {
	e, ok := catalog[name]
	if !ok {
		return Experiment{}, fmt.Errorf("%w: %s", ErrUnknown, name)
	}

	return e, nil
}

// All returns the catalogue sorted by name.
func All() []Experiment {
	out := make([]Experiment, 0, len(catalog))
	for _, e := range catalog {
		out = append(out, e)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	return out
}
