package experiment

import (
	"context"
	"fmt"
	"strconv"

	"github.com/weiihann/benchit/harness"
	"github.com/weiihann/benchit/metrics"
	"github.com/weiihann/benchit/space"
	"github.com/weiihann/benchit/sweep"
)

// Proptime implementations.
const (
	ImplSPA  = "spa"
	ImplTeSA = "tesa"
)

var proptimeSizes = []int{64, 128, 256, 512, 1024}

// Proptime compares the propagation time of SPA and TeSA. The problem size
// is a compile time constant, so the benchmarks are rebuilt with
// SIZE_MACRO=<size> before each configuration. A run that prints no
// proptime line is recorded as 0.
func Proptime(opts Options) (*sweep.Plan, error) {
	impls := opts.Impls
	if len(impls) == 0 {
		impls = []string{ImplSPA, ImplTeSA}
	}

	binaries := map[string]string{
		ImplSPA:  opts.binary(),
		ImplTeSA: opts.TesaBinary,
	}
	if binaries[ImplTeSA] == "" {
		binaries[ImplTeSA] = "./build/tesa-prop"
	}

	for _, impl := range impls {
		if _, ok := binaries[impl]; !ok {
			return nil, fmt.Errorf("%w: proptime implementation %q", ErrUnknown, impl)
		}
	}

	source := opts.SourceDir
	if source == "" {
		source = "."
	}

	build := opts.BuildDir
	if build == "" {
		build = "./build"
	}

	generator := opts.Generator
	if generator == "" {
		generator = "Ninja"
	}

	logger := opts.logger()

	return &sweep.Plan{
		Name:    "proptime",
		Params:  []string{"impl", "size"},
		Metrics: []string{"proptime"},
		Extractor: &metrics.Rules{
			Rules:  []metrics.Rule{{Substring: "proptime", Metric: "proptime"}},
			Logger: logger,
		},
		Configs: space.Product(impls, space.Ints(opts.sizes(proptimeSizes...)...)),
		Invoke: func(cfg space.Config, _ int) harness.Invocation {
			return harness.Invocation{Binary: binaries[cfg[0]], Args: []string{"proptime"}}
		},
		Prepare: func(ctx context.Context, cfg space.Config) error {
			if _, err := strconv.Atoi(cfg[1]); err != nil {
				return fmt.Errorf("proptime size %q: %w", cfg[1], err)
			}

			return harness.Rebuild(ctx, logger, harness.BuildConfig{
				SourceDir: source,
				BuildDir:  build,
				Generator: generator,
				Defines:   map[string]string{"SIZE_MACRO": cfg[1]},
				Binary:    binaries[cfg[0]],
			})
		},
	}, nil
}
