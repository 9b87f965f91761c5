package experiment

import (
	"log/slog"

	"github.com/weiihann/benchit/harness"
	"github.com/weiihann/benchit/metrics"
	"github.com/weiihann/benchit/space"
	"github.com/weiihann/benchit/sweep"
)

// Custom builds a plan from a YAML sweep definition.
func Custom(def *space.Definition, binary string, logger *slog.Logger) *sweep.Plan {
	rules := make([]metrics.Rule, len(def.Metrics))
	for i, m := range def.Metrics {
		rules[i] = metrics.Rule{Substring: m.Match, Metric: m.Name}
	}

	ex := &metrics.Rules{
		Rules:    rules,
		Required: def.Required,
		Logger:   logger,
	}

	return &sweep.Plan{
		Name:      def.Name,
		Params:    def.ParamNames(),
		Metrics:   ex.Metrics(),
		Extractor: ex,
		Configs:   def.Configs(),
		Invoke: func(cfg space.Config, rep int) harness.Invocation {
			return harness.Invocation{Binary: binary, Args: def.Expand(cfg, rep)}
		},
	}
}
