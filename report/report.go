// Package report formats results tables into markdown and JSON summaries.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/weiihann/benchit/harness"
	"github.com/weiihann/benchit/results"
)

// Report is a summary of one results table: each group of rows sharing the
// key columns, with the mean and standard deviation of every metric.
type Report struct {
	Title   string          `json:"title"`
	Source  string          `json:"source,omitempty"`
	Host    *harness.Host   `json:"host,omitempty"`
	Keys    []string        `json:"keys"`
	Metrics []string        `json:"metrics"`
	Groups  []results.Group `json:"groups"`

	// Speedup names the metric the relative column is computed from.
	// Empty disables the column.
	Speedup string `json:"speedup,omitempty"`
}

// Build groups data by keys and summarizes metrics. The first metric
// drives the relative column.
func Build(title, source string, data *results.Data, keys, metrics []string) (*Report, error) {
	groups, err := data.GroupBy(keys, metrics)
	if err != nil {
		return nil, err
	}

	r := &Report{
		Title:   title,
		Source:  source,
		Keys:    keys,
		Metrics: metrics,
		Groups:  groups,
	}

	if len(metrics) > 0 {
		r.Speedup = metrics[0]
	}

	return r, nil
}

// Generate writes r as a markdown table to w.
func Generate(w io.Writer, r *Report) error {
	if len(r.Groups) == 0 {
		return fmt.Errorf("no results to report")
	}

	fastest := findFastest(r.Groups, r.Speedup)

	// Header.
	fmt.Fprintf(w, "## %s\n", r.Title)
	fmt.Fprintln(w)

	if r.Source != "" {
		fmt.Fprintf(w, "Source: `%s`\n", r.Source)
		fmt.Fprintln(w)
	}

	if r.Host != nil {
		fmt.Fprintf(w, "Host: %s, %s/%s, %s (%d cores), %s\n",
			r.Host.Hostname,
			r.Host.Platform,
			r.Host.Arch,
			r.Host.CPUModel,
			r.Host.Cores,
			formatBytes(r.Host.MemoryBytes),
		)
		fmt.Fprintln(w)
	}

	// Table header.
	cols := append(append([]string{}, r.Keys...), r.Metrics...)
	cols = append(cols, "Runs")
	if r.Speedup != "" {
		cols = append(cols, "Relative")
	}

	fmt.Fprintf(w, "| %s |\n", strings.Join(cols, " | "))

	seps := make([]string, len(cols))
	for i, c := range cols {
		seps[i] = strings.Repeat("-", max(len(c), 3))
	}
	fmt.Fprintf(w, "|%s|\n", "-"+strings.Join(seps, "-|-")+"-")

	for _, g := range r.Groups {
		cells := append([]string{}, g.Key...)

		runs := 0
		for _, m := range r.Metrics {
			s := g.Stats[m]
			cells = append(cells, formatStat(m, s))
			runs = max(runs, s.N)
		}

		cells = append(cells, fmt.Sprintf("%d", runs))

		if r.Speedup != "" {
			rel := 1.0
			if v := g.Stats[r.Speedup].Mean; fastest > 0 && v > 0 {
				rel = v / fastest
			}
			cells = append(cells, fmt.Sprintf("%.2fx", rel))
		}

		fmt.Fprintf(w, "| %s |\n", strings.Join(cells, " | "))
	}

	return nil
}

// GenerateJSON writes r as JSON to w.
func GenerateJSON(w io.Writer, r *Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(r)
}

func findFastest(groups []results.Group, metric string) float64 {
	if metric == "" {
		return 0
	}

	fastest := math.Inf(1)
	for _, g := range groups {
		if v := g.Stats[metric].Mean; v > 0 && v < fastest {
			fastest = v
		}
	}

	if math.IsInf(fastest, 1) {
		return 0
	}

	return fastest
}

// timeMetrics are reported in seconds by the benchmark binaries.
var timeMetrics = map[string]bool{
	"analysis":    true,
	"load":        true,
	"compilation": true,
	"runtime":     true,
	"exec_time":   true,
	"time":        true,
	"proptime":    true,
	"allocate":    true,
	"inference":   true,
	"compile":     true,
}

func formatStat(metric string, s results.Stat) string {
	format := formatNumber
	if timeMetrics[metric] {
		format = formatSeconds
	}

	if s.N < 2 || s.StdDev == 0 {
		return format(s.Mean)
	}

	return format(s.Mean) + " ± " + format(s.StdDev)
}

func formatNumber(v float64) string {
	return fmt.Sprintf("%.4g", v)
}

func formatSeconds(s float64) string {
	if s < 1 {
		return fmt.Sprintf("%.2fms", s*1000)
	}

	return fmt.Sprintf("%.2fs", s)
}

func formatBytes(b uint64) string {
	if b == 0 {
		return "-"
	}

	units := []string{"B", "KB", "MB", "GB", "TB"}
	size := float64(b)
	unit := 0

	for size >= 1024 && unit < len(units)-1 {
		size /= 1024
		unit++
	}

	formatted := fmt.Sprintf("%.1f", size)
	formatted = strings.TrimRight(formatted, "0")
	formatted = strings.TrimRight(formatted, ".")

	return formatted + " " + units[unit]
}
