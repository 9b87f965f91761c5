// Package metrics extracts named numeric metrics from the text output of a
// benchmark binary.
package metrics

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

var (
	// ErrMissing reports that a required metric was not found.
	ErrMissing = errors.New("missing metric")
	// ErrFormat reports output that does not have the expected shape.
	ErrFormat = errors.New("unexpected output format")
)

// Record is the set of metrics parsed from one invocation.
type Record map[string]float64

// Extractor turns benchmark output into a Record.
type Extractor interface {
	Extract(output string) (Record, error)
}

// Select returns a Record holding exactly keys. Keys absent from r are 0.
func Select(r Record, keys []string) Record {
	out := make(Record, len(keys))
	for _, k := range keys {
		out[k] = r[k]
	}

	return out
}

// Values returns the values of keys in order. Keys absent from r are 0.
func Values(r Record, keys []string) []float64 {
	out := make([]float64, len(keys))
	for i, k := range keys {
		out[i] = r[k]
	}

	return out
}

// Require checks that every key in keys is present in r.
func Require(r Record, keys []string) error {
	var missing []string

	for _, k := range keys {
		if _, ok := r[k]; !ok {
			missing = append(missing, k)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissing, strings.Join(missing, ", "))
	}

	return nil
}

// Rule assigns the value of any line whose label contains Substring to
// Metric.
type Rule struct {
	Substring string
	Metric    string
}

// Rules extracts "label = value" and "label=value" lines. For each line the
// first matching rule wins; lines matching no rule are ignored. With no rules
// at all, every label becomes a metric under its trimmed name.
type Rules struct {
	Rules    []Rule
	Required []string
	Logger   *slog.Logger
}

// Extract implements Extractor.
func (r *Rules) Extract(output string) (Record, error) {
	rec := make(Record)

	for _, line := range lines(output) {
		label, value, ok := splitAssignment(line)
		if !ok {
			continue
		}

		name := r.match(label)
		if name == "" {
			continue
		}

		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			if r.Logger != nil {
				r.Logger.Warn("ignoring malformed metric",
					slog.String("metric", name),
					slog.String("line", line),
				)
			}

			continue
		}

		rec[name] = v
	}

	if err := Require(rec, r.Required); err != nil {
		return rec, err
	}

	return rec, nil
}

// Metrics returns the metric names in rule order, without duplicates.
func (r *Rules) Metrics() []string {
	seen := make(map[string]bool, len(r.Rules))
	names := make([]string, 0, len(r.Rules))

	for _, rule := range r.Rules {
		if !seen[rule.Metric] {
			seen[rule.Metric] = true
			names = append(names, rule.Metric)
		}
	}

	return names
}

func (r *Rules) match(label string) string {
	if len(r.Rules) == 0 {
		return strings.TrimSpace(label)
	}

	for _, rule := range r.Rules {
		if strings.Contains(label, rule.Substring) {
			return rule.Metric
		}
	}

	return ""
}

// splitAssignment splits line at its last '='.
func splitAssignment(line string) (label, value string, ok bool) {
	i := strings.LastIndexByte(line, '=')
	if i < 0 {
		return "", "", false
	}

	label = line[:i]
	value = strings.TrimSpace(line[i+1:])

	if strings.TrimSpace(label) == "" || value == "" {
		return "", "", false
	}

	return label, value, true
}

// CSVLine extracts metrics from one comma separated line of the output.
// Line indexes the non-empty output lines; negative values count from the
// end. Columns names the fields to keep; an empty name skips a field. When
// FromEnd is set the names are aligned with the last fields of the line.
type CSVLine struct {
	Line    int
	Columns []string
	FromEnd bool
}

// Extract implements Extractor.
func (c *CSVLine) Extract(output string) (Record, error) {
	ls := lines(output)

	idx := c.Line
	if idx < 0 {
		idx += len(ls)
	}

	if idx < 0 || idx >= len(ls) {
		return nil, fmt.Errorf(
			"%w: want line %d, got %d lines", ErrFormat, c.Line, len(ls),
		)
	}

	fields := strings.Split(ls[idx], ",")
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	// Tolerate a trailing separator.
	if n := len(fields); n > 1 && fields[n-1] == "" {
		fields = fields[:n-1]
	}

	if len(fields) < len(c.Columns) {
		return nil, fmt.Errorf(
			"%w: want %d columns, got %d in %q",
			ErrFormat, len(c.Columns), len(fields), ls[idx],
		)
	}

	offset := 0
	if c.FromEnd {
		offset = len(fields) - len(c.Columns)
	}

	rec := make(Record, len(c.Columns))

	for i, name := range c.Columns {
		if name == "" {
			continue
		}

		v, err := strconv.ParseFloat(fields[offset+i], 64)
		if err != nil {
			return nil, fmt.Errorf(
				"%w: column %s: %q is not a number",
				ErrFormat, name, fields[offset+i],
			)
		}

		rec[name] = v
	}

	return rec, nil
}

// Metrics returns the named columns in order.
func (c *CSVLine) Metrics() []string {
	names := make([]string, 0, len(c.Columns))
	for _, name := range c.Columns {
		if name != "" {
			names = append(names, name)
		}
	}

	return names
}

// lines returns the non-empty lines of s with surrounding space removed.
func lines(s string) []string {
	raw := strings.Split(s, "\n")
	out := make([]string, 0, len(raw))

	for _, l := range raw {
		l = strings.TrimSpace(l)
		if l != "" {
			out = append(out, l)
		}
	}

	return out
}
