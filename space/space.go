// Package space enumerates the configuration space of a benchmark sweep.
// A configuration is an ordered tuple of string parameters that is passed
// to the benchmark binary and identifies one sweep point.
package space

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
)

// KeySeparator joins the fields of a Config into its key.
const KeySeparator = "#"

// Config is one sweep point.
type Config []string

// Key returns the string that identifies c in a checkpoint.
func (c Config) Key() string {
	return strings.Join(c, KeySeparator)
}

func (c Config) String() string {
	return strings.Join(c, " ")
}

// Product returns the cartesian product of dims. The first dimension varies
// slowest, matching nested loops written in declaration order.
func Product(dims ...[]string) []Config {
	if len(dims) == 0 {
		return nil
	}

	total := 1
	for _, d := range dims {
		total *= len(d)
	}

	if total == 0 {
		return nil
	}

	out := make([]Config, 0, total)
	idx := make([]int, len(dims))

	for {
		cfg := make(Config, len(dims))
		for i, d := range dims {
			cfg[i] = d[idx[i]]
		}

		out = append(out, cfg)

		// Advance the odometer from the last dimension.
		i := len(dims) - 1
		for ; i >= 0; i-- {
			idx[i]++
			if idx[i] < len(dims[i]) {
				break
			}
			idx[i] = 0
		}

		if i < 0 {
			return out
		}
	}
}

// Dedup drops configurations whose key was already seen, keeping the first.
func Dedup(cfgs []Config) []Config {
	seen := make(map[string]struct{}, len(cfgs))
	out := cfgs[:0:0]

	for _, c := range cfgs {
		k := c.Key()
		if _, ok := seen[k]; ok {
			continue
		}

		seen[k] = struct{}{}
		out = append(out, c)
	}

	return out
}

// Validate checks that every configuration has width fields and that no
// field contains the key separator.
func Validate(cfgs []Config, width int) error {
	for _, c := range cfgs {
		if len(c) != width {
			return fmt.Errorf(
				"config %q has %d fields, want %d", c.String(), len(c), width,
			)
		}

		for _, f := range c {
			if strings.Contains(f, KeySeparator) {
				return fmt.Errorf(
					"config %q: field %q contains %q",
					c.String(), f, KeySeparator,
				)
			}
		}
	}

	return nil
}

// Float formats a sweep value the way the benchmark scripts always have:
// shortest representation, with a trailing ".0" for whole numbers.
func Float(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eEnN") {
		s += ".0"
	}

	return s
}

// Floats formats each value with Float.
func Floats(vs ...float64) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = Float(v)
	}

	return out
}

// Ints formats each value in base 10.
func Ints(vs ...int) []string {
	out := make([]string, len(vs))
	for i, v := range vs {
		out[i] = strconv.Itoa(v)
	}

	return out
}

// Files lists the regular files in dir, sorted by name.
func Files(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list dataset %s: %w", dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}

	sort.Strings(names)

	return names, nil
}
