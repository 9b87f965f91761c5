package results

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/stat"
)

// Stat summarizes one metric over the repetitions of a configuration.
type Stat struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`
	N      int     `json:"n"`
}

// Summarize computes mean and sample standard deviation of every key over
// samples. A key missing from a sample counts as 0.
func Summarize(samples []map[string]float64, keys []string) map[string]Stat {
	out := make(map[string]Stat, len(keys))
	xs := make([]float64, len(samples))

	for _, k := range keys {
		for i, s := range samples {
			xs[i] = s[k]
		}

		out[k] = summarize(xs)
	}

	return out
}

// Mean returns the mean of each key over samples.
func Mean(samples []map[string]float64, keys []string) map[string]float64 {
	out := make(map[string]float64, len(keys))
	for k, s := range Summarize(samples, keys) {
		out[k] = s.Mean
	}

	return out
}

func summarize(xs []float64) Stat {
	switch len(xs) {
	case 0:
		return Stat{}
	case 1:
		return Stat{Mean: xs[0], N: 1}
	}

	mean, std := stat.MeanStdDev(xs, nil)

	return Stat{Mean: mean, StdDev: std, N: len(xs)}
}

// Data is a table read back from disk.
type Data struct {
	Header []string
	Rows   [][]string
}

// ReadTable reads a CSV results table. Spaces after separators are ignored,
// as older tables were written with ", ".
func ReadTable(path string) (*Data, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open table: %w", err)
	}
	defer f.Close()

	d, err := ParseTable(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return d, nil
}

// ParseTable reads a CSV results table from r.
func ParseTable(r io.Reader) (*Data, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse table: %w", err)
	}

	if len(records) == 0 {
		return nil, fmt.Errorf("parse table: missing header")
	}

	header := records[0]
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	return &Data{Header: header, Rows: records[1:]}, nil
}

// Column returns the index of name in the header.
func (d *Data) Column(name string) (int, error) {
	for i, h := range d.Header {
		if h == name {
			return i, nil
		}
	}

	return 0, fmt.Errorf("unknown column %q", name)
}

// Filter returns the rows whose column equals value.
func (d *Data) Filter(column, value string) (*Data, error) {
	idx, err := d.Column(column)
	if err != nil {
		return nil, err
	}

	out := &Data{Header: d.Header}
	for _, row := range d.Rows {
		if idx < len(row) && strings.TrimSpace(row[idx]) == value {
			out.Rows = append(out.Rows, row)
		}
	}

	return out, nil
}

// Group is the aggregate of all rows sharing the same key columns.
type Group struct {
	Key   []string        `json:"key"`
	Stats map[string]Stat `json:"stats"`
}

// GroupBy groups rows by keyCols, in order of first appearance, and
// summarizes metricCols within each group.
func (d *Data) GroupBy(keyCols, metricCols []string) ([]Group, error) {
	keyIdx, err := d.columns(keyCols)
	if err != nil {
		return nil, err
	}

	metricIdx, err := d.columns(metricCols)
	if err != nil {
		return nil, err
	}

	var (
		order   []string
		keys    = make(map[string][]string)
		samples = make(map[string][]map[string]float64)
	)

	for n, row := range d.Rows {
		key := make([]string, len(keyIdx))
		for i, idx := range keyIdx {
			if idx >= len(row) {
				return nil, fmt.Errorf("row %d: missing column %s", n+1, keyCols[i])
			}
			key[i] = strings.TrimSpace(row[idx])
		}

		sample := make(map[string]float64, len(metricIdx))
		for i, idx := range metricIdx {
			if idx >= len(row) {
				return nil, fmt.Errorf("row %d: missing column %s", n+1, metricCols[i])
			}

			v, err := strconv.ParseFloat(strings.TrimSpace(row[idx]), 64)
			if err != nil {
				return nil, fmt.Errorf("row %d column %s: %w", n+1, metricCols[i], err)
			}
			sample[metricCols[i]] = v
		}

		k := strings.Join(key, "\x00")
		if _, ok := keys[k]; !ok {
			order = append(order, k)
			keys[k] = key
		}
		samples[k] = append(samples[k], sample)
	}

	groups := make([]Group, 0, len(order))
	for _, k := range order {
		groups = append(groups, Group{
			Key:   keys[k],
			Stats: Summarize(samples[k], metricCols),
		})
	}

	return groups, nil
}

func (d *Data) columns(names []string) ([]int, error) {
	idx := make([]int, len(names))

	for i, name := range names {
		c, err := d.Column(name)
		if err != nil {
			return nil, err
		}
		idx[i] = c
	}

	return idx, nil
}
