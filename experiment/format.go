package experiment

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/weiihann/benchit/harness"
	"github.com/weiihann/benchit/metrics"
	"github.com/weiihann/benchit/space"
	"github.com/weiihann/benchit/sweep"
)

// LeftFormats are the storage formats tried for the left operand.
var LeftFormats = []string{"CSR", "CSC", "DCSR", "DCSC", "SparseDense", "SparseDense10"}

// LeftSparsities are the (row, column) sparsity pairs of the left operand.
var LeftSparsities = [][2]float64{
	{0.50, 0.0}, {0.70, 0.0}, {0.90, 0.0},
	{0.0, 0.50}, {0.0, 0.70}, {0.0, 0.90},
	{0.50, 0.50}, {0.50, 0.70}, {0.50, 0.90},
	{0.70, 0.50}, {0.90, 0.50},
}

func twoDecimals(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// Format multiplies a 1024x1024 left operand stored in each of LeftFormats
// by a dense right operand. The second output line is a CSV record ending
// in the execution time.
func Format(opts Options) (*sweep.Plan, error) {
	size := strconv.Itoa(opts.sizes(1024)[0])

	var cfgs []space.Config

	for _, left := range LeftFormats {
		for _, sp := range LeftSparsities {
			cfgs = append(cfgs, space.Config{
				size, size, "DD", left, "DD",
				twoDecimals(sp[0]), twoDecimals(sp[1]),
				twoDecimals(0), twoDecimals(0),
			})
		}
	}

	bin := opts.binary()

	return &sweep.Plan{
		Name: "format",
		Params: []string{
			"rows", "cols", "out_format", "left_format", "right_format",
			"left_row_sparsity", "left_col_sparsity",
			"right_row_sparsity", "right_col_sparsity",
		},
		Metrics:   []string{"exec_time"},
		Extractor: &metrics.CSVLine{Line: 1, Columns: []string{"exec_time"}, FromEnd: true},
		Configs:   cfgs,
		Invoke: func(cfg space.Config, _ int) harness.Invocation {
			return harness.Invocation{
				Binary: bin,
				Args:   append([]string{"format"}, cfg...),
			}
		},
	}, nil
}

var (
	kernelSizes  = []int{64, 128, 256, 512, 1024, 2048, 4096}
	kernelRatios = []float64{0.0, 0.10, 0.20, 0.30, 0.40, 0.50, 0.60, 0.70, 0.80, 0.90, 0.99}
)

// Kernel times a square kernel over sizes and sparsity ratios. The whole
// output is a single CSV record whose last field is the time.
func Kernel(opts Options) (*sweep.Plan, error) {
	bin := opts.binary()

	return &sweep.Plan{
		Name:      "kernel",
		Params:    []string{"size", "ratio"},
		Metrics:   []string{"time"},
		Extractor: &metrics.CSVLine{Line: -1, Columns: []string{"time"}, FromEnd: true},
		Configs: space.Product(
			space.Ints(opts.sizes(kernelSizes...)...),
			space.Floats(opts.sparsities(kernelRatios...)...),
		),
		Invoke: func(cfg space.Config, _ int) harness.Invocation {
			return harness.Invocation{
				Binary: bin,
				Args:   append([]string{"format"}, cfg...),
			}
		},
	}, nil
}

var (
	storageSizes      = []int{1024, 2048, 4096}
	storageSparsities = []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9}
)

// StorageArgs builds the format command of a rank-dimensional tensor where
// every dimension has the same size and sparsity.
func StorageArgs(format string, rank int, size, sparsity string) ([]string, error) {
	if format != "D" && format != "S" {
		return nil, fmt.Errorf("storage format %q: want D or S", format)
	}

	args := []string{"format", strings.Repeat(format, rank), strconv.Itoa(rank)}

	for i := 0; i < rank; i++ {
		args = append(args, size)
	}

	for i := 0; i < rank; i++ {
		args = append(args, sparsity)
	}

	return args, nil
}

// Storage measures the memory of dense and sparse matrices and 3D tensors.
// The last CSV line of the output ends with the tensor memory and the
// total memory.
func Storage(opts Options) (*sweep.Plan, error) {
	cfgs := space.Product(
		[]string{"2", "3"},
		space.Ints(opts.sizes(storageSizes...)...),
		space.Floats(opts.sparsities(storageSparsities...)...),
		[]string{"D", "S"},
	)

	bin := opts.binary()

	return &sweep.Plan{
		Name:    "storage",
		Params:  []string{"rank", "size", "sparsity", "format"},
		Metrics: []string{"tensor_memory", "memory"},
		Extractor: &metrics.CSVLine{
			Line:    -1,
			Columns: []string{"tensor_memory", "memory"},
			FromEnd: true,
		},
		Configs: cfgs,
		Invoke: func(cfg space.Config, _ int) harness.Invocation {
			rank, _ := strconv.Atoi(cfg[0])
			// Configurations are generated above, so the format is valid.
			args, _ := StorageArgs(cfg[3], rank, cfg[1], cfg[2])

			return harness.Invocation{Binary: bin, Args: args}
		},
	}, nil
}
