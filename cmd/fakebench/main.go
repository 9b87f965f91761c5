// Fakebench imitates the command line and output of the SPA benchmark
// binaries with deterministic synthetic numbers, so sweeps can be tried
// without a SPA build.
//
//	fakebench einsum <file> <format> <sparsity> <prop> <seed>
//	fakebench einsum prop <file> <sparsity> <fw> <lat> <bw> <seed>
//	fakebench graph <model> <row> <col> <format> <prop> <seed>
//	fakebench format <rows> <cols> <out> <left> <right> <lrs> <lcs> <rrs> <rcs>
//	fakebench format <size> <ratio>
//	fakebench format <D|S...> <rank> <sizes...> <sparsities...>
//	fakebench proptime
//	fakebench <sparsity> <use_prop>
//
// FAKEBENCH_DELAY (a Go duration) delays every invocation and
// FAKEBENCH_FAIL makes invocations whose arguments contain it exit 1.
package main

import (
	"fmt"
	"hash/fnv"
	"io"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"time"
)

func main() {
	if d := os.Getenv("FAKEBENCH_DELAY"); d != "" {
		delay, err := time.ParseDuration(d)
		if err != nil {
			fatal("FAKEBENCH_DELAY: %v", err)
		}
		time.Sleep(delay)
	}

	args := os.Args[1:]

	if f := os.Getenv("FAKEBENCH_FAIL"); f != "" && strings.Contains(strings.Join(args, " "), f) {
		fatal("injected failure for %q", f)
	}

	if err := run(args, os.Stdout); err != nil {
		fatal("%v", err)
	}
}

func run(args []string, w io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: fakebench <command> [args...]")
	}

	switch args[0] {
	case "einsum":
		if len(args) > 1 && args[1] == "prop" {
			return einsumProp(args[2:], w)
		}
		return tensor(args[1:], 5, w)
	case "graph":
		return tensor(args[1:], 6, w)
	case "format":
		return format(args[1:], w)
	case "proptime":
		g := newGen(args, sizeMacro())
		fmt.Fprintf(w, "proptime = %.6f\n", g.between(0.001, 0.01)*float64(sizeMacro())/64)
		return nil
	}

	if len(args) == 2 {
		return micro(args, w)
	}

	return fmt.Errorf("unknown command %q", args[0])
}

// gen draws values seeded by the arguments, so identical invocations
// produce identical output.
type gen struct {
	rng *rand.Rand
}

func newGen(args []string, salt int) *gen {
	h := fnv.New64a()
	for _, a := range args {
		h.Write([]byte(a))
		h.Write([]byte{0})
	}

	return &gen{rng: rand.New(rand.NewSource(int64(h.Sum64()) + int64(salt)))}
}

func (g *gen) between(lo, hi float64) float64 {
	return lo + g.rng.Float64()*(hi-lo)
}

func sizeMacro() int {
	n, err := strconv.Atoi(os.Getenv("SIZE_MACRO"))
	if err != nil || n <= 0 {
		return 64
	}

	return n
}

func parseSparsity(s string) (float64, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 || v > 1 {
		return 0, fmt.Errorf("sparsity %q: want a number in [0, 1]", s)
	}

	return v, nil
}

// tensor prints the einsum and graph report. want is the number of
// arguments; the sparsity is the first argument parsing as one.
func tensor(args []string, want int, w io.Writer) error {
	if len(args) != want {
		return fmt.Errorf("want %d arguments, got %d", want, len(args))
	}

	g := newGen(args, 0)

	dense := false
	sparsity := 0.5
	for _, a := range args {
		if a == "dense" || a == "DD" {
			dense = true
		}
		if v, err := strconv.ParseFloat(a, 64); err == nil && v > 0 && v < 1 {
			sparsity = v
		}
	}

	density := 1 - sparsity
	if dense {
		density = 1
	}

	fmt.Fprintf(w, "sparsity before = %.4f\n", sparsity)
	fmt.Fprintf(w, "sparsity after = %.4f\n", min(1, sparsity+g.between(0, 0.05)))
	fmt.Fprintf(w, "analysis time = %.6f\n", g.between(0.001, 0.01))
	fmt.Fprintf(w, "load graph time = %.6f\n", g.between(0.01, 0.05))
	fmt.Fprintf(w, "compilation time = %.6f\n", g.between(0.1, 0.5))
	fmt.Fprintf(w, "runtime = %.6f\n", density*g.between(0.5, 1.5))
	fmt.Fprintf(w, "memory used = %d\n", int(density*float64(1<<26)))
	fmt.Fprintf(w, "tensors = %d\n", int(density*float64(1<<24)))

	return nil
}

func einsumProp(args []string, w io.Writer) error {
	if len(args) != 6 {
		return fmt.Errorf("want 6 arguments, got %d", len(args))
	}

	sparsity, err := parseSparsity(args[1])
	if err != nil {
		return err
	}

	g := newGen(args, 0)
	ratio := sparsity

	fmt.Fprintf(w, "initial_ratio = %.4f\n", ratio)
	for i, name := range []string{"fw_ratio", "lat_ratio", "bw_ratio"} {
		if args[2+i] == "1" {
			ratio = min(1, ratio+g.between(0, (1-ratio)/4))
		}
		fmt.Fprintf(w, "%s = %.4f\n", name, ratio)
	}

	return nil
}

func format(args []string, w io.Writer) error {
	switch {
	case len(args) == 2:
		// Kernel: size ratio.
		size, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("size %q: %w", args[0], err)
		}

		ratio, err := parseSparsity(args[1])
		if err != nil {
			return err
		}

		g := newGen(args, 0)
		t := float64(size) * float64(size) * (1 - ratio) * g.between(1e-9, 2e-9)
		fmt.Fprintf(w, "%d,%d,%.2f,%.9f\n", size, size, ratio, t)

	case len(args) == 9:
		// Matrix multiplication with explicit operand formats.
		g := newGen(args, 0)
		fmt.Fprintf(w, "rows,cols,left,exec_time\n")
		fmt.Fprintf(w, "%s,%s,%s,%.6f\n", args[0], args[1], args[3], g.between(0.01, 0.2))

	case len(args) >= 2 && strings.Trim(args[0], "DS") == "":
		// Storage: formats rank sizes... sparsities...
		rank, err := strconv.Atoi(args[1])
		if err != nil || rank != len(args[0]) || len(args) != 2+2*rank {
			return fmt.Errorf("storage arguments %v do not match rank", args)
		}

		elements := 1.0
		for _, s := range args[2 : 2+rank] {
			n, err := strconv.Atoi(s)
			if err != nil {
				return fmt.Errorf("size %q: %w", s, err)
			}
			elements *= float64(n)
		}

		density := 1.0
		if strings.Contains(args[0], "S") {
			for _, s := range args[2+rank:] {
				sp, err := parseSparsity(s)
				if err != nil {
					return err
				}
				density *= 1 - sp
			}
		}

		tensorMemory := int(elements * density * 8)
		fmt.Fprintf(w, "%s,%d,%d\n", args[0], tensorMemory, tensorMemory+4096)

	default:
		return fmt.Errorf("format: unexpected arguments %v", args)
	}

	return nil
}

func micro(args []string, w io.Writer) error {
	sparsity, err := parseSparsity(args[0])
	if err != nil {
		return err
	}

	g := newGen(args, 0)

	fmt.Fprintf(w, "allocate = %.6f\n", g.between(0.001, 0.002))
	if args[1] == "1" {
		fmt.Fprintf(w, "inference = %.6f\n", g.between(0.001, 0.005))
	}
	fmt.Fprintf(w, "compile = %.6f\n", g.between(0.05, 0.1))
	fmt.Fprintf(w, "runtime = %.6f\n", (1-sparsity)*g.between(0.1, 0.2))

	return nil
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "fakebench: "+format+"\n", args...)
	os.Exit(1)
}
