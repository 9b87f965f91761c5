package experiment

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/weiihann/benchit/metrics"
	"github.com/weiihann/benchit/space"
)

func TestCatalog(t *testing.T) {
	want := []string{
		"einsum", "einsum-prop", "format", "graph", "kernel", "micro", "proptime", "storage",
	}

	var got []string
	for _, e := range All() {
		got = append(got, e.Name)
		if e.Build == nil || e.Description == "" {
			t.Errorf("experiment %s is incomplete", e.Name)
		}
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("catalogue mismatch (-want +got):\n%s", diff)
	}

	if _, err := Lookup("nope"); !errors.Is(err, ErrUnknown) {
		t.Errorf("Lookup(nope) error = %v, want ErrUnknown", err)
	}
}

func TestEinsumConfigs(t *testing.T) {
	got := EinsumConfigs([]string{"a.txt", "b.txt"}, []float64{0.5})

	want := []space.Config{
		{"a.txt", "sparse", "0.5", "0"},
		{"a.txt", "sparse", "0.5", "1"},
		{"a.txt", "dense", "0.5", "0"},
		{"b.txt", "sparse", "0.5", "0"},
		{"b.txt", "sparse", "0.5", "1"},
		{"b.txt", "dense", "0.5", "0"},
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("EinsumConfigs mismatch (-want +got):\n%s", diff)
	}
}

func writeDataset(t *testing.T, names ...string) string {
	t.Helper()

	dir := t.TempDir()
	for _, n := range names {
		if err := os.WriteFile(filepath.Join(dir, n), []byte("[]\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	if err := os.Mkdir(filepath.Join(dir, "subdir"), 0o755); err != nil {
		t.Fatal(err)
	}

	return dir
}

func TestEinsumPlan(t *testing.T) {
	dir := writeDataset(t, "b.txt", "a.txt")

	plan, err := Einsum(Options{Binary: "/bin/bench", Dataset: dir, Seed: 40})
	if err != nil {
		t.Fatalf("Einsum: %v", err)
	}

	if err := plan.Validate(); err != nil {
		t.Fatalf("plan invalid: %v", err)
	}

	// 4 sparsities x 2 files x 3 variants.
	if len(plan.Configs) != 24 {
		t.Fatalf("got %d configs, want 24", len(plan.Configs))
	}

	if got := plan.Configs[0]; got[0] != "a.txt" || got[2] != "0.9" {
		t.Errorf("first config = %v, want a.txt at sparsity 0.9", got)
	}

	inv := plan.Invoke(plan.Configs[1], 2)
	want := []string{"einsum", filepath.Join(dir, "a.txt"), "sparse", "0.9", "1", "42"}

	if inv.Binary != "/bin/bench" {
		t.Errorf("binary = %s", inv.Binary)
	}
	if diff := cmp.Diff(want, inv.Args); diff != "" {
		t.Errorf("args mismatch (-want +got):\n%s", diff)
	}

	if got := plan.Label(plan.Configs[0]); got != "a.txt" {
		t.Errorf("label = %s, want a.txt", got)
	}
}

func TestEinsumEmptyDataset(t *testing.T) {
	if _, err := Einsum(Options{Dataset: t.TempDir()}); err == nil {
		t.Error("expected error for empty dataset")
	}

	if _, err := Einsum(Options{Dataset: filepath.Join(t.TempDir(), "missing")}); err == nil {
		t.Error("expected error for missing dataset")
	}
}

func TestEinsumFilesOverrideDataset(t *testing.T) {
	plan, err := Einsum(Options{
		Dataset:    filepath.Join(t.TempDir(), "missing"),
		Files:      CuratedEinsumFiles[:2],
		Sparsities: []float64{0.5},
	})
	if err != nil {
		t.Fatalf("Einsum: %v", err)
	}

	if len(plan.Configs) != 6 {
		t.Errorf("got %d configs, want 6", len(plan.Configs))
	}
}

func TestScreenPlan(t *testing.T) {
	dir := writeDataset(t, "a.txt", "b.txt")

	plan, required, err := ScreenPlan(Options{Dataset: dir, Sparsities: []float64{0.3}, Seed: 5})
	if err != nil {
		t.Fatalf("ScreenPlan: %v", err)
	}

	if len(plan.Configs) != 2 {
		t.Fatalf("got %d configs, want 2", len(plan.Configs))
	}

	want := []string{"einsum", filepath.Join(dir, "b.txt"), "dense", "0.3", "0", "5"}
	if diff := cmp.Diff(want, plan.Invoke(plan.Configs[1], 0).Args); diff != "" {
		t.Errorf("args mismatch (-want +got):\n%s", diff)
	}

	if diff := cmp.Diff([]string{"runtime"}, required); diff != "" {
		t.Errorf("required mismatch:\n%s", diff)
	}
}

func TestEinsumPropPlan(t *testing.T) {
	dir := writeDataset(t, "a.txt")

	plan, err := EinsumProp(Options{Dataset: dir, Sparsities: []float64{0.7}, Seed: 1})
	if err != nil {
		t.Fatalf("EinsumProp: %v", err)
	}

	if len(plan.Configs) != 4 {
		t.Fatalf("got %d configs, want 4", len(plan.Configs))
	}

	want := []string{"einsum", "prop", filepath.Join(dir, "a.txt"), "0.7", "1", "1", "0", "4"}
	if diff := cmp.Diff(want, plan.Invoke(plan.Configs[2], 3).Args); diff != "" {
		t.Errorf("args mismatch (-want +got):\n%s", diff)
	}
}

func TestTensorRules(t *testing.T) {
	out := strings.Join([]string{
		"ratio before = 0.5",
		"ratio after = 0.25",
		"analysis time = 0.01",
		"load graph time = 0.2",
		"compilation time = 1.5",
		"runtime = 3.25",
		"memory used = 2048",
		"tensors = 7",
		"initial_ratio = 0.9",
		"fw_ratio = 0.8",
		"lat_ratio = 0.7",
		"bw_ratio = 0.6",
		"some debug line",
	}, "\n")

	rec, err := tensorExtractor(nil).Extract(out)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	want := metrics.Record{
		"before": 0.5, "after": 0.25, "analysis": 0.01, "load": 0.2,
		"compilation": 1.5, "runtime": 3.25, "memory": 2048, "tensors-size": 7,
		"initial_ratio": 0.9, "fw_ratio": 0.8, "lat_ratio": 0.7, "bw_ratio": 0.6,
	}

	if diff := cmp.Diff(want, rec); diff != "" {
		t.Errorf("record mismatch (-want +got):\n%s", diff)
	}
}

func TestGraphConfigs(t *testing.T) {
	tests := []struct {
		pattern string
		format  string
		n       int
		first   space.Config
		last    space.Config
	}{
		{PatternColumn, "", 15, space.Config{"0.0", "0.1", "SD", "0"}, space.Config{"0.0", "0.9", "DD", "0"}},
		{PatternRow, "", 15, space.Config{"0.1", "0.0", "SD", "0"}, space.Config{"0.9", "0.0", "DD", "0"}},
		{PatternRowCol, "SparseDense", 15, space.Config{"0.1", "0.1", "SparseDense", "0"}, space.Config{"0.9", "0.9", "DD", "0"}},
		{PatternFull, "", 45, space.Config{"0.0", "0.1", "SD", "0"}, space.Config{"0.9", "0.9", "DD", "0"}},
	}

	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			got, err := GraphConfigs(tt.pattern, tt.format, graphSparsities)
			if err != nil {
				t.Fatalf("GraphConfigs: %v", err)
			}

			if len(got) != tt.n {
				t.Fatalf("got %d configs, want %d", len(got), tt.n)
			}

			if diff := cmp.Diff(tt.first, got[0]); diff != "" {
				t.Errorf("first mismatch:\n%s", diff)
			}
			if diff := cmp.Diff(tt.last, got[len(got)-1]); diff != "" {
				t.Errorf("last mismatch:\n%s", diff)
			}
		})
	}

	if _, err := GraphConfigs("diagonal", "", graphSparsities); !errors.Is(err, ErrUnknown) {
		t.Errorf("unknown pattern error = %v", err)
	}
}

func TestGraphPlan(t *testing.T) {
	plan, err := Graph(Options{Binary: "bench", Pattern: PatternColumn, Warmup: true})
	if err != nil {
		t.Fatalf("Graph: %v", err)
	}

	if !plan.Warmup {
		t.Error("warmup not set")
	}

	want := []string{"graph", "bert", "0.0", "0.1", "SD", "0", "1"}
	if diff := cmp.Diff(want, plan.Invoke(plan.Configs[0], 4).Args); diff != "" {
		t.Errorf("args mismatch (-want +got):\n%s", diff)
	}

	if err := plan.Validate(); err != nil {
		t.Errorf("plan invalid: %v", err)
	}
}

func TestMicroPlan(t *testing.T) {
	plan, err := Micro(Options{Binary: "kernel"})
	if err != nil {
		t.Fatalf("Micro: %v", err)
	}

	if len(plan.Configs) != 20 {
		t.Fatalf("got %d configs, want 20", len(plan.Configs))
	}

	if diff := cmp.Diff([]string{"0.3", "1"}, plan.Invoke(plan.Configs[13], 0).Args); diff != "" {
		t.Errorf("args mismatch:\n%s", diff)
	}

	rec, err := plan.Extractor.Extract("allocate = 1\ncompile = 2\nruntime = 3\n")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	if got := metrics.Values(rec, plan.Metrics); !cmp.Equal(got, []float64{1, 0, 2, 3}) {
		t.Errorf("values = %v, want [1 0 2 3]", got)
	}
}

func TestFormatPlan(t *testing.T) {
	plan, err := Format(Options{})
	if err != nil {
		t.Fatalf("Format: %v", err)
	}

	if n := len(LeftFormats) * len(LeftSparsities); len(plan.Configs) != n {
		t.Fatalf("got %d configs, want %d", len(plan.Configs), n)
	}

	want := []string{"format", "1024", "1024", "DD", "CSR", "DD", "0.50", "0.00", "0.00", "0.00"}
	if diff := cmp.Diff(want, plan.Invoke(plan.Configs[0], 0).Args); diff != "" {
		t.Errorf("args mismatch (-want +got):\n%s", diff)
	}

	rec, err := plan.Extractor.Extract("rows,cols,time\n1024,1024,0.0123\n")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	if rec["exec_time"] != 0.0123 {
		t.Errorf("exec_time = %v, want 0.0123", rec["exec_time"])
	}

	if _, err := plan.Extractor.Extract("only one line\n"); !errors.Is(err, metrics.ErrFormat) {
		t.Errorf("short output error = %v, want ErrFormat", err)
	}
}

func TestKernelPlan(t *testing.T) {
	plan, err := Kernel(Options{})
	if err != nil {
		t.Fatalf("Kernel: %v", err)
	}

	if len(plan.Configs) != 77 {
		t.Fatalf("got %d configs, want 77", len(plan.Configs))
	}

	want := []string{"format", "64", "0.1"}
	if diff := cmp.Diff(want, plan.Invoke(plan.Configs[1], 0).Args); diff != "" {
		t.Errorf("args mismatch (-want +got):\n%s", diff)
	}

	rec, err := plan.Extractor.Extract("64,64,64,0.5\n")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	if rec["time"] != 0.5 {
		t.Errorf("time = %v, want 0.5", rec["time"])
	}
}

func TestStorage(t *testing.T) {
	args, err := StorageArgs("S", 3, "1024", "0.5")
	if err != nil {
		t.Fatalf("StorageArgs: %v", err)
	}

	want := []string{"format", "SSS", "3", "1024", "1024", "1024", "0.5", "0.5", "0.5"}
	if diff := cmp.Diff(want, args); diff != "" {
		t.Errorf("args mismatch (-want +got):\n%s", diff)
	}

	if _, err := StorageArgs("X", 2, "1", "0.1"); err == nil {
		t.Error("expected error for unknown format")
	}

	plan, err := Storage(Options{Sizes: []int{1024}, Sparsities: []float64{0.1}})
	if err != nil {
		t.Fatalf("Storage: %v", err)
	}

	if len(plan.Configs) != 4 {
		t.Fatalf("got %d configs, want 4", len(plan.Configs))
	}

	want = []string{"format", "DD", "2", "1024", "1024", "0.1", "0.1"}
	if diff := cmp.Diff(want, plan.Invoke(plan.Configs[0], 0).Args); diff != "" {
		t.Errorf("args mismatch (-want +got):\n%s", diff)
	}

	rec, err := plan.Extractor.Extract("DD,2,1024,1024,0.1,0.1,8388608,9000000")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	if rec["tensor_memory"] != 8388608 || rec["memory"] != 9000000 {
		t.Errorf("record = %v", rec)
	}
}

func TestProptimePlan(t *testing.T) {
	plan, err := Proptime(Options{
		Binary:     "spa-bench",
		TesaBinary: "tesa-bench",
		Sizes:      []int{128},
	})
	if err != nil {
		t.Fatalf("Proptime: %v", err)
	}

	if len(plan.Configs) != 2 {
		t.Fatalf("got %d configs, want 2", len(plan.Configs))
	}

	if plan.Prepare == nil {
		t.Fatal("proptime must rebuild before each size")
	}

	if got := plan.Invoke(space.Config{ImplTeSA, "128"}, 0); got.Binary != "tesa-bench" {
		t.Errorf("tesa binary = %s", got.Binary)
	}

	if _, err := Proptime(Options{Impls: []string{"cusparse"}}); !errors.Is(err, ErrUnknown) {
		t.Errorf("unknown impl error = %v", err)
	}
}

func TestProptimeMissingValueIsZero(t *testing.T) {
	plan, err := Proptime(Options{Sizes: []int{512}})
	if err != nil {
		t.Fatalf("Proptime: %v", err)
	}

	rec, err := plan.Extractor.Extract("512\n")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	got := metrics.Select(rec, plan.Metrics)
	if diff := cmp.Diff(metrics.Record{"proptime": 0}, got); diff != "" {
		t.Errorf("record mismatch (-want +got):\n%s", diff)
	}
}

func TestCustom(t *testing.T) {
	def, err := space.LoadDefinition(strings.NewReader(`
name: spmm
args: [spmm, "{size}", "{sparsity}", "{seed}"]
seed: 10
params:
  - name: size
    values: ["64", "128"]
  - name: sparsity
    values: ["0.5"]
metrics:
  - {match: runtime, name: runtime}
  - {match: exec, name: runtime}
  - {match: memory, name: memory}
required: [runtime]
`))
	if err != nil {
		t.Fatalf("LoadDefinition: %v", err)
	}

	plan := Custom(def, "/bin/bench", nil)

	if err := plan.Validate(); err != nil {
		t.Fatalf("plan invalid: %v", err)
	}

	if diff := cmp.Diff([]string{"size", "sparsity", "runtime", "memory"}, plan.Header()); diff != "" {
		t.Errorf("header mismatch:\n%s", diff)
	}

	want := []string{"spmm", "128", "0.5", "13"}
	if diff := cmp.Diff(want, plan.Invoke(plan.Configs[1], 3).Args); diff != "" {
		t.Errorf("args mismatch (-want +got):\n%s", diff)
	}

	if _, err := plan.Extractor.Extract("memory = 1"); !errors.Is(err, metrics.ErrMissing) {
		t.Errorf("missing runtime error = %v, want ErrMissing", err)
	}
}

func TestFigures(t *testing.T) {
	figs, err := ParseFigures("7, 8,,12")
	if err != nil {
		t.Fatalf("ParseFigures: %v", err)
	}

	var ids []string
	for _, f := range figs {
		ids = append(ids, f.ID)
	}

	if diff := cmp.Diff([]string{"7", "8", "12"}, ids); diff != "" {
		t.Errorf("ids mismatch:\n%s", diff)
	}

	if _, err := ParseFigures("7,13"); !errors.Is(err, ErrUnknown) {
		t.Errorf("unknown figure error = %v", err)
	}

	if len(Figures()) != 6 {
		t.Errorf("got %d figures, want 6", len(Figures()))
	}
}

func TestFigureSevenPlan(t *testing.T) {
	dir := writeDataset(t, "a.txt")

	fig, err := LookupFigure("7")
	if err != nil {
		t.Fatal(err)
	}

	plan, opts, err := fig.Plan(Options{Dataset: dir})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}

	if opts.Seed < 1 || opts.Seed > 1024 {
		t.Errorf("seed = %d, want within [1, 1024]", opts.Seed)
	}

	if len(plan.Configs) != 3 {
		t.Errorf("got %d configs, want 3", len(plan.Configs))
	}

	_, opts, err = fig.Plan(Options{Dataset: dir, Seed: 99})
	if err != nil {
		t.Fatal(err)
	}

	if got := fig.Table(opts, 5); got != "result_0.5_99_5.csv" {
		t.Errorf("table = %s", got)
	}
}

func TestFiguresElevenAndTwelveShareTable(t *testing.T) {
	f11, _ := LookupFigure("11")
	f12, _ := LookupFigure("12")

	opts := Options{Seed: 3}
	if f11.Table(opts, 5) != f12.Table(opts, 5) {
		t.Error("figures 11 and 12 should plot the same sweep")
	}
}
