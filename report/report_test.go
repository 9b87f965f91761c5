package report

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/weiihann/benchit/harness"
	"github.com/weiihann/benchit/results"
)

const einsumTable = `file_name,format,sparsity,propagate,runtime,memory
a.txt,sparse,0.5,1,0.5,1000
a.txt,sparse,0.5,1,0.7,1000
a.txt,dense,0.5,0,1.2,4000
a.txt,dense,0.5,0,1.2,4000
`

func parse(t *testing.T, table string) *results.Data {
	t.Helper()

	data, err := results.ParseTable(strings.NewReader(table))
	if err != nil {
		t.Fatalf("ParseTable: %v", err)
	}

	return data
}

func TestGenerate(t *testing.T) {
	r, err := Build("Einsum runtime", "einsum.csv", parse(t, einsumTable),
		[]string{"format", "propagate"}, []string{"runtime", "memory"})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	r.Host = &harness.Host{
		Hostname:    "bench-01",
		Platform:    "ubuntu 24.04",
		Arch:        "amd64",
		CPUModel:    "EPYC",
		Cores:       64,
		MemoryBytes: 256 * 1024 * 1024 * 1024,
	}

	var buf bytes.Buffer
	if err := Generate(&buf, r); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	output := buf.String()

	for _, want := range []string{
		"## Einsum runtime",
		"Source: `einsum.csv`",
		"bench-01",
		"256 GB",
		"| format | propagate | runtime | memory | Runs | Relative |",
		"| sparse | 1 | 600.00ms ± 141.42ms | 1000 | 2 | 1.00x |",
		"| dense | 0 | 1.20s | 4000 | 2 | 2.00x |",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("output missing %q:\n%s", want, output)
		}
	}
}

func TestGenerateEmpty(t *testing.T) {
	var buf bytes.Buffer
	err := Generate(&buf, &Report{Title: "empty"})
	if err == nil {
		t.Error("expected error for empty results")
	}
}

func TestBuildUnknownColumn(t *testing.T) {
	_, err := Build("x", "", parse(t, einsumTable), []string{"model"}, []string{"runtime"})
	if err == nil {
		t.Error("expected error for unknown key column")
	}
}

func TestGenerateJSON(t *testing.T) {
	r, err := Build("Einsum", "", parse(t, einsumTable),
		[]string{"format"}, []string{"runtime"})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	var buf bytes.Buffer
	if err := GenerateJSON(&buf, r); err != nil {
		t.Fatalf("GenerateJSON failed: %v", err)
	}

	var parsed Report
	if err := json.Unmarshal(buf.Bytes(), &parsed); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}

	if len(parsed.Groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(parsed.Groups))
	}
	if parsed.Groups[0].Key[0] != "sparse" {
		t.Errorf("first group = %v, want sparse", parsed.Groups[0].Key)
	}
	if got := parsed.Groups[1].Stats["runtime"].Mean; got != 1.2 {
		t.Errorf("dense runtime mean = %v, want 1.2", got)
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		input uint64
		want  string
	}{
		{0, "-"},
		{512, "512 B"},
		{1024, "1 KB"},
		{1536, "1.5 KB"},
		{1048576, "1 MB"},
		{1073741824, "1 GB"},
	}

	for _, tt := range tests {
		got := formatBytes(tt.input)
		if got != tt.want {
			t.Errorf("formatBytes(%d) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestFormatSeconds(t *testing.T) {
	tests := []struct {
		input float64
		want  string
	}{
		{0, "0.00ms"},
		{0.0005, "0.50ms"},
		{0.999, "999.00ms"},
		{1, "1.00s"},
		{1.5, "1.50s"},
		{60, "60.00s"},
	}

	for _, tt := range tests {
		got := formatSeconds(tt.input)
		if got != tt.want {
			t.Errorf("formatSeconds(%v) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
