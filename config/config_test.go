package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

// clearEnv unsets every setting variable for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()

	for _, s := range settings {
		t.Setenv(s.env, "")
		require.NoError(t, os.Unsetenv(s.env))
	}
}

func noEnvFile(t *testing.T) string {
	return filepath.Join(t.TempDir(), "missing.env")
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	s, err := Load(nil, noEnvFile(t))
	require.NoError(t, err)

	require.Equal(t, &Settings{
		Binary:     "./build/benchmark",
		TesaBinary: "./build/tesa-prop",
		BuildDir:   "./build",
		SourceDir:  ".",
		ResultDir:  ".",
		Dataset:    "einsum-dataset",
		Reps:       5,
		Order:      "sequential",
		Recover:    true,
		Timeout:    0,
	}, s)
}

func TestLoadEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("BIN_PATH", "/opt/spa/benchmark")
	t.Setenv("BENCHMARK_REPEATS", "3")
	t.Setenv("BENCHIT_RECOVER", "false")
	t.Setenv("BENCHIT_TIMEOUT", "30")
	t.Setenv("BENCHIT_ORDER", "random")

	s, err := Load(nil, noEnvFile(t))
	require.NoError(t, err)

	require.Equal(t, "/opt/spa/benchmark", s.Binary)
	require.Equal(t, 3, s.Reps)
	require.False(t, s.Recover)
	require.Equal(t, 30*time.Second, s.Timeout)
	require.Equal(t, "random", s.Order)
}

func TestLoadEnvFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("BUILD_PATH", "/from/env")

	path := filepath.Join(t.TempDir(), "bench.env")
	require.NoError(t, os.WriteFile(path, []byte(
		"RESULT_DIR=/from/file\nBUILD_PATH=/from/file\n",
	), 0o644))

	s, err := Load(nil, path)
	require.NoError(t, err)

	require.Equal(t, "/from/file", s.ResultDir)
	// The environment wins over the file.
	require.Equal(t, "/from/env", s.BuildDir)
}

func TestLoadFlagsOverrideEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("BIN_PATH", "/env/benchmark")
	t.Setenv("EINSUM_DATASET", "/env/dataset")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String(KeyBinary, "./build/benchmark", "")
	flags.String(KeyDataset, "einsum-dataset", "")
	flags.Int(KeyReps, 5, "")
	flags.Duration(KeyTimeout, 0, "")

	require.NoError(t, flags.Parse([]string{
		"--" + KeyBinary, "/flag/benchmark",
		"--" + KeyReps, "2",
		"--" + KeyTimeout, "1m30s",
	}))

	s, err := Load(flags, noEnvFile(t))
	require.NoError(t, err)

	require.Equal(t, "/flag/benchmark", s.Binary)
	require.Equal(t, "/env/dataset", s.Dataset)
	require.Equal(t, 2, s.Reps)
	require.Equal(t, 90*time.Second, s.Timeout)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	for _, tc := range []struct {
		env, value string
	}{
		{"BENCHMARK_REPEATS", "0"},
		{"BENCHMARK_REPEATS", "many"},
		{"BENCHIT_TIMEOUT", "soon"},
		{"BENCHIT_TIMEOUT", "-5"},
	} {
		t.Run(tc.env+"="+tc.value, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(tc.env, tc.value)

			_, err := Load(nil, noEnvFile(t))
			require.Error(t, err)
		})
	}
}

func TestParseTimeout(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", 0},
		{"0", 0},
		{"10", 10 * time.Second},
		{"0.5", 500 * time.Millisecond},
		{"2m", 2 * time.Minute},
		{" 45s ", 45 * time.Second},
	}

	for _, tt := range tests {
		got, err := ParseTimeout(tt.in)
		require.NoError(t, err, tt.in)
		require.Equal(t, tt.want, got, tt.in)
	}
}
