package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sort"
)

// BuildConfig describes how to reconfigure and rebuild the benchmark binary
// with cmake. Some benchmarks bake their problem size in at compile time.
type BuildConfig struct {
	SourceDir string
	BuildDir  string
	Generator string
	Defines   map[string]string

	// Binary, when set, must exist after a successful build.
	Binary string

	// CMake is the cmake executable, "cmake" when empty.
	CMake string

	// Output receives the build log, os.Stderr when nil.
	Output io.Writer
}

// Rebuild configures BuildDir from SourceDir with the given defines and
// builds it.
func Rebuild(ctx context.Context, logger *slog.Logger, cfg BuildConfig) error {
	cmake := cfg.CMake
	if cmake == "" {
		cmake = "cmake"
	}

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	logger.InfoContext(ctx, "rebuilding benchmark",
		slog.String("source_dir", cfg.SourceDir),
		slog.String("build_dir", cfg.BuildDir),
		slog.Any("defines", cfg.Defines),
	)

	steps := [][]string{
		configureArgs(cfg),
		{"--build", cfg.BuildDir},
	}

	for _, args := range steps {
		cmd := exec.CommandContext(ctx, cmake, args...)
		cmd.Stdout = out
		cmd.Stderr = out

		if err := cmd.Run(); err != nil {
			return fmt.Errorf("cmake %v: %w", args, err)
		}
	}

	if cfg.Binary != "" {
		if _, err := os.Stat(cfg.Binary); err != nil {
			return fmt.Errorf("rebuild: binary not found at %s", cfg.Binary)
		}
	}

	logger.InfoContext(ctx, "benchmark rebuilt",
		slog.String("build_dir", cfg.BuildDir),
	)

	return nil
}

func configureArgs(cfg BuildConfig) []string {
	args := []string{"-S" + cfg.SourceDir, "-B" + cfg.BuildDir}

	if cfg.Generator != "" {
		args = append(args, "-G", cfg.Generator)
	}

	keys := make([]string, 0, len(cfg.Defines))
	for k := range cfg.Defines {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		args = append(args, "-D"+k+"="+cfg.Defines[k])
	}

	return args
}
