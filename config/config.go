// Package config resolves benchit settings from command line flags, the
// environment and an optional .env file, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// DefaultEnvFile is loaded from the working directory when present.
const DefaultEnvFile = ".env"

// Setting keys. Each key is also the name of its command line flag.
const (
	KeyBinary     = "bin-path"
	KeyTesaBinary = "tesa-bin-path"
	KeyBuildDir   = "build-path"
	KeySourceDir  = "spa-root"
	KeyResultDir  = "result-dir"
	KeyReps       = "repeats"
	KeyDataset    = "dataset"
	KeyOrder      = "order"
	KeyRecover    = "recover"
	KeyTimeout    = "timeout"
)

type setting struct {
	key string
	env string
	def any
}

var settings = []setting{
	{KeyBinary, "BIN_PATH", "./build/benchmark"},
	{KeyTesaBinary, "TESA_BIN_PATH", "./build/tesa-prop"},
	{KeyBuildDir, "BUILD_PATH", "./build"},
	{KeySourceDir, "SPA_ROOT", "."},
	{KeyResultDir, "RESULT_DIR", "."},
	{KeyReps, "BENCHMARK_REPEATS", 5},
	{KeyDataset, "EINSUM_DATASET", "einsum-dataset"},
	{KeyOrder, "BENCHIT_ORDER", "sequential"},
	{KeyRecover, "BENCHIT_RECOVER", true},
	{KeyTimeout, "BENCHIT_TIMEOUT", "0"},
}

// Settings are the resolved values.
type Settings struct {
	Binary     string
	TesaBinary string
	BuildDir   string
	SourceDir  string
	ResultDir  string
	Dataset    string
	Reps       int
	Order      string
	Recover    bool

	// Timeout bounds each benchmark invocation. Zero means no limit.
	Timeout time.Duration
}

// Load reads envFiles (DefaultEnvFile when none are given), then resolves
// every setting. Flags in flags that share a setting's key take precedence
// over the environment when they were set explicitly. flags may be nil.
func Load(flags *pflag.FlagSet, envFiles ...string) (*Settings, error) {
	if len(envFiles) == 0 {
		envFiles = []string{DefaultEnvFile}
	}

	for _, f := range envFiles {
		// Variables already in the environment are not overridden.
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	v := viper.New()

	for _, s := range settings {
		v.SetDefault(s.key, s.def)

		if err := v.BindEnv(s.key, s.env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", s.env, err)
		}

		if flags == nil {
			continue
		}

		if f := flags.Lookup(s.key); f != nil {
			if err := v.BindPFlag(s.key, f); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", s.key, err)
			}
		}
	}

	timeout, err := ParseTimeout(v.GetString(KeyTimeout))
	if err != nil {
		return nil, err
	}

	reps, err := strconv.Atoi(strings.TrimSpace(v.GetString(KeyReps)))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", KeyReps, err)
	}

	if reps < 1 {
		return nil, fmt.Errorf("%s must be positive, got %d", KeyReps, reps)
	}

	return &Settings{
		Binary:     v.GetString(KeyBinary),
		TesaBinary: v.GetString(KeyTesaBinary),
		BuildDir:   v.GetString(KeyBuildDir),
		SourceDir:  v.GetString(KeySourceDir),
		ResultDir:  v.GetString(KeyResultDir),
		Dataset:    v.GetString(KeyDataset),
		Reps:       reps,
		Order:      v.GetString(KeyOrder),
		Recover:    v.GetBool(KeyRecover),
		Timeout:    timeout,
	}, nil
}

// ParseTimeout accepts a Go duration ("90s", "2m") or a bare number of
// seconds.
func ParseTimeout(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		if secs < 0 {
			return 0, fmt.Errorf("timeout must not be negative, got %s", s)
		}

		return time.Duration(secs * float64(time.Second)), nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("timeout %q: %w", s, err)
	}

	if d < 0 {
		return 0, fmt.Errorf("timeout must not be negative, got %s", s)
	}

	return d, nil
}
