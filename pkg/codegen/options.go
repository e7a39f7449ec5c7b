package codegen

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Norgate-AV/incgen/internal/config"
)

// DefaultDiffMaxBytes caps the combined size of an output pair that gets a
// full unified diff.
const DefaultDiffMaxBytes = 1 << 20

// Options configures a Manager.
type Options struct {
	// Inputs are the interface sources; one stem is generated per source
	Inputs []string

	// GeneratorFiles are the generator's own logic files. A change to any of
	// them regenerates every stem.
	GeneratorFiles []string

	// StatePath is where the build state document is persisted
	StatePath string

	// OutputDir is where relative output paths are written. Defaults to the
	// working directory.
	OutputDir string

	// MakeDepsPath optionally names a make-style dependency file to refresh
	// after every pass, with MakeDepsTarget as its target (defaults to the
	// file's base name)
	MakeDepsPath   string
	MakeDepsTarget string

	// CacheDir enables the generation cache when set
	CacheDir string

	// Jobs bounds the number of stems generated concurrently. Values below
	// one mean sequential generation.
	Jobs int

	// Diff records a unified diff for every updated output
	Diff bool

	// Logger receives progress and diagnostics. Nil discards them.
	Logger *slog.Logger
}

// OptionsFromConfig builds Options from a loaded configuration, expanding its
// input and generator globs.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	inputs, err := cfg.InputFiles()
	if err != nil {
		return Options{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}

	logic, err := cfg.LogicFiles()
	if err != nil {
		return Options{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}

	opts := Options{
		Inputs:         inputs,
		GeneratorFiles: logic,
		StatePath:      cfg.StatePath,
		OutputDir:      cfg.OutputDir,
		MakeDepsPath:   cfg.MakeDepsPath,
		MakeDepsTarget: cfg.MakeDepsTarget,
		CacheDir:       cfg.CacheDir,
		Jobs:           cfg.Jobs,
		Diff:           cfg.Diff,
	}

	if cfg.NoCache {
		opts.CacheDir = ""
	}

	level := slog.LevelWarn
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	opts.Logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	return opts, nil
}

// normalize fills defaults and makes every path absolute.
func (o *Options) normalize() error {
	if o.StatePath == "" {
		return configError("state path is required")
	}

	if o.Jobs < 1 {
		o.Jobs = 1
	}

	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}

	var err error
	if o.Inputs, err = absPaths(o.Inputs); err != nil {
		return configError("invalid input path: %v", err)
	}
	if o.GeneratorFiles, err = absPaths(o.GeneratorFiles); err != nil {
		return configError("invalid generator file path: %v", err)
	}

	if o.StatePath, err = filepath.Abs(o.StatePath); err != nil {
		return configError("invalid state path: %v", err)
	}

	if o.OutputDir == "" {
		o.OutputDir = "."
	}
	if o.OutputDir, err = filepath.Abs(o.OutputDir); err != nil {
		return configError("invalid output directory: %v", err)
	}

	if o.MakeDepsPath != "" {
		if o.MakeDepsPath, err = filepath.Abs(o.MakeDepsPath); err != nil {
			return configError("invalid make dependency path: %v", err)
		}
		if o.MakeDepsTarget == "" {
			o.MakeDepsTarget = filepath.Base(o.MakeDepsPath)
		}
	} else if o.MakeDepsTarget != "" {
		return configError("make dependency target %q set without a path", o.MakeDepsTarget)
	}

	if o.CacheDir != "" {
		if o.CacheDir, err = filepath.Abs(o.CacheDir); err != nil {
			return configError("invalid cache directory: %v", err)
		}
	}

	return nil
}

// stems derives one stem per input, named after the source without its
// extension.
func (o *Options) stems() ([]Stem, error) {
	byName := make(map[string]string, len(o.Inputs))
	stems := make([]Stem, 0, len(o.Inputs))

	for _, src := range o.Inputs {
		base := filepath.Base(src)
		name := strings.TrimSuffix(base, filepath.Ext(base))
		if name == "" {
			return nil, configError("cannot derive a stem name from %s", src)
		}

		if prev, ok := byName[name]; ok {
			return nil, configError("duplicate stem %q from %s and %s", name, prev, src)
		}
		byName[name] = src

		stems = append(stems, Stem{Name: name, Source: src})
	}

	sort.Slice(stems, func(i, j int) bool {
		return stems[i].Name < stems[j].Name
	})

	return stems, nil
}

func absPaths(in []string) ([]string, error) {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))

	for _, p := range in {
		if p == "" {
			continue
		}

		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, err
		}

		if _, ok := seen[abs]; ok {
			continue
		}
		seen[abs] = struct{}{}
		out = append(out, abs)
	}
	sort.Strings(out)

	return out, nil
}
