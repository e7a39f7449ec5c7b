package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/viper"
)

// Default configuration values
const (
	DefaultStateFile = ".incgen-state.json"
	DefaultJobs      = 1
	DefaultNoCache   = false
	DefaultDiff      = false
	DefaultVerbose   = false
)

// Holds the configuration options for incgen
type Config struct {
	// Directory relative paths are resolved against
	BaseDir string

	// Interface source files (paths or doublestar globs)
	Inputs []string

	// Generator logic files (paths or doublestar globs)
	GeneratorFiles []string

	// Path to the persisted build state document
	StatePath string

	// Directory relative output paths are written under
	OutputDir string

	// Optional make-style dependency file and its target name
	MakeDepsPath   string
	MakeDepsTarget string

	// Directory for the generation cache; empty disables it
	CacheDir string

	// Disable the generation cache even when CacheDir is set
	NoCache bool

	// Maximum number of stems generated concurrently
	Jobs int

	// Record unified diffs for updated outputs
	Diff bool

	// Enable verbose output
	Verbose bool
}

// Load builds a Config from v. Relative paths resolve against baseDir.
func Load(v *viper.Viper, baseDir string) (*Config, error) {
	cfg := &Config{
		BaseDir:        baseDir,
		Inputs:         nonEmpty(v.GetStringSlice("inputs")),
		GeneratorFiles: nonEmpty(v.GetStringSlice("generator_files")),
		StatePath:      v.GetString("state_path"),
		OutputDir:      v.GetString("output_dir"),
		MakeDepsPath:   v.GetString("make_deps_path"),
		MakeDepsTarget: v.GetString("make_deps_target"),
		CacheDir:       v.GetString("cache_dir"),
		NoCache:        v.GetBool("no_cache"),
		Jobs:           v.GetInt("jobs"),
		Diff:           v.GetBool("diff"),
		Verbose:        v.GetBool("verbose"),
	}

	// Apply defaults if not set
	if cfg.StatePath == "" {
		cfg.StatePath = DefaultStateFile
	}

	if cfg.Jobs == 0 {
		cfg.Jobs = DefaultJobs
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.BaseDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("failed to get working directory: %w", err)
		}
		c.BaseDir = wd
	}

	abs, err := filepath.Abs(c.BaseDir)
	if err != nil {
		return fmt.Errorf("invalid base directory: %v", err)
	}
	c.BaseDir = abs

	if len(c.Inputs) == 0 {
		return fmt.Errorf("no input patterns configured")
	}

	if c.StatePath == "" {
		return fmt.Errorf("state path is required")
	}

	if c.Jobs < 1 {
		return fmt.Errorf("invalid jobs: %d (must be at least 1)", c.Jobs)
	}

	// Resolve paths
	c.StatePath = c.resolve(c.StatePath)
	c.OutputDir = c.resolve(c.OutputDir)
	c.MakeDepsPath = c.resolve(c.MakeDepsPath)
	c.CacheDir = c.resolve(c.CacheDir)

	if c.MakeDepsPath != "" && c.MakeDepsTarget == "" {
		c.MakeDepsTarget = filepath.Base(c.MakeDepsPath)
	}

	if c.MakeDepsPath == "" && c.MakeDepsTarget != "" {
		return fmt.Errorf("make_deps_target set without make_deps_path")
	}

	return nil
}

// InputFiles expands the input patterns into absolute paths.
func (c *Config) InputFiles() ([]string, error) {
	return ExpandGlobs(c.BaseDir, c.Inputs)
}

// LogicFiles expands the generator logic patterns into absolute paths.
func (c *Config) LogicFiles() ([]string, error) {
	return ExpandGlobs(c.BaseDir, c.GeneratorFiles)
}

func (c *Config) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}

	return filepath.Join(c.BaseDir, p)
}

// ExpandGlobs resolves patterns against baseDir and expands doublestar globs
// to the files they match. A plain path is kept even if it does not exist, so
// a missing declared file surfaces as an error where it is read. The result
// is sorted and free of duplicates.
func ExpandGlobs(baseDir string, patterns []string) ([]string, error) {
	seen := make(map[string]struct{})

	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}

		if !filepath.IsAbs(p) {
			p = filepath.Join(baseDir, p)
		}

		if !hasMeta(p) {
			seen[filepath.Clean(p)] = struct{}{}
			continue
		}

		matches, err := doublestar.FilepathGlob(p, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", p, err)
		}

		for _, m := range matches {
			seen[m] = struct{}{}
		}
	}

	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)

	return out, nil
}

func nonEmpty(s []string) []string {
	if len(s) == 0 {
		return nil
	}

	return s
}

func hasMeta(p string) bool {
	return strings.ContainsAny(p, "*?[{")
}
