package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	base := t.TempDir()

	tests := []struct {
		name        string
		setupViper  func(v *viper.Viper)
		wantConfig  *Config
		wantErr     bool
		errContains string
	}{
		{
			name: "load with defaults",
			setupViper: func(v *viper.Viper) {
				v.Set("inputs", []string{"idl/*.idl"})
			},
			wantConfig: &Config{
				BaseDir:   base,
				Inputs:    []string{"idl/*.idl"},
				StatePath: filepath.Join(base, DefaultStateFile),
				Jobs:      DefaultJobs,
			},
		},
		{
			name: "load with custom values",
			setupViper: func(v *viper.Viper) {
				v.Set("inputs", []string{"a.idl", "b.idl"})
				v.Set("generator_files", []string{"gen/**/*.go"})
				v.Set("state_path", "build/state.json")
				v.Set("output_dir", "/abs/out")
				v.Set("make_deps_path", "build/codegen.pp")
				v.Set("cache_dir", ".cache")
				v.Set("no_cache", true)
				v.Set("jobs", 4)
				v.Set("diff", true)
				v.Set("verbose", true)
			},
			wantConfig: &Config{
				BaseDir:        base,
				Inputs:         []string{"a.idl", "b.idl"},
				GeneratorFiles: []string{"gen/**/*.go"},
				StatePath:      filepath.Join(base, "build", "state.json"),
				OutputDir:      "/abs/out",
				MakeDepsPath:   filepath.Join(base, "build", "codegen.pp"),
				MakeDepsTarget: "codegen.pp",
				CacheDir:       filepath.Join(base, ".cache"),
				NoCache:        true,
				Jobs:           4,
				Diff:           true,
				Verbose:        true,
			},
		},
		{
			name: "explicit make deps target is kept",
			setupViper: func(v *viper.Viper) {
				v.Set("inputs", []string{"a.idl"})
				v.Set("make_deps_path", "codegen.pp")
				v.Set("make_deps_target", "webidl")
			},
			wantConfig: &Config{
				BaseDir:        base,
				Inputs:         []string{"a.idl"},
				StatePath:      filepath.Join(base, DefaultStateFile),
				MakeDepsPath:   filepath.Join(base, "codegen.pp"),
				MakeDepsTarget: "webidl",
				Jobs:           DefaultJobs,
			},
		},
		{
			name:        "no inputs",
			setupViper:  func(v *viper.Viper) {},
			wantErr:     true,
			errContains: "no input patterns configured",
		},
		{
			name: "negative jobs",
			setupViper: func(v *viper.Viper) {
				v.Set("inputs", []string{"a.idl"})
				v.Set("jobs", -2)
			},
			wantErr:     true,
			errContains: "invalid jobs",
		},
		{
			name: "target without path",
			setupViper: func(v *viper.Viper) {
				v.Set("inputs", []string{"a.idl"})
				v.Set("make_deps_target", "webidl")
			},
			wantErr:     true,
			errContains: "make_deps_target set without make_deps_path",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := viper.New()
			tt.setupViper(v)

			cfg, err := Load(v, base)

			if tt.wantErr {
				require.Error(t, err)
				if tt.errContains != "" {
					assert.Contains(t, err.Error(), tt.errContains)
				}
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantConfig, cfg)
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name        string
		config      *Config
		wantErr     bool
		errContains string
		checkFields func(*testing.T, *Config)
	}{
		{
			name: "relative base dir is made absolute",
			config: &Config{
				BaseDir:   ".",
				Inputs:    []string{"a.idl"},
				StatePath: "state.json",
				Jobs:      1,
			},
			checkFields: func(t *testing.T, cfg *Config) {
				assert.True(t, filepath.IsAbs(cfg.BaseDir))
				assert.True(t, filepath.IsAbs(cfg.StatePath))
			},
		},
		{
			name: "empty base dir uses working directory",
			config: &Config{
				Inputs:    []string{"a.idl"},
				StatePath: "state.json",
				Jobs:      1,
			},
			checkFields: func(t *testing.T, cfg *Config) {
				wd, err := os.Getwd()
				require.NoError(t, err)
				assert.Equal(t, wd, cfg.BaseDir)
			},
		},
		{
			name: "empty optional paths stay empty",
			config: &Config{
				BaseDir:   "/project",
				Inputs:    []string{"a.idl"},
				StatePath: "/state.json",
				Jobs:      1,
			},
			checkFields: func(t *testing.T, cfg *Config) {
				assert.Empty(t, cfg.OutputDir)
				assert.Empty(t, cfg.CacheDir)
				assert.Empty(t, cfg.MakeDepsPath)
				assert.Empty(t, cfg.MakeDepsTarget)
			},
		},
		{
			name: "missing state path",
			config: &Config{
				BaseDir: "/project",
				Inputs:  []string{"a.idl"},
				Jobs:    1,
			},
			wantErr:     true,
			errContains: "state path is required",
		},
		{
			name: "zero jobs",
			config: &Config{
				BaseDir:   "/project",
				Inputs:    []string{"a.idl"},
				StatePath: "state.json",
			},
			wantErr:     true,
			errContains: "invalid jobs",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()

			if tt.wantErr {
				require.Error(t, err)
				if tt.errContains != "" {
					assert.Contains(t, err.Error(), tt.errContains)
				}
				return
			}

			require.NoError(t, err)
			if tt.checkFields != nil {
				tt.checkFields(t, tt.config)
			}
		})
	}
}

func TestExpandGlobs(t *testing.T) {
	base := t.TempDir()
	files := []string{
		"idl/A.idl",
		"idl/B.idl",
		"idl/nested/C.idl",
		"idl/readme.txt",
		"gen/codegen.go",
	}
	for _, f := range files {
		path := filepath.Join(base, f)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(f), 0o644))
	}

	tests := []struct {
		name     string
		patterns []string
		want     []string
		wantErr  bool
	}{
		{
			name:     "single level glob",
			patterns: []string{"idl/*.idl"},
			want:     []string{"idl/A.idl", "idl/B.idl"},
		},
		{
			name:     "recursive glob",
			patterns: []string{"idl/**/*.idl"},
			want:     []string{"idl/A.idl", "idl/B.idl", "idl/nested/C.idl"},
		},
		{
			name:     "overlapping patterns are de-duplicated",
			patterns: []string{"idl/*.idl", "idl/A.idl", "  "},
			want:     []string{"idl/A.idl", "idl/B.idl"},
		},
		{
			name:     "plain missing path is kept",
			patterns: []string{"idl/Missing.idl"},
			want:     []string{"idl/Missing.idl"},
		},
		{
			name:     "glob matching nothing",
			patterns: []string{"idl/*.webidl"},
			want:     []string{},
		},
		{
			name:     "directories are not matched",
			patterns: []string{"idl/*"},
			want:     []string{"idl/A.idl", "idl/B.idl", "idl/readme.txt"},
		},
		{
			name:     "bad pattern",
			patterns: []string{"idl/[.idl"},
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExpandGlobs(base, tt.patterns)

			if tt.wantErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			want := make([]string, 0, len(tt.want))
			for _, w := range tt.want {
				want = append(want, filepath.Join(base, w))
			}
			assert.Equal(t, want, got)
		})
	}
}

func TestConfig_InputAndLogicFiles(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(base, "A.idl"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(base, "gen.go"), []byte("g"), 0o644))

	cfg := &Config{
		BaseDir:        base,
		Inputs:         []string{"*.idl"},
		GeneratorFiles: []string{"*.go"},
		StatePath:      "state.json",
		Jobs:           1,
	}
	require.NoError(t, cfg.Validate())

	inputs, err := cfg.InputFiles()
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(base, "A.idl")}, inputs)

	logic, err := cfg.LogicFiles()
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(base, "gen.go")}, logic)
}
