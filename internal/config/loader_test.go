package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points the user config directory at an empty temp dir so a real
// ~/.config/incgen never leaks into tests
func isolate(t *testing.T) string {
	t.Helper()

	configHome := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", configHome)
	t.Setenv("HOME", t.TempDir())

	return configHome
}

func TestNewLoader(t *testing.T) {
	loader := NewLoader()
	assert.NotNil(t, loader)
	assert.NotNil(t, loader.v)
}

func TestLoader_SetupViperDefaults(t *testing.T) {
	loader := NewLoader()
	loader.setupViperDefaults()

	v := loader.v
	assert.Equal(t, DefaultStateFile, v.GetString("state_path"))
	assert.Equal(t, DefaultJobs, v.GetInt("jobs"))
	assert.Equal(t, false, v.GetBool("no_cache"))
	assert.Equal(t, false, v.GetBool("diff"))
	assert.Equal(t, false, v.GetBool("verbose"))
}

func TestLoader_LoadGlobalConfig(t *testing.T) {
	configHome := isolate(t)
	incgenDir := filepath.Join(configHome, "incgen")
	err := os.Mkdir(incgenDir, 0o755)
	require.NoError(t, err)

	// Test with YAML config
	t.Run("loads yaml config", func(t *testing.T) {
		configPath := filepath.Join(incgenDir, "config.yml")
		configContent := `jobs: 3
verbose: true`
		err := os.WriteFile(configPath, []byte(configContent), 0o644)
		require.NoError(t, err)
		defer os.Remove(configPath)

		loader := NewLoader()
		loader.loadGlobalConfig()

		assert.Equal(t, 3, loader.v.GetInt("jobs"))
		assert.Equal(t, true, loader.v.GetBool("verbose"))
	})

	// Test with JSON config
	t.Run("loads json config", func(t *testing.T) {
		configPath := filepath.Join(incgenDir, "config.json")
		configContent := `{
  "jobs": 5,
  "diff": true
}`
		err := os.WriteFile(configPath, []byte(configContent), 0o644)
		require.NoError(t, err)
		defer os.Remove(configPath)

		loader := NewLoader()
		loader.loadGlobalConfig()

		assert.Equal(t, 5, loader.v.GetInt("jobs"))
		assert.Equal(t, true, loader.v.GetBool("diff"))
	})

	t.Run("handles missing global config gracefully", func(t *testing.T) {
		loader := NewLoader()

		assert.NotPanics(t, func() {
			loader.loadGlobalConfig()
		})
		assert.False(t, loader.v.IsSet("jobs"))
	})
}

func TestLoader_LoadLocalConfig(t *testing.T) {
	isolate(t)

	t.Run("loads local config and returns its directory", func(t *testing.T) {
		tempDir := t.TempDir()
		configPath := filepath.Join(tempDir, ".incgen.yml")
		configContent := `inputs:
  - "idl/*.idl"
jobs: 2`
		err := os.WriteFile(configPath, []byte(configContent), 0o644)
		require.NoError(t, err)

		loader := NewLoader()
		base := loader.loadLocalConfig(tempDir)

		assert.Equal(t, tempDir, base)
		assert.Equal(t, []string{"idl/*.idl"}, loader.v.GetStringSlice("inputs"))
		assert.Equal(t, 2, loader.v.GetInt("jobs"))
	})

	t.Run("walks up directory tree to find config", func(t *testing.T) {
		tempDir := t.TempDir()
		subDir := filepath.Join(tempDir, "subdir", "nested")
		err := os.MkdirAll(subDir, 0o755)
		require.NoError(t, err)

		// Put config in parent directory
		configPath := filepath.Join(tempDir, ".incgen.yml")
		err = os.WriteFile(configPath, []byte(`jobs: 7`), 0o644)
		require.NoError(t, err)

		loader := NewLoader()
		base := loader.loadLocalConfig(subDir)

		assert.Equal(t, tempDir, base, "paths should resolve against the config directory")
		assert.Equal(t, 7, loader.v.GetInt("jobs"))
	})

	t.Run("no local config keeps project dir", func(t *testing.T) {
		tempDir := t.TempDir()

		loader := NewLoader()
		base := loader.loadLocalConfig(tempDir)
		assert.Equal(t, tempDir, base)
	})
}

func TestLoader_Load(t *testing.T) {
	t.Run("local config overrides global config", func(t *testing.T) {
		configHome := isolate(t)
		require.NoError(t, os.MkdirAll(filepath.Join(configHome, "incgen"), 0o755))
		err := os.WriteFile(filepath.Join(configHome, "incgen", "config.yml"), []byte("jobs: 3\ndiff: true\n"), 0o644)
		require.NoError(t, err)

		project := t.TempDir()
		err = os.WriteFile(filepath.Join(project, ".incgen.yml"), []byte("inputs: [\"*.idl\"]\njobs: 6\n"), 0o644)
		require.NoError(t, err)

		cfg, err := NewLoader().Load(project)
		require.NoError(t, err)

		assert.Equal(t, 6, cfg.Jobs, "local value should win")
		assert.True(t, cfg.Diff, "global value should survive the merge")
		assert.Equal(t, project, cfg.BaseDir)
		assert.Equal(t, filepath.Join(project, DefaultStateFile), cfg.StatePath)
	})

	t.Run("environment overrides files", func(t *testing.T) {
		isolate(t)
		project := t.TempDir()
		err := os.WriteFile(filepath.Join(project, ".incgen.yml"), []byte("inputs: [\"*.idl\"]\njobs: 2\n"), 0o644)
		require.NoError(t, err)

		t.Setenv("INCGEN_JOBS", "9")

		cfg, err := NewLoader().Load(project)
		require.NoError(t, err)
		assert.Equal(t, 9, cfg.Jobs)
	})

	t.Run("dotenv next to config is applied", func(t *testing.T) {
		isolate(t)
		project := t.TempDir()
		err := os.WriteFile(filepath.Join(project, ".incgen.yml"), []byte("inputs: [\"*.idl\"]\n"), 0o644)
		require.NoError(t, err)
		err = os.WriteFile(filepath.Join(project, ".env"), []byte("INCGEN_STATE_PATH=build/dotenv-state.json\n"), 0o644)
		require.NoError(t, err)

		// godotenv sets process env; make sure it does not leak
		t.Cleanup(func() { os.Unsetenv("INCGEN_STATE_PATH") })

		cfg, err := NewLoader().Load(project)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(project, "build", "dotenv-state.json"), cfg.StatePath)
	})

	t.Run("real environment beats dotenv", func(t *testing.T) {
		isolate(t)
		project := t.TempDir()
		err := os.WriteFile(filepath.Join(project, ".incgen.yml"), []byte("inputs: [\"*.idl\"]\n"), 0o644)
		require.NoError(t, err)
		err = os.WriteFile(filepath.Join(project, ".env"), []byte("INCGEN_JOBS=4\n"), 0o644)
		require.NoError(t, err)

		t.Setenv("INCGEN_JOBS", "8")

		cfg, err := NewLoader().Load(project)
		require.NoError(t, err)
		assert.Equal(t, 8, cfg.Jobs)
	})

	t.Run("invalid config is rejected", func(t *testing.T) {
		isolate(t)
		project := t.TempDir()
		err := os.WriteFile(filepath.Join(project, ".incgen.yml"), []byte("inputs: [\"*.idl\"]\njobs: -1\n"), 0o644)
		require.NoError(t, err)

		_, err = NewLoader().Load(project)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid jobs")
	})
}
