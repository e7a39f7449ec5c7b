package config

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. INCGEN_JOBS
const EnvPrefix = "INCGEN"

var configExts = []string{"yml", "yaml", "json", "toml"}

// Loader handles configuration loading from various sources
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a new configuration loader with its own viper instance
func NewLoader() *Loader {
	return &Loader{v: viper.New()}
}

// Load loads configuration for a project rooted at dir
func (l *Loader) Load(dir string) (*Config, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}

	l.setupViperDefaults()
	l.loadGlobalConfig()
	baseDir := l.loadLocalConfig(absDir)
	l.loadDotEnv(baseDir)
	l.bindEnv()

	return Load(l.v, baseDir)
}

// setupViperDefaults sets up default values for viper
func (l *Loader) setupViperDefaults() {
	l.v.SetDefault("state_path", DefaultStateFile)
	l.v.SetDefault("jobs", DefaultJobs)
	l.v.SetDefault("no_cache", DefaultNoCache)
	l.v.SetDefault("diff", DefaultDiff)
	l.v.SetDefault("verbose", DefaultVerbose)
}

// loadGlobalConfig loads global configuration from the user config directory
func (l *Loader) loadGlobalConfig() {
	configDir, err := os.UserConfigDir()
	if err != nil || configDir == "" {
		return
	}

	globalDir := filepath.Join(configDir, "incgen")

	for _, ext := range configExts {
		globalPath := filepath.Join(globalDir, "config."+ext)

		if _, err := os.Stat(globalPath); err == nil {
			l.v.SetConfigFile(globalPath)

			if err := l.v.ReadInConfig(); err == nil {
				break
			}
		}
	}
}

// loadLocalConfig merges the nearest project config over the global one and
// returns the directory relative paths resolve against
func (l *Loader) loadLocalConfig(dir string) string {
	localPath := FindLocalConfig(dir)
	if localPath == "" {
		return dir
	}

	l.v.SetConfigFile(localPath)
	_ = l.v.MergeInConfig()

	return filepath.Dir(localPath)
}

// loadDotEnv loads a .env file next to the project config; variables already
// present in the environment win
func (l *Loader) loadDotEnv(dir string) {
	path := filepath.Join(dir, ".env")
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return
	}

	_ = godotenv.Load(path)
}

// bindEnv enables INCGEN_* environment overrides
func (l *Loader) bindEnv() {
	l.v.SetEnvPrefix(EnvPrefix)
	l.v.AutomaticEnv()
}
