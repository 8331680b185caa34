package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config holds the ambient settings Alto needs before it can resolve a
// single plugin or run a single task: where the project lives, where its
// remote artifact/reservoir store is, which environment overlay is active,
// and how to log. Precedence: environment variables > config file >
// defaults.
type Config struct {
	Project ProjectConfig `toml:"project"`
	Remote  RemoteConfig  `toml:"remote"`
	Log     LogConfig     `toml:"log"`
}

// ProjectConfig locates the project root and names the active environment
// overlay (spec.md §4.4's "default" + named environment merge).
type ProjectConfig struct {
	Root        string `toml:"root"`
	Environment string `toml:"environment"`
}

// RemoteConfig points at the remote `fsx.FS` backing the Artifact Cache,
// plus a staging root. cmd/alto opens URL as a local directory root
// (fsx.NewLocal); no scheme prefix is interpreted, so an OCI reference is
// not dispatched to fsx.OCI. The Reservoir stays under the project's
// .alto directory, and StagingDir is not read outside this package.
type RemoteConfig struct {
	URL        string `toml:"url"`
	StagingDir string `toml:"staging_dir"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level string `toml:"level"` // debug, info, warn, error
}

// Load creates a Config by reading from a TOML config file and environment
// variables.
//
// Config file search order (first found wins):
//  1. Path passed via configPath parameter
//  2. ALTO_CONFIG environment variable
//  3. ./alto.toml (current directory)
//  4. ~/.config/alto/alto.toml (XDG-style)
//
// All fields are optional in the config file. Environment variables always
// override file values.
func Load(configPath string) (*Config, error) {
	cfg := &Config{
		Project: ProjectConfig{
			Root:        ".",
			Environment: "default",
		},
		Remote: RemoteConfig{
			StagingDir: ".alto/staging",
		},
		Log: LogConfig{
			Level: "info",
		},
	}

	if err := cfg.loadFile(configPath); err != nil {
		return nil, err
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFile finds and parses the TOML config file. If no file is found,
// this is a no-op (config file is optional).
func (c *Config) loadFile(configPath string) error {
	path := resolveConfigPath(configPath)
	if path == "" {
		return nil
	}

	if _, err := toml.DecodeFile(path, c); err != nil {
		return fmt.Errorf("reading config file %s: %w", path, err)
	}

	return nil
}

// resolveConfigPath determines which config file to use. Returns empty
// string if no config file is found (config file is optional).
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		return explicit
	}

	if p := os.Getenv("ALTO_CONFIG"); p != "" {
		return p
	}

	if _, err := os.Stat("alto.toml"); err == nil {
		return "alto.toml"
	}

	if home, err := os.UserHomeDir(); err == nil {
		p := home + "/.config/alto/alto.toml"
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}

// applyEnv overlays environment variables on top of existing config
// values. An env var only takes effect if it is non-empty.
func (c *Config) applyEnv() {
	envOverride("ALTO_PROJECT_ROOT", &c.Project.Root)
	envOverride("ALTO_ENVIRONMENT", &c.Project.Environment)
	envOverride("ALTO_REMOTE_URL", &c.Remote.URL)
	envOverride("ALTO_STAGING_DIR", &c.Remote.StagingDir)
	envOverride("ALTO_LOG_LEVEL", &c.Log.Level)
}

// Validate checks that required fields are present.
func (c *Config) Validate() error {
	if c.Project.Root == "" {
		return fmt.Errorf("project.root is required: set project.root in config file, or ALTO_PROJECT_ROOT env var")
	}
	if c.Project.Environment == "" {
		return fmt.Errorf("project.environment must not be empty")
	}
	return nil
}

// envOverride sets *dst to the value of the named env var, if it is
// non-empty.
func envOverride(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
