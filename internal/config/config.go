package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config holds all paddisense configuration.
type Config struct {
	// Filesystem layout
	Paths PathsConfig `yaml:"paths"`

	// Activation link table
	Activation ActivationConfig `yaml:"activation"`

	// Dashboard registry document
	Registry RegistryConfig `yaml:"registry"`

	// Manifest validation
	Validation ValidationConfig `yaml:"validation"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`

	// Metrics
	Metrics MetricsConfig `yaml:"metrics"`
}

// PathsConfig locates the module tree and the shared state it activates into.
// Relative paths are resolved against ConfigDir.
type PathsConfig struct {
	ConfigDir     string `yaml:"config_dir" env:"PADDISENSE_CONFIG_DIR"`
	ModuleRoot    string `yaml:"module_root" env:"PADDISENSE_MODULE_ROOT"`
	Catalog       string `yaml:"catalog" env:"PADDISENSE_CATALOG"`
	ActivationDir string `yaml:"activation_dir" env:"PADDISENSE_ACTIVATION_DIR"`
	Registry      string `yaml:"registry" env:"PADDISENSE_REGISTRY"`
	StateRoot     string `yaml:"state_root" env:"PADDISENSE_STATE_ROOT"`
	HostConfig    string `yaml:"host_config" env:"PADDISENSE_HOST_CONFIG"`
}

// ActivationConfig configures how activation links are stored.
type ActivationConfig struct {
	LinkMode string `yaml:"link_mode" env:"PADDISENSE_LINK_MODE"` // symlink, pointer
}

// RegistryConfig configures the dashboard registry document.
type RegistryConfig struct {
	// FilenamePrefix is prepended to each descriptor path written to the
	// registry, e.g. "PaddiSense/" when the host resolves filenames from
	// ConfigDir rather than from the module root.
	FilenamePrefix string `yaml:"filename_prefix" env:"PADDISENSE_FILENAME_PREFIX"`
}

// ValidationConfig configures manifest validation.
type ValidationConfig struct {
	ExtraSections []string `yaml:"extra_sections" env:"PADDISENSE_EXTRA_SECTIONS"`
	Workers       int      `yaml:"workers" env:"PADDISENSE_VALIDATE_WORKERS"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"PADDISENSE_LOG_LEVEL"`   // debug, info, warn, error
	Format string `yaml:"format" env:"PADDISENSE_LOG_FORMAT"` // json, console
	File   string `yaml:"file" env:"PADDISENSE_LOG_FILE"`     // empty = stderr
}

// MetricsConfig configures metric output.
type MetricsConfig struct {
	// Textfile, when set, receives a Prometheus text exposition after
	// every batch or verification run.
	Textfile string `yaml:"textfile" env:"PADDISENSE_METRICS_TEXTFILE"`
}

// Link modes.
const (
	LinkModeSymlink = "symlink"
	LinkModePointer = "pointer"
)

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Paths: PathsConfig{
			ConfigDir:     "/config",
			ModuleRoot:    "PaddiSense",
			Catalog:       "PaddiSense/modules.json",
			ActivationDir: "PaddiSense/packages",
			Registry:      "lovelace_dashboards.yaml",
			StateRoot:     "local_data",
			HostConfig:    "configuration.yaml",
		},
		Activation: ActivationConfig{
			LinkMode: LinkModeSymlink,
		},
		Validation: ValidationConfig{
			Workers: runtime.NumCPU(),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults. Environment overrides are applied in both cases.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies PADDISENSE_* environment variables on top of
// whatever is already set.
func (c *Config) applyEnvOverrides() error {
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Paths.ConfigDir == "" {
		return fmt.Errorf("paths.config_dir must be set")
	}
	if c.Paths.ModuleRoot == "" {
		return fmt.Errorf("paths.module_root must be set")
	}
	if c.Paths.ActivationDir == "" {
		return fmt.Errorf("paths.activation_dir must be set")
	}
	if c.Paths.Registry == "" {
		return fmt.Errorf("paths.registry must be set")
	}

	switch c.Activation.LinkMode {
	case LinkModeSymlink, LinkModePointer:
	default:
		return fmt.Errorf("invalid activation.link_mode: %q (valid: %s, %s)", c.Activation.LinkMode, LinkModeSymlink, LinkModePointer)
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging.level: %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid logging.format: %q (valid: json, console)", c.Logging.Format)
	}

	if c.Validation.Workers < 1 {
		return fmt.Errorf("validation.workers must be at least 1, got %d", c.Validation.Workers)
	}
	return nil
}

// resolve makes p absolute relative to the config directory.
func (c *Config) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Paths.ConfigDir, p)
}

// ModuleRoot returns the absolute module root.
func (c *Config) ModuleRoot() string { return c.resolve(c.Paths.ModuleRoot) }

// CatalogPath returns the absolute catalog document path.
func (c *Config) CatalogPath() string { return c.resolve(c.Paths.Catalog) }

// ActivationDir returns the absolute activation directory.
func (c *Config) ActivationDir() string { return c.resolve(c.Paths.ActivationDir) }

// RegistryPath returns the absolute dashboard registry path.
func (c *Config) RegistryPath() string { return c.resolve(c.Paths.Registry) }

// StateRoot returns the absolute per-module state root.
func (c *Config) StateRoot() string { return c.resolve(c.Paths.StateRoot) }

// HostConfigPath returns the absolute host configuration.yaml path.
func (c *Config) HostConfigPath() string { return c.resolve(c.Paths.HostConfig) }
