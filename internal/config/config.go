// Package config handles configuration loading, validation and hot reload
// for gse.
//
// The file format follows the extension: TOML (default), JSON or YAML.
// Environment variables prefixed with GSE_ override file values.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"gse/internal/features"
	"gse/internal/logging"
)

// Config holds the complete daemon configuration. The estimator's model
// parameters are fixed and deliberately absent.
type Config struct {
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`
	Input   InputConfig   `toml:"input" json:"input" yaml:"input"`
	IME     IMEConfig     `toml:"ime" json:"ime" yaml:"ime"`
	Journal JournalConfig `toml:"journal" json:"journal" yaml:"journal"`
	HTTP    HTTPConfig    `toml:"http" json:"http" yaml:"http"`
	Daemon  DaemonConfig  `toml:"daemon" json:"daemon" yaml:"daemon"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error. Hot-reloadable.
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is text or json.
	Format string `toml:"format" json:"format" yaml:"format"`

	// Output is stdout, stderr, file or both.
	Output string `toml:"output" json:"output" yaml:"output"`

	FilePath   string `toml:"file_path" json:"file_path" yaml:"file_path"`
	MaxSizeMB  int64  `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" json:"max_backups" yaml:"max_backups"`
	Compress   bool   `toml:"compress" json:"compress" yaml:"compress"`

	// LogKeys writes key codes to the log. Off by default.
	LogKeys bool `toml:"log_keys" json:"log_keys" yaml:"log_keys"`
}

// InputConfig holds the event source and feature extractor settings.
type InputConfig struct {
	// Source is a recording path, or "-" for stdin.
	Source string `toml:"source" json:"source" yaml:"source"`

	// Pace replays recordings at their recorded speed.
	Pace bool `toml:"pace" json:"pace" yaml:"pace"`

	WindowMs    float64 `toml:"window_ms" json:"window_ms" yaml:"window_ms"`
	BurstGapMs  float64 `toml:"burst_gap_ms" json:"burst_gap_ms" yaml:"burst_gap_ms"`
	PauseMs     float64 `toml:"pause_ms" json:"pause_ms" yaml:"pause_ms"`
	MinFlightMs float64 `toml:"min_flight_ms" json:"min_flight_ms" yaml:"min_flight_ms"`
}

// IMEConfig holds composition detection settings.
type IMEConfig struct {
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// Address is the D-Bus address of the IBus daemon. Empty uses the
	// session bus.
	Address string `toml:"address" json:"address" yaml:"address"`

	// StaleTimeoutMs clears a composition that never reported its end.
	// Hot-reloadable.
	StaleTimeoutMs int `toml:"stale_timeout_ms" json:"stale_timeout_ms" yaml:"stale_timeout_ms"`
}

// JournalConfig holds the transition journal settings.
type JournalConfig struct {
	Enabled bool   `toml:"enabled" json:"enabled" yaml:"enabled"`
	Path    string `toml:"path" json:"path" yaml:"path"`
}

// HTTPConfig holds the state API settings.
type HTTPConfig struct {
	Enabled bool   `toml:"enabled" json:"enabled" yaml:"enabled"`
	Listen  string `toml:"listen" json:"listen" yaml:"listen"`
}

// DaemonConfig holds process settings.
type DaemonConfig struct {
	PidFile  string `toml:"pid_file" json:"pid_file" yaml:"pid_file"`
	CrashDir string `toml:"crash_dir" json:"crash_dir" yaml:"crash_dir"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	dir := DataDir()
	fc := features.DefaultConfig()

	return &Config{
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			FilePath:   filepath.Join(PlatformLogDir(), "gse.log"),
			MaxSizeMB:  20,
			MaxBackups: 5,
			Compress:   true,
		},
		Input: InputConfig{
			Source:      "-",
			WindowMs:    fc.WindowMs,
			BurstGapMs:  fc.BurstGapMs,
			PauseMs:     fc.PauseMs,
			MinFlightMs: fc.MinFlightMs,
		},
		IME: IMEConfig{
			Enabled:        true,
			StaleTimeoutMs: 5000,
		},
		Journal: JournalConfig{
			Enabled: true,
			Path:    filepath.Join(dir, "journal.db"),
		},
		HTTP: HTTPConfig{
			Enabled: true,
			Listen:  "127.0.0.1:7878",
		},
		Daemon: DaemonConfig{
			PidFile:  filepath.Join(PlatformRuntimeDir(), "gsed.pid"),
			CrashDir: filepath.Join(PlatformLogDir(), "crashes"),
		},
	}
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	return filepath.Join(PlatformConfigDir(), "config.toml")
}

// DataDir returns the base data directory, honouring GSE_DATA_DIR.
func DataDir() string {
	if envDir := os.Getenv("GSE_DATA_DIR"); envDir != "" {
		return envDir
	}
	return PlatformDataDir()
}

// Load reads configuration from path, or ConfigPath when empty. A missing
// file yields the defaults. Environment overrides are applied; validation is
// left to the caller.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}

	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.ApplyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	if err := decode(path, data, cfg); err != nil {
		return nil, err
	}
	cfg.ApplyEnvOverrides()
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("decode JSON: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("decode YAML: %w", err)
		}
	default:
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return fmt.Errorf("decode TOML: %w", err)
		}
	}
	return nil
}

// Save writes cfg to path in the format implied by its extension.
func Save(cfg *Config, path string) error {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		data, err = json.MarshalIndent(cfg, "", "  ")
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cfg)
	default:
		var buf bytes.Buffer
		err = toml.NewEncoder(&buf).Encode(cfg)
		data = buf.Bytes()
	}
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// LoadOrCreate loads path, writing the defaults there first if it does not
// exist. The boolean reports whether the file was created.
func LoadOrCreate(path string) (*Config, bool, error) {
	if path == "" {
		path = ConfigPath()
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := DefaultConfig()
		if err := Save(cfg, path); err != nil {
			return nil, false, fmt.Errorf("create default config: %w", err)
		}
		cfg.ApplyEnvOverrides()
		return cfg, true, nil
	}
	cfg, err := Load(path)
	return cfg, false, err
}

// ApplyEnvOverrides applies GSE_* environment variables.
func (c *Config) ApplyEnvOverrides() {
	str := func(name string, dst *string) {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}
	boolean := func(name string, dst *bool) {
		if v := os.Getenv(name); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}

	str("GSE_LOG_LEVEL", &c.Logging.Level)
	str("GSE_LOG_FORMAT", &c.Logging.Format)
	str("GSE_LOG_OUTPUT", &c.Logging.Output)
	str("GSE_LOG_PATH", &c.Logging.FilePath)
	str("GSE_INPUT_SOURCE", &c.Input.Source)
	boolean("GSE_IME_ENABLED", &c.IME.Enabled)
	str("GSE_IME_ADDRESS", &c.IME.Address)
	boolean("GSE_JOURNAL_ENABLED", &c.Journal.Enabled)
	str("GSE_JOURNAL_PATH", &c.Journal.Path)
	boolean("GSE_HTTP_ENABLED", &c.HTTP.Enabled)
	str("GSE_HTTP_LISTEN", &c.HTTP.Listen)
	str("GSE_PID_FILE", &c.Daemon.PidFile)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	return ValidateConfig(c)
}

// Clone returns a copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// EnsureDirectories creates the directories the daemon writes into.
func (c *Config) EnsureDirectories() error {
	dirs := []string{filepath.Dir(c.Daemon.PidFile), c.Daemon.CrashDir}
	if c.Journal.Enabled {
		dirs = append(dirs, filepath.Dir(c.Journal.Path))
	}
	if c.Logging.Output == "file" || c.Logging.Output == "both" {
		dirs = append(dirs, filepath.Dir(c.Logging.FilePath))
	}

	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// FeaturesConfig returns the extractor settings.
func (c *Config) FeaturesConfig() features.Config {
	return features.Config{
		WindowMs:    c.Input.WindowMs,
		BurstGapMs:  c.Input.BurstGapMs,
		PauseMs:     c.Input.PauseMs,
		MinFlightMs: c.Input.MinFlightMs,
	}
}

// LoggerConfig returns the logger settings. Invalid level or format strings
// fall back to the defaults; Validate reports them.
func (c *Config) LoggerConfig() *logging.Config {
	lc := logging.DefaultConfig()
	if level, err := logging.ParseLevel(c.Logging.Level); err == nil {
		lc.Level = level
	}
	if format, err := logging.ParseFormat(c.Logging.Format); err == nil {
		lc.Format = format
	}
	lc.Output = c.Logging.Output
	lc.FilePath = c.Logging.FilePath
	lc.MaxSize = c.Logging.MaxSizeMB
	lc.MaxBackups = c.Logging.MaxBackups
	lc.Compress = c.Logging.Compress
	lc.LogKeys = c.Logging.LogKeys
	return lc
}

// StaleTimeout returns the composition staleness timeout.
func (c *Config) StaleTimeout() time.Duration {
	return time.Duration(c.IME.StaleTimeoutMs) * time.Millisecond
}
