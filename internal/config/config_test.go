package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gse/internal/features"
	"gse/internal/logging"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "-", cfg.Input.Source)
	assert.Equal(t, features.DefaultConfig(), cfg.FeaturesConfig())
	assert.Equal(t, 5*time.Second, cfg.StaleTimeout())
	assert.True(t, strings.HasSuffix(cfg.Journal.Path, "journal.db"))
	assert.True(t, strings.HasSuffix(ConfigPath(), "config.toml"))
}

func TestLoadNonexistent(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().HTTP, cfg.HTTP)
}

func TestLoadFormats(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"config.toml", `
[logging]
level = "debug"

[input]
window_ms = 10000.0

[http]
listen = "127.0.0.1:9000"
`},
		{"config.json", `{"logging": {"level": "debug"}, "input": {"window_ms": 10000}, "http": {"listen": "127.0.0.1:9000"}}`},
		{"config.yaml", `
logging:
  level: debug
input:
  window_ms: 10000
http:
  listen: 127.0.0.1:9000
`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tt.name)
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0600))

			cfg, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, "debug", cfg.Logging.Level)
			assert.Equal(t, 10000.0, cfg.Input.WindowMs)
			assert.Equal(t, "127.0.0.1:9000", cfg.HTTP.Listen)

			// Unset fields keep their defaults.
			assert.Equal(t, 500.0, cfg.Input.BurstGapMs)
			assert.Equal(t, "text", cfg.Logging.Format)
		})
	}
}

func TestLoadInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[logging\nlevel = "), 0600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode TOML")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("GSE_LOG_LEVEL", "warn")
	t.Setenv("GSE_INPUT_SOURCE", "/tmp/session.jsonl")
	t.Setenv("GSE_IME_ENABLED", "false")
	t.Setenv("GSE_HTTP_LISTEN", "127.0.0.1:1")
	t.Setenv("GSE_JOURNAL_ENABLED", "not-a-bool")

	cfg, err := Load(filepath.Join(t.TempDir(), "none.toml"))
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "/tmp/session.jsonl", cfg.Input.Source)
	assert.False(t, cfg.IME.Enabled)
	assert.Equal(t, "127.0.0.1:1", cfg.HTTP.Listen)
	assert.True(t, cfg.Journal.Enabled, "unparseable booleans are ignored")
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Level = "loud"
	cfg.Logging.Output = "syslog"
	cfg.Input.WindowMs = 0
	cfg.Input.PauseMs = 100
	cfg.IME.StaleTimeoutMs = 5
	cfg.Journal.Path = ""
	cfg.HTTP.Listen = "nowhere"

	err := cfg.Validate()
	require.Error(t, err)

	var verrs ValidationErrors
	require.True(t, errors.As(err, &verrs))
	assert.ElementsMatch(t, []string{
		"logging.level",
		"logging.output",
		"input.window_ms",
		"input.pause_ms",
		"ime.stale_timeout_ms",
		"journal.path",
		"http.listen",
	}, verrs.Fields())
}

func TestValidateFileOutput(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Output = "file"
	cfg.Logging.FilePath = ""
	cfg.Logging.MaxSizeMB = 0

	var verrs ValidationErrors
	require.True(t, errors.As(cfg.Validate(), &verrs))
	assert.ElementsMatch(t, []string{"logging.file_path", "logging.max_size_mb"}, verrs.Fields())
}

func TestSaveRoundTrip(t *testing.T) {
	for _, ext := range SupportedConfigFormats() {
		t.Run(ext, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", "config."+ext)
			cfg := DefaultConfig()
			cfg.Logging.Level = "error"
			cfg.Input.PauseMs = 3000
			cfg.IME.Address = "unix:path=/tmp/ibus"

			require.NoError(t, Save(cfg, path))
			loaded, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, cfg, loaded)
		})
	}
}

func TestLoadOrCreate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg, created, err := LoadOrCreate(path)
	require.NoError(t, err)
	assert.True(t, created)
	assert.FileExists(t, path)

	again, created, err := LoadOrCreate(path)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, cfg, again)
}

func TestLoggerConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Level = "debug"
	cfg.Logging.Format = "json"
	cfg.Logging.LogKeys = true

	lc := cfg.LoggerConfig()
	assert.Equal(t, logging.LevelDebug, lc.Level)
	assert.Equal(t, logging.FormatJSON, lc.Format)
	assert.True(t, lc.LogKeys)
	assert.Equal(t, "gse", lc.Component)
}

func TestEnsureDirectories(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Journal.Path = filepath.Join(dir, "data", "journal.db")
	cfg.Daemon.PidFile = filepath.Join(dir, "run", "gsed.pid")
	cfg.Daemon.CrashDir = filepath.Join(dir, "crashes")

	require.NoError(t, cfg.EnsureDirectories())
	assert.DirExists(t, filepath.Join(dir, "data"))
	assert.DirExists(t, filepath.Join(dir, "run"))
	assert.DirExists(t, filepath.Join(dir, "crashes"))
}

func TestLoaderRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[logging]\nlevel = \"loud\"\n"), 0600))

	_, err := NewLoader(path).Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLoaderHotReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[logging]\nlevel = \"info\"\n"), 0600))

	l := NewLoader(path)
	l.debounce = 10 * time.Millisecond
	_, err := l.Load()
	require.NoError(t, err)

	changes := make(chan [2]string, 4)
	l.OnChange(func(old, new *Config) {
		changes <- [2]string{old.Logging.Level, new.Logging.Level}
	})
	require.NoError(t, l.Watch())
	defer l.Close()

	writeAtomic(t, path, "[logging]\nlevel = \"debug\"\n")

	select {
	case c := <-changes:
		assert.Equal(t, [2]string{"info", "debug"}, c)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload after write")
	}
	assert.Equal(t, "debug", l.Config().Logging.Level)

	// A broken file is reported and the previous config stays.
	writeAtomic(t, path, "[logging]\nlevel = \"loud\"\n")
	select {
	case err := <-l.Errors():
		assert.ErrorIs(t, err, ErrInvalidConfig)
	case <-time.After(5 * time.Second):
		t.Fatal("no error for invalid config")
	}
	assert.Equal(t, "debug", l.Config().Logging.Level)
}

// writeAtomic replaces path in one rename so the watcher never sees a
// truncated file.
func writeAtomic(t *testing.T, path, content string) {
	t.Helper()
	tmp := path + ".tmp"
	require.NoError(t, os.WriteFile(tmp, []byte(content), 0600))
	require.NoError(t, os.Rename(tmp, path))
}
