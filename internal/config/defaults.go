package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
)

const appName = "gse"

// PlatformDataDir returns the platform-specific data directory.
//
//   - macOS:   ~/Library/Application Support/gse/
//   - Linux:   $XDG_DATA_HOME/gse/ or ~/.local/share/gse/
//   - Windows: %APPDATA%\gse\
func PlatformDataDir() string {
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home(), "Library", "Application Support", appName)
	case "windows":
		return filepath.Join(envOr("APPDATA", filepath.Join(home(), "AppData", "Roaming")), appName)
	default:
		return filepath.Join(envOr("XDG_DATA_HOME", filepath.Join(home(), ".local", "share")), appName)
	}
}

// PlatformConfigDir returns the platform-specific config directory.
func PlatformConfigDir() string {
	switch runtime.GOOS {
	case "darwin", "windows":
		return PlatformDataDir()
	default:
		return filepath.Join(envOr("XDG_CONFIG_HOME", filepath.Join(home(), ".config")), appName)
	}
}

// PlatformLogDir returns the platform-specific log directory.
func PlatformLogDir() string {
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home(), "Library", "Logs", appName)
	case "windows":
		return filepath.Join(envOr("LOCALAPPDATA", filepath.Join(home(), "AppData", "Local")), appName, "logs")
	default:
		return filepath.Join(envOr("XDG_STATE_HOME", filepath.Join(home(), ".local", "state")), appName)
	}
}

// PlatformRuntimeDir returns the directory for the pid file.
func PlatformRuntimeDir() string {
	switch runtime.GOOS {
	case "windows":
		return PlatformDataDir()
	case "linux":
		if xdgRuntime := os.Getenv("XDG_RUNTIME_DIR"); xdgRuntime != "" {
			return filepath.Join(xdgRuntime, appName)
		}
	}
	return filepath.Join(os.TempDir(), appName+"-"+strconv.Itoa(os.Getuid()))
}

// SupportedConfigFormats returns the accepted config file extensions.
func SupportedConfigFormats() []string {
	return []string{"toml", "json", "yaml", "yml"}
}

// FindConfigFile returns the first config.<ext> in the working directory or
// the config directory, or "" if there is none.
func FindConfigFile() string {
	for _, dir := range []string{".", PlatformConfigDir()} {
		for _, ext := range SupportedConfigFormats() {
			path := filepath.Join(dir, "config."+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

func home() string {
	if h := os.Getenv("HOME"); h != "" {
		return h
	}
	h, _ := os.UserHomeDir()
	return h
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}
