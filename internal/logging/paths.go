package logging

import (
	"os"
	"path/filepath"
	"runtime"
)

// stateDir returns the platform directory for logs and crash reports.
func stateDir() string {
	switch runtime.GOOS {
	case "darwin":
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "Library", "Logs", "gse")
	case "windows":
		appData := os.Getenv("LOCALAPPDATA")
		if appData == "" {
			appData = os.Getenv("APPDATA")
		}
		return filepath.Join(appData, "gse", "logs")
	default:
		stateHome := os.Getenv("XDG_STATE_HOME")
		if stateHome == "" {
			homeDir, _ := os.UserHomeDir()
			stateHome = filepath.Join(homeDir, ".local", "state")
		}
		return filepath.Join(stateHome, "gse")
	}
}

// DefaultLogPath returns the platform-specific default log file.
func DefaultLogPath() string {
	return filepath.Join(stateDir(), "gse.log")
}

// DefaultCrashDir returns the platform-specific crash report directory.
func DefaultCrashDir() string {
	return filepath.Join(stateDir(), "crashes")
}
