package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"sort"
	"sync"
	"time"
)

// CrashReport describes a panic that reached a goroutine boundary.
type CrashReport struct {
	Timestamp    time.Time      `json:"timestamp"`
	Version      string         `json:"version"`
	GOOS         string         `json:"goos"`
	GOARCH       string         `json:"goarch"`
	NumGoroutine int            `json:"num_goroutine"`
	PanicValue   string         `json:"panic_value"`
	StackTrace   string         `json:"stack_trace"`
	Component    string         `json:"component,omitempty"`
	Context      map[string]any `json:"context,omitempty"`
}

// CrashHandlerConfig configures the crash handler.
type CrashHandlerConfig struct {
	// CrashDir is the directory to write crash dumps.
	CrashDir string

	// Version is the application version.
	Version string

	// Component is the component name.
	Component string

	// Logger, if set, receives an error record for every crash.
	Logger *Logger

	// OnCrash is called after a crash is written.
	OnCrash func(CrashReport)
}

// CrashHandler turns goroutine panics into JSON crash reports.
type CrashHandler struct {
	mu        sync.Mutex
	crashDir  string
	version   string
	component string
	logger    *Logger
	onCrash   func(CrashReport)
	seq       int
}

// NewCrashHandler creates a CrashHandler, creating the crash directory.
func NewCrashHandler(cfg *CrashHandlerConfig) *CrashHandler {
	if cfg == nil {
		cfg = &CrashHandlerConfig{}
	}
	if cfg.CrashDir == "" {
		cfg.CrashDir = DefaultCrashDir()
	}
	os.MkdirAll(cfg.CrashDir, 0750)

	return &CrashHandler{
		crashDir:  cfg.CrashDir,
		version:   cfg.Version,
		component: cfg.Component,
		logger:    cfg.Logger,
		onCrash:   cfg.OnCrash,
	}
}

// Recover runs fn and reports a panic instead of propagating it.
func (h *CrashHandler) Recover(fn func()) {
	defer h.recover(nil)
	fn()
}

// RecoverGoroutine is deferred at the top of long-lived goroutines.
//
//	go func() { defer crash.RecoverGoroutine("pump"); ... }()
func (h *CrashHandler) RecoverGoroutine(name string) {
	if r := recover(); r != nil {
		h.HandlePanic(r, map[string]any{"goroutine": name})
	}
}

func (h *CrashHandler) recover(contextInfo map[string]any) {
	if r := recover(); r != nil {
		h.HandlePanic(r, contextInfo)
	}
}

// HandlePanic writes a crash report for panicValue.
func (h *CrashHandler) HandlePanic(panicValue any, contextInfo map[string]any) {
	h.mu.Lock()
	defer h.mu.Unlock()

	report := CrashReport{
		Timestamp:    time.Now().UTC(),
		Version:      h.version,
		GOOS:         runtime.GOOS,
		GOARCH:       runtime.GOARCH,
		NumGoroutine: runtime.NumGoroutine(),
		PanicValue:   fmt.Sprintf("%v", panicValue),
		StackTrace:   string(debug.Stack()),
		Component:    h.component,
		Context:      contextInfo,
	}

	path, err := h.writeCrashDump(report)
	if h.logger != nil {
		if err != nil {
			h.logger.Error("crash report not written", "panic", report.PanicValue, "error", err)
		} else {
			h.logger.Error("panic recovered", "panic", report.PanicValue, "report", path)
		}
	} else {
		fmt.Fprintf(os.Stderr, "panic: %s\n%s\n", report.PanicValue, report.StackTrace)
	}

	if h.onCrash != nil {
		h.onCrash(report)
	}
}

func (h *CrashHandler) writeCrashDump(report CrashReport) (string, error) {
	h.seq++
	name := fmt.Sprintf("crash-%s-%s-%d.json",
		report.Component, report.Timestamp.Format("20060102-150405"), h.seq)
	path := filepath.Join(h.crashDir, name)

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal crash report: %w", err)
	}
	if err := os.WriteFile(path, data, 0640); err != nil {
		return "", fmt.Errorf("write crash report: %w", err)
	}
	return path, nil
}

// Reports returns every crash report in the crash directory, oldest first.
func (h *CrashHandler) Reports() ([]CrashReport, error) {
	files, err := filepath.Glob(filepath.Join(h.crashDir, "crash-*.json"))
	if err != nil {
		return nil, err
	}

	reports := make([]CrashReport, 0, len(files))
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			continue
		}
		var report CrashReport
		if err := json.Unmarshal(data, &report); err != nil {
			continue
		}
		reports = append(reports, report)
	}
	sort.SliceStable(reports, func(i, j int) bool {
		return reports[i].Timestamp.Before(reports[j].Timestamp)
	})
	return reports, nil
}

// Prune removes crash reports older than maxAge.
func (h *CrashHandler) Prune(maxAge time.Duration) error {
	files, err := filepath.Glob(filepath.Join(h.crashDir, "crash-*.json"))
	if err != nil {
		return err
	}

	cutoff := time.Now().Add(-maxAge)
	for _, file := range files {
		info, err := os.Stat(file)
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			os.Remove(file)
		}
	}
	return nil
}
