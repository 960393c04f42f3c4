// Package pidfile keeps a single daemon instance running with a locked pid
// file.
package pidfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrLocked is returned by Acquire when another process holds the lock.
var ErrLocked = errors.New("pid file is locked by another process")

// Lock is a held pid file.
type Lock struct {
	path string
	f    *os.File
}

// Acquire creates or opens path, locks it without blocking and writes the
// current pid into it. The lock is tied to the open file, so it is released
// when the process exits even without Release.
func Acquire(path string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create pid directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, fmt.Errorf("open pid file: %w", err)
	}
	if err := tryLock(f); err != nil {
		f.Close()
		return nil, err
	}

	if err := f.Truncate(0); err != nil {
		unlock(f)
		f.Close()
		return nil, fmt.Errorf("truncate pid file: %w", err)
	}
	if _, err := f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0); err != nil {
		unlock(f)
		f.Close()
		return nil, fmt.Errorf("write pid file: %w", err)
	}
	return &Lock{path: path, f: f}, nil
}

// Path returns the pid file path.
func (l *Lock) Path() string {
	return l.path
}

// Release unlocks and removes the pid file.
func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	// Remove before unlocking so a racing Acquire never sees our stale pid.
	removeErr := os.Remove(l.path)
	unlock(l.f)
	closeErr := l.f.Close()
	l.f = nil
	if removeErr != nil && !os.IsNotExist(removeErr) {
		return removeErr
	}
	return closeErr
}

// Read returns the pid recorded in path.
func Read(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parse pid file: %w", err)
	}
	return pid, nil
}
