package logging

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// FileRotator is an io.Writer that rotates its file by size. Rotated files
// are named <base>-<n><ext>, newest first, optionally gzipped, and at most
// MaxBackups are kept.
type FileRotator struct {
	path       string
	maxBytes   int64
	maxBackups int
	compress   bool

	mu   sync.Mutex
	file *os.File
	size int64
	seq  int
	bg   sync.WaitGroup
}

// NewFileRotator opens cfg.FilePath for appending.
func NewFileRotator(cfg *Config) (*FileRotator, error) {
	r := &FileRotator{
		path:       cfg.FilePath,
		maxBytes:   cfg.MaxSize * 1024 * 1024,
		maxBackups: cfg.MaxBackups,
		compress:   cfg.Compress,
	}
	if r.maxBytes <= 0 {
		r.maxBytes = 20 * 1024 * 1024
	}

	if err := os.MkdirAll(filepath.Dir(r.path), 0750); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	if err := r.open(); err != nil {
		return nil, err
	}
	if existing := r.backups(); len(existing) > 0 {
		r.seq = existing[0].seq
	}
	return r, nil
}

func (r *FileRotator) open() error {
	file, err := os.OpenFile(r.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0640)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("stat log file: %w", err)
	}
	r.file = file
	r.size = info.Size()
	return nil
}

// Write implements io.Writer.
func (r *FileRotator) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		if err := r.open(); err != nil {
			return 0, err
		}
	}
	if r.size > 0 && r.size+int64(len(p)) > r.maxBytes {
		if err := r.rotate(); err != nil {
			return 0, fmt.Errorf("rotate log: %w", err)
		}
	}

	n, err := r.file.Write(p)
	r.size += int64(n)
	return n, err
}

func (r *FileRotator) rotate() error {
	if err := r.file.Close(); err != nil {
		return fmt.Errorf("close current log: %w", err)
	}
	r.file = nil

	r.seq++
	rotated := r.backupName(r.seq)
	if err := os.Rename(r.path, rotated); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("rename log file: %w", err)
	}

	if r.compress {
		r.bg.Add(1)
		go func() {
			defer r.bg.Done()
			compressFile(rotated)
			r.prune()
		}()
	} else {
		r.prune()
	}

	return r.open()
}

func (r *FileRotator) backupName(seq int) string {
	ext := filepath.Ext(r.path)
	base := strings.TrimSuffix(r.path, ext)
	return fmt.Sprintf("%s-%d%s", base, seq, ext)
}

func compressFile(path string) {
	input, err := os.Open(path)
	if err != nil {
		return
	}
	defer input.Close()

	output, err := os.Create(path + ".gz")
	if err != nil {
		return
	}
	defer output.Close()

	gz := gzip.NewWriter(output)
	gz.Name = filepath.Base(path)
	if _, err := io.Copy(gz, input); err != nil {
		gz.Close()
		os.Remove(path + ".gz")
		return
	}
	if err := gz.Close(); err != nil {
		os.Remove(path + ".gz")
		return
	}
	os.Remove(path)
}

// prune removes the oldest backups beyond maxBackups.
func (r *FileRotator) prune() {
	if r.maxBackups <= 0 {
		return
	}
	list := r.backups()
	if len(list) <= r.maxBackups {
		return
	}
	for _, old := range list[r.maxBackups:] {
		os.Remove(old.path)
	}
}

type backup struct {
	path string
	seq  int
}

// Backups returns rotated files, newest first.
func (r *FileRotator) Backups() ([]string, error) {
	list := r.backups()
	out := make([]string, len(list))
	for i, b := range list {
		out[i] = b.path
	}
	return out, nil
}

func (r *FileRotator) backups() []backup {
	ext := filepath.Ext(r.path)
	base := strings.TrimSuffix(r.path, ext)
	matches, _ := filepath.Glob(base + "-*" + ext + "*")

	list := make([]backup, 0, len(matches))
	for _, m := range matches {
		var seq int
		rest := strings.TrimPrefix(m, base+"-")
		if _, err := fmt.Sscanf(rest, "%d", &seq); err != nil {
			continue
		}
		list = append(list, backup{m, seq})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].seq > list[j].seq })
	return list
}

// Close waits for pending compression and closes the file.
func (r *FileRotator) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.bg.Wait()
	if r.file != nil {
		err := r.file.Close()
		r.file = nil
		return err
	}
	return nil
}

// Sync flushes the file to disk.
func (r *FileRotator) Sync() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file != nil {
		return r.file.Sync()
	}
	return nil
}
