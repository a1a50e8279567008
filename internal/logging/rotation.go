package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

const (
	defaultRunLogMaxMB = 10
	defaultRunLogKeep  = 5
)

// RunLog backs --log-file. Every harness run starts with an empty file;
// the previous run moves to <path>.1, older ones shift up and anything past
// the keep limit is removed. A run that outgrows the size limit continues
// in a fresh file the same way. Safe for concurrent use.
type RunLog struct {
	mu      sync.Mutex
	file    *os.File
	path    string
	maxSize int64
	keep    int
	written int64
}

type RunLogOption func(*RunLog)

// WithMaxSizeMB caps a single log file.
func WithMaxSizeMB(mb int) RunLogOption {
	return func(l *RunLog) {
		if mb > 0 {
			l.maxSize = int64(mb) * 1024 * 1024
		}
	}
}

// WithKeep sets how many earlier files survive next to the current one.
func WithKeep(n int) RunLogOption {
	return func(l *RunLog) {
		if n > 0 {
			l.keep = n
		}
	}
}

// OpenRunLog starts the log for a new run at path.
func OpenRunLog(path string, opts ...RunLogOption) (*RunLog, error) {
	l := &RunLog{
		path:    path,
		maxSize: defaultRunLogMaxMB * 1024 * 1024,
		keep:    defaultRunLogKeep,
	}
	for _, opt := range opts {
		opt(l)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	if info, err := os.Stat(path); err == nil && info.Size() > 0 {
		l.shift()
	}
	if err := l.open(); err != nil {
		return nil, err
	}
	return l, nil
}

// Write implements io.Writer.
func (l *RunLog) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return 0, os.ErrClosed
	}
	if l.written > 0 && l.written+int64(len(p)) > l.maxSize {
		l.file.Close()
		l.shift()
		if err := l.open(); err != nil {
			l.file = nil
			return 0, fmt.Errorf("log rotation: %w", err)
		}
	}

	n, err := l.file.Write(p)
	l.written += int64(n)
	return n, err
}

// Path is the file the current run writes to.
func (l *RunLog) Path() string { return l.path }

// Files lists the current file followed by the kept ones that exist,
// newest first.
func (l *RunLog) Files() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	files := []string{l.path}
	for i := 1; i <= l.keep; i++ {
		name := l.backupName(i)
		if _, err := os.Stat(name); err == nil {
			files = append(files, name)
		}
	}
	return files
}

// Close closes the current file. Later writes fail with os.ErrClosed.
func (l *RunLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// TeeWriter returns an io.Writer that writes to both w1 and w2.
func TeeWriter(w1, w2 io.Writer) io.Writer {
	return io.MultiWriter(w1, w2)
}

func (l *RunLog) open() error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	l.file = f
	l.written = 0
	return nil
}

// shift moves path to .1 and every .N to .N+1, dropping what falls past keep.
func (l *RunLog) shift() {
	os.Remove(l.backupName(l.keep))
	for i := l.keep - 1; i >= 1; i-- {
		os.Rename(l.backupName(i), l.backupName(i+1))
	}
	os.Rename(l.path, l.backupName(1))
}

func (l *RunLog) backupName(index int) string {
	return fmt.Sprintf("%s.%d", l.path, index)
}
