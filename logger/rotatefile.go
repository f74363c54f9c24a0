package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// RotatingFile is an io.WriteCloser that rotates the underlying file once it
// would exceed a size threshold, keeping a bounded number of numbered
// backups (path.1 the most recent), the way the teacher's JSON log stream is
// described as rotating in spec (size and backup count) without pulling in
// an external rotation dependency.
type RotatingFile struct {
	path       string
	maxBytes   int64
	maxBackups int

	mu   sync.Mutex
	file *os.File
	size int64
}

// NewRotatingFile opens (creating if necessary) the log file at path,
// rotating once writes would push it past maxSizeMB megabytes and retaining
// up to maxBackups prior files.
func NewRotatingFile(path string, maxSizeMB, maxBackups int) (*RotatingFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}

	rf := &RotatingFile{
		path:       path,
		maxBytes:   int64(maxSizeMB) * 1024 * 1024,
		maxBackups: maxBackups,
	}
	if err := rf.open(); err != nil {
		return nil, err
	}
	return rf, nil
}

func (rf *RotatingFile) open() error {
	f, err := os.OpenFile(rf.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file %q: %w", rf.path, err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("stat log file %q: %w", rf.path, err)
	}

	rf.file = f
	rf.size = info.Size()
	return nil
}

func (rf *RotatingFile) Write(p []byte) (int, error) {
	rf.mu.Lock()
	defer rf.mu.Unlock()

	if rf.maxBytes > 0 && rf.size+int64(len(p)) > rf.maxBytes {
		if err := rf.rotate(); err != nil {
			return 0, err
		}
	}

	n, err := rf.file.Write(p)
	rf.size += int64(n)
	return n, err
}

func (rf *RotatingFile) rotate() error {
	if err := rf.file.Close(); err != nil {
		return fmt.Errorf("closing log file for rotation: %w", err)
	}

	if rf.maxBackups <= 0 {
		if err := os.Truncate(rf.path, 0); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("truncating log file: %w", err)
		}
		return rf.open()
	}

	for i := rf.maxBackups; i >= 1; i-- {
		if i == rf.maxBackups {
			os.Remove(rf.backupPath(i))
			continue
		}
		src := rf.backupPath(i)
		if _, err := os.Stat(src); err == nil {
			os.Rename(src, rf.backupPath(i+1))
		}
	}
	os.Rename(rf.path, rf.backupPath(1))

	return rf.open()
}

func (rf *RotatingFile) backupPath(n int) string {
	return fmt.Sprintf("%s.%d", rf.path, n)
}

// Close closes the current underlying file.
func (rf *RotatingFile) Close() error {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	return rf.file.Close()
}
