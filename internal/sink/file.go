package sink

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// FileSink appends lines to a file on disk.
//
// The file is opened in append mode for every line and the line is written
// with a single call. There is no lock: ordering between concurrent appends
// is best-effort and relies on the platform's O_APPEND atomicity. Missing
// parent directories are not created.
type FileSink struct {
	path string
}

// NewFileSink creates a sink that appends to path.
func NewFileSink(path string) *FileSink {
	return &FileSink{path: path}
}

// Name returns "file".
func (s *FileSink) Name() string {
	return "file"
}

// Path returns the file the sink appends to.
func (s *FileSink) Path() string {
	return s.path
}

// Append opens the file, appends line and closes it.
func (s *FileSink) Append(ctx context.Context, line []byte) error {
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}

	if _, err := f.Write(line); err != nil {
		f.Close()
		return fmt.Errorf("appending to log file: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("closing log file: %w", err)
	}
	return nil
}

// Ping checks that the directory holding the log file exists.
func (s *FileSink) Ping(ctx context.Context) error {
	dir := filepath.Dir(s.path)
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("checking log directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("log directory %s is not a directory", dir)
	}
	return nil
}

// Close is a no-op; the file is not held open between appends.
func (s *FileSink) Close() error {
	return nil
}
