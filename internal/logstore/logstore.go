// Package logstore keeps the captured output of executed jobs on disk.
// Each job owns one directory under <data_dir>/jobs holding a single
// output.log with stdout and stderr interleaved as the child wrote them.
package logstore

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// FileStore reads and writes per-job output files.
type FileStore struct {
	root string
}

// NewFileStore creates the jobs directory under dataDir if needed.
func NewFileStore(dataDir string) (*FileStore, error) {
	root := filepath.Join(dataDir, "jobs")
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create jobs directory: %w", err)
	}
	return &FileStore{root: root}, nil
}

// Path returns where a job's output lives, whether or not it exists yet.
func (s *FileStore) Path(jobID string) string {
	return filepath.Join(s.root, jobID, "output.log")
}

// Create opens a fresh output file for a job, truncating any previous
// run's content. The caller owns the handle.
func (s *FileStore) Create(jobID string) (*os.File, error) {
	dir := filepath.Join(s.root, jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create job directory: %w", err)
	}
	f, err := os.OpenFile(s.Path(jobID), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create output file: %w", err)
	}
	return f, nil
}

// Read returns the full output of a job. A job that has not produced any
// output yet reads as empty.
func (s *FileStore) Read(jobID string) (string, error) {
	out, err := os.ReadFile(s.Path(jobID))
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read output file: %w", err)
	}
	return string(out), nil
}

// Open returns a streaming reader over a job's output so far. A missing
// file reads as empty, matching Read.
func (s *FileStore) Open(jobID string) (io.ReadCloser, error) {
	f, err := os.Open(s.Path(jobID))
	if os.IsNotExist(err) {
		return io.NopCloser(&emptyReader{}), nil
	}
	if err != nil {
		return nil, fmt.Errorf("open output file: %w", err)
	}
	return f, nil
}

// emptyReader implements io.Reader that returns EOF immediately.
type emptyReader struct{}

func (e *emptyReader) Read(p []byte) (n int, err error) {
	return 0, io.EOF
}
