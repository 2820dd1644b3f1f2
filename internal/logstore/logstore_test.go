package logstore_test

import (
	"io"
	"os"
	"testing"

	"github.com/littleci/littleci/internal/logstore"
)

func TestCreateWriteRead(t *testing.T) {
	s, err := logstore.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}

	f, err := s.Create("job-1")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := f.WriteString("hello\nworld\n"); err != nil {
		t.Fatalf("write output: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close output: %v", err)
	}

	out, err := s.Read("job-1")
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if out != "hello\nworld\n" {
		t.Errorf("Read() = %q, want %q", out, "hello\nworld\n")
	}
}

func TestCreateTruncatesPreviousRun(t *testing.T) {
	s, err := logstore.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}

	f, err := s.Create("job-1")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	f.WriteString("old run\n")
	f.Close()

	f, err = s.Create("job-1")
	if err != nil {
		t.Fatalf("Create() again error = %v", err)
	}
	f.WriteString("new\n")
	f.Close()

	out, err := s.Read("job-1")
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if out != "new\n" {
		t.Errorf("Read() = %q, want %q", out, "new\n")
	}
}

func TestReadMissingJob(t *testing.T) {
	s, err := logstore.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}

	out, err := s.Read("never-ran")
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if out != "" {
		t.Errorf("Read() = %q, want empty", out)
	}
}

func TestOpenMissingJob(t *testing.T) {
	s, err := logstore.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}

	r, err := s.Open("never-ran")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer r.Close()

	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if len(out) != 0 {
		t.Errorf("ReadAll() = %q, want empty", out)
	}
}

func TestPathLayout(t *testing.T) {
	dir := t.TempDir()
	s, err := logstore.NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}

	f, err := s.Create("abc123")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	f.Close()

	if _, err := os.Stat(s.Path("abc123")); err != nil {
		t.Errorf("output file missing at %s: %v", s.Path("abc123"), err)
	}
}
