package queue

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/littleci/littleci/internal/storage"
)

func runScript(t *testing.T, repo *storage.Repository, job *storage.Job) (storage.ExecutionStatus, *int, error, string) {
	t.Helper()
	var out bytes.Buffer
	status, code, err := ShellRunner{}.Process(context.Background(), repo, job, &out)
	return status, code, err, out.String()
}

func TestShellRunnerCompleted(t *testing.T) {
	repo := &storage.Repository{Run: "echo hello"}
	status, code, err, out := runScript(t, repo, &storage.Job{})

	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if status != storage.StatusCompleted {
		t.Errorf("status = %q, want completed", status)
	}
	if code != nil {
		t.Errorf("exit code = %d, want nil", *code)
	}
	if out != "hello\n" {
		t.Errorf("output = %q, want %q", out, "hello\n")
	}
}

func TestShellRunnerExitCode(t *testing.T) {
	repo := &storage.Repository{Run: "exit 42"}
	status, code, err, _ := runScript(t, repo, &storage.Job{})

	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if status != storage.StatusFailed {
		t.Errorf("status = %q, want failed", status)
	}
	if code == nil || *code != 42 {
		t.Errorf("exit code = %v, want 42", code)
	}
}

func TestShellRunnerSignal(t *testing.T) {
	repo := &storage.Repository{Run: "kill -9 $$"}
	status, code, err, _ := runScript(t, repo, &storage.Job{})

	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if status != storage.StatusCancelled {
		t.Errorf("status = %q, want cancelled", status)
	}
	if code != nil {
		t.Errorf("exit code = %d, want nil for signal", *code)
	}
}

func TestShellRunnerSpawnFailure(t *testing.T) {
	workingDir := filepath.Join(t.TempDir(), "does-not-exist")
	repo := &storage.Repository{Run: "echo hi", WorkingDir: &workingDir}
	status, code, err, _ := runScript(t, repo, &storage.Job{})

	if err == nil {
		t.Fatal("Process() error = nil, want launch failure")
	}
	if status != storage.StatusFailed {
		t.Errorf("status = %q, want failed", status)
	}
	if code == nil || *code != -1 {
		t.Errorf("exit code = %v, want -1", code)
	}
}

func TestShellRunnerEnvLayering(t *testing.T) {
	t.Setenv("LITTLECI_TEST_OS", "from-os")
	t.Setenv("LITTLECI_TEST_REPO", "from-os")

	repo := &storage.Repository{
		Run: "echo $LITTLECI_TEST_OS $LITTLECI_TEST_REPO $LITTLECI_TEST_JOB",
		Variables: map[string]string{
			"LITTLECI_TEST_REPO": "from-repo",
			"LITTLECI_TEST_JOB":  "from-repo",
		},
	}
	job := &storage.Job{Data: map[string]string{"LITTLECI_TEST_JOB": "from-job"}}

	status, _, err, out := runScript(t, repo, job)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if status != storage.StatusCompleted {
		t.Fatalf("status = %q, want completed", status)
	}
	if got := strings.TrimSpace(out); got != "from-os from-repo from-job" {
		t.Errorf("env layering = %q, want %q", got, "from-os from-repo from-job")
	}
}

func TestShellRunnerWorkingDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "marker.txt"), []byte("content"), 0o644); err != nil {
		t.Fatal(err)
	}

	repo := &storage.Repository{Run: "cat marker.txt", WorkingDir: &dir}
	status, _, err, out := runScript(t, repo, &storage.Job{})

	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if status != storage.StatusCompleted {
		t.Errorf("status = %q, want completed", status)
	}
	if out != "content" {
		t.Errorf("output = %q, want %q", out, "content")
	}
}

func TestShellRunnerInterleavesStreams(t *testing.T) {
	repo := &storage.Repository{Run: "echo out; echo err >&2; echo done"}
	status, _, err, out := runScript(t, repo, &storage.Job{})

	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if status != storage.StatusCompleted {
		t.Errorf("status = %q, want completed", status)
	}
	for _, want := range []string{"out\n", "err\n", "done\n"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q missing %q", out, want)
		}
	}
}

func TestShellRunnerFailFast(t *testing.T) {
	repo := &storage.Repository{Run: "set -e\nfalse\necho should_not_print\n"}
	status, code, err, out := runScript(t, repo, &storage.Job{})

	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if status != storage.StatusFailed {
		t.Errorf("status = %q, want failed", status)
	}
	if code == nil || *code == 0 {
		t.Errorf("exit code = %v, want non-zero", code)
	}
	if strings.Contains(out, "should_not_print") {
		t.Error("script kept running past the failing command")
	}
}

func TestShellRunnerContextCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	repo := &storage.Repository{Run: "sleep 10"}
	var out bytes.Buffer

	start := time.Now()
	status, _, _ := ShellRunner{}.Process(ctx, repo, &storage.Job{}, &out)
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("cancelled run took %v", elapsed)
	}
	if status != storage.StatusCancelled {
		t.Errorf("status = %q, want cancelled", status)
	}
}
