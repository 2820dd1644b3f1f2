package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"

	"github.com/littleci/littleci/internal/storage"
)

// JobRunner executes one job's script, writing combined stdout and stderr
// to w, and reports the terminal status. The exit code is set only for
// failures. A non-nil error explains a Failed(-1) outcome; it never
// changes the status.
type JobRunner interface {
	Process(ctx context.Context, repo *storage.Repository, job *storage.Job, w io.Writer) (storage.ExecutionStatus, *int, error)
}

// ShellRunner runs jobs through /bin/sh -c.
type ShellRunner struct{}

// Process starts the repository's run script with the job environment and
// waits for it. Cancelling ctx kills the whole process group.
func (ShellRunner) Process(ctx context.Context, repo *storage.Repository, job *storage.Job, w io.Writer) (storage.ExecutionStatus, *int, error) {
	cmd := exec.Command("/bin/sh", "-c", repo.Run)
	if repo.WorkingDir != nil {
		cmd.Dir = *repo.WorkingDir
	}
	cmd.Env = buildEnv(repo, job)
	cmd.Stdout = w
	cmd.Stderr = w

	// Own process group so a kill reaches the script's children too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		code := -1
		return storage.StatusFailed, &code, fmt.Errorf("launch script: %w", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	select {
	case err := <-done:
		return classifyExit(err)
	case <-ctx.Done():
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
		<-done
		return storage.StatusCancelled, nil, nil
	}
}

func classifyExit(err error) (storage.ExecutionStatus, *int, error) {
	if err == nil {
		return storage.StatusCompleted, nil, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			return storage.StatusCancelled, nil, nil
		}
		code := exitErr.ExitCode()
		return storage.StatusFailed, &code, nil
	}

	// Wait failed for some other reason, e.g. the output writer broke.
	code := -1
	return storage.StatusFailed, &code, err
}

// buildEnv layers the job environment over the process environment:
// repository variables override the OS, notify data overrides both.
func buildEnv(repo *storage.Repository, job *storage.Job) []string {
	env := os.Environ()
	for k, v := range repo.Variables {
		env = append(env, k+"="+v)
	}
	for k, v := range job.Data {
		env = append(env, k+"="+v)
	}
	return env
}
