// Package queue schedules and executes repository jobs. Each repository
// gets at most one execution at a time; repositories run in parallel.
package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/littleci/littleci/internal/crypto"
	"github.com/littleci/littleci/internal/logstore"
	"github.com/littleci/littleci/internal/storage"
)

// ErrRepositoryDeleted rejects pushes to a soft-deleted repository.
var ErrRepositoryDeleted = errors.New("repository has been deleted")

const shutdownPollInterval = 5 * time.Second

// Sink observes execution for live streaming. Implementations must be
// safe for concurrent use, must not block, and must not retain the
// output chunk past the call.
type Sink interface {
	JobOutput(jobID string, chunk []byte)
	JobStatus(job *storage.Job)
}

// NopSink discards all observations.
type NopSink struct{}

func (NopSink) JobOutput(string, []byte) {}
func (NopSink) JobStatus(*storage.Job)   {}

// sinkWriter adapts a Sink to io.Writer so job output can be teed to it.
type sinkWriter struct {
	jobID string
	sink  Sink
}

func (w *sinkWriter) Write(p []byte) (int, error) {
	w.sink.JobOutput(w.jobID, p)
	return len(p), nil
}

// worker serializes execution for one repository. The token is held for
// the whole duration of a drain.
type worker struct {
	slug         string
	repositoryID string
	token        sync.Mutex
}

// busy reports whether a drain currently holds the token.
func (w *worker) busy() bool {
	if w.token.TryLock() {
		w.token.Unlock()
		return false
	}
	return true
}

// Manager owns the per-repository workers and runs their drain loops.
type Manager struct {
	store    storage.Storage
	logs     *logstore.FileStore
	notifier *WebhookNotifier
	runner   JobRunner
	sink     Sink
	log      *slog.Logger

	mu      sync.RWMutex
	workers map[string]*worker

	active atomic.Bool
}

// NewManager wires the queue engine. A nil runner gets the shell runner,
// a nil notifier gets a fresh delivery pool and a nil sink discards
// observations.
func NewManager(store storage.Storage, logs *logstore.FileStore, notifier *WebhookNotifier, runner JobRunner, sink Sink, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	if runner == nil {
		runner = ShellRunner{}
	}
	if notifier == nil {
		notifier = NewWebhookNotifier(log)
	}
	if sink == nil {
		sink = NopSink{}
	}

	m := &Manager{
		store:    store,
		logs:     logs,
		notifier: notifier,
		runner:   runner,
		sink:     sink,
		log:      log,
		workers:  make(map[string]*worker),
	}
	m.active.Store(true)
	return m
}

// Boot installs a worker for every active repository and nudges each one
// so jobs left queued by the previous run start draining.
func (m *Manager) Boot(ctx context.Context) error {
	repos, err := m.store.ListRepositories(ctx)
	if err != nil {
		return fmt.Errorf("load repositories: %w", err)
	}
	for _, repo := range repos {
		m.notify(m.installWorker(repo.Slug, repo.ID))
	}
	return nil
}

// installWorker returns the repository's worker, creating it on first
// use. After a rename the existing worker is re-keyed under the new slug
// so the repository keeps a single processing token.
func (m *Manager) installWorker(slug, repositoryID string) *worker {
	m.mu.Lock()
	defer m.mu.Unlock()

	if w, ok := m.workers[slug]; ok {
		return w
	}
	for _, w := range m.workers {
		if w.repositoryID == repositoryID {
			m.workers[slug] = w
			return w
		}
	}

	w := &worker{slug: slug, repositoryID: repositoryID}
	m.workers[slug] = w
	return w
}

// RemoveWorker forgets the workers serving a repository once it has been
// deleted. A drain in flight finishes its current job and exits on its
// next iteration.
func (m *Manager) RemoveWorker(slug string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.workers[slug]
	if !ok {
		return
	}
	for key, other := range m.workers {
		if other.repositoryID == w.repositoryID {
			delete(m.workers, key)
		}
	}
}

// Push enqueues a job for the repository and nudges its worker.
func (m *Manager) Push(ctx context.Context, slug string, data map[string]string) (*storage.Job, error) {
	repo, err := m.store.FindRepositoryBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if repo.Deleted {
		return nil, ErrRepositoryDeleted
	}

	id, err := crypto.NewID()
	if err != nil {
		return nil, fmt.Errorf("generate job id: %w", err)
	}
	if data == nil {
		data = map[string]string{}
	}

	now := storage.Now()
	job := &storage.Job{
		ID:           id,
		RepositoryID: repo.ID,
		Status:       storage.StatusQueued,
		Data:         data,
		CreatedAt:    now,
		UpdatedAt:    now,
		Logs:         []storage.JobLog{},
	}

	w := m.installWorker(repo.Slug, repo.ID)
	if err := m.store.PushJob(ctx, job); err != nil {
		return nil, fmt.Errorf("push job: %w", err)
	}
	m.notify(w)
	return job, nil
}

// notify starts a drain for the worker unless one is already running or
// the engine is shutting down.
func (m *Manager) notify(w *worker) {
	if !m.active.Load() {
		m.log.Debug("queue inactive, not starting a drain", "queue", w.slug)
		return
	}
	go m.drain(w)
}

// drain processes the repository's queue until it is empty or the
// repository disappears. The token makes it single-flight: notifiers
// that lose the race return and let the holder pick up their job.
func (m *Manager) drain(w *worker) {
	if !w.token.TryLock() {
		m.log.Debug("queue already processing jobs", "queue", w.slug)
		return
	}
	defer w.token.Unlock()

	ctx := context.Background()
	m.log.Debug("queue checking for new jobs", "queue", w.slug)

	for {
		// Reread the repository each round in case it changed between
		// builds.
		repo, err := m.store.FindRepositoryByID(ctx, w.repositoryID)
		if err != nil {
			if !errors.Is(err, storage.ErrNotFound) {
				m.log.Error("unable to load repository", "repository_id", w.repositoryID, "error", err)
			}
			break
		}
		if repo.Deleted {
			break
		}

		job, err := m.store.NextQueuedJob(ctx, repo.ID)
		if errors.Is(err, storage.ErrNotFound) {
			break
		}
		if err != nil {
			m.log.Error("unable to fetch next job", "queue", w.slug, "error", err)
			break
		}

		m.execute(ctx, repo, job)
	}

	m.log.Debug("finished processing queue", "queue", w.slug)
}

// execute runs a single job from Running to its terminal status.
func (m *Manager) execute(ctx context.Context, repo *storage.Repository, job *storage.Job) {
	m.log.Info("starting execution", "job_id", job.ID, "repository", repo.Slug)
	m.transition(ctx, repo, job, storage.StatusRunning, nil)

	out, err := m.logs.Create(job.ID)
	if err != nil {
		m.log.Error("unable to create output file", "job_id", job.ID, "error", err)
		code := -1
		m.transition(ctx, repo, job, storage.StatusFailed, &code)
		return
	}

	tee := io.MultiWriter(out, &sinkWriter{jobID: job.ID, sink: m.sink})
	status, exitCode, runErr := m.runner.Process(ctx, repo, job, tee)
	if err := out.Close(); err != nil {
		m.log.Warn("unable to close output file", "job_id", job.ID, "error", err)
	}
	if runErr != nil {
		m.log.Error("unable to run script", "job_id", job.ID, "error", runErr)
	}

	switch status {
	case storage.StatusCompleted:
		m.log.Info("execution completed successfully", "job_id", job.ID)
	case storage.StatusCancelled:
		m.log.Info("execution terminated by signal", "job_id", job.ID)
	default:
		code := -1
		if exitCode != nil {
			code = *exitCode
		}
		m.log.Error("execution failed", "job_id", job.ID, "exit_code", code)
	}
	m.transition(ctx, repo, job, status, exitCode)
}

// transition persists a status change, then fans it out to webhooks and
// the stream sink. Store failures are logged; the drain carries on.
func (m *Manager) transition(ctx context.Context, repo *storage.Repository, job *storage.Job, status storage.ExecutionStatus, exitCode *int) {
	job.Status = status
	job.ExitCode = exitCode
	if err := m.store.UpdateJobStatus(ctx, job); err != nil {
		m.log.Error("unable to update status of job", "job_id", job.ID, "error", err)
	}
	m.notifier.Notify(repo, job)
	m.sink.JobStatus(job)
}

// Busy reports whether any worker currently holds its processing token.
func (m *Manager) Busy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, w := range m.workers {
		if w.busy() {
			return true
		}
	}
	return false
}

// Shutdown stops new drains and blocks until every running job has
// finished, checking the workers every few seconds. Queued jobs that no
// drain picked up stay queued for the next boot.
func (m *Manager) Shutdown() {
	m.active.Store(false)
	for m.Busy() {
		time.Sleep(shutdownPollInterval)
	}
	m.notifier.Close()
}
