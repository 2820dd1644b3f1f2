// Package storage persists repositories, users and the job queue. The
// wire-facing layers own their own response shapes; these types are the
// canonical model.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/littleci/littleci/internal/trigger"
)

var (
	// ErrNotFound is returned when an entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a unique attribute collides, like a
	// repository slug or a username.
	ErrConflict = errors.New("already exists")
)

// TimeFormat is how timestamps are stored and rendered: UTC at second
// precision.
const TimeFormat = "2006-01-02 15:04:05"

// Timestamp is a UTC time carried at second precision. It marshals to the
// stored text form rather than RFC 3339.
type Timestamp time.Time

// Now returns the current UTC time truncated to second precision.
func Now() Timestamp {
	return Timestamp(time.Now().UTC().Truncate(time.Second))
}

// Time returns the underlying time.Time.
func (t Timestamp) Time() time.Time { return time.Time(t) }

func (t Timestamp) String() string {
	return time.Time(t).UTC().Format(TimeFormat)
}

// MarshalJSON renders the stored text form.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON parses the stored text form.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := time.Parse(TimeFormat, s)
	if err != nil {
		return err
	}
	*t = Timestamp(parsed)
	return nil
}

// ExecutionStatus is a job's position in the status state machine.
type ExecutionStatus string

const (
	StatusQueued    ExecutionStatus = "queued"
	StatusRunning   ExecutionStatus = "running"
	StatusCompleted ExecutionStatus = "completed"
	StatusFailed    ExecutionStatus = "failed"
	StatusCancelled ExecutionStatus = "cancelled"
	// StatusUnknown is a read-side value for stored pairs the engine never
	// writes. It must not be written back.
	StatusUnknown ExecutionStatus = "unknown"
)

// NormalizeStatus maps a stored (status, exit_code) pair onto a known
// ExecutionStatus. An exit code accompanies exactly the failed status;
// any other pairing reads as StatusUnknown.
func NormalizeStatus(status string, exitCode *int) ExecutionStatus {
	switch {
	case status == string(StatusCancelled) && exitCode == nil:
		return StatusCancelled
	case status == string(StatusQueued) && exitCode == nil:
		return StatusQueued
	case status == string(StatusRunning) && exitCode == nil:
		return StatusRunning
	case status == string(StatusFailed) && exitCode != nil:
		return StatusFailed
	case status == string(StatusCompleted) && exitCode == nil:
		return StatusCompleted
	}
	return StatusUnknown
}

// Repository is a configured project littleci runs jobs for.
type Repository struct {
	ID         string
	Slug       string
	Name       string
	Run        string
	WorkingDir *string
	Secret     string
	Variables  map[string]string
	Triggers   []trigger.Trigger
	Webhooks   []string
	Deleted    bool
	CreatedAt  Timestamp
	UpdatedAt  Timestamp
}

// User is an operator account for the API.
type User struct {
	ID        string
	Username  string
	Password  string // encoded Argon2id hash
	CreatedAt Timestamp
	UpdatedAt Timestamp
}

// Job is one execution attempt of a repository's run command.
type Job struct {
	ID           string
	RepositoryID string
	Status       ExecutionStatus
	ExitCode     *int // set exactly when Status is failed
	Data         map[string]string
	CreatedAt    Timestamp
	UpdatedAt    Timestamp
	Logs         []JobLog
}

// JobLog is one append-only status transition row.
type JobLog struct {
	Status    ExecutionStatus
	ExitCode  *int
	CreatedAt Timestamp
}

// JobSummary is a row of the global jobs listing, joined with its
// repository for display.
type JobSummary struct {
	ID             string
	Status         ExecutionStatus
	ExitCode       *int
	RepositorySlug string
	RepositoryName string
	CreatedAt      Timestamp
	UpdatedAt      Timestamp
}

// Storage defines the persistence boundary.
type Storage interface {
	// Repositories. Create generates the id, slug and secret; Update
	// recomputes the slug from the name and never touches the secret.
	// Find methods return soft-deleted rows so callers can refuse work
	// explicitly; List does not.
	CreateRepository(ctx context.Context, repo *Repository) (*Repository, error)
	UpdateRepository(ctx context.Context, repo *Repository) (*Repository, error)
	SoftDeleteRepository(ctx context.Context, id string) error
	HardDeleteRepository(ctx context.Context, id string) error
	ListRepositories(ctx context.Context) ([]*Repository, error)
	FindRepositoryByID(ctx context.Context, id string) (*Repository, error)
	FindRepositoryBySlug(ctx context.Context, slug string) (*Repository, error)

	// Users. Passwords arrive already hashed.
	CreateUser(ctx context.Context, user *User) (*User, error)
	UpdateUser(ctx context.Context, user *User) (*User, error)
	SetUserPassword(ctx context.Context, username, hashedPassword string) error
	DeleteUser(ctx context.Context, id string) error
	ListUsers(ctx context.Context) ([]*User, error)
	FindUserByID(ctx context.Context, id string) (*User, error)
	FindUserByUsername(ctx context.Context, username string) (*User, error)

	// Jobs. PushJob and UpdateJobStatus also append a status-log row in
	// the same write.
	PushJob(ctx context.Context, job *Job) error
	NextQueuedJob(ctx context.Context, repositoryID string) (*Job, error)
	UpdateJobStatus(ctx context.Context, job *Job) error
	ListRecentJobs(ctx context.Context, limit int) ([]*JobSummary, error)
	ListJobsForRepository(ctx context.Context, repositoryID string) ([]*Job, error)
	FindJobByID(ctx context.Context, repositoryID, jobID string) (*Job, error)

	Close() error
}

// slugify reduces a repository name to its URL slug: the alphanumeric
// groups of the name, lower-cased and joined by hyphens. Applying it twice
// changes nothing.
func slugify(name string) string {
	parts := strings.FieldsFunc(name, func(r rune) bool {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return false
		}
		return true
	})
	return strings.ToLower(strings.Join(parts, "-"))
}
