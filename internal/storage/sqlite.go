package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/littleci/littleci/internal/crypto"
	"github.com/littleci/littleci/internal/trigger"
)

// SQLiteStorage implements Storage on an embedded SQLite database. All
// writes go through a single connection; reads share a small pool. The
// database runs in WAL mode with a 60 s busy timeout.
type SQLiteStorage struct {
	write *sql.DB
	read  *sql.DB
	log   *slog.Logger
}

// Pragmas ride on the DSN so every pooled connection gets them, not just
// the one that happened to run an Exec.
const (
	writePragmas = "?_pragma=busy_timeout(60000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)"
	readPragmas  = "?_pragma=busy_timeout(60000)&_pragma=foreign_keys(1)"
)

// NewSQLite opens or creates the database at path and runs migrations.
func NewSQLite(path string, log *slog.Logger) (*SQLiteStorage, error) {
	if log == nil {
		log = slog.Default()
	}

	write, err := sql.Open("sqlite", "file:"+path+writePragmas)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	write.SetMaxOpenConns(1)

	read, err := sql.Open("sqlite", "file:"+path+readPragmas)
	if err != nil {
		write.Close()
		return nil, fmt.Errorf("open read pool: %w", err)
	}
	read.SetMaxOpenConns(5)

	s := &SQLiteStorage{write: write, read: read, log: log}
	if err := s.migrate(); err != nil {
		s.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *SQLiteStorage) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS repositories (
			id TEXT PRIMARY KEY,
			slug TEXT NOT NULL,
			name TEXT NOT NULL,
			run TEXT NOT NULL DEFAULT '',
			working_dir TEXT,
			secret TEXT NOT NULL,
			variables TEXT,
			triggers TEXT,
			webhooks TEXT,
			deleted INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			username TEXT NOT NULL,
			password TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS queue (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			exit_code INTEGER,
			data TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			repository_id TEXT NOT NULL REFERENCES repositories(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS queue_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			status TEXT NOT NULL,
			exit_code INTEGER,
			created_at TEXT NOT NULL,
			queue_id TEXT NOT NULL REFERENCES queue(id) ON DELETE CASCADE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_repositories_slug ON repositories(slug)`,
		`CREATE INDEX IF NOT EXISTS idx_users_username ON users(username)`,
		`CREATE INDEX IF NOT EXISTS idx_queue_repository_status ON queue(repository_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_queue_logs_queue_id ON queue_logs(queue_id)`,
	}

	for _, m := range migrations {
		if _, err := s.write.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Close closes both database handles.
func (s *SQLiteStorage) Close() error {
	return errors.Join(s.write.Close(), s.read.Close())
}

type scanner interface {
	Scan(dest ...any) error
}

func parseTimestamp(s string) (Timestamp, error) {
	t, err := time.Parse(TimeFormat, s)
	if err != nil {
		return Timestamp{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return Timestamp(t), nil
}

// --- Repositories ---

const repositoryColumns = "id, slug, name, run, working_dir, secret, variables, triggers, webhooks, deleted, created_at, updated_at"

// scanRepository reads one repositories row. Unparseable JSON columns
// downgrade to empty defaults with a log line; they never fail a read.
func (s *SQLiteStorage) scanRepository(row scanner) (*Repository, error) {
	var (
		repo                          Repository
		workingDir                    sql.NullString
		variables, triggers, webhooks sql.NullString
		deleted                       int
		createdAt, updatedAt          string
	)
	err := row.Scan(&repo.ID, &repo.Slug, &repo.Name, &repo.Run, &workingDir, &repo.Secret,
		&variables, &triggers, &webhooks, &deleted, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	if workingDir.Valid {
		repo.WorkingDir = &workingDir.String
	}
	repo.Deleted = deleted != 0

	repo.Variables = map[string]string{}
	if variables.Valid && variables.String != "" {
		var vars map[string]string
		if err := json.Unmarshal([]byte(variables.String), &vars); err != nil {
			s.log.Error("unable to parse variables for repository", "repository_id", repo.ID, "error", err)
		} else if vars != nil {
			repo.Variables = vars
		}
	}

	repo.Triggers = []trigger.Trigger{}
	if triggers.Valid && triggers.String != "" {
		var rules []trigger.Trigger
		if err := json.Unmarshal([]byte(triggers.String), &rules); err != nil {
			s.log.Error("unable to parse triggers for repository", "repository_id", repo.ID, "error", err)
		} else if rules != nil {
			repo.Triggers = rules
		}
	}

	repo.Webhooks = []string{}
	if webhooks.Valid && webhooks.String != "" {
		var hooks []string
		if err := json.Unmarshal([]byte(webhooks.String), &hooks); err != nil {
			s.log.Error("unable to parse webhooks for repository", "repository_id", repo.ID, "error", err)
		} else if hooks != nil {
			repo.Webhooks = hooks
		}
	}

	if repo.CreatedAt, err = parseTimestamp(createdAt); err != nil {
		return nil, err
	}
	if repo.UpdatedAt, err = parseTimestamp(updatedAt); err != nil {
		return nil, err
	}
	return &repo, nil
}

func encodeRepositoryColumns(repo *Repository) (variables, triggers, webhooks string, err error) {
	vars := repo.Variables
	if vars == nil {
		vars = map[string]string{}
	}
	v, err := json.Marshal(vars)
	if err != nil {
		return "", "", "", fmt.Errorf("encode variables: %w", err)
	}

	rules := repo.Triggers
	if rules == nil {
		rules = []trigger.Trigger{}
	}
	t, err := json.Marshal(rules)
	if err != nil {
		return "", "", "", fmt.Errorf("encode triggers: %w", err)
	}

	hooks := repo.Webhooks
	if hooks == nil {
		hooks = []string{}
	}
	w, err := json.Marshal(hooks)
	if err != nil {
		return "", "", "", fmt.Errorf("encode webhooks: %w", err)
	}

	return string(v), string(t), string(w), nil
}

// CreateRepository inserts a new repository with a generated id, slug and
// secret, and returns the stored row.
func (s *SQLiteStorage) CreateRepository(ctx context.Context, repo *Repository) (*Repository, error) {
	slug := slugify(repo.Name)
	if _, err := s.FindRepositoryBySlug(ctx, slug); err == nil {
		return nil, fmt.Errorf("repository slug %q: %w", slug, ErrConflict)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	id, err := crypto.NewID()
	if err != nil {
		return nil, fmt.Errorf("generate repository id: %w", err)
	}
	secret, err := crypto.NewRepositorySecret()
	if err != nil {
		return nil, fmt.Errorf("generate repository secret: %w", err)
	}

	variables, triggers, webhooks, err := encodeRepositoryColumns(repo)
	if err != nil {
		return nil, err
	}

	now := Now().String()
	_, err = s.write.ExecContext(ctx, `INSERT INTO repositories
		(id, slug, name, run, working_dir, secret, variables, triggers, webhooks, deleted, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		id, slug, repo.Name, repo.Run, repo.WorkingDir, secret, variables, triggers, webhooks, now, now)
	if err != nil {
		return nil, fmt.Errorf("insert repository: %w", err)
	}

	return s.FindRepositoryByID(ctx, id)
}

// UpdateRepository updates the repository identified by repo.ID. The slug
// is recomputed from the name; the secret, deleted flag and created_at
// are left alone.
func (s *SQLiteStorage) UpdateRepository(ctx context.Context, repo *Repository) (*Repository, error) {
	slug := slugify(repo.Name)
	if existing, err := s.FindRepositoryBySlug(ctx, slug); err == nil {
		if existing.ID != repo.ID {
			return nil, fmt.Errorf("repository slug %q: %w", slug, ErrConflict)
		}
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	variables, triggers, webhooks, err := encodeRepositoryColumns(repo)
	if err != nil {
		return nil, err
	}

	res, err := s.write.ExecContext(ctx, `UPDATE repositories
		SET slug = ?, name = ?, run = ?, working_dir = ?, variables = ?, triggers = ?, webhooks = ?, updated_at = ?
		WHERE id = ?`,
		slug, repo.Name, repo.Run, repo.WorkingDir, variables, triggers, webhooks, Now().String(), repo.ID)
	if err != nil {
		return nil, fmt.Errorf("update repository %s: %w", repo.ID, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, err
	} else if n == 0 {
		return nil, ErrNotFound
	}

	return s.FindRepositoryByID(ctx, repo.ID)
}

// SoftDeleteRepository marks a repository deleted. It disappears from
// listings and refuses new jobs but its rows remain.
func (s *SQLiteStorage) SoftDeleteRepository(ctx context.Context, id string) error {
	res, err := s.write.ExecContext(ctx,
		"UPDATE repositories SET deleted = 1, updated_at = ? WHERE id = ?", Now().String(), id)
	if err != nil {
		return fmt.Errorf("delete repository %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ErrNotFound
	}
	return nil
}

// HardDeleteRepository removes the repository row entirely; queued jobs
// and their logs cascade.
func (s *SQLiteStorage) HardDeleteRepository(ctx context.Context, id string) error {
	res, err := s.write.ExecContext(ctx, "DELETE FROM repositories WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete repository %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListRepositories returns all non-deleted repositories.
func (s *SQLiteStorage) ListRepositories(ctx context.Context) ([]*Repository, error) {
	rows, err := s.read.QueryContext(ctx,
		"SELECT "+repositoryColumns+" FROM repositories WHERE deleted = 0 ORDER BY created_at ASC, rowid ASC")
	if err != nil {
		return nil, fmt.Errorf("list repositories: %w", err)
	}
	defer rows.Close()

	repos := []*Repository{}
	for rows.Next() {
		repo, err := s.scanRepository(rows)
		if err != nil {
			return nil, fmt.Errorf("scan repository: %w", err)
		}
		repos = append(repos, repo)
	}
	return repos, rows.Err()
}

// FindRepositoryByID returns the repository with the given id, deleted or
// not.
func (s *SQLiteStorage) FindRepositoryByID(ctx context.Context, id string) (*Repository, error) {
	row := s.read.QueryRowContext(ctx,
		"SELECT "+repositoryColumns+" FROM repositories WHERE id = ?", id)
	repo, err := s.scanRepository(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find repository %s: %w", id, err)
	}
	return repo, nil
}

// FindRepositoryBySlug returns the repository with the given slug, deleted
// or not.
func (s *SQLiteStorage) FindRepositoryBySlug(ctx context.Context, slug string) (*Repository, error) {
	row := s.read.QueryRowContext(ctx,
		"SELECT "+repositoryColumns+" FROM repositories WHERE slug = ? LIMIT 1", slug)
	repo, err := s.scanRepository(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find repository %q: %w", slug, err)
	}
	return repo, nil
}

// --- Users ---

const userColumns = "id, username, password, created_at, updated_at"

func scanUser(row scanner) (*User, error) {
	var (
		user                 User
		createdAt, updatedAt string
	)
	if err := row.Scan(&user.ID, &user.Username, &user.Password, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	var err error
	if user.CreatedAt, err = parseTimestamp(createdAt); err != nil {
		return nil, err
	}
	if user.UpdatedAt, err = parseTimestamp(updatedAt); err != nil {
		return nil, err
	}
	return &user, nil
}

// CreateUser inserts a new user with a generated id. The password must
// arrive already hashed; usernames are unique.
func (s *SQLiteStorage) CreateUser(ctx context.Context, user *User) (*User, error) {
	if _, err := s.FindUserByUsername(ctx, user.Username); err == nil {
		return nil, fmt.Errorf("username %q: %w", user.Username, ErrConflict)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	id, err := crypto.NewID()
	if err != nil {
		return nil, fmt.Errorf("generate user id: %w", err)
	}

	now := Now().String()
	_, err = s.write.ExecContext(ctx,
		"INSERT INTO users (id, username, password, created_at, updated_at) VALUES (?, ?, ?, ?, ?)",
		id, user.Username, user.Password, now, now)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}

	return s.FindUserByID(ctx, id)
}

// UpdateUser updates the user identified by user.ID. The password is left
// alone; SetUserPassword changes it.
func (s *SQLiteStorage) UpdateUser(ctx context.Context, user *User) (*User, error) {
	if existing, err := s.FindUserByUsername(ctx, user.Username); err == nil {
		if existing.ID != user.ID {
			return nil, fmt.Errorf("username %q: %w", user.Username, ErrConflict)
		}
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	res, err := s.write.ExecContext(ctx,
		"UPDATE users SET username = ?, updated_at = ? WHERE id = ?",
		user.Username, Now().String(), user.ID)
	if err != nil {
		return nil, fmt.Errorf("update user %s: %w", user.ID, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, err
	} else if n == 0 {
		return nil, ErrNotFound
	}

	return s.FindUserByID(ctx, user.ID)
}

// SetUserPassword replaces the stored password hash for a username.
func (s *SQLiteStorage) SetUserPassword(ctx context.Context, username, hashedPassword string) error {
	res, err := s.write.ExecContext(ctx,
		"UPDATE users SET password = ? WHERE username = ?", hashedPassword, username)
	if err != nil {
		return fmt.Errorf("set password for %q: %w", username, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteUser removes a user.
func (s *SQLiteStorage) DeleteUser(ctx context.Context, id string) error {
	res, err := s.write.ExecContext(ctx, "DELETE FROM users WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete user %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListUsers returns all users in registration order.
func (s *SQLiteStorage) ListUsers(ctx context.Context) ([]*User, error) {
	rows, err := s.read.QueryContext(ctx,
		"SELECT "+userColumns+" FROM users ORDER BY created_at ASC, rowid ASC")
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := []*User{}
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

// FindUserByID returns the user with the given id.
func (s *SQLiteStorage) FindUserByID(ctx context.Context, id string) (*User, error) {
	row := s.read.QueryRowContext(ctx, "SELECT "+userColumns+" FROM users WHERE id = ?", id)
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find user %s: %w", id, err)
	}
	return user, nil
}

// FindUserByUsername returns the user with the given username.
func (s *SQLiteStorage) FindUserByUsername(ctx context.Context, username string) (*User, error) {
	row := s.read.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE username = ? LIMIT 1", username)
	user, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find user %q: %w", username, err)
	}
	return user, nil
}

// --- Jobs ---

const jobColumns = "id, status, exit_code, data, created_at, updated_at, repository_id"

func (s *SQLiteStorage) scanJob(row scanner) (*Job, error) {
	var (
		job                  Job
		status               string
		exitCode             sql.NullInt64
		data                 string
		createdAt, updatedAt string
	)
	err := row.Scan(&job.ID, &status, &exitCode, &data, &createdAt, &updatedAt, &job.RepositoryID)
	if err != nil {
		return nil, err
	}

	var code *int
	if exitCode.Valid {
		c := int(exitCode.Int64)
		code = &c
	}
	job.Status = NormalizeStatus(status, code)
	if job.Status == StatusFailed {
		job.ExitCode = code
	}

	job.Data = map[string]string{}
	if data != "" {
		var values map[string]string
		if err := json.Unmarshal([]byte(data), &values); err != nil {
			s.log.Error("unable to parse data for job", "job_id", job.ID, "error", err)
		} else if values != nil {
			job.Data = values
		}
	}

	job.Logs = []JobLog{}
	if job.CreatedAt, err = parseTimestamp(createdAt); err != nil {
		return nil, err
	}
	if job.UpdatedAt, err = parseTimestamp(updatedAt); err != nil {
		return nil, err
	}
	return &job, nil
}

func appendJobLog(ctx context.Context, tx *sql.Tx, job *Job) error {
	_, err := tx.ExecContext(ctx,
		"INSERT INTO queue_logs (status, exit_code, created_at, queue_id) VALUES (?, ?, ?, ?)",
		string(job.Status), job.ExitCode, Now().String(), job.ID)
	if err != nil {
		return fmt.Errorf("insert job log: %w", err)
	}
	return nil
}

// PushJob inserts a queued job and its first status-log row in one
// transaction.
func (s *SQLiteStorage) PushJob(ctx context.Context, job *Job) error {
	values := job.Data
	if values == nil {
		values = map[string]string{}
	}
	data, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("encode job data: %w", err)
	}

	tx, err := s.write.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("push job: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `INSERT INTO queue
		(id, status, exit_code, data, created_at, updated_at, repository_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		job.ID, string(job.Status), job.ExitCode, string(data),
		job.CreatedAt.String(), job.UpdatedAt.String(), job.RepositoryID)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}

	if err := appendJobLog(ctx, tx, job); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("push job: %w", err)
	}
	return nil
}

// NextQueuedJob returns the oldest queued job for a repository, ties
// broken by insertion order.
func (s *SQLiteStorage) NextQueuedJob(ctx context.Context, repositoryID string) (*Job, error) {
	row := s.read.QueryRowContext(ctx, "SELECT "+jobColumns+` FROM queue
		WHERE repository_id = ? AND status = ?
		ORDER BY created_at ASC, rowid ASC LIMIT 1`,
		repositoryID, string(StatusQueued))
	job, err := s.scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("next queued job: %w", err)
	}
	return job, nil
}

// UpdateJobStatus writes the job's status and exit code, bumps updated_at
// and appends a status-log row in one transaction.
func (s *SQLiteStorage) UpdateJobStatus(ctx context.Context, job *Job) error {
	now := Now()

	tx, err := s.write.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("update job %s: %w", job.ID, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"UPDATE queue SET status = ?, exit_code = ?, updated_at = ? WHERE id = ?",
		string(job.Status), job.ExitCode, now.String(), job.ID)
	if err != nil {
		return fmt.Errorf("update job %s: %w", job.ID, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ErrNotFound
	}

	if err := appendJobLog(ctx, tx, job); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("update job %s: %w", job.ID, err)
	}
	job.UpdatedAt = now
	return nil
}

// ListRecentJobs returns the newest jobs across all repositories, joined
// with their repository for display.
func (s *SQLiteStorage) ListRecentJobs(ctx context.Context, limit int) ([]*JobSummary, error) {
	rows, err := s.read.QueryContext(ctx, `SELECT q.id, q.status, q.exit_code, q.created_at, q.updated_at, r.slug, r.name
		FROM queue q
		INNER JOIN repositories r ON r.id = q.repository_id
		ORDER BY q.created_at DESC, q.rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent jobs: %w", err)
	}
	defer rows.Close()

	summaries := []*JobSummary{}
	for rows.Next() {
		var (
			sum                  JobSummary
			status               string
			exitCode             sql.NullInt64
			createdAt, updatedAt string
		)
		if err := rows.Scan(&sum.ID, &status, &exitCode, &createdAt, &updatedAt,
			&sum.RepositorySlug, &sum.RepositoryName); err != nil {
			return nil, fmt.Errorf("scan job summary: %w", err)
		}

		var code *int
		if exitCode.Valid {
			c := int(exitCode.Int64)
			code = &c
		}
		sum.Status = NormalizeStatus(status, code)
		if sum.Status == StatusFailed {
			sum.ExitCode = code
		}

		if sum.CreatedAt, err = parseTimestamp(createdAt); err != nil {
			return nil, err
		}
		if sum.UpdatedAt, err = parseTimestamp(updatedAt); err != nil {
			return nil, err
		}
		summaries = append(summaries, &sum)
	}
	return summaries, rows.Err()
}

// ListJobsForRepository returns all jobs for a repository, newest first.
// Status-log rows are not loaded for listings.
func (s *SQLiteStorage) ListJobsForRepository(ctx context.Context, repositoryID string) ([]*Job, error) {
	rows, err := s.read.QueryContext(ctx, "SELECT "+jobColumns+` FROM queue
		WHERE repository_id = ?
		ORDER BY created_at DESC, rowid DESC`, repositoryID)
	if err != nil {
		return nil, fmt.Errorf("list jobs for %s: %w", repositoryID, err)
	}
	defer rows.Close()

	jobs := []*Job{}
	for rows.Next() {
		job, err := s.scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// FindJobByID returns one job of a repository together with its status-log
// rows in transition order.
func (s *SQLiteStorage) FindJobByID(ctx context.Context, repositoryID, jobID string) (*Job, error) {
	row := s.read.QueryRowContext(ctx,
		"SELECT "+jobColumns+" FROM queue WHERE id = ? AND repository_id = ?", jobID, repositoryID)
	job, err := s.scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find job %s: %w", jobID, err)
	}

	rows, err := s.read.QueryContext(ctx,
		"SELECT status, exit_code, created_at FROM queue_logs WHERE queue_id = ? ORDER BY id ASC", jobID)
	if err != nil {
		return nil, fmt.Errorf("load logs for job %s: %w", jobID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			logRow    JobLog
			status    string
			exitCode  sql.NullInt64
			createdAt string
		)
		if err := rows.Scan(&status, &exitCode, &createdAt); err != nil {
			return nil, fmt.Errorf("scan job log: %w", err)
		}

		var code *int
		if exitCode.Valid {
			c := int(exitCode.Int64)
			code = &c
		}
		logRow.Status = NormalizeStatus(status, code)
		if logRow.Status == StatusFailed {
			logRow.ExitCode = code
		}
		if logRow.CreatedAt, err = parseTimestamp(createdAt); err != nil {
			return nil, err
		}
		job.Logs = append(job.Logs, logRow)
	}
	return job, rows.Err()
}
