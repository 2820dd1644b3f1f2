package server

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/littleci/littleci/internal/storage"
)

// recentJobsLimit caps the global jobs listing.
const recentJobsLimit = 30

type jobResponse struct {
	ID           string            `json:"id"`
	RepositoryID string            `json:"repository_id"`
	Status       string            `json:"status"`
	ExitCode     *int              `json:"exit_code,omitempty"`
	Data         map[string]string `json:"data"`
	CreatedAt    storage.Timestamp `json:"created_at"`
	UpdatedAt    storage.Timestamp `json:"updated_at"`
	Logs         []jobLogResponse  `json:"logs"`
}

type jobLogResponse struct {
	Status    string            `json:"status"`
	ExitCode  *int              `json:"exit_code,omitempty"`
	CreatedAt storage.Timestamp `json:"created_at"`
}

func jobToResponse(job *storage.Job) jobResponse {
	logs := make([]jobLogResponse, len(job.Logs))
	for i, l := range job.Logs {
		logs[i] = jobLogResponse{
			Status:    string(l.Status),
			ExitCode:  l.ExitCode,
			CreatedAt: l.CreatedAt,
		}
	}
	return jobResponse{
		ID:           job.ID,
		RepositoryID: job.RepositoryID,
		Status:       string(job.Status),
		ExitCode:     job.ExitCode,
		Data:         job.Data,
		CreatedAt:    job.CreatedAt,
		UpdatedAt:    job.UpdatedAt,
		Logs:         logs,
	}
}

type jobSummaryResponse struct {
	ID             string            `json:"id"`
	Status         string            `json:"status"`
	ExitCode       *int              `json:"exit_code,omitempty"`
	RepositorySlug string            `json:"repository_slug"`
	RepositoryName string            `json:"repository_name"`
	CreatedAt      storage.Timestamp `json:"created_at"`
	UpdatedAt      storage.Timestamp `json:"updated_at"`
}

// repositoryFromPath resolves the slug variable to a live repository.
// Soft-deleted repositories read as missing on this surface.
func (s *Server) repositoryFromPath(w http.ResponseWriter, r *http.Request) *storage.Repository {
	repo, err := s.store.FindRepositoryBySlug(r.Context(), mux.Vars(r)["slug"])
	if err != nil {
		s.apiError(w, r, err)
		return nil
	}
	if repo.Deleted {
		writeError(w, http.StatusNotFound, "Not found")
		return nil
	}
	return repo
}

func (s *Server) handleRecentJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.store.ListRecentJobs(r.Context(), recentJobsLimit)
	if err != nil {
		s.apiError(w, r, err)
		return
	}

	resp := make([]jobSummaryResponse, len(jobs))
	for i, job := range jobs {
		resp[i] = jobSummaryResponse{
			ID:             job.ID,
			Status:         string(job.Status),
			ExitCode:       job.ExitCode,
			RepositorySlug: job.RepositorySlug,
			RepositoryName: job.RepositoryName,
			CreatedAt:      job.CreatedAt,
			UpdatedAt:      job.UpdatedAt,
		}
	}
	writeResponse(w, http.StatusOK, resp)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	repo := s.repositoryFromPath(w, r)
	if repo == nil {
		return
	}

	jobs, err := s.store.ListJobsForRepository(r.Context(), repo.ID)
	if err != nil {
		s.apiError(w, r, err)
		return
	}

	resp := make([]jobResponse, len(jobs))
	for i, job := range jobs {
		resp[i] = jobToResponse(job)
	}
	writeResponse(w, http.StatusOK, resp)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	repo := s.repositoryFromPath(w, r)
	if repo == nil {
		return
	}

	job, err := s.store.FindJobByID(r.Context(), repo.ID, mux.Vars(r)["id"])
	if err != nil {
		s.apiError(w, r, err)
		return
	}

	writeResponse(w, http.StatusOK, jobToResponse(job))
}

// handleJobOutput serves the captured output as plain text. A job that
// has not written anything yet reads as an empty body.
func (s *Server) handleJobOutput(w http.ResponseWriter, r *http.Request) {
	repo := s.repositoryFromPath(w, r)
	if repo == nil {
		return
	}

	job, err := s.store.FindJobByID(r.Context(), repo.ID, mux.Vars(r)["id"])
	if err != nil {
		s.apiError(w, r, err)
		return
	}

	output, err := s.logs.Read(job.ID)
	if err != nil {
		s.apiError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte(output))
}
