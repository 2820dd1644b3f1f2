package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/littleci/littleci/internal/storage"
	"github.com/littleci/littleci/internal/trigger"
)

type repositoryResponse struct {
	ID         string            `json:"id"`
	Slug       string            `json:"slug"`
	Name       string            `json:"name"`
	Run        string            `json:"run"`
	WorkingDir *string           `json:"working_dir"`
	Variables  map[string]string `json:"variables"`
	Triggers   []trigger.Trigger `json:"triggers"`
	Webhooks   []string          `json:"webhooks"`
	Secret     string            `json:"secret"`
}

func repositoryToResponse(repo *storage.Repository) repositoryResponse {
	return repositoryResponse{
		ID:         repo.ID,
		Slug:       repo.Slug,
		Name:       repo.Name,
		Run:        repo.Run,
		WorkingDir: repo.WorkingDir,
		Variables:  repo.Variables,
		Triggers:   repo.Triggers,
		Webhooks:   repo.Webhooks,
		Secret:     repo.Secret,
	}
}

type repositoryRequest struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Run        string            `json:"run"`
	WorkingDir *string           `json:"working_dir"`
	Variables  map[string]string `json:"variables"`
	Triggers   []trigger.Trigger `json:"triggers"`
	Webhooks   []string          `json:"webhooks"`
}

// decodeRepository reads the request body into a storage record. A
// missing triggers field means the default rules; an explicit empty
// list disables provider webhooks entirely.
func decodeRepository(r *http.Request) (*storage.Repository, error) {
	var req repositoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, err
	}

	triggers := req.Triggers
	if triggers == nil {
		triggers = trigger.Default()
	}

	return &storage.Repository{
		ID:         req.ID,
		Name:       req.Name,
		Run:        req.Run,
		WorkingDir: req.WorkingDir,
		Variables:  req.Variables,
		Triggers:   triggers,
		Webhooks:   req.Webhooks,
	}, nil
}

func (s *Server) handleListRepositories(w http.ResponseWriter, r *http.Request) {
	repos, err := s.store.ListRepositories(r.Context())
	if err != nil {
		s.apiError(w, r, err)
		return
	}

	resp := make([]repositoryResponse, len(repos))
	for i, repo := range repos {
		resp[i] = repositoryToResponse(repo)
	}
	writeResponse(w, http.StatusOK, resp)
}

func (s *Server) handleCreateRepository(w http.ResponseWriter, r *http.Request) {
	repo, err := decodeRepository(r)
	if err != nil || repo.Name == "" || repo.Run == "" {
		writeError(w, http.StatusBadRequest, "Invalid payload")
		return
	}

	created, err := s.store.CreateRepository(r.Context(), repo)
	if errors.Is(err, storage.ErrConflict) {
		writeError(w, http.StatusConflict, "Repository slug already exists")
		return
	}
	if err != nil {
		s.apiError(w, r, err)
		return
	}

	writeResponse(w, http.StatusOK, repositoryToResponse(created))
}

func (s *Server) handleUpdateRepository(w http.ResponseWriter, r *http.Request) {
	repo, err := decodeRepository(r)
	if err != nil || repo.ID == "" || repo.Name == "" || repo.Run == "" {
		writeError(w, http.StatusBadRequest, "Invalid payload")
		return
	}

	updated, err := s.store.UpdateRepository(r.Context(), repo)
	if errors.Is(err, storage.ErrConflict) {
		writeError(w, http.StatusConflict, "Repository slug already exists")
		return
	}
	if err != nil {
		s.apiError(w, r, err)
		return
	}

	writeResponse(w, http.StatusOK, repositoryToResponse(updated))
}

func (s *Server) handleGetRepository(w http.ResponseWriter, r *http.Request) {
	repo, err := s.store.FindRepositoryBySlug(r.Context(), mux.Vars(r)["slug"])
	if err != nil {
		s.apiError(w, r, err)
		return
	}
	if repo.Deleted {
		writeError(w, http.StatusNotFound, "Not found")
		return
	}

	writeResponse(w, http.StatusOK, repositoryToResponse(repo))
}

// handleDeleteRepository soft-deletes: the row stays for history but the
// repository vanishes from listings and refuses new jobs. Its queue
// worker is dropped so queued jobs stop draining immediately.
func (s *Server) handleDeleteRepository(w http.ResponseWriter, r *http.Request) {
	repo, err := s.store.FindRepositoryByID(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.apiError(w, r, err)
		return
	}

	if err := s.store.SoftDeleteRepository(r.Context(), repo.ID); err != nil {
		s.apiError(w, r, err)
		return
	}
	s.queue.RemoveWorker(repo.Slug)

	writeResponse(w, http.StatusOK, repositoryToResponse(repo))
}
