package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/littleci/littleci/internal/crypto"
	"github.com/littleci/littleci/internal/forge"
	"github.com/littleci/littleci/internal/storage"
	"github.com/littleci/littleci/internal/trigger"
)

const skippedMessage = "Trigger rules not matched. No job queued"

// handleNotify enqueues a job for the repository in the path. Callers
// authenticate with the repository secret, in the X-Secret-Key header or
// a key query parameter. A POST body supplies extra environment for the
// job; GET enqueues with none.
func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	slug := mux.Vars(r)["slug"]

	repo, err := s.store.FindRepositoryBySlug(r.Context(), slug)
	if err != nil {
		s.apiError(w, r, err)
		return
	}

	key := r.Header.Get("X-Secret-Key")
	if key == "" {
		key = r.URL.Query().Get("key")
	}
	if key == "" {
		s.apiError(w, r, forge.ErrMissingSignature)
		return
	}
	if !crypto.SecureCompare(key, repo.Secret) {
		s.apiError(w, r, forge.ErrInvalidSignature)
		return
	}

	data := map[string]string{}
	if r.Method == http.MethodPost {
		if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
			s.apiError(w, r, forge.ErrBadPayload)
			return
		}
	}

	job, err := s.queue.Push(r.Context(), slug, data)
	if err != nil {
		s.apiError(w, r, err)
		return
	}

	writeResponse(w, http.StatusOK, jobToResponse(job))
}

// handleProviderNotify takes a git host's push webhook. The provider
// segment picks the verification scheme; the trigger rules then decide
// whether the push becomes a job or is skipped.
func (s *Server) handleProviderNotify(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	slug := vars["slug"]

	var provider forge.Provider
	for _, p := range s.providers {
		if p.Name() == vars["provider"] {
			provider = p
			break
		}
	}
	if provider == nil {
		writeError(w, http.StatusNotFound, "Not found")
		return
	}

	repo, err := s.store.FindRepositoryBySlug(r.Context(), slug)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("Repository `%s` not found", slug))
		return
	}
	if err != nil {
		s.apiError(w, r, err)
		return
	}

	payload, err := provider.Parse(r, repo.Secret)
	if err != nil {
		s.apiError(w, r, err)
		return
	}

	if trigger.ShouldSkip(repo.Triggers, payload.Ref) {
		s.log.Debug("push skipped", "repository", slug)
		writeJSON(w, http.StatusOK, map[string]string{"skipped": skippedMessage})
		return
	}

	job, err := s.queue.Push(r.Context(), slug, payload.Env())
	if err != nil {
		s.apiError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"job": jobToResponse(job)})
}
