package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/littleci/littleci/internal/forge"
	"github.com/littleci/littleci/internal/queue"
	"github.com/littleci/littleci/internal/storage"
)

// writeResponse wraps every successful payload under a "response" key.
func writeResponse(w http.ResponseWriter, status int, payload any) {
	writeJSON(w, status, map[string]any{"response": payload})
}

// writeError renders the error body all failures share.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// apiError maps an internal failure onto its HTTP status and message.
// Anything unrecognized is an internal error and gets logged by the
// caller before reaching here.
func (s *Server) apiError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "Not found")
	case errors.Is(err, queue.ErrRepositoryDeleted):
		writeError(w, http.StatusGone, "Repository has been deleted.")
	case errors.Is(err, forge.ErrMissingSignature):
		writeError(w, http.StatusBadRequest, "Signature was not found")
	case errors.Is(err, forge.ErrInvalidSignature):
		writeError(w, http.StatusBadRequest, "Signature is invalid")
	case errors.Is(err, forge.ErrBadPayload):
		writeError(w, http.StatusBadRequest, "Invalid payload")
	default:
		s.log.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "Unhandled error")
	}
}
