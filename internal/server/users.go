package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/littleci/littleci/internal/crypto"
	"github.com/littleci/littleci/internal/storage"
)

// userResponse never carries the password hash.
type userResponse struct {
	ID        string            `json:"id"`
	Username  string            `json:"username"`
	CreatedAt storage.Timestamp `json:"created_at"`
	UpdatedAt storage.Timestamp `json:"updated_at"`
}

func userToResponse(user *storage.User) userResponse {
	return userResponse{
		ID:        user.ID,
		Username:  user.Username,
		CreatedAt: user.CreatedAt,
		UpdatedAt: user.UpdatedAt,
	}
}

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.store.ListUsers(r.Context())
	if err != nil {
		s.apiError(w, r, err)
		return
	}

	resp := make([]userResponse, len(users))
	for i, user := range users {
		resp[i] = userToResponse(user)
	}
	writeResponse(w, http.StatusOK, resp)
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req userCredentials
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Invalid payload")
		return
	}

	hashed, err := hashNewPassword(req.Password)
	if err != nil {
		s.apiError(w, r, err)
		return
	}

	user, err := s.store.CreateUser(r.Context(), &storage.User{Username: req.Username, Password: hashed})
	if errors.Is(err, storage.ErrConflict) {
		writeError(w, http.StatusConflict, "Username already exists")
		return
	}
	if err != nil {
		s.apiError(w, r, err)
		return
	}

	writeResponse(w, http.StatusOK, userToResponse(user))
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" || req.Username == "" {
		writeError(w, http.StatusBadRequest, "Invalid payload")
		return
	}

	user, err := s.store.UpdateUser(r.Context(), &storage.User{ID: req.ID, Username: req.Username})
	if errors.Is(err, storage.ErrConflict) {
		writeError(w, http.StatusConflict, "Username already exists")
		return
	}
	if err != nil {
		s.apiError(w, r, err)
		return
	}

	writeResponse(w, http.StatusOK, userToResponse(user))
}

// handleSetPassword rehashes with a fresh salt, so setting the same
// password twice still rotates the stored value.
func (s *Server) handleSetPassword(w http.ResponseWriter, r *http.Request) {
	var req userCredentials
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Invalid payload")
		return
	}

	hashed, err := hashNewPassword(req.Password)
	if err != nil {
		s.apiError(w, r, err)
		return
	}

	if err := s.store.SetUserPassword(r.Context(), req.Username, hashed); err != nil {
		s.apiError(w, r, err)
		return
	}

	user, err := s.store.FindUserByUsername(r.Context(), req.Username)
	if err != nil {
		s.apiError(w, r, err)
		return
	}
	writeResponse(w, http.StatusOK, userToResponse(user))
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	user, err := s.store.FindUserByID(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.apiError(w, r, err)
		return
	}

	if err := s.store.DeleteUser(r.Context(), user.ID); err != nil {
		s.apiError(w, r, err)
		return
	}

	writeResponse(w, http.StatusOK, userToResponse(user))
}

func hashNewPassword(password string) (string, error) {
	salt, err := crypto.NewSalt()
	if err != nil {
		return "", err
	}
	return crypto.HashPassword(password, salt), nil
}
