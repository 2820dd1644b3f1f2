// Package server exposes the littleci HTTP API: webhook intake, the
// repository/job/user admin surface, and the live output stream.
package server

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/littleci/littleci/internal/config"
	"github.com/littleci/littleci/internal/forge"
	"github.com/littleci/littleci/internal/logstore"
	"github.com/littleci/littleci/internal/queue"
	"github.com/littleci/littleci/internal/storage"
)

// Server holds every dependency the handlers touch.
type Server struct {
	cfg       *config.AppConfig
	store     storage.Storage
	queue     *queue.Manager
	logs      *logstore.FileStore
	hub       *StreamHub
	providers []forge.Provider
	log       *slog.Logger
}

// New creates the API server. The stream hub doubles as the queue's
// output sink, so callers build it first and hand it to both sides.
func New(cfg *config.AppConfig, store storage.Storage, manager *queue.Manager, logs *logstore.FileStore, hub *StreamHub, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		cfg:       cfg,
		store:     store,
		queue:     manager,
		logs:      logs,
		hub:       hub,
		providers: []forge.Provider{forge.GitHub{}, forge.Gitea{}},
		log:       log,
	}
}

// Router builds the HTTP handler. Recovery, request logging and CORS
// wrap the router from the outside so they also cover unmatched paths,
// which mux middleware would skip.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()

	// Unmatched paths and mismatched methods both read as missing
	// resources to the client.
	r.NotFoundHandler = http.HandlerFunc(s.handleNotFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(s.handleNotFound)

	// Open endpoints. Webhook intake authenticates per repository, the
	// badge is meant for READMEs, and login issues the bearer tokens the
	// rest of the API wants.
	r.HandleFunc("/notify/{slug}", s.handleNotify).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc("/notify/{slug}/{provider}", s.handleProviderNotify).Methods(http.MethodPost)
	r.HandleFunc("/login", s.handleLogin).Methods(http.MethodPost)
	r.HandleFunc("/repositories/{slug}/badge", s.handleBadge).Methods(http.MethodGet)

	api := r.NewRoute().Subrouter()
	api.Use(s.requireAuth)

	api.HandleFunc("/config", s.handleConfig).Methods(http.MethodGet)

	api.HandleFunc("/repositories", s.handleListRepositories).Methods(http.MethodGet)
	api.HandleFunc("/repositories", s.handleCreateRepository).Methods(http.MethodPost)
	api.HandleFunc("/repositories", s.handleUpdateRepository).Methods(http.MethodPut)
	api.HandleFunc("/repositories/{id}", s.handleDeleteRepository).Methods(http.MethodDelete)
	api.HandleFunc("/repositories/{slug}", s.handleGetRepository).Methods(http.MethodGet)

	api.HandleFunc("/jobs", s.handleRecentJobs).Methods(http.MethodGet)
	api.HandleFunc("/repositories/{slug}/jobs", s.handleListJobs).Methods(http.MethodGet)
	api.HandleFunc("/repositories/{slug}/jobs/{id}", s.handleGetJob).Methods(http.MethodGet)
	api.HandleFunc("/repositories/{slug}/jobs/{id}/output", s.handleJobOutput).Methods(http.MethodGet)
	api.HandleFunc("/repositories/{slug}/jobs/{id}/stream", s.handleJobStream).Methods(http.MethodGet)

	api.HandleFunc("/users", s.handleListUsers).Methods(http.MethodGet)
	api.HandleFunc("/users", s.handleCreateUser).Methods(http.MethodPost)
	api.HandleFunc("/users", s.handleUpdateUser).Methods(http.MethodPut)
	api.HandleFunc("/users/password", s.handleSetPassword).Methods(http.MethodPut)
	api.HandleFunc("/users/{id}", s.handleDeleteUser).Methods(http.MethodDelete)

	return s.recoverPanics(s.logRequests(s.cors(r)))
}

func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "Not found")
}

func (s *Server) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.log.Error("handler panicked", "path", r.URL.Path, "error", err)
				writeError(w, http.StatusInternalServerError, "Unhandled error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.log.Debug("request", "method", r.Method, "path", r.URL.Path, "remote", r.RemoteAddr)
		next.ServeHTTP(w, r)
	})
}

// cors mirrors the requester: any origin is allowed, with credentials,
// so the header echoes the caller instead of using a wildcard.
func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Add("Vary", "Origin")
		}

		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE")
			if headers := r.Header.Get("Access-Control-Request-Headers"); headers != "" {
				w.Header().Set("Access-Control-Allow-Headers", headers)
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

