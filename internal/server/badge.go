package server

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/littleci/littleci/internal/storage"
)

// Color per badge status.
var statusColors = map[string]string{
	"passing": "#22c55e",
	"failing": "#ef4444",
	"running": "#eab308",
	"unknown": "#6b7280",
}

// handleBadge serves a build status badge as SVG. The badge is public:
// READMEs embed it, so it never 404s and renders "unknown" for
// repositories it cannot resolve.
func (s *Server) handleBadge(w http.ResponseWriter, r *http.Request) {
	slug := mux.Vars(r)["slug"]
	status := s.badgeStatus(r, slug)

	w.Header().Set("Content-Type", "image/svg+xml")
	w.Header().Set("Cache-Control", "public, max-age=60, s-maxage=60")
	w.Header().Set("ETag", fmt.Sprintf(`"%s-%s"`, slug, status))
	w.Write([]byte(renderBadge(status)))
}

func (s *Server) badgeStatus(r *http.Request, slug string) string {
	repo, err := s.store.FindRepositoryBySlug(r.Context(), slug)
	if err != nil || repo.Deleted {
		return "unknown"
	}

	jobs, err := s.store.ListJobsForRepository(r.Context(), repo.ID)
	if err != nil {
		s.log.Error("unable to list jobs for badge", "repository", slug, "error", err)
		return "unknown"
	}
	if len(jobs) == 0 {
		return "unknown"
	}

	switch jobs[0].Status {
	case storage.StatusCompleted:
		return "passing"
	case storage.StatusFailed:
		return "failing"
	case storage.StatusRunning, storage.StatusQueued:
		return "running"
	default:
		return "unknown"
	}
}

func renderBadge(status string) string {
	color, ok := statusColors[status]
	if !ok {
		color = statusColors["unknown"]
	}
	return fmt.Sprintf(`<svg xmlns="http://www.w3.org/2000/svg" width="114" height="20">
  <rect width="55" height="20" fill="#555"/>
  <rect x="55" width="59" height="20" fill="%s"/>
  <g fill="#fff" text-anchor="middle" font-family="sans-serif" font-size="11">
    <text x="27.5" y="14">littleci</text>
    <text x="84.5" y="14">%s</text>
  </g>
</svg>`, color, status)
}
