package server

import (
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/littleci/littleci/internal/logstore"
	"github.com/littleci/littleci/internal/storage"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 90 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Messages pushed over a job stream. Output chunks arrive as the child
// writes them; a status message accompanies every transition and the
// terminal one ends the stream.

type outputMessage struct {
	Type  string `json:"type"`
	JobID string `json:"job_id"`
	Data  string `json:"data"`
}

type statusMessage struct {
	Type     string `json:"type"`
	JobID    string `json:"job_id"`
	Status   string `json:"status"`
	ExitCode *int   `json:"exit_code,omitempty"`
}

// StreamHub fans job output out to WebSocket watchers. It is the queue
// engine's sink, so everything the engine captures reaches subscribers
// as it happens.
type StreamHub struct {
	logs *logstore.FileStore
	log  *slog.Logger

	// Subscriptions: jobID -> set of connections
	mu          sync.RWMutex
	subscribers map[string]map[*websocket.Conn]bool
}

// NewStreamHub creates a hub reading historical output from logs.
func NewStreamHub(logs *logstore.FileStore, log *slog.Logger) *StreamHub {
	if log == nil {
		log = slog.Default()
	}
	return &StreamHub{
		logs:        logs,
		log:         log,
		subscribers: make(map[string]map[*websocket.Conn]bool),
	}
}

func isTerminal(status storage.ExecutionStatus) bool {
	switch status {
	case storage.StatusCompleted, storage.StatusFailed, storage.StatusCancelled:
		return true
	}
	return false
}

// handleJobStream upgrades to a WebSocket over one job's output. The
// watcher first receives everything captured so far, then live chunks
// until the job reaches a terminal status.
func (s *Server) handleJobStream(w http.ResponseWriter, r *http.Request) {
	repo := s.repositoryFromPath(w, r)
	if repo == nil {
		return
	}

	job, err := s.store.FindJobByID(r.Context(), repo.ID, mux.Vars(r)["id"])
	if err != nil {
		s.apiError(w, r, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("websocket upgrade failed", "job_id", job.ID, "error", err)
		return
	}

	s.log.Debug("stream client connected", "job_id", job.ID)

	if err := s.hub.sendExistingOutput(conn, job.ID); err != nil {
		s.log.Warn("unable to send existing output", "job_id", job.ID, "error", err)
		conn.Close()
		return
	}

	// A finished job has nothing more coming: report its status and
	// hang up.
	if isTerminal(job.Status) {
		s.hub.sendStatus(conn, job)
		conn.Close()
		return
	}

	s.hub.subscribe(job.ID, conn)

	// Read pump (just for close detection)
	go s.hub.readPump(conn, job.ID)
}

// sendExistingOutput replays the output captured before the watcher
// arrived.
func (h *StreamHub) sendExistingOutput(conn *websocket.Conn, jobID string) error {
	reader, err := h.logs.Open(jobID)
	if err != nil {
		return err
	}
	defer reader.Close()

	buf := make([]byte, 4096)
	for {
		n, err := reader.Read(buf)
		if n > 0 {
			msg := outputMessage{Type: "output", JobID: jobID, Data: string(buf[:n])}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if werr := conn.WriteJSON(msg); werr != nil {
				return werr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (h *StreamHub) sendStatus(conn *websocket.Conn, job *storage.Job) {
	msg := statusMessage{
		Type:     "status",
		JobID:    job.ID,
		Status:   string(job.Status),
		ExitCode: job.ExitCode,
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(msg); err != nil {
		h.log.Warn("unable to send job status", "job_id", job.ID, "error", err)
	}
}

// subscribe adds a connection to the subscribers for a job.
func (h *StreamHub) subscribe(jobID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.subscribers[jobID] == nil {
		h.subscribers[jobID] = make(map[*websocket.Conn]bool)
	}
	h.subscribers[jobID][conn] = true
}

// unsubscribe removes a connection from the subscribers.
func (h *StreamHub) unsubscribe(jobID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if subs, ok := h.subscribers[jobID]; ok {
		delete(subs, conn)
		if len(subs) == 0 {
			delete(h.subscribers, jobID)
		}
	}
}

// readPump handles reading from the WebSocket (for close detection).
func (h *StreamHub) readPump(conn *websocket.Conn, jobID string) {
	defer func() {
		h.unsubscribe(jobID, conn)
		conn.Close()
		h.log.Debug("stream client disconnected", "job_id", jobID)
	}()

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// JobOutput broadcasts a chunk of captured output to every watcher.
func (h *StreamHub) JobOutput(jobID string, chunk []byte) {
	h.mu.RLock()
	subs := h.subscribers[jobID]
	h.mu.RUnlock()

	if len(subs) == 0 {
		return
	}

	msg := outputMessage{Type: "output", JobID: jobID, Data: string(chunk)}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for conn := range subs {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(msg); err != nil {
			h.log.Warn("unable to broadcast output", "job_id", jobID, "error", err)
		}
	}
}

// JobStatus broadcasts a status transition. Terminal statuses close
// every watcher once delivered.
func (h *StreamHub) JobStatus(job *storage.Job) {
	// Copy the connections to avoid holding the lock during I/O.
	h.mu.RLock()
	subs := h.subscribers[job.ID]
	if len(subs) == 0 {
		h.mu.RUnlock()
		return
	}
	conns := make([]*websocket.Conn, 0, len(subs))
	for conn := range subs {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	msg := statusMessage{
		Type:     "status",
		JobID:    job.ID,
		Status:   string(job.Status),
		ExitCode: job.ExitCode,
	}

	terminal := isTerminal(job.Status)
	for _, conn := range conns {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(msg); err != nil {
			h.log.Warn("unable to broadcast status", "job_id", job.ID, "error", err)
		}
		if terminal {
			conn.Close()
		}
	}

	if terminal {
		h.mu.Lock()
		delete(h.subscribers, job.ID)
		h.mu.Unlock()
	}
}
