package queue

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/littleci/littleci/internal/storage"
	"github.com/littleci/littleci/internal/version"
)

const (
	deliveryWorkers = 4
	deliveryTimeout = 30 * time.Second
	deliveryBacklog = 64
)

// webhookPayload is the status notification POSTed to repository
// webhooks. exit_code appears only when the job failed.
type webhookPayload struct {
	ID         string                  `json:"id"`
	Repository string                  `json:"repository"`
	Status     storage.ExecutionStatus `json:"status"`
	ExitCode   *int                    `json:"exit_code,omitempty"`
}

type delivery struct {
	url  string
	body []byte
}

// WebhookNotifier fans job status notifications out to repository
// webhooks through a small shared worker pool. Notify never blocks the
// executor; failed deliveries are logged and dropped, never retried.
type WebhookNotifier struct {
	client *http.Client
	log    *slog.Logger
	queue  chan delivery
	wg     sync.WaitGroup
}

// NewWebhookNotifier starts the delivery pool.
func NewWebhookNotifier(log *slog.Logger) *WebhookNotifier {
	if log == nil {
		log = slog.Default()
	}
	n := &WebhookNotifier{
		client: &http.Client{Timeout: deliveryTimeout},
		log:    log,
		queue:  make(chan delivery, deliveryBacklog),
	}
	for i := 0; i < deliveryWorkers; i++ {
		n.wg.Add(1)
		go n.deliver()
	}
	return n
}

// Notify queues one POST per webhook URL with the job's current status.
func (n *WebhookNotifier) Notify(repo *storage.Repository, job *storage.Job) {
	if len(repo.Webhooks) == 0 {
		return
	}

	body, err := json.Marshal(webhookPayload{
		ID:         job.ID,
		Repository: job.RepositoryID,
		Status:     job.Status,
		ExitCode:   job.ExitCode,
	})
	if err != nil {
		n.log.Error("unable to serialize job data", "job_id", job.ID, "error", err)
		return
	}

	for _, url := range repo.Webhooks {
		select {
		case n.queue <- delivery{url: url, body: body}:
		default:
			n.log.Warn("webhook backlog full, dropping delivery", "url", url, "job_id", job.ID)
		}
	}
}

func (n *WebhookNotifier) deliver() {
	defer n.wg.Done()
	for d := range n.queue {
		req, err := http.NewRequest(http.MethodPost, d.url, bytes.NewReader(d.body))
		if err != nil {
			n.log.Error("webhook failed", "url", d.url, "error", err)
			continue
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", version.UserAgent())

		resp, err := n.client.Do(req)
		if err != nil {
			n.log.Error("webhook failed", "url", d.url, "error", err)
			continue
		}
		resp.Body.Close()
		n.log.Info("webhook called", "url", d.url, "status", resp.StatusCode)
	}
}

// Close drains pending deliveries and stops the pool.
func (n *WebhookNotifier) Close() {
	close(n.queue)
	n.wg.Wait()
	n.client.CloseIdleConnections()
}
