// Package notify fires a best-effort outbound webhook whenever a
// download reaches a terminal state (completed, failed, removed).
package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/tinoosan/streamctl/internal/data"
	"github.com/tinoosan/streamctl/internal/scheduler"
)

// payload is the generic webhook body: the full terminal record,
// tagged with an event name so a receiver can dispatch on it without
// inspecting state.
type payload struct {
	Event  string              `json:"event"`
	Record data.DownloadRecord `json:"record"`
}

// Webhook is an ordinary scheduler.Listener that POSTs payload as JSON
// to WebhookURL on every terminal transition. Failures are logged and
// otherwise swallowed — a slow or unreachable receiver must never back
// up the scheduler loop, since OnDownloadStateChanged runs on the
// dispatcher's own goroutine but still shouldn't be allowed to stall
// it indefinitely.
type Webhook struct {
	scheduler.BaseListener

	WebhookURL string
	Client     *http.Client
	Logger     *slog.Logger
}

// New builds a Webhook with a bounded-timeout HTTP client.
func New(webhookURL string, logger *slog.Logger) *Webhook {
	if logger == nil {
		logger = slog.Default()
	}
	return &Webhook{
		WebhookURL: webhookURL,
		Client:     &http.Client{Timeout: 5 * time.Second},
		Logger:     logger,
	}
}

// OnDownloadStateChanged implements scheduler.Listener.
func (w *Webhook) OnDownloadStateChanged(rec data.DownloadRecord) {
	if w.WebhookURL == "" || !data.IsFinished(rec.State) {
		return
	}
	if err := w.notify(rec); err != nil {
		w.Logger.Warn("webhook notify failed", "id", rec.ID, "state", rec.State, "err", err)
	}
}

func (w *Webhook) notify(rec data.DownloadRecord) error {
	body, err := json.Marshal(payload{Event: string(rec.State), Record: rec})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	resp, err := w.Client.Post(w.WebhookURL, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

var _ scheduler.Listener = (*Webhook)(nil)
