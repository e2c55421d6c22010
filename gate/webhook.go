package gate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	hgerrors "github.com/xiaonanln/hubgate/util/errors"
)

// TokenHeader carries the shared secret on webhook calls and, as a fallback
// to the query parameter, on connection handshakes.
const TokenHeader = "X-Hub-Token"

// DefaultWebhookTimeout bounds a single delivery attempt
const DefaultWebhookTimeout = 10 * time.Second

// WebhookSender POSTs each event as JSON to a fixed URL
type WebhookSender struct {
	url    string
	secret string
	client *http.Client
}

// NewWebhookSender creates a sender for url. A non-positive timeout uses
// DefaultWebhookTimeout.
func NewWebhookSender(url, secret string, timeout time.Duration) *WebhookSender {
	if timeout <= 0 {
		timeout = DefaultWebhookTimeout
	}
	return &WebhookSender{
		url:    url,
		secret: secret,
		client: &http.Client{Timeout: timeout},
	}
}

// URL returns the webhook URL
func (w *WebhookSender) URL() string {
	return w.url
}

// Send delivers ev. Any 2xx response is success.
func (w *WebhookSender) Send(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(TokenHeader, w.secret)

	resp, err := w.client.Do(req)
	if err != nil {
		if hgerrors.IsTimeout(err) {
			return hgerrors.NewTimeoutError("webhook delivery", ev.ID, err)
		}
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}
