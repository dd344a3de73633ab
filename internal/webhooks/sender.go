package webhooks

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/mbd888/agentbroker/internal/brokererr"
)

// HTTPSender is the default Sender: a plain POST of body to url with
// headers set, treating any non-2xx response as a transient delivery
// failure. This is the engine's own outbound leg — distinct from the
// inbound JSON-RPC/HTTP transport surface the broker exposes, which lives
// outside this package.
type HTTPSender struct {
	client *http.Client
}

// NewHTTPSender creates a Sender with the given per-request timeout.
func NewHTTPSender(timeout time.Duration) *HTTPSender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPSender{client: &http.Client{Timeout: timeout}}
}

func (h *HTTPSender) Send(ctx context.Context, url string, headers map[string]string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return brokererr.Wrap(brokererr.TransientDeliveryFailure, "failed to build delivery request", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return brokererr.Wrap(brokererr.TransientDeliveryFailure, "delivery request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return brokererr.New(brokererr.TransientDeliveryFailure, fmt.Sprintf("endpoint responded with status %d", resp.StatusCode))
	}
	return nil
}

var _ Sender = (*HTTPSender)(nil)
