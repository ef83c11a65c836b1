package callback

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/spheroseg/segpipeline/worker/internal/domain"
)

const maxErrorBody = 512

type Client struct {
	http   *http.Client
	method string
	agent  string
}

func New(timeout time.Duration, method, instanceID string) *Client {
	if method == "" {
		method = http.MethodPut
	}
	return &Client{
		http:   &http.Client{Timeout: timeout},
		method: method,
		agent:  "segpipeline-worker/" + instanceID,
	}
}

// Deliver sends payload once. Transport errors and non-2xx replies wrap
// domain.ErrCallbackDelivery.
func (c *Client) Deliver(ctx context.Context, url string, payload domain.CallbackPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: encode payload: %v", domain.ErrCallbackDelivery, err)
	}

	req, err := http.NewRequestWithContext(ctx, c.method, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrCallbackDelivery, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.agent)
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrCallbackDelivery, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("%w: %s %s: %d %s",
			domain.ErrCallbackDelivery, c.method, url, resp.StatusCode, bytes.TrimSpace(msg))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
