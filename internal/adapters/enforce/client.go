package enforce

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/xoelrdgz/webtrap/internal/domain"
)

// Client posts enforcement requests to a remote enforcement webhook. It
// implements the same Enforcer contract as the in-process service, so the
// escalation engine's dispatcher is indifferent to the deployment shape.
type Client struct {
	client *http.Client
	url    string
}

func NewClient(webhookURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		client: &http.Client{Timeout: timeout},
		url:    webhookURL,
	}
}

func (c *Client) Enforce(ctx context.Context, dec *domain.Decision, meta *domain.RequestMetadata) error {
	payload, err := json.Marshal(webhookPayload{Decision: dec, Metadata: meta})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrUpstream, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrUpstream, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: enforcement webhook returned %d", domain.ErrUpstream, resp.StatusCode)
	}
	return nil
}
