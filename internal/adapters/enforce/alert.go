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

const alertTimeout = 10 * time.Second

// WebhookAlerter posts the block event as JSON to a generic webhook.
type WebhookAlerter struct {
	client *http.Client
	url    string
}

func NewWebhookAlerter(url string) *WebhookAlerter {
	return &WebhookAlerter{
		client: &http.Client{Timeout: alertTimeout},
		url:    url,
	}
}

func (a *WebhookAlerter) Name() string { return "webhook" }

func (a *WebhookAlerter) Send(ctx context.Context, ev *domain.BlockEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return postJSON(ctx, a.client, a.url, payload)
}

// SlackAlerter posts a formatted message to a Slack incoming webhook.
type SlackAlerter struct {
	client *http.Client
	url    string
}

func NewSlackAlerter(url string) *SlackAlerter {
	return &SlackAlerter{
		client: &http.Client{Timeout: alertTimeout},
		url:    url,
	}
}

func (a *SlackAlerter) Name() string { return "slack" }

func (a *SlackAlerter) Send(ctx context.Context, ev *domain.BlockEvent) error {
	text := fmt.Sprintf(
		":shield: *Defense Alert*\n> *Event:* %s\n> *IP Address:* `%s`\n> *Score:* %.3f\n> *User Agent:* `%s`\n> *Timestamp (UTC):* %s",
		ev.Event, ev.SourceIP, ev.Score, ev.UserAgent, ev.Timestamp.Format(time.RFC3339),
	)
	if len(ev.Reasons) > 0 {
		text += "\n> *Reason:* " + ev.Reasons[0].String()
	}
	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return err
	}
	return postJSON(ctx, a.client, a.url, payload)
}

func postJSON(ctx context.Context, client *http.Client, url string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrUpstream, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrUpstream, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: alert endpoint returned %d", domain.ErrUpstream, resp.StatusCode)
	}
	return nil
}
