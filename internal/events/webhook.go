package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/miyamoto-labs/easypoly/internal/httputil"
)

// WebhookPublisher posts a one-line summary of selected events to a Discord
// or Slack incoming webhook.
type WebhookPublisher struct {
	webhookURL string
	username   string
	types      map[string]bool
	httpClient *http.Client
	retry      httputil.RetryConfig
}

// NewWebhookPublisher sends the given event types, or session starts/stops
// and trade resolutions when none are given.
func NewWebhookPublisher(webhookURL string, types ...string) *WebhookPublisher {
	if len(types) == 0 {
		types = []string{SessionStarted, SessionStopped, SessionExpired, TradeResolved}
	}
	set := make(map[string]bool, len(types))
	for _, t := range types {
		set[t] = true
	}
	return &WebhookPublisher{
		webhookURL: webhookURL,
		username:   "EasyPoly",
		types:      set,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		retry: httputil.RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   time.Second,
			MaxDelay:    5 * time.Second,
		},
	}
}

// WithRetry overrides the retry policy.
func (p *WebhookPublisher) WithRetry(cfg httputil.RetryConfig) *WebhookPublisher {
	p.retry = cfg
	return p
}

func (p *WebhookPublisher) Name() string { return "webhook" }

func (p *WebhookPublisher) Publish(ctx context.Context, e Event) error {
	if p.webhookURL == "" || !p.types[e.Type] {
		return nil
	}

	body, err := json.Marshal(p.formatPayload(Summary(e)))
	if err != nil {
		return err
	}

	resp, err := httputil.Do(ctx, p.httpClient, p.retry, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.webhookURL, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook: status %d: %s", resp.StatusCode, httputil.ReadBodyLimit(resp.Body, 256))
	}
	return nil
}

func (p *WebhookPublisher) formatPayload(msg string) map[string]string {
	if strings.Contains(p.webhookURL, "discord") {
		return map[string]string{
			"content":  msg,
			"username": p.username,
		}
	}
	return map[string]string{
		"text":     msg,
		"username": p.username,
	}
}

// Summary renders e as a short human-readable line.
func Summary(e Event) string {
	wallet := e.WalletAddress
	if len(wallet) > 10 {
		wallet = wallet[:6] + "…" + wallet[len(wallet)-4:]
	}
	line := fmt.Sprintf("[%s] %s", e.Type, wallet)
	if e.SessionID != "" {
		line += " session " + e.SessionID
	}
	if e.Data != nil {
		if b, err := json.Marshal(e.Data); err == nil && len(b) <= 300 {
			line += " " + string(b)
		}
	}
	return line
}
