package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/miyamoto-labs/easypoly/internal/httputil"
)

const (
	DefaultBankrURL  = "https://api.bankr.bot"
	DefaultPollEvery = 2 * time.Second
	DefaultPollLimit = 30 * time.Second
)

// Job statuses reported by Bankr.
const (
	JobPending    = "pending"
	JobProcessing = "processing"
	JobCompleted  = "completed"
	JobFailed     = "failed"
	JobCancelled  = "cancelled"
)

// BankrClient submits a prompt as a job and polls until the job settles.
type BankrClient struct {
	host       string
	apiKey     string
	httpClient *http.Client
	pollEvery  time.Duration
	pollLimit  time.Duration
}

func NewBankrClient(host, apiKey string) (*BankrClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, ErrNotConfigured
	}
	host = strings.TrimSpace(host)
	if host == "" {
		host = DefaultBankrURL
	}
	host = strings.TrimRight(host, "/")
	if _, err := url.Parse(host); err != nil {
		return nil, fmt.Errorf("bankr url parse %q: %w", host, err)
	}
	return &BankrClient{
		host:       host,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		pollEvery:  DefaultPollEvery,
		pollLimit:  DefaultPollLimit,
	}, nil
}

// WithPolling overrides the poll interval and ceiling.
func (c *BankrClient) WithPolling(every, limit time.Duration) *BankrClient {
	c.pollEvery = every
	c.pollLimit = limit
	return c
}

type promptRequest struct {
	Prompt string `json:"prompt"`
}

type promptResponse struct {
	Success bool   `json:"success"`
	JobID   string `json:"jobId"`
	Status  string `json:"status"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

type jobResponse struct {
	JobID    string `json:"jobId"`
	Status   string `json:"status"`
	Response string `json:"response"`
	Error    string `json:"error"`
}

func (c *BankrClient) Ask(ctx context.Context, prompt string) (*Answer, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, ErrEmptyPrompt
	}

	jobID, err := c.submit(ctx, prompt)
	if err != nil {
		return nil, err
	}
	slog.Info("assistant job submitted", "job_id", jobID)

	deadline := time.NewTimer(c.pollLimit)
	defer deadline.Stop()
	ticker := time.NewTicker(c.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, fmt.Errorf("%w: job %s after %s", ErrTimeout, jobID, c.pollLimit)
		case <-ticker.C:
		}

		job, err := c.job(ctx, jobID)
		if err != nil {
			slog.Warn("assistant job poll failed", "job_id", jobID, "err", err)
			continue
		}

		switch job.Status {
		case JobCompleted:
			return &Answer{Backend: "bankr", JobID: jobID, Status: job.Status, Text: job.Response}, nil
		case JobFailed, JobCancelled:
			msg := job.Error
			if msg == "" {
				msg = job.Status
			}
			return nil, fmt.Errorf("%w: job %s: %s", ErrJobFailed, jobID, msg)
		}
	}
}

func (c *BankrClient) submit(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(promptRequest{Prompt: prompt})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/agent/prompt", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("bankr submit: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("bankr submit: status %d: %s", resp.StatusCode, httputil.ReadBodyLimit(resp.Body, 512))
	}

	var out promptResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return "", fmt.Errorf("bankr submit decode: %w", err)
	}
	if out.JobID == "" {
		msg := out.Error
		if msg == "" {
			msg = out.Message
		}
		return "", fmt.Errorf("bankr submit: no job id: %s", msg)
	}
	return out.JobID, nil
}

func (c *BankrClient) job(ctx context.Context, jobID string) (*jobResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.host+"/agent/job/"+url.PathEscape(jobID), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, httputil.ReadBodyLimit(resp.Body, 512))
	}
	var out jobResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}
