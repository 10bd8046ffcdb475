// Package assistant talks to the AI trading assistant. Two backends exist:
// Bankr's asynchronous job API, which places trades on the user's behalf,
// and any OpenAI-compatible chat endpoint for plain Q&A.
package assistant

import (
	"context"
	"errors"
)

var (
	ErrNotConfigured = errors.New("assistant: not configured")
	ErrTimeout       = errors.New("assistant: job did not finish in time")
	ErrJobFailed     = errors.New("assistant: job failed")
	ErrEmptyPrompt   = errors.New("assistant: prompt required")
)

// Answer is the assistant's reply to one prompt.
type Answer struct {
	Backend string `json:"backend"`
	JobID   string `json:"jobId,omitempty"`
	Status  string `json:"status"`
	Text    string `json:"response"`
}

// Assistant answers a single prompt.
type Assistant interface {
	Ask(ctx context.Context, prompt string) (*Answer, error)
}
