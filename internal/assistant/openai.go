package assistant

import (
	"context"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const defaultOpenAIModel = openai.GPT4oMini

// SystemPrompt frames the chat backend as a trading helper.
const SystemPrompt = "You are the EasyPoly trading assistant. Answer questions about " +
	"Polymarket 5-minute BTC and ETH up/down markets briefly and plainly. " +
	"You cannot place trades from this channel."

// OpenAIConfig holds client settings.
type OpenAIConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	Timeout   time.Duration
	MaxTokens int
}

// OpenAIClient answers prompts through an OpenAI-compatible chat completion.
type OpenAIClient struct {
	api       *openai.Client
	model     string
	timeout   time.Duration
	maxTokens int
}

func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, ErrNotConfigured
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultOpenAIModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultPollLimit
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 600
	}

	openaiCfg := openai.DefaultConfig(apiKey)
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		openaiCfg.BaseURL = base
	}

	return &OpenAIClient{
		api:       openai.NewClientWithConfig(openaiCfg),
		model:     model,
		timeout:   timeout,
		maxTokens: maxTokens,
	}, nil
}

func (c *OpenAIClient) Ask(ctx context.Context, prompt string) (*Answer, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, ErrEmptyPrompt
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: SystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens: c.maxTokens,
	})
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return nil, fmt.Errorf("openai chat: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai chat: empty response")
	}
	return &Answer{
		Backend: "openai",
		JobID:   resp.ID,
		Status:  JobCompleted,
		Text:    strings.TrimSpace(resp.Choices[0].Message.Content),
	}, nil
}
