// Package openai wraps the OpenAI chat and audio APIs behind the service's
// completion and transcription contracts.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/MikeSquared-Agency/sanctuary/internal/llm"
)

const (
	DefaultModel           = "gpt-4o"
	DefaultTranscribeModel = goopenai.Whisper1

	maxAttempts = 2
)

type Config struct {
	APIKey          string
	BaseURL         string
	Model           string
	TranscribeModel string
	Timeout         time.Duration
}

type Client struct {
	api             *goopenai.Client
	model           string
	transcribeModel string
}

func NewClient(cfg Config) *Client {
	conf := goopenai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		conf.BaseURL = cfg.BaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	conf.HTTPClient = &http.Client{Timeout: timeout}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	tm := cfg.TranscribeModel
	if tm == "" {
		tm = DefaultTranscribeModel
	}
	return &Client{
		api:             goopenai.NewClientWithConfig(conf),
		model:           model,
		transcribeModel: tm,
	}
}

var _ llm.Completer = (*Client)(nil)

// Complete runs a system+user chat completion. Server-side failures are
// retried once; client errors are returned immediately.
func (c *Client) Complete(ctx context.Context, in llm.Request) (string, error) {
	req := goopenai.ChatCompletionRequest{
		Model: c.model,
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleSystem, Content: in.System},
			{Role: goopenai.ChatMessageRoleUser, Content: in.User},
		},
		MaxTokens:   in.MaxTokens,
		Temperature: float32(in.Temperature),
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		resp, err := c.api.CreateChatCompletion(ctx, req)
		if err != nil {
			lastErr = fmt.Errorf("chat completion: %w", err)
			if !retryable(err) || ctx.Err() != nil {
				break
			}
			continue
		}
		if len(resp.Choices) == 0 {
			return "", errors.New("chat completion: no choices returned")
		}
		return resp.Choices[0].Message.Content, nil
	}
	return "", lastErr
}

// Transcribe sends audio to the speech-to-text endpoint and returns the plain
// text transcript. filename only needs a meaningful extension.
func (c *Client) Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error) {
	resp, err := c.api.CreateTranscription(ctx, goopenai.AudioRequest{
		Model:    c.transcribeModel,
		FilePath: filename,
		Reader:   audio,
		Language: "en",
		Format:   goopenai.AudioResponseFormatText,
	})
	if err != nil {
		return "", fmt.Errorf("transcription: %w", err)
	}
	return resp.Text, nil
}

func retryable(err error) bool {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode >= 500 || apiErr.HTTPStatusCode == http.StatusTooManyRequests
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode >= 500
	}
	return false
}
