package recap

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const (
	defaultEmailURL = "https://api.resend.com/emails"
	DefaultFrom     = "The Sanctuary <onboarding@resend.dev>"
)

// ErrNotConfigured is returned when no mail API key is set.
var ErrNotConfigured = errors.New("mailer not configured")

// Sender delivers a rendered message and returns the provider's message id.
type Sender interface {
	Send(ctx context.Context, to string, msg Message) (string, error)
}

// Mailer sends through the Resend HTTP API.
type Mailer struct {
	apiKey string
	from   string
	client *http.Client
	logger *slog.Logger
	apiURL string
}

func NewMailer(apiKey, from string, logger *slog.Logger) *Mailer {
	if from == "" {
		from = DefaultFrom
	}
	return &Mailer{
		apiKey: apiKey,
		from:   from,
		client: &http.Client{Timeout: 15 * time.Second},
		logger: logger,
		apiURL: defaultEmailURL,
	}
}

type sendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

func (m *Mailer) Send(ctx context.Context, to string, msg Message) (string, error) {
	if m.apiKey == "" {
		return "", ErrNotConfigured
	}

	body, err := json.Marshal(sendRequest{
		From:    m.from,
		To:      []string{to},
		Subject: msg.Subject,
		HTML:    msg.HTML,
	})
	if err != nil {
		return "", fmt.Errorf("marshal email: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.apiURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.apiKey)

	resp, err := m.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		m.logger.Error("email api error", "status", resp.StatusCode, "body", string(respBody))
		return "", fmt.Errorf("email api error: %d", resp.StatusCode)
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fmt.Errorf("parse email response: %w", err)
	}

	m.logger.Info("email sent", "id", out.ID, "subject", msg.Subject)
	return out.ID, nil
}
