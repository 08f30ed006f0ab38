package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MikeSquared-Agency/sanctuary/internal/anthropic"
	"github.com/MikeSquared-Agency/sanctuary/internal/config"
	"github.com/MikeSquared-Agency/sanctuary/internal/hermes"
	"github.com/MikeSquared-Agency/sanctuary/internal/inflight"
	"github.com/MikeSquared-Agency/sanctuary/internal/llm"
	"github.com/MikeSquared-Agency/sanctuary/internal/media"
	"github.com/MikeSquared-Agency/sanctuary/internal/openai"
	"github.com/MikeSquared-Agency/sanctuary/internal/recap"
	"github.com/MikeSquared-Agency/sanctuary/internal/store"
	"github.com/MikeSquared-Agency/sanctuary/internal/story"
)

func openStore(ctx context.Context, c config.Config) (*store.Store, error) {
	if c.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	db, err := store.New(ctx, c.DatabaseURL)
	if err != nil {
		return nil, err
	}
	slog.Info("database connected")
	return db, nil
}

func newOpenAI(c config.Config) *openai.Client {
	return openai.NewClient(openai.Config{
		APIKey:          c.OpenAIAPIKey,
		BaseURL:         c.OpenAIBaseURL,
		Model:           c.OpenAIModel,
		TranscribeModel: c.TranscribeModel,
	})
}

// newCompleter picks the completion backend named by LLM_PROVIDER.
func newCompleter(c config.Config) (llm.Completer, error) {
	switch c.LLMProvider {
	case "anthropic":
		if c.AnthropicAPIKey == "" {
			return nil, errors.New("ANTHROPIC_API_KEY is required for the anthropic provider")
		}
		slog.Info("anthropic client ready", "model", c.AnthropicModel)
		return anthropic.NewClient(c.AnthropicAPIKey, c.AnthropicModel), nil
	case "openai", "":
		if c.OpenAIAPIKey == "" {
			return nil, errors.New("OPENAI_API_KEY is required for the openai provider")
		}
		slog.Info("openai client ready", "model", c.OpenAIModel)
		return newOpenAI(c), nil
	default:
		return nil, fmt.Errorf("unknown LLM_PROVIDER %q", c.LLMProvider)
	}
}

func newMailer(c config.Config) *recap.Mailer {
	if c.ResendAPIKey == "" {
		slog.Warn("RESEND_API_KEY not set, recap and reminder mail will fail")
	}
	return recap.NewMailer(c.ResendAPIKey, c.RecapFrom, slog.Default())
}

// connectHermes returns nil without error when NATS is not configured.
func connectHermes(ctx context.Context, c config.Config) (*hermes.Client, error) {
	if c.NatsURL == "" {
		return nil, nil
	}
	client, err := hermes.NewClient(ctx, c.NatsURL, c.NatsToken, slog.Default())
	if err != nil {
		return nil, err
	}
	slog.Info("NATS connected", "url", c.NatsURL)
	return client, nil
}

// newGuard prefers Redis so concurrent lock requests are refused across
// replicas; a single process can fall back to memory.
func newGuard(ctx context.Context, c config.Config) (inflight.Guard, func(), error) {
	if c.RedisURL == "" {
		slog.Warn("REDIS_URL not set, lock guard is process-local")
		return inflight.NewMemoryGuard(), func() {}, nil
	}
	g, err := inflight.NewRedisGuard(c.RedisURL, "")
	if err != nil {
		return nil, nil, err
	}
	if err := g.Ping(ctx); err != nil {
		g.Close()
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis lock guard ready")
	return g, func() { _ = g.Close() }, nil
}

// newImages returns nil when object storage is not configured.
func newImages(ctx context.Context, c config.Config) (*media.Images, error) {
	if c.MinioEndpoint == "" {
		slog.Warn("MINIO_ENDPOINT not set, inspiration image uploads disabled")
		return nil, nil
	}
	objects, err := media.NewMinioStore(ctx, c.MinioEndpoint, c.MinioAccessKey, c.MinioSecretKey, c.MinioBucket, c.MinioUseSSL)
	if err != nil {
		return nil, err
	}
	slog.Info("object storage ready", "endpoint", c.MinioEndpoint, "bucket", c.MinioBucket)
	return media.NewImages(objects, slog.Default()), nil
}

func preambleBuckets(names []string) ([]story.Bucket, error) {
	out := make([]story.Bucket, 0, len(names))
	for _, n := range names {
		b, err := story.ParseBucket(n)
		if err != nil {
			return nil, fmt.Errorf("PREAMBLE_BUCKETS: %w", err)
		}
		out = append(out, b)
	}
	return out, nil
}
