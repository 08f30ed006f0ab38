package main

import (
	"context"
	"errors"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/sanctuary/internal/analysis"
	"github.com/MikeSquared-Agency/sanctuary/internal/api"
	"github.com/MikeSquared-Agency/sanctuary/internal/auth"
	"github.com/MikeSquared-Agency/sanctuary/internal/hermes"
	"github.com/MikeSquared-Agency/sanctuary/internal/processor"
	"github.com/MikeSquared-Agency/sanctuary/internal/recap"
	"github.com/MikeSquared-Agency/sanctuary/internal/transcribe"
)

const shutdownTimeout = 15 * time.Second

var serveRecapWorker bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveRecapWorker, "recap-worker", true,
		"also consume recap events from NATS in this process")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	logger := slog.Default()

	slog.Info("sanctuary starting", "port", cfg.Port)

	db, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if cfg.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	verifier, err := auth.NewVerifier(cfg.JWTSecret, logger)
	if err != nil {
		return err
	}

	completer, err := newCompleter(cfg)
	if err != nil {
		return err
	}
	analyzer := analysis.New(completer, logger)

	deps := api.Deps{
		Analyzer:     analyzer,
		Auth:         verifier.Middleware,
		ServiceToken: cfg.APIToken,
		Logger:       logger,
	}

	if cfg.OpenAIAPIKey != "" {
		deps.Transcriber = transcribe.NewService(newOpenAI(cfg), logger)
	} else {
		slog.Warn("OPENAI_API_KEY not set, transcription disabled")
	}

	mailer := newMailer(cfg)

	hc, err := connectHermes(ctx, cfg)
	if err != nil {
		return err
	}
	var dispatcher *recap.Dispatcher
	if hc != nil {
		defer hc.Close()
		dispatcher = recap.NewDispatcher(hc, mailer, logger)
		if serveRecapWorker {
			if err := hc.QueueSubscribe(hermes.SubjectRecapRequested, hermes.QueueRecapWorkers, dispatcher.HandleRecap); err != nil {
				return err
			}
		}
	} else {
		slog.Warn("NATS_URL not set, recaps are sent in-process")
		dispatcher = recap.NewDispatcher(nil, mailer, logger)
	}
	deps.Recaps = dispatcher

	guard, closeGuard, err := newGuard(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeGuard()

	images, err := newImages(ctx, cfg)
	if err != nil {
		return err
	}
	if images != nil {
		deps.Images = images
	}

	buckets, err := preambleBuckets(cfg.PreambleBuckets)
	if err != nil {
		return err
	}
	proc := processor.New(db, analyzer, dispatcher, guard, processor.Config{
		PreambleBuckets: buckets,
		AutosaveDelay:   cfg.AutosaveDelay,
	}, logger)
	deps.Stories = proc

	if cfg.APIToken != "" {
		deps.Reminders = recap.NewReminder(db, mailer, cfg.AppURL, cfg.ReminderStaleAfter, logger)
	}

	srv := api.NewServer(cfg.Port, deps)
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	slog.Info("sanctuary ready", "port", cfg.Port, "llm_provider", cfg.LLMProvider)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP shutdown incomplete", "error", err)
	}
	proc.FlushDrafts(shutdownCtx)
	dispatcher.Wait()
	if hc != nil {
		if err := hc.Flush(shutdownCtx); err != nil {
			slog.Warn("NATS flush failed", "error", err)
		}
	}
	slog.Info("sanctuary stopped")
	return nil
}
