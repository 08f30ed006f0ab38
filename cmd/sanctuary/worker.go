package main

import (
	"errors"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/sanctuary/internal/hermes"
	"github.com/MikeSquared-Agency/sanctuary/internal/recap"
)

var recapWorkerCmd = &cobra.Command{
	Use:   "recap-worker",
	Short: "Consume recap events from NATS and send the recap mail",
	RunE:  runRecapWorker,
}

func runRecapWorker(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.NatsURL == "" {
		return errors.New("NATS_URL is required")
	}
	hc, err := connectHermes(ctx, cfg)
	if err != nil {
		return err
	}
	defer hc.Close()

	dispatcher := recap.NewDispatcher(nil, newMailer(cfg), slog.Default())
	if err := hc.QueueSubscribe(hermes.SubjectRecapRequested, hermes.QueueRecapWorkers, dispatcher.HandleRecap); err != nil {
		return err
	}
	slog.Info("recap worker ready", "subject", hermes.SubjectRecapRequested, "queue", hermes.QueueRecapWorkers)

	<-ctx.Done()
	slog.Info("recap worker stopped")
	return nil
}
