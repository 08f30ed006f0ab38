package main

import (
	"encoding/json"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/sanctuary/internal/recap"
)

var remindStaleAfter time.Duration

var remindCmd = &cobra.Command{
	Use:   "remind",
	Short: "Mail every writer with stalled drafts one reminder",
	Long: `Loads drafts not updated within the stale window, groups them by owner
and sends one reminder per owner. Prints the run report as JSON.`,
	RunE: runRemind,
}

func init() {
	remindCmd.Flags().DurationVar(&remindStaleAfter, "stale-after", 0,
		"override REMINDER_STALE_AFTER for this run")
}

func runRemind(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	db, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	staleAfter := cfg.ReminderStaleAfter
	if remindStaleAfter > 0 {
		staleAfter = remindStaleAfter
	}

	reminder := recap.NewReminder(db, newMailer(cfg), cfg.AppURL, staleAfter, slog.Default())
	report, err := reminder.Send(ctx)
	if err != nil {
		return err
	}
	slog.Info("reminders sent",
		"sent", report.Sent,
		"users", report.TotalUsers,
		"drafts", report.TotalDrafts,
		"errors", len(report.Errors),
	)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}
