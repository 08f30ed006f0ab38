package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/sanctuary/internal/config"
)

var cfg config.Config

var rootCmd = &cobra.Command{
	Use:   "sanctuary",
	Short: "Story wizard backend: scoring, gatekeeping, transcription and recaps",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cfg = config.Load()
		setupLogging(cfg.LogLevel)
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, remindCmd, recapWorkerCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		slog.Error("sanctuary failed", "error", err)
		os.Exit(1)
	}
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}
