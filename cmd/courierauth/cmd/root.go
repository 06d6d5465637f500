package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	redisAddr string
	logLevel  string
)

var rootCmd = &cobra.Command{
	Use:   "courierauth",
	Short: "Credential and session service for the courier platform",
	Long: `courierauth issues and rotates session tokens, runs second-factor and
passkey ceremonies, and tracks active sessions for users, agents and admins.

Configuration is read from COURIER_* environment variables.`,
	SilenceUsage: true,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&redisAddr, "redis-addr", envOr("REDIS_ADDR", "localhost:6379"), "Redis address for the ephemeral store")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newLogger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
