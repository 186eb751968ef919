package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/claude/repsession/internal/config"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags.
var Version = "dev"

var (
	configPath string
	userID     string
	verbose    bool

	cfg *config.Config
	log *slog.Logger

	rootCmd = &cobra.Command{
		Use:   "repsession",
		Short: "Run and inspect workout sessions on this device",
		Long: `repsession drives the on-device session engine: it records sets,
keeps a crash-recovery snapshot and syncs finished records to the
remote data service when it is reachable.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			// stdout carries command output (and MCP frames), so logs go to stderr.
			log = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

			if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
				log.Warn("failed to load .env", "error", err)
			}
			if userID != "" {
				os.Setenv("REPSESSION_USER_ID", userID)
			}
			var err error
			cfg, err = config.LoadEngine(configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			return nil
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to config file")
	rootCmd.PersistentFlags().StringVarP(&userID, "user", "u", "", "user id (overrides engine.user_id)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log debug output")

	rootCmd.AddCommand(runCmd, statusCmd, discardCmd, catalogCmd, mcpCmd)
	rootCmd.Version = Version
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
