package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"homeserver/internal/config"
)

func newRootCmd(cfg *config.Config) *cobra.Command {
	var (
		jsonOutput bool
		logLevel   string
	)
	logs := &logSettings{level: slog.LevelInfo, format: cfg.LogFormat, out: os.Stderr}

	cmd := &cobra.Command{
		Use:           "homeserver",
		Short:         "Homeserver stores files for public-key identities",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			resolved, err := resolveLogSettings(logLevel, cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			*logs = resolved
			slog.SetDefault(slog.New(logs.handler()))
			return nil
		},
	}

	cmd.Version = version
	cmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output JSON")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	cmd.AddCommand(
		newServeCmd(cfg, logs),
		newMigrateCmd(cfg, &jsonOutput),
		newGCCmd(cfg, &jsonOutput, logs),
		newSignupTokenCmd(cfg, &jsonOutput),
		newUserCmd(cfg, &jsonOutput),
		newConfigCmd(cfg),
		newKeygenCmd(),
		newPutCmd(cfg, &jsonOutput),
		newGetCmd(cfg),
		newListCmd(cfg, &jsonOutput),
		newRemoveCmd(cfg),
	)

	return cmd
}
