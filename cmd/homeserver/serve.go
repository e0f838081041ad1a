package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"homeserver/internal/config"
	"homeserver/internal/files"
	"homeserver/internal/server"
	"homeserver/internal/store"
)

func newServeCmd(cfg *config.Config, logs *logSettings) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the homeserver HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logs.logger("server")

			addr, err := server.ListenAddr(cfg.Listen)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			eng, err := openEngine(ctx, cfg, func(st *store.Store) files.Authorizer {
				return server.NewSessionAuthorizer(st)
			}, logger)
			if err != nil {
				return err
			}
			defer eng.Close()

			logger.Info("storage ready", "backends", eng.backends.IDs(), "default_backend", cfg.Backend)

			srv := server.New(server.Config{
				Addr:            addr,
				SignupMode:      cfg.SignupMode,
				SessionTTL:      cfg.SessionTTL,
				AuthTokenWindow: cfg.AuthTokenWindow,
			}, eng.files, eng.store, logger)
			return srv.ListenAndServe(ctx)
		},
	}
}
