package main

import (
	"time"

	"github.com/spf13/cobra"

	"homeserver/internal/auth"
	"homeserver/internal/config"
	"homeserver/internal/store"
)

func newSignupTokenCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "signup-token",
		Short: "Create a single-use signup token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := auth.GenerateSignupSecret()
			if err != nil {
				return err
			}
			hash, err := auth.HashSignupSecret(secret)
			if err != nil {
				return err
			}

			if err := ensureDataDir(cfg); err != nil {
				return err
			}
			st, err := store.Open(cfg.DBPath())
			if err != nil {
				return err
			}
			defer st.Close()

			created, err := st.CreateSignupToken(cmd.Context(), hash, time.Now().UTC())
			if err != nil {
				return err
			}
			token := auth.FormatSignupToken(created.ID, secret)

			if *jsonOutput {
				return writeJSON(map[string]any{
					"id":         created.ID,
					"token":      token,
					"created_at": created.CreatedAt,
				})
			}
			return writePlain("%s\n", token)
		},
	}
}
