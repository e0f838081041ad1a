package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"homeserver/internal/config"
	"homeserver/internal/models"
	"homeserver/internal/store"
)

func newUserCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage registered users",
	}
	cmd.AddCommand(newUserShowCmd(cfg, jsonOutput))
	cmd.AddCommand(newUserSetDisabledCmd(cfg, jsonOutput, "disable", "Disable one user and stop their sessions from writing", true))
	cmd.AddCommand(newUserSetDisabledCmd(cfg, jsonOutput, "enable", "Enable one user", false))
	return cmd
}

func newUserShowCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "show <public-key>",
		Short: "Show one user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUserStore(cfg, args[0], func(st *store.Store, owner models.PublicKey) error {
				user, err := st.GetUser(cmd.Context(), owner)
				if err != nil {
					return err
				}
				if user == nil {
					return fmt.Errorf("user %s not found", owner)
				}
				return writeUser(user, *jsonOutput)
			})
		},
	}
}

func newUserSetDisabledCmd(cfg *config.Config, jsonOutput *bool, use, short string, disabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <public-key>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUserStore(cfg, args[0], func(st *store.Store, owner models.PublicKey) error {
				user, err := st.SetUserDisabled(cmd.Context(), owner, disabled)
				if err != nil {
					return err
				}
				if user == nil {
					return fmt.Errorf("user %s not found", owner)
				}
				return writeUser(user, *jsonOutput)
			})
		},
	}
}

func withUserStore(cfg *config.Config, rawKey string, fn func(*store.Store, models.PublicKey) error) error {
	owner, err := models.ParsePublicKey(rawKey)
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
	return fn(st, owner)
}

func writeUser(user *models.User, jsonOutput bool) error {
	if jsonOutput {
		return writeJSON(user)
	}
	state := "enabled"
	if user.Disabled {
		state = "disabled"
	}
	return writePlain("%s %s (since %s)\n", user.PublicKey, state, formatTime(user.CreatedAt))
}
