package main

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"homeserver/internal/models"
)

const (
	keyFileEnvKey  = "HOMESERVER_KEY_FILE"
	defaultKeyFile = "homeserver.key"
)

func newKeygenCmd() *cobra.Command {
	var (
		out   string
		force bool
	)

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate an ed25519 identity key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := keyFilePath(out)
			if !force {
				if _, err := os.Stat(path); err == nil {
					return fmt.Errorf("%s already exists (use --force to overwrite)", path)
				}
			}
			_, priv, err := ed25519.GenerateKey(nil)
			if err != nil {
				return err
			}
			if err := writeKeyFile(path, priv); err != nil {
				return err
			}
			return writePlain("%s\n", models.PublicKeyFromEd25519(priv.Public().(ed25519.PublicKey)))
		},
	}

	cmd.Flags().StringVar(&out, "out", "", "key file to write (default $"+keyFileEnvKey+" or ./"+defaultKeyFile+")")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing key file")
	return cmd
}

func keyFilePath(flag string) string {
	if strings.TrimSpace(flag) != "" {
		return flag
	}
	if env := strings.TrimSpace(os.Getenv(keyFileEnvKey)); env != "" {
		return env
	}
	return defaultKeyFile
}

// Key files hold the hex encoded 32 byte seed.
func writeKeyFile(path string, priv ed25519.PrivateKey) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}
	return os.WriteFile(path, []byte(hex.EncodeToString(priv.Seed())+"\n"), 0o600)
}

func readKeyFile(path string) (ed25519.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("key file %s not found (create one with: homeserver keygen)", path)
		}
		return nil, err
	}
	seed, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil || len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("key file %s: expected %d hex encoded bytes", path, ed25519.SeedSize)
	}
	return ed25519.NewKeyFromSeed(seed), nil
}
