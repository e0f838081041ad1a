package main

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"homeserver/internal/api"
	"homeserver/internal/auth"
	"homeserver/internal/config"
	"homeserver/internal/models"
)

const urlEnvKey = "HOMESERVER_URL"

// clientFlags are shared by the commands that talk to a running server.
type clientFlags struct {
	listen      string
	url         string
	keyFile     string
	signupToken string
}

func newClientFlags(cfg *config.Config) *clientFlags {
	return &clientFlags{listen: cfg.Listen}
}

func (f *clientFlags) register(cmd *cobra.Command, withSignup bool) {
	cmd.Flags().StringVar(&f.url, "url", "", "server URL (default $"+urlEnvKey+" or the configured listen address)")
	cmd.Flags().StringVar(&f.keyFile, "key", "", "identity key file (default $"+keyFileEnvKey+" or ./"+defaultKeyFile+")")
	if withSignup {
		cmd.Flags().StringVar(&f.signupToken, "signup-token", "", "signup token used when the key is not registered yet")
	}
}

func (f *clientFlags) baseURL() string {
	if strings.TrimSpace(f.url) != "" {
		return f.url
	}
	if env := strings.TrimSpace(os.Getenv(urlEnvKey)); env != "" {
		return env
	}
	return "http://" + f.listen
}

// withSession signs in with the identity key, registering it first when the
// server does not know it, and passes the session-carrying client to fn.
func withSession(ctx context.Context, flags *clientFlags, fn func(*api.Client, models.PublicKey) error) error {
	priv, err := readKeyFile(keyFilePath(flags.keyFile))
	if err != nil {
		return err
	}
	client := api.NewClient(flags.baseURL())
	owner := models.PublicKeyFromEd25519(priv.Public().(ed25519.PublicKey))

	_, err = client.SignIn(ctx, auth.SignAuthToken(priv, time.Now()))
	if api.IsStatus(err, http.StatusNotFound) {
		_, err = client.Signup(ctx, auth.SignAuthToken(priv, time.Now()), flags.signupToken)
	}
	if err != nil {
		return fmt.Errorf("open session for %s: %w", owner, err)
	}
	defer func() { _ = client.SignOut(context.WithoutCancel(ctx)) }()

	return fn(client, owner)
}

// resolveTarget accepts either a path in the caller's own namespace or a
// pubky://<key>/path URL.
func resolveTarget(raw string, flags *clientFlags) (models.PublicKey, string, error) {
	if rest, ok := strings.CutPrefix(raw, "pubky://"); ok {
		key, path, _ := strings.Cut(rest, "/")
		owner, err := models.ParsePublicKey(key)
		if err != nil {
			return "", "", err
		}
		return owner, "/" + path, nil
	}
	priv, err := readKeyFile(keyFilePath(flags.keyFile))
	if err != nil {
		return "", "", err
	}
	return models.PublicKeyFromEd25519(priv.Public().(ed25519.PublicKey)), ownPath(raw), nil
}

func ownPath(raw string) string {
	if !strings.HasPrefix(raw, "/") {
		return "/" + raw
	}
	return raw
}
