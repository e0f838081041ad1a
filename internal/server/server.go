package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"homeserver/internal/auth"
	"homeserver/internal/files"
	"homeserver/internal/store"
)

const (
	allowRemoteEnvKey  = "HOMESERVER_ALLOW_REMOTE"
	readHeaderTimeout  = 5 * time.Second
	idleTimeout        = 60 * time.Second
	shutdownTimeout    = 15 * time.Second
	defaultSessionTTL  = 24 * time.Hour
	defaultIOTimeout   = 10 * time.Minute
	authMaxFailures    = 5
	authFailureWindow  = time.Minute
	authBlockDuration  = 5 * time.Minute
	maxAuthTokenBody   = 1024
	SignupModeOpen     = "open"
	SignupModeRequired = "token_required"
)

// Config holds the HTTP surface settings.
type Config struct {
	Addr            string
	SignupMode      string
	SessionTTL      time.Duration
	AuthTokenWindow time.Duration
	// ReadTimeout and WriteTimeout bound a whole request, uploads and
	// downloads included.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func (c Config) normalize() Config {
	if c.SignupMode == "" {
		c.SignupMode = SignupModeOpen
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = defaultSessionTTL
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = defaultIOTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultIOTimeout
	}
	return c
}

// Server wraps HTTP handlers for the homeserver API.
type Server struct {
	cfg         Config
	files       *files.Service
	auth        store.AuthStore
	verifier    *auth.Verifier
	authLimiter *authRateLimiter
	logger      *slog.Logger
	now         func() time.Time
}

// New creates a new server instance.
func New(cfg Config, fileService *files.Service, authStore store.AuthStore, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.normalize()
	return &Server{
		cfg:         cfg,
		files:       fileService,
		auth:        authStore,
		verifier:    auth.NewVerifier(cfg.AuthTokenWindow),
		authLimiter: newAuthRateLimiter(authMaxFailures, authFailureWindow, authBlockDuration),
		logger:      logger,
		now:         time.Now,
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.routes()
}

// ListenAndServe serves until ctx is cancelled, then drains in-flight
// requests.
func (s *Server) ListenAndServe(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       idleTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.log().Info("starting server", "addr", s.cfg.Addr, "signup_mode", s.cfg.SignupMode)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log().Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ListenAddr validates a listen address. Non-loopback hosts need an
// explicit opt-in.
func ListenAddr(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "", fmt.Errorf("listen address is required")
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return "", fmt.Errorf("invalid listen address %q: %w", addr, err)
	}
	if !isAllowedListenHost(host) {
		return "", fmt.Errorf("remote listen host %q requires %s=true", host, allowRemoteEnvKey)
	}
	return addr, nil
}

func isAllowedListenHost(host string) bool {
	if strings.EqualFold(strings.TrimSpace(os.Getenv(allowRemoteEnvKey)), "true") {
		return true
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func (s *Server) log() *slog.Logger {
	if s != nil && s.logger != nil {
		return s.logger
	}
	return slog.Default()
}
