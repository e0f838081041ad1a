package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"homeserver/internal/blobstore"
	"homeserver/internal/blobstore/s3"
	"homeserver/internal/config"
	"homeserver/internal/files"
	"homeserver/internal/store"
)

// engine is the opened storage stack shared by serve and the offline
// maintenance commands.
type engine struct {
	store    *store.Store
	backends *blobstore.Registry
	files    *files.Service
}

// openEngine opens the store and backends. A nil newAuthz leaves the file
// service without an authorizer so every write is refused.
func openEngine(ctx context.Context, cfg *config.Config, newAuthz func(*store.Store) files.Authorizer, logger *slog.Logger) (*engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config not initialized")
	}
	if logger == nil {
		logger = slog.Default()
	}

	if err := ensureDataDir(cfg); err != nil {
		return nil, err
	}
	logger.Info("opening database", "path", cfg.DBPath())
	st, err := store.OpenWithOptions(cfg.DBPath(), store.Options{
		Reclaim:        store.ReclaimPolicy(cfg.BlobReclaim),
		CompressInline: cfg.CompressInline,
	})
	if err != nil {
		return nil, err
	}

	backends, err := openBackends(ctx, cfg)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	var authz files.Authorizer
	if newAuthz != nil {
		authz = newAuthz(st)
	}
	svc := files.NewService(st, st, backends, authz, filesConfig(cfg), logger)
	return &engine{store: st, backends: backends, files: svc}, nil
}

func (e *engine) Close() error {
	return e.store.Close()
}

// openBackends registers every backend existing entries may point at. The
// local object directory is always present so switching the default does not
// strand files written earlier.
func openBackends(ctx context.Context, cfg *config.Config) (*blobstore.Registry, error) {
	registry := blobstore.NewRegistry()

	local, err := blobstore.NewLocalBackend(cfg.ObjectsDir())
	if err != nil {
		return nil, fmt.Errorf("open object directory: %w", err)
	}
	if err := registry.Register(local); err != nil {
		return nil, err
	}

	if cfg.Backend == "memory" {
		if err := registry.Register(blobstore.NewMemoryBackend()); err != nil {
			return nil, err
		}
	}

	if cfg.S3.Bucket != "" {
		remote, err := s3.New(ctx, s3.Config{
			Region:          cfg.S3.Region,
			Bucket:          cfg.S3.Bucket,
			Prefix:          cfg.S3.Prefix,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			Endpoint:        cfg.S3.Endpoint,
			UsePathStyle:    cfg.S3.UsePathStyle,
		})
		if err != nil {
			return nil, fmt.Errorf("open s3 backend: %w", err)
		}
		if err := registry.Register(remote); err != nil {
			return nil, err
		}
	}

	if err := registry.SetDefault(cfg.Backend); err != nil {
		return nil, err
	}
	return registry, nil
}

func filesConfig(cfg *config.Config) files.Config {
	return files.Config{
		InlineThreshold:  int64(cfg.InlineThreshold),
		MaxFileSize:      int64(cfg.MaxFileSize),
		ChunkSize:        int(cfg.ChunkSize),
		IngestBuffer:     cfg.IngestBuffer,
		WriteWorkers:     cfg.WriteWorkers,
		ListDefaultLimit: cfg.ListLimit,
		ListMaxLimit:     cfg.ListMaxLimit,
		PendingGrace:     cfg.GCGrace,
	}
}

func ensureDataDir(cfg *config.Config) error {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	return nil
}
