package files

import (
	"context"
	"fmt"
	"log/slog"

	"bfintake/internal/config"
	apierrors "bfintake/internal/errors"
)

// OpenManager builds the store selected by cfg and wraps it in a Manager.
func OpenManager(ctx context.Context, cfg config.StorageConfig, pipeline config.PipelineConfig, logger *slog.Logger) (*Manager, error) {
	var (
		store Store
		err   error
	)
	switch cfg.Backend {
	case config.BackendMemory:
		store = NewMemoryStore()
	case config.BackendDisk:
		store, err = NewDiskStore(cfg.DataDir, logger)
	case config.BackendSQLite:
		store, err = NewSQLiteStore(cfg.SQLitePath)
	case config.BackendGCS:
		store, err = NewGCSStore(ctx, GCSConfig{
			Bucket:          cfg.GCSBucket,
			Endpoint:        cfg.GCSEndpoint,
			CredentialsFile: cfg.GCSCredentialsFile,
		})
	default:
		return nil, apierrors.NewConfigError(fmt.Sprintf("unknown storage backend %q", cfg.Backend), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Backend, err)
	}

	return NewManager(store, logger,
		WithBackendName(cfg.Backend),
		WithLockTimeout(pipeline.LockTimeout)), nil
}
