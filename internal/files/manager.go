package files

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	apierrors "bfintake/internal/errors"
	"bfintake/internal/infrastructure"
	"bfintake/pkg/contracts/domain"
)

// DefaultLockTimeout bounds how long a writer waits for a busy key.
const DefaultLockTimeout = 30 * time.Second

// Manager is the file cache: three stages over one Store, with at most one
// writer per (stage, key) at a time.
type Manager struct {
	store       Store
	backend     string
	locks       *KeyedLocker
	lockTimeout time.Duration
	logger      *slog.Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLockTimeout sets how long Acquire waits for a busy key.
func WithLockTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.lockTimeout = d
		}
	}
}

// WithBackendName labels the store in status output.
func WithBackendName(name string) ManagerOption {
	return func(m *Manager) { m.backend = name }
}

// NewManager creates a Manager over store.
func NewManager(store Store, logger *slog.Logger, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:       store,
		backend:     fmt.Sprintf("%T", store),
		locks:       NewKeyedLocker(),
		lockTimeout: DefaultLockTimeout,
		logger:      infrastructure.WithComponent(logger, "file_cache"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Backend names the underlying store.
func (m *Manager) Backend() string { return m.backend }

// Lease is exclusive write access to one (stage, key). Hold it across a
// read-compute-write sequence so concurrent requests for the same file
// cannot interleave.
type Lease struct {
	m       *Manager
	stage   domain.Stage
	key     string
	release func()
}

// Acquire waits up to the lock timeout for exclusive access to key.
func (m *Manager) Acquire(ctx context.Context, stage domain.Stage, key string) (*Lease, error) {
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	lctx, cancel := context.WithTimeout(ctx, m.lockTimeout)
	defer cancel()

	release, err := m.locks.Lock(lctx, lockKey(stage, key))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, apierrors.NewStorageError(
			fmt.Sprintf("%s file %q is busy", stage, key), err).
			WithContext("stage", string(stage))
	}
	return &Lease{m: m, stage: stage, key: key, release: release}, nil
}

// Put replaces the leased entry.
func (l *Lease) Put(ctx context.Context, r io.Reader) (domain.RawFile, error) {
	obj, err := l.m.store.Put(ctx, l.stage, l.key, r)
	if err != nil {
		return domain.RawFile{}, err
	}
	l.m.logger.InfoContext(ctx, "cached file",
		slog.String("stage", string(l.stage)),
		slog.String("filename", l.key),
		slog.Int64("size_bytes", obj.Size))
	return toRawFile(l.stage, obj), nil
}

// Delete removes the leased entry.
func (l *Lease) Delete(ctx context.Context) error {
	return l.m.store.Delete(ctx, l.stage, l.key)
}

// Release gives the key back. It is safe to call more than once.
func (l *Lease) Release() { l.release() }

// Put stores data under key, replacing any existing entry.
func (m *Manager) Put(ctx context.Context, stage domain.Stage, key string, r io.Reader) (domain.RawFile, error) {
	lease, err := m.Acquire(ctx, stage, key)
	if err != nil {
		return domain.RawFile{}, err
	}
	defer lease.Release()
	return lease.Put(ctx, r)
}

// Open streams an entry. Errors match apierrors.ErrNotFound when absent.
func (m *Manager) Open(ctx context.Context, stage domain.Stage, key string) (io.ReadCloser, domain.RawFile, error) {
	if err := ValidateKey(key); err != nil {
		return nil, domain.RawFile{}, err
	}
	rc, obj, err := m.store.Open(ctx, stage, key)
	if err != nil {
		return nil, domain.RawFile{}, err
	}
	return rc, toRawFile(stage, obj), nil
}

// Get reads a whole entry and fills in its checksum.
func (m *Manager) Get(ctx context.Context, stage domain.Stage, key string) ([]byte, domain.RawFile, error) {
	rc, file, err := m.Open(ctx, stage, key)
	if err != nil {
		return nil, domain.RawFile{}, err
	}
	defer rc.Close()

	var buf bytes.Buffer
	if file.SizeBytes > 0 {
		buf.Grow(int(file.SizeBytes))
	}
	if _, err := io.Copy(&buf, rc); err != nil {
		return nil, domain.RawFile{}, apierrors.NewStorageError(fmt.Sprintf("failed to read %s", key), err)
	}
	if file.Checksum == "" {
		file.Checksum = Checksum(buf.Bytes())
	}
	return buf.Bytes(), file, nil
}

// List returns a stage's entries, newest first.
func (m *Manager) List(ctx context.Context, stage domain.Stage) ([]domain.RawFile, error) {
	objs, err := m.store.List(ctx, stage)
	if err != nil {
		return nil, err
	}
	out := make([]domain.RawFile, 0, len(objs))
	for _, o := range objs {
		out = append(out, toRawFile(stage, o))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].Filename < out[j].Filename
	})
	return out, nil
}

// Delete removes one entry.
func (m *Manager) Delete(ctx context.Context, stage domain.Stage, key string) error {
	lease, err := m.Acquire(ctx, stage, key)
	if err != nil {
		return err
	}
	defer lease.Release()
	return lease.Delete(ctx)
}

// Clear removes every entry of a stage, taking each key's lock in turn so
// in-flight writes finish first. Entries that vanish concurrently are not
// counted.
func (m *Manager) Clear(ctx context.Context, stage domain.Stage) (domain.ClearResult, error) {
	result := domain.ClearResult{Stage: stage}
	objs, err := m.store.List(ctx, stage)
	if err != nil {
		return result, err
	}

	for _, o := range objs {
		err := m.Delete(ctx, stage, o.Key)
		switch {
		case err == nil:
			result.RemovedCount++
			result.RemovedBytes += o.Size
		case errors.Is(err, apierrors.ErrNotFound):
		default:
			return result, fmt.Errorf("clear %s: %w", stage, err)
		}
	}

	m.logger.InfoContext(ctx, "cleared stage",
		slog.String("stage", string(stage)),
		slog.Int("removed_count", result.RemovedCount),
		slog.Int64("removed_bytes", result.RemovedBytes))
	return result, nil
}

// Status computes per-stage counts and sizes from the current entries.
func (m *Manager) Status(ctx context.Context) (domain.CacheStatus, error) {
	status := make(domain.CacheStatus, len(domain.Stages))
	for _, stage := range domain.Stages {
		objs, err := m.store.List(ctx, stage)
		if err != nil {
			return nil, err
		}
		var st domain.StageStatus
		for _, o := range objs {
			st.Count++
			st.TotalSizeBytes += o.Size
		}
		st.SizeMB = domain.BytesToMB(st.TotalSizeBytes)
		status[stage] = st
	}
	return status, nil
}

// Close closes the underlying store.
func (m *Manager) Close() error {
	return m.store.Close()
}

func lockKey(stage domain.Stage, key string) string {
	return string(stage) + "/" + key
}

func toRawFile(stage domain.Stage, o Object) domain.RawFile {
	return domain.RawFile{
		Filename:  o.Key,
		Stage:     stage,
		SizeBytes: o.Size,
		SizeMB:    domain.BytesToMB(o.Size),
		CreatedAt: o.CreatedAt,
		Checksum:  o.Checksum,
	}
}
