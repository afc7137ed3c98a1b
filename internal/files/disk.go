package files

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	apierrors "bfintake/internal/errors"
	"bfintake/internal/infrastructure"
	"bfintake/pkg/contracts/domain"
)

// tempPrefix marks in-flight writes; List ignores them.
const tempPrefix = ".tmp-"

// DiskStore keeps entries as files under <root>/<stage>/<key>.
type DiskStore struct {
	root   string
	logger *slog.Logger
}

// NewDiskStore creates the stage directories under root.
func NewDiskStore(root string, logger *slog.Logger) (*DiskStore, error) {
	s := &DiskStore{root: root, logger: infrastructure.WithComponent(logger, "disk_store")}
	for _, stage := range domain.Stages {
		if err := os.MkdirAll(s.dir(stage), 0755); err != nil {
			return nil, apierrors.NewStorageError("failed to create stage directory", err)
		}
	}
	return s, nil
}

func (s *DiskStore) dir(stage domain.Stage) string {
	return filepath.Join(s.root, string(stage))
}

// Put writes to a temp file in the stage directory and renames it over the
// target, so readers see either the old or the new content.
func (s *DiskStore) Put(ctx context.Context, stage domain.Stage, key string, r io.Reader) (Object, error) {
	if err := ValidateKey(key); err != nil {
		return Object{}, err
	}
	dir := s.dir(stage)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return Object{}, apierrors.NewStorageError("failed to create directory", err)
	}

	tmp, err := os.CreateTemp(dir, tempPrefix+"*")
	if err != nil {
		return Object{}, apierrors.NewStorageError("failed to create temp file", err)
	}
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	dr := newDigestReader(r)
	if _, err := io.Copy(tmp, ctxReader{ctx: ctx, r: dr}); err != nil {
		if ctx.Err() != nil {
			return Object{}, ctx.Err()
		}
		return Object{}, apierrors.NewStorageError(fmt.Sprintf("failed to write %s", key), err)
	}
	if err := tmp.Sync(); err != nil {
		return Object{}, apierrors.NewStorageError("failed to sync file", err)
	}
	if err := tmp.Close(); err != nil {
		return Object{}, apierrors.NewStorageError("failed to close file", err)
	}

	target := filepath.Join(dir, key)
	if err := os.Rename(tmp.Name(), target); err != nil {
		return Object{}, apierrors.NewStorageError("failed to commit file", err)
	}
	committed = true

	info, err := os.Stat(target)
	if err != nil {
		return Object{}, apierrors.NewStorageError("failed to stat file", err)
	}

	s.logger.DebugContext(ctx, "Writing file",
		slog.String("stage", string(stage)),
		slog.String("path", target),
		slog.Int64("size_bytes", dr.n))

	return Object{Key: key, Size: info.Size(), CreatedAt: info.ModTime().UTC(), Checksum: dr.Sum()}, nil
}

func (s *DiskStore) Open(ctx context.Context, stage domain.Stage, key string) (io.ReadCloser, Object, error) {
	if err := ValidateKey(key); err != nil {
		return nil, Object{}, err
	}
	f, err := os.Open(filepath.Join(s.dir(stage), key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, Object{}, notFound(stage, key)
	}
	if err != nil {
		return nil, Object{}, apierrors.NewStorageError("failed to open file", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, Object{}, apierrors.NewStorageError("failed to stat file", err)
	}
	// Hash through the open handle so the sum matches what the caller reads
	// even if a Put renames a new file over the path meanwhile.
	sum, err := fileChecksum(ctx, f)
	if err != nil {
		f.Close()
		return nil, Object{}, err
	}
	return f, Object{Key: key, Size: info.Size(), CreatedAt: info.ModTime().UTC(), Checksum: sum}, nil
}

func fileChecksum(ctx context.Context, f *os.File) (string, error) {
	dr := newDigestReader(f)
	if _, err := io.Copy(io.Discard, ctxReader{ctx: ctx, r: dr}); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", apierrors.NewStorageError("failed to hash file", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", apierrors.NewStorageError("failed to rewind file", err)
	}
	return dr.Sum(), nil
}

func (s *DiskStore) List(_ context.Context, stage domain.Stage) ([]Object, error) {
	entries, err := os.ReadDir(s.dir(stage))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, apierrors.NewStorageError("failed to list directory", err)
	}

	out := make([]Object, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), tempPrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			continue
		}
		out = append(out, Object{Key: entry.Name(), Size: info.Size(), CreatedAt: info.ModTime().UTC()})
	}
	return out, nil
}

func (s *DiskStore) Delete(ctx context.Context, stage domain.Stage, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	path := filepath.Join(s.dir(stage), key)
	err := os.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		return notFound(stage, key)
	}
	if err != nil {
		return apierrors.NewStorageError("failed to delete file", err)
	}
	s.logger.DebugContext(ctx, "Deleting file", slog.String("path", path))
	return nil
}

func (s *DiskStore) Close() error { return nil }

// ctxReader stops a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
