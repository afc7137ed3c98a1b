package files

import (
	"context"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"

	apierrors "bfintake/internal/errors"
	"bfintake/pkg/contracts/domain"
)

// Object is the metadata of one stored entry.
type Object struct {
	Key       string
	Size      int64
	CreatedAt time.Time
	Checksum  string
}

// Store is a keyed byte store partitioned by stage. Implementations must
// return an error matching apierrors.ErrNotFound for absent keys and must
// make Put appear atomic to readers. Exclusion between writers is handled
// by Manager, not by the store.
type Store interface {
	Put(ctx context.Context, stage domain.Stage, key string, r io.Reader) (Object, error)
	Open(ctx context.Context, stage domain.Stage, key string) (io.ReadCloser, Object, error)
	List(ctx context.Context, stage domain.Stage) ([]Object, error)
	Delete(ctx context.Context, stage domain.Stage, key string) error
	Close() error
}

// ValidateKey rejects keys that could escape a stage namespace.
func ValidateKey(key string) error {
	switch {
	case key == "", key == ".", key == "..":
		return apierrors.NewAppValidationError(fmt.Sprintf("invalid file name %q", key))
	case strings.ContainsAny(key, `/\`), strings.ContainsRune(key, 0):
		return apierrors.NewAppValidationError(fmt.Sprintf("file name %q must not contain path separators", key))
	case len(key) > 255:
		return apierrors.NewAppValidationError("file name longer than 255 bytes")
	case strings.HasPrefix(key, tempPrefix):
		// Reserved for in-flight writes, which List hides.
		return apierrors.NewAppValidationError(fmt.Sprintf("file name %q uses the reserved %q prefix", key, tempPrefix))
	}
	return nil
}

func notFound(stage domain.Stage, key string) error {
	return apierrors.NewNotFoundError(fmt.Sprintf("%s file %q", stage, key)).
		WithContext("stage", string(stage)).
		WithContext("filename", key)
}

// newDigest returns the content hasher used for checksums and ETags.
func newDigest() hash.Hash {
	h, _ := blake2b.New256(nil) // only fails for an oversized key
	return h
}

// Checksum returns the hex blake2b-256 digest of data.
func Checksum(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// digestReader hashes and counts everything read through it.
type digestReader struct {
	r io.Reader
	h hash.Hash
	n int64
}

func newDigestReader(r io.Reader) *digestReader {
	return &digestReader{r: r, h: newDigest()}
}

func (d *digestReader) Read(p []byte) (int, error) {
	n, err := d.r.Read(p)
	if n > 0 {
		d.h.Write(p[:n])
		d.n += int64(n)
	}
	return n, err
}

func (d *digestReader) Sum() string {
	return hex.EncodeToString(d.h.Sum(nil))
}
