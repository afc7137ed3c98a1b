package archive

import (
	"archive/tar"
	"archive/zip"
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"path"
	"strings"

	"github.com/dsnet/compress/bzip2"

	apierrors "bfintake/internal/errors"
	"bfintake/internal/infrastructure"
)

// MaxDepth bounds how many envelopes may be nested, e.g. tar > bz2 > ndjson
// is depth 2.
const MaxDepth = 3

// DefaultMaxMemberBytes bounds in-memory buffering of zip input.
const DefaultMaxMemberBytes int64 = 512 << 20

var errStopped = errors.New("archive: iteration stopped")

// Member is one record-bearing stream found inside an input file. Reader is
// only valid until the iteration advances.
type Member struct {
	Name     string
	Envelope []Format
	Reader   io.Reader
}

// Path renders the envelope chain, e.g. "tar/bzip2/raw".
func (m Member) Path() string {
	parts := make([]string, len(m.Envelope))
	for i, f := range m.Envelope {
		parts[i] = string(f)
	}
	return strings.Join(parts, "/")
}

// Unwrapper turns archives into member streams.
type Unwrapper struct {
	logger         *slog.Logger
	maxMemberBytes int64
}

// Option configures an Unwrapper.
type Option func(*Unwrapper)

// WithMaxMemberBytes bounds zip buffering.
func WithMaxMemberBytes(n int64) Option {
	return func(u *Unwrapper) {
		if n > 0 {
			u.maxMemberBytes = n
		}
	}
}

// NewUnwrapper creates an Unwrapper.
func NewUnwrapper(logger *slog.Logger, opts ...Option) *Unwrapper {
	u := &Unwrapper{
		logger:         infrastructure.WithComponent(logger, "archive"),
		maxMemberBytes: DefaultMaxMemberBytes,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Unwrap yields the members of the file named name in archive listing order.
// Compressed payloads are re-sniffed, so tar-of-bz2 and tar.gz inputs resolve
// to their NDJSON members. Directory entries are skipped.
//
// A failure yields a single (Member{}, err) pair and ends the sequence. The
// error is an UNSUPPORTED_FORMAT or CORRUPT_ARCHIVE AppError, or the context
// error.
func (u *Unwrapper) Unwrap(ctx context.Context, name string, r io.Reader) iter.Seq2[Member, error] {
	return func(yield func(Member, error) bool) {
		err := u.walk(ctx, name, r, nil, func(m Member) bool {
			return yield(m, nil)
		})
		if err != nil && !errors.Is(err, errStopped) {
			yield(Member{}, err)
		}
	}
}

func (u *Unwrapper) walk(ctx context.Context, name string, r io.Reader, chain []Format, emit func(Member) bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	br := bufio.NewReaderSize(r, sniffLen)
	head, err := br.Peek(sniffLen)
	if err != nil && !errors.Is(err, io.EOF) {
		return apierrors.NewCorruptArchiveError(name, err)
	}

	format := Detect(name, head)
	if format == FormatUnknown {
		if len(chain) == 0 {
			return apierrors.NewUnsupportedFormatError(name, strings.TrimPrefix(path.Ext(name), "."))
		}
		// Payloads inside a recognized envelope are taken as records.
		format = FormatRaw
	}
	if format != FormatRaw && len(chain) >= MaxDepth {
		return apierrors.NewUnsupportedFormatError(name, fmt.Sprintf("%s nested deeper than %d", format, MaxDepth))
	}
	chain = append(chain[:len(chain):len(chain)], format)

	u.logger.DebugContext(ctx, "unwrapping",
		slog.String("name", name),
		slog.String("format", string(format)),
		slog.Int("depth", len(chain)))

	switch format {
	case FormatBzip2:
		zr, err := bzip2.NewReader(br, nil)
		if err != nil {
			return apierrors.NewCorruptArchiveError(name, err)
		}
		defer zr.Close()
		return u.walk(ctx, innerName(name), zr, chain, emit)

	case FormatGzip:
		zr, err := gzip.NewReader(br)
		if err != nil {
			return apierrors.NewCorruptArchiveError(name, err)
		}
		defer zr.Close()
		inner := innerName(name)
		if zr.Name != "" {
			inner = zr.Name
		}
		return u.walk(ctx, inner, zr, chain, emit)

	case FormatZip:
		return u.walkZip(ctx, name, br, chain, emit)

	case FormatTar:
		return u.walkTar(ctx, name, br, chain, emit)

	default:
		if !emit(Member{Name: name, Envelope: chain, Reader: br}) {
			return errStopped
		}
		return nil
	}
}

func (u *Unwrapper) walkZip(ctx context.Context, name string, r io.Reader, chain []Format, emit func(Member) bool) error {
	// zip needs random access; buffer up to the configured bound.
	data, err := io.ReadAll(io.LimitReader(r, u.maxMemberBytes+1))
	if err != nil {
		return apierrors.NewCorruptArchiveError(name, err)
	}
	if int64(len(data)) > u.maxMemberBytes {
		return apierrors.NewCorruptArchiveError(name,
			fmt.Errorf("zip exceeds %d byte buffering limit", u.maxMemberBytes))
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return apierrors.NewCorruptArchiveError(name, err)
	}

	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return apierrors.NewCorruptArchiveError(f.Name, err)
		}
		err = u.walk(ctx, f.Name, rc, chain, emit)
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func (u *Unwrapper) walkTar(ctx context.Context, name string, r io.Reader, chain []Format, emit func(Member) bool) error {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return apierrors.NewCorruptArchiveError(name, err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		if err := u.walk(ctx, hdr.Name, tr, chain, emit); err != nil {
			return err
		}
	}
}
