package archive

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apierrors "bfintake/internal/errors"
	"bfintake/internal/shared/testutil"
)

type unwrapped struct {
	name  string
	path  string
	lines int
}

func collect(t *testing.T, u *Unwrapper, name string, data []byte) ([]unwrapped, error) {
	t.Helper()
	var out []unwrapped
	for m, err := range u.Unwrap(context.Background(), name, bytes.NewReader(data)) {
		if err != nil {
			return out, err
		}
		body, err := io.ReadAll(m.Reader)
		require.NoError(t, err)
		lines := 0
		for _, l := range strings.Split(string(body), "\n") {
			if strings.TrimSpace(l) != "" {
				lines++
			}
		}
		out = append(out, unwrapped{name: m.Name, path: m.Path(), lines: lines})
	}
	return out, nil
}

func TestUnwrap_FormatTransparency(t *testing.T) {
	stream := testutil.Stream(
		testutil.DefinitionLine("1.1", "OPEN", 101, 102),
		testutil.ChangeLine("1.1", 101, "REMOVED"),
		testutil.PriceLine("1.1", 102, 3.5, 120),
	)

	tests := []struct {
		name     string
		filename string
		data     func(t *testing.T) []byte
		wantPath string
	}{
		{"raw", "a.ndjson", func(*testing.T) []byte { return stream }, "raw"},
		{"bzip2", "a.ndjson.bz2", func(t *testing.T) []byte { return testutil.Bzip2(t, stream) }, "bzip2/raw"},
		{"gzip", "a.ndjson.gz", func(t *testing.T) []byte { return testutil.Gzip(t, stream) }, "gzip/raw"},
		{"zip", "a.zip", func(t *testing.T) []byte {
			return testutil.Zip(t, testutil.Member{Name: "a.ndjson", Data: stream})
		}, "zip/raw"},
		{"tar", "a.tar", func(t *testing.T) []byte {
			return testutil.Tar(t, testutil.Member{Name: "a.ndjson", Data: stream})
		}, "tar/raw"},
		{"tar of bzip2", "day.tar", func(t *testing.T) []byte {
			return testutil.Tar(t, testutil.Member{Name: "1.1.bz2", Data: testutil.Bzip2(t, stream)})
		}, "tar/bzip2/raw"},
		{"gzipped tar", "day.tgz", func(t *testing.T) []byte {
			return testutil.Gzip(t, testutil.Tar(t, testutil.Member{Name: "a.ndjson", Data: stream}))
		}, "gzip/tar/raw"},
		{"misleading extension", "a.ndjson", func(t *testing.T) []byte { return testutil.Bzip2(t, stream) }, "bzip2/raw"},
	}

	u := NewUnwrapper(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			members, err := collect(t, u, tt.filename, tt.data(t))
			require.NoError(t, err)
			require.Len(t, members, 1)
			assert.Equal(t, 3, members[0].lines)
			assert.Equal(t, tt.wantPath, members[0].path)
		})
	}
}

func TestUnwrap_MultiMemberOrder(t *testing.T) {
	a := testutil.Stream(testutil.DefinitionLine("1.1", "OPEN", 1))
	b := testutil.Stream(testutil.DefinitionLine("1.2", "OPEN", 1), testutil.DefinitionLine("1.3", "OPEN", 1))

	u := NewUnwrapper(nil)

	t.Run("zip skips directories", func(t *testing.T) {
		data := testutil.Zip(t,
			testutil.Member{Name: "day/", Data: nil},
			testutil.Member{Name: "day/b.ndjson", Data: b},
			testutil.Member{Name: "day/a.ndjson", Data: a},
		)
		members, err := collect(t, u, "day.zip", data)
		require.NoError(t, err)
		require.Len(t, members, 2)
		assert.Equal(t, "day/b.ndjson", members[0].name)
		assert.Equal(t, 2, members[0].lines)
		assert.Equal(t, "day/a.ndjson", members[1].name)
	})

	t.Run("tar skips directories", func(t *testing.T) {
		data := testutil.Tar(t,
			testutil.Member{Name: "day/"},
			testutil.Member{Name: "day/a.ndjson.bz2", Data: testutil.Bzip2(t, a)},
			testutil.Member{Name: "day/b.ndjson", Data: b},
		)
		members, err := collect(t, u, "day.tar", data)
		require.NoError(t, err)
		require.Len(t, members, 2)
		assert.Equal(t, "day/a.ndjson", members[0].name)
		assert.Equal(t, "day/b.ndjson", members[1].name)
	})
}

func TestUnwrap_Errors(t *testing.T) {
	u := NewUnwrapper(nil, WithMaxMemberBytes(1<<20))

	t.Run("unsupported format", func(t *testing.T) {
		_, err := collect(t, u, "report.xlsx", []byte("\x00\x01binary"))
		require.Error(t, err)
		assert.ErrorIs(t, err, apierrors.ErrUnsupportedFormat)
	})

	t.Run("extension fallback to corrupt gzip", func(t *testing.T) {
		_, err := collect(t, u, "a.gz", []byte("not really gzip"))
		require.Error(t, err)
		assert.ErrorIs(t, err, apierrors.ErrCorruptArchive)
	})

	t.Run("truncated zip", func(t *testing.T) {
		data := testutil.Zip(t, testutil.Member{Name: "a.ndjson", Data: []byte("{}\n")})
		_, err := collect(t, u, "a.zip", data[:len(data)-10])
		require.Error(t, err)
		assert.ErrorIs(t, err, apierrors.ErrCorruptArchive)
	})

	t.Run("zip over buffering limit", func(t *testing.T) {
		small := NewUnwrapper(nil, WithMaxMemberBytes(64))
		data := testutil.Zip(t, testutil.Member{Name: "a.ndjson", Data: bytes.Repeat([]byte("{}\n"), 100)})
		_, err := collect(t, small, "a.zip", data)
		assert.ErrorIs(t, err, apierrors.ErrCorruptArchive)
	})

	t.Run("nesting limit", func(t *testing.T) {
		data := []byte("{}\n")
		for i := 0; i < MaxDepth+1; i++ {
			data = testutil.Gzip(t, data)
		}
		_, err := collect(t, u, "deep.gz", data)
		assert.ErrorIs(t, err, apierrors.ErrUnsupportedFormat)
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		for _, err := range u.Unwrap(ctx, "a.ndjson", strings.NewReader("{}\n")) {
			assert.ErrorIs(t, err, context.Canceled)
		}
	})
}

func TestUnwrap_StopEarly(t *testing.T) {
	data := testutil.Tar(t,
		testutil.Member{Name: "a.ndjson", Data: []byte("{}\n")},
		testutil.Member{Name: "b.ndjson", Data: []byte("{}\n")},
	)

	seen := 0
	for _, err := range NewUnwrapper(nil).Unwrap(context.Background(), "x.tar", bytes.NewReader(data)) {
		require.NoError(t, err)
		seen++
		break
	}
	assert.Equal(t, 1, seen)
}

func TestDetect(t *testing.T) {
	tarHead := testutil.Tar(t, testutil.Member{Name: "x", Data: []byte("{}")})

	tests := []struct {
		name string
		file string
		head []byte
		want Format
	}{
		{"bzip2 magic", "x", []byte("BZh91AY&SY"), FormatBzip2},
		{"gzip magic", "x", []byte{0x1f, 0x8b, 0x08}, FormatGzip},
		{"zip magic", "x", []byte("PK\x03\x04rest"), FormatZip},
		{"tar magic", "x", tarHead, FormatTar},
		{"json object", "x", []byte("  {\"op\":\"mcm\"}"), FormatRaw},
		{"bom json", "x", []byte("\xEF\xBB\xBF{}"), FormatRaw},
		{"extension fallback", "x.tbz2", []byte("??"), FormatBzip2},
		{"raw by extension", "x.jsonl", []byte("garbage"), FormatRaw},
		{"unknown", "x.bin", []byte("garbage"), FormatUnknown},
		{"BZh without level is not bzip2", "x", []byte("BZhx"), FormatUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Detect(tt.file, tt.head))
		})
	}
}

func TestInnerName(t *testing.T) {
	assert.Equal(t, "a.ndjson", innerName("a.ndjson.bz2"))
	assert.Equal(t, "x.tar", innerName("x.tgz"))
	assert.Equal(t, "plain", innerName("plain"))
}
