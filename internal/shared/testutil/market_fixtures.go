package testutil

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/dsnet/compress/bzip2"
	"github.com/stretchr/testify/require"
)

// Member is one named entry of a fixture archive.
type Member struct {
	Name string
	Data []byte
}

// DefinitionLine renders a flat market definition record with the given
// runners, each named "Runner <id>" and ACTIVE.
func DefinitionLine(marketID, status string, runnerIDs ...int64) string {
	runners := make([]map[string]any, 0, len(runnerIDs))
	for i, id := range runnerIDs {
		runners = append(runners, map[string]any{
			"id":           id,
			"name":         fmt.Sprintf("Runner %d", id),
			"status":       "ACTIVE",
			"sortPriority": i + 1,
		})
	}
	return mustJSON(map[string]any{
		"id": marketID,
		"marketDefinition": map[string]any{
			"name":       "Market " + marketID,
			"eventName":  "Test Event",
			"marketType": "WIN",
			"status":     status,
			"inPlay":     false,
			"marketTime": "2024-03-01T14:30:00.000Z",
			"runners":    runners,
		},
	})
}

// ChangeLine renders a flat change record updating one runner's status.
func ChangeLine(marketID string, runnerID int64, status string) string {
	return mustJSON(map[string]any{
		"id": marketID,
		"rc": []map[string]any{{"id": runnerID, "status": status}},
	})
}

// PriceLine renders a stream envelope carrying a traded price update.
func PriceLine(marketID string, runnerID int64, ltp, tv float64) string {
	return mustJSON(map[string]any{
		"op": "mcm",
		"pt": time.Date(2024, 3, 1, 14, 0, 0, 0, time.UTC).UnixMilli(),
		"mc": []map[string]any{{
			"id": marketID,
			"rc": []map[string]any{{
				"id":  runnerID,
				"ltp": ltp,
				"tv":  tv,
				"trd": [][]float64{{ltp, tv}},
			}},
		}},
	})
}

// Stream joins lines into an NDJSON payload with a trailing newline.
func Stream(lines ...string) []byte {
	return []byte(strings.Join(lines, "\n") + "\n")
}

// Bzip2 compresses data.
func Bzip2(t testing.TB, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := bzip2.NewWriter(&buf, nil)
	require.NoError(t, err)
	_, err = w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

// Gzip compresses data.
func Gzip(t testing.TB, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, err := w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

// Zip builds a zip archive with members in the given order.
func Zip(t testing.TB, members ...Member) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for _, m := range members {
		f, err := w.Create(m.Name)
		require.NoError(t, err)
		_, err = f.Write(m.Data)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

// Tar builds a tar archive. Names ending in "/" become directory entries.
func Tar(t testing.TB, members ...Member) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := tar.NewWriter(&buf)
	for _, m := range members {
		hdr := &tar.Header{Name: m.Name, Mode: 0o644, Size: int64(len(m.Data)), Typeflag: tar.TypeReg}
		if strings.HasSuffix(m.Name, "/") {
			hdr = &tar.Header{Name: m.Name, Mode: 0o755, Typeflag: tar.TypeDir}
		}
		require.NoError(t, w.WriteHeader(hdr))
		if hdr.Typeflag == tar.TypeReg {
			_, err := w.Write(m.Data)
			require.NoError(t, err)
		}
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(b)
}
