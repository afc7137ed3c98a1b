package main

import (
	"bytes"
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bfintake/internal/exporter"
	fixtures "bfintake/internal/shared/testutil"
)

func writeInput(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, data, 0o644))
	return p
}

func TestParseFlags(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"no inputs", []string{"-format", "csv"}, "no input files"},
		{"empty format", []string{"-format", " , ", "a.bz2"}, "at least one -format"},
		{"bad cache", []string{"-cache", "gcs", "a.bz2"}, "unsupported -cache"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseFlags(tt.args, &bytes.Buffer{})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	opts, err := parseFlags([]string{"-format", "json, csv", "-metadata", "a.bz2"}, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, []string{"json", "csv"}, opts.formats)
	assert.True(t, opts.metadata)
	assert.Equal(t, []string{"a.bz2"}, opts.inputs)
}

func TestParseFlagsVersion(t *testing.T) {
	var stderr bytes.Buffer
	_, err := parseFlags([]string{"-version"}, &stderr)
	assert.ErrorIs(t, err, flag.ErrHelp)
	assert.Contains(t, stderr.String(), "Betfair Intake Pipeline")
}

func TestRunExportsEveryFormat(t *testing.T) {
	in := t.TempDir()
	out := filepath.Join(t.TempDir(), "exports")
	input := writeInput(t, in, "race.ndjson.bz2", fixtures.Bzip2(t, fixtures.Stream(
		fixtures.DefinitionLine("1.1", "OPEN", 101, 102),
		fixtures.ChangeLine("1.1", 101, "REMOVED"),
	)))

	var stdout bytes.Buffer
	err := run(t.Context(), []string{"-out", out, "-format", "json,csv,parquet", input}, &stdout, &bytes.Buffer{})
	require.NoError(t, err, stdout.String())

	assert.Contains(t, stdout.String(), "OK    parse   race.ndjson.bz2: 1 markets")
	for _, ext := range []string{"json", "csv", "parquet"} {
		assert.FileExists(t, filepath.Join(out, "race.ndjson.bz2."+ext))
	}

	f, err := os.Open(filepath.Join(out, "race.ndjson.bz2.csv"))
	require.NoError(t, err)
	defer f.Close()
	rows, err := exporter.ReadCSV(f)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "1.1", rows[0].MarketID)
}

func TestRunReportsPartialFailure(t *testing.T) {
	in := t.TempDir()
	out := t.TempDir()
	good := writeInput(t, in, "good.ndjson", fixtures.Stream(fixtures.DefinitionLine("1.1", "OPEN", 1)))
	bad := writeInput(t, in, "bad.zip", []byte("this is not a zip archive"))

	var stdout bytes.Buffer
	err := run(t.Context(), []string{"-out", out, "-format", "csv", good, bad}, &stdout, &bytes.Buffer{})
	require.Error(t, err)

	assert.Contains(t, stdout.String(), "FAIL  parse   bad.zip")
	assert.FileExists(t, filepath.Join(out, "good.ndjson.csv"))
	assert.NoFileExists(t, filepath.Join(out, "bad.zip.csv"))
}

func TestRunExpandsDirectories(t *testing.T) {
	in := t.TempDir()
	out := t.TempDir()
	writeInput(t, in, "a.ndjson", fixtures.Stream(fixtures.DefinitionLine("1.1", "OPEN", 1)))
	writeInput(t, in, "b.ndjson", fixtures.Stream(fixtures.DefinitionLine("1.2", "OPEN", 2)))

	var stdout bytes.Buffer
	require.NoError(t, run(t.Context(), []string{"-out", out, "-format", "csv", in}, &stdout, &bytes.Buffer{}))
	assert.FileExists(t, filepath.Join(out, "a.ndjson.csv"))
	assert.FileExists(t, filepath.Join(out, "b.ndjson.csv"))
}

func TestRunRejectsDuplicateKeys(t *testing.T) {
	x := writeInput(t, t.TempDir(), "a.ndjson", []byte("{}\n"))
	y := writeInput(t, t.TempDir(), "a.ndjson", []byte("{}\n"))

	err := run(t.Context(), []string{"-out", t.TempDir(), x, y}, &bytes.Buffer{}, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "share the cache key")
}

func TestRunUnsupportedFormat(t *testing.T) {
	in := t.TempDir()
	input := writeInput(t, in, "a.ndjson", fixtures.Stream(fixtures.DefinitionLine("1.1", "OPEN", 1)))

	var stdout bytes.Buffer
	err := run(t.Context(), []string{"-out", t.TempDir(), "-format", "xlsx", input}, &stdout, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, stdout.String(), "FAIL  export  a.ndjson (xlsx)")
}

func TestRunDiskCache(t *testing.T) {
	in := t.TempDir()
	cacheDir := t.TempDir()
	input := writeInput(t, in, "a.ndjson.gz", fixtures.Gzip(t, fixtures.Stream(fixtures.DefinitionLine("1.1", "OPEN", 1))))

	err := run(t.Context(), []string{"-cache", "disk", "-data-dir", cacheDir, "-out", t.TempDir(), input}, &bytes.Buffer{}, &bytes.Buffer{})
	require.NoError(t, err)

	entries, err := os.ReadDir(cacheDir)
	require.NoError(t, err)
	assert.NotEmpty(t, entries)
}
