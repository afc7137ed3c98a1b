package archive

import (
	"bytes"
	"path"
	"strings"
)

// Format is a container or compression envelope.
type Format string

const (
	FormatUnknown Format = ""
	FormatBzip2   Format = "bzip2"
	FormatGzip    Format = "gzip"
	FormatZip     Format = "zip"
	FormatTar     Format = "tar"
	FormatRaw     Format = "raw"
)

// sniffLen covers the tar magic at offset 257.
const sniffLen = 512

var (
	magicBzip2    = []byte("BZh")
	magicGzip     = []byte{0x1f, 0x8b}
	magicZip      = []byte("PK\x03\x04")
	magicZipEmpty = []byte("PK\x05\x06")
	magicTar      = []byte("ustar")
	utf8BOM       = []byte{0xEF, 0xBB, 0xBF}
)

// Sniff detects a format from leading bytes, in precedence order
// bzip2, gzip, zip, tar, raw. Raw is recognized when the first
// non-whitespace byte opens a JSON value.
func Sniff(head []byte) Format {
	switch {
	case len(head) >= 4 && bytes.HasPrefix(head, magicBzip2) && head[3] >= '1' && head[3] <= '9':
		return FormatBzip2
	case bytes.HasPrefix(head, magicGzip):
		return FormatGzip
	case bytes.HasPrefix(head, magicZip), bytes.HasPrefix(head, magicZipEmpty):
		return FormatZip
	case len(head) >= 262 && bytes.Equal(head[257:262], magicTar):
		return FormatTar
	}

	trimmed := bytes.TrimLeft(bytes.TrimPrefix(head, utf8BOM), " \t\r\n")
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
		return FormatRaw
	}
	return FormatUnknown
}

// FormatFromExtension maps a filename's final extension to a format.
func FormatFromExtension(name string) Format {
	switch strings.ToLower(path.Ext(name)) {
	case ".bz2", ".bz", ".tbz", ".tbz2":
		return FormatBzip2
	case ".gz", ".gzip", ".tgz":
		return FormatGzip
	case ".zip":
		return FormatZip
	case ".tar":
		return FormatTar
	case ".json", ".ndjson", ".jsonl", ".txt":
		return FormatRaw
	}
	return FormatUnknown
}

// Detect prefers content over the filename.
func Detect(name string, head []byte) Format {
	if f := Sniff(head); f != FormatUnknown {
		return f
	}
	return FormatFromExtension(name)
}

// innerName strips a compression extension so the decompressed payload keeps
// a meaningful name: "a.ndjson.bz2" -> "a.ndjson", "x.tgz" -> "x.tar".
func innerName(name string) string {
	ext := path.Ext(name)
	switch strings.ToLower(ext) {
	case ".tgz", ".tbz", ".tbz2":
		return strings.TrimSuffix(name, ext) + ".tar"
	case ".bz2", ".bz", ".gz", ".gzip":
		return strings.TrimSuffix(name, ext)
	}
	return name
}
