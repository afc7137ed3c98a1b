package exporter

import (
	"strconv"
	"strings"

	apierrors "bfintake/internal/errors"
)

// Format is an export encoding.
type Format string

const (
	FormatJSON    Format = "json"
	FormatCSV     Format = "csv"
	FormatParquet Format = "parquet"
)

// Formats lists every supported encoding.
var Formats = []Format{FormatJSON, FormatCSV, FormatParquet}

// ParseFormat accepts a format name case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatJSON, FormatCSV, FormatParquet:
		return f, nil
	}
	return "", apierrors.NewUnsupportedFormatError("export", s)
}

// Extension is the file suffix for exported artifacts, without the dot.
func (f Format) Extension() string { return string(f) }

// ContentType is the media type served for the format.
func (f Format) ContentType() string {
	switch f {
	case FormatJSON:
		return "application/json"
	case FormatCSV:
		return "text/csv; charset=utf-8"
	case FormatParquet:
		return "application/vnd.apache.parquet"
	}
	return "application/octet-stream"
}

// formatInt formats an int64 value for CSV output
func formatInt(i int64) string {
	return strconv.FormatInt(i, 10)
}
