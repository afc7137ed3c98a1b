package exporter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	apierrors "bfintake/internal/errors"
	"bfintake/internal/infrastructure"
	"bfintake/pkg/contracts/domain"
)

// Metadata is the provenance block embedded in JSON exports.
type Metadata struct {
	SourceFile  string    `json:"source_file"`
	ExportedAt  time.Time `json:"exported_at"`
	RecordCount int       `json:"record_count"`
	MarketCount int       `json:"market_count"`
	Format      Format    `json:"format"`
}

// Document is the JSON export layout.
type Document struct {
	Metadata *Metadata            `json:"metadata,omitempty"`
	Markets  []domain.MarketState `json:"markets"`
}

// Options control a single export.
type Options struct {
	IncludeMetadata bool
	SourceFile      string
	Stats           domain.ReconstructionStats
	// BOM prefixes CSV output with a UTF-8 byte order mark.
	BOM bool
}

// Serializer renders reconstructed markets into export encodings.
type Serializer struct {
	logger *slog.Logger
	now    func() time.Time
}

// NewSerializer creates a Serializer.
func NewSerializer(logger *slog.Logger) *Serializer {
	return &Serializer{logger: infrastructure.WithComponent(logger, "exporter"), now: time.Now}
}

// Serialize produces one blob in the given format. The format is normalised
// through ParseFormat first. Metadata is only embedded in JSON; flat formats
// keep the fixed column set.
func (s *Serializer) Serialize(format Format, markets []domain.MarketState, opts Options) ([]byte, error) {
	format, err := ParseFormat(string(format))
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	switch format {
	case FormatJSON:
		doc := Document{Markets: markets}
		if doc.Markets == nil {
			doc.Markets = []domain.MarketState{}
		}
		if opts.IncludeMetadata {
			doc.Metadata = &Metadata{
				SourceFile:  opts.SourceFile,
				ExportedAt:  s.now().UTC(),
				RecordCount: opts.Stats.Records,
				MarketCount: len(markets),
				Format:      format,
			}
		}
		enc := json.NewEncoder(&buf)
		enc.SetIndent("", "  ")
		if err := enc.Encode(doc); err != nil {
			return nil, fmt.Errorf("failed to encode json: %w", err)
		}

	case FormatCSV:
		if err := WriteCSV(&buf, Flatten(markets), WriteOptions{BOMPrefix: opts.BOM}); err != nil {
			return nil, err
		}

	case FormatParquet:
		if err := WriteParquet(&buf, Flatten(markets)); err != nil {
			return nil, err
		}

	default:
		return nil, apierrors.NewUnsupportedFormatError("export", string(format))
	}

	s.logger.Debug("serialized export",
		slog.String("format", string(format)),
		slog.Int("markets", len(markets)),
		slog.Int("size_bytes", buf.Len()))
	return buf.Bytes(), nil
}

// DecodeRows reads a CSV or Parquet export back into flat rows.
func DecodeRows(format Format, data []byte) ([]Row, error) {
	format, err := ParseFormat(string(format))
	if err != nil {
		return nil, err
	}

	switch format {
	case FormatCSV:
		return ReadCSV(bytes.NewReader(data))
	case FormatParquet:
		return ReadParquet(data)
	case FormatJSON:
		var doc Document
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to decode json export: %w", err)
		}
		return Flatten(doc.Markets), nil
	}
	return nil, apierrors.NewUnsupportedFormatError("export", string(format))
}
