package exporter

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// WriteOptions configures CSV writing behavior
type WriteOptions struct {
	BOMPrefix bool // Add UTF-8 BOM for Excel compatibility
}

// StreamWriter writes rows one at a time.
type StreamWriter struct {
	writer *csv.Writer
	rows   int
}

// NewStreamWriter writes the optional BOM and the header to w.
func NewStreamWriter(w io.Writer, options WriteOptions) (*StreamWriter, error) {
	if options.BOMPrefix {
		if _, err := w.Write(utf8BOM); err != nil {
			return nil, fmt.Errorf("failed to write BOM: %w", err)
		}
	}
	writer := csv.NewWriter(w)
	if err := writer.Write(Columns); err != nil {
		return nil, fmt.Errorf("failed to write headers: %w", err)
	}
	return &StreamWriter{writer: writer}, nil
}

// WriteRow writes a single row to the stream
func (s *StreamWriter) WriteRow(r Row) error {
	if err := s.writer.Write(r.record()); err != nil {
		return fmt.Errorf("failed to write record %d: %w", s.rows, err)
	}
	s.rows++
	return nil
}

// Close flushes the stream writer
func (s *StreamWriter) Close() error {
	s.writer.Flush()
	return s.writer.Error()
}

// WriteCSV renders rows with the fixed header.
func WriteCSV(w io.Writer, rows []Row, options WriteOptions) error {
	sw, err := NewStreamWriter(w, options)
	if err != nil {
		return err
	}
	for _, r := range rows {
		if err := sw.WriteRow(r); err != nil {
			return err
		}
	}
	return sw.Close()
}

// ReadCSV parses a CSV export back into rows. A leading BOM is ignored and
// the header must match Columns exactly.
func ReadCSV(r io.Reader) ([]Row, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	reader := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(data, utf8BOM)))
	reader.FieldsPerRecord = len(Columns)

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("csv export has no header")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	if !slices.Equal(header, Columns) {
		return nil, fmt.Errorf("unexpected csv header %v", header)
	}

	var rows []Row
	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read record %d: %w", len(rows), err)
		}
		id, err := strconv.ParseInt(rec[3], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("record %d: invalid runner_id %q: %w", len(rows), rec[3], err)
		}
		rows = append(rows, Row{
			MarketID:     rec[0],
			MarketName:   rec[1],
			Status:       rec[2],
			RunnerID:     id,
			RunnerName:   rec[4],
			RunnerStatus: rec[5],
		})
	}
}
