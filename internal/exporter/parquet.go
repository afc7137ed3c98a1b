package exporter

import (
	"bytes"
	"fmt"
	"io"

	"github.com/parquet-go/parquet-go"
)

// WriteParquet renders rows as a snappy-compressed Parquet file.
func WriteParquet(w io.Writer, rows []Row) error {
	if err := parquet.Write(w, rows, parquet.Compression(&parquet.Snappy)); err != nil {
		return fmt.Errorf("failed to write parquet: %w", err)
	}
	return nil
}

// ReadParquet decodes a Parquet export back into rows.
func ReadParquet(data []byte) ([]Row, error) {
	rows, err := parquet.Read[Row](bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to read parquet: %w", err)
	}
	return rows, nil
}
