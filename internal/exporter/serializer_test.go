package exporter

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apierrors "bfintake/internal/errors"
	"bfintake/pkg/contracts/domain"
)

func sampleMarkets() []domain.MarketState {
	ltp := decimal.RequireFromString("3.45")
	start := time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)
	return []domain.MarketState{
		{
			ID:        "1.1",
			Name:      "2m Hcap",
			Status:    domain.MarketStatusActive,
			StartTime: &start,
			Runners: []domain.Runner{
				{ID: 101, Name: "Alpha", Status: "removed"},
				{ID: 102, Name: "Bravo, the Second", Status: "active", LastTraded: &ltp,
					Traded: []domain.PriceVolume{{Price: ltp, Volume: decimal.NewFromInt(20)}}},
			},
			RecordsFolded: 2,
		},
		{ID: "1.2", Name: "Empty", Status: domain.MarketStatusInactive},
		{
			ID:      "1.3",
			Name:    "Sprint",
			Status:  domain.MarketStatusClosed,
			Runners: []domain.Runner{{ID: 7, Name: "Charlie", Status: "winner"}},
		},
	}
}

func TestParseFormat(t *testing.T) {
	for _, in := range []string{"json", "CSV", " parquet "} {
		_, err := ParseFormat(in)
		assert.NoError(t, err, in)
	}
	_, err := ParseFormat("xlsx")
	assert.ErrorIs(t, err, apierrors.ErrUnsupportedFormat)

	assert.Equal(t, "text/csv; charset=utf-8", FormatCSV.ContentType())
	assert.Equal(t, "parquet", FormatParquet.Extension())
}

func TestFlatten(t *testing.T) {
	rows := Flatten(sampleMarkets())
	require.Len(t, rows, 3, "one row per runner; runnerless markets emit nothing")
	assert.Equal(t, Row{MarketID: "1.1", MarketName: "2m Hcap", Status: "active", RunnerID: 101, RunnerName: "Alpha", RunnerStatus: "removed"}, rows[0])
	assert.Equal(t, "1.3", rows[2].MarketID)
}

func TestSerialize_CSVParquetRoundTrip(t *testing.T) {
	s := NewSerializer(nil)
	markets := sampleMarkets()

	csvData, err := s.Serialize(FormatCSV, markets, Options{})
	require.NoError(t, err)
	pqData, err := s.Serialize(FormatParquet, markets, Options{})
	require.NoError(t, err)

	csvRows, err := DecodeRows(FormatCSV, csvData)
	require.NoError(t, err)
	pqRows, err := DecodeRows(FormatParquet, pqData)
	require.NoError(t, err)

	assert.Equal(t, Flatten(markets), csvRows)
	assert.Equal(t, csvRows, pqRows)
}

func TestSerialize_JSON(t *testing.T) {
	s := NewSerializer(nil)
	s.now = func() time.Time { return time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC) }
	markets := sampleMarkets()

	t.Run("with metadata", func(t *testing.T) {
		data, err := s.Serialize(FormatJSON, markets, Options{
			IncludeMetadata: true,
			SourceFile:      "a.ndjson.bz2",
			Stats:           domain.ReconstructionStats{Records: 9},
		})
		require.NoError(t, err)

		var doc Document
		require.NoError(t, json.Unmarshal(data, &doc))
		require.NotNil(t, doc.Metadata)
		assert.Equal(t, "a.ndjson.bz2", doc.Metadata.SourceFile)
		assert.Equal(t, 9, doc.Metadata.RecordCount)
		assert.Equal(t, 3, doc.Metadata.MarketCount)
		assert.Equal(t, s.now(), doc.Metadata.ExportedAt)

		require.Len(t, doc.Markets, 3)
		r := doc.Markets[0].Runner(102)
		require.NotNil(t, r)
		assert.True(t, r.LastTraded.Equal(decimal.RequireFromString("3.45")), "prices keep full precision")
		require.Len(t, r.Traded, 1)
	})

	t.Run("without metadata", func(t *testing.T) {
		data, err := s.Serialize(FormatJSON, nil, Options{})
		require.NoError(t, err)

		var raw map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(data, &raw))
		assert.NotContains(t, raw, "metadata")
		assert.JSONEq(t, "[]", string(raw["markets"]))
	})
}

func TestSerialize_Unsupported(t *testing.T) {
	_, err := NewSerializer(nil).Serialize(Format("xml"), sampleMarkets(), Options{})
	assert.ErrorIs(t, err, apierrors.ErrUnsupportedFormat)

	_, err = DecodeRows(Format("xml"), nil)
	assert.ErrorIs(t, err, apierrors.ErrUnsupportedFormat)
}

func TestSerialize_NormalisesFormat(t *testing.T) {
	s := NewSerializer(nil)
	want, err := s.Serialize(FormatCSV, sampleMarkets(), Options{})
	require.NoError(t, err)

	for _, f := range []Format{"CSV", " csv ", "Csv"} {
		got, err := s.Serialize(f, sampleMarkets(), Options{})
		require.NoError(t, err, f)
		require.NotEmpty(t, got, f)
		assert.Equal(t, want, got, f)

		rows, err := DecodeRows(f, got)
		require.NoError(t, err, f)
		assert.Equal(t, Flatten(sampleMarkets()), rows, f)
	}

	data, err := s.Serialize(Format(" JSON"), sampleMarkets(), Options{IncludeMetadata: true})
	require.NoError(t, err)
	var doc Document
	require.NoError(t, json.Unmarshal(data, &doc))
	require.NotNil(t, doc.Metadata)
	assert.Equal(t, FormatJSON, doc.Metadata.Format)
}
