package exporter

import (
	"bytes"
	"encoding/csv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteCSV_SpecialCharacters(t *testing.T) {
	rows := []Row{
		{MarketID: "1.1", MarketName: "Ascot, 2m Hcap", Status: "active", RunnerID: 101, RunnerName: `Say "When"`, RunnerStatus: "active"},
		{MarketID: "1.1", MarketName: "Ascot, 2m Hcap", Status: "active", RunnerID: 102, RunnerName: "Multi\nLine", RunnerStatus: "removed"},
		{MarketID: "1.2", MarketName: "Ñandú Stakes", Status: "closed", RunnerID: 7, RunnerName: "Élan", RunnerStatus: "winner"},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, rows, WriteOptions{BOMPrefix: true}))
	require.True(t, bytes.HasPrefix(buf.Bytes(), utf8BOM))

	records, err := csv.NewReader(bytes.NewReader(buf.Bytes()[3:])).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4) // header + 3 rows
	assert.Equal(t, Columns, records[0])
	assert.Equal(t, "Ascot, 2m Hcap", records[1][1])
	assert.Equal(t, `Say "When"`, records[1][4])
	assert.Equal(t, "Multi\nLine", records[2][4])
	assert.Equal(t, "Ñandú Stakes", records[3][1])

	back, err := ReadCSV(&buf)
	require.NoError(t, err)
	assert.Equal(t, rows, back)
}

func TestWriteCSV_HeaderOnlyWhenEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, nil, WriteOptions{}))
	assert.Equal(t, strings.Join(Columns, ",")+"\n", buf.String())

	rows, err := ReadCSV(&buf)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestReadCSV_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"wrong header", "a,b,c,d,e,f\n"},
		{"short record", strings.Join(Columns, ",") + "\n1.1,x\n"},
		{"bad runner id", strings.Join(Columns, ",") + "\n1.1,x,active,abc,y,active\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadCSV(strings.NewReader(tt.input))
			assert.Error(t, err)
		})
	}
}

func TestStreamWriter_CountsRows(t *testing.T) {
	var buf bytes.Buffer
	sw, err := NewStreamWriter(&buf, WriteOptions{})
	require.NoError(t, err)
	for i := 0; i < 1000; i++ {
		require.NoError(t, sw.WriteRow(Row{MarketID: "1.1", RunnerID: int64(i)}))
	}
	require.NoError(t, sw.Close())
	assert.Equal(t, 1000, sw.rows)

	rows, err := ReadCSV(&buf)
	require.NoError(t, err)
	assert.Len(t, rows, 1000)
	assert.Equal(t, int64(999), rows[999].RunnerID)
}
