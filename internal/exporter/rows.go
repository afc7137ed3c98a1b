package exporter

import (
	"bfintake/pkg/contracts/domain"
)

// Row is one (market, runner) pair. CSV and Parquet share this column set.
type Row struct {
	MarketID     string `parquet:"market_id" json:"market_id"`
	MarketName   string `parquet:"market_name" json:"market_name"`
	Status       string `parquet:"status,dict" json:"status"`
	RunnerID     int64  `parquet:"runner_id" json:"runner_id"`
	RunnerName   string `parquet:"runner_name" json:"runner_name"`
	RunnerStatus string `parquet:"runner_status,dict" json:"runner_status"`
}

// Columns is the fixed header, in order.
var Columns = []string{"market_id", "market_name", "status", "runner_id", "runner_name", "runner_status"}

// Flatten emits one row per runner, markets and runners in their stored
// order. A market without runners produces no rows.
func Flatten(markets []domain.MarketState) []Row {
	n := 0
	for _, m := range markets {
		n += len(m.Runners)
	}
	rows := make([]Row, 0, n)
	for _, m := range markets {
		for _, r := range m.Runners {
			rows = append(rows, Row{
				MarketID:     m.ID,
				MarketName:   m.Name,
				Status:       string(m.Status),
				RunnerID:     r.ID,
				RunnerName:   r.Name,
				RunnerStatus: r.Status,
			})
		}
	}
	return rows
}

func (r Row) record() []string {
	return []string{r.MarketID, r.MarketName, r.Status, formatInt(r.RunnerID), r.RunnerName, r.RunnerStatus}
}
