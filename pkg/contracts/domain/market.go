package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// MarketStatus is the lifecycle state of a market as last reported by a
// definition event.
type MarketStatus string

const (
	MarketStatusInactive  MarketStatus = "inactive"
	MarketStatusActive    MarketStatus = "active"
	MarketStatusSuspended MarketStatus = "suspended"
	MarketStatusClosed    MarketStatus = "closed"
)

// ParseMarketStatus maps the exchange's status vocabulary onto MarketStatus.
// OPEN is reported by the stream for a live market. Unknown values map to
// inactive so a market never carries a status outside the enum.
func ParseMarketStatus(s string) MarketStatus {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "OPEN", "ACTIVE":
		return MarketStatusActive
	case "SUSPENDED":
		return MarketStatusSuspended
	case "CLOSED", "COMPLETE", "SETTLED":
		return MarketStatusClosed
	default:
		return MarketStatusInactive
	}
}

// PriceVolume is one level of a traded ladder.
type PriceVolume struct {
	Price  decimal.Decimal `json:"price"`
	Volume decimal.Decimal `json:"volume"`
}

// Runner is a single selection within a market.
type Runner struct {
	ID           int64            `json:"id" validate:"required"`
	Name         string           `json:"name"`
	Status       string           `json:"status"`
	SortPriority int              `json:"sort_priority,omitempty"`
	LastTraded   *decimal.Decimal `json:"ltp,omitempty"`
	TradedVolume *decimal.Decimal `json:"tv,omitempty"`
	BSP          *decimal.Decimal `json:"bsp,omitempty"`
	Traded       []PriceVolume    `json:"trd,omitempty"`
	Changes      int              `json:"changes"`
}

// MarketState is the reconstructed view of one market after folding every
// event for it, in arrival order.
type MarketState struct {
	ID             string       `json:"market_id" validate:"required"`
	Name           string       `json:"market_name"`
	EventName      string       `json:"event_name,omitempty"`
	EventTypeID    string       `json:"event_type_id,omitempty"`
	MarketType     string       `json:"market_type,omitempty"`
	Venue          string       `json:"venue,omitempty"`
	CountryCode    string       `json:"country_code,omitempty"`
	StartTime      *time.Time   `json:"start_time,omitempty"`
	Status         MarketStatus `json:"status"`
	InPlay         bool         `json:"in_play"`
	Runners        []Runner     `json:"runners"`
	RecordsFolded  int          `json:"records_folded"`
	LastEventIndex int          `json:"last_event_index"`
}

// Runner returns a pointer to the runner with the given id, or nil.
func (m *MarketState) Runner(id int64) *Runner {
	for i := range m.Runners {
		if m.Runners[i].ID == id {
			return &m.Runners[i]
		}
	}
	return nil
}

// ReconstructionStats are the aggregate counters of one fold.
type ReconstructionStats struct {
	Records      int `json:"records"`
	Markets      int `json:"markets"`
	Definitions  int `json:"definitions"`
	Changes      int `json:"changes"`
	Skipped      int `json:"skipped"`
	Malformed    int `json:"malformed"`
	Unrecognized int `json:"unrecognized"`
	Orphaned     int `json:"orphaned"`
}

// ParsedDocument is the blob stored in the parsed stage for one input file.
type ParsedDocument struct {
	Source   string              `json:"source"`
	ParsedAt time.Time           `json:"parsed_at"`
	Members  []string            `json:"members"`
	Stats    ReconstructionStats `json:"stats"`
	Markets  []MarketState       `json:"markets"`
}
