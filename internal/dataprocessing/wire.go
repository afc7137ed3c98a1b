package dataprocessing

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// flexString accepts a JSON string or number. Market ids are strings in the
// stream but some exports write them as numbers.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// optDecimal is a price or volume that may be absent, null or a non-finite
// marker such as "NaN", all of which read as unset.
type optDecimal struct {
	d *decimal.Decimal
}

func (o *optDecimal) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	switch strings.ToLower(s) {
	case "", "null", "nan", "infinity", "-infinity", "inf", "-inf":
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return err
	}
	o.d = &d
	return nil
}

// wireRecord is the union of the shapes a line may take: a stream envelope
// carrying mc, or a flat record keyed by id or marketId.
type wireRecord struct {
	Op string       `json:"op"`
	PT *int64       `json:"pt"`
	MC []wireMarket `json:"mc"`

	ID               flexString      `json:"id"`
	MarketID         flexString      `json:"marketId"`
	MarketDefinition *wireDefinition `json:"marketDefinition"`
	RC               []wireRunnerChg `json:"rc"`
}

type wireMarket struct {
	ID               flexString      `json:"id"`
	MarketDefinition *wireDefinition `json:"marketDefinition"`
	RC               []wireRunnerChg `json:"rc"`
}

type wireDefinition struct {
	Name        string          `json:"name"`
	EventName   string          `json:"eventName"`
	EventTypeID flexString      `json:"eventTypeId"`
	MarketType  string          `json:"marketType"`
	Venue       string          `json:"venue"`
	CountryCode string          `json:"countryCode"`
	MarketTime  *time.Time      `json:"marketTime"`
	Status      string          `json:"status"`
	InPlay      *bool           `json:"inPlay"`
	Runners     []wireRunnerDef `json:"runners"`
}

type wireRunnerDef struct {
	ID           int64      `json:"id"`
	Name         string     `json:"name"`
	Status       string     `json:"status"`
	SortPriority int        `json:"sortPriority"`
	BSP          optDecimal `json:"bsp"`
}

type wireRunnerChg struct {
	ID     int64           `json:"id"`
	Status string          `json:"status"`
	LTP    optDecimal      `json:"ltp"`
	TV     optDecimal      `json:"tv"`
	TRD    [][2]optDecimal `json:"trd"`
}

// markets normalizes both record shapes to a list of market payloads.
func (w *wireRecord) markets() []wireMarket {
	if len(w.MC) > 0 {
		return w.MC
	}
	id := w.MarketID
	if id == "" {
		id = w.ID
	}
	if w.MarketDefinition == nil && len(w.RC) == 0 {
		return nil
	}
	return []wireMarket{{ID: id, MarketDefinition: w.MarketDefinition, RC: w.RC}}
}

func (w *wireRecord) publishTime() *time.Time {
	if w.PT == nil {
		return nil
	}
	t := time.UnixMilli(*w.PT).UTC()
	return &t
}
