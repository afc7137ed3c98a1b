package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventKind discriminates the Event variants.
type EventKind string

const (
	EventKindDefinition   EventKind = "market_definition"
	EventKindChange       EventKind = "market_change"
	EventKindUnrecognized EventKind = "unrecognized"
)

// Event is one decoded record of a market stream. The set of variants is
// closed: MarketDefinitionEvent, MarketChangeEvent and UnrecognizedEvent.
type Event interface {
	Kind() EventKind
	// MarketID is empty for unrecognized records.
	MarketID() string
	// Index is the zero-based arrival position within its stream.
	Index() int
	isEvent()
}

// RunnerDefinition is a runner as described by a definition payload.
type RunnerDefinition struct {
	ID           int64
	Name         string
	Status       string
	SortPriority int
	BSP          *decimal.Decimal
}

// MarketDefinitionEvent carries full or partial market metadata. Empty
// fields are absent from the record and leave existing state untouched.
type MarketDefinitionEvent struct {
	Seq         int
	Market      string
	PublishTime *time.Time
	Name        string
	EventName   string
	EventTypeID string
	MarketType  string
	Venue       string
	CountryCode string
	StartTime   *time.Time
	Status      string
	InPlay      *bool
	Runners     []RunnerDefinition
}

func (e MarketDefinitionEvent) Kind() EventKind { return EventKindDefinition }
func (e MarketDefinitionEvent) MarketID() string { return e.Market }
func (e MarketDefinitionEvent) Index() int { return e.Seq }
func (MarketDefinitionEvent) isEvent() {}

// RunnerChange is an incremental update for a single runner.
type RunnerChange struct {
	ID           int64
	Status       string
	LastTraded   *decimal.Decimal
	TradedVolume *decimal.Decimal
	Traded       []PriceVolume
}

// MarketChangeEvent carries per-runner deltas for a market.
type MarketChangeEvent struct {
	Seq         int
	Market      string
	PublishTime *time.Time
	Runners     []RunnerChange
}

func (e MarketChangeEvent) Kind() EventKind { return EventKindChange }
func (e MarketChangeEvent) MarketID() string { return e.Market }
func (e MarketChangeEvent) Index() int { return e.Seq }
func (MarketChangeEvent) isEvent() {}

// UnrecognizedEvent is a line that decoded to no known shape, or did not
// decode at all. Malformed is set in the latter case.
type UnrecognizedEvent struct {
	Seq       int
	Line      int
	Raw       string
	Note      string
	Malformed bool
}

func (e UnrecognizedEvent) Kind() EventKind { return EventKindUnrecognized }
func (e UnrecognizedEvent) MarketID() string { return "" }
func (e UnrecognizedEvent) Index() int { return e.Seq }
func (UnrecognizedEvent) isEvent() {}
