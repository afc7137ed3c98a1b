// Package dataprocessing decodes market stream records and reconstructs
// market state from them.
//
// # Architecture
//
// The package has two components:
//
//  1. Decoder: reads NDJSON lines and yields typed events
//  2. Reconstructor: folds events into per-market state and counters
//
// # Usage
//
//	dec := dataprocessing.NewDecoder(logger)
//	rec := dataprocessing.NewReconstructor(logger)
//	if err := rec.Fold(ctx, dec.Decode(ctx, name, r)); err != nil {
//	    return err
//	}
//	markets, stats := rec.Markets(), rec.Stats()
//
// # Data Flow
//
//	NDJSON member → Decoder → Event → Reconstructor → []MarketState
//
// # Record Shapes
//
// Two shapes are accepted per line. A stream envelope
//
//	{"op":"mcm","pt":1465000000000,"mc":[{"id":"1.1","rc":[...]}]}
//
// yields one event per entry of mc. A flat record keyed by "id" or
// "marketId" carries "marketDefinition" and/or "rc" directly. When a payload
// carries both, the definition event comes first.
//
// # Merge Rules
//
// A definition inserts a new market or overlays an existing one: non-empty
// scalar fields overwrite, and runners are union-merged by id so none is
// ever removed. A change applies only to a market already defined in the
// same stream; otherwise it is counted as orphaned and dropped. Within a
// change, last traded price and volume overwrite, and each traded ladder
// level replaces the volume at its price.
//
// Lines that cannot be decoded are counted as skipped and never fail a
// parse.
package dataprocessing
