package dataprocessing

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"time"

	apierrors "bfintake/internal/errors"
	"bfintake/internal/infrastructure"
	"bfintake/pkg/contracts/domain"
)

// ctxCheckEvery is how many lines are read between context checks.
const ctxCheckEvery = 1024

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Source opens a fresh reader over the same records.
type Source func() (io.ReadCloser, error)

// Decoder turns NDJSON lines into typed market events.
type Decoder struct {
	logger *slog.Logger
}

// NewDecoder creates a Decoder. A nil logger uses the default logger.
func NewDecoder(logger *slog.Logger) *Decoder {
	return &Decoder{logger: infrastructure.WithComponent(logger, "decoder")}
}

// Decode yields one event per market payload in arrival order. A line may
// carry several payloads; a payload with both a definition and runner changes
// yields the definition first.
//
// Lines that are not valid JSON, or that carry nothing recognizable, yield an
// UnrecognizedEvent and decoding continues. Only a read failure or
// cancellation ends the sequence with an error. Decode is single pass; use
// Stream to iterate more than once.
func (d *Decoder) Decode(ctx context.Context, name string, r io.Reader) iter.Seq2[domain.Event, error] {
	return func(yield func(domain.Event, error) bool) {
		br := bufio.NewReaderSize(r, 64*1024)
		seq := 0
		line := 0

		for {
			if line%ctxCheckEvery == 0 {
				if err := ctx.Err(); err != nil {
					yield(nil, err)
					return
				}
			}

			raw, readErr := br.ReadBytes('\n')
			if readErr != nil && !errors.Is(readErr, io.EOF) {
				yield(nil, apierrors.NewCorruptArchiveError(name,
					fmt.Errorf("read failed after line %d: %w", line, readErr)))
				return
			}
			if len(raw) > 0 {
				line++
				if line == 1 {
					raw = bytes.TrimPrefix(raw, utf8BOM)
				}
				raw = bytes.TrimSpace(raw)
				if len(raw) > 0 {
					for _, ev := range d.decodeLine(line, &seq, raw) {
						if !yield(ev, nil) {
							return
						}
					}
				}
			}
			if readErr != nil {
				return
			}
		}
	}
}

// Stream reopens src every time the returned sequence is ranged over, so the
// events can be replayed.
func (d *Decoder) Stream(ctx context.Context, name string, src Source) iter.Seq2[domain.Event, error] {
	return func(yield func(domain.Event, error) bool) {
		rc, err := src()
		if err != nil {
			yield(nil, err)
			return
		}
		defer rc.Close()
		for ev, err := range d.Decode(ctx, name, rc) {
			if !yield(ev, err) || err != nil {
				return
			}
		}
	}
}

func (d *Decoder) decodeLine(line int, seq *int, raw []byte) []domain.Event {
	next := func() int {
		n := *seq
		*seq++
		return n
	}
	unrecognized := func(note string, malformed bool) []domain.Event {
		d.logger.Debug("unrecognized record",
			slog.Int("line", line),
			slog.String("note", note),
			slog.Bool("malformed", malformed))
		return []domain.Event{domain.UnrecognizedEvent{
			Seq:       next(),
			Line:      line,
			Raw:       truncate(raw, 256),
			Note:      note,
			Malformed: malformed,
		}}
	}

	var rec wireRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		if !json.Valid(raw) {
			return unrecognized(apierrors.NewMalformedRecordError(line, err).Error(), true)
		}
		return unrecognized("unexpected record shape: "+err.Error(), false)
	}

	payloads := rec.markets()
	if len(payloads) == 0 {
		note := "no market payload"
		if rec.Op != "" {
			note = fmt.Sprintf("no market payload in %q message", rec.Op)
		}
		return unrecognized(note, false)
	}

	pt := rec.publishTime()
	events := make([]domain.Event, 0, len(payloads))
	for _, p := range payloads {
		if p.MarketDefinition == nil && len(p.RC) == 0 {
			events = append(events, unrecognizedPayload(next(), line, raw, "market payload without definition or changes"))
			continue
		}
		if p.ID == "" {
			events = append(events, unrecognizedPayload(next(), line, raw, "market payload without id"))
			continue
		}
		if p.MarketDefinition != nil {
			events = append(events, toDefinition(next(), string(p.ID), pt, p.MarketDefinition))
		}
		if len(p.RC) > 0 {
			events = append(events, toChange(next(), string(p.ID), pt, p.RC))
		}
	}
	return events
}

func unrecognizedPayload(seq int, line int, raw []byte, note string) domain.Event {
	return domain.UnrecognizedEvent{Seq: seq, Line: line, Raw: truncate(raw, 256), Note: note}
}

func toDefinition(seq int, id string, pt *time.Time, w *wireDefinition) domain.MarketDefinitionEvent {
	ev := domain.MarketDefinitionEvent{
		Seq:         seq,
		Market:      id,
		PublishTime: pt,
		Name:        w.Name,
		EventName:   w.EventName,
		EventTypeID: string(w.EventTypeID),
		MarketType:  w.MarketType,
		Venue:       w.Venue,
		CountryCode: w.CountryCode,
		StartTime:   w.MarketTime,
		Status:      w.Status,
		InPlay:      w.InPlay,
		Runners:     make([]domain.RunnerDefinition, 0, len(w.Runners)),
	}
	for _, r := range w.Runners {
		ev.Runners = append(ev.Runners, domain.RunnerDefinition{
			ID:           r.ID,
			Name:         r.Name,
			Status:       r.Status,
			SortPriority: r.SortPriority,
			BSP:          r.BSP.d,
		})
	}
	return ev
}

func toChange(seq int, id string, pt *time.Time, rcs []wireRunnerChg) domain.MarketChangeEvent {
	ev := domain.MarketChangeEvent{
		Seq:         seq,
		Market:      id,
		PublishTime: pt,
		Runners:     make([]domain.RunnerChange, 0, len(rcs)),
	}
	for _, rc := range rcs {
		change := domain.RunnerChange{
			ID:           rc.ID,
			Status:       rc.Status,
			LastTraded:   rc.LTP.d,
			TradedVolume: rc.TV.d,
		}
		for _, lvl := range rc.TRD {
			if lvl[0].d == nil || lvl[1].d == nil {
				continue
			}
			change.Traded = append(change.Traded, domain.PriceVolume{Price: *lvl[0].d, Volume: *lvl[1].d})
		}
		ev.Runners = append(ev.Runners, change)
	}
	return ev
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
