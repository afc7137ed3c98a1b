package dataprocessing

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"sort"
	"strings"

	apierrors "bfintake/internal/errors"
	"bfintake/internal/infrastructure"
	"bfintake/pkg/contracts/domain"
)

// Reconstructor folds events, in arrival order, into per-market state. It is
// not safe for concurrent use; one Reconstructor serves one parse.
type Reconstructor struct {
	logger  *slog.Logger
	markets map[string]*domain.MarketState
	order   []string
	stats   domain.ReconstructionStats

	// offset rebases per-stream event indexes so LastEventIndex keeps
	// increasing across the members of one file; next is one past the
	// highest rebased index seen.
	offset int
	next   int
}

// NewReconstructor creates an empty Reconstructor.
func NewReconstructor(logger *slog.Logger) *Reconstructor {
	return &Reconstructor{
		logger:  infrastructure.WithComponent(logger, "reconstructor"),
		markets: make(map[string]*domain.MarketState),
	}
}

// Apply folds a single event.
//
// A change event for a market with no prior definition is counted as skipped
// and returns an ORPHANED_UPDATE error without creating the market. Callers
// are expected to treat that error as informational.
func (r *Reconstructor) Apply(ev domain.Event) error {
	idx := r.offset + ev.Index()
	if idx >= r.next {
		r.next = idx + 1
	}
	switch e := ev.(type) {
	case domain.MarketDefinitionEvent:
		r.applyDefinition(idx, e)
	case domain.MarketChangeEvent:
		return r.applyChange(idx, e)
	case domain.UnrecognizedEvent:
		r.stats.Skipped++
		if e.Malformed {
			r.stats.Malformed++
		} else {
			r.stats.Unrecognized++
		}
	}
	return nil
}

func (r *Reconstructor) applyDefinition(idx int, e domain.MarketDefinitionEvent) {
	m, ok := r.markets[e.Market]
	if !ok {
		m = &domain.MarketState{ID: e.Market, Status: domain.MarketStatusInactive}
		r.markets[e.Market] = m
		r.order = append(r.order, e.Market)
	}

	overwrite(&m.Name, e.Name)
	overwrite(&m.EventName, e.EventName)
	overwrite(&m.EventTypeID, e.EventTypeID)
	overwrite(&m.MarketType, e.MarketType)
	overwrite(&m.Venue, e.Venue)
	overwrite(&m.CountryCode, e.CountryCode)
	if e.StartTime != nil {
		t := *e.StartTime
		m.StartTime = &t
	}
	if e.Status != "" {
		m.Status = domain.ParseMarketStatus(e.Status)
	}
	if e.InPlay != nil {
		m.InPlay = *e.InPlay
	}

	for _, def := range e.Runners {
		runner := m.Runner(def.ID)
		if runner == nil {
			m.Runners = append(m.Runners, domain.Runner{ID: def.ID})
			runner = &m.Runners[len(m.Runners)-1]
		}
		overwrite(&runner.Name, def.Name)
		if def.Status != "" {
			runner.Status = strings.ToLower(def.Status)
		}
		if def.SortPriority != 0 {
			runner.SortPriority = def.SortPriority
		}
		if def.BSP != nil {
			bsp := *def.BSP
			runner.BSP = &bsp
		}
	}

	m.RecordsFolded++
	m.LastEventIndex = idx
	r.stats.Definitions++
	r.stats.Records++
}

func (r *Reconstructor) applyChange(idx int, e domain.MarketChangeEvent) error {
	m, ok := r.markets[e.Market]
	if !ok {
		r.stats.Orphaned++
		r.stats.Skipped++
		r.logger.Debug("orphaned update", slog.String("market_id", e.Market), slog.Int("index", idx))
		return apierrors.NewOrphanedUpdateError(e.Market)
	}

	for _, rc := range e.Runners {
		runner := m.Runner(rc.ID)
		if runner == nil {
			// Runner identity comes from definitions only.
			r.logger.Debug("change for undefined runner",
				slog.String("market_id", e.Market),
				slog.Int64("runner_id", rc.ID))
			continue
		}
		if rc.Status != "" {
			runner.Status = strings.ToLower(rc.Status)
		}
		if rc.LastTraded != nil {
			v := *rc.LastTraded
			runner.LastTraded = &v
		}
		if rc.TradedVolume != nil {
			v := *rc.TradedVolume
			runner.TradedVolume = &v
		}
		for _, lvl := range rc.Traded {
			runner.Traded = setLevel(runner.Traded, lvl)
		}
		runner.Changes++
	}

	m.RecordsFolded++
	m.LastEventIndex = idx
	r.stats.Changes++
	r.stats.Records++
	return nil
}

// setLevel replaces the volume traded at a price, keeping the ladder sorted
// by price. A zero volume removes the level.
func setLevel(ladder []domain.PriceVolume, lvl domain.PriceVolume) []domain.PriceVolume {
	i := sort.Search(len(ladder), func(i int) bool {
		return ladder[i].Price.GreaterThanOrEqual(lvl.Price)
	})
	found := i < len(ladder) && ladder[i].Price.Equal(lvl.Price)
	switch {
	case lvl.Volume.IsZero() && found:
		return append(ladder[:i], ladder[i+1:]...)
	case lvl.Volume.IsZero():
		return ladder
	case found:
		ladder[i].Volume = lvl.Volume
		return ladder
	}
	ladder = append(ladder, domain.PriceVolume{})
	copy(ladder[i+1:], ladder[i:])
	ladder[i] = lvl
	return ladder
}

func overwrite(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

// Markets returns copies of every reconstructed market in first-seen order.
func (r *Reconstructor) Markets() []domain.MarketState {
	out := make([]domain.MarketState, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, cloneMarket(r.markets[id]))
	}
	return out
}

// Market returns a copy of one market.
func (r *Reconstructor) Market(id string) (domain.MarketState, bool) {
	m, ok := r.markets[id]
	if !ok {
		return domain.MarketState{}, false
	}
	return cloneMarket(m), true
}

// Stats returns the counters accumulated so far.
func (r *Reconstructor) Stats() domain.ReconstructionStats {
	s := r.stats
	s.Markets = len(r.markets)
	return s
}

// Fold drains events into r. It stops at the first stream error, which is
// returned; per-event orphan errors are absorbed into the counters.
//
// Each call is one stream whose indexes restart at zero; they are shifted to
// follow everything folded before, so several archive members fold into one
// continuous index.
func (r *Reconstructor) Fold(ctx context.Context, events iter.Seq2[domain.Event, error]) error {
	r.offset = r.next
	for ev, err := range events {
		if err != nil {
			return err
		}
		if err := r.Apply(ev); err != nil && !errors.Is(err, apierrors.ErrOrphanedUpdate) {
			return err
		}
	}
	return ctx.Err()
}

func cloneMarket(m *domain.MarketState) domain.MarketState {
	c := *m
	if m.StartTime != nil {
		t := *m.StartTime
		c.StartTime = &t
	}
	c.Runners = make([]domain.Runner, len(m.Runners))
	for i, rn := range m.Runners {
		if rn.Traded != nil {
			rn.Traded = append([]domain.PriceVolume(nil), rn.Traded...)
		}
		c.Runners[i] = rn
	}
	return c
}
