package dataprocessing

import (
	"context"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apierrors "bfintake/internal/errors"
	"bfintake/internal/shared/testutil"
	"bfintake/pkg/contracts/domain"
)

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func definition(seq int, market, status string, runners ...int64) domain.MarketDefinitionEvent {
	ev := domain.MarketDefinitionEvent{Seq: seq, Market: market, Name: "Market " + market, Status: status}
	for _, id := range runners {
		ev.Runners = append(ev.Runners, domain.RunnerDefinition{ID: id, Status: "ACTIVE"})
	}
	return ev
}

func change(seq int, market string, rcs ...domain.RunnerChange) domain.MarketChangeEvent {
	return domain.MarketChangeEvent{Seq: seq, Market: market, Runners: rcs}
}

func fold(t *testing.T, events ...domain.Event) *Reconstructor {
	t.Helper()
	r := NewReconstructor(nil)
	for _, ev := range events {
		err := r.Apply(ev)
		if err != nil {
			require.ErrorIs(t, err, apierrors.ErrOrphanedUpdate)
		}
	}
	return r
}

func TestReconstructor_DefinitionThenChange(t *testing.T) {
	r := fold(t,
		definition(0, "1.1", "OPEN", 101, 102),
		change(1, "1.1", domain.RunnerChange{ID: 101, Status: "REMOVED"}),
	)

	stats := r.Stats()
	assert.Equal(t, 1, stats.Markets)
	assert.Equal(t, 2, stats.Records)
	assert.Zero(t, stats.Skipped)

	m, ok := r.Market("1.1")
	require.True(t, ok)
	assert.Equal(t, domain.MarketStatusActive, m.Status)
	assert.Equal(t, "removed", m.Runner(101).Status)
	assert.Equal(t, "active", m.Runner(102).Status)
	assert.Zero(t, m.Runner(102).Changes)
	assert.Equal(t, 2, m.RecordsFolded)
	assert.Equal(t, 1, m.LastEventIndex)
}

func TestReconstructor_OrphanPolicy(t *testing.T) {
	orphan := change(0, "1.1", domain.RunnerChange{ID: 101, Status: "REMOVED"})

	t.Run("change before definition", func(t *testing.T) {
		r := NewReconstructor(nil)
		err := r.Apply(orphan)
		require.Error(t, err)
		assert.ErrorIs(t, err, apierrors.ErrOrphanedUpdate)

		_, ok := r.Market("1.1")
		assert.False(t, ok)
		stats := r.Stats()
		assert.Zero(t, stats.Markets)
		assert.Zero(t, stats.Records)
		assert.Equal(t, 1, stats.Orphaned)
		assert.Equal(t, 1, stats.Skipped)

		require.NoError(t, r.Apply(definition(1, "1.1", "OPEN", 101)))
		m, _ := r.Market("1.1")
		assert.Equal(t, "active", m.Runner(101).Status, "orphan is not replayed later")
	})

	t.Run("same change after definition", func(t *testing.T) {
		r := fold(t, definition(0, "1.1", "OPEN", 101), orphan)
		m, _ := r.Market("1.1")
		assert.Equal(t, "removed", m.Runner(101).Status)
	})

	t.Run("unknown runner is not created", func(t *testing.T) {
		r := fold(t, definition(0, "1.1", "OPEN", 101), change(1, "1.1", domain.RunnerChange{ID: 999, Status: "WINNER"}))
		m, _ := r.Market("1.1")
		assert.Len(t, m.Runners, 1)
		assert.Nil(t, m.Runner(999))
	})
}

func TestReconstructor_LastWriteWins(t *testing.T) {
	a := definition(0, "1.1", "OPEN", 1)
	b := definition(1, "1.1", "SUSPENDED")
	b.Name = "Renamed"

	m1, _ := fold(t, a, b).Market("1.1")
	assert.Equal(t, domain.MarketStatusSuspended, m1.Status)
	assert.Equal(t, "Renamed", m1.Name)

	m2, _ := fold(t, b, a).Market("1.1")
	assert.Equal(t, domain.MarketStatusActive, m2.Status, "same-market reorder changes state")
	assert.Equal(t, "Market 1.1", m2.Name)

	t.Run("price overwrite", func(t *testing.T) {
		r := fold(t,
			definition(0, "1.1", "OPEN", 1),
			change(1, "1.1", domain.RunnerChange{ID: 1, LastTraded: dec("3.5"), TradedVolume: dec("10")}),
			change(2, "1.1", domain.RunnerChange{ID: 1, LastTraded: dec("4.2")}),
		)
		m, _ := r.Market("1.1")
		rn := m.Runner(1)
		assert.True(t, rn.LastTraded.Equal(decimal.RequireFromString("4.2")))
		assert.True(t, rn.TradedVolume.Equal(decimal.RequireFromString("10")), "absent fields are kept")
		assert.Equal(t, 2, rn.Changes)
	})
}

func TestReconstructor_IndependentMarketsCommute(t *testing.T) {
	events := []domain.Event{
		definition(0, "1.1", "OPEN", 1, 2),
		definition(1, "1.2", "OPEN", 7),
		change(2, "1.1", domain.RunnerChange{ID: 1, LastTraded: dec("2.5")}),
		change(3, "1.2", domain.RunnerChange{ID: 7, Status: "REMOVED"}),
	}
	swapped := []domain.Event{events[0], events[1], events[3], events[2]}

	r1 := fold(t, events...)
	r2 := fold(t, swapped...)
	for _, id := range []string{"1.1", "1.2"} {
		m1, ok1 := r1.Market(id)
		m2, ok2 := r2.Market(id)
		require.True(t, ok1)
		require.True(t, ok2)
		assert.Equal(t, m1, m2, id)
	}
	assert.Equal(t, r1.Stats(), r2.Stats())
}

func TestReconstructor_RunnerUnion(t *testing.T) {
	second := definition(1, "1.1", "", 2, 3)
	second.Runners[0].Status = "REMOVED"
	second.Runners[0].BSP = dec("5.1")

	r := fold(t, definition(0, "1.1", "OPEN", 1, 2), second)
	m, _ := r.Market("1.1")

	ids := make([]int64, 0, len(m.Runners))
	for _, rn := range m.Runners {
		ids = append(ids, rn.ID)
	}
	assert.Equal(t, []int64{1, 2, 3}, ids, "runners are never removed and new ones append")
	assert.Equal(t, "removed", m.Runner(2).Status)
	assert.NotNil(t, m.Runner(2).BSP)
	assert.Equal(t, domain.MarketStatusActive, m.Status, "empty status leaves the prior value")
}

func TestReconstructor_TradedLadder(t *testing.T) {
	lvl := func(p, v string) domain.PriceVolume {
		return domain.PriceVolume{Price: decimal.RequireFromString(p), Volume: decimal.RequireFromString(v)}
	}
	r := fold(t,
		definition(0, "1.1", "OPEN", 1),
		change(1, "1.1", domain.RunnerChange{ID: 1, Traded: []domain.PriceVolume{lvl("3.0", "10"), lvl("2.5", "4")}}),
		change(2, "1.1", domain.RunnerChange{ID: 1, Traded: []domain.PriceVolume{lvl("3.0", "12"), lvl("2.5", "0"), lvl("9", "0")}}),
	)
	m, _ := r.Market("1.1")
	require.Len(t, m.Runner(1).Traded, 1)
	assert.Equal(t, "3", m.Runner(1).Traded[0].Price.String())
	assert.Equal(t, "12", m.Runner(1).Traded[0].Volume.String())
}

func TestReconstructor_MarketsAreCopies(t *testing.T) {
	r := fold(t, definition(0, "1.1", "OPEN", 1), definition(1, "1.0", "OPEN", 1))
	markets := r.Markets()
	require.Len(t, markets, 2)
	assert.Equal(t, "1.1", markets[0].ID, "first-seen order")

	markets[0].Runners[0].Status = "mutated"
	m, _ := r.Market("1.1")
	assert.Equal(t, "active", m.Runner(1).Status)
}

func TestFold_MalformedLineScenario(t *testing.T) {
	data := "{\"id\": broken\n" + testutil.DefinitionLine("1.1", "OPEN", 101) + "\n"

	r := NewReconstructor(nil)
	err := r.Fold(context.Background(), NewDecoder(nil).Decode(context.Background(), "m.ndjson", strings.NewReader(data)))
	require.NoError(t, err)

	stats := r.Stats()
	assert.Equal(t, 1, stats.Records)
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, 1, stats.Malformed)
	assert.Equal(t, 1, stats.Markets)
}

func TestFold_StreamScenario(t *testing.T) {
	data := testutil.Stream(
		testutil.ChangeLine("1.9", 1, "REMOVED"),
		testutil.DefinitionLine("1.1", "OPEN", 101, 102),
		testutil.ChangeLine("1.1", 101, "REMOVED"),
		testutil.PriceLine("1.1", 102, 3.5, 120),
		`{"op":"mcm","ct":"HEARTBEAT"}`,
	)
	r := NewReconstructor(nil)
	require.NoError(t, r.Fold(context.Background(), NewDecoder(nil).Decode(context.Background(), "s", strings.NewReader(string(data)))))

	stats := r.Stats()
	assert.Equal(t, domain.ReconstructionStats{
		Records: 3, Markets: 1, Definitions: 1, Changes: 2,
		Skipped: 2, Unrecognized: 1, Orphaned: 1,
	}, stats)

	m, _ := r.Market("1.1")
	assert.Equal(t, "removed", m.Runner(101).Status)
	assert.Equal(t, "active", m.Runner(102).Status)
	assert.Equal(t, "3.5", m.Runner(102).LastTraded.String())
}

func TestFold_MembersContinueIndex(t *testing.T) {
	ctx := context.Background()
	first := testutil.Stream(
		testutil.DefinitionLine("1.1", "OPEN", 101),
		testutil.PriceLine("1.1", 101, 2.0, 10),
	)
	second := testutil.Stream(
		testutil.PriceLine("1.1", 101, 2.5, 40),
	)

	r := NewReconstructor(nil)
	require.NoError(t, r.Fold(ctx, NewDecoder(nil).Decode(ctx, "a.ndjson", strings.NewReader(string(first)))))
	m, _ := r.Market("1.1")
	assert.Equal(t, 1, m.LastEventIndex)

	require.NoError(t, r.Fold(ctx, NewDecoder(nil).Decode(ctx, "b.ndjson", strings.NewReader(string(second)))))
	m, _ = r.Market("1.1")
	assert.Equal(t, 2, m.LastEventIndex)
	assert.Equal(t, 3, m.RecordsFolded)
	assert.Equal(t, "2.5", m.Runner(101).LastTraded.String())
}
