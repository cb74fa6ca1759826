package zones

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"BiasSentinel/internal/config"
	"BiasSentinel/internal/model"
)

var t0 = time.Date(2024, 2, 5, 0, 0, 0, 0, time.UTC)

const atrPeriod = 5

func testConfig() config.Zones {
	return config.Zones{
		MinBaseBars:       2,
		MaxBaseBars:       6,
		CompressionRatio:  0.5,
		DisplacementRatio: 1.5,
		ExpiryBars:        150,
		MaxActive:         8,
	}
}

type series struct{ bars []model.Bar }

func (s *series) add(open, high, low, close float64) *series {
	s.bars = append(s.bars, model.Bar{
		Timeframe: model.H1,
		OpenTime:  t0.Add(time.Duration(len(s.bars)) * time.Hour),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     close,
		Volume:    100,
	})
	return s
}

// based builds 20 bars of range 2 around 100, then five bars of range 0.4
// inside [99.8, 100.2], then one wide bar leaving the base up or down.
func based(up bool) *series {
	s := &series{}
	for i := 0; i < 20; i++ {
		c := 99.5
		if i%2 == 1 {
			c = 100.5
		}
		s.add(100, c+1, c-1, c)
	}
	for i := 0; i < 5; i++ {
		s.add(100, 100.2, 99.8, 100.1)
	}
	if up {
		s.add(100.1, 105.2, 100.0, 105)
	} else {
		s.add(99.9, 100.0, 94.8, 95)
	}
	return s
}

func (s *series) drift(n int, price float64) *series {
	for i := 0; i < n; i++ {
		s.add(price, price+1, price-1, price+0.5)
	}
	return s
}

func TestUpdate_CreatesDemandZoneFromBase(t *testing.T) {
	e := NewEngine("XAUUSD", model.H1, testConfig(), atrPeriod)
	s := based(true)
	res := e.Update(s.bars)

	require.Len(t, res.Created, 1)
	require.Empty(t, res.Errors)
	z := res.Created[0]
	assert.Equal(t, model.Demand, z.Type)
	assert.Equal(t, 99.8, z.PriceLow)
	assert.Equal(t, 100.2, z.PriceHigh)
	assert.Equal(t, model.ZoneFresh, z.State)
	assert.Equal(t, s.bars[25].OpenTime, z.CreatedAt)
	assert.Equal(t, zoneID("XAUUSD", model.H1, model.Demand, z.CreatedAt), z.ID)
	assert.Len(t, e.Active(), 1)
}

func TestUpdate_CreatesSupplyZone(t *testing.T) {
	e := NewEngine("XAUUSD", model.H1, testConfig(), atrPeriod)
	res := e.Update(based(false).bars)
	require.Len(t, res.Created, 1)
	assert.Equal(t, model.Supply, res.Created[0].Type)
	assert.Equal(t, 99.8, res.Created[0].PriceLow)
	assert.Equal(t, 100.2, res.Created[0].PriceHigh)
}

func TestUpdate_ShortBaseIgnored(t *testing.T) {
	cfg := testConfig()
	cfg.MinBaseBars = 6
	e := NewEngine("XAUUSD", model.H1, cfg, atrPeriod)
	res := e.Update(based(true).bars)
	assert.Empty(t, res.Created)
}

func TestUpdate_Lifecycle(t *testing.T) {
	e := NewEngine("XAUUSD", model.H1, testConfig(), atrPeriod)
	s := based(true).drift(2, 105)
	e.Update(s.bars)

	// dip into the zone, close above it: tested
	s.add(104.5, 105, 100.1, 103)
	res := e.Update(s.bars)
	require.Len(t, res.Transitions, 1)
	assert.Equal(t, model.ZoneFresh, res.Transitions[0].From)
	assert.Equal(t, model.ZoneTested, res.Transitions[0].To)
	assert.Equal(t, model.ZoneTested, e.Active()[0].State)

	// trade from inside the zone and close above it: mitigated
	s.add(100.1, 100.6, 99.9, 100.5)
	res = e.Update(s.bars)
	require.Len(t, res.Transitions, 1)
	assert.Equal(t, model.ZoneMitigated, res.Transitions[0].To)
	require.Len(t, res.Retired, 1)
	assert.Empty(t, e.Active())
	require.Len(t, e.Reference(), 1)
	assert.Equal(t, model.ZoneMitigated, e.Reference()[0].State)

	// terminal: a later close below the zone changes nothing
	s.add(100, 100.1, 98, 98.5)
	res = e.Update(s.bars)
	assert.Empty(t, res.Transitions)
	assert.Equal(t, model.ZoneMitigated, e.Reference()[0].State)
}

func TestUpdate_TransitionsFollowBarOrder(t *testing.T) {
	e := NewEngine("XAUUSD", model.H1, testConfig(), atrPeriod)
	s := based(true).drift(2, 105)
	e.Update(s.bars)

	s.add(104.5, 105, 100.1, 103)
	s.add(102, 102.5, 99, 99.2)
	res := e.Update(s.bars)
	require.Len(t, res.Transitions, 2)
	assert.Equal(t, model.ZoneFresh, res.Transitions[0].From)
	assert.Equal(t, model.ZoneTested, res.Transitions[0].To)
	assert.Equal(t, s.bars[len(s.bars)-2].OpenTime, res.Transitions[0].At)
	assert.Equal(t, model.ZoneTested, res.Transitions[1].From)
	assert.Equal(t, model.ZoneInvalidated, res.Transitions[1].To)
	assert.Equal(t, s.bars[len(s.bars)-1].OpenTime, res.Transitions[1].At)
}

func TestUpdate_MitigatedStaysMitigatedInOneBatch(t *testing.T) {
	s := based(true).drift(2, 105)
	s.add(100.1, 100.6, 99.9, 100.5)
	s.add(100, 100.1, 98, 98.5)

	batch := NewEngine("XAUUSD", model.H1, testConfig(), atrPeriod)
	res := batch.Update(s.bars)
	require.Len(t, res.Transitions, 1)
	assert.Equal(t, model.ZoneMitigated, res.Transitions[0].To)

	stepped := NewEngine("XAUUSD", model.H1, testConfig(), atrPeriod)
	for i := 26; i <= len(s.bars); i++ {
		stepped.Update(s.bars[:i])
	}

	require.Len(t, batch.Reference(), 1)
	assert.Equal(t, model.ZoneMitigated, batch.Reference()[0].State)
	assert.Equal(t, stepped.Reference(), batch.Reference())
	assert.Empty(t, batch.Active())
}

func TestUpdate_ExpiryAppliesAtTheBar(t *testing.T) {
	cfg := testConfig()
	cfg.ExpiryBars = 3
	s := based(true).drift(4, 105)
	s.add(104.5, 105, 100.1, 103)

	e := NewEngine("XAUUSD", model.H1, cfg, atrPeriod)
	res := e.Update(s.bars)
	require.Len(t, res.Created, 1)
	assert.Equal(t, 1, res.Pruned)
	assert.Empty(t, res.Transitions, "expired before the late touch")
	assert.Empty(t, e.Active())
}

func TestUpdate_BatchMatchesBarByBar(t *testing.T) {
	s := based(true)
	prices := []float64{104, 101, 100.1, 103, 99.9, 100.3, 98, 102, 106, 100, 97, 101}
	for _, p := range prices {
		s.add(p, p+1.5, p-1.5, p+0.4)
	}
	s.drift(6, 101)
	for i := 0; i < 5; i++ {
		s.add(101, 101.2, 100.8, 101.1)
	}
	s.add(101, 101.1, 95.8, 96)
	s.drift(4, 96)

	batch := NewEngine("XAUUSD", model.H1, testConfig(), atrPeriod)
	batch.Update(s.bars)

	stepped := NewEngine("XAUUSD", model.H1, testConfig(), atrPeriod)
	for i := 20; i <= len(s.bars); i++ {
		stepped.Update(s.bars[:i])
	}

	assert.Equal(t, batch.Active(), stepped.Active())
	assert.Equal(t, batch.Reference(), stepped.Reference())
}

func TestUpdate_SameBarsTwice(t *testing.T) {
	e := NewEngine("XAUUSD", model.H1, testConfig(), atrPeriod)
	s := based(true)
	e.Update(s.bars)
	res := e.Update(s.bars)
	assert.Empty(t, res.Created)
	assert.Empty(t, res.Transitions)
	assert.Len(t, e.Active(), 1)
}

func TestUpdate_FreshZoneExpires(t *testing.T) {
	cfg := testConfig()
	cfg.ExpiryBars = 3
	e := NewEngine("XAUUSD", model.H1, cfg, atrPeriod)
	s := based(true).drift(3, 105)
	res := e.Update(s.bars)
	require.Len(t, res.Created, 1)
	assert.Len(t, e.Active(), 1)

	s.drift(1, 105)
	res = e.Update(s.bars)
	assert.Equal(t, 1, res.Pruned)
	assert.Empty(t, e.Active())
	assert.Empty(t, e.Reference(), "expired zones are not retired")
}

func TestUpdate_TestedZoneDoesNotExpire(t *testing.T) {
	cfg := testConfig()
	cfg.ExpiryBars = 3
	e := NewEngine("XAUUSD", model.H1, cfg, atrPeriod)
	s := based(true)
	s.add(104.5, 105, 100.1, 103)
	e.Update(s.bars)
	s.drift(5, 105)
	res := e.Update(s.bars)
	assert.Zero(t, res.Pruned)
	require.Len(t, e.Active(), 1)
	assert.Equal(t, model.ZoneTested, e.Active()[0].State)
}

func TestUpdate_MalformedZoneDiscarded(t *testing.T) {
	s := &series{}
	for i := 0; i < 20; i++ {
		c := 99.5
		if i%2 == 1 {
			c = 100.5
		}
		s.add(100, c+1, c-1, c)
	}
	for i := 0; i < 4; i++ {
		s.add(100, 100, 100, 100)
	}
	s.add(100, 105, 100, 104.8)

	e := NewEngine("XAUUSD", model.H1, testConfig(), atrPeriod)
	res := e.Update(s.bars)
	require.Len(t, res.Errors, 1)
	assert.True(t, errors.Is(res.Errors[0], ErrMalformedZone))
	assert.Empty(t, res.Created)
	assert.Empty(t, e.Active())
}

func TestInsert_MergesOverlapping(t *testing.T) {
	e := NewEngine("XAUUSD", model.H1, testConfig(), atrPeriod)
	a := model.Zone{ID: "a", Type: model.Demand, PriceLow: 10, PriceHigh: 11, CreatedAt: t0}
	b := model.Zone{ID: "b", Type: model.Demand, PriceLow: 12, PriceHigh: 13, CreatedAt: t0.Add(time.Hour)}
	touching := model.Zone{ID: "c", Type: model.Demand, PriceLow: 13, PriceHigh: 14, CreatedAt: t0.Add(2 * time.Hour)}
	supply := model.Zone{ID: "s", Type: model.Supply, PriceLow: 10.5, PriceHigh: 12.5, CreatedAt: t0.Add(3 * time.Hour)}
	bridge := model.Zone{ID: "d", Type: model.Demand, PriceLow: 10.5, PriceHigh: 12.5, CreatedAt: t0.Add(4 * time.Hour)}

	assert.False(t, e.insert(a))
	assert.False(t, e.insert(b))
	assert.False(t, e.insert(touching), "touching edges do not overlap")
	assert.False(t, e.insert(supply), "other types never merge")
	assert.True(t, e.insert(bridge))

	active := e.Active()
	require.Len(t, active, 3)
	merged := active[0]
	assert.Equal(t, "a", merged.ID)
	assert.Equal(t, 10.0, merged.PriceLow)
	assert.Equal(t, 13.0, merged.PriceHigh)
	assert.Equal(t, t0, merged.CreatedAt)

	for i, x := range active {
		for j, y := range active {
			if i != j && x.Type == y.Type {
				assert.False(t, x.Overlaps(y), "%s overlaps %s", x.ID, y.ID)
			}
		}
	}
}

func TestCapPerType(t *testing.T) {
	cfg := testConfig()
	cfg.MaxActive = 1
	e := NewEngine("XAUUSD", model.H1, cfg, atrPeriod)
	e.insert(model.Zone{ID: "old", Type: model.Demand, PriceLow: 1, PriceHigh: 2, CreatedAt: t0})
	e.insert(model.Zone{ID: "new", Type: model.Demand, PriceLow: 3, PriceHigh: 4, CreatedAt: t0.Add(time.Hour)})
	e.insert(model.Zone{ID: "sup", Type: model.Supply, PriceLow: 5, PriceHigh: 6, CreatedAt: t0})

	assert.Equal(t, 1, e.capPerType())
	active := e.Active()
	require.Len(t, active, 2)
	ids := []string{active[0].ID, active[1].ID}
	assert.ElementsMatch(t, []string{"new", "sup"}, ids)
}

func TestCanTransition_Table(t *testing.T) {
	states := []model.ZoneState{model.ZoneFresh, model.ZoneTested, model.ZoneMitigated, model.ZoneInvalidated}
	allowed := map[[2]model.ZoneState]bool{
		{model.ZoneFresh, model.ZoneTested}:       true,
		{model.ZoneFresh, model.ZoneMitigated}:    true,
		{model.ZoneFresh, model.ZoneInvalidated}:  true,
		{model.ZoneTested, model.ZoneMitigated}:   true,
		{model.ZoneTested, model.ZoneInvalidated}: true,
	}
	for _, from := range states {
		for _, to := range states {
			got := CanTransition(from, to)
			assert.Equal(t, allowed[[2]model.ZoneState{from, to}], got, "%s -> %s", from, to)
			if got {
				assert.Greater(t, to.Rank(), from.Rank(), "edges only move forward")
			}
		}
	}
}

func TestApply_RejectsBackward(t *testing.T) {
	z := model.Zone{ID: "z", State: model.ZoneMitigated}
	err := apply(&z, model.ZoneTested, t0)
	assert.True(t, errors.Is(err, ErrIllegalTransition))
	assert.Equal(t, model.ZoneMitigated, z.State)
}

func TestUpdate_TransitionsAlwaysForward(t *testing.T) {
	e := NewEngine("XAUUSD", model.H1, testConfig(), atrPeriod)
	s := based(true)
	prices := []float64{104, 101, 100.1, 103, 99.9, 100.3, 98, 102, 106, 100, 97, 101}
	for _, p := range prices {
		s.add(p, p+1.5, p-1.5, p+0.4)
		res := e.Update(s.bars)
		for _, tr := range res.Transitions {
			assert.True(t, CanTransition(tr.From, tr.To), "%s -> %s", tr.From, tr.To)
		}
		for _, z := range append(e.Active(), e.Reference()...) {
			assert.Less(t, z.PriceLow, z.PriceHigh)
		}
	}
}

func TestCondition(t *testing.T) {
	demand := model.Zone{Type: model.Demand, PriceLow: 10, PriceHigh: 12}
	supply := model.Zone{Type: model.Supply, PriceLow: 10, PriceHigh: 12}
	bar := func(o, h, l, c float64) model.Bar { return model.Bar{Open: o, High: h, Low: l, Close: c} }

	tests := []struct {
		name string
		zone model.Zone
		bar  model.Bar
		want model.ZoneState
	}{
		{"demand untouched", demand, bar(14, 15, 13, 14.5), model.ZoneFresh},
		{"demand touched", demand, bar(13, 13.5, 11, 12.5), model.ZoneTested},
		{"demand edge touch", demand, bar(13, 13.5, 12, 12.5), model.ZoneTested},
		{"demand closed below", demand, bar(11, 11.5, 9, 9.5), model.ZoneInvalidated},
		{"demand left upward", demand, bar(11, 13, 10.5, 12.5), model.ZoneMitigated},
		{"supply untouched", supply, bar(8, 9, 7, 8.5), model.ZoneFresh},
		{"supply touched", supply, bar(9, 10.5, 8.5, 9.5), model.ZoneTested},
		{"supply closed above", supply, bar(11, 13, 10.5, 12.5), model.ZoneInvalidated},
		{"supply left downward", supply, bar(11, 11.5, 9, 9.5), model.ZoneMitigated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, condition(tt.zone, tt.bar))
		})
	}
}
