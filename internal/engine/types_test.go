package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(y int, m time.Month, d int) Timestamp {
	return NewTimestamp(time.Date(y, m, d, 15, 30, 0, 0, time.UTC))
}

func TestTimestampNormalizesToUTCMidnight(t *testing.T) {
	ts := day(2024, time.March, 5)
	assert.Equal(t, 0, ts.Time().Hour())
	assert.Equal(t, "2024-03-05", ts.String())
}

func TestTimestampOrdering(t *testing.T) {
	a := day(2024, 1, 1)
	b := day(2024, 1, 2)
	assert.True(t, a.Before(b))
	assert.True(t, b.After(a))
	assert.True(t, a.Equal(day(2024, 1, 1)))
	assert.Equal(t, b, a.AddDays(1))
}

func TestPortfolioParamsNormalizedWeightsEqualShareDefault(t *testing.T) {
	p := &PortfolioParams{InstrumentIDs: []string{"A", "B", "C"}}
	w := p.NormalizedWeights()
	require.Len(t, w, 3)
	for _, v := range w {
		assert.InDelta(t, 1.0/3, v, 1e-9)
	}
}

func TestPortfolioParamsNormalizedWeightsScalesToSum1(t *testing.T) {
	p := &PortfolioParams{
		InstrumentIDs: []string{"A", "B"},
		Weights:       map[string]float64{"A": 3, "B": 1},
	}
	w := p.NormalizedWeights()
	assert.InDelta(t, 0.75, w["A"], 1e-9)
	assert.InDelta(t, 0.25, w["B"], 1e-9)
}

func TestPortfolioParamsParamFallback(t *testing.T) {
	p := &PortfolioParams{Parameters: map[string]string{"tax": "true"}}
	assert.Equal(t, "true", p.Param("tax", "false"))
	assert.Equal(t, "fallback", p.Param("missing", "fallback"))
}

func TestPropertyBagRoundTrip(t *testing.T) {
	bag := NewPropertyBag()
	bag.SetFloat("f", 3.5)
	bag.SetInt("i", 7)
	bag.SetText("t", "hello")
	bag.SetBlob("b", []int{1, 2, 3})

	f, err := bag.GetFloat("f")
	require.NoError(t, err)
	assert.Equal(t, 3.5, f)

	i, err := bag.GetInt("i")
	require.NoError(t, err)
	assert.Equal(t, int64(7), i)

	text, err := bag.GetText("t")
	require.NoError(t, err)
	assert.Equal(t, "hello", text)

	blob, err := bag.GetBlob("b")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, blob)
}

func TestPropertyBagTypeMismatch(t *testing.T) {
	bag := NewPropertyBag()
	bag.SetFloat("f", 1.0)
	_, err := bag.GetInt("f")
	require.Error(t, err)
	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, TypeMismatch, e.Kind)
}

func TestPropertyBagNotFound(t *testing.T) {
	bag := NewPropertyBag()
	_, err := bag.GetFloat("missing")
	var e *Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, PropertyNotFound, e.Kind)
}

func TestAddLotAndRemoveSharesTracksHoldings(t *testing.T) {
	ctx := NewTradingContext([]string{"A"}, 10000)
	ctx.AddLot("A", Lot{PurchaseDate: day(2024, 1, 1), Quantity: 10, CostBasisPerShare: 100})
	ctx.AddLot("A", Lot{PurchaseDate: day(2024, 1, 2), Quantity: 5, CostBasisPerShare: 110})
	assert.Equal(t, 15.0, ctx.Holdings["A"])
	assert.InDelta(t, 15.0, ctx.LotQuantitySum("A"), shareEpsilon)

	consumed := ctx.RemoveShares("A", 12)
	assert.Equal(t, 3.0, ctx.Holdings["A"])
	assert.InDelta(t, 3.0, ctx.LotQuantitySum("A"), shareEpsilon)

	var total float64
	for _, l := range consumed {
		total += l.Quantity
	}
	assert.InDelta(t, 12.0, total, 1e-9)
}

func TestRemoveSharesSnapsDriftToZero(t *testing.T) {
	ctx := NewTradingContext([]string{"A"}, 1000)
	ctx.AddLot("A", Lot{PurchaseDate: day(2024, 1, 1), Quantity: 10, CostBasisPerShare: 100})
	ctx.RemoveShares("A", 10-1e-5)
	assert.Equal(t, 0.0, ctx.Holdings["A"])
	assert.Empty(t, ctx.TaxLots["A"])
}

func TestSortedDatesAscending(t *testing.T) {
	m := map[Timestamp]float64{
		day(2024, 3, 1): 1,
		day(2024, 1, 1): 2,
		day(2024, 2, 1): 3,
	}
	dates := SortedDates(m)
	require.Len(t, dates, 3)
	assert.True(t, dates[0].Before(dates[1]))
	assert.True(t, dates[1].Before(dates[2]))
}

func TestAttributeValueAsFloat(t *testing.T) {
	f, ok := Float(4.2).AsFloat()
	assert.True(t, ok)
	assert.Equal(t, 4.2, f)

	i, ok := Int(9).AsFloat()
	assert.True(t, ok)
	assert.Equal(t, 9.0, i)

	_, ok = Text("nope").AsFloat()
	assert.False(t, ok)
}

func TestTradeResultIsZero(t *testing.T) {
	assert.True(t, TradeResult{}.IsZero())
	assert.False(t, TradeResult{Shares: 1, Price: 10, Total: 10}.IsZero())
}
