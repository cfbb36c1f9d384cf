package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLastKnownPriceExactMatch(t *testing.T) {
	ctx := NewTradingContext([]string{"A"}, 1000)
	ctx.PriceData["A"][day(2024, 1, 1)] = 100
	ctx.PriceData["A"][day(2024, 1, 2)] = 105

	p, ok := LastKnownPrice(ctx, "A", day(2024, 1, 2))
	require.True(t, ok)
	assert.Equal(t, 105.0, p)
}

func TestLastKnownPriceForwardFillsToMostRecentPriorDate(t *testing.T) {
	ctx := NewTradingContext([]string{"A"}, 1000)
	ctx.PriceData["A"][day(2024, 1, 1)] = 100

	p, ok := LastKnownPrice(ctx, "A", day(2024, 1, 5))
	require.True(t, ok)
	assert.Equal(t, 100.0, p)
}

func TestLastKnownPriceFalseWhenNoPriorData(t *testing.T) {
	ctx := NewTradingContext([]string{"A"}, 1000)
	ctx.PriceData["A"][day(2024, 1, 5)] = 100

	_, ok := LastKnownPrice(ctx, "A", day(2024, 1, 1))
	assert.False(t, ok)
}

func TestIsDelistedAfterLastKnownDate(t *testing.T) {
	ctx := NewTradingContext([]string{"A"}, 1000)
	ctx.PriceData["A"][day(2024, 1, 1)] = 100
	ctx.PriceData["A"][day(2024, 1, 4)] = 102

	assert.False(t, IsDelisted(ctx, "A", day(2024, 1, 4)))
	assert.True(t, IsDelisted(ctx, "A", day(2024, 1, 5)))
}

func TestPortfolioValueSumsCashAndHoldings(t *testing.T) {
	ctx := NewTradingContext([]string{"A", "B"}, 500)
	ctx.PriceData["A"][day(2024, 1, 1)] = 10
	ctx.PriceData["B"][day(2024, 1, 1)] = 20
	ctx.Holdings["A"] = 3
	ctx.Holdings["B"] = 2

	v := PortfolioValue(ctx, day(2024, 1, 1))
	assert.Equal(t, 500.0+30.0+40.0, v)
}
