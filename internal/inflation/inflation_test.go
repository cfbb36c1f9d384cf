package inflation

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/backtestd/internal/engine"
	"github.com/bobmcallan/backtestd/internal/store/memstore"
)

func ts(y int, m time.Month, d int) engine.Timestamp {
	return engine.NewTimestamp(time.Date(y, m, d, 0, 0, 0, 0, time.UTC))
}

func TestBuildWithEmptyInstrumentIDIsIdentity(t *testing.T) {
	a, err := Build(context.Background(), memstore.New(), "", ts(2024, 1, 1), ts(2024, 12, 31))
	require.NoError(t, err)
	assert.False(t, a.HasData())
	assert.Equal(t, 0.05, a.AdjustReturn(0.05, ts(2024, 1, 1), ts(2024, 12, 31)))
}

func TestAdjustReturnIsIdentityWhenNoObservationsLoaded(t *testing.T) {
	s := memstore.New()
	require.NoError(t, s.SaveInstrument(context.Background(), "CPI", "CPI", "index", "test"))
	a, err := Build(context.Background(), s, "CPI", ts(2024, 1, 1), ts(2024, 12, 31))
	require.NoError(t, err)
	assert.False(t, a.HasData())
	assert.InDelta(t, 0.10, a.AdjustReturn(0.10, ts(2024, 1, 1), ts(2024, 12, 31)), 1e-12)
}

func TestCumulativeInflationCompoundsMonthlyRates(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()
	require.NoError(t, s.SaveInstrument(ctx, "CPI", "CPI", "index", "test"))
	require.NoError(t, s.SaveAttribute(ctx, "CPI", "close", "test", ts(2024, 1, 15), engine.Float(1.0)))
	require.NoError(t, s.SaveAttribute(ctx, "CPI", "close", "test", ts(2024, 2, 15), engine.Float(1.0)))

	a, err := Build(ctx, s, "CPI", ts(2024, 1, 1), ts(2024, 2, 28))
	require.NoError(t, err)
	require.True(t, a.HasData())

	cum := a.CumulativeInflationPct(ts(2024, 1, 1), ts(2024, 2, 28))
	expected := (1.01*1.01 - 1) * 100
	assert.InDelta(t, expected, cum, 1e-9)
}

func TestMonthlyBinLatestObservationWins(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()
	require.NoError(t, s.SaveInstrument(ctx, "CPI", "CPI", "index", "test"))
	require.NoError(t, s.SaveAttribute(ctx, "CPI", "close", "test", ts(2024, 1, 5), engine.Float(2.0)))
	require.NoError(t, s.SaveAttribute(ctx, "CPI", "close", "test", ts(2024, 1, 25), engine.Float(3.0)))

	a, err := Build(ctx, s, "CPI", ts(2024, 1, 1), ts(2024, 1, 31))
	require.NoError(t, err)
	cum := a.CumulativeInflationPct(ts(2024, 1, 1), ts(2024, 1, 31))
	assert.InDelta(t, 3.0, cum, 1e-9)
}

func TestAdjustReturnAppliesFisherDeflation(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()
	require.NoError(t, s.SaveInstrument(ctx, "CPI", "CPI", "index", "test"))
	require.NoError(t, s.SaveAttribute(ctx, "CPI", "close", "test", ts(2024, 1, 15), engine.Float(5.0)))

	a, err := Build(ctx, s, "CPI", ts(2024, 1, 1), ts(2024, 1, 31))
	require.NoError(t, err)

	real := a.AdjustReturn(0.10, ts(2024, 1, 1), ts(2024, 1, 31))
	expected := (1.10)/(1.05) - 1
	assert.InDelta(t, expected, real, 1e-9)
}

func TestMissingMonthsContributeZero(t *testing.T) {
	s := memstore.New()
	ctx := context.Background()
	require.NoError(t, s.SaveInstrument(ctx, "CPI", "CPI", "index", "test"))
	require.NoError(t, s.SaveAttribute(ctx, "CPI", "close", "test", ts(2024, 1, 15), engine.Float(2.0)))

	a, err := Build(ctx, s, "CPI", ts(2024, 1, 1), ts(2024, 3, 31))
	require.NoError(t, err)
	cum := a.CumulativeInflationPct(ts(2024, 1, 1), ts(2024, 3, 31))
	assert.InDelta(t, 2.0, cum, 1e-9)
}
