package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/bobmcallan/backtestd/internal/engine"
)

func day(d int) engine.Timestamp {
	return engine.NewTimestamp(time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC))
}

func dv(d int, v float64) engine.DailyValue {
	return engine.DailyValue{Date: day(d), Value: v}
}

func TestAssembleEmptyDailyValuesReturnsZeroedResult(t *testing.T) {
	res := Assemble(Inputs{InitialCapital: 1000})
	assert.Equal(t, 0.0, res.FinalValue)
	assert.Equal(t, 0, res.TradingDays)
}

func TestAssembleConstantPriceNoDividendsIsFlat(t *testing.T) {
	values := []engine.DailyValue{dv(1, 1000), dv(2, 1000), dv(3, 1000)}
	res := Assemble(Inputs{DailyValues: values, InitialCapital: 1000})
	assert.Equal(t, 0.0, res.TotalReturnPct)
	assert.Equal(t, 0.0, res.VolatilityPct)
	assert.Equal(t, 0.0, res.MaxDrawdownPct)
	assert.Equal(t, 0.0, res.SharpeRatio)
}

func TestAssembleFinalValueEqualsLastDailyValue(t *testing.T) {
	values := []engine.DailyValue{dv(1, 1000), dv(2, 1050), dv(3, 1090)}
	res := Assemble(Inputs{DailyValues: values, InitialCapital: 1000})
	assert.Equal(t, values[len(values)-1].Value, res.FinalValue)
}

func TestAssembleTotalReturnMatchesMonotoneGrowthSeed(t *testing.T) {
	values := []engine.DailyValue{dv(1, 100000), dv(2, 109000)}
	res := Assemble(Inputs{DailyValues: values, InitialCapital: 100000})
	assert.InDelta(t, 9.0, res.TotalReturnPct, 1e-9)
}

func TestAssembleMaxDrawdownTracksPeakToTroughDecline(t *testing.T) {
	values := []engine.DailyValue{dv(1, 100), dv(2, 120), dv(3, 90), dv(4, 110)}
	res := Assemble(Inputs{DailyValues: values, InitialCapital: 100})
	expected := (120.0 - 90.0) / 120.0 * 100
	assert.InDelta(t, expected, res.MaxDrawdownPct, 1e-9)
}

func TestAssembleDividendYieldPctRelativeToInitialCapital(t *testing.T) {
	values := []engine.DailyValue{dv(1, 100000), dv(2, 100000)}
	res := Assemble(Inputs{DailyValues: values, InitialCapital: 100000, TotalDividends: 10000, DividendPayments: 1})
	assert.InDelta(t, 10.0, res.DividendYieldPct, 1e-9)
}

func TestAssembleTaxSummaryPopulatesTaxFields(t *testing.T) {
	values := []engine.DailyValue{dv(1, 1000), dv(2, 1200)}
	taxSummary := &engine.TaxSummary{TotalTax: 26}
	res := Assemble(Inputs{DailyValues: values, InitialCapital: 1000, TaxEnabled: true, TaxSummary: taxSummary})
	assert.Equal(t, taxSummary, res.TaxSummary)
	assert.Equal(t, 26.0, res.TotalTaxesPaid)
}

func TestAssembleInflationAdjustsRealValues(t *testing.T) {
	values := []engine.DailyValue{dv(1, 1000), dv(2, 1100)}
	res := Assemble(Inputs{DailyValues: values, InitialCapital: 1000, InflationEnabled: true, CumulativeInflationPct: 10})
	require := 1100.0 / 1.10
	assert.InDelta(t, require, res.Inflation.RealFinalValue, 1e-9)
}
