package tax

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/backtestd/internal/engine"
)

func ts(y int, m time.Month, d int) engine.Timestamp {
	return engine.NewTimestamp(time.Date(y, m, d, 0, 0, 0, 0, time.UTC))
}

func TestParseLotMethodDefaultsToFIFO(t *testing.T) {
	assert.Equal(t, FIFO, ParseLotMethod("bogus"))
	assert.Equal(t, LIFO, ParseLotMethod("LIFO"))
	assert.Equal(t, MinimizeTax, ParseLotMethod("MinimizeTax"))
}

func TestRecordSaleRejectsNonPositiveQty(t *testing.T) {
	c := New(0.13, false, FIFO, 0)
	_, err := c.RecordSale("A", 0, 100, ts(2024, 1, 1), nil)
	require.Error(t, err)
	var e *engine.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, engine.TaxError, e.Kind)
}

func TestRecordSaleRejectsInsufficientInventory(t *testing.T) {
	c := New(0.13, false, FIFO, 0)
	lots := []engine.Lot{{PurchaseDate: ts(2024, 1, 1), Quantity: 5, CostBasisPerShare: 100}}
	_, err := c.RecordSale("A", 10, 120, ts(2024, 2, 1), lots)
	require.Error(t, err)
}

func TestRecordSaleFIFOConsumesOldestFirst(t *testing.T) {
	c := New(0.13, false, FIFO, 0)
	lots := []engine.Lot{
		{PurchaseDate: ts(2024, 1, 2), Quantity: 5, CostBasisPerShare: 110},
		{PurchaseDate: ts(2024, 1, 1), Quantity: 5, CostBasisPerShare: 100},
	}
	txns, err := c.RecordSale("A", 5, 150, ts(2024, 3, 1), lots)
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, 100.0, txns[0].CostBasisPerShare)
}

func TestRecordSaleLIFOConsumesNewestFirst(t *testing.T) {
	c := New(0.13, false, LIFO, 0)
	lots := []engine.Lot{
		{PurchaseDate: ts(2024, 1, 1), Quantity: 5, CostBasisPerShare: 100},
		{PurchaseDate: ts(2024, 1, 2), Quantity: 5, CostBasisPerShare: 110},
	}
	txns, err := c.RecordSale("A", 5, 150, ts(2024, 3, 1), lots)
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, 110.0, txns[0].CostBasisPerShare)
}

func TestRecordSaleMinimizeTaxPrefersHighestCostBasis(t *testing.T) {
	c := New(0.13, false, MinimizeTax, 0)
	lots := []engine.Lot{
		{PurchaseDate: ts(2024, 1, 1), Quantity: 5, CostBasisPerShare: 90},
		{PurchaseDate: ts(2024, 1, 2), Quantity: 5, CostBasisPerShare: 140},
	}
	txns, err := c.RecordSale("A", 5, 150, ts(2024, 3, 1), lots)
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, 140.0, txns[0].CostBasisPerShare)
}

func TestFinalizeShortTermGainMatchesSeedScenario(t *testing.T) {
	c := New(0.13, false, FIFO, 0)
	lots := []engine.Lot{{PurchaseDate: ts(2024, 1, 1), Quantity: 100, CostBasisPerShare: 100}}
	_, err := c.RecordSale("A", 100, 120, ts(2024, 6, 1), lots)
	require.NoError(t, err)

	summary := c.Finalize()
	assert.InDelta(t, 2000.0, summary.TotalGains, 1e-9)
	assert.InDelta(t, 260.0, summary.CapitalGainsTax, 1e-6)
	assert.InDelta(t, 0.0, summary.DividendTax, 1e-9)
	assert.InDelta(t, summary.CapitalGainsTax+summary.DividendTax, summary.TotalTax, 1e-9)
}

func TestFinalizeLongTermExemptionExcludesOldLots(t *testing.T) {
	c := New(0.13, true, FIFO, 0)
	lots := []engine.Lot{{PurchaseDate: ts(2020, 1, 1), Quantity: 100, CostBasisPerShare: 100}}
	_, err := c.RecordSale("A", 100, 120, ts(2024, 6, 1), lots)
	require.NoError(t, err)

	summary := c.Finalize()
	assert.InDelta(t, 2000.0, summary.ExemptGain, 1e-9)
	assert.Equal(t, 0.0, summary.TaxableGain)
	assert.Equal(t, 0.0, summary.CapitalGainsTax)
}

func TestFinalizeLossesOffsetGainsBeforeTax(t *testing.T) {
	c := New(0.13, false, FIFO, 0)
	winLots := []engine.Lot{{PurchaseDate: ts(2024, 1, 1), Quantity: 100, CostBasisPerShare: 100}}
	_, err := c.RecordSale("A", 100, 120, ts(2024, 6, 1), winLots)
	require.NoError(t, err)
	lossLots := []engine.Lot{{PurchaseDate: ts(2024, 1, 1), Quantity: 100, CostBasisPerShare: 100}}
	_, err = c.RecordSale("B", 100, 90, ts(2024, 6, 1), lossLots)
	require.NoError(t, err)

	summary := c.Finalize()
	assert.InDelta(t, 2000.0, summary.TotalGains, 1e-9)
	assert.InDelta(t, 1000.0, summary.TotalLosses, 1e-9)
	assert.InDelta(t, 1000.0, summary.TaxableGain, 1e-9)
}

func TestFinalizeNetLossBecomesCarryforward(t *testing.T) {
	c := New(0.13, false, FIFO, 0)
	lossLots := []engine.Lot{{PurchaseDate: ts(2024, 1, 1), Quantity: 100, CostBasisPerShare: 100}}
	_, err := c.RecordSale("A", 100, 80, ts(2024, 6, 1), lossLots)
	require.NoError(t, err)

	summary := c.Finalize()
	assert.Equal(t, 0.0, summary.CapitalGainsTax)
	assert.InDelta(t, 2000.0, summary.CarryforwardLoss, 1e-9)
}

func TestFinalizeUsesImportedCarryforwardAgainstNewGains(t *testing.T) {
	c := New(0.13, false, FIFO, 3000)
	winLots := []engine.Lot{{PurchaseDate: ts(2024, 1, 1), Quantity: 100, CostBasisPerShare: 100}}
	_, err := c.RecordSale("A", 100, 120, ts(2024, 6, 1), winLots)
	require.NoError(t, err)

	summary := c.Finalize()
	assert.InDelta(t, 2000.0, summary.CarryforwardUsed, 1e-9)
	assert.Equal(t, 0.0, summary.TaxableGain)
	assert.Equal(t, 0.0, summary.CapitalGainsTax)
	assert.InDelta(t, 1000.0, summary.CarryforwardLoss, 1e-9)
}

func TestTaxConservationLaw(t *testing.T) {
	c := New(0.2, false, FIFO, 500)
	winLots := []engine.Lot{{PurchaseDate: ts(2024, 1, 1), Quantity: 100, CostBasisPerShare: 100}}
	_, err := c.RecordSale("A", 100, 150, ts(2024, 6, 1), winLots)
	require.NoError(t, err)
	c.RecordDividend(1000)

	s := c.Finalize()
	assert.InDelta(t, s.CapitalGainsTax+s.DividendTax, s.TotalTax, 1e-9)

	netBeforeCarry := (s.TotalGains - s.ExemptGain) - s.TotalLosses
	lhs := s.TotalGains - s.ExemptGain - s.TotalLosses
	if netBeforeCarry < 0 {
		lhs += -netBeforeCarry
	}
	rhs := s.TaxableGain - s.CarryforwardLoss + s.CarryforwardUsed
	assert.InDelta(t, lhs, rhs, 1e-6)
}

func TestPayYearEndTaxReportsShortfall(t *testing.T) {
	paid, shortfall := PayYearEndTax(100, Summary{TotalTax: 260})
	assert.Equal(t, 100.0, paid)
	assert.InDelta(t, 160.0, shortfall, 1e-9)

	paid, shortfall = PayYearEndTax(500, Summary{TotalTax: 260})
	assert.Equal(t, 260.0, paid)
	assert.Equal(t, 0.0, shortfall)
}

func TestResetForNewYearAdoptsLeftoverLoss(t *testing.T) {
	c := New(0.13, false, FIFO, 0)
	lots := []engine.Lot{{PurchaseDate: ts(2024, 1, 1), Quantity: 100, CostBasisPerShare: 100}}
	_, err := c.RecordSale("A", 100, 80, ts(2024, 6, 1), lots)
	require.NoError(t, err)
	summary := c.Finalize()

	c.ResetForNewYear(summary.CarryforwardLoss)
	assert.InDelta(t, summary.CarryforwardLoss, c.CarryforwardLoss(), 1e-9)

	// New year with no transactions settles to zero tax.
	fresh := c.Finalize()
	assert.Equal(t, 0.0, fresh.CapitalGainsTax)
}
