// Package inflation implements the Fisher-deflation real-return adjuster:
// monthly inflation binning and cumulative compounding over a date range.
package inflation

import (
	"context"
	"fmt"

	"github.com/bobmcallan/backtestd/internal/engine"
	"github.com/bobmcallan/backtestd/internal/store"
)

// monthKey is a "YYYY-MM" bin.
type monthKey struct {
	year  int
	month int
}

// Adjuster bins an inflation instrument's close series (monthly % rate) by
// calendar month, the latest observation within a month winning, and
// applies Fisher deflation to nominal returns.
type Adjuster struct {
	monthly map[monthKey]float64
}

// Build loads the inflation instrument's close series in [start, end] and
// bins it by month. An instrument with no observations yields an Adjuster
// whose AdjustReturn is the identity.
func Build(ctx context.Context, s store.AttributeStore, instrumentID string, start, end engine.Timestamp) (*Adjuster, error) {
	a := &Adjuster{monthly: make(map[monthKey]float64)}
	if instrumentID == "" {
		return a, nil
	}
	closes, err := store.ReadCloses(ctx, s, instrumentID, start, end, "")
	if err != nil {
		return nil, err
	}
	// Latest observation within a month wins: iterate dates ascending and
	// overwrite unconditionally.
	dates := engine.SortedDates(closes)
	for _, d := range dates {
		k := monthKey{d.Year(), int(d.Time().Month())}
		a.monthly[k] = closes[d]
	}
	return a, nil
}

// HasData reports whether any monthly inflation observation was loaded.
func (a *Adjuster) HasData() bool { return len(a.monthly) > 0 }

func monthsBetween(s, e engine.Timestamp) []monthKey {
	sy, sm := s.Year(), int(s.Time().Month())
	ey, em := e.Year(), int(e.Time().Month())
	var out []monthKey
	y, m := sy, sm
	for {
		out = append(out, monthKey{y, m})
		if y == ey && m == em {
			break
		}
		m++
		if m > 12 {
			m = 1
			y++
		}
	}
	return out
}

// CumulativeInflationPct iterates whole months from month(s) to month(e)
// inclusive: cum = Π (1 + monthly_rate/100) - 1, expressed in %. Months
// absent from the bin contribute 0%.
func (a *Adjuster) CumulativeInflationPct(s, e engine.Timestamp) float64 {
	product := 1.0
	for _, mk := range monthsBetween(s, e) {
		rate, ok := a.monthly[mk]
		if !ok {
			continue
		}
		product *= 1 + rate/100
	}
	return (product - 1) * 100
}

// AdjustReturn applies Fisher deflation to a nominal return rNom (as a
// fraction, not %) over [s, e]. An empty inflation series makes this the
// identity.
func (a *Adjuster) AdjustReturn(rNom float64, s, e engine.Timestamp) float64 {
	if len(a.monthly) == 0 {
		return rNom
	}
	cumPct := a.CumulativeInflationPct(s, e)
	rInf := cumPct / 100
	return (1+rNom)/(1+rInf) - 1
}

func (mk monthKey) String() string { return fmt.Sprintf("%04d-%02d", mk.year, mk.month) }
