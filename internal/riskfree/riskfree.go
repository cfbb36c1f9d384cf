// Package riskfree builds the daily risk-free-rate series used by the
// metrics assembler's Sharpe ratio, either from a fixed annual rate or from
// an instrument's own price history.
package riskfree

import (
	"context"
	"math"

	"github.com/bobmcallan/backtestd/internal/engine"
	"github.com/bobmcallan/backtestd/internal/store"
)

// Series is a daily risk-free return series aligned to the trading
// calendar.
type Series struct {
	Daily []float64
}

// FromAnnualRate emits a constant daily series d = (1+a)^(1/252) - 1 of
// length n, where a is the annual rate as a fraction (e.g. 0.07).
func FromAnnualRate(annualRate float64, n int) *Series {
	d := math.Pow(1+annualRate, 1.0/252) - 1
	out := make([]float64, n)
	for i := range out {
		out[i] = d
	}
	return &Series{Daily: out}
}

// FromInstrument loads instrumentID's closes over the given trading days,
// forward-fills (last known), then backward-fills any leading gap, and
// computes simple daily returns. Fails if every observation is missing.
func FromInstrument(ctx context.Context, s store.AttributeStore, instrumentID string, days []engine.Timestamp) (*Series, error) {
	if len(days) == 0 {
		return &Series{}, nil
	}
	closes, err := store.ReadCloses(ctx, s, instrumentID, days[0], days[len(days)-1], "")
	if err != nil {
		return nil, err
	}
	if len(closes) == 0 {
		return nil, engine.NewError(engine.StoreError, "risk_free_from_instrument",
			"no observations at all for "+instrumentID)
	}

	prices := make([]float64, len(days))
	last := 0.0
	haveLast := false
	for i, d := range days {
		if p, ok := closes[d]; ok {
			last = p
			haveLast = true
		}
		if haveLast {
			prices[i] = last
		}
	}
	// Backward-fill any leading gap (logged by the caller if desired).
	if prices[0] == 0 {
		firstKnown := 0.0
		for _, p := range prices {
			if p != 0 {
				firstKnown = p
				break
			}
		}
		for i := range prices {
			if prices[i] == 0 {
				prices[i] = firstKnown
			} else {
				break
			}
		}
	}

	daily := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] == 0 {
			daily = append(daily, 0)
			continue
		}
		daily = append(daily, (prices[i]-prices[i-1])/prices[i-1])
	}
	return &Series{Daily: daily}, nil
}

// MeanDailyReturn returns the arithmetic mean of the daily series.
func (s *Series) MeanDailyReturn() float64 {
	if len(s.Daily) == 0 {
		return 0
	}
	sum := 0.0
	for _, r := range s.Daily {
		sum += r
	}
	return sum / float64(len(s.Daily))
}

// AnnualizedPct compounds the mean daily return over 252 trading days,
// expressed as a percentage.
func (s *Series) AnnualizedPct() float64 {
	mean := s.MeanDailyReturn()
	return (math.Pow(1+mean, 252) - 1) * 100
}
