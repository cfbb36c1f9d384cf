// Package metrics turns a back-test's recorded daily values, dividend
// totals, and optional tax/inflation inputs into the final result scalars.
package metrics

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/bobmcallan/backtestd/internal/engine"
)

// Inputs bundles everything the assembler needs.
type Inputs struct {
	DailyValues       []engine.DailyValue
	InitialCapital    float64
	TotalDividends    float64
	DividendPayments  int
	RiskFreeAnnualPct float64

	TaxEnabled bool
	TaxSummary *engine.TaxSummary

	InflationEnabled       bool
	CumulativeInflationPct float64
}

// Assemble computes every scalar in engine.BacktestResult from Inputs.
func Assemble(in Inputs) *engine.BacktestResult {
	res := &engine.BacktestResult{
		DailyValues:      in.DailyValues,
		TradingDays:      len(in.DailyValues),
		TotalDividends:   in.TotalDividends,
		DividendPayments: in.DividendPayments,
	}
	if len(in.DailyValues) == 0 || in.InitialCapital <= 0 {
		return res
	}

	c0 := in.InitialCapital
	vn := in.DailyValues[len(in.DailyValues)-1].Value
	res.FinalValue = vn
	res.TotalReturnPct = (vn - c0) / c0 * 100

	years := float64(res.TradingDays) / 365.25
	if years > 0 {
		res.AnnualizedReturnPct = (math.Pow(vn/c0, 1/years) - 1) * 100
	}

	returns := dailyReturns(in.DailyValues)
	res.VolatilityPct = populationVolatilityPct(returns)
	res.MaxDrawdownPct = maxDrawdownPct(in.DailyValues)

	if res.VolatilityPct != 0 {
		res.SharpeRatio = (res.AnnualizedReturnPct - in.RiskFreeAnnualPct) / res.VolatilityPct
	}

	if c0 != 0 {
		res.DividendYieldPct = in.TotalDividends / c0 * 100
	}

	if in.TaxEnabled && in.TaxSummary != nil {
		res.TaxSummary = in.TaxSummary
		res.TotalTaxesPaid = in.TaxSummary.TotalTax
		res.AfterTaxReturnPct = res.TotalReturnPct
		if res.TotalReturnPct > 0 {
			res.TaxEfficiencyPct = res.AfterTaxReturnPct / res.TotalReturnPct * 100
		}
	}

	if in.InflationEnabled {
		realFinal := vn / (1 + in.CumulativeInflationPct/100)
		realTotalPct := (realFinal - c0) / c0 * 100
		var realAnnualPct float64
		if years > 0 {
			realAnnualPct = (math.Pow(realFinal/c0, 1/years) - 1) * 100
		}
		res.Inflation = &engine.InflationSummary{
			CumulativeInflationPct:  in.CumulativeInflationPct,
			RealFinalValue:          realFinal,
			RealTotalReturnPct:      realTotalPct,
			RealAnnualizedReturnPct: realAnnualPct,
		}
	}

	return res
}

func dailyReturns(values []engine.DailyValue) []float64 {
	if len(values) < 2 {
		return nil
	}
	out := make([]float64, 0, len(values)-1)
	for i := 1; i < len(values); i++ {
		prev := values[i-1].Value
		if prev <= 0 {
			continue
		}
		out = append(out, (values[i].Value-prev)/prev)
	}
	return out
}

// populationVolatilityPct computes population stddev(r) * sqrt(252) * 100
// using gonum's population-variant accumulator (divisor n, not n-1).
func populationVolatilityPct(returns []float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	mean := stat.Mean(returns, nil)
	popStd := stat.PopStdDev(returns, nil)
	_ = mean
	return popStd * math.Sqrt(252) * 100
}

func maxDrawdownPct(values []engine.DailyValue) float64 {
	if len(values) == 0 {
		return 0
	}
	peak := values[0].Value
	maxDD := 0.0
	for _, v := range values {
		if v.Value > peak {
			peak = v.Value
		}
		if peak <= 0 {
			continue
		}
		dd := (peak - v.Value) / peak * 100
		if dd > maxDD {
			maxDD = dd
		}
	}
	return maxDD
}
