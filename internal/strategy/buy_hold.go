package strategy

import (
	"math"
	"strconv"

	"github.com/bobmcallan/backtestd/internal/engine"
)

// BuyHold is the reference strategy: buy-and-hold with periodic weight
// rebalancing, threshold-gated trades, and accumulated-cash reinvestment.
type BuyHold struct{}

var _ Strategy = BuyHold{}

func (BuyHold) Initialize(ctx *engine.TradingContext, params *engine.PortfolioParams) error {
	return nil
}

func minRebalanceThresholdFraction(params *engine.PortfolioParams) float64 {
	v, err := strconv.ParseFloat(params.Param("min_rebalance_threshold", "1.00"), 64)
	if err != nil {
		v = 1.00
	}
	return v / 100
}

func targetWeight(params *engine.PortfolioParams, id string) float64 {
	return params.NormalizedWeights()[id]
}

// Sell implements the sell-side rules: delisting liquidation takes
// precedence, then end-of-backtest liquidation, then threshold-gated
// rebalance sells.
func (BuyHold) Sell(instrumentID string, ctx *engine.TradingContext, params *engine.PortfolioParams) (engine.TradeResult, error) {
	shares := ctx.Holdings[instrumentID]
	if shares <= 0 {
		return engine.TradeResult{}, nil
	}

	if engine.IsDelisted(ctx, instrumentID, ctx.CurrentDate) {
		lastDate, ok := engine.LastKnownDate(ctx, instrumentID)
		if !ok {
			return engine.TradeResult{}, nil
		}
		price := ctx.PriceData[instrumentID][lastDate]
		return sellAll(shares, price, "delisting (last known price)"), nil
	}

	price, ok := engine.LastKnownPrice(ctx, instrumentID, ctx.CurrentDate)
	if !ok {
		return engine.TradeResult{}, nil
	}

	if ctx.IsLastDay {
		return sellAll(shares, price, "end of backtest"), nil
	}

	if ctx.IsRebalanceDay {
		v := engine.PortfolioValue(ctx, ctx.CurrentDate)
		t := v * targetWeight(params, instrumentID)
		c := shares * price
		excess := c - t
		threshold := minRebalanceThresholdFraction(params) * v
		if excess > threshold {
			sellShares := math.Floor(excess / price)
			if sellShares > shares {
				sellShares = math.Floor(shares)
			}
			if sellShares > 0 {
				return engine.TradeResult{
					Shares: uint64(sellShares),
					Price:  price,
					Total:  sellShares * price,
					Reason: "rebalance",
				}, nil
			}
		}
	}

	return engine.TradeResult{}, nil
}

func sellAll(shares, price float64, reason string) engine.TradeResult {
	n := math.Floor(shares)
	if n <= 0 {
		return engine.TradeResult{}
	}
	return engine.TradeResult{Shares: uint64(n), Price: price, Total: n * price, Reason: reason}
}

// deficitPlan is the deficit/totalDeficit snapshot for a single Buy call,
// recomputed against live ctx.Holdings/ctx.CashBalance on every invocation so
// an instrument bought earlier in the same phase is reflected in the next
// instrument's share of the remaining cash.
type deficitPlan struct {
	deficits     map[string]float64
	totalDeficit float64
}

func computeDeficitPlan(ctx *engine.TradingContext, params *engine.PortfolioParams) deficitPlan {
	weights := params.NormalizedWeights()
	v := engine.PortfolioValue(ctx, ctx.CurrentDate)
	threshold := minRebalanceThresholdFraction(params) * v

	dp := deficitPlan{deficits: make(map[string]float64, len(weights))}
	for id, w := range weights {
		shares := ctx.Holdings[id]
		price, ok := engine.LastKnownPrice(ctx, id, ctx.CurrentDate)
		if !ok {
			continue
		}
		c := shares * price
		t := v * w
		d := t - c
		if d < 0 {
			d = 0
		}
		if d < threshold {
			d = 0
		}
		dp.deficits[id] = d
		dp.totalDeficit += d
	}
	return dp
}

// Buy implements the buy-side rules: initial deployment / rebalance buys
// spread cash across deficits proportionally (or by weight when nothing is
// in deficit); reinvestment buys are scoped to the instrument's own
// weight share of accumulated cash.
func (BuyHold) Buy(instrumentID string, ctx *engine.TradingContext, params *engine.PortfolioParams) (engine.TradeResult, error) {
	if ctx.IsLastDay {
		return engine.TradeResult{}, nil
	}

	isBuyDay := ctx.DayIndex == 0 || ctx.IsRebalanceDay || ctx.IsReinvestment
	if !isBuyDay {
		return engine.TradeResult{}, nil
	}

	price, ok := engine.LastKnownPrice(ctx, instrumentID, ctx.CurrentDate)
	if !ok {
		return engine.TradeResult{}, nil
	}

	weight := targetWeight(params, instrumentID)
	var allocation float64

	dp := computeDeficitPlan(ctx, params)
	d := dp.deficits[instrumentID]

	if ctx.IsReinvestment && !ctx.IsRebalanceDay && ctx.DayIndex != 0 {
		byWeight := ctx.CashBalance * weight
		allocation = math.Min(d, byWeight)
	} else if dp.totalDeficit > 0 {
		allocation = ctx.CashBalance * d / dp.totalDeficit
	} else {
		allocation = ctx.CashBalance * weight
	}

	if allocation <= 0 || price <= 0 {
		return engine.TradeResult{}, nil
	}

	shares := math.Floor(allocation / price)
	if shares*price > ctx.CashBalance {
		shares = math.Floor(ctx.CashBalance / price)
	}
	if shares <= 0 {
		return engine.TradeResult{}, nil
	}

	reason := "buy"
	if ctx.IsRebalanceDay {
		reason = "rebalance buy"
	} else if ctx.IsReinvestment {
		reason = "reinvestment"
	} else if ctx.DayIndex == 0 {
		reason = "initial deployment"
	}

	return engine.TradeResult{
		Shares: uint64(shares),
		Price:  price,
		Total:  shares * price,
		Reason: reason,
	}, nil
}
