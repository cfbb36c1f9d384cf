// Package strategy defines the pluggable buy/sell policy contract the
// driver calls once per trading day, plus the reference buy-and-hold
// rebalancing strategy.
package strategy

import "github.com/bobmcallan/backtestd/internal/engine"

// Strategy is a set of three callbacks over the trading context. The
// buy/sell callbacks must only read context state and their own
// property-bag slots; they mutate nothing directly — the driver applies
// the returned engine.TradeResult atomically.
type Strategy interface {
	Initialize(ctx *engine.TradingContext, params *engine.PortfolioParams) error
	Sell(instrumentID string, ctx *engine.TradingContext, params *engine.PortfolioParams) (engine.TradeResult, error)
	Buy(instrumentID string, ctx *engine.TradingContext, params *engine.PortfolioParams) (engine.TradeResult, error)
}
