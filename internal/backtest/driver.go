// Package backtest implements the back-test driver: the template-method
// pipeline that validates a portfolio definition, builds the trading
// calendar, loads prices and dividends, and walks the calendar day by day
// applying strategy decisions while tracking cash, holdings, and tax lots.
//
// It sits above internal/engine (data model, errors), internal/calendar,
// internal/tax, internal/dividend, internal/inflation, internal/riskfree,
// internal/metrics, and internal/store, wiring them together for one run.
package backtest

import (
	"context"
	"math"
	"strconv"

	"github.com/bobmcallan/backtestd/internal/calendar"
	"github.com/bobmcallan/backtestd/internal/common"
	"github.com/bobmcallan/backtestd/internal/dividend"
	"github.com/bobmcallan/backtestd/internal/engine"
	"github.com/bobmcallan/backtestd/internal/inflation"
	"github.com/bobmcallan/backtestd/internal/metrics"
	"github.com/bobmcallan/backtestd/internal/riskfree"
	"github.com/bobmcallan/backtestd/internal/store"
	"github.com/bobmcallan/backtestd/internal/tax"
)

// Strategy is the buy/sell policy the driver calls once per trading day.
// internal/strategy.BuyHold (and any other policy implementing these three
// methods) satisfies this interface structurally.
type Strategy interface {
	Initialize(ctx *engine.TradingContext, params *engine.PortfolioParams) error
	Sell(instrumentID string, ctx *engine.TradingContext, params *engine.PortfolioParams) (engine.TradeResult, error)
	Buy(instrumentID string, ctx *engine.TradingContext, params *engine.PortfolioParams) (engine.TradeResult, error)
}

// reinvestmentThreshold is the fraction of portfolio value above which
// idle cash triggers a reinvestment buy on a non-rebalance day.
const reinvestmentThreshold = 0.05

// RunOptions carries optional collaborators for a single back-test.
type RunOptions struct {
	Logger *common.Logger
}

// Run executes one back-test and returns its result.
func Run(ctx context.Context, s store.AttributeStore, params *engine.PortfolioParams, strat Strategy, start, end engine.Timestamp, opts RunOptions) (*engine.BacktestResult, error) {
	logger := opts.Logger
	if logger == nil {
		logger = common.NewSilentLogger()
	}

	if err := validate(s, params, start, end); err != nil {
		return nil, err
	}

	calendarInstrument := params.Param("calendar", "IMOEX")
	cal, err := calendar.Build(ctx, s, calendarInstrument, params.InstrumentIDs, start, end)
	if err != nil {
		return nil, err
	}
	if len(cal.Days) == 0 {
		return nil, engine.NewError(engine.CalendarUnavailable, "build_calendar", "calendar has no trading days")
	}

	inflationInstrument := params.Param("inflation", "INF")
	adjuster, err := inflation.Build(ctx, s, inflationInstrument, start, end)
	if err != nil {
		return nil, err
	}

	tctx := engine.NewTradingContext(params.InstrumentIDs, params.InitialCapital)
	for _, id := range params.InstrumentIDs {
		closes, err := store.ReadCloses(ctx, s, id, start, end, "")
		if err != nil {
			return nil, engine.Wrap(engine.StoreError, "load_prices", err)
		}
		tctx.PriceData[id] = closes
	}

	divIdx, err := dividend.Build(ctx, s, params.InstrumentIDs, start, end)
	if err != nil {
		return nil, engine.Wrap(engine.StoreError, "load_dividends", err)
	}
	for _, id := range params.InstrumentIDs {
		tctx.DividendData[id] = divIdx.All(id)
	}

	if err := strat.Initialize(tctx, params); err != nil {
		return nil, err
	}

	taxEnabled := params.Param("tax", "false") == "true"
	var taxCalc *tax.Calculator
	if taxEnabled {
		rate := parseFloatDefault(params.Param("ndfl_rate", "0.13"), 0.13)
		longTerm := params.Param("long_term_exemption", "true") == "true"
		method := tax.ParseLotMethod(params.Param("lot_method", "FIFO"))
		importedLosses := parseFloatDefault(params.Param("import_losses", "0"), 0)
		taxCalc = tax.New(rate, longTerm, method, importedLosses)
	}

	riskFreeAnnualPct := parseFloatDefault(params.Param("risk_free_rate", "7.0"), 7.0)
	riskFreeInstrument := params.Param("risk_free_instrument", "")
	var rf *riskfree.Series
	if riskFreeInstrument != "" {
		rf, err = riskfree.FromInstrument(ctx, s, riskFreeInstrument, cal.Days)
		if err != nil {
			return nil, err
		}
	} else {
		rf = riskfree.FromAnnualRate(riskFreeAnnualPct/100, len(cal.Days))
	}

	d := &driver{
		store:      s,
		params:     params,
		strat:      strat,
		cal:        cal,
		adjuster:   adjuster,
		divIdx:     divIdx,
		tax:        taxCalc,
		rf:         rf,
		logger:     logger,
		ctx:        tctx,
		weights:    params.NormalizedWeights(),
	}

	if err := d.runLoop(ctx); err != nil {
		return nil, err
	}

	return d.finalize(start, end), nil
}

func validate(s store.AttributeStore, params *engine.PortfolioParams, start, end engine.Timestamp) error {
	if s == nil {
		return engine.NewError(engine.InvalidInput, "validate", "store handle is unset")
	}
	if params.InitialCapital <= 0 {
		return engine.NewError(engine.InvalidInput, "validate", "initial capital must be positive")
	}
	if !end.After(start) && !end.Equal(start) {
		return engine.NewError(engine.InvalidInput, "validate", "end date must not precede start date")
	}
	if len(params.InstrumentIDs) == 0 {
		return engine.NewError(engine.InvalidInput, "validate", "instrument list is empty")
	}
	return nil
}

func parseFloatDefault(s string, fallback float64) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fallback
	}
	return v
}

type driver struct {
	store    store.AttributeStore
	params   *engine.PortfolioParams
	strat    Strategy
	cal      *calendar.Calendar
	adjuster *inflation.Adjuster
	divIdx   *dividend.Index
	tax      *tax.Calculator
	rf       *riskfree.Series
	logger   *common.Logger
	ctx      *engine.TradingContext
	weights  map[string]float64

	dailyValues    []engine.DailyValue
	trades         []engine.Trade
	totalDividends float64
	dividendCount  int
	warnings       []string
	taxAgg         engine.TaxSummary
	totalTaxesPaid float64
}

func (d *driver) runLoop(ctx context.Context) error {
	n := len(d.cal.Days)
	for i, current := range d.cal.Days {
		var previous engine.Timestamp
		if i == 0 {
			previous = current
		} else {
			previous = d.cal.Days[i-1]
		}

		d.ctx.CurrentDate = current
		d.ctx.DayIndex = i
		d.ctx.IsLastDay = i == n-1
		period := int(parseFloatDefault(d.params.Param("rebalance_period", "0"), 0))
		d.ctx.IsRebalanceDay = period > 0 && i%period == 0
		if d.ctx.IsLastDay {
			d.ctx.IsLastDayOfYear = true
		} else {
			d.ctx.IsLastDayOfYear = current.Year() < d.cal.Days[i+1].Year()
		}

		d.collectDividends(previous, current)

		if d.ctx.IsRebalanceDay || d.ctx.IsLastDay {
			d.sellPhase(current)
		}

		d.ctx.IsReinvestment = false
		doBuy := false
		switch {
		case i == 0:
			doBuy = true
		case d.ctx.IsRebalanceDay:
			doBuy = true
		case !d.ctx.IsLastDay:
			v := engine.PortfolioValue(d.ctx, current)
			if v > 0 && d.ctx.CashBalance/v > reinvestmentThreshold {
				doBuy = true
				d.ctx.IsReinvestment = true
			}
		}
		if doBuy && !d.ctx.IsLastDay {
			d.buyPhase(current)
		}

		d.dailyValues = append(d.dailyValues, engine.DailyValue{Date: current, Value: engine.PortfolioValue(d.ctx, current)})

		if d.tax != nil && (d.ctx.IsLastDayOfYear || d.ctx.IsLastDay) {
			d.yearEndTaxStep(current)
		}
	}
	return nil
}

func (d *driver) collectDividends(previous, current engine.Timestamp) {
	for _, id := range d.params.InstrumentIDs {
		shares := d.ctx.Holdings[id]
		if shares <= 0 {
			continue
		}
		divs := d.divIdx.CollectWindow(id, previous, current)
		for _, div := range divs {
			gross := shares * div.PerShare
			d.totalDividends += gross
			d.dividendCount++
			if d.tax != nil {
				net := d.tax.RecordDividend(gross)
				d.ctx.CashBalance += net
			} else {
				d.ctx.CashBalance += gross
			}
		}
	}
}

func (d *driver) sellPhase(current engine.Timestamp) {
	for _, id := range d.params.InstrumentIDs {
		trade, err := d.strat.Sell(id, d.ctx, d.params)
		if err != nil || trade.IsZero() {
			continue
		}
		if d.tax != nil {
			if _, err := d.tax.RecordSale(id, float64(trade.Shares), trade.Price, current, d.ctx.TaxLots[id]); err != nil {
				d.warnings = append(d.warnings, err.Error())
				continue
			}
		}
		d.ctx.RemoveShares(id, float64(trade.Shares))
		d.ctx.CashBalance += trade.Total
		d.trades = append(d.trades, engine.Trade{
			Date: current, InstrumentID: id, Side: "sell",
			Shares: trade.Shares, Price: trade.Price, Total: trade.Total, Reason: trade.Reason,
		})
	}
}

func (d *driver) buyPhase(current engine.Timestamp) {
	for _, id := range d.params.InstrumentIDs {
		trade, err := d.strat.Buy(id, d.ctx, d.params)
		if err != nil || trade.IsZero() {
			continue
		}
		d.ctx.CashBalance -= trade.Total
		d.ctx.AddLot(id, engine.Lot{PurchaseDate: current, Quantity: float64(trade.Shares), CostBasisPerShare: trade.Price})
		d.trades = append(d.trades, engine.Trade{
			Date: current, InstrumentID: id, Side: "buy",
			Shares: trade.Shares, Price: trade.Price, Total: trade.Total, Reason: trade.Reason,
		})
	}
}

func (d *driver) yearEndTaxStep(current engine.Timestamp) {
	summary := d.tax.Finalize()
	paid, shortfall := tax.PayYearEndTax(d.ctx.CashBalance, summary)
	d.ctx.CashBalance -= paid
	d.totalTaxesPaid += paid

	if shortfall > 1e-9 {
		raised := 0.0
		for _, id := range d.params.InstrumentIDs {
			if raised >= shortfall-1e-9 {
				break
			}
			shares := d.ctx.Holdings[id]
			if shares <= 0 {
				continue
			}
			price, ok := engine.LastKnownPrice(d.ctx, id, current)
			if !ok || price <= 0 {
				continue
			}
			targetSale := shortfall * d.weights[id]
			sellShares := math.Floor(targetSale / price)
			if sellShares > shares {
				sellShares = math.Floor(shares)
			}
			if sellShares <= 0 {
				continue
			}
			proceeds := sellShares * price
			d.ctx.RemoveShares(id, sellShares)
			d.ctx.CashBalance += proceeds
			raised += proceeds
			d.trades = append(d.trades, engine.Trade{
				Date: current, InstrumentID: id, Side: "sell",
				Shares: uint64(sellShares), Price: price, Total: proceeds, Reason: "tax funding",
			})
		}
		covered := math.Min(raised, shortfall)
		d.ctx.CashBalance -= covered
		d.totalTaxesPaid += covered
		remaining := shortfall - covered
		if remaining > 1e-9 {
			err := engine.NewError(engine.InsufficientCash, "year_end_tax",
				"tax-funding rebalance could not raise the full shortfall")
			d.warnings = append(d.warnings, err.Error())
			d.logger.Warn().Float64("unpaid_tax", remaining).Msg("insufficient cash to fund year-end tax")
		}
	}

	d.taxAgg.TotalGains += summary.TotalGains
	d.taxAgg.ProfitableTransactions += summary.ProfitableTransactions
	d.taxAgg.TotalLosses += summary.TotalLosses
	d.taxAgg.LosingTransactions += summary.LosingTransactions
	d.taxAgg.ExemptGain += summary.ExemptGain
	d.taxAgg.ExemptTransactions += summary.ExemptTransactions
	d.taxAgg.TaxableGain += summary.TaxableGain
	d.taxAgg.CapitalGainsTax += summary.CapitalGainsTax
	d.taxAgg.TotalDividends += summary.TotalDividends
	d.taxAgg.DividendTax += summary.DividendTax
	d.taxAgg.TotalTax += summary.TotalTax
	d.taxAgg.CarryforwardUsed += summary.CarryforwardUsed
	d.taxAgg.CarryforwardLoss = summary.CarryforwardLoss

	if d.ctx.IsLastDayOfYear && !d.ctx.IsLastDay {
		d.tax.ResetForNewYear(summary.CarryforwardLoss)
	}
}

func (d *driver) finalize(start, end engine.Timestamp) *engine.BacktestResult {
	in := metrics.Inputs{
		DailyValues:       d.dailyValues,
		InitialCapital:    d.params.InitialCapital,
		TotalDividends:    d.totalDividends,
		DividendPayments:  d.dividendCount,
		RiskFreeAnnualPct: d.rf.AnnualizedPct(),
	}
	if d.tax != nil {
		in.TaxEnabled = true
		summary := d.taxAgg
		in.TaxSummary = &summary
	}
	if d.adjuster.HasData() {
		in.InflationEnabled = true
		in.CumulativeInflationPct = d.adjuster.CumulativeInflationPct(start, end)
	}

	result := metrics.Assemble(in)
	if d.tax != nil {
		result.TotalTaxesPaid = d.totalTaxesPaid
	}
	result.Trades = d.trades
	result.Warnings = d.warnings
	return result
}
