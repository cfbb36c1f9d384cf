package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/bobmcallan/backtestd/internal/backtest"
	"github.com/bobmcallan/backtestd/internal/catalog"
	"github.com/bobmcallan/backtestd/internal/engine"
	"github.com/bobmcallan/backtestd/internal/metrics"
	"github.com/bobmcallan/backtestd/internal/strategy"
)

// repeatedFlag collects every occurrence of a flag that may appear more
// than once on the command line (e.g. -P key:value -P other:value).
type repeatedFlag []string

func (r *repeatedFlag) String() string { return strings.Join(*r, ",") }
func (r *repeatedFlag) Set(v string) error {
	*r = append(*r, v)
	return nil
}

func parseDate(raw string) (engine.Timestamp, error) {
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return engine.Timestamp{}, fmt.Errorf("invalid date %q (want YYYY-MM-DD): %w", raw, err)
	}
	return engine.NewTimestamp(t), nil
}

func keyValueMap(entries []string) (map[string]string, error) {
	out := make(map[string]string, len(entries))
	for _, e := range entries {
		parts := strings.SplitN(e, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("malformed key:value entry %q", e)
		}
		out[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
	}
	return out, nil
}

// cmdLoad extracts time series from a data-source plugin and writes them
// into the attribute store under the given instrument.
func (a *app) cmdLoad(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("load", flag.ContinueOnError)
	source := fs.String("source", "csv", "registered data-source name")
	file := fs.String("file", "", "path to the source file")
	instrument := fs.String("instrument", "", "instrument id to attach loaded data to")
	name := fs.String("name", "", "instrument display name (defaults to id)")
	typ := fs.String("type", "equity", "instrument type tag")
	attrSource := fs.String("attribute-source", "csv", "source tag recorded against every attribute value")
	var opts repeatedFlag
	fs.Var(&opts, "D", "data-source option key:value (repeatable)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *instrument == "" || *file == "" {
		return fmt.Errorf("--instrument and --file are required")
	}

	optMap, err := keyValueMap(opts)
	if err != nil {
		return err
	}
	optMap["csv-file"] = *file

	driver, err := a.sources.New(*source)
	if err != nil {
		return err
	}
	series, err := driver.Extract(*file, optMap)
	if err != nil {
		return fmt.Errorf("extract %s: %w", *file, err)
	}

	displayName := *name
	if displayName == "" {
		displayName = *instrument
	}
	if err := a.store.SaveInstrument(ctx, *instrument, displayName, *typ, *attrSource); err != nil {
		return err
	}

	total := 0
	for attr, values := range series {
		if err := a.store.SaveAttributes(ctx, *instrument, attr, *attrSource, values); err != nil {
			return fmt.Errorf("save attribute %s: %w", attr, err)
		}
		total += len(values)
	}

	a.logger.Info().Str("instrument", *instrument).Str("source", *source).Int("values", total).Msg("data loaded")
	fmt.Printf("loaded %d values across %d attributes for %s\n", total, len(series), *instrument)
	return nil
}

func (a *app) cmdInstrument(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("instrument requires a subcommand: list, show, delete")
	}
	switch args[0] {
	case "list":
		fs := flag.NewFlagSet("instrument list", flag.ContinueOnError)
		typeFilter := fs.String("type", "", "filter by instrument type")
		sourceFilter := fs.String("source", "", "filter by source")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		ids, err := a.store.ListInstruments(ctx, *typeFilter, *sourceFilter)
		if err != nil {
			return err
		}
		for _, id := range ids {
			fmt.Println(id)
		}
		return nil
	case "show":
		if len(args) < 2 {
			return fmt.Errorf("instrument show requires an id")
		}
		inst, err := a.store.GetInstrument(ctx, args[1])
		if err != nil {
			return err
		}
		attrs, err := a.store.ListInstrumentAttributes(ctx, args[1])
		if err != nil {
			return err
		}
		fmt.Printf("id: %s\nname: %s\ntype: %s\nsource: %s\n", inst.ID, inst.Name, inst.Type, inst.Source)
		for _, at := range attrs {
			fmt.Printf("  %s [%s]: %d values, %s .. %s\n", at.Name, at.Source, at.ValueCount, at.FirstTS, at.LastTS)
		}
		return nil
	case "delete":
		if len(args) < 2 {
			return fmt.Errorf("instrument delete requires an id")
		}
		return a.store.DeleteInstrument(ctx, args[1])
	default:
		return fmt.Errorf("unknown instrument subcommand %q", args[0])
	}
}

func (a *app) cmdPortfolio(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("portfolio requires a subcommand: create, list, show, delete, add-instrument, remove-instrument")
	}
	switch args[0] {
	case "create":
		fs := flag.NewFlagSet("portfolio create", flag.ContinueOnError)
		name := fs.String("name", "", "portfolio name")
		description := fs.String("description", "", "portfolio description")
		instruments := fs.String("instruments", "", "comma-separated instrument ids")
		capital := fs.Float64("capital", 100000, "initial capital")
		var params repeatedFlag
		fs.Var(&params, "P", "strategy parameter key:value (repeatable)")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if *name == "" || *instruments == "" {
			return fmt.Errorf("--name and --instruments are required")
		}
		paramMap, err := keyValueMap(params)
		if err != nil {
			return err
		}
		p, err := a.catalog.Create(catalog.Portfolio{
			Name:           *name,
			Description:    *description,
			InitialCapital: *capital,
			Instruments:    strings.Split(*instruments, ","),
			Parameters:     paramMap,
		})
		if err != nil {
			return err
		}
		fmt.Println(p.ID)
		return nil
	case "list":
		portfolios, err := a.catalog.List()
		if err != nil {
			return err
		}
		for _, p := range portfolios {
			fmt.Printf("%s  %s  (%d instruments)\n", p.ID, p.Name, len(p.Instruments))
		}
		return nil
	case "show":
		if len(args) < 2 {
			return fmt.Errorf("portfolio show requires an id")
		}
		p, err := a.catalog.Get(args[1])
		if err != nil {
			return err
		}
		fmt.Printf("id: %s\nname: %s\ndescription: %s\ninitial_capital: %.2f\ninstruments: %s\n",
			p.ID, p.Name, p.Description, p.InitialCapital, strings.Join(p.Instruments, ","))
		for id, w := range p.Weights {
			fmt.Printf("  weight[%s] = %.4f\n", id, w)
		}
		return nil
	case "delete":
		if len(args) < 2 {
			return fmt.Errorf("portfolio delete requires an id")
		}
		return a.catalog.Delete(args[1])
	case "add-instrument":
		if len(args) < 3 {
			return fmt.Errorf("portfolio add-instrument requires <id> <instrument>")
		}
		fs := flag.NewFlagSet("portfolio add-instrument", flag.ContinueOnError)
		weight := fs.Float64("weight", 0, "explicit weight (default equal share)")
		if err := fs.Parse(args[3:]); err != nil {
			return err
		}
		_, err := a.catalog.AddInstrument(args[1], args[2], *weight)
		return err
	case "remove-instrument":
		if len(args) < 3 {
			return fmt.Errorf("portfolio remove-instrument requires <id> <instrument>")
		}
		_, err := a.catalog.RemoveInstrument(args[1], args[2])
		return err
	default:
		return fmt.Errorf("unknown portfolio subcommand %q", args[0])
	}
}

// registeredStrategies maps a strategy name to its constructor. Only
// buy-and-hold is implemented; the set is a single-entry registry so new
// policies can be added without touching the execute path.
var registeredStrategies = map[string]func() backtest.Strategy{
	"buy-hold": func() backtest.Strategy { return strategy.BuyHold{} },
}

func (a *app) cmdStrategy(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("strategy requires a subcommand: list, execute")
	}
	switch args[0] {
	case "list":
		for name := range registeredStrategies {
			fmt.Println(name)
		}
		return nil
	case "execute":
		return a.cmdStrategyExecute(ctx, args[1:])
	default:
		return fmt.Errorf("unknown strategy subcommand %q", args[0])
	}
}

func (a *app) cmdStrategyExecute(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("strategy execute", flag.ContinueOnError)
	strategyName := fs.String("strategy", "buy-hold", "strategy name")
	portfolioID := fs.String("portfolio", "", "portfolio id")
	from := fs.String("from", "", "start date YYYY-MM-DD")
	to := fs.String("to", "", "end date YYYY-MM-DD")
	initialCapital := fs.Float64("initial-capital", 0, "override the portfolio's initial capital")
	_ = fs.String("db", "", "attribute store path (consumed before flag parsing)")
	var params repeatedFlag
	fs.Var(&params, "P", "strategy parameter key:value (repeatable)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *portfolioID == "" || *from == "" || *to == "" {
		return fmt.Errorf("--portfolio, --from, and --to are required")
	}

	ctor, ok := registeredStrategies[*strategyName]
	if !ok {
		return fmt.Errorf("unknown strategy %q", *strategyName)
	}

	p, err := a.catalog.Get(*portfolioID)
	if err != nil {
		return err
	}

	start, err := parseDate(*from)
	if err != nil {
		return err
	}
	end, err := parseDate(*to)
	if err != nil {
		return err
	}

	overrides, err := keyValueMap(params)
	if err != nil {
		return err
	}
	merged := make(map[string]string, len(p.Parameters)+len(overrides))
	for k, v := range p.Parameters {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}

	capital := p.InitialCapital
	if *initialCapital > 0 {
		capital = *initialCapital
	}

	portfolioParams := &engine.PortfolioParams{
		InstrumentIDs:  p.Instruments,
		Weights:        p.Weights,
		InitialCapital: capital,
		Parameters:     merged,
	}

	result, err := backtest.Run(ctx, a.store, portfolioParams, ctor(), start, end, backtest.RunOptions{Logger: a.logger})
	if err != nil {
		return err
	}

	printResult(result)

	if chartPath := merged["chart_output"]; chartPath != "" {
		png, err := metrics.RenderEquityCurve(result.DailyValues)
		if err != nil {
			return fmt.Errorf("render equity curve: %w", err)
		}
		if err := writeFile(chartPath, png); err != nil {
			return err
		}
		fmt.Printf("chart written to %s\n", chartPath)
	}
	return nil
}

func printResult(r *engine.BacktestResult) {
	fmt.Printf("final_value: %.2f\n", r.FinalValue)
	fmt.Printf("total_return_pct: %.2f\n", r.TotalReturnPct)
	fmt.Printf("annualized_pct: %.2f\n", r.AnnualizedReturnPct)
	fmt.Printf("volatility_pct: %.2f\n", r.VolatilityPct)
	fmt.Printf("max_drawdown_pct: %.2f\n", r.MaxDrawdownPct)
	fmt.Printf("sharpe: %.4f\n", r.SharpeRatio)
	fmt.Printf("dividend_yield_pct: %.2f\n", r.DividendYieldPct)
	fmt.Printf("trades: %d\n", len(r.Trades))
	if r.TaxSummary != nil {
		fmt.Printf("total_tax_paid: %.2f\n", r.TotalTaxesPaid)
		fmt.Printf("after_tax_return_pct: %.2f\n", r.AfterTaxReturnPct)
	}
	if r.Inflation != nil {
		fmt.Printf("real_annualized_pct: %.2f\n", r.Inflation.RealAnnualizedReturnPct)
	}
	for _, w := range r.Warnings {
		fmt.Printf("warning: %s\n", w)
	}
}

func (a *app) cmdSource(args []string) error {
	if len(args) == 0 || args[0] != "list" {
		return fmt.Errorf("source requires subcommand: list")
	}
	for _, name := range a.sources.Names() {
		fmt.Println(name)
	}
	return nil
}

func writeFile(path string, data []byte) error {
	return os.WriteFile(path, data, 0o644)
}
