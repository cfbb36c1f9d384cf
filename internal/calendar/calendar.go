// Package calendar builds the trading-day set the driver walks and provides
// date adjustment for buy/sell decisions near data gaps.
package calendar

import (
	"context"
	"sort"

	"github.com/bobmcallan/backtestd/internal/engine"
	"github.com/bobmcallan/backtestd/internal/store"
)

// Operation is the kind of trade a date is being adjusted for.
type Operation int

const (
	Buy Operation = iota
	Sell
)

// Adjustment is one recorded date-adjustment decision.
type Adjustment struct {
	InstrumentID string
	Requested    engine.Timestamp
	Adjusted     engine.Timestamp
	Operation    Operation
	Reason       string
}

// Calendar is the sorted set of trading dates plus, per instrument, the set
// of dates on which that instrument has close data.
type Calendar struct {
	Days            []engine.Timestamp
	dayIndex        map[engine.Timestamp]int
	InstrumentDates map[string]map[engine.Timestamp]struct{}
	UsedAlternative bool
	ReferenceID     string

	log []Adjustment
}

// Build constructs a Calendar from the store: if the reference instrument
// has any close data in [start, end], its dates become the calendar;
// otherwise the instrument_ids member with the most close observations is
// chosen and UsedAlternative is set. Fails with CalendarUnavailable if every
// candidate has zero observations.
func Build(ctx context.Context, s store.AttributeStore, referenceID string, instrumentIDs []string, start, end engine.Timestamp) (*Calendar, error) {
	refCloses, err := store.ReadCloses(ctx, s, referenceID, start, end, "")
	if err != nil {
		return nil, err
	}

	cal := &Calendar{
		ReferenceID:     referenceID,
		InstrumentDates: make(map[string]map[engine.Timestamp]struct{}),
	}

	if len(refCloses) > 0 {
		cal.setDays(sortedKeys(refCloses))
	} else {
		bestID := ""
		var bestCloses map[engine.Timestamp]float64
		for _, id := range instrumentIDs {
			closes, err := store.ReadCloses(ctx, s, id, start, end, "")
			if err != nil {
				return nil, err
			}
			if len(closes) > len(bestCloses) {
				bestID, bestCloses = id, closes
			}
		}
		if len(bestCloses) == 0 {
			return nil, engine.NewError(engine.CalendarUnavailable, "build_calendar",
				"no candidate instrument has any close observation in the window")
		}
		cal.UsedAlternative = true
		cal.ReferenceID = bestID
		cal.setDays(sortedKeys(bestCloses))
	}

	for _, id := range instrumentIDs {
		closes, err := store.ReadCloses(ctx, s, id, start, end, "")
		if err != nil {
			return nil, err
		}
		dateSet := make(map[engine.Timestamp]struct{}, len(closes))
		for ts := range closes {
			dateSet[ts] = struct{}{}
		}
		cal.InstrumentDates[id] = dateSet
	}

	return cal, nil
}

func (c *Calendar) setDays(days []engine.Timestamp) {
	c.Days = days
	c.dayIndex = make(map[engine.Timestamp]int, len(days))
	for i, d := range days {
		c.dayIndex[d] = i
	}
}

func sortedKeys(m map[engine.Timestamp]float64) []engine.Timestamp {
	out := make([]engine.Timestamp, 0, len(m))
	for ts := range m {
		out = append(out, ts)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// IsTradingDay reports set membership after normalization.
func (c *Calendar) IsTradingDay(d engine.Timestamp) bool {
	_, ok := c.dayIndex[d]
	return ok
}

// PreviousTradingDate returns the trading day strictly before d, or d itself
// when d is the first trading day (day 0 semantics per the driver's loop).
func (c *Calendar) PreviousTradingDate(d engine.Timestamp) engine.Timestamp {
	idx, ok := c.dayIndex[d]
	if !ok || idx == 0 {
		return d
	}
	return c.Days[idx-1]
}

// NextTradingDate returns the trading day strictly after d, and false if d
// is the last trading day.
func (c *Calendar) NextTradingDate(d engine.Timestamp) (engine.Timestamp, bool) {
	idx, ok := c.dayIndex[d]
	if !ok || idx == len(c.Days)-1 {
		return engine.Timestamp{}, false
	}
	return c.Days[idx+1], true
}

// nextTradingDayFrom seeks forward from requested for the first calendar day
// on or after it, reporting false when there is none (the caller then fails
// with NoFutureTradingDay).
func (c *Calendar) nextTradingDayFrom(requested engine.Timestamp) (engine.Timestamp, bool) {
	for _, d := range c.Days {
		if d.After(requested) || d.Equal(requested) {
			return d, true
		}
	}
	return engine.Timestamp{}, false
}

// AdjustDateForOperation implements spec.md §4.3's date-adjustment contract.
func (c *Calendar) AdjustDateForOperation(instrumentID string, requested engine.Timestamp, op Operation) (Adjustment, error) {
	adj := Adjustment{InstrumentID: instrumentID, Requested: requested, Adjusted: requested, Operation: op}

	current := requested
	if !c.IsTradingDay(current) {
		next, ok := c.nextTradingDayFrom(current)
		if !ok {
			return adj, engine.NewDataGap("adjust_date_for_operation", engine.NoFutureTradingDay,
				"no trading day on or after "+requested.String())
		}
		current = next
		adj.Reason = "advanced to next trading day"
	}

	dates := c.InstrumentDates[instrumentID]
	if _, hasData := dates[current]; hasData {
		adj.Adjusted = current
		c.log = append(c.log, adj)
		return adj, nil
	}

	// Seek forward for data.
	fwd, ok := c.seekForwardWithData(current, dates)
	if ok {
		adj.Adjusted = fwd
		if adj.Reason == "" {
			adj.Reason = "advanced to next day with data"
		} else {
			adj.Reason += "; advanced to next day with data"
		}
		c.log = append(c.log, adj)
		return adj, nil
	}

	if op == Buy {
		return adj, engine.NewDataGap("adjust_date_for_operation", engine.NoFutureData,
			"no future data for "+instrumentID+" on or after "+current.String())
	}

	// Sell: seek backward.
	back, ok := c.seekBackwardWithData(current, dates)
	if !ok {
		return adj, engine.NewDataGap("adjust_date_for_operation", engine.NoDataAtAll,
			"no data at all for "+instrumentID)
	}
	adj.Adjusted = back
	adj.Reason = "possible delisting"
	c.log = append(c.log, adj)
	return adj, nil
}

func (c *Calendar) seekForwardWithData(from engine.Timestamp, dates map[engine.Timestamp]struct{}) (engine.Timestamp, bool) {
	for _, d := range c.Days {
		if !d.After(from) {
			continue
		}
		if _, ok := dates[d]; ok {
			return d, true
		}
	}
	return engine.Timestamp{}, false
}

func (c *Calendar) seekBackwardWithData(from engine.Timestamp, dates map[engine.Timestamp]struct{}) (engine.Timestamp, bool) {
	for i := len(c.Days) - 1; i >= 0; i-- {
		d := c.Days[i]
		if !d.Before(from) {
			continue
		}
		if _, ok := dates[d]; ok {
			return d, true
		}
	}
	return engine.Timestamp{}, false
}

// AdjustmentLog returns every adjustment recorded so far.
func (c *Calendar) AdjustmentLog() []Adjustment { return c.log }
