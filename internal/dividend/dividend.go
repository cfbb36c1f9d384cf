// Package dividend implements the ex-date lookup index and pay-window scan
// the driver uses to collect dividends once per trading day.
package dividend

import (
	"context"
	"sort"

	"github.com/bobmcallan/backtestd/internal/engine"
	"github.com/bobmcallan/backtestd/internal/store"
)

// Index is a per-instrument, date-sorted list of dividend observations built
// once from the store at load time.
type Index struct {
	byInstrument map[string][]engine.Dividend
	cursor       map[string]int
}

// Build loads the dividend history for every instrument in [start, end].
func Build(ctx context.Context, s store.AttributeStore, instrumentIDs []string, start, end engine.Timestamp) (*Index, error) {
	idx := &Index{
		byInstrument: make(map[string][]engine.Dividend, len(instrumentIDs)),
		cursor:       make(map[string]int, len(instrumentIDs)),
	}
	for _, id := range instrumentIDs {
		divs, err := store.ReadDividends(ctx, s, id, start, end, "")
		if err != nil {
			return nil, err
		}
		sort.Slice(divs, func(i, j int) bool { return divs[i].ExDate.Before(divs[j].ExDate) })
		idx.byInstrument[id] = divs
		idx.cursor[id] = 0
	}
	return idx, nil
}

// All returns every dividend loaded for instrumentID, ex-date ascending.
func (idx *Index) All(instrumentID string) []engine.Dividend {
	return idx.byInstrument[instrumentID]
}

// CollectWindow returns the not-yet-paid dividends of instrumentID with an
// ex-date in (previous, current], advancing the cursor past each one it
// pays. The cursor invariant "previous ≤ last_paid_ex_date ≤ current"
// guarantees each dividend is paid exactly once across the lifetime of the
// Index.
func (idx *Index) CollectWindow(instrumentID string, previous, current engine.Timestamp) []engine.Dividend {
	divs := idx.byInstrument[instrumentID]
	i := idx.cursor[instrumentID]
	var out []engine.Dividend
	for j := i; j < len(divs); j++ {
		ex := divs[j].ExDate
		if ex.After(current) {
			break
		}
		if ex.After(previous) {
			out = append(out, divs[j])
			i = j + 1
		}
	}
	idx.cursor[instrumentID] = i
	return out
}
