// Package tax implements the lot-inventory tax calculator: FIFO/LIFO/
// MinimizeTax lot ordering, year-end capital-gains settlement, and
// cross-year loss carryforward.
package tax

import (
	"sort"

	"github.com/bobmcallan/backtestd/internal/engine"
)

// LotMethod selects the order in which lots are consumed on a sale.
type LotMethod int

const (
	FIFO LotMethod = iota
	LIFO
	MinimizeTax
)

// ParseLotMethod parses the strategy parameter string; defaults to FIFO on
// an unrecognized value.
func ParseLotMethod(s string) LotMethod {
	switch s {
	case "LIFO":
		return LIFO
	case "MinimizeTax":
		return MinimizeTax
	default:
		return FIFO
	}
}

// longTermThresholdDays is three calendar years expressed in days.
const longTermThresholdDays = 3 * 365.25

// Txn is one lot disposal emitted by RecordSale.
type Txn struct {
	Date               engine.Timestamp
	InstrumentID        string
	QtySold            float64
	CostBasisPerShare   float64
	SalePrice          float64
	IsLongTerm         bool
}

func (t Txn) gain() float64 { return (t.SalePrice - t.CostBasisPerShare) * t.QtySold }

// Summary is the year-end tax settlement produced by Finalize.
type Summary struct {
	TotalGains             float64
	ProfitableTransactions int
	TotalLosses            float64
	LosingTransactions     int
	ExemptGain             float64
	ExemptTransactions     int
	TaxableGain            float64
	CapitalGainsTax        float64
	TotalDividends         float64
	DividendTax            float64
	TotalTax               float64
	CarryforwardUsed       float64
	CarryforwardLoss       float64
}

// Calculator holds per-year accumulations and the cross-year carryforward.
type Calculator struct {
	Rate               float64
	LongTermExemption  bool
	LotMethod          LotMethod

	carryforwardLoss float64
	transactions     []Txn
	dividendNet      []float64
}

// New constructs a calculator. rate is the flat capital-gains/dividend tax
// rate (e.g. 0.13); importedLosses is the opening loss carryforward.
func New(rate float64, longTermExemption bool, method LotMethod, importedLosses float64) *Calculator {
	return &Calculator{
		Rate:              rate,
		LongTermExemption: longTermExemption,
		LotMethod:         method,
		carryforwardLoss:  importedLosses,
	}
}

func (c *Calculator) sortLots(lots []engine.Lot) {
	switch c.LotMethod {
	case FIFO:
		sort.SliceStable(lots, func(i, j int) bool { return lots[i].PurchaseDate.Before(lots[j].PurchaseDate) })
	case LIFO:
		sort.SliceStable(lots, func(i, j int) bool { return lots[i].PurchaseDate.After(lots[j].PurchaseDate) })
	case MinimizeTax:
		sort.SliceStable(lots, func(i, j int) bool { return lots[i].CostBasisPerShare > lots[j].CostBasisPerShare })
	}
}

// RecordSale validates and records a disposal. lots is reordered in place
// per the calculator's lot method before being walked; the caller must pass
// exactly the lots available for instrumentID (e.g. via
// engine.TradingContext.TaxLots[id]).
func (c *Calculator) RecordSale(instrumentID string, qty float64, salePrice float64, saleDate engine.Timestamp, lots []engine.Lot) ([]Txn, error) {
	if qty <= 0 {
		return nil, engine.NewError(engine.TaxError, "record_sale", "qty must be > 0")
	}
	total := 0.0
	for _, l := range lots {
		total += l.Quantity
	}
	if total < qty {
		return nil, engine.NewError(engine.TaxError, "record_sale", "insufficient lot inventory")
	}

	c.sortLots(lots)

	var out []Txn
	remaining := qty
	for i := range lots {
		if remaining <= 1e-9 {
			break
		}
		l := lots[i]
		take := l.Quantity
		if take > remaining {
			take = remaining
		}
		if take <= 0 {
			continue
		}
		ageDays := saleDate.Time().Sub(l.PurchaseDate.Time()).Hours() / 24
		txn := Txn{
			Date:              saleDate,
			InstrumentID:      instrumentID,
			QtySold:           take,
			CostBasisPerShare: l.CostBasisPerShare,
			SalePrice:         salePrice,
			IsLongTerm:        ageDays > longTermThresholdDays,
		}
		out = append(out, txn)
		c.transactions = append(c.transactions, txn)
		remaining -= take
	}
	return out, nil
}

// RecordDividend returns the net amount after withholding and accumulates it
// for the year-end dividend-tax reconstruction.
func (c *Calculator) RecordDividend(gross float64) float64 {
	net := gross * (1 - c.Rate)
	c.dividendNet = append(c.dividendNet, net)
	return net
}

// Finalize computes the year-end settlement from the accumulated
// transactions and dividends.
func (c *Calculator) Finalize() Summary {
	var s Summary
	for _, t := range c.transactions {
		g := t.gain()
		if g > 0 {
			s.TotalGains += g
			s.ProfitableTransactions++
			if t.IsLongTerm && c.LongTermExemption {
				s.ExemptGain += g
				s.ExemptTransactions++
			}
		} else if g < 0 {
			s.TotalLosses += -g
			s.LosingTransactions++
		}
	}

	taxableBefore := s.TotalGains - s.ExemptGain
	netBeforeCarry := taxableBefore - s.TotalLosses

	if netBeforeCarry > 0 && c.carryforwardLoss > 0 {
		s.CarryforwardUsed = min(netBeforeCarry, c.carryforwardLoss)
		netBeforeCarry -= s.CarryforwardUsed
	}

	if netBeforeCarry > 0 {
		s.TaxableGain = netBeforeCarry
		s.CapitalGainsTax = s.TaxableGain * c.Rate
		s.CarryforwardLoss = 0
	} else {
		s.TaxableGain = 0
		s.CapitalGainsTax = 0
		s.CarryforwardLoss = (c.carryforwardLoss - s.CarryforwardUsed) + max(0, -netBeforeCarry)
	}

	dividendNetSum := 0.0
	for _, n := range c.dividendNet {
		dividendNetSum += n
	}
	if c.Rate < 1 {
		s.TotalDividends = dividendNetSum / (1 - c.Rate)
	}
	s.DividendTax = s.TotalDividends*c.Rate
	s.TotalTax = s.CapitalGainsTax + s.DividendTax

	return s
}

func min(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func max(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

// PayYearEndTax applies available cash toward the settlement's total tax and
// reports any shortfall.
func PayYearEndTax(availableCash float64, summary Summary) (paid, shortfall float64) {
	paid = min(availableCash, summary.TotalTax)
	shortfall = summary.TotalTax - paid
	return paid, shortfall
}

// ResetForNewYear clears the in-year accumulators and adopts leftoverLoss as
// the opening carryforward for the next year.
func (c *Calculator) ResetForNewYear(leftoverLoss float64) {
	c.transactions = nil
	c.dividendNet = nil
	c.carryforwardLoss = leftoverLoss
}

// CarryforwardLoss returns the calculator's current opening carryforward.
func (c *Calculator) CarryforwardLoss() float64 { return c.carryforwardLoss }
