// Package store defines the attribute-store contract the engine reads
// historical instrument data through, plus typed convenience readers layered
// on top of it. Concrete backends live in the memstore, sqlitestore, and
// surrealstore subpackages.
package store

import (
	"context"
	"fmt"

	"github.com/bobmcallan/backtestd/internal/engine"
)

// Instrument is the metadata record the store tracks per instrument id.
type Instrument struct {
	ID     string
	Name   string
	Type   string
	Source string
}

// AttributeInfo summarizes one (instrument, attribute, source) series.
type AttributeInfo struct {
	Name       string
	Source     string
	ValueCount int
	FirstTS    engine.Timestamp
	LastTS     engine.Timestamp
}

// AttributeStore is the required external collaborator: a key/attribute/
// source/timestamp table with range scans. Each (instrument, attribute,
// source, ts) key holds one value: writing an existing key replaces its
// value. Batch writes are not rejected for conflicting values; a later value
// for a key replaces an earlier one.
type AttributeStore interface {
	ListSources(ctx context.Context) ([]string, error)

	SaveInstrument(ctx context.Context, id, name, typ, source string) error
	InstrumentExists(ctx context.Context, id string) (bool, error)
	ListInstruments(ctx context.Context, typeFilter, sourceFilter string) ([]string, error)
	GetInstrument(ctx context.Context, id string) (Instrument, error)

	SaveAttribute(ctx context.Context, id, attr, source string, ts engine.Timestamp, value engine.AttributeValue) error
	SaveAttributes(ctx context.Context, id, attr, source string, values []engine.TimedValue) error
	GetAttributeHistory(ctx context.Context, id, attr string, from, to engine.Timestamp, source string) ([]engine.TimedValue, error)

	ListInstrumentAttributes(ctx context.Context, id string) ([]AttributeInfo, error)
	GetAttributeValueCount(ctx context.Context, id, attr, source string) (int, error)

	DeleteInstrument(ctx context.Context, id string) error
	DeleteInstruments(ctx context.Context, idFilter, typeFilter, sourceFilter string) error
	DeleteAttributes(ctx context.Context, id, attr string) error
	DeleteSource(ctx context.Context, source string) error
}

// ReadCloses narrows GetAttributeHistory to the "close" attribute and a
// float result, failing with engine.StoreError on a kind mismatch.
func ReadCloses(ctx context.Context, s AttributeStore, id string, from, to engine.Timestamp, source string) (map[engine.Timestamp]float64, error) {
	rows, err := s.GetAttributeHistory(ctx, id, "close", from, to, source)
	if err != nil {
		return nil, engine.Wrap(engine.StoreError, "read_closes", err)
	}
	out := make(map[engine.Timestamp]float64, len(rows))
	for _, r := range rows {
		f, ok := r.Value.AsFloat()
		if !ok {
			return nil, engine.NewError(engine.StoreError, "read_closes",
				fmt.Sprintf("close value for %s on %s is not numeric", id, r.Timestamp))
		}
		out[r.Timestamp] = f
	}
	return out, nil
}

// ReadDividends narrows GetAttributeHistory to the "dividend" attribute,
// returning one engine.Dividend per row sorted by ex-date ascending (the
// store contract already guarantees ascending ts order).
func ReadDividends(ctx context.Context, s AttributeStore, id string, from, to engine.Timestamp, source string) ([]engine.Dividend, error) {
	rows, err := s.GetAttributeHistory(ctx, id, "dividend", from, to, source)
	if err != nil {
		return nil, engine.Wrap(engine.StoreError, "read_dividends", err)
	}
	out := make([]engine.Dividend, 0, len(rows))
	for _, r := range rows {
		f, ok := r.Value.AsFloat()
		if !ok {
			return nil, engine.NewError(engine.StoreError, "read_dividends",
				fmt.Sprintf("dividend value for %s on %s is not numeric", id, r.Timestamp))
		}
		out = append(out, engine.Dividend{ExDate: r.Timestamp, PerShare: f})
	}
	return out, nil
}

// ReadText narrows GetAttributeHistory to a text-valued attribute.
func ReadText(ctx context.Context, s AttributeStore, id, attr string, from, to engine.Timestamp, source string) (map[engine.Timestamp]string, error) {
	rows, err := s.GetAttributeHistory(ctx, id, attr, from, to, source)
	if err != nil {
		return nil, engine.Wrap(engine.StoreError, "read_text", err)
	}
	out := make(map[engine.Timestamp]string, len(rows))
	for _, r := range rows {
		if r.Value.Kind != engine.ValueText {
			return nil, engine.NewError(engine.StoreError, "read_text",
				fmt.Sprintf("%s value for %s on %s is not text", attr, id, r.Timestamp))
		}
		out[r.Timestamp] = r.Value.S
	}
	return out, nil
}
