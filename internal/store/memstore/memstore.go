// Package memstore is an in-process, dependency-free implementation of
// store.AttributeStore used as the reference backend by the unit tests of
// the packages that read through the store (the sqlitestore and surrealstore
// tests run against their own backends).
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/bobmcallan/backtestd/internal/engine"
	"github.com/bobmcallan/backtestd/internal/store"
)

type seriesKey struct {
	id     string
	attr   string
	source string
}

// Store is a mutex-protected map-of-maps keyed by (instrument, attribute,
// source, ts), enforcing the same uniqueness constraint the persistent
// backends enforce via SQL/SurrealQL.
type Store struct {
	mu          sync.RWMutex
	instruments map[string]store.Instrument
	series      map[seriesKey]map[engine.Timestamp]engine.AttributeValue
}

var _ store.AttributeStore = (*Store)(nil)

// New constructs an empty in-memory store.
func New() *Store {
	return &Store{
		instruments: make(map[string]store.Instrument),
		series:      make(map[seriesKey]map[engine.Timestamp]engine.AttributeValue),
	}
}

func (s *Store) ListSources(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{})
	for k := range s.series {
		seen[k.source] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for src := range seen {
		out = append(out, src)
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) SaveInstrument(_ context.Context, id, name, typ, source string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instruments[id] = store.Instrument{ID: id, Name: name, Type: typ, Source: source}
	return nil
}

func (s *Store) InstrumentExists(_ context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.instruments[id]
	return ok, nil
}

func (s *Store) ListInstruments(_ context.Context, typeFilter, sourceFilter string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.instruments))
	for id, inst := range s.instruments {
		if typeFilter != "" && inst.Type != typeFilter {
			continue
		}
		if sourceFilter != "" && inst.Source != sourceFilter {
			continue
		}
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) GetInstrument(_ context.Context, id string) (store.Instrument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inst, ok := s.instruments[id]
	if !ok {
		return store.Instrument{}, engine.NewError(engine.StoreError, "get_instrument", "no such instrument: "+id)
	}
	return inst, nil
}

func (s *Store) SaveAttribute(_ context.Context, id, attr, source string, ts engine.Timestamp, value engine.AttributeValue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := seriesKey{id, attr, source}
	bucket, ok := s.series[key]
	if !ok {
		bucket = make(map[engine.Timestamp]engine.AttributeValue)
		s.series[key] = bucket
	}
	bucket[ts] = value
	return nil
}

// SaveAttributes writes the whole batch under one lock; no step can fail
// part-way, so every value is applied. A later value for a key replaces an
// earlier one.
func (s *Store) SaveAttributes(_ context.Context, id, attr, source string, values []engine.TimedValue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := seriesKey{id, attr, source}
	bucket, ok := s.series[key]
	if !ok {
		bucket = make(map[engine.Timestamp]engine.AttributeValue)
	}
	for _, v := range values {
		bucket[v.Timestamp] = v.Value
	}
	s.series[key] = bucket
	return nil
}

func (s *Store) GetAttributeHistory(_ context.Context, id, attr string, from, to engine.Timestamp, source string) ([]engine.TimedValue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []engine.TimedValue
	for key, bucket := range s.series {
		if key.id != id || key.attr != attr {
			continue
		}
		if source != "" && key.source != source {
			continue
		}
		for ts, v := range bucket {
			if ts.Before(from) || ts.After(to) {
				continue
			}
			out = append(out, engine.TimedValue{Timestamp: ts, Value: v})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (s *Store) ListInstrumentAttributes(_ context.Context, id string) ([]store.AttributeInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.AttributeInfo
	for key, bucket := range s.series {
		if key.id != id {
			continue
		}
		var dates []engine.Timestamp
		for ts := range bucket {
			dates = append(dates, ts)
		}
		sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
		info := store.AttributeInfo{Name: key.attr, Source: key.source, ValueCount: len(dates)}
		if len(dates) > 0 {
			info.FirstTS = dates[0]
			info.LastTS = dates[len(dates)-1]
		}
		out = append(out, info)
	}
	return out, nil
}

func (s *Store) GetAttributeValueCount(_ context.Context, id, attr, source string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bucket, ok := s.series[seriesKey{id, attr, source}]
	if !ok {
		return 0, nil
	}
	return len(bucket), nil
}

func (s *Store) DeleteInstrument(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.instruments, id)
	for key := range s.series {
		if key.id == id {
			delete(s.series, key)
		}
	}
	return nil
}

func (s *Store) DeleteInstruments(_ context.Context, idFilter, typeFilter, sourceFilter string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, inst := range s.instruments {
		if idFilter != "" && id != idFilter {
			continue
		}
		if typeFilter != "" && inst.Type != typeFilter {
			continue
		}
		if sourceFilter != "" && inst.Source != sourceFilter {
			continue
		}
		delete(s.instruments, id)
		for key := range s.series {
			if key.id == id {
				delete(s.series, key)
			}
		}
	}
	return nil
}

func (s *Store) DeleteAttributes(_ context.Context, id, attr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.series {
		if key.id != id {
			continue
		}
		if attr != "" && key.attr != attr {
			continue
		}
		delete(s.series, key)
	}
	return nil
}

func (s *Store) DeleteSource(_ context.Context, source string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.series {
		if key.source == source {
			delete(s.series, key)
		}
	}
	return nil
}
