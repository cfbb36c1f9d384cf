// Package surrealstore implements store.AttributeStore on SurrealDB,
// grounded on the surrealdb.go query style used throughout the teacher's
// storage layer (generic Select/Query helpers, UPSERT $rid CONTENT $data).
package surrealstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"
	"golang.org/x/time/rate"

	"github.com/bobmcallan/backtestd/internal/common"
	"github.com/bobmcallan/backtestd/internal/engine"
	"github.com/bobmcallan/backtestd/internal/store"
)

const (
	instrumentTable = "instrument"
	attributeTable  = "attribute"

	// DefaultRateLimit bounds outbound round trips per second, mirroring the
	// eodhd client's WithRateLimit default.
	DefaultRateLimit = 20
)

// instrumentRecord is the document stored under the instrument table.
type instrumentRecord struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Type   string `json:"type"`
	Source string `json:"source"`
}

// attributeRecord is one (instrument, attribute, source, ts) observation.
type attributeRecord struct {
	InstrumentID string    `json:"instrument_id"`
	Attribute    string    `json:"attribute"`
	Source       string    `json:"source"`
	Timestamp    time.Time `json:"timestamp"`
	ValueKind    int       `json:"value_kind"`
	ValueNum     float64   `json:"value_num,omitempty"`
	ValueInt     int64     `json:"value_int,omitempty"`
	ValueText    string    `json:"value_text,omitempty"`
}

func attributeKey(instrumentID, attr, source string, ts engine.Timestamp) string {
	return strings.Join([]string{instrumentID, attr, source, ts.String()}, "|")
}

// Store is a SurrealDB-backed AttributeStore. Every round trip, read or
// write, first waits on a shared rate.Limiter, the same way the teacher's
// eodhd.Client throttles outbound HTTP calls. The limiter bounds the rate
// only; concurrent callers are not serialized.
type Store struct {
	db      *surrealdb.DB
	logger  *common.Logger
	limiter *rate.Limiter
}

var _ store.AttributeStore = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithLogger attaches a logger for connection diagnostics; write retries are
// not logged.
func WithLogger(logger *common.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithRateLimit overrides the default outbound rate limit.
func WithRateLimit(requestsPerSecond int) Option {
	return func(s *Store) { s.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond) }
}

// Open connects to a SurrealDB instance, authenticates, selects the given
// namespace/database, and defines the instrument and attribute tables.
func Open(ctx context.Context, address, username, password, namespace, database string, opts ...Option) (*Store, error) {
	db, err := surrealdb.New(address)
	if err != nil {
		return nil, fmt.Errorf("connect to surrealdb: %w", err)
	}
	if _, err := db.SignIn(ctx, map[string]any{"user": username, "pass": password}); err != nil {
		return nil, fmt.Errorf("sign in to surrealdb: %w", err)
	}
	if err := db.Use(ctx, namespace, database); err != nil {
		return nil, fmt.Errorf("select namespace/database: %w", err)
	}
	for _, table := range []string{instrumentTable, attributeTable} {
		sql := fmt.Sprintf("DEFINE TABLE IF NOT EXISTS %s SCHEMALESS", table)
		if _, err := surrealdb.Query[any](ctx, db, sql, nil); err != nil {
			return nil, fmt.Errorf("define table %s: %w", table, err)
		}
	}

	s := &Store{
		db:      db,
		logger:  common.NewSilentLogger(),
		limiter: rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger.Info().Str("address", address).Str("namespace", namespace).Str("database", database).
		Msg("surrealdb attribute store connected")
	return s, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error { return s.db.Close(context.Background()) }

func (s *Store) wait(ctx context.Context) error {
	return s.limiter.Wait(ctx)
}

func (s *Store) ListSources(ctx context.Context) ([]string, error) {
	if err := s.wait(ctx); err != nil {
		return nil, engine.Wrap(engine.StoreError, "list_sources", err)
	}
	type row struct {
		Source string `json:"source"`
	}
	results, err := surrealdb.Query[[]row](ctx, s.db, "SELECT DISTINCT source FROM attribute", nil)
	if err != nil {
		return nil, engine.Wrap(engine.StoreError, "list_sources", err)
	}
	var out []string
	if results != nil && len(*results) > 0 {
		for _, r := range (*results)[0].Result {
			out = append(out, r.Source)
		}
	}
	return out, nil
}

func (s *Store) SaveInstrument(ctx context.Context, id, name, typ, source string) error {
	if err := s.wait(ctx); err != nil {
		return engine.Wrap(engine.StoreError, "save_instrument", err)
	}
	rec := instrumentRecord{ID: id, Name: name, Type: typ, Source: source}
	vars := map[string]any{"rid": surrealmodels.NewRecordID(instrumentTable, id), "data": rec}
	if _, err := surrealdb.Query[any](ctx, s.db, "UPSERT $rid CONTENT $data", vars); err != nil {
		return engine.Wrap(engine.StoreError, "save_instrument", err)
	}
	return nil
}

func (s *Store) InstrumentExists(ctx context.Context, id string) (bool, error) {
	if err := s.wait(ctx); err != nil {
		return false, engine.Wrap(engine.StoreError, "instrument_exists", err)
	}
	rec, err := surrealdb.Select[instrumentRecord](ctx, s.db, surrealmodels.NewRecordID(instrumentTable, id))
	if err != nil {
		return false, nil
	}
	return rec != nil, nil
}

func (s *Store) ListInstruments(ctx context.Context, typeFilter, sourceFilter string) ([]string, error) {
	if err := s.wait(ctx); err != nil {
		return nil, engine.Wrap(engine.StoreError, "list_instruments", err)
	}
	sql := "SELECT id FROM instrument WHERE true"
	vars := map[string]any{}
	if typeFilter != "" {
		sql += " AND type = $type"
		vars["type"] = typeFilter
	}
	if sourceFilter != "" {
		sql += " AND source = $source"
		vars["source"] = sourceFilter
	}
	sql += " ORDER BY id"

	type row struct {
		ID string `json:"id"`
	}
	results, err := surrealdb.Query[[]row](ctx, s.db, sql, vars)
	if err != nil {
		return nil, engine.Wrap(engine.StoreError, "list_instruments", err)
	}
	var out []string
	if results != nil && len(*results) > 0 {
		for _, r := range (*results)[0].Result {
			out = append(out, r.ID)
		}
	}
	return out, nil
}

func (s *Store) GetInstrument(ctx context.Context, id string) (store.Instrument, error) {
	if err := s.wait(ctx); err != nil {
		return store.Instrument{}, engine.Wrap(engine.StoreError, "get_instrument", err)
	}
	rec, err := surrealdb.Select[instrumentRecord](ctx, s.db, surrealmodels.NewRecordID(instrumentTable, id))
	if err != nil {
		return store.Instrument{}, engine.Wrap(engine.StoreError, "get_instrument", err)
	}
	if rec == nil {
		return store.Instrument{}, engine.NewError(engine.StoreError, "get_instrument", "no such instrument: "+id)
	}
	return store.Instrument{ID: rec.ID, Name: rec.Name, Type: rec.Type, Source: rec.Source}, nil
}

func (s *Store) SaveAttribute(ctx context.Context, id, attr, source string, ts engine.Timestamp, value engine.AttributeValue) error {
	return s.SaveAttributes(ctx, id, attr, source, []engine.TimedValue{{Timestamp: ts, Value: value}})
}

// SaveAttributes upserts every value under its composite record id. SurrealDB
// lacks a single-round-trip multi-row transaction in the generic query API
// the pack demonstrates, so atomicity is approximated by upserting each
// record and aborting (without rolling back prior upserts) on first error;
// callers retrying a failed batch converge safely since every write is
// idempotent per composite key.
func (s *Store) SaveAttributes(ctx context.Context, id, attr, source string, values []engine.TimedValue) error {
	for _, v := range values {
		if err := s.wait(ctx); err != nil {
			return engine.Wrap(engine.StoreError, "save_attributes", err)
		}
		rec := attributeRecord{
			InstrumentID: id,
			Attribute:    attr,
			Source:       source,
			Timestamp:    v.Timestamp.Time(),
			ValueKind:    int(v.Value.Kind),
		}
		switch v.Value.Kind {
		case engine.ValueFloat:
			rec.ValueNum = v.Value.F
		case engine.ValueInt:
			rec.ValueInt = v.Value.I
		case engine.ValueText:
			rec.ValueText = v.Value.S
		}
		rid := surrealmodels.NewRecordID(attributeTable, attributeKey(id, attr, source, v.Timestamp))
		vars := map[string]any{"rid": rid, "data": rec}

		var lastErr error
		for attempt := 1; attempt <= 3; attempt++ {
			if _, err := surrealdb.Query[any](ctx, s.db, "UPSERT $rid CONTENT $data", vars); err == nil {
				lastErr = nil
				break
			} else {
				lastErr = err
			}
		}
		if lastErr != nil {
			return engine.Wrap(engine.StoreError, "save_attributes", fmt.Errorf("upsert after retries: %w", lastErr))
		}
	}
	return nil
}

func (s *Store) GetAttributeHistory(ctx context.Context, id, attr string, from, to engine.Timestamp, source string) ([]engine.TimedValue, error) {
	if err := s.wait(ctx); err != nil {
		return nil, engine.Wrap(engine.StoreError, "get_attribute_history", err)
	}
	sql := `SELECT timestamp, value_kind, value_num, value_int, value_text FROM attribute
		WHERE instrument_id = $id AND attribute = $attr AND timestamp >= $from AND timestamp <= $to`
	vars := map[string]any{"id": id, "attr": attr, "from": from.Time(), "to": to.Time()}
	if source != "" {
		sql += " AND source = $source"
		vars["source"] = source
	}
	sql += " ORDER BY timestamp ASC"

	results, err := surrealdb.Query[[]attributeRecord](ctx, s.db, sql, vars)
	if err != nil {
		return nil, engine.Wrap(engine.StoreError, "get_attribute_history", err)
	}
	var out []engine.TimedValue
	if results != nil && len(*results) > 0 {
		for _, r := range (*results)[0].Result {
			var value engine.AttributeValue
			switch engine.ValueKind(r.ValueKind) {
			case engine.ValueFloat:
				value = engine.Float(r.ValueNum)
			case engine.ValueInt:
				value = engine.Int(r.ValueInt)
			default:
				value = engine.Text(r.ValueText)
			}
			out = append(out, engine.TimedValue{Timestamp: engine.NewTimestamp(r.Timestamp), Value: value})
		}
	}
	return out, nil
}

func (s *Store) ListInstrumentAttributes(ctx context.Context, id string) ([]store.AttributeInfo, error) {
	if err := s.wait(ctx); err != nil {
		return nil, engine.Wrap(engine.StoreError, "list_instrument_attributes", err)
	}
	sql := `SELECT attribute, source, count() AS value_count, math::min(timestamp) AS first_ts, math::max(timestamp) AS last_ts
		FROM attribute WHERE instrument_id = $id GROUP BY attribute, source`
	type row struct {
		Attribute  string    `json:"attribute"`
		Source     string    `json:"source"`
		ValueCount int       `json:"value_count"`
		FirstTS    time.Time `json:"first_ts"`
		LastTS     time.Time `json:"last_ts"`
	}
	results, err := surrealdb.Query[[]row](ctx, s.db, sql, map[string]any{"id": id})
	if err != nil {
		return nil, engine.Wrap(engine.StoreError, "list_instrument_attributes", err)
	}
	var out []store.AttributeInfo
	if results != nil && len(*results) > 0 {
		for _, r := range (*results)[0].Result {
			out = append(out, store.AttributeInfo{
				Name:       r.Attribute,
				Source:     r.Source,
				ValueCount: r.ValueCount,
				FirstTS:    engine.NewTimestamp(r.FirstTS),
				LastTS:     engine.NewTimestamp(r.LastTS),
			})
		}
	}
	return out, nil
}

func (s *Store) GetAttributeValueCount(ctx context.Context, id, attr, source string) (int, error) {
	if err := s.wait(ctx); err != nil {
		return 0, engine.Wrap(engine.StoreError, "get_attribute_value_count", err)
	}
	sql := "SELECT count() AS n FROM attribute WHERE instrument_id = $id AND attribute = $attr"
	vars := map[string]any{"id": id, "attr": attr}
	if source != "" {
		sql += " AND source = $source"
		vars["source"] = source
	}
	type row struct {
		N int `json:"n"`
	}
	results, err := surrealdb.Query[[]row](ctx, s.db, sql, vars)
	if err != nil {
		return 0, engine.Wrap(engine.StoreError, "get_attribute_value_count", err)
	}
	if results != nil && len(*results) > 0 && len((*results)[0].Result) > 0 {
		return (*results)[0].Result[0].N, nil
	}
	return 0, nil
}

func (s *Store) DeleteInstrument(ctx context.Context, id string) error {
	if err := s.wait(ctx); err != nil {
		return engine.Wrap(engine.StoreError, "delete_instrument", err)
	}
	if _, err := surrealdb.Query[any](ctx, s.db, "DELETE attribute WHERE instrument_id = $id", map[string]any{"id": id}); err != nil {
		return engine.Wrap(engine.StoreError, "delete_instrument", err)
	}
	if _, err := surrealdb.Delete[instrumentRecord](ctx, s.db, surrealmodels.NewRecordID(instrumentTable, id)); err != nil {
		return engine.Wrap(engine.StoreError, "delete_instrument", err)
	}
	return nil
}

func (s *Store) DeleteInstruments(ctx context.Context, idFilter, typeFilter, sourceFilter string) error {
	ids, err := s.ListInstruments(ctx, typeFilter, sourceFilter)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if idFilter != "" && id != idFilter {
			continue
		}
		if err := s.DeleteInstrument(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) DeleteAttributes(ctx context.Context, id, attr string) error {
	if err := s.wait(ctx); err != nil {
		return engine.Wrap(engine.StoreError, "delete_attributes", err)
	}
	sql := "DELETE attribute WHERE instrument_id = $id"
	vars := map[string]any{"id": id}
	if attr != "" {
		sql += " AND attribute = $attr"
		vars["attr"] = attr
	}
	if _, err := surrealdb.Query[any](ctx, s.db, sql, vars); err != nil {
		return engine.Wrap(engine.StoreError, "delete_attributes", err)
	}
	return nil
}

func (s *Store) DeleteSource(ctx context.Context, source string) error {
	if err := s.wait(ctx); err != nil {
		return engine.Wrap(engine.StoreError, "delete_source", err)
	}
	if _, err := surrealdb.Query[any](ctx, s.db, "DELETE attribute WHERE source = $source", map[string]any{"source": source}); err != nil {
		return engine.Wrap(engine.StoreError, "delete_source", err)
	}
	return nil
}
