// Package sqlitestore is a persistent implementation of store.AttributeStore
// on top of modernc.org/sqlite, a pure-Go SQLite driver requiring no cgo
// toolchain.
package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/bobmcallan/backtestd/internal/engine"
	"github.com/bobmcallan/backtestd/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS instruments (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	type TEXT NOT NULL,
	source TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS attributes (
	instrument_id TEXT NOT NULL,
	attribute TEXT NOT NULL,
	source TEXT NOT NULL,
	ts TEXT NOT NULL,
	value_kind INTEGER NOT NULL,
	value_num REAL,
	value_int INTEGER,
	value_text TEXT,
	UNIQUE(instrument_id, attribute, source, ts)
);

CREATE INDEX IF NOT EXISTS idx_attributes_lookup
	ON attributes(instrument_id, attribute, ts);
`

// Store is a *sql.DB-backed AttributeStore. The connection pool is safe for
// concurrent read-only use across back-tests sharing one handle.
type Store struct {
	db *sql.DB
}

var _ store.AttributeStore = (*Store)(nil)

// Open opens (creating if necessary) the SQLite database at path and
// ensures the schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error { return s.db.Close() }

func tsFormat(ts engine.Timestamp) string { return ts.String() }

func parseTS(raw string) (engine.Timestamp, error) {
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return engine.Timestamp{}, fmt.Errorf("parse timestamp %q: %w", raw, err)
	}
	return engine.NewTimestamp(t), nil
}

func (s *Store) ListSources(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT source FROM attributes ORDER BY source`)
	if err != nil {
		return nil, engine.Wrap(engine.StoreError, "list_sources", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var src string
		if err := rows.Scan(&src); err != nil {
			return nil, engine.Wrap(engine.StoreError, "list_sources", err)
		}
		out = append(out, src)
	}
	return out, rows.Err()
}

func (s *Store) SaveInstrument(ctx context.Context, id, name, typ, source string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO instruments (id, name, type, source) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name=excluded.name, type=excluded.type, source=excluded.source
	`, id, name, typ, source)
	if err != nil {
		return engine.Wrap(engine.StoreError, "save_instrument", err)
	}
	return nil
}

func (s *Store) InstrumentExists(ctx context.Context, id string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM instruments WHERE id = ?`, id).Scan(&count)
	if err != nil {
		return false, engine.Wrap(engine.StoreError, "instrument_exists", err)
	}
	return count > 0, nil
}

func (s *Store) ListInstruments(ctx context.Context, typeFilter, sourceFilter string) ([]string, error) {
	query := `SELECT id FROM instruments WHERE 1=1`
	var args []any
	if typeFilter != "" {
		query += ` AND type = ?`
		args = append(args, typeFilter)
	}
	if sourceFilter != "" {
		query += ` AND source = ?`
		args = append(args, sourceFilter)
	}
	query += ` ORDER BY id`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, engine.Wrap(engine.StoreError, "list_instruments", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, engine.Wrap(engine.StoreError, "list_instruments", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *Store) GetInstrument(ctx context.Context, id string) (store.Instrument, error) {
	var inst store.Instrument
	err := s.db.QueryRowContext(ctx, `SELECT id, name, type, source FROM instruments WHERE id = ?`, id).
		Scan(&inst.ID, &inst.Name, &inst.Type, &inst.Source)
	if err == sql.ErrNoRows {
		return store.Instrument{}, engine.NewError(engine.StoreError, "get_instrument", "no such instrument: "+id)
	}
	if err != nil {
		return store.Instrument{}, engine.Wrap(engine.StoreError, "get_instrument", err)
	}
	return inst, nil
}

func (s *Store) SaveAttribute(ctx context.Context, id, attr, source string, ts engine.Timestamp, value engine.AttributeValue) error {
	return s.SaveAttributes(ctx, id, attr, source, []engine.TimedValue{{Timestamp: ts, Value: value}})
}

// SaveAttributes writes the batch in one transaction: either every value is
// applied or none are, enforcing the uniqueness constraint atomically.
func (s *Store) SaveAttributes(ctx context.Context, id, attr, source string, values []engine.TimedValue) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return engine.Wrap(engine.StoreError, "save_attributes", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO attributes (instrument_id, attribute, source, ts, value_kind, value_num, value_int, value_text)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(instrument_id, attribute, source, ts) DO UPDATE SET
			value_kind=excluded.value_kind, value_num=excluded.value_num,
			value_int=excluded.value_int, value_text=excluded.value_text
	`)
	if err != nil {
		return engine.Wrap(engine.StoreError, "save_attributes", err)
	}
	defer stmt.Close()

	for _, v := range values {
		var num sql.NullFloat64
		var intVal sql.NullInt64
		var text sql.NullString
		switch v.Value.Kind {
		case engine.ValueFloat:
			num = sql.NullFloat64{Float64: v.Value.F, Valid: true}
		case engine.ValueInt:
			intVal = sql.NullInt64{Int64: v.Value.I, Valid: true}
		case engine.ValueText:
			text = sql.NullString{String: v.Value.S, Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, id, attr, source, tsFormat(v.Timestamp), int(v.Value.Kind), num, intVal, text); err != nil {
			return engine.Wrap(engine.StoreError, "save_attributes", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return engine.Wrap(engine.StoreError, "save_attributes", err)
	}
	return nil
}

func (s *Store) GetAttributeHistory(ctx context.Context, id, attr string, from, to engine.Timestamp, source string) ([]engine.TimedValue, error) {
	query := `
		SELECT ts, value_kind, value_num, value_int, value_text FROM attributes
		WHERE instrument_id = ? AND attribute = ? AND ts >= ? AND ts <= ?
	`
	args := []any{id, attr, tsFormat(from), tsFormat(to)}
	if source != "" {
		query += ` AND source = ?`
		args = append(args, source)
	}
	query += ` ORDER BY ts ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, engine.Wrap(engine.StoreError, "get_attribute_history", err)
	}
	defer rows.Close()

	var out []engine.TimedValue
	for rows.Next() {
		var tsRaw string
		var kind int
		var num sql.NullFloat64
		var intVal sql.NullInt64
		var text sql.NullString
		if err := rows.Scan(&tsRaw, &kind, &num, &intVal, &text); err != nil {
			return nil, engine.Wrap(engine.StoreError, "get_attribute_history", err)
		}
		ts, err := parseTS(tsRaw)
		if err != nil {
			return nil, engine.Wrap(engine.StoreError, "get_attribute_history", err)
		}
		var value engine.AttributeValue
		switch engine.ValueKind(kind) {
		case engine.ValueFloat:
			value = engine.Float(num.Float64)
		case engine.ValueInt:
			value = engine.Int(intVal.Int64)
		default:
			value = engine.Text(text.String)
		}
		out = append(out, engine.TimedValue{Timestamp: ts, Value: value})
	}
	return out, rows.Err()
}

func (s *Store) ListInstrumentAttributes(ctx context.Context, id string) ([]store.AttributeInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT attribute, source, COUNT(1), MIN(ts), MAX(ts)
		FROM attributes WHERE instrument_id = ?
		GROUP BY attribute, source
	`, id)
	if err != nil {
		return nil, engine.Wrap(engine.StoreError, "list_instrument_attributes", err)
	}
	defer rows.Close()

	var out []store.AttributeInfo
	for rows.Next() {
		var info store.AttributeInfo
		var firstRaw, lastRaw string
		if err := rows.Scan(&info.Name, &info.Source, &info.ValueCount, &firstRaw, &lastRaw); err != nil {
			return nil, engine.Wrap(engine.StoreError, "list_instrument_attributes", err)
		}
		if info.FirstTS, err = parseTS(firstRaw); err != nil {
			return nil, engine.Wrap(engine.StoreError, "list_instrument_attributes", err)
		}
		if info.LastTS, err = parseTS(lastRaw); err != nil {
			return nil, engine.Wrap(engine.StoreError, "list_instrument_attributes", err)
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

func (s *Store) GetAttributeValueCount(ctx context.Context, id, attr, source string) (int, error) {
	query := `SELECT COUNT(1) FROM attributes WHERE instrument_id = ? AND attribute = ?`
	args := []any{id, attr}
	if source != "" {
		query += ` AND source = ?`
		args = append(args, source)
	}
	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, engine.Wrap(engine.StoreError, "get_attribute_value_count", err)
	}
	return count, nil
}

func (s *Store) DeleteInstrument(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM attributes WHERE instrument_id = ?`, id); err != nil {
		return engine.Wrap(engine.StoreError, "delete_instrument", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM instruments WHERE id = ?`, id); err != nil {
		return engine.Wrap(engine.StoreError, "delete_instrument", err)
	}
	return nil
}

// DeleteInstruments removes every instrument matching the given filters
// (each empty filter matches anything), along with their attributes.
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
	query := `DELETE FROM attributes WHERE instrument_id = ?`
	args := []any{id}
	if attr != "" {
		query += ` AND attribute = ?`
		args = append(args, attr)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return engine.Wrap(engine.StoreError, "delete_attributes", err)
	}
	return nil
}

func (s *Store) DeleteSource(ctx context.Context, source string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM attributes WHERE source = ?`, source); err != nil {
		return engine.Wrap(engine.StoreError, "delete_source", err)
	}
	return nil
}
