// Package csv implements the CSV data-source driver: the reference
// implementation of the datasource.Source contract, reading a flat file
// into attribute time series per a configurable column map.
package csv

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/bobmcallan/backtestd/internal/datasource"
	"github.com/bobmcallan/backtestd/internal/engine"
)

// Driver is the CSV implementation of datasource.Source.
type Driver struct{}

// New constructs a CSV driver for registration in a datasource.Registry.
func New() datasource.Source { return &Driver{} }

// Extract reads the configured file and produces one time series per
// csv-map entry. Recognized options: csv-file (required), csv-delimiter
// (default ","), csv-skip-header (default true), csv-date-format (strftime-
// like, default "%Y-%m-%d"), csv-date-column (1-based, default 1), csv-map
// (repeatable, "attr:column" with a 1-based column). Rows with an unknown
// date string are skipped; an out-of-range column index aborts extraction
// with a row-numbered error. Values are parsed as integer, then float, then
// text (first successful wins).
func (d *Driver) Extract(path string, opts map[string]string) (map[string][]engine.TimedValue, error) {
	file := opts["csv-file"]
	if file == "" {
		file = path
	}
	if file == "" {
		return nil, fmt.Errorf("csv-file is required")
	}

	delim := ','
	if v := opts["csv-delimiter"]; v != "" {
		delim = []rune(v)[0]
	}
	skipHeader := true
	if v, ok := opts["csv-skip-header"]; ok {
		skipHeader = v != "false"
	}
	layout := strftimeToLayout(orDefault(opts["csv-date-format"], "%Y-%m-%d"))
	dateCol := 1
	if v := opts["csv-date-column"]; v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			dateCol = n
		}
	}
	attrCols, err := parseAttrMap(opts)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(file)
	if err != nil {
		return nil, fmt.Errorf("open csv file %s: %w", file, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.Comma = delim
	reader.FieldsPerRecord = -1

	out := make(map[string][]engine.TimedValue, len(attrCols))
	rowNum := 0
	for {
		row, rerr := reader.Read()
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return nil, fmt.Errorf("read csv row %d: %w", rowNum, rerr)
		}
		rowNum++
		if rowNum == 1 && skipHeader {
			continue
		}

		if dateCol < 1 || dateCol > len(row) {
			return nil, fmt.Errorf("row %d: date column %d out of range (%d columns)", rowNum, dateCol, len(row))
		}
		ts, ok := parseDate(row[dateCol-1], layout)
		if !ok {
			continue
		}

		for attr, col := range attrCols {
			if col < 1 || col > len(row) {
				return nil, fmt.Errorf("row %d: column %d for attribute %q out of range (%d columns)", rowNum, col, attr, len(row))
			}
			value := narrowValue(row[col-1])
			out[attr] = append(out[attr], engine.TimedValue{Timestamp: ts, Value: value})
		}
	}

	return out, nil
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

// parseAttrMap reads the repeatable csv-map option. Callers pass each
// repetition joined by ";" under the single "csv-map" key (e.g.
// "close:2;dividend:3") since the option map is not itself repeatable.
func parseAttrMap(opts map[string]string) (map[string]int, error) {
	raw := opts["csv-map"]
	if raw == "" {
		return nil, fmt.Errorf("csv-map is required")
	}
	out := make(map[string]int)
	for _, entry := range strings.Split(raw, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("malformed csv-map entry %q (want attr:column)", entry)
		}
		col, err := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil {
			return nil, fmt.Errorf("malformed csv-map column in %q: %w", entry, err)
		}
		out[strings.TrimSpace(parts[0])] = col
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("csv-map contained no usable entries")
	}
	return out, nil
}

// strftimeToLayout converts the small set of strftime directives the spec
// recognizes into a Go time layout.
func strftimeToLayout(format string) string {
	replacer := strings.NewReplacer(
		"%Y", "2006",
		"%m", "01",
		"%d", "02",
		"%H", "15",
		"%M", "04",
		"%S", "05",
	)
	return replacer.Replace(format)
}

func parseDate(raw, layout string) (engine.Timestamp, bool) {
	t, err := time.Parse(layout, strings.TrimSpace(raw))
	if err != nil {
		return engine.Timestamp{}, false
	}
	return engine.NewTimestamp(t), true
}

// narrowValue applies the int -> float -> text narrowing rule.
func narrowValue(raw string) engine.AttributeValue {
	raw = strings.TrimSpace(raw)
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return engine.Int(n)
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return engine.Float(f)
	}
	return engine.Text(raw)
}
