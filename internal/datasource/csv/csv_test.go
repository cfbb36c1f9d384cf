package csv

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/backtestd/internal/engine"
)

func writeCSV(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "prices.csv")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestExtractParsesCloseAndDividendColumns(t *testing.T) {
	path := writeCSV(t, "date,close,dividend\n2024-01-01,100.5,0\n2024-01-02,101,1.25\n")

	d := New()
	out, err := d.Extract(path, map[string]string{
		"csv-file": path,
		"csv-map":  "close:2;dividend:3",
	})
	require.NoError(t, err)

	require.Len(t, out["close"], 2)
	assert.Equal(t, engine.NewTimestamp(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)), out["close"][0].Timestamp)
	f, ok := out["close"][0].Value.AsFloat()
	require.True(t, ok)
	assert.Equal(t, 100.5, f)

	div, ok := out["dividend"][1].Value.AsFloat()
	require.True(t, ok)
	assert.Equal(t, 1.25, div)
}

func TestExtractRequiresCSVMap(t *testing.T) {
	path := writeCSV(t, "date,close\n2024-01-01,100\n")
	d := New()
	_, err := d.Extract(path, map[string]string{"csv-file": path})
	require.Error(t, err)
}

func TestExtractSkipsRowsWithUnparseableDate(t *testing.T) {
	path := writeCSV(t, "date,close\nnot-a-date,100\n2024-01-02,101\n")
	d := New()
	out, err := d.Extract(path, map[string]string{
		"csv-file": path,
		"csv-map":  "close:2",
	})
	require.NoError(t, err)
	require.Len(t, out["close"], 1)
}

func TestExtractCustomDelimiterAndDateFormat(t *testing.T) {
	path := writeCSV(t, "date;close\n01/02/2024;55\n")
	d := New()
	out, err := d.Extract(path, map[string]string{
		"csv-file":        path,
		"csv-delimiter":   ";",
		"csv-date-format": "%m/%d/%Y",
		"csv-map":         "close:2",
	})
	require.NoError(t, err)
	require.Len(t, out["close"], 1)
	assert.Equal(t, engine.NewTimestamp(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)), out["close"][0].Timestamp)
}

func TestExtractNarrowsIntBeforeFloatBeforeText(t *testing.T) {
	path := writeCSV(t, "date,a,b,c\n2024-01-01,5,5.5,hello\n")
	d := New()
	out, err := d.Extract(path, map[string]string{
		"csv-file": path,
		"csv-map":  "a:2;b:3;c:4",
	})
	require.NoError(t, err)
	assert.Equal(t, engine.ValueInt, out["a"][0].Value.Kind)
	assert.Equal(t, engine.ValueFloat, out["b"][0].Value.Kind)
	assert.Equal(t, engine.ValueText, out["c"][0].Value.Kind)
}

func TestExtractFailsOnOutOfRangeColumn(t *testing.T) {
	path := writeCSV(t, "date,close\n2024-01-01,100\n")
	d := New()
	_, err := d.Extract(path, map[string]string{
		"csv-file": path,
		"csv-map":  "close:5",
	})
	require.Error(t, err)
}
