package metrics

import (
	"bytes"
	"fmt"
	"time"

	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/bobmcallan/backtestd/internal/engine"
)

// RenderEquityCurve renders a PNG line chart of the daily portfolio value
// series. Single series: Equity Value (blue solid). Returns raw PNG bytes.
func RenderEquityCurve(dailyValues []engine.DailyValue) ([]byte, error) {
	if len(dailyValues) < 2 {
		return nil, fmt.Errorf("need at least 2 daily values, got %d", len(dailyValues))
	}

	xValues := make([]time.Time, len(dailyValues))
	yValues := make([]float64, len(dailyValues))
	for i, p := range dailyValues {
		xValues[i] = p.Date.Time()
		yValues[i] = p.Value
	}

	span := xValues[len(xValues)-1].Sub(xValues[0])
	xFormat := "Jan 06"
	if span < 60*24*time.Hour {
		xFormat = "02 Jan"
	} else if span > 18*30*24*time.Hour {
		xFormat = "Jan 2006"
	}

	valueSeries := chart.TimeSeries{
		Name: "Equity Value",
		Style: chart.Style{
			StrokeColor: drawing.ColorFromHex("2563eb"),
			StrokeWidth: 2.5,
		},
		XValues: xValues,
		YValues: yValues,
	}

	graph := chart.Chart{
		Title:  "Equity Curve",
		Width:  900,
		Height: 400,
		Background: chart.Style{
			Padding: chart.Box{Top: 40, Left: 10, Right: 20, Bottom: 10},
		},
		XAxis: chart.XAxis{
			TickPosition: chart.TickPositionBetweenTicks,
			ValueFormatter: func(v interface{}) string {
				if t, ok := v.(float64); ok {
					return chart.TimeFromFloat64(t).Format(xFormat)
				}
				return ""
			},
		},
		YAxis: chart.YAxis{
			ValueFormatter: func(v interface{}) string {
				if f, ok := v.(float64); ok {
					return fmt.Sprintf("$%.0fk", f/1000)
				}
				return ""
			},
		},
		Series: []chart.Series{valueSeries},
	}

	var buf bytes.Buffer
	if err := graph.Render(chart.PNG, &buf); err != nil {
		return nil, fmt.Errorf("chart render failed: %w", err)
	}
	return buf.Bytes(), nil
}
