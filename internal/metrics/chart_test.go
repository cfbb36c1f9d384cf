package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/backtestd/internal/engine"
)

func TestRenderEquityCurveProducesPNGBytes(t *testing.T) {
	values := []engine.DailyValue{dv(1, 1000), dv(2, 1050), dv(3, 1100)}
	png, err := RenderEquityCurve(values)
	require.NoError(t, err)
	require.True(t, len(png) > 8)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, png[:4])
}

func TestRenderEquityCurveRejectsFewerThanTwoPoints(t *testing.T) {
	_, err := RenderEquityCurve([]engine.DailyValue{dv(1, 1000)})
	require.Error(t, err)
}
