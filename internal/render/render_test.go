package render

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wcharczuk/go-chart/v2"

	"tradechart/internal/dataset"
	"tradechart/internal/indicator"
	"tradechart/internal/model"
)

var pngMagic = []byte("\x89PNG\r\n\x1a\n")

func bars(n int) []model.Bar {
	t0 := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	out := make([]model.Bar, n)
	for i := range out {
		c := 1.08 + float64(i%6)*0.001 - float64(i%4)*0.0007
		out[i] = model.Bar{Time: t0.AddDate(0, 0, i), Open: c - 0.0004, High: c + 0.002, Low: c - 0.002, Close: c}
	}
	return out
}

func assemble(t *testing.T, n int, toggles ...indicator.Kind) dataset.Dataset {
	t.Helper()
	eng, err := indicator.NewEngine(indicator.DefaultPeriods())
	require.NoError(t, err)
	ds, err := dataset.NewAssembler(eng).Assemble(bars(n), dataset.DateRange{Window: "30d"}, dataset.NewToggleSet(toggles...))
	require.NoError(t, err)
	ds.Symbol = "EURUSD"
	return ds
}

func TestPNG_Signature(t *testing.T) {
	ds := assemble(t, 40, indicator.KindSMA, indicator.KindEMA, indicator.KindRSI, indicator.KindMACD)

	var buf bytes.Buffer
	require.NoError(t, PNG(&buf, ds, Options{Width: 640, Height: 320}))
	require.Greater(t, buf.Len(), len(pngMagic))
	assert.Equal(t, pngMagic, buf.Bytes()[:len(pngMagic)])
}

func TestChart_Series(t *testing.T) {
	ds := assemble(t, 40, indicator.KindSMA, indicator.KindRSI)

	c, err := Chart(ds, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1024, c.Width)
	assert.Equal(t, "EURUSD 30d", c.Title)

	require.Len(t, c.Series, 3)
	assert.Equal(t, "Candlestick", c.Series[0].GetName())
	assert.Equal(t, chart.YAxisPrimary, c.Series[1].GetYAxis())
	assert.Equal(t, chart.YAxisSecondary, c.Series[2].GetYAxis())

	rng, ok := c.YAxisSecondary.Range.(*chart.ContinuousRange)
	require.True(t, ok)
	assert.Equal(t, 0.0, rng.Min)
	assert.Equal(t, 100.0, rng.Max)
}

func TestChart_SkipsShortLines(t *testing.T) {
	// RSI(14) has no points for five bars.
	ds := assemble(t, 5, indicator.KindRSI)

	c, err := Chart(ds, Options{})
	require.NoError(t, err)
	assert.Len(t, c.Series, 1)
}

func TestChart_TooFewBars(t *testing.T) {
	ds := assemble(t, 1)
	_, err := Chart(ds, Options{})
	assert.ErrorIs(t, err, ErrTooFewBars)
}

func TestCandleSeries_BoundedValues(t *testing.T) {
	b := bars(2)
	cs := &CandleSeries{Bars: b}
	require.Equal(t, 2, cs.Len())

	x, lo, hi := cs.GetBoundedValues(1)
	assert.Equal(t, chart.TimeToFloat64(b[1].Time), x)
	assert.Equal(t, b[1].Low, lo)
	assert.Equal(t, b[1].High, hi)

	assert.Error(t, (&CandleSeries{}).Validate())
}
