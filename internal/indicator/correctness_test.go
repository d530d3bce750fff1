package indicator

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradechart/internal/model"
)

// ────────────────────────────────────────────────────────────
// Helpers
// ────────────────────────────────────────────────────────────

var day0 = time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)

func barsFromCloses(closes ...float64) []model.Bar {
	out := make([]model.Bar, len(closes))
	for i, c := range closes {
		out[i] = model.Bar{
			Time: day0.AddDate(0, 0, i),
			Open: c, High: c + 0.5, Low: c - 0.5, Close: c,
		}
	}
	return out
}

func randomBars(n int, seed int64) []model.Bar {
	rng := rand.New(rand.NewSource(seed))
	closes := make([]float64, n)
	price := 100.0
	for i := range closes {
		price += rng.Float64()*4 - 2
		closes[i] = price
	}
	return barsFromCloses(closes...)
}

func assertClose(t *testing.T, label string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %.6f, want %.6f (tol=%.6f, diff=%.6f)", label, got, want, tol, math.Abs(got-want))
	}
}

// ────────────────────────────────────────────────────────────
// SMA Correctness
// ────────────────────────────────────────────────────────────

func TestSMA_WorkedExample(t *testing.T) {
	bars := barsFromCloses(10, 11, 9, 12)

	got, err := SMA(bars, 2)
	require.NoError(t, err)
	require.Len(t, got, 3)

	want := []model.Point{
		{Time: bars[1].Time, Value: 10.5},
		{Time: bars[2].Time, Value: 10.0},
		{Time: bars[3].Time, Value: 10.5},
	}
	assert.Equal(t, want, got)
}

func TestSMA_Correctness_Period3(t *testing.T) {
	// (100+102+104)/3 = 102, (102+104+103)/3 = 103, (104+103+105)/3 = 104
	got, err := SMA(barsFromCloses(100, 102, 104, 103, 105), 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, want := range []float64{102, 103, 104} {
		assertClose(t, "SMA(3)", got[i].Value, want, 1e-9)
	}
}

func TestSMA_PointCountAndWindowMean(t *testing.T) {
	bars := randomBars(40, 7)
	for period := 1; period <= 45; period++ {
		got, err := SMA(bars, period)
		require.NoError(t, err)

		want := len(bars) - period + 1
		if want < 0 {
			want = 0
		}
		require.Len(t, got, want, "period=%d", period)

		for j, pt := range got {
			i := j + period - 1
			sum := 0.0
			for _, b := range bars[i-period+1 : i+1] {
				sum += b.Close
			}
			assert.Equal(t, bars[i].Time, pt.Time)
			assertClose(t, "window mean", pt.Value, sum/float64(period), 1e-9)
		}
	}
}

func TestSMA_PeriodLongerThanSeries(t *testing.T) {
	got, err := SMA(barsFromCloses(1, 2, 3), 14)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestSMA_InvalidPeriod(t *testing.T) {
	for _, p := range []int{0, -3} {
		_, err := SMA(barsFromCloses(1, 2, 3), p)
		assert.ErrorIs(t, err, ErrInvalidPeriod)
	}
}

// ────────────────────────────────────────────────────────────
// EMA Correctness
// ────────────────────────────────────────────────────────────

func TestEMA_Correctness_Period3(t *testing.T) {
	// multiplier = 2/(3+1) = 0.5, seeded with the first close:
	// 100 → 101 → 102.5 → 102.75 → 103.875
	got, err := EMA(barsFromCloses(100, 102, 104, 103, 105), 3)
	require.NoError(t, err)
	require.Len(t, got, 5)
	for i, want := range []float64{100, 101, 102.5, 102.75, 103.875} {
		assertClose(t, "EMA(3)", got[i].Value, want, 1e-9)
	}
}

func TestEMA_OnePointPerBar(t *testing.T) {
	for n := 1; n <= 30; n++ {
		bars := randomBars(n, int64(n))
		got, err := EMA(bars, 14)
		require.NoError(t, err)
		require.Len(t, got, n)
		assert.Equal(t, bars[0].Close, got[0].Value, "seed point must equal close[0]")
		assert.Equal(t, bars[0].Time, got[0].Time)
	}
}

func TestEMA_Empty(t *testing.T) {
	got, err := EMA(nil, 14)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestEMA_Period1TracksClose(t *testing.T) {
	bars := barsFromCloses(5, 7, 3, 9)
	got, err := EMA(bars, 1)
	require.NoError(t, err)
	for i, b := range bars {
		assertClose(t, "EMA(1)", got[i].Value, b.Close, 1e-12)
	}
}

// ────────────────────────────────────────────────────────────
// RSI Correctness
// ────────────────────────────────────────────────────────────

func TestRSI_PointCount(t *testing.T) {
	const period = 14
	for n := 0; n <= 40; n++ {
		got, err := RSI(randomBars(n, int64(n)+100), period)
		require.NoError(t, err)

		want := 0
		if n > period+1 {
			want = n - 1 - period
		}
		assert.Len(t, got, want, "n=%d", n)
	}
}

func TestRSI_RangeOnRandomSeries(t *testing.T) {
	for seed := int64(0); seed < 20; seed++ {
		got, err := RSI(randomBars(60, seed), 14)
		require.NoError(t, err)
		for _, pt := range got {
			assert.GreaterOrEqual(t, pt.Value, 0.0)
			assert.LessOrEqual(t, pt.Value, 100.0)
		}
	}
}

func TestRSI_StrictlyIncreasingTrendsUp(t *testing.T) {
	// Accelerating gains: every step is larger than the last, no losses.
	closes := make([]float64, 20)
	for i := range closes {
		closes[i] = 100 + float64(i*i)
	}
	got, err := RSI(barsFromCloses(closes...), 14)
	require.NoError(t, err)
	require.Len(t, got, 5)

	prev := 0.0
	for _, pt := range got {
		assert.LessOrEqual(t, pt.Value, 100.0)
		assert.Greater(t, pt.Value, prev, "RSI should keep rising")
		prev = pt.Value
	}
	assert.Greater(t, got[len(got)-1].Value, 90.0)
}

func TestRSI_ZeroLossGuard(t *testing.T) {
	// Constant +1 steps: avgGain = 1, avgLoss = 0 → RS = 1/1 → RSI = 50.
	closes := make([]float64, 18)
	for i := range closes {
		closes[i] = float64(10 + i)
	}
	got, err := RSI(barsFromCloses(closes...), 14)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for _, pt := range got {
		assertClose(t, "RSI guard", pt.Value, 50, 1e-9)
	}
}

func TestRSI_FlatSeries(t *testing.T) {
	got, err := RSI(barsFromCloses(5, 5, 5, 5, 5, 5), 2)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for _, pt := range got {
		assert.Equal(t, 0.0, pt.Value)
	}
}

func TestRSI_HandCalculated(t *testing.T) {
	// period 2, closes 10, 12, 11, 13
	// seed: i=1 gain 2 → avgGain 1; i=2 loss 1 → avgLoss 0.5
	// i=3 gain 2: avgGain = (1*1+2)/2 = 1.5, avgLoss = (0.5*1+0)/2 = 0.25
	// RS = 6 → RSI = 100 - 100/7
	got, err := RSI(barsFromCloses(10, 12, 11, 13), 2)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assertClose(t, "RSI(2)", got[0].Value, 100-100.0/7, 1e-9)
}

// ────────────────────────────────────────────────────────────
// MACD Correctness
// ────────────────────────────────────────────────────────────

func TestMACD_AlignedWithInput(t *testing.T) {
	bars := randomBars(50, 3)
	res, err := MACD(bars, 12, 26, 9)
	require.NoError(t, err)
	require.Len(t, res.MACD, len(bars))
	require.Len(t, res.Signal, len(res.MACD))

	short, _ := EMA(bars, 12)
	long, _ := EMA(bars, 26)
	for i, b := range bars {
		assert.Equal(t, b.Time, res.MACD[i].Time)
		assert.Equal(t, b.Time, res.Signal[i].Time)
		assertClose(t, "macd", res.MACD[i].Value, short[i].Value-long[i].Value, 1e-12)
	}
}

func TestMACD_SignalIsEMAOfLine(t *testing.T) {
	bars := randomBars(30, 11)
	res, err := MACD(bars, 3, 6, 4)
	require.NoError(t, err)

	asBars := make([]model.Bar, len(res.MACD))
	for i, pt := range res.MACD {
		asBars[i] = model.Bar{Time: pt.Time, Close: pt.Value}
	}
	want, _ := EMA(asBars, 4)
	assert.Equal(t, want, res.Signal)
}

func TestMACD_ConstantSeriesIsZero(t *testing.T) {
	res, err := MACD(barsFromCloses(7, 7, 7, 7, 7), 12, 26, 9)
	require.NoError(t, err)
	for i := range res.MACD {
		assert.Equal(t, 0.0, res.MACD[i].Value)
		assert.Equal(t, 0.0, res.Signal[i].Value)
	}
}

func TestMACD_EmptyAndInvalid(t *testing.T) {
	res, err := MACD(nil, 12, 26, 9)
	require.NoError(t, err)
	assert.Empty(t, res.MACD)
	assert.Empty(t, res.Signal)

	_, err = MACD(barsFromCloses(1, 2), 12, 0, 9)
	assert.ErrorIs(t, err, ErrInvalidPeriod)
}
