package indicator

import "tradechart/internal/model"

// MACDResult holds the two MACD lines, both aligned to the input bars.
type MACDResult struct {
	MACD   []model.Point `json:"macd"`
	Signal []model.Point `json:"signal"`
}

// MACD calculates Moving Average Convergence Divergence.
//
//	macd[i]  = EMA(short)[i] - EMA(long)[i]
//	signal   = EMA(signal) over the macd line read back as closes
//
// Both EMA passes emit one point per bar, so a missing long point cannot occur
// for well-formed input; it is still treated as 0 rather than failing.
func MACD(bars []model.Bar, shortPeriod, longPeriod, signalPeriod int) (MACDResult, error) {
	for _, c := range []struct {
		name   string
		period int
	}{
		{"MACD short", shortPeriod},
		{"MACD long", longPeriod},
		{"MACD signal", signalPeriod},
	} {
		if err := checkPeriod(c.name, c.period); err != nil {
			return MACDResult{}, err
		}
	}

	emaShort := ema(bars, shortPeriod)
	emaLong := ema(bars, longPeriod)

	line := make([]model.Point, len(emaShort))
	for i, s := range emaShort {
		long := 0.0
		if i < len(emaLong) {
			long = emaLong[i].Value
		}
		line[i] = model.Point{Time: s.Time, Value: s.Value - long}
	}

	asBars := make([]model.Bar, len(line))
	for i, pt := range line {
		asBars[i] = model.Bar{Time: pt.Time, Close: pt.Value}
	}

	return MACDResult{MACD: line, Signal: ema(asBars, signalPeriod)}, nil
}
