package indicator

import "tradechart/internal/model"

// EMA calculates the Exponential Moving Average of closes.
//
// The first close seeds the average and is emitted as the first point, so the
// result always has one point per bar. After that:
//
//	EMA[i] = (close[i] - EMA[i-1]) * 2/(period+1) + EMA[i-1]
func EMA(bars []model.Bar, period int) ([]model.Point, error) {
	if err := checkPeriod("EMA", period); err != nil {
		return nil, err
	}
	return ema(bars, period), nil
}

// ema assumes period was already validated.
func ema(bars []model.Bar, period int) []model.Point {
	if len(bars) == 0 {
		return []model.Point{}
	}

	multiplier := 2.0 / float64(period+1)
	prev := bars[0].Close

	out := make([]model.Point, 0, len(bars))
	out = append(out, model.Point{Time: bars[0].Time, Value: prev})
	for _, b := range bars[1:] {
		cur := (b.Close-prev)*multiplier + prev
		out = append(out, model.Point{Time: b.Time, Value: cur})
		prev = cur
	}
	return out
}
