package indicator

import "tradechart/internal/model"

// SMA calculates the Simple Moving Average of closes over a rolling window.
//
// A point is emitted for every index i >= period-1, stamped with bars[i].Time.
// The first period-1 bars are warm-up and produce nothing, so a series shorter
// than period yields an empty result. Each value is the direct mean of its
// window rather than a running sum, so it matches a hand calculation exactly.
func SMA(bars []model.Bar, period int) ([]model.Point, error) {
	if err := checkPeriod("SMA", period); err != nil {
		return nil, err
	}
	if len(bars) < period {
		return []model.Point{}, nil
	}

	closes := model.Closes(bars)
	out := make([]model.Point, 0, len(bars)-period+1)
	for i := period - 1; i < len(closes); i++ {
		sum := 0.0
		for _, c := range closes[i-period+1 : i+1] {
			sum += c
		}
		out = append(out, model.Point{Time: bars[i].Time, Value: sum / float64(period)})
	}
	return out, nil
}
