package indicator

import "tradechart/internal/model"

// RSI calculates the Relative Strength Index using Wilder's smoothing.
//
// Steps 1..period only seed the averages (avg += x/period) and emit nothing.
// From step period+1 on, each step smooths the averages and emits
// 100 - 100/(1+RS). A zero average loss is replaced by 1 when forming RS, so
// a run of pure gains approaches 100 instead of dividing by zero.
//
// For n bars the result has n-1-period points when n > period+1, else none.
func RSI(bars []model.Bar, period int) ([]model.Point, error) {
	if err := checkPeriod("RSI", period); err != nil {
		return nil, err
	}

	n := len(bars) - 1 - period
	if n < 0 {
		n = 0
	}
	out := make([]model.Point, 0, n)

	closes := model.Closes(bars)
	p := float64(period)
	var avgGain, avgLoss float64
	for i := 1; i < len(closes); i++ {
		change := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else if change < 0 {
			loss = -change
		}

		if i <= period {
			avgGain += gain / p
			avgLoss += loss / p
			continue
		}

		avgGain = (avgGain*(p-1) + gain) / p
		avgLoss = (avgLoss*(p-1) + loss) / p

		denom := avgLoss
		if denom == 0 {
			denom = 1
		}
		rs := avgGain / denom
		out = append(out, model.Point{Time: bars[i].Time, Value: 100 - 100/(1+rs)})
	}
	return out, nil
}
