package indicator

import (
	"github.com/pkg/errors"

	"tradechart/internal/model"
)

// Line is one named output series of an indicator. MACD produces two.
type Line struct {
	Name   string        `json:"name"`
	Kind   Kind          `json:"kind"`
	Period int           `json:"period"`
	Points []model.Point `json:"points"`
}

// Engine computes indicator lines with a fixed set of periods.
// It holds no per-series state and can be shared freely.
type Engine struct {
	periods Periods
}

// NewEngine creates an engine after validating the periods.
func NewEngine(periods Periods) (*Engine, error) {
	if err := periods.Validate(); err != nil {
		return nil, err
	}
	return &Engine{periods: periods}, nil
}

// Periods returns the periods the engine was built with.
func (e *Engine) Periods() Periods { return e.periods }

// Compute runs one indicator over bars. It returns one line for SMA, EMA and
// RSI, and two lines (MACD, Signal) for MACD.
func (e *Engine) Compute(kind Kind, bars []model.Bar) ([]Line, error) {
	switch kind {
	case KindSMA:
		pts, err := SMA(bars, e.periods.SMA)
		if err != nil {
			return nil, err
		}
		return []Line{{Name: "SMA", Kind: kind, Period: e.periods.SMA, Points: pts}}, nil

	case KindEMA:
		pts, err := EMA(bars, e.periods.EMA)
		if err != nil {
			return nil, err
		}
		return []Line{{Name: "EMA", Kind: kind, Period: e.periods.EMA, Points: pts}}, nil

	case KindRSI:
		pts, err := RSI(bars, e.periods.RSI)
		if err != nil {
			return nil, err
		}
		return []Line{{Name: "RSI", Kind: kind, Period: e.periods.RSI, Points: pts}}, nil

	case KindMACD:
		res, err := MACD(bars, e.periods.MACDShort, e.periods.MACDLong, e.periods.MACDSignal)
		if err != nil {
			return nil, err
		}
		return []Line{
			{Name: "MACD", Kind: kind, Period: e.periods.MACDLong, Points: res.MACD},
			{Name: "Signal", Kind: kind, Period: e.periods.MACDSignal, Points: res.Signal},
		}, nil
	}
	return nil, errors.Wrapf(ErrUnknownKind, "%q", string(kind))
}
