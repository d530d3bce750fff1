// Package indicator provides technical indicator calculations over bar data.
//
// Every indicator is a pure function of an ordered, read-only bar sequence and
// one or more lookback periods. Nothing here keeps state between calls, so the
// functions are safe to call concurrently on independent inputs. A series that
// is too short for the period yields fewer (or zero) points, never an error.
package indicator

import (
	"strings"

	"github.com/pkg/errors"
)

// Kind names an indicator that can be toggled on a chart.
type Kind string

const (
	KindSMA  Kind = "SMA"
	KindEMA  Kind = "EMA"
	KindRSI  Kind = "RSI"
	KindMACD Kind = "MACD"
)

// Kinds lists every supported indicator in chart draw order.
var Kinds = []Kind{KindSMA, KindEMA, KindRSI, KindMACD}

var (
	// ErrInvalidPeriod is returned for a lookback period below 1.
	ErrInvalidPeriod = errors.New("indicator: period must be positive")

	// ErrUnknownKind is returned by ParseKind for names outside Kinds.
	ErrUnknownKind = errors.New("indicator: unknown kind")
)

// ParseKind resolves a case-insensitive indicator name.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range Kinds {
		if k == known {
			return k, nil
		}
	}
	return "", errors.Wrapf(ErrUnknownKind, "%q", s)
}

// Periods holds the lookback periods used when an indicator is toggled on.
type Periods struct {
	SMA        int `json:"sma" yaml:"sma"`
	EMA        int `json:"ema" yaml:"ema"`
	RSI        int `json:"rsi" yaml:"rsi"`
	MACDShort  int `json:"macd_short" yaml:"macd_short"`
	MACDLong   int `json:"macd_long" yaml:"macd_long"`
	MACDSignal int `json:"macd_signal" yaml:"macd_signal"`
}

// DefaultPeriods returns 14 for SMA, EMA and RSI and 12/26/9 for MACD.
func DefaultPeriods() Periods {
	return Periods{
		SMA:        14,
		EMA:        14,
		RSI:        14,
		MACDShort:  12,
		MACDLong:   26,
		MACDSignal: 9,
	}
}

// Validate checks that every period is positive.
func (p Periods) Validate() error {
	checks := []struct {
		name   string
		period int
	}{
		{"SMA", p.SMA},
		{"EMA", p.EMA},
		{"RSI", p.RSI},
		{"MACD short", p.MACDShort},
		{"MACD long", p.MACDLong},
		{"MACD signal", p.MACDSignal},
	}
	for _, c := range checks {
		if err := checkPeriod(c.name, c.period); err != nil {
			return err
		}
	}
	return nil
}

func checkPeriod(name string, period int) error {
	if period < 1 {
		return errors.Wrapf(ErrInvalidPeriod, "%s period=%d", name, period)
	}
	return nil
}
