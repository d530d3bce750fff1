// Package dataset turns a symbol's bars, a date window and a set of enabled
// indicator toggles into the ordered list of series a chart renders.
//
// A Dataset is rebuilt from scratch on every call; nothing is cached or
// updated incrementally, so the same inputs always produce the same output.
package dataset

import (
	"tradechart/internal/model"
)

// SeriesKind tells the renderer how to draw a series.
type SeriesKind string

const (
	KindCandlestick SeriesKind = "candlestick"
	KindLine        SeriesKind = "line"
)

// Axis is the y-axis a series is plotted against.
type Axis string

const (
	AxisPrice      Axis = "price"
	AxisOscillator Axis = "oscillator"
)

// Oscillator axis scale. RSI is bounded to this range.
const (
	OscillatorMin = 0.0
	OscillatorMax = 100.0
)

// Display colours.
const (
	ColorCandleUp     = "#26a69a"
	ColorCandleDown   = "#ef5350"
	ColorCandleBorder = "#000000"
	ColorSMA          = "#2962FF"
	ColorEMA          = "#FF6D00"
	ColorRSI          = "#E91E63"
	ColorMACD         = "#FF6D00"
	ColorSignal       = "#00BCD4"
)

// TimeUnit is the x-axis tick unit hint for the renderer.
type TimeUnit string

const (
	UnitHour TimeUnit = "hour"
	UnitDay  TimeUnit = "day"
)

// RenderSeries is one drawable series. Candlestick series carry Bars, line
// series carry Points. Values are built fresh per assembly and never mutated.
type RenderSeries struct {
	Label     string        `json:"label"`
	Kind      SeriesKind    `json:"kind"`
	Axis      Axis          `json:"axis"`
	Color     string        `json:"color"`
	UpColor   string        `json:"up_color,omitempty"`
	DownColor string        `json:"down_color,omitempty"`
	Bars      []model.Bar   `json:"bars,omitempty"`
	Points    []model.Point `json:"points,omitempty"`
}

// Len returns the number of bars or points in the series.
func (r RenderSeries) Len() int {
	if r.Kind == KindCandlestick {
		return len(r.Bars)
	}
	return len(r.Points)
}

// Scale is a fixed y-axis range.
type Scale struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Dataset is everything the renderer needs for one redraw.
type Dataset struct {
	Symbol string         `json:"symbol"`
	Layout string         `json:"layout"`
	Range  string         `json:"range,omitempty"`
	Unit   TimeUnit       `json:"time_unit"`
	Series []RenderSeries `json:"series"`

	// OscillatorAxis is true iff RSI is among the series. When set the
	// renderer shows a secondary axis with OscillatorScale.
	OscillatorAxis  bool  `json:"oscillator_axis"`
	OscillatorScale Scale `json:"oscillator_scale"`
}

// Candles returns the candlestick bars, which are the filtered input bars.
func (d Dataset) Candles() []model.Bar {
	for _, s := range d.Series {
		if s.Kind == KindCandlestick {
			return s.Bars
		}
	}
	return nil
}

// Find returns the series with the given label.
func (d Dataset) Find(label string) (RenderSeries, bool) {
	for _, s := range d.Series {
		if s.Label == label {
			return s, true
		}
	}
	return RenderSeries{}, false
}

// Labels returns the series labels in draw order.
func (d Dataset) Labels() []string {
	out := make([]string, len(d.Series))
	for i, s := range d.Series {
		out[i] = s.Label
	}
	return out
}
