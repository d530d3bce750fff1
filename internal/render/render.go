// Package render draws a chart dataset as a PNG image with go-chart.
package render

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"tradechart/internal/dataset"
	"tradechart/internal/model"
)

// ErrTooFewBars is returned when the dataset has fewer than two candles.
var ErrTooFewBars = errors.New("render: need at least two bars")

// Options sets the image size in pixels.
type Options struct {
	Width  int
	Height int
}

func (o *Options) defaults() {
	if o.Width <= 0 {
		o.Width = 1024
	}
	if o.Height <= 0 {
		o.Height = 512
	}
}

// Chart converts ds into a go-chart chart. Line series with fewer than two
// points are left out. RSI is drawn against the secondary axis, fixed to the
// oscillator scale.
func Chart(ds dataset.Dataset, opts Options) (*chart.Chart, error) {
	opts.defaults()
	if len(ds.Candles()) < 2 {
		return nil, ErrTooFewBars
	}

	c := &chart.Chart{
		Title:  title(ds),
		Width:  opts.Width,
		Height: opts.Height,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeDateValueFormatter,
		},
		YAxis: chart.YAxis{
			ValueFormatter: func(v interface{}) string {
				if vf, ok := v.(float64); ok {
					return fmt.Sprintf("%.4f", vf)
				}
				return ""
			},
		},
	}
	if ds.Unit == dataset.UnitHour {
		c.XAxis.ValueFormatter = chart.TimeHourValueFormatter
	}
	if ds.OscillatorAxis {
		c.YAxisSecondary = chart.YAxis{
			Range: &chart.ContinuousRange{Min: ds.OscillatorScale.Min, Max: ds.OscillatorScale.Max},
		}
	}

	for _, rs := range ds.Series {
		switch rs.Kind {
		case dataset.KindCandlestick:
			c.Series = append(c.Series, NewCandleSeries(rs))
		case dataset.KindLine:
			if len(rs.Points) < 2 {
				continue
			}
			c.Series = append(c.Series, lineSeries(rs))
		}
	}
	c.Elements = []chart.Renderable{chart.LegendLeft(c)}
	return c, nil
}

// PNG renders ds into w.
func PNG(w io.Writer, ds dataset.Dataset, opts Options) error {
	c, err := Chart(ds, opts)
	if err != nil {
		return err
	}
	if err := c.Render(chart.PNG, w); err != nil {
		return errors.Wrap(err, "render: png")
	}
	return nil
}

func title(ds dataset.Dataset) string {
	parts := []string{ds.Symbol}
	if ds.Range != "" {
		parts = append(parts, ds.Range)
	}
	return strings.Join(parts, " ")
}

func lineSeries(rs dataset.RenderSeries) chart.TimeSeries {
	ts := chart.TimeSeries{
		Name: rs.Label,
		Style: chart.Style{
			StrokeColor: color(rs.Color),
			StrokeWidth: 1.5,
		},
		XValues: make([]time.Time, len(rs.Points)),
		YValues: make([]float64, len(rs.Points)),
	}
	for i, p := range rs.Points {
		ts.XValues[i] = p.Time
		ts.YValues[i] = p.Value
	}
	if rs.Axis == dataset.AxisOscillator {
		ts.YAxis = chart.YAxisSecondary
	}
	return ts
}

// color parses "#rrggbb".
func color(hex string) drawing.Color {
	return drawing.ColorFromHex(strings.TrimPrefix(hex, "#"))
}

var _ chart.Series = (*CandleSeries)(nil)

// CandleSeries draws OHLC bars as candles: a high-low wick and an open-close
// body filled with the up or down colour.
type CandleSeries struct {
	Name      string
	Bars      []model.Bar
	UpColor   drawing.Color
	DownColor drawing.Color
	Border    drawing.Color
}

// NewCandleSeries builds a candle series from a candlestick render series.
func NewCandleSeries(rs dataset.RenderSeries) *CandleSeries {
	return &CandleSeries{
		Name:      rs.Label,
		Bars:      rs.Bars,
		UpColor:   color(rs.UpColor),
		DownColor: color(rs.DownColor),
		Border:    color(rs.Color),
	}
}

// GetName implements chart.Series.
func (cs *CandleSeries) GetName() string { return cs.Name }

// GetStyle implements chart.Series.
func (cs *CandleSeries) GetStyle() chart.Style {
	return chart.Style{StrokeColor: cs.Border, FillColor: cs.UpColor, StrokeWidth: 1}
}

// GetYAxis implements chart.Series.
func (cs *CandleSeries) GetYAxis() chart.YAxisType { return chart.YAxisPrimary }

// Validate implements chart.Series.
func (cs *CandleSeries) Validate() error {
	if len(cs.Bars) == 0 {
		return ErrTooFewBars
	}
	return nil
}

// Len implements chart.BoundedValuesProvider.
func (cs *CandleSeries) Len() int { return len(cs.Bars) }

// GetBoundedValues returns the bar time and its low/high, so the chart range
// covers every wick.
func (cs *CandleSeries) GetBoundedValues(i int) (x, y1, y2 float64) {
	b := cs.Bars[i]
	return chart.TimeToFloat64(b.Time), b.Low, b.High
}

// Render implements chart.Series.
func (cs *CandleSeries) Render(r chart.Renderer, box chart.Box, xr, yr chart.Range, _ chart.Style) {
	if len(cs.Bars) == 0 {
		return
	}
	half := box.Width() / len(cs.Bars) * 3 / 10
	if half < 1 {
		half = 1
	}
	px := func(b model.Bar) int { return box.Left + xr.Translate(chart.TimeToFloat64(b.Time)) }
	py := func(v float64) int { return box.Bottom - yr.Translate(v) }

	r.SetStrokeWidth(1)
	r.SetStrokeColor(cs.Border)
	for _, b := range cs.Bars {
		x := px(b)
		r.MoveTo(x, py(b.High))
		r.LineTo(x, py(b.Low))
		r.Stroke()

		fill := cs.UpColor
		if b.Close < b.Open {
			fill = cs.DownColor
		}
		top, bottom := py(b.Open), py(b.Close)
		if top > bottom {
			top, bottom = bottom, top
		}
		if top == bottom {
			bottom++
		}
		r.SetFillColor(fill)
		r.MoveTo(x-half, top)
		r.LineTo(x+half, top)
		r.LineTo(x+half, bottom)
		r.LineTo(x-half, bottom)
		r.LineTo(x-half, top)
		r.Close()
		r.FillStroke()
	}
}
