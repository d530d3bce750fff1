package dataset

import (
	"github.com/pkg/errors"

	"tradechart/internal/indicator"
	"tradechart/internal/model"
)

// Request is one chart build: which symbol, which page layout, which window
// and which indicators the user has enabled.
type Request struct {
	Symbol  string
	Layout  Layout
	Range   DateRange
	Toggles ToggleSet
}

// Assembler builds datasets with a shared indicator engine.
type Assembler struct {
	engine *indicator.Engine
}

// NewAssembler creates an assembler over engine.
func NewAssembler(engine *indicator.Engine) *Assembler {
	return &Assembler{engine: engine}
}

// Engine returns the indicator engine.
func (a *Assembler) Engine() *indicator.Engine { return a.engine }

// Assemble filters bars by rng and appends one overlay per enabled toggle in
// draw order. Every indicator is offered.
func (a *Assembler) Assemble(bars []model.Bar, rng DateRange, toggles ToggleSet) (Dataset, error) {
	return a.Build(Request{Layout: FullLayout, Range: rng, Toggles: toggles}, bars)
}

// Build assembles a dataset for req from bars. Toggles the layout does not
// offer are dropped, and so is the range on a layout without a selector.
func (a *Assembler) Build(req Request, bars []model.Bar) (Dataset, error) {
	layout := req.Layout
	if layout.Name == "" {
		layout = MainLayout
	}
	rng := req.Range
	if !layout.DateRange {
		rng.Window = ""
	}

	filtered, err := rng.Filter(bars)
	if err != nil {
		return Dataset{}, err
	}
	toggles := layout.Restrict(req.Toggles)

	ds := Dataset{
		Symbol:          req.Symbol,
		Layout:          layout.Name,
		Range:           rng.Window,
		Unit:            rng.Unit(),
		OscillatorAxis:  toggles.Has(indicator.KindRSI),
		OscillatorScale: Scale{Min: OscillatorMin, Max: OscillatorMax},
	}

	ds.Series = append(ds.Series, RenderSeries{
		Label:     "Candlestick",
		Kind:      KindCandlestick,
		Axis:      AxisPrice,
		Color:     ColorCandleBorder,
		UpColor:   ColorCandleUp,
		DownColor: ColorCandleDown,
		Bars:      filtered,
	})

	for _, kind := range toggles.Kinds() {
		lines, err := a.engine.Compute(kind, filtered)
		if err != nil {
			return Dataset{}, errors.Wrapf(err, "dataset: compute %s", kind)
		}
		for _, l := range lines {
			ds.Series = append(ds.Series, lineSeries(l))
		}
	}
	return ds, nil
}

func lineSeries(l indicator.Line) RenderSeries {
	rs := RenderSeries{
		Label:  l.Name,
		Kind:   KindLine,
		Axis:   AxisPrice,
		Color:  lineColor(l.Name),
		Points: l.Points,
	}
	if l.Kind == indicator.KindRSI {
		rs.Axis = AxisOscillator
	}
	return rs
}

func lineColor(name string) string {
	switch name {
	case "SMA":
		return ColorSMA
	case "EMA":
		return ColorEMA
	case "RSI":
		return ColorRSI
	case "MACD":
		return ColorMACD
	case "Signal":
		return ColorSignal
	}
	return ColorCandleBorder
}
