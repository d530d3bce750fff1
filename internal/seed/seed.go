// Package seed loads sample bars from YAML. It ships with a small built-in
// data set so a fresh install has something to chart.
package seed

import (
	"context"
	_ "embed"
	"os"
	"sort"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"tradechart/internal/model"
	"tradechart/internal/series"
)

//go:embed default.yaml
var defaultYAML []byte

// File is the seed file layout:
//
//	series:
//	  - symbol: EURUSD
//	    bars:
//	      - {date: "2025-08-28", open: 1.0860, high: 1.0865, low: 1.0840, close: 1.0855}
type File struct {
	Series []Series `yaml:"series"`
}

// Series is one symbol's bars, oldest first.
type Series struct {
	Symbol string `yaml:"symbol"`
	Bars   []Row  `yaml:"bars"`
}

// Row is one bar. Date is "2006-01-02" (UTC midnight) or RFC 3339.
type Row struct {
	Date  string  `yaml:"date"`
	Open  float64 `yaml:"open"`
	High  float64 `yaml:"high"`
	Low   float64 `yaml:"low"`
	Close float64 `yaml:"close"`
}

// Source is an in-memory model.BarSource over seed data.
type Source struct {
	bars map[string][]model.Bar
}

// Parse decodes seed YAML.
func Parse(data []byte) (*Source, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrap(err, "seed: parse yaml")
	}

	src := &Source{bars: make(map[string][]model.Bar, len(f.Series))}
	for _, s := range f.Series {
		sym := series.NormalizeSymbol(s.Symbol)
		if sym == "" {
			return nil, errors.Wrap(series.ErrEmptySymbol, "seed")
		}
		bars := make([]model.Bar, len(s.Bars))
		for i, r := range s.Bars {
			t, err := parseDate(r.Date)
			if err != nil {
				return nil, errors.Wrapf(err, "seed: %s bar %d", sym, i)
			}
			bars[i] = model.Bar{Time: t, Open: r.Open, High: r.High, Low: r.Low, Close: r.Close}
		}
		src.bars[sym] = append(src.bars[sym], bars...)
	}
	return src, nil
}

// Open reads a seed file. An empty path returns the built-in data.
func Open(path string) (*Source, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "seed: read file")
	}
	return Parse(data)
}

// Default returns the built-in EURUSD, GBPJPY and USDJPY sample bars.
func Default() *Source {
	src, err := Parse(defaultYAML)
	if err != nil {
		panic(err)
	}
	return src
}

// Symbols implements model.BarSource.
func (s *Source) Symbols(context.Context) ([]string, error) {
	out := make([]string, 0, len(s.bars))
	for sym := range s.bars {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out, nil
}

// ReadBars implements model.BarSource.
func (s *Source) ReadBars(_ context.Context, symbol string) ([]model.Bar, error) {
	bars := s.bars[series.NormalizeSymbol(symbol)]
	out := make([]model.Bar, len(bars))
	copy(out, bars)
	return out, nil
}

func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, errors.Errorf("bad date %q", s)
	}
	return t.UTC(), nil
}
