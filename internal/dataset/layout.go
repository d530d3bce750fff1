package dataset

import (
	"strings"

	"github.com/pkg/errors"

	"tradechart/internal/indicator"
)

// ErrUnknownLayout is returned by LayoutByName for unknown names.
var ErrUnknownLayout = errors.New("dataset: unknown layout")

// Layout describes one chart page: which toggles it offers and whether it has
// a date range selector. Toggles a layout does not offer are ignored.
type Layout struct {
	Name      string           `json:"name"`
	Toggles   []indicator.Kind `json:"toggles"`
	DateRange bool             `json:"date_range"`
}

var (
	// MainLayout is the live chart page.
	MainLayout = Layout{
		Name:    "main",
		Toggles: []indicator.Kind{indicator.KindSMA, indicator.KindEMA, indicator.KindRSI},
	}

	// AnalysisLayout is the analysis tool page with its range selector.
	AnalysisLayout = Layout{
		Name:      "analysis",
		Toggles:   []indicator.Kind{indicator.KindSMA, indicator.KindRSI, indicator.KindMACD},
		DateRange: true,
	}

	// FullLayout offers every indicator and a range selector. Used by the CLI.
	FullLayout = Layout{
		Name:      "full",
		Toggles:   indicator.Kinds,
		DateRange: true,
	}
)

// Layouts lists the known layouts.
var Layouts = []Layout{MainLayout, AnalysisLayout, FullLayout}

// LayoutByName resolves a layout. An empty name selects MainLayout.
func LayoutByName(name string) (Layout, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return MainLayout, nil
	}
	for _, l := range Layouts {
		if l.Name == name {
			return l, nil
		}
	}
	return Layout{}, errors.Wrapf(ErrUnknownLayout, "%q", name)
}

// Offers reports whether the layout has a toggle for k.
func (l Layout) Offers(k indicator.Kind) bool {
	for _, t := range l.Toggles {
		if t == k {
			return true
		}
	}
	return false
}

// Restrict drops toggles the layout does not offer.
func (l Layout) Restrict(ts ToggleSet) ToggleSet {
	out := make(ToggleSet, len(ts))
	for k, on := range ts {
		if on && l.Offers(k) {
			out[k] = true
		}
	}
	return out
}
