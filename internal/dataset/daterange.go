package dataset

import (
	"strings"
	"time"

	"github.com/pkg/errors"

	"tradechart/internal/model"
)

// ErrUnknownWindow is returned for a range name outside Windows.
var ErrUnknownWindow = errors.New("dataset: unknown date range window")

// Named date windows.
const (
	Window24h = "24h"
	Window7d  = "7d"
	Window30d = "30d"
)

// Windows maps each named window to its duration.
var Windows = map[string]time.Duration{
	Window24h: 24 * time.Hour,
	Window7d:  7 * 24 * time.Hour,
	Window30d: 30 * 24 * time.Hour,
}

// DateRange selects the bars whose age from Now falls inside Window.
// An empty Window keeps every bar. A zero Now means "the last bar's time".
type DateRange struct {
	Window string
	Now    time.Time
}

// ParseWindow validates a window name. The empty name is valid and means
// no filtering.
func ParseWindow(s string) (string, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "", nil
	}
	if _, ok := Windows[s]; !ok {
		return "", errors.Wrapf(ErrUnknownWindow, "%q", s)
	}
	return s, nil
}

// Unit returns the x-axis unit for the window: hour for 24h, day otherwise.
func (r DateRange) Unit() TimeUnit {
	if strings.EqualFold(r.Window, Window24h) {
		return UnitHour
	}
	return UnitDay
}

// Filter returns the bars with now - t < window, in input order. The result
// is a new slice.
//
// The window is half-open: a bar aged exactly one window is dropped. Over
// daily bars "24h" then keeps only the last bar, and "7d" keeps seven bars
// rather than eight.
func (r DateRange) Filter(bars []model.Bar) ([]model.Bar, error) {
	window, err := ParseWindow(r.Window)
	if err != nil {
		return nil, err
	}

	out := make([]model.Bar, 0, len(bars))
	if window == "" {
		return append(out, bars...), nil
	}
	if len(bars) == 0 {
		return out, nil
	}

	now := r.Now
	if now.IsZero() {
		now = bars[len(bars)-1].Time
	}
	d := Windows[window]
	for _, b := range bars {
		if now.Sub(b.Time) < d {
			out = append(out, b)
		}
	}
	return out, nil
}
