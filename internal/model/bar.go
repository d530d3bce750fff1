package model

import (
	"encoding/json"
	"time"
)

// Bar is one OHLC observation. Within a series, Time is strictly increasing.
// Callers assume Low <= min(Open, Close) <= max(Open, Close) <= High; nothing
// in the core enforces it.
type Bar struct {
	Time  time.Time `json:"time"`
	Open  float64   `json:"open"`
	High  float64   `json:"high"`
	Low   float64   `json:"low"`
	Close float64   `json:"close"`
}

// JSON returns the JSON-encoded bar (ignoring errors for hot-path usage).
func (b *Bar) JSON() []byte {
	out, _ := json.Marshal(b)
	return out
}

// FeedBar is a bar as delivered by a live price feed. Only closed bars are
// appended to a series; open ones are in-progress updates of the current bar.
type FeedBar struct {
	Symbol string `json:"symbol"`
	Bar
	IsClosed bool `json:"is_closed"`
}

// Point is one value of a derived series, aligned to the bar it came from.
type Point struct {
	Time  time.Time `json:"t"`
	Value float64   `json:"v"`
}

// Quote is the metrics-table view of a symbol: the last close and its change
// against the previous close, in percent.
type Quote struct {
	Symbol    string    `json:"symbol"`
	Last      float64   `json:"last"`
	ChangePct float64   `json:"change_pct"`
	Time      time.Time `json:"time"`
}

// Closes extracts the close prices of bars.
func Closes(bars []Bar) []float64 {
	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}
	return closes
}
