package feed

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"tradechart/internal/model"
)

// ErrMalformed is returned for kline messages that cannot be turned into a bar.
var ErrMalformed = errors.New("feed: malformed kline message")

// DefaultBaseURL is the public Binance spot stream endpoint.
const DefaultBaseURL = "wss://stream.binance.com:9443"

// DefaultInterval is the kline interval subscribed to.
const DefaultInterval = "1m"

// KlineEvent is one kline stream message.
type KlineEvent struct {
	EventType string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	Kline     Kline  `json:"k"`
}

// Kline carries prices as decimal strings, as sent on the wire.
type Kline struct {
	StartTime int64  `json:"t"`
	EndTime   int64  `json:"T"`
	Symbol    string `json:"s"`
	Interval  string `json:"i"`
	Open      string `json:"o"`
	Close     string `json:"c"`
	High      string `json:"h"`
	Low       string `json:"l"`
	Closed    bool   `json:"x"`
}

// combinedEvent wraps events on the multi-stream endpoint.
type combinedEvent struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// StreamURL returns the stream URL for symbols. One symbol uses the raw
// endpoint (/ws/<symbol>@kline_<interval>), several use the combined one.
func StreamURL(base, interval string, symbols ...string) string {
	if base == "" {
		base = DefaultBaseURL
	}
	if interval == "" {
		interval = DefaultInterval
	}
	base = strings.TrimRight(base, "/")

	streams := make([]string, len(symbols))
	for i, s := range symbols {
		streams[i] = strings.ToLower(s) + "@kline_" + interval
	}
	if len(streams) == 1 {
		return base + "/ws/" + streams[0]
	}
	return base + "/stream?streams=" + strings.Join(streams, "/")
}

// ParseKline decodes a raw or combined kline message into a feed bar. The bar
// is stamped with the kline start time in UTC.
func ParseKline(raw []byte) (model.FeedBar, error) {
	var wrapped combinedEvent
	if err := json.Unmarshal(raw, &wrapped); err == nil && len(wrapped.Data) > 0 {
		raw = wrapped.Data
	}

	var ev KlineEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return model.FeedBar{}, errors.Wrap(ErrMalformed, err.Error())
	}
	k := ev.Kline

	symbol := ev.Symbol
	if symbol == "" {
		symbol = k.Symbol
	}
	if symbol == "" || k.StartTime == 0 {
		return model.FeedBar{}, errors.Wrap(ErrMalformed, "missing symbol or start time")
	}

	var prices [4]float64
	for i, s := range []string{k.Open, k.High, k.Low, k.Close} {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return model.FeedBar{}, errors.Wrapf(ErrMalformed, "price %q", s)
		}
		prices[i] = v
	}

	return model.FeedBar{
		Symbol: strings.ToUpper(symbol),
		Bar: model.Bar{
			Time:  time.UnixMilli(k.StartTime).UTC(),
			Open:  prices[0],
			High:  prices[1],
			Low:   prices[2],
			Close: prices[3],
		},
		IsClosed: k.Closed,
	}, nil
}
