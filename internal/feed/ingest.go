// Package feed connects to a Binance-compatible kline WebSocket stream and
// delivers bars into a channel.
//
// The expected message on the wire is a kline event:
//
//	{"e":"kline","s":"BTCUSDT","k":{"t":1756512000000,"o":"1.0","h":"1.1","l":"0.9","c":"1.05","x":true}}
//
// cmd/klinesim serves the same format for offline runs.
package feed

import (
	"context"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"tradechart/internal/model"
)

// Config holds configuration for the kline ingest.
type Config struct {
	// URL of the kline stream, e.g. StreamURL(DefaultBaseURL, "1m", "btcusdt").
	URL string

	// ReconnectDelay is the initial delay before reconnection attempts.
	// Defaults to 2 seconds if zero.
	ReconnectDelay time.Duration

	// MaxReconnectDelay caps the exponential backoff. Defaults to 30s.
	MaxReconnectDelay time.Duration

	// HandshakeTimeout bounds the WebSocket dial. Defaults to 10s.
	HandshakeTimeout time.Duration
}

func (c *Config) defaults() {
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 2 * time.Second
	}
	if c.MaxReconnectDelay == 0 {
		c.MaxReconnectDelay = 30 * time.Second
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = 10 * time.Second
	}
}

// Ingest streams kline messages from one WebSocket URL into a channel.
type Ingest struct {
	cfg Config
	log *zap.Logger

	// Optional hooks
	OnReconnect  func()
	OnConnState  func(connected bool)
	OnMessage    func()
	OnParseError func(err error)
}

// New creates a new Ingest. Returns an error if the URL is unparseable.
func New(cfg Config, log *zap.Logger) (*Ingest, error) {
	cfg.defaults()
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, errors.Wrap(err, "feed: parse url")
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, errors.Errorf("feed: unsupported scheme %q", u.Scheme)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Ingest{cfg: cfg, log: log.Named("feed")}, nil
}

func (ing *Ingest) newBackOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = ing.cfg.ReconnectDelay
	bo.MaxInterval = ing.cfg.MaxReconnectDelay
	bo.Multiplier = 2
	bo.MaxElapsedTime = 0 // retry forever
	bo.Reset()
	return bo
}

// Start connects to the stream and sends every decoded bar (open and closed)
// into out. Blocks until ctx is cancelled. Reconnects automatically on
// disconnect with exponential backoff, reset after each successful connect.
func (ing *Ingest) Start(ctx context.Context, out chan<- model.FeedBar) error {
	bo := ing.newBackOff()

	for {
		if ctx.Err() != nil {
			return nil
		}

		err := ing.runOnce(ctx, out, bo)
		if err == nil {
			// Context cancelled cleanly
			return nil
		}

		delay := bo.NextBackOff()
		ing.log.Warn("disconnected, reconnecting",
			zap.Error(err), zap.Duration("delay", delay))
		if ing.OnReconnect != nil {
			ing.OnReconnect()
		}

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

// runOnce makes a single connection attempt and reads until disconnect or ctx cancel.
func (ing *Ingest) runOnce(ctx context.Context, out chan<- model.FeedBar, bo backoff.BackOff) error {
	dialer := websocket.Dialer{
		Proxy:            websocket.DefaultDialer.Proxy,
		HandshakeTimeout: ing.cfg.HandshakeTimeout,
	}
	conn, _, err := dialer.DialContext(ctx, ing.cfg.URL, nil)
	if err != nil {
		return errors.Wrap(err, "dial")
	}
	defer conn.Close()

	ing.log.Info("connected", zap.String("url", ing.cfg.URL))
	bo.Reset()
	ing.setConnected(true)
	defer ing.setConnected(false)

	// Async context watcher: closes the connection when ctx is cancelled.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"),
				time.Now().Add(time.Second))
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "read")
		}
		if ing.OnMessage != nil {
			ing.OnMessage()
		}

		fb, err := ParseKline(raw)
		if err != nil {
			ing.log.Debug("parse error", zap.Error(err), zap.ByteString("raw", raw))
			if ing.OnParseError != nil {
				ing.OnParseError(err)
			}
			continue
		}

		// Closed bars must not be lost; in-progress updates can be.
		if fb.IsClosed {
			select {
			case out <- fb:
			case <-ctx.Done():
				return nil
			}
			continue
		}
		select {
		case out <- fb:
		default:
			ing.log.Debug("out channel full, dropping open bar", zap.String("symbol", fb.Symbol))
		}
	}
}

func (ing *Ingest) setConnected(v bool) {
	if ing.OnConnState != nil {
		ing.OnConnState(v)
	}
}
