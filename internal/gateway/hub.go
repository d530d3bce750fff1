// Package gateway pushes chart datasets to browsers over WebSocket. Every
// connection owns one chart session; the hub appends live feed bars to the
// shared series store once and lets each session redraw if it shows that
// symbol.
package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"tradechart/internal/dataset"
	"tradechart/internal/logger"
	"tradechart/internal/metrics"
	"tradechart/internal/model"
	"tradechart/internal/series"
	"tradechart/internal/session"
)

// Config tunes the hub.
type Config struct {
	// DefaultSymbol is selected for every new connection when the store has it.
	DefaultSymbol string

	// SendBuffer is the per-client outbound queue length. Defaults to 256.
	SendBuffer int

	// ReplaySize is the number of bar envelopes kept for replay. Defaults to 500.
	ReplaySize int

	// InboundRate and InboundBurst limit client messages per second.
	// Defaults to 10/s with a burst of 20.
	InboundRate  float64
	InboundBurst int

	// ClockSpec is the cron spec of the clock broadcast. Defaults to "@every 1s".
	ClockSpec string
}

func (c *Config) defaults() {
	if c.SendBuffer <= 0 {
		c.SendBuffer = 256
	}
	if c.ReplaySize <= 0 {
		c.ReplaySize = 500
	}
	if c.InboundRate <= 0 {
		c.InboundRate = 10
	}
	if c.InboundBurst <= 0 {
		c.InboundBurst = 20
	}
	if c.ClockSpec == "" {
		c.ClockSpec = "@every 1s"
	}
}

// Hub manages WebSocket clients and feed fan-out.
type Hub struct {
	store *series.Store
	asm   *dataset.Assembler
	cfg   Config
	log   *zap.Logger
	now   func() time.Time

	metrics *metrics.Metrics
	health  *metrics.HealthStatus

	mu      sync.RWMutex
	clients map[*Client]bool
	seq     int64

	replay      *ReplayBuffer
	Broadcaster *Broadcaster
}

// NewHub creates a hub over a shared store and assembler.
func NewHub(store *series.Store, asm *dataset.Assembler, cfg Config, log *zap.Logger) *Hub {
	cfg.defaults()
	if log == nil {
		log = zap.NewNop()
	}
	h := &Hub{
		store:   store,
		asm:     asm,
		cfg:     cfg,
		log:     log.Named("gateway"),
		now:     time.Now,
		clients: make(map[*Client]bool),
		replay:  NewReplayBuffer(cfg.ReplaySize),
	}
	h.Broadcaster = NewBroadcaster(h)
	return h
}

// SetMetrics wires Prometheus metrics and health tracking. Either may be nil.
func (h *Hub) SetMetrics(m *metrics.Metrics, health *metrics.HealthStatus) {
	h.metrics = m
	h.health = health
}

// Register attaches an upgraded connection as a new client with its own
// session and starts its pumps. lastSeq > 0 replays the bar envelopes the
// client missed.
func (h *Hub) Register(conn *websocket.Conn, lastSeq int64) *Client {
	c := newClient(h, conn)

	opts := []session.Option{
		session.WithLogger(h.log),
		session.WithOnUpdate(c.pushDataset),
	}
	if h.metrics != nil {
		opts = append(opts, session.WithObserver(h.metrics))
	}
	c.session = session.New(h.store, h.asm, opts...)

	h.mu.Lock()
	h.clients[c] = true
	count := len(h.clients)
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.SessionsActive.Inc()
	}
	h.log.Info("ws client connected", zap.String("session", c.session.ID()), zap.Int("clients", count))

	if lastSeq > 0 {
		c.replayAfter(lastSeq)
	}
	if sym := series.NormalizeSymbol(h.cfg.DefaultSymbol); sym != "" && h.store.Len(sym) > 0 {
		c.handleSelect(inbound{Type: "select", Symbol: sym})
	}

	go c.writePump()
	go c.readPump()
	return c
}

// RemoveClient removes a client from the hub and closes its session.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if !ok {
		return
	}
	if h.metrics != nil {
		h.metrics.SessionsActive.Dec()
	}
	c.session.Close()
	c.close()
}

// ClientCount returns the number of connected WS clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Seq returns the seq of the last broadcast envelope.
func (h *Hub) Seq() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.seq
}

func (h *Hub) snapshot() []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		out = append(out, c)
	}
	return out
}

// barUpdate is the payload of a bar envelope.
type barUpdate struct {
	Symbol string      `json:"symbol"`
	Bar    model.Bar   `json:"bar"`
	Quote  model.Quote `json:"quote"`
}

// OnFeedBar appends a closed feed bar to the store, redraws every session
// showing that symbol and broadcasts the bar to all clients. Open bars are
// ignored.
func (h *Hub) OnFeedBar(ctx context.Context, fb model.FeedBar) error {
	if !fb.IsClosed {
		return nil
	}
	ctx = logger.WithTraceID(ctx, logger.GenerateTraceID(fb.Symbol, fb.Time))

	if err := h.store.Append(ctx, fb.Symbol, fb.Bar); err != nil {
		if h.metrics != nil {
			h.metrics.FeedRejectedTotal.Inc()
		}
		h.log.Warn("feed bar rejected",
			append(logger.LogWithTrace(ctx), zap.String("symbol", fb.Symbol), zap.Error(err))...)
		return err
	}
	sym := series.NormalizeSymbol(fb.Symbol)
	if h.metrics != nil {
		h.metrics.FeedBarsTotal.WithLabelValues(sym).Inc()
	}
	if h.health != nil {
		h.health.SetLastBarTime(fb.Time)
		h.health.SetSymbols(len(h.store.Symbols()))
	}

	for _, c := range h.snapshot() {
		_, redrawn, err := c.session.Notify(sym)
		if err != nil {
			if !errors.Is(err, session.ErrClosed) {
				h.log.Warn("redraw failed", append(logger.LogWithTrace(ctx),
					zap.String("session", c.session.ID()), zap.Error(err))...)
			}
			continue
		}
		if redrawn {
			c.pushQuote()
			c.pushRecent()
		}
	}

	q, err := session.QuoteOf(h.store, sym)
	if err != nil {
		return err
	}
	data, err := json.Marshal(barUpdate{Symbol: sym, Bar: fb.Bar, Quote: q})
	if err != nil {
		return err
	}
	h.Broadcaster.Broadcast(TypeBar, data)
	return nil
}

// Run consumes feed bars until ctx is cancelled or in is closed.
func (h *Hub) Run(ctx context.Context, in <-chan model.FeedBar) {
	for {
		select {
		case <-ctx.Done():
			return
		case fb, ok := <-in:
			if !ok {
				return
			}
			if err := h.OnFeedBar(ctx, fb); err != nil {
				h.log.Debug("feed bar not applied", zap.String("symbol", fb.Symbol),
					zap.Time("time", fb.Time), zap.Error(err))
			}
		}
	}
}

// clockTick is the payload of a clock envelope.
type clockTick struct {
	Time    string `json:"time"`
	UnixMs  int64  `json:"unix_ms"`
	Clients int    `json:"clients"`
}

// BroadcastClock sends the server time to every client.
func (h *Hub) BroadcastClock() {
	now := h.now()
	data, _ := json.Marshal(clockTick{
		Time:    now.Format(time.RFC3339),
		UnixMs:  now.UnixMilli(),
		Clients: h.ClientCount(),
	})
	h.Broadcaster.Broadcast(TypeClock, data)
}

// StartClock broadcasts the server time on the configured cron spec until ctx
// is cancelled.
func (h *Hub) StartClock(ctx context.Context) error {
	c := cron.New(cron.WithSeconds())
	if _, err := c.AddFunc(h.cfg.ClockSpec, h.BroadcastClock); err != nil {
		return err
	}
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

// Close disconnects every client.
func (h *Hub) Close() {
	for _, c := range h.snapshot() {
		c.conn.Close()
		h.RemoveClient(c)
	}
}
