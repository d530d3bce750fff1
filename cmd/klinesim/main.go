// cmd/klinesim: demo WebSocket kline server.
// Streams simulated klines in the exchange wire format so the chart server's
// feed can run without network access:
//
//	{"e":"kline","E":1756512000000,"s":"EURUSD","k":{"t":...,"T":...,"s":"EURUSD","i":"1s","o":"1.0860","c":"1.0861","h":"1.0862","l":"1.0859","x":false}}
//
// Every tick updates the open kline of each symbol; when the interval rolls
// over the kline is sent once more with "x":true and a new one starts.
//
// Config (env vars):
//
//	KLINESIM_ADDR      listen address (default: ":9001")
//	KLINESIM_SYMBOLS   comma-separated SYMBOL:PRICE pairs (default: "EURUSD:1.0872,GBPJPY:180.45,USDJPY:148.91")
//	KLINESIM_INTERVAL  kline length (default: "1m")
//	KLINESIM_TICK      update period (default: "1s")
//
// Point the chart server at it with FEED_ENABLED=true FEED_URL=ws://localhost:9001/ws.
package main

import (
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"tradechart/internal/feed"
	"tradechart/internal/logger"
)

type config struct {
	Addr     string        `env:"KLINESIM_ADDR" envDefault:":9001"`
	Symbols  []string      `env:"KLINESIM_SYMBOLS" envSeparator:"," envDefault:"EURUSD:1.0872,GBPJPY:180.45,USDJPY:148.91"`
	Interval time.Duration `env:"KLINESIM_INTERVAL" envDefault:"1m"`
	Tick     time.Duration `env:"KLINESIM_TICK" envDefault:"1s"`
	LogLevel string        `env:"LOG_LEVEL" envDefault:"info"`
}

// instrument holds per-symbol simulation state.
type instrument struct {
	Symbol string
	Price  float64
	kline  feed.Kline
	open   bool
}

// ─── Hub ──────────────────────────────────────────────────────────────────────

type hub struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]chan []byte
}

func newHub() *hub {
	return &hub{clients: make(map[*websocket.Conn]chan []byte)}
}

func (h *hub) register(conn *websocket.Conn) chan []byte {
	ch := make(chan []byte, 256)
	h.mu.Lock()
	h.clients[conn] = ch
	h.mu.Unlock()
	return ch
}

func (h *hub) unregister(conn *websocket.Conn) {
	h.mu.Lock()
	if ch, ok := h.clients[conn]; ok {
		close(ch)
		delete(h.clients, conn)
	}
	h.mu.Unlock()
}

func (h *hub) broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.clients {
		select {
		case ch <- msg:
		default: // slow client, drop update
		}
	}
}

// ─── WebSocket handler ────────────────────────────────────────────────────────

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

func wsHandler(h *hub, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn("upgrade failed", zap.Error(err))
			return
		}
		log.Info("client connected", zap.String("remote", r.RemoteAddr))

		ch := h.register(conn)
		defer func() {
			h.unregister(conn)
			conn.Close()
			log.Info("client disconnected", zap.String("remote", r.RemoteAddr))
		}()

		// Drain reads so close frames are processed.
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					h.unregister(conn)
					return
				}
			}
		}()

		for msg := range ch {
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

// ─── Kline generator ──────────────────────────────────────────────────────────

// walkPrice applies a small random walk (±0.05%) to simulate price movement.
func walkPrice(rng *rand.Rand, price float64) float64 {
	pct := (rng.Float64()*0.1 - 0.05) / 100.0
	return price * (1 + pct)
}

func formatPrice(v float64) string {
	return strconv.FormatFloat(v, 'f', 5, 64)
}

// step advances inst to now and returns the events to send: the closing
// kline when the interval rolled over, then the current open kline.
func (inst *instrument) step(rng *rand.Rand, now time.Time, interval time.Duration) []feed.KlineEvent {
	var out []feed.KlineEvent
	start := now.Truncate(interval)

	if inst.open && inst.kline.StartTime != start.UnixMilli() {
		closed := inst.kline
		closed.Closed = true
		out = append(out, event(closed, now))
		inst.open = false
	}

	inst.Price = walkPrice(rng, inst.Price)
	p := formatPrice(inst.Price)
	if !inst.open {
		inst.kline = feed.Kline{
			StartTime: start.UnixMilli(),
			EndTime:   start.Add(interval).UnixMilli() - 1,
			Symbol:    inst.Symbol,
			Interval:  intervalName(interval),
			Open:      p,
			High:      p,
			Low:       p,
		}
		inst.open = true
	}
	inst.kline.Close = p
	if hi, _ := strconv.ParseFloat(inst.kline.High, 64); inst.Price > hi {
		inst.kline.High = p
	}
	if lo, _ := strconv.ParseFloat(inst.kline.Low, 64); inst.Price < lo {
		inst.kline.Low = p
	}
	return append(out, event(inst.kline, now))
}

func event(k feed.Kline, now time.Time) feed.KlineEvent {
	return feed.KlineEvent{EventType: "kline", EventTime: now.UnixMilli(), Symbol: k.Symbol, Kline: k}
}

func intervalName(d time.Duration) string {
	switch {
	case d%(24*time.Hour) == 0:
		return strconv.Itoa(int(d/(24*time.Hour))) + "d"
	case d%time.Hour == 0:
		return strconv.Itoa(int(d/time.Hour)) + "h"
	case d%time.Minute == 0:
		return strconv.Itoa(int(d/time.Minute)) + "m"
	default:
		return strconv.Itoa(int(d/time.Second)) + "s"
	}
}

func runGenerator(ctx context.Context, h *hub, instruments []*instrument, cfg config, log *zap.Logger) {
	ticker := time.NewTicker(cfg.Tick)
	defer ticker.Stop()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, inst := range instruments {
				for _, ev := range inst.step(rng, now.UTC(), cfg.Interval) {
					b, err := json.Marshal(ev)
					if err != nil {
						log.Warn("marshal kline", zap.Error(err))
						continue
					}
					h.broadcast(b)
				}
			}
		}
	}
}

// ─── main ─────────────────────────────────────────────────────────────────────

func main() {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		panic(err)
	}
	log := logger.Init("klinesim", logger.ParseLevel(cfg.LogLevel))
	defer log.Sync()

	instruments := parseInstruments(cfg.Symbols, log)
	if len(instruments) == 0 {
		log.Fatal("no instruments configured via KLINESIM_SYMBOLS")
	}
	log.Info("starting", zap.Int("instruments", len(instruments)),
		zap.Duration("interval", cfg.Interval), zap.Duration("tick", cfg.Tick))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	h := newHub()
	go runGenerator(ctx, h, instruments, cfg, log)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wsHandler(h, log))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"klinesim"}` + "\n"))
	})
	srv := &http.Server{Addr: cfg.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info("listening", zap.String("addr", cfg.Addr), zap.String("ws", "ws://localhost"+cfg.Addr+"/ws"))
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatal("server error", zap.Error(err))
	}
}

// ─── helpers ──────────────────────────────────────────────────────────────────

func parseInstruments(specs []string, log *zap.Logger) []*instrument {
	var result []*instrument
	for _, part := range specs {
		part = strings.TrimSpace(part)
		seg := strings.SplitN(part, ":", 2)
		if len(seg) != 2 {
			log.Warn("skipping invalid symbol spec", zap.String("spec", part))
			continue
		}
		price, err := strconv.ParseFloat(strings.TrimSpace(seg[1]), 64)
		if err != nil || price <= 0 {
			log.Warn("skipping invalid price", zap.String("spec", part))
			continue
		}
		result = append(result, &instrument{
			Symbol: strings.ToUpper(strings.TrimSpace(seg[0])),
			Price:  price,
		})
	}
	return result
}
