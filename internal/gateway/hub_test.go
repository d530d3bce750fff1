package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"tradechart/internal/dataset"
	"tradechart/internal/indicator"
	"tradechart/internal/metrics"
	"tradechart/internal/model"
	"tradechart/internal/series"
)

var day0 = time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)

func dailyBars(n int, base float64) []model.Bar {
	out := make([]model.Bar, n)
	for i := range out {
		c := base + float64(i%5) - float64(i%3)
		out[i] = model.Bar{Time: day0.AddDate(0, 0, i), Open: c - 0.5, High: c + 1, Low: c - 1, Close: c}
	}
	return out
}

func newTestHub(t *testing.T, m *metrics.Metrics, opts ...func(*Config)) *Hub {
	t.Helper()
	store := series.NewStore()
	require.NoError(t, store.Load("EURUSD", dailyBars(40, 100)))
	require.NoError(t, store.Load("GBPJPY", dailyBars(5, 180)))

	eng, err := indicator.NewEngine(indicator.DefaultPeriods())
	require.NoError(t, err)

	var cfg Config
	for _, o := range opts {
		o(&cfg)
	}
	h := NewHub(store, dataset.NewAssembler(eng), cfg, nil)
	if m != nil {
		h.SetMetrics(m, metrics.NewHealthStatus())
	}
	t.Cleanup(h.Close)
	return h
}

// wsMsg is any message the gateway sends.
type wsMsg struct {
	Type  string          `json:"type"`
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error"`
	Seq   int64           `json:"seq"`
	Ping  int64           `json:"ping"`
}

// wsReader splits coalesced frames back into messages.
type wsReader struct {
	t       *testing.T
	conn    *websocket.Conn
	pending [][]byte
}

func dial(t *testing.T, h *Hub, query string) *wsReader {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &wsReader{t: t, conn: conn}
}

func (r *wsReader) next() wsMsg {
	r.t.Helper()
	for len(r.pending) == 0 {
		r.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
		_, raw, err := r.conn.ReadMessage()
		require.NoError(r.t, err)
		r.pending = bytes.Split(raw, []byte{'\n'})
	}
	line := r.pending[0]
	r.pending = r.pending[1:]

	var m wsMsg
	require.NoError(r.t, json.Unmarshal(line, &m), "raw: %s", line)
	return m
}

// until skips messages until one of type typ arrives.
func (r *wsReader) until(typ string) wsMsg {
	r.t.Helper()
	for i := 0; i < 50; i++ {
		if m := r.next(); m.Type == typ {
			return m
		}
	}
	r.t.Fatalf("no %q message received", typ)
	return wsMsg{}
}

func (r *wsReader) send(v interface{}) {
	r.t.Helper()
	require.NoError(r.t, r.conn.WriteJSON(v))
}

func decodeDataset(t *testing.T, m wsMsg) dataset.Dataset {
	t.Helper()
	require.Equal(t, TypeDataset, m.Type)
	var ds dataset.Dataset
	require.NoError(t, json.Unmarshal(m.Data, &ds))
	return ds
}

func TestHub_DefaultSymbolOnConnect(t *testing.T) {
	h := newTestHub(t, nil, func(c *Config) { c.DefaultSymbol = "eurusd" })
	r := dial(t, h, "")

	ds := decodeDataset(t, r.next())
	assert.Equal(t, "EURUSD", ds.Symbol)
	assert.Equal(t, "main", ds.Layout)
	assert.Equal(t, []string{"Candlestick"}, ds.Labels())

	q := r.next()
	require.Equal(t, TypeQuote, q.Type)
	var quote model.Quote
	require.NoError(t, json.Unmarshal(q.Data, &quote))
	assert.Equal(t, "EURUSD", quote.Symbol)

	rec := r.next()
	require.Equal(t, TypeRecent, rec.Type)
	var bars []model.Bar
	require.NoError(t, json.Unmarshal(rec.Data, &bars))
	require.Len(t, bars, 10)
	assert.True(t, bars[0].Time.After(bars[1].Time), "newest first")
}

func TestHub_SelectMessage(t *testing.T) {
	h := newTestHub(t, nil)
	r := dial(t, h, "")

	r.send(map[string]interface{}{
		"type":    "select",
		"symbol":  "GBPJPY",
		"layout":  "analysis",
		"range":   "30d",
		"toggles": []string{"MACD", "SMA"},
	})
	ds := decodeDataset(t, r.next())
	assert.Equal(t, "GBPJPY", ds.Symbol)
	assert.Equal(t, "analysis", ds.Layout)
	assert.Equal(t, "30d", ds.Range)
	assert.Equal(t, []string{"Candlestick", "SMA", "MACD", "Signal"}, ds.Labels())
	assert.False(t, ds.OscillatorAxis)

	r.send(map[string]interface{}{"type": "toggles", "toggles": []string{"RSI"}})
	ds = decodeDataset(t, r.until(TypeDataset))
	assert.Equal(t, []string{"Candlestick", "RSI"}, ds.Labels())
	assert.True(t, ds.OscillatorAxis)
}

func TestHub_SelectErrors(t *testing.T) {
	h := newTestHub(t, nil)
	r := dial(t, h, "")

	r.send(map[string]interface{}{"type": "select", "req_id": "a", "symbol": "XAUUSD"})
	m := r.next()
	assert.Equal(t, TypeError, m.Type)
	assert.Contains(t, m.Error, "unknown symbol")

	r.send(map[string]interface{}{"type": "select", "symbol": "EURUSD", "range": "1y"})
	m = r.next()
	assert.Equal(t, TypeError, m.Type)

	r.send(map[string]interface{}{"type": "refresh"})
	m = r.next()
	assert.Equal(t, TypeError, m.Type)
	assert.Contains(t, m.Error, "no symbol selected")

	r.send(map[string]interface{}{"type": "bogus"})
	assert.Equal(t, TypeError, r.next().Type)
}

func TestHub_Ping(t *testing.T) {
	h := newTestHub(t, nil)
	r := dial(t, h, "")

	r.send(map[string]interface{}{"type": "ping", "ping": 5})
	m := r.next()
	assert.Equal(t, TypePong, m.Type)
	assert.Equal(t, int64(5), m.Ping)
}

func TestHub_FeedBarRedrawsOnlyActiveSessions(t *testing.T) {
	m := metrics.NewMetrics(prometheus.NewRegistry())
	h := newTestHub(t, m)

	eur := dial(t, h, "")
	eur.send(map[string]interface{}{"type": "select", "symbol": "EURUSD", "layout": "full"})
	before := decodeDataset(t, eur.next())
	eur.until(TypeRecent)

	gbp := dial(t, h, "")
	gbp.send(map[string]interface{}{"type": "select", "symbol": "GBPJPY"})
	gbp.until(TypeRecent)

	require.Eventually(t, func() bool { return h.ClientCount() == 2 }, time.Second, 10*time.Millisecond)

	fb := model.FeedBar{
		Symbol:   "eurusd",
		Bar:      model.Bar{Time: day0.AddDate(0, 0, 40), Open: 101, High: 103, Low: 100, Close: 102},
		IsClosed: true,
	}
	require.NoError(t, h.OnFeedBar(context.Background(), fb))

	after := decodeDataset(t, eur.next())
	assert.Len(t, after.Candles(), len(before.Candles())+1)
	assert.Equal(t, TypeQuote, eur.next().Type)
	assert.Equal(t, TypeRecent, eur.next().Type)
	bar := eur.next()
	assert.Equal(t, TypeBar, bar.Type)

	// The GBPJPY session is not redrawn but still sees the bar.
	m2 := gbp.next()
	require.Equal(t, TypeBar, m2.Type)
	var upd barUpdate
	require.NoError(t, json.Unmarshal(m2.Data, &upd))
	assert.Equal(t, "EURUSD", upd.Symbol)
	assert.Equal(t, 102.0, upd.Quote.Last)
	assert.Equal(t, bar.Seq, m2.Seq)

	assert.Equal(t, 41, h.store.Len("EURUSD"))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FeedBarsTotal.WithLabelValues("EURUSD")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SessionsActive))
}

func TestHub_OnFeedBar_OpenAndOutOfOrder(t *testing.T) {
	m := metrics.NewMetrics(prometheus.NewRegistry())
	h := newTestHub(t, m)
	ctx := context.Background()

	open := model.FeedBar{Symbol: "EURUSD", Bar: model.Bar{Time: day0.AddDate(0, 0, 50), Close: 1}}
	require.NoError(t, h.OnFeedBar(ctx, open))
	assert.Equal(t, 40, h.store.Len("EURUSD"))

	stale := model.FeedBar{Symbol: "EURUSD", Bar: model.Bar{Time: day0, Close: 1}, IsClosed: true}
	assert.ErrorIs(t, h.OnFeedBar(ctx, stale), series.ErrOutOfOrder)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FeedRejectedTotal))
	assert.Zero(t, h.Seq())
}

func TestHub_Run(t *testing.T) {
	h := newTestHub(t, nil)
	in := make(chan model.FeedBar, 2)
	in <- model.FeedBar{Symbol: "NEWSYM", Bar: model.Bar{Time: day0, Close: 1}, IsClosed: true}
	in <- model.FeedBar{Symbol: "NEWSYM", Bar: model.Bar{Time: day0.Add(time.Minute), Close: 2}, IsClosed: true}
	close(in)

	h.Run(context.Background(), in)
	assert.Equal(t, 2, h.store.Len("NEWSYM"))
	assert.Equal(t, int64(2), h.Seq())
}

func TestHub_RunLogsDroppedBars(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	store := series.NewStore()
	require.NoError(t, store.Load("EURUSD", dailyBars(3, 100)))
	eng, err := indicator.NewEngine(indicator.DefaultPeriods())
	require.NoError(t, err)
	h := NewHub(store, dataset.NewAssembler(eng), Config{}, zap.New(core))
	t.Cleanup(h.Close)

	in := make(chan model.FeedBar, 2)
	in <- model.FeedBar{Symbol: "EURUSD", Bar: model.Bar{Time: day0, Close: 1}, IsClosed: true}
	in <- model.FeedBar{Symbol: "EURUSD", Bar: model.Bar{Time: day0.AddDate(0, 0, 3), Close: 2}, IsClosed: true}
	close(in)
	h.Run(context.Background(), in)

	assert.Equal(t, 4, store.Len("EURUSD"))
	dropped := logs.FilterMessage("feed bar not applied").All()
	require.Len(t, dropped, 1)
	assert.Equal(t, zapcore.DebugLevel, dropped[0].Level)
	assert.Equal(t, "EURUSD", dropped[0].ContextMap()["symbol"])
	assert.Contains(t, dropped[0].ContextMap()["error"], "not after last bar")
}

func TestHub_ReplayOnConnect(t *testing.T) {
	h := newTestHub(t, nil)
	for i := 0; i < 3; i++ {
		h.Broadcaster.Broadcast(TypeBar, []byte(`{}`))
	}

	r := dial(t, h, "?last_seq=1")
	m := r.next()
	assert.Equal(t, TypeBar, m.Type)
	assert.Equal(t, int64(2), m.Seq)
	assert.Equal(t, int64(3), r.next().Seq)
}

func TestHub_Clock(t *testing.T) {
	h := newTestHub(t, nil)
	h.now = func() time.Time { return time.Date(2025, 8, 30, 12, 0, 0, 0, time.UTC) }
	r := dial(t, h, "")
	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	h.BroadcastClock()
	m := r.next()
	require.Equal(t, TypeClock, m.Type)

	var tick clockTick
	require.NoError(t, json.Unmarshal(m.Data, &tick))
	assert.Equal(t, "2025-08-30T12:00:00Z", tick.Time)
	assert.Equal(t, 1, tick.Clients)
}

func TestHub_StartClockRejectsBadSpec(t *testing.T) {
	h := newTestHub(t, nil, func(c *Config) { c.ClockSpec = "not a spec" })
	assert.Error(t, h.StartClock(context.Background()))
}

func TestHub_DisconnectRemovesClient(t *testing.T) {
	m := metrics.NewMetrics(prometheus.NewRegistry())
	h := newTestHub(t, m)
	r := dial(t, h, "")
	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	r.conn.Close()
	require.Eventually(t, func() bool { return h.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.SessionsActive))
}

func TestHub_InboundRateLimit(t *testing.T) {
	m := metrics.NewMetrics(prometheus.NewRegistry())
	h := newTestHub(t, m, func(c *Config) {
		c.InboundRate = 0.001
		c.InboundBurst = 1
	})
	r := dial(t, h, "")

	r.send(map[string]interface{}{"type": "ping", "ping": 1})
	assert.Equal(t, TypePong, r.next().Type)

	r.send(map[string]interface{}{"type": "ping", "ping": 2})
	m2 := r.next()
	assert.Equal(t, TypeError, m2.Type)
	assert.Equal(t, "rate limited", m2.Error)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WSInboundLimited))
}
