package gateway

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"tradechart/internal/dataset"
	"tradechart/internal/session"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	readLimit  = 4096
)

// Client represents a single WebSocket peer and its chart session.
type Client struct {
	conn    *websocket.Conn
	hub     *Hub
	session *session.Session
	limiter *rate.Limiter

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

// inbound is any message a client may send.
//
//	{"type":"select","req_id":"1","symbol":"EURUSD","range":"7d","toggles":["SMA","RSI"],"layout":"analysis"}
//	{"type":"toggles","toggles":["EMA"]}
//	{"type":"range","range":"30d"}
//	{"type":"refresh"}
//	{"type":"replay","last_seq":120}
//	{"type":"ping","ping":1756512000000}
type inbound struct {
	Type    string   `json:"type"`
	ReqID   string   `json:"req_id,omitempty"`
	Symbol  string   `json:"symbol,omitempty"`
	Range   string   `json:"range,omitempty"`
	Toggles []string `json:"toggles,omitempty"`
	Layout  string   `json:"layout,omitempty"`
	LastSeq int64    `json:"last_seq,omitempty"`
	Ping    int64    `json:"ping,omitempty"`
}

// outbound is a per-client message. Hub-wide messages use Broadcaster.
type outbound struct {
	Type     string      `json:"type"`
	ReqID    string      `json:"req_id,omitempty"`
	Data     interface{} `json:"data,omitempty"`
	Error    string      `json:"error,omitempty"`
	Ping     int64       `json:"ping,omitempty"`
	ServerTS int64       `json:"server_ts,omitempty"`
}

func newClient(h *Hub, conn *websocket.Conn) *Client {
	return &Client{
		conn:    conn,
		hub:     h,
		send:    make(chan []byte, h.cfg.SendBuffer),
		limiter: rate.NewLimiter(rate.Limit(h.cfg.InboundRate), h.cfg.InboundBurst),
	}
}

// Session returns the client's chart session.
func (c *Client) Session() *session.Session { return c.session }

// enqueue queues msg without blocking. Returns false when the client is gone
// or its buffer is full.
func (c *Client) enqueue(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		if m := c.hub.metrics; m != nil {
			m.WSMessagesSent.Inc()
		}
		return true
	default:
		if m := c.hub.metrics; m != nil {
			m.WSSendDrops.Inc()
		}
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) sendJSON(msg outbound) {
	b, err := json.Marshal(msg)
	if err != nil {
		c.hub.log.Error("marshal outbound", zap.String("type", msg.Type), zap.Error(err))
		return
	}
	c.enqueue(b)
}

func (c *Client) sendError(reqID string, err error) {
	c.sendJSON(outbound{Type: TypeError, ReqID: reqID, Error: err.Error()})
}

// pushDataset is the session's update callback.
func (c *Client) pushDataset(ds dataset.Dataset) {
	c.sendJSON(outbound{Type: TypeDataset, Data: ds})
}

func (c *Client) pushQuote() {
	if q, err := c.session.Quote(); err == nil {
		c.sendJSON(outbound{Type: TypeQuote, Data: q})
	}
}

func (c *Client) pushRecent() {
	if bars, err := c.session.Recent(session.RecentLimit); err == nil {
		c.sendJSON(outbound{Type: TypeRecent, Data: bars})
	}
}

func (c *Client) replayAfter(seq int64) {
	envelopes, complete := c.hub.replay.After(seq)
	if !complete {
		c.sendJSON(outbound{Type: TypeError, Error: "replay gap: some bars are no longer buffered"})
	}
	for _, e := range envelopes {
		c.enqueue(e)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// Write coalescing: batch queued messages into one frame,
			// newline separated.
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(msg)
			n := len(c.send)
			for i := 0; i < n; i++ {
				next, ok := <-c.send
				if !ok {
					break
				}
				w.Write([]byte{'\n'})
				w.Write(next)
			}
			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.RemoveClient(c)
		c.conn.Close()
		c.hub.log.Info("ws client disconnected", zap.String("session", c.session.ID()))
	}()

	c.conn.SetReadLimit(readLimit)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if !c.limiter.Allow() {
			if m := c.hub.metrics; m != nil {
				m.WSInboundLimited.Inc()
			}
			c.sendJSON(outbound{Type: TypeError, Error: "rate limited"})
			continue
		}

		var msg inbound
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.sendJSON(outbound{Type: TypeError, Error: "invalid message: " + err.Error()})
			continue
		}
		c.handle(msg)
	}
}

func (c *Client) handle(msg inbound) {
	switch msg.Type {
	case "select":
		c.handleSelect(msg)
	case "toggles":
		ts, err := dataset.ParseToggles(strings.Join(msg.Toggles, ","))
		if err != nil {
			c.sendError(msg.ReqID, err)
			return
		}
		if _, err := c.session.SetToggles(ts); err != nil {
			c.sendError(msg.ReqID, err)
		}
	case "range":
		if _, err := c.session.SetRange(msg.Range); err != nil {
			c.sendError(msg.ReqID, err)
		}
	case "refresh":
		if _, err := c.session.Refresh(); err != nil {
			c.sendError(msg.ReqID, err)
		}
	case "replay":
		c.replayAfter(msg.LastSeq)
	case "ping":
		c.sendJSON(outbound{Type: TypePong, Ping: msg.Ping, ServerTS: time.Now().UnixMilli()})
	default:
		c.sendJSON(outbound{Type: TypeError, ReqID: msg.ReqID, Error: "unknown message type " + msg.Type})
	}
}

// handleSelect replaces the whole chart selection, then sends the dataset
// (through the session callback), the quote and the recent bars.
func (c *Client) handleSelect(msg inbound) {
	layout, err := dataset.LayoutByName(msg.Layout)
	if err != nil {
		c.sendError(msg.ReqID, err)
		return
	}
	ts, err := dataset.ParseToggles(strings.Join(msg.Toggles, ","))
	if err != nil {
		c.sendError(msg.ReqID, err)
		return
	}
	if _, err := c.session.Select(session.Selection{
		Symbol:  msg.Symbol,
		Layout:  layout,
		Range:   msg.Range,
		Toggles: ts,
	}); err != nil {
		c.sendError(msg.ReqID, err)
		return
	}
	c.pushQuote()
	c.pushRecent()
}
