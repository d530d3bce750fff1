package gateway

import (
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

// ServeHTTP upgrades the request to a WebSocket and registers a client. An
// optional last_seq query parameter replays missed bar envelopes.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade error", zap.Error(err))
		return
	}
	conn.EnableWriteCompression(true)

	var lastSeq int64
	if s := r.URL.Query().Get("last_seq"); s != "" {
		lastSeq, _ = strconv.ParseInt(s, 10, 64)
	}
	h.Register(conn, lastSeq)
}
