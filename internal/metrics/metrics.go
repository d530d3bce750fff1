package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics holds all Prometheus metrics for the chart server.
type Metrics struct {
	// Feed
	FeedMessagesTotal prometheus.Counter
	FeedBarsTotal     *prometheus.CounterVec // labels: symbol
	FeedRejectedTotal prometheus.Counter
	FeedReconnects    prometheus.Counter
	FeedParseErrors   prometheus.Counter

	// Chart assembly
	AssembleDur    *prometheus.HistogramVec // labels: layout
	AssembleErrors *prometheus.CounterVec   // labels: layout

	// Gateway
	SessionsActive   prometheus.Gauge
	WSMessagesSent   prometheus.Counter
	WSSendDrops      prometheus.Counter
	WSInboundLimited prometheus.Counter

	// Storage
	SQLiteCommitDur prometheus.Histogram
	RedisWriteDur   prometheus.Histogram

	// Redis circuit breaker
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter
	RedisBufferedWrites      prometheus.Counter
}

// NewMetrics creates all metrics and registers them with reg. A nil reg
// registers with the default Prometheus registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		FeedMessagesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradechart_feed_messages_total",
			Help: "Total kline messages received from the live feed",
		}),
		FeedBarsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradechart_feed_bars_total",
			Help: "Closed bars appended from the live feed (by symbol)",
		}, []string{"symbol"}),
		FeedRejectedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradechart_feed_rejected_total",
			Help: "Feed bars rejected by the series store (out of order)",
		}),
		FeedReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradechart_feed_reconnects_total",
			Help: "Total feed WebSocket reconnection attempts",
		}),
		FeedParseErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradechart_feed_parse_errors_total",
			Help: "Feed messages that could not be decoded",
		}),

		AssembleDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tradechart_assemble_duration_seconds",
			Help:    "Dataset assembly latency",
			Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01},
		}, []string{"layout"}),
		AssembleErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tradechart_assemble_errors_total",
			Help: "Dataset assemblies that failed",
		}, []string{"layout"}),

		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tradechart_sessions_active",
			Help: "Open chart sessions (one per WebSocket client)",
		}),
		WSMessagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradechart_ws_messages_sent_total",
			Help: "Messages queued to WebSocket clients",
		}),
		WSSendDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradechart_ws_send_drops_total",
			Help: "Messages dropped because a client send buffer was full",
		}),
		WSInboundLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradechart_ws_inbound_limited_total",
			Help: "Client messages rejected by the inbound rate limiter",
		}),

		SQLiteCommitDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tradechart_sqlite_commit_duration_seconds",
			Help:    "SQLite batch commit latency",
			Buckets: prometheus.DefBuckets,
		}),
		RedisWriteDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tradechart_redis_write_duration_seconds",
			Help:    "Redis write latency",
			Buckets: prometheus.DefBuckets,
		}),

		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tradechart_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradechart_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),
		RedisBufferedWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tradechart_redis_buffered_writes_total",
			Help: "Writes buffered locally during Redis circuit breaker open state",
		}),
	}

	reg.MustRegister(
		m.FeedMessagesTotal,
		m.FeedBarsTotal,
		m.FeedRejectedTotal,
		m.FeedReconnects,
		m.FeedParseErrors,
		m.AssembleDur,
		m.AssembleErrors,
		m.SessionsActive,
		m.WSMessagesSent,
		m.WSSendDrops,
		m.WSInboundLimited,
		m.SQLiteCommitDur,
		m.RedisWriteDur,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.RedisBufferedWrites,
	)

	return m
}

// ObserveAssemble records one dataset assembly.
func (m *Metrics) ObserveAssemble(layout string, took time.Duration, err error) {
	m.AssembleDur.WithLabelValues(layout).Observe(took.Seconds())
	if err != nil {
		m.AssembleErrors.WithLabelValues(layout).Inc()
	}
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	FeedEnabled    bool      `json:"feed_enabled"`
	FeedConnected  bool      `json:"feed_connected"`
	LastBarTime    time.Time `json:"last_bar_time"`
	RedisEnabled   bool      `json:"redis_enabled"`
	RedisConnected bool      `json:"redis_connected"`
	SQLiteEnabled  bool      `json:"sqlite_enabled"`
	SQLiteOK       bool      `json:"sqlite_ok"`
	Symbols        int       `json:"symbols"`

	// Liveness probe results
	RedisLatencyMs  float64   `json:"redis_latency_ms"`
	SQLiteLatencyMs float64   `json:"sqlite_latency_ms"`
	LastCheckAt     time.Time `json:"last_check_at"`
	StartedAt       time.Time `json:"started_at"`
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
	}
}

// Enable marks which optional dependencies are configured. Disabled
// dependencies never degrade the status.
func (h *HealthStatus) Enable(feed, redis, sqlite bool) {
	h.mu.Lock()
	h.FeedEnabled, h.RedisEnabled, h.SQLiteEnabled = feed, redis, sqlite
	h.mu.Unlock()
}

func (h *HealthStatus) SetFeedConnected(v bool) {
	h.mu.Lock()
	h.FeedConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastBarTime(t time.Time) {
	h.mu.Lock()
	h.LastBarTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetRedisConnected(v bool) {
	h.mu.Lock()
	h.RedisConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetSQLiteOK(v bool) {
	h.mu.Lock()
	h.SQLiteOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetSymbols(n int) {
	h.mu.Lock()
	h.Symbols = n
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite runs a ping and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks until ctx is done.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// Status reports "healthy", "degraded" or "unhealthy" with the HTTP code to use.
func (h *HealthStatus) Status() (string, int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.statusLocked()
}

func (h *HealthStatus) statusLocked() (string, int) {
	down := 0
	if h.FeedEnabled && !h.FeedConnected {
		down++
	}
	if h.RedisEnabled && !h.RedisConnected {
		down++
	}
	if h.SQLiteEnabled && !h.SQLiteOK {
		down++
	}
	switch {
	case down == 0:
		return "healthy", http.StatusOK
	case h.RedisEnabled && !h.RedisConnected && h.SQLiteEnabled && !h.SQLiteOK:
		return "unhealthy", http.StatusServiceUnavailable
	default:
		return "degraded", http.StatusServiceUnavailable
	}
}

// ServeHTTP handles the health endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus, httpCode := h.statusLocked()

	barAge := ""
	if !h.LastBarTime.IsZero() {
		barAge = time.Since(h.LastBarTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		FeedConnected   bool    `json:"feed_connected"`
		LastBarTime     string  `json:"last_bar_time"`
		BarAge          string  `json:"bar_age"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		Symbols         int     `json:"symbols"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		FeedConnected:   h.FeedConnected,
		LastBarTime:     h.LastBarTime.Format(time.RFC3339),
		BarAge:          barAge,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		Symbols:         h.Symbols,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	_ = json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	addr string
	srv  *http.Server
	log  *zap.Logger
}

// NewServer creates a metrics and health server. gatherer may be nil for
// the default registry.
func NewServer(addr string, health *HealthStatus, gatherer prometheus.Gatherer, log *zap.Logger) *Server {
	mux := http.NewServeMux()
	if gatherer == nil {
		mux.Handle("/metrics", promhttp.Handler())
	} else {
		mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	mux.Handle("/healthz", health)

	return &Server{
		addr: addr,
		log:  log,
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		s.log.Info("metrics server listening", zap.String("addr", s.addr))
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			s.log.Error("metrics server error", zap.Error(err))
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
