package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tradechart/config"
	"tradechart/internal/api"
	"tradechart/internal/feed"
	"tradechart/internal/gateway"
	"tradechart/internal/metrics"
	"tradechart/internal/model"
	"tradechart/internal/series"
	redisstore "tradechart/internal/store/redis"
	sqlitestore "tradechart/internal/store/sqlite"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "serve the chart API, the WebSocket gateway and metrics",
	RunE:  serve,
}

// storage is the persistence wired behind the series store.
type storage struct {
	sinks  model.MultiSink
	source model.BarSource
	name   string

	sqlite   *sqlitestore.Writer
	reader   *sqlitestore.Reader
	redis    *redisstore.Writer
	buffered *redisstore.BufferedWriter
}

func (s *storage) db() *sql.DB {
	if s.sqlite == nil {
		return nil
	}
	return s.sqlite.DB()
}

func (s *storage) client() *goredis.Client {
	if s.redis == nil {
		return nil
	}
	return s.redis.Client()
}

func (s *storage) Close() error {
	var err error
	if s.reader != nil {
		err = multierr.Append(err, s.reader.Close())
	}
	if s.sqlite != nil {
		err = multierr.Append(err, s.sqlite.Close())
	}
	if s.redis != nil {
		err = multierr.Append(err, s.redis.Close())
	}
	return err
}

// openStorage connects the enabled backends. SQLite failures are fatal,
// Redis failures only degrade health.
func openStorage(cfg *config.Config, prom *metrics.Metrics, health *metrics.HealthStatus, log *zap.Logger) (*storage, error) {
	st := &storage{}

	if cfg.SQLite.Enabled {
		if err := os.MkdirAll(filepath.Dir(cfg.SQLite.Path), 0o755); err != nil {
			return nil, errors.Wrap(err, "create sqlite dir")
		}
		w, err := sqlitestore.New(sqlitestore.WriterConfig{
			DBPath: cfg.SQLite.Path,
			OnCommit: func(_ int, took time.Duration) {
				prom.SQLiteCommitDur.Observe(took.Seconds())
			},
		}, log)
		if err != nil {
			return nil, err
		}
		r, err := sqlitestore.NewReader(cfg.SQLite.Path)
		if err != nil {
			w.Close()
			return nil, err
		}
		st.sqlite, st.reader = w, r
		st.sinks = append(st.sinks, w)
		st.source, st.name = r, "sqlite"
		health.SetSQLiteOK(true)
	}

	if cfg.Redis.Enabled {
		w, err := redisstore.New(redisstore.WriterConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
		}, log)
		if err != nil {
			log.Warn("redis unavailable, continuing without it", zap.Error(err))
			health.SetRedisConnected(false)
			return st, nil
		}
		w.OnWrite = func(took time.Duration) {
			prom.RedisWriteDur.Observe(took.Seconds())
		}

		cb := redisstore.NewCircuitBreaker(cfg.Redis.CBMaxFailures, cfg.Redis.CBResetTimeout)
		cb.OnStateChange = func(from, to redisstore.State) {
			prom.RedisCircuitBreakerState.Set(float64(to))
			if to == redisstore.StateOpen {
				prom.RedisCircuitBreakerTrips.Inc()
			}
			log.Warn("redis circuit breaker", zap.Stringer("from", from), zap.Stringer("to", to))
		}

		bw := redisstore.NewBufferedWriter(w, cb, cfg.Redis.BufferSize, log)
		bw.OnBuffer = prom.RedisBufferedWrites.Inc

		st.redis, st.buffered = w, bw
		st.sinks = append(st.sinks, bw)
		if st.source == nil {
			st.source, st.name = redisstore.NewReader(w.Client()), "redis"
		}
		health.SetRedisConnected(true)
	}
	return st, nil
}

func serve(cmd *cobra.Command, _ []string) error {
	cfg, log, err := setup(cmd, "tradechart")
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Metrics & health ----
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	prom := metrics.NewMetrics(reg)
	health := metrics.NewHealthStatus()
	health.Enable(cfg.Feed.Enabled, cfg.Redis.Enabled, cfg.SQLite.Enabled)

	// ---- Storage & warm start ----
	st, err := openStorage(cfg, prom, health, log)
	if err != nil {
		return err
	}
	defer st.Close()

	opts := []series.Option{series.WithLogger(log)}
	if len(st.sinks) > 0 {
		opts = append(opts, series.WithSink(st.sinks))
	}
	store := series.NewStore(opts...)
	var save seedSaver
	if st.sqlite != nil {
		save = st.sqlite.InsertBars
	}
	if err := warm(ctx, store, st.source, st.name, save, cfg, log); err != nil {
		return err
	}
	health.SetSymbols(len(store.Symbols()))

	asm, err := newAssembler(cfg)
	if err != nil {
		return err
	}

	// ---- Gateway & API ----
	hub := gateway.NewHub(store, asm, gateway.Config{DefaultSymbol: cfg.DefaultSymbol}, log)
	hub.SetMetrics(prom, health)

	apiSrv := api.NewServer(store, asm, log,
		api.WithWebSocket(hub),
		api.WithHealth(health),
		api.WithObserver(prom),
	)
	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           apiSrv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// ---- Live feed ----
	var ingest *feed.Ingest
	if cfg.Feed.Enabled {
		ingest, err = feed.New(feed.Config{URL: cfg.FeedURL()}, log)
		if err != nil {
			return err
		}
		ingest.OnReconnect = prom.FeedReconnects.Inc
		ingest.OnConnState = health.SetFeedConnected
		ingest.OnMessage = prom.FeedMessagesTotal.Inc
		ingest.OnParseError = func(error) { prom.FeedParseErrors.Inc() }
	}

	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health, reg, log)
	metricsSrv.Start()

	g, ctx := errgroup.WithContext(ctx)

	if st.sqlite != nil {
		g.Go(func() error {
			st.sqlite.Run(ctx)
			return nil
		})
	}
	if st.buffered != nil {
		g.Go(func() error {
			flushBuffered(ctx, st.buffered, log)
			return nil
		})
	}
	health.StartLivenessChecker(ctx, st.client(), st.db(), 10*time.Second)

	g.Go(func() error {
		return hub.StartClock(ctx)
	})

	if ingest != nil {
		bars := make(chan model.FeedBar, 1024)
		g.Go(func() error {
			return ingest.Start(ctx, bars)
		})
		g.Go(func() error {
			hub.Run(ctx, bars)
			return nil
		})
		log.Info("feed enabled", zap.String("url", cfg.FeedURL()))
	}

	g.Go(func() error {
		log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "http server")
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		hub.Close()
		return multierr.Combine(
			httpSrv.Shutdown(shutdownCtx),
			metricsSrv.Stop(shutdownCtx),
		)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("shutdown complete")
	return nil
}

// flushBuffered retries buffered Redis writes while no new bars arrive.
func flushBuffered(ctx context.Context, bw *redisstore.BufferedWriter, log *zap.Logger) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if bw.PendingCount() == 0 {
				continue
			}
			if err := bw.Flush(ctx); err != nil {
				log.Warn("redis flush failed", zap.Error(err), zap.Int("pending", bw.PendingCount()))
			}
		}
	}
}
