package redis

import (
	"context"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"tradechart/internal/model"
)

const (
	// Stream trimming: about a day of 1m bars plus buffer.
	streamMaxLen     = 1500
	defaultLatestTTL = 30 * time.Minute
)

// Key layout, per symbol:
//
//	bar:<SYMBOL>          stream of bar JSON ("data" field)
//	bar:latest:<SYMBOL>   latest bar JSON
//	pub:bar:<SYMBOL>      pub/sub channel for live subscribers
func streamKey(symbol string) string     { return "bar:" + symbol }
func latestKey(symbol string) string     { return "bar:latest:" + symbol }
func pubsubChannel(symbol string) string { return "pub:bar:" + symbol }

// WriterConfig configures the Redis writer.
type WriterConfig struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
}

// Writer publishes appended bars to Redis.
type Writer struct {
	client *goredis.Client
	log    *zap.Logger

	// OnWrite is called with the latency of every pipeline round trip.
	OnWrite func(took time.Duration)
}

// Client returns the underlying Redis client for health checks.
func (w *Writer) Client() *goredis.Client { return w.client }

// New creates a new Redis Writer and pings the server.
func New(cfg WriterConfig, log *zap.Logger) (*Writer, error) {
	if log == nil {
		log = zap.NewNop()
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrap(err, "redis ping")
	}

	log.Info("redis connected", zap.String("addr", cfg.Addr))
	return &Writer{client: client, log: log.Named("redis")}, nil
}

// WriteBar performs pipelined writes for one bar: SET latest, XADD to the
// symbol stream and PUBLISH for live subscribers.
func (w *Writer) WriteBar(ctx context.Context, symbol string, bar model.Bar) error {
	jsonData := string(bar.JSON())

	start := time.Now()
	pipe := w.client.Pipeline()

	// SET latest bar with TTL
	pipe.Set(ctx, latestKey(symbol), jsonData, defaultLatestTTL)

	// XADD to stream with auto-trimming
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: streamKey(symbol),
		MaxLen: streamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"data": jsonData,
		},
	})

	// PUBLISH to pubsub channel
	pipe.Publish(ctx, pubsubChannel(symbol), jsonData)

	_, err := pipe.Exec(ctx)
	if w.OnWrite != nil {
		w.OnWrite(time.Since(start))
	}
	if err != nil {
		w.log.Warn("pipeline error", zap.String("symbol", symbol), zap.Error(err))
		return errors.Wrapf(err, "redis write %s", symbol)
	}
	return nil
}

// Close closes the Redis client.
func (w *Writer) Close() error {
	return w.client.Close()
}
