package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"tradechart/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

const (
	defaultBatchSize  = 100
	defaultFlushDelay = 200 * time.Millisecond
	defaultQueueSize  = 1024
)

// dsnOptions puts the database in WAL mode with a busy timeout so the reader
// and the single writer do not block each other.
const dsnOptions = "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"

// WriterConfig configures the SQLite writer.
type WriterConfig struct {
	DBPath string // path to SQLite database file, e.g. "data/bars.db"

	// OnCommit is called after each batch commit with its size and latency.
	OnCommit func(n int, took time.Duration)
}

type record struct {
	symbol string
	bar    model.Bar
}

// Writer is a single-goroutine SQLite writer with transaction batching.
// SaveBar queues a bar; Run drains the queue into batched transactions.
type Writer struct {
	db       *sql.DB
	queue    chan record
	onCommit func(int, time.Duration)
	log      *zap.Logger
}

// DB returns the underlying sql.DB for health checks.
func (w *Writer) DB() *sql.DB { return w.db }

// New creates a new SQLite Writer, initializes the database with WAL mode and schema.
func New(cfg WriterConfig, log *zap.Logger) (*Writer, error) {
	if log == nil {
		log = zap.NewNop()
	}
	db, err := sql.Open("sqlite3", cfg.DBPath+dsnOptions)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite open")
	}

	// Set connection pool for single-writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "sqlite schema")
	}

	log.Info("sqlite opened", zap.String("path", cfg.DBPath))
	return &Writer{
		db:       db,
		queue:    make(chan record, defaultQueueSize),
		onCommit: cfg.OnCommit,
		log:      log.Named("sqlite"),
	}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS bars (
			symbol TEXT    NOT NULL,
			ts     INTEGER NOT NULL,
			open   REAL    NOT NULL,
			high   REAL    NOT NULL,
			low    REAL    NOT NULL,
			close  REAL    NOT NULL,
			PRIMARY KEY (symbol, ts)
		);
	`)
	return err
}

// SaveBar queues one bar for the next batch. It blocks only when the queue is
// full, and gives up when ctx is done.
func (w *Writer) SaveBar(ctx context.Context, symbol string, bar model.Bar) error {
	select {
	case w.queue <- record{symbol: symbol, bar: bar}:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "sqlite queue bar")
	}
}

// Run inserts queued bars in batched transactions.
// Flushes every batchSize bars OR every flushDelay, whichever first.
// Blocks until ctx is cancelled, then flushes what is left.
func (w *Writer) Run(ctx context.Context) {
	batch := make([]record, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		if err := w.insertBatch(batch); err != nil {
			w.log.Error("batch insert failed", zap.Int("bars", len(batch)), zap.Error(err))
		} else {
			took := time.Since(start)
			w.log.Debug("batch committed", zap.Int("bars", len(batch)), zap.Duration("took", took))
			if w.onCommit != nil {
				w.onCommit(len(batch), took)
			}
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			// Drain without blocking.
			for {
				select {
				case r := <-w.queue:
					batch = append(batch, r)
				default:
					flush()
					return
				}
			}

		case r := <-w.queue:
			batch = append(batch, r)
			if len(batch) >= defaultBatchSize {
				flush()
				timer.Reset(defaultFlushDelay)
			}

		case <-timer.C:
			flush()
			timer.Reset(defaultFlushDelay)
		}
	}
}

// InsertBars writes bars of one symbol in a single transaction. Used for
// imports and seeding, bypassing the queue.
func (w *Writer) InsertBars(symbol string, bars []model.Bar) error {
	batch := make([]record, len(bars))
	for i, b := range bars {
		batch[i] = record{symbol: symbol, bar: b}
	}
	return w.insertBatch(batch)
}

// insertBatch inserts a batch of bars in a single transaction.
func (w *Writer) insertBatch(batch []record) error {
	tx, err := w.db.Begin()
	if err != nil {
		return errors.Wrap(err, "sqlite begin")
	}

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO bars (symbol, ts, open, high, low, close)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return errors.Wrap(err, "sqlite prepare")
	}
	defer stmt.Close()

	for _, r := range batch {
		b := r.bar
		if _, err := stmt.Exec(r.symbol, b.Time.UnixMilli(), b.Open, b.High, b.Low, b.Close); err != nil {
			tx.Rollback()
			return errors.Wrapf(err, "sqlite insert %s", r.symbol)
		}
	}

	return errors.Wrap(tx.Commit(), "sqlite commit")
}

// Close closes the database.
func (w *Writer) Close() error {
	return w.db.Close()
}
