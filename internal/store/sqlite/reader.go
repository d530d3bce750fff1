package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"tradechart/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// Reader provides read-only access to SQLite for warm starts.
type Reader struct {
	db *sql.DB
}

// NewReader opens a SQLite connection for reading. The writer must have
// created the schema first.
func NewReader(dbPath string) (*Reader, error) {
	db, err := sql.Open("sqlite3", dbPath+dsnOptions)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite open reader")
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)

	return &Reader{db: db}, nil
}

// Symbols lists every symbol with at least one stored bar, sorted.
func (r *Reader) Symbols(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT symbol FROM bars ORDER BY symbol`)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite query symbols")
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, errors.Wrap(err, "sqlite scan symbol")
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ReadBars reads every bar of symbol ordered by time ascending.
func (r *Reader) ReadBars(ctx context.Context, symbol string) ([]model.Bar, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT ts, open, high, low, close
		FROM bars
		WHERE symbol = ?
		ORDER BY ts ASC
	`, symbol)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite query bars")
	}
	defer rows.Close()

	var bars []model.Bar
	for rows.Next() {
		var b model.Bar
		var tsMilli int64
		if err := rows.Scan(&tsMilli, &b.Open, &b.High, &b.Low, &b.Close); err != nil {
			return nil, errors.Wrap(err, "sqlite scan bars")
		}
		b.Time = time.UnixMilli(tsMilli).UTC()
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}
