package model

import (
	"context"

	"go.uber.org/multierr"
)

// ── Storage Port Interfaces ──
// These decouple the series store and chart sessions from concrete storage
// (SQLite, Redis). Each adapter satisfies one or more of them.

// BarSink receives every bar accepted into a series.
type BarSink interface {
	// SaveBar persists or publishes one appended bar.
	SaveBar(ctx context.Context, symbol string, bar Bar) error
}

// BarSource reads previously persisted bars back for a warm start.
type BarSource interface {
	// Symbols lists every symbol with at least one stored bar.
	Symbols(ctx context.Context) ([]string, error)

	// ReadBars returns the stored bars of symbol ordered by time ascending.
	ReadBars(ctx context.Context, symbol string) ([]Bar, error)
}

// BarSinkFunc adapts a function to BarSink.
type BarSinkFunc func(ctx context.Context, symbol string, bar Bar) error

// SaveBar calls f.
func (f BarSinkFunc) SaveBar(ctx context.Context, symbol string, bar Bar) error {
	return f(ctx, symbol, bar)
}

// MultiSink fans one bar out to several sinks. Every sink is called even
// when an earlier one fails; the failures are combined.
type MultiSink []BarSink

// SaveBar calls SaveBar on each sink in order.
func (m MultiSink) SaveBar(ctx context.Context, symbol string, bar Bar) error {
	var err error
	for _, s := range m {
		err = multierr.Append(err, s.SaveBar(ctx, symbol, bar))
	}
	return err
}
