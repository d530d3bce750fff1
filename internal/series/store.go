// Package series holds the per-symbol bar history that charts are assembled from.
package series

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"tradechart/internal/model"
)

var (
	// ErrOutOfOrder is returned when a bar's time is not strictly after the
	// previous bar of the same symbol.
	ErrOutOfOrder = errors.New("series: bar time not after last bar")

	// ErrEmptySymbol is returned for a blank symbol.
	ErrEmptySymbol = errors.New("series: empty symbol")
)

// Store keeps one ordered bar series per symbol. Readers get copies, so a Get
// never observes a partially appended bar. Safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	series map[string][]model.Bar
	sink   model.BarSink
	log    *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithSink forwards every appended bar to sink after it is stored. Sink
// failures are logged and do not undo the append.
func WithSink(sink model.BarSink) Option {
	return func(s *Store) { s.sink = sink }
}

// WithLogger sets the logger used for sink failures.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.log = l }
}

// NewStore creates an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		series: make(map[string][]model.Bar),
		log:    zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// NormalizeSymbol upper-cases and trims a symbol name.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// Load replaces the series of symbol with bars. Bars must be strictly
// increasing in time; on failure the existing series is left untouched.
func (s *Store) Load(symbol string, bars []model.Bar) error {
	symbol = NormalizeSymbol(symbol)
	if symbol == "" {
		return ErrEmptySymbol
	}
	for i := 1; i < len(bars); i++ {
		if !bars[i].Time.After(bars[i-1].Time) {
			return errors.Wrapf(ErrOutOfOrder, "%s load index %d at %s",
				symbol, i, bars[i].Time.Format("2006-01-02T15:04:05Z07:00"))
		}
	}

	cp := make([]model.Bar, len(bars))
	copy(cp, bars)

	s.mu.Lock()
	s.series[symbol] = cp
	s.mu.Unlock()
	return nil
}

// Append adds one bar to the end of symbol's series, creating the series on
// first reference. A bar at or before the last stored time is rejected and the
// series is left unchanged.
func (s *Store) Append(ctx context.Context, symbol string, bar model.Bar) error {
	symbol = NormalizeSymbol(symbol)
	if symbol == "" {
		return ErrEmptySymbol
	}

	s.mu.Lock()
	cur := s.series[symbol]
	if n := len(cur); n > 0 && !bar.Time.After(cur[n-1].Time) {
		last := cur[n-1].Time
		s.mu.Unlock()
		return errors.Wrapf(ErrOutOfOrder, "%s bar %s <= last %s", symbol,
			bar.Time.Format("2006-01-02T15:04:05Z07:00"), last.Format("2006-01-02T15:04:05Z07:00"))
	}
	s.series[symbol] = append(cur, bar)
	s.mu.Unlock()

	if s.sink != nil {
		if err := s.sink.SaveBar(ctx, symbol, bar); err != nil {
			s.log.Warn("bar sink failed",
				zap.String("symbol", symbol),
				zap.Time("time", bar.Time),
				zap.Error(err))
		}
	}
	return nil
}

// Get returns a copy of symbol's series. ok is false for unknown symbols.
func (s *Store) Get(symbol string) ([]model.Bar, bool) {
	symbol = NormalizeSymbol(symbol)

	s.mu.RLock()
	defer s.mu.RUnlock()

	cur, ok := s.series[symbol]
	if !ok {
		return nil, false
	}
	cp := make([]model.Bar, len(cur))
	copy(cp, cur)
	return cp, true
}

// Last returns the most recent bar of symbol.
func (s *Store) Last(symbol string) (model.Bar, bool) {
	symbol = NormalizeSymbol(symbol)

	s.mu.RLock()
	defer s.mu.RUnlock()

	cur := s.series[symbol]
	if len(cur) == 0 {
		return model.Bar{}, false
	}
	return cur[len(cur)-1], true
}

// Len returns the number of bars stored for symbol.
func (s *Store) Len(symbol string) int {
	symbol = NormalizeSymbol(symbol)

	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.series[symbol])
}

// Symbols returns every known symbol in sorted order.
func (s *Store) Symbols() []string {
	s.mu.RLock()
	out := make([]string, 0, len(s.series))
	for sym := range s.series {
		out = append(out, sym)
	}
	s.mu.RUnlock()

	sort.Strings(out)
	return out
}

// Warm loads every symbol from src. It is meant for startup, before feeds
// start appending.
func (s *Store) Warm(ctx context.Context, src model.BarSource) (int, error) {
	symbols, err := src.Symbols(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "series: list stored symbols")
	}
	loaded := 0
	for _, sym := range symbols {
		bars, err := src.ReadBars(ctx, sym)
		if err != nil {
			return loaded, errors.Wrapf(err, "series: read %s", sym)
		}
		if len(bars) == 0 {
			continue
		}
		if err := s.Load(sym, bars); err != nil {
			return loaded, err
		}
		loaded++
	}
	return loaded, nil
}
