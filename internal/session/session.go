// Package session implements a chart session: the state behind one open chart
// page. A session owns the selected symbol, layout, date window and toggles,
// plus the last dataset it produced. Sessions share one series store.
//
// All triggers on a session (selection changes, feed bars, refreshes) run one
// at a time: each finishes its append, assemble and publish before the next
// one starts.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"tradechart/internal/dataset"
	"tradechart/internal/logger"
	"tradechart/internal/model"
	"tradechart/internal/series"
)

var (
	// ErrUnknownSymbol is returned when selecting a symbol the store has never seen.
	ErrUnknownSymbol = errors.New("session: unknown symbol")

	// ErrNoSelection is returned by operations that need an active symbol.
	ErrNoSelection = errors.New("session: no symbol selected")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("session: closed")
)

// RecentLimit is the number of bars Recent returns by default.
const RecentLimit = 10

// Selection is the user-facing chart state.
type Selection struct {
	Symbol  string
	Layout  dataset.Layout
	Range   string
	Toggles dataset.ToggleSet
}

// Observer is notified after every assembly. Used for metrics.
type Observer interface {
	ObserveAssemble(layout string, took time.Duration, err error)
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Session) { s.log = l }
}

// WithOnUpdate registers the renderer callback, called with every new dataset
// while the session lock is held. It must not call back into the session.
func WithOnUpdate(fn func(dataset.Dataset)) Option {
	return func(s *Session) { s.onUpdate = fn }
}

// WithObserver registers an assembly observer.
func WithObserver(o Observer) Option {
	return func(s *Session) { s.observer = o }
}

// WithNow overrides the clock used for the date window. By default the window
// is anchored at the last bar of the series.
func WithNow(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// Session is one chart page view.
type Session struct {
	id       string
	store    *series.Store
	asm      *dataset.Assembler
	log      *zap.Logger
	onUpdate func(dataset.Dataset)
	observer Observer
	now      func() time.Time

	mu      sync.Mutex
	sel     Selection
	last    dataset.Dataset
	hasLast bool
	closed  bool
}

// New creates a session over a shared store and assembler.
func New(store *series.Store, asm *dataset.Assembler, opts ...Option) *Session {
	s := &Session{
		id:    uuid.NewString(),
		store: store,
		asm:   asm,
		log:   zap.NewNop(),
		sel:   Selection{Layout: dataset.MainLayout, Toggles: dataset.ToggleSet{}},
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With(zap.String("session", s.id))
	return s
}

// ID returns the session's unique id.
func (s *Session) ID() string { return s.id }

// Selection returns a copy of the current selection.
func (s *Session) Selection() Selection {
	s.mu.Lock()
	defer s.mu.Unlock()
	sel := s.sel
	sel.Toggles = copyToggles(s.sel.Toggles)
	return sel
}

// Select replaces the whole selection and redraws. On error the previous
// selection is kept.
func (s *Session) Select(sel Selection) (dataset.Dataset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectLocked(sel)
}

func (s *Session) selectLocked(sel Selection) (dataset.Dataset, error) {
	if s.closed {
		return dataset.Dataset{}, ErrClosed
	}
	sel.Symbol = series.NormalizeSymbol(sel.Symbol)
	if sel.Symbol == "" {
		return dataset.Dataset{}, series.ErrEmptySymbol
	}
	if _, ok := s.store.Get(sel.Symbol); !ok {
		return dataset.Dataset{}, errors.Wrapf(ErrUnknownSymbol, "%q", sel.Symbol)
	}
	window, err := dataset.ParseWindow(sel.Range)
	if err != nil {
		return dataset.Dataset{}, err
	}
	sel.Range = window
	if sel.Layout.Name == "" {
		sel.Layout = dataset.MainLayout
	}
	sel.Toggles = copyToggles(sel.Toggles)

	ds, err := s.assembleLocked(sel)
	if err != nil {
		return dataset.Dataset{}, err
	}
	s.sel = sel
	s.publishLocked(ds)
	return ds, nil
}

// SetToggles changes the enabled indicators and redraws.
func (s *Session) SetToggles(ts dataset.ToggleSet) (dataset.Dataset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sel := s.sel
	sel.Toggles = ts
	return s.selectLocked(sel)
}

// SetRange changes the date window and redraws.
func (s *Session) SetRange(window string) (dataset.Dataset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sel := s.sel
	sel.Range = window
	return s.selectLocked(sel)
}

// Refresh rebuilds the dataset from the current selection.
func (s *Session) Refresh() (dataset.Dataset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return dataset.Dataset{}, ErrClosed
	}
	if s.sel.Symbol == "" {
		return dataset.Dataset{}, ErrNoSelection
	}
	ds, err := s.assembleLocked(s.sel)
	if err != nil {
		return dataset.Dataset{}, err
	}
	s.publishLocked(ds)
	return ds, nil
}

// OnFeedBar handles one bar from a live feed. Open bars are ignored. A closed
// bar is appended to the store and, when it belongs to the selected symbol,
// the chart is redrawn. redrawn reports whether a new dataset was published.
func (s *Session) OnFeedBar(ctx context.Context, fb model.FeedBar) (ds dataset.Dataset, redrawn bool, err error) {
	if !fb.IsClosed {
		return dataset.Dataset{}, false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return dataset.Dataset{}, false, ErrClosed
	}

	ctx = logger.WithTraceID(ctx, logger.GenerateTraceID(fb.Symbol, fb.Time))
	if err := s.store.Append(ctx, fb.Symbol, fb.Bar); err != nil {
		s.log.Warn("feed bar rejected",
			append(logger.LogWithTrace(ctx), zap.String("symbol", fb.Symbol), zap.Error(err))...)
		return dataset.Dataset{}, false, err
	}
	return s.redrawIfActiveLocked(fb.Symbol)
}

// Notify tells the session that symbol gained a bar appended by someone else
// (a shared feed). The chart is redrawn only if symbol is selected.
func (s *Session) Notify(symbol string) (dataset.Dataset, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return dataset.Dataset{}, false, ErrClosed
	}
	return s.redrawIfActiveLocked(symbol)
}

func (s *Session) redrawIfActiveLocked(symbol string) (dataset.Dataset, bool, error) {
	if s.sel.Symbol == "" || series.NormalizeSymbol(symbol) != s.sel.Symbol {
		return dataset.Dataset{}, false, nil
	}
	ds, err := s.assembleLocked(s.sel)
	if err != nil {
		return dataset.Dataset{}, false, err
	}
	s.publishLocked(ds)
	return ds, true, nil
}

// Dataset returns the last published dataset.
func (s *Session) Dataset() (dataset.Dataset, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.hasLast
}

// Quote returns the last close of the selected symbol and its change in
// percent against the previous close. With one bar the change is 0.
func (s *Session) Quote() (model.Quote, error) {
	s.mu.Lock()
	sym := s.sel.Symbol
	s.mu.Unlock()

	if sym == "" {
		return model.Quote{}, ErrNoSelection
	}
	return QuoteOf(s.store, sym)
}

// QuoteOf computes the quote for symbol from store.
func QuoteOf(store *series.Store, symbol string) (model.Quote, error) {
	bars, ok := store.Get(symbol)
	if !ok || len(bars) == 0 {
		return model.Quote{}, errors.Wrapf(ErrUnknownSymbol, "%q", symbol)
	}
	last := bars[len(bars)-1]
	q := model.Quote{
		Symbol: series.NormalizeSymbol(symbol),
		Last:   last.Close,
		Time:   last.Time,
	}
	if len(bars) > 1 {
		if prev := bars[len(bars)-2].Close; prev != 0 {
			q.ChangePct = (last.Close - prev) / prev * 100
		}
	}
	return q, nil
}

// Recent returns up to limit of the newest bars of the selected symbol,
// newest first. A limit of 0 or less means RecentLimit.
func (s *Session) Recent(limit int) ([]model.Bar, error) {
	s.mu.Lock()
	sym := s.sel.Symbol
	s.mu.Unlock()

	if sym == "" {
		return nil, ErrNoSelection
	}
	if limit <= 0 {
		limit = RecentLimit
	}
	bars, _ := s.store.Get(sym)
	n := len(bars)
	if n > limit {
		n = limit
	}
	out := make([]model.Bar, n)
	for i := 0; i < n; i++ {
		out[i] = bars[len(bars)-1-i]
	}
	return out, nil
}

// ExportBars returns the bars shown in the current chart, that is the
// selected symbol filtered by the current window.
func (s *Session) ExportBars() (string, []model.Bar, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sel.Symbol == "" {
		return "", nil, ErrNoSelection
	}
	bars, _ := s.store.Get(s.sel.Symbol)
	rng := s.dateRange(s.sel)
	if !s.sel.Layout.DateRange {
		rng.Window = ""
	}
	filtered, err := rng.Filter(bars)
	if err != nil {
		return "", nil, err
	}
	return s.sel.Symbol, filtered, nil
}

// Close ends the session. Later triggers fail with ErrClosed.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		s.log.Debug("session closed")
	}
	return nil
}

func (s *Session) dateRange(sel Selection) dataset.DateRange {
	rng := dataset.DateRange{Window: sel.Range}
	if s.now != nil {
		rng.Now = s.now()
	}
	return rng
}

func (s *Session) assembleLocked(sel Selection) (dataset.Dataset, error) {
	bars, _ := s.store.Get(sel.Symbol)

	start := time.Now()
	ds, err := s.asm.Build(dataset.Request{
		Symbol:  sel.Symbol,
		Layout:  sel.Layout,
		Range:   s.dateRange(sel),
		Toggles: sel.Toggles,
	}, bars)
	if s.observer != nil {
		s.observer.ObserveAssemble(sel.Layout.Name, time.Since(start), err)
	}
	if err != nil {
		s.log.Warn("assemble failed", zap.String("symbol", sel.Symbol), zap.Error(err))
		return dataset.Dataset{}, err
	}
	return ds, nil
}

func (s *Session) publishLocked(ds dataset.Dataset) {
	s.last = ds
	s.hasLast = true
	if s.onUpdate != nil {
		s.onUpdate(ds)
	}
}

func copyToggles(ts dataset.ToggleSet) dataset.ToggleSet {
	out := make(dataset.ToggleSet, len(ts))
	for k, v := range ts {
		if v {
			out[k] = true
		}
	}
	return out
}
