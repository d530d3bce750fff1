package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"tradechart/internal/dataset"
	"tradechart/internal/export"
	"tradechart/internal/indicator"
	"tradechart/internal/model"
	"tradechart/internal/render"
	"tradechart/internal/series"
	"tradechart/internal/session"
)

// Response wraps every JSON payload.
type Response[T any] struct {
	Data T    `json:"data"`
	Meta Meta `json:"meta"`
}

// Meta describes the request a payload answers.
type Meta struct {
	Symbol  string `json:"symbol,omitempty"`
	Layout  string `json:"layout,omitempty"`
	Range   string `json:"range,omitempty"`
	Toggles string `json:"toggles,omitempty"`
	Count   int    `json:"count"`
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// statusOf maps domain errors to HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, session.ErrUnknownSymbol):
		return http.StatusNotFound
	case errors.Is(err, dataset.ErrUnknownWindow),
		errors.Is(err, dataset.ErrUnknownLayout),
		errors.Is(err, indicator.ErrUnknownKind),
		errors.Is(err, series.ErrEmptySymbol):
		return http.StatusBadRequest
	case errors.Is(err, render.ErrTooFewBars):
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusOf(err)
	if code >= http.StatusInternalServerError {
		s.log.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	}
	writeJSON(w, code, errorBody{Error: err.Error()})
}

// selectChart opens a throwaway session for the request's symbol, layout,
// range and toggles. defaultLayout applies when the query names none.
func (s *Server) selectChart(r *http.Request, defaultLayout dataset.Layout) (*session.Session, dataset.Dataset, error) {
	q := r.URL.Query()

	layout := defaultLayout
	if name := q.Get("layout"); name != "" {
		l, err := dataset.LayoutByName(name)
		if err != nil {
			return nil, dataset.Dataset{}, err
		}
		layout = l
	}
	toggles, err := dataset.ParseToggles(q.Get("toggles"))
	if err != nil {
		return nil, dataset.Dataset{}, err
	}

	opts := []session.Option{session.WithLogger(s.log)}
	if s.observer != nil {
		opts = append(opts, session.WithObserver(s.observer))
	}
	sess := session.New(s.store, s.asm, opts...)
	ds, err := sess.Select(session.Selection{
		Symbol:  mux.Vars(r)["symbol"],
		Layout:  layout,
		Range:   q.Get("range"),
		Toggles: toggles,
	})
	if err != nil {
		sess.Close()
		return nil, dataset.Dataset{}, err
	}
	return sess, ds, nil
}

func (s *Server) getHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		s.health.ServeHTTP(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) getSymbols(w http.ResponseWriter, r *http.Request) {
	syms := s.store.Symbols()
	quotes := make([]model.Quote, 0, len(syms))
	for _, sym := range syms {
		if q, err := session.QuoteOf(s.store, sym); err == nil {
			quotes = append(quotes, q)
		}
	}
	writeJSON(w, http.StatusOK, Response[[]model.Quote]{Data: quotes, Meta: Meta{Count: len(quotes)}})
}

func (s *Server) getLayouts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Response[[]dataset.Layout]{
		Data: dataset.Layouts,
		Meta: Meta{Count: len(dataset.Layouts)},
	})
}

func (s *Server) getQuote(w http.ResponseWriter, r *http.Request) {
	sym := mux.Vars(r)["symbol"]
	q, err := session.QuoteOf(s.store, sym)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Response[model.Quote]{Data: q, Meta: Meta{Symbol: q.Symbol, Count: 1}})
}

func (s *Server) getChart(w http.ResponseWriter, r *http.Request) {
	sess, ds, err := s.selectChart(r, dataset.MainLayout)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer sess.Close()

	writeJSON(w, http.StatusOK, Response[dataset.Dataset]{
		Data: ds,
		Meta: Meta{
			Symbol:  ds.Symbol,
			Layout:  ds.Layout,
			Range:   ds.Range,
			Toggles: sess.Selection().Toggles.String(),
			Count:   len(ds.Candles()),
		},
	})
}

func (s *Server) getRecent(w http.ResponseWriter, r *http.Request) {
	sess, _, err := s.selectChart(r, dataset.MainLayout)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer sess.Close()

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	bars, err := sess.Recent(limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, Response[[]model.Bar]{
		Data: bars,
		Meta: Meta{Symbol: sess.Selection().Symbol, Count: len(bars)},
	})
}

// getExport writes the bars in the selected window as CSV. The layout
// defaults to full so the range parameter applies.
func (s *Server) getExport(w http.ResponseWriter, r *http.Request) {
	sess, _, err := s.selectChart(r, dataset.FullLayout)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer sess.Close()

	sym, bars, err := sess.ExportBars()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var buf bytes.Buffer
	if err := export.WriteCSV(&buf, bars); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+export.Filename(sym)+`"`)
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) getPNG(w http.ResponseWriter, r *http.Request) {
	sess, ds, err := s.selectChart(r, dataset.FullLayout)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer sess.Close()

	q := r.URL.Query()
	width, _ := strconv.Atoi(q.Get("width"))
	height, _ := strconv.Atoi(q.Get("height"))

	var buf bytes.Buffer
	if err := render.PNG(&buf, ds, render.Options{Width: width, Height: height}); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(buf.Bytes())
}
