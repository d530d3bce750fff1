// Package api serves chart datasets, CSV exports, PNG snapshots and quotes
// over HTTP, and mounts the WebSocket gateway.
package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"tradechart/internal/dataset"
	"tradechart/internal/series"
	"tradechart/internal/session"
)

// Server holds what the HTTP handlers read from.
type Server struct {
	store    *series.Store
	asm      *dataset.Assembler
	log      *zap.Logger
	ws       http.Handler
	health   http.Handler
	observer session.Observer
}

// Option configures a Server.
type Option func(*Server)

// WithWebSocket mounts h on /ws.
func WithWebSocket(h http.Handler) Option {
	return func(s *Server) { s.ws = h }
}

// WithHealth serves h on /api/v1/health instead of a static ok.
func WithHealth(h http.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithObserver records the assemblies done by chart requests.
func WithObserver(o session.Observer) Option {
	return func(s *Server) { s.observer = o }
}

// NewServer creates the API server.
func NewServer(store *series.Store, asm *dataset.Assembler, log *zap.Logger, opts ...Option) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{store: store, asm: asm, log: log.Named("api")}
	for _, o := range opts {
		o(s)
	}
	return s
}

type apiRoute struct {
	Path    string
	Method  string
	Handler http.HandlerFunc
}

func (s *Server) routes() []apiRoute {
	return []apiRoute{
		{Path: "/health", Method: http.MethodGet, Handler: s.getHealth},
		{Path: "/symbols", Method: http.MethodGet, Handler: s.getSymbols},
		{Path: "/layouts", Method: http.MethodGet, Handler: s.getLayouts},
		{Path: "/quote/{symbol}", Method: http.MethodGet, Handler: s.getQuote},
		{Path: "/chart/{symbol}", Method: http.MethodGet, Handler: s.getChart},
		{Path: "/chart/{symbol}/recent", Method: http.MethodGet, Handler: s.getRecent},
		{Path: "/chart/{symbol}/export.csv", Method: http.MethodGet, Handler: s.getExport},
		{Path: "/chart/{symbol}/chart.png", Method: http.MethodGet, Handler: s.getPNG},
	}
}

// Handler returns the full HTTP handler: /api/v1 routes behind CORS and zstd,
// and /ws when a WebSocket handler is set.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	api := r.PathPrefix("/api/v1").Subrouter()
	for _, rt := range s.routes() {
		api.HandleFunc(rt.Path, rt.Handler).Methods(rt.Method, http.MethodOptions)
	}
	api.Use(corsMiddleware)
	if s.ws != nil {
		r.Handle("/ws", s.ws)
	}
	return ZstdMiddleware(r)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
