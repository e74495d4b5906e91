// Package ingress implements the HTTP Intake (C8): it classifies
// incoming requests into the "query" and "other" dispatch queues and
// translates each query endpoint's parameters into a query.Request for
// the Coordinator. Grounded on FeatureBase's http.Handler
// (http/handler.go): a gorilla/mux router built once at startup, one
// handler method per route, Prometheus metrics mounted at /metrics
// alongside the app's own routes.
package ingress

import (
	"context"
	"encoding/json"
	"expvar"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/perple-io/openset/errors"
	"github.com/perple-io/openset/logger"
	"github.com/perple-io/openset/query"
	"github.com/perple-io/openset/statsprom"
	"github.com/perple-io/openset/wire"
)

// Server is the client-facing HTTP listener.
type Server struct {
	coord *query.Coordinator
	log   logger.Logger
	stats *statsprom.Stats

	// queryDispatch bounds the "query" route group's worker pool (8
	// query threads + 32 other threads by default); the Coordinator's
	// own querySem further throttles useful concurrency down to
	// Config.Ingress.MaxConcurrentQueries.
	queryDispatch chan struct{}
	otherDispatch chan struct{}
}

// NewServer constructs a Server. queryThreads/otherThreads size the two
// dispatch pools.
func NewServer(coord *query.Coordinator, log logger.Logger, stats *statsprom.Stats, queryThreads, otherThreads int) *Server {
	if queryThreads < 1 {
		queryThreads = 1
	}
	if otherThreads < 1 {
		otherThreads = 1
	}
	return &Server{
		coord:         coord,
		log:           log,
		stats:         stats,
		queryDispatch: make(chan struct{}, queryThreads),
		otherDispatch: make(chan struct{}, otherThreads),
	}
}

// Router builds the gorilla/mux router for the client-facing surface.
// Both GET and POST column lookups dispatch through the same "query"
// queue, regardless of which verb a particular endpoint allows.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/ping", s.other(s.handlePing)).Methods("GET")
	r.Handle("/metrics", promhttp.HandlerFor(s.stats.Registry(), promhttp.HandlerOpts{})).Methods("GET")
	r.Handle("/debug/vars", expvar.Handler()).Methods("GET")

	r.HandleFunc("/v1/query/{table}/event", s.query(s.handleEvent)).Methods("POST")
	r.HandleFunc("/v1/query/{table}/segment", s.query(s.handleSegment)).Methods("POST")
	r.HandleFunc("/v1/query/{table}/column/{name}", s.query(s.handleColumn)).Methods("GET", "POST")
	r.HandleFunc("/v1/query/{table}/histogram/{name}", s.query(s.handleHistogram)).Methods("POST")
	r.HandleFunc("/v1/query/{table}/person", s.query(s.handlePerson)).Methods("GET")
	r.HandleFunc("/v1/query/{table}/batch", s.query(s.handleBatch)).Methods("POST")
	return r
}

// query wraps h to run inside the bounded "query" dispatch pool.
func (s *Server) query(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.queryDispatch <- struct{}{}
		defer func() { <-s.queryDispatch }()
		h(w, r)
	}
}

// other wraps h to run inside the bounded "other" dispatch pool.
func (s *Server) other(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.otherDispatch <- struct{}{}
		defer func() { <-s.otherDispatch }()
		h(w, r)
	}
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"pong":true}`))
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	req, err := s.baseRequest(r)
	if err != nil {
		writeParamError(w, err)
		return
	}
	req.Script = readBody(r)
	s.respond(w, r, s.coord.Event, req, "event")
}

func (s *Server) handleSegment(w http.ResponseWriter, r *http.Request) {
	req, err := s.baseRequest(r)
	if err != nil {
		writeParamError(w, err)
		return
	}
	req.Script = readBody(r)
	s.respond(w, r, s.coord.Segment, req, "segment")
}

func (s *Server) handleColumn(w http.ResponseWriter, r *http.Request) {
	req, err := s.baseRequest(r)
	if err != nil {
		writeParamError(w, err)
		return
	}
	req.Column = mux.Vars(r)["name"]
	filter, err := query.ParseFilterMode(r.URL.Query())
	if err != nil {
		writeParamError(w, err)
		return
	}
	req.Filter = filter
	if b := r.URL.Query().Get("bucket"); b != "" {
		bucket, err := query.Scale10k(b)
		if err != nil {
			writeParamError(w, err)
			return
		}
		req.Bucket = bucket
	}
	s.respond(w, r, s.coord.Column, req, "column")
}

func (s *Server) handleHistogram(w http.ResponseWriter, r *http.Request) {
	req, err := s.baseRequest(r)
	if err != nil {
		writeParamError(w, err)
		return
	}
	req.Column = mux.Vars(r)["name"]
	req.Script = readBody(r)
	q := r.URL.Query()
	req.Foreach = q.Get("foreach")
	if bucket, err := query.Scale10k(q.Get("bucket")); err == nil {
		req.Bucket = bucket
	}
	if min, err := query.Scale10k(q.Get("min")); err == nil {
		req.Min = min
	}
	if max, err := query.Scale10k(q.Get("max")); err == nil {
		req.Max = max
	}
	s.respond(w, r, s.coord.Histogram, req, "histogram")
}

func (s *Server) handlePerson(w http.ResponseWriter, r *http.Request) {
	req, err := s.baseRequest(r)
	if err != nil {
		writeParamError(w, err)
		return
	}
	q := r.URL.Query()
	if id := q.Get("id"); id != "" {
		n, err := strconv.ParseUint(id, 10, 64)
		if err != nil {
			writeParamError(w, errors.Newf(errors.CodeGeneralError, "invalid id: %q", id))
			return
		}
		req.PersonID = n
	}
	req.PersonSID = q.Get("sid")
	s.respond(w, r, s.coord.Person, req, "person")
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	req, err := s.baseRequest(r)
	if err != nil {
		writeParamError(w, err)
		return
	}
	req.Script = readBody(r)
	s.respond(w, r, s.coord.Batch, req, "batch")
}

type coordMethod func(ctx context.Context, req query.Request) (query.Result, error)

func (s *Server) respond(w http.ResponseWriter, r *http.Request, fn coordMethod, req query.Request, route string) {
	result, err := fn(r.Context(), req)
	if err != nil {
		s.stats.HTTPRequest(route, "5xx")
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.stats.HTTPRequest(route, statusClass(result.StatusCode))
	w.Header().Set("Content-Type", result.ContentType)
	w.WriteHeader(result.StatusCode)
	_, _ = w.Write(result.Body)
}

// baseRequest extracts the parameters common to every query endpoint:
// table, fork, debug, trim, order, sort, session_time, segments, and
// typed inline vars.
func (s *Server) baseRequest(r *http.Request) (query.Request, error) {
	q := r.URL.Query()
	vars, err := query.ExtractVars(q)
	if err != nil {
		return query.Request{}, err
	}

	req := query.Request{
		Table:    mux.Vars(r)["table"],
		Fork:     q.Get("fork") == "true",
		Debug:    q.Get("debug") == "true",
		Sort:     q.Get("sort"),
		Segments: query.ParseSegments(q),
		Vars:     vars,
	}
	if trim := q.Get("trim"); trim != "" {
		n, err := strconv.Atoi(trim)
		if err != nil {
			return query.Request{}, errors.Newf(errors.CodeGeneralError, "invalid trim: %q", trim)
		}
		req.Trim = n
	}
	switch q.Get("order") {
	case "asc":
		req.Order = wire.SortAsc
	case "desc":
		req.Order = wire.SortDesc
	}
	if st := q.Get("session_time"); st != "" {
		n, err := strconv.ParseInt(st, 10, 64)
		if err != nil {
			return query.Request{}, errors.Newf(errors.CodeGeneralError, "invalid session_time: %q", st)
		}
		req.SessionTime = n
	}
	return req, nil
}

func readBody(r *http.Request) string {
	b, _ := io.ReadAll(r.Body)
	return string(b)
}

func writeParamError(w http.ResponseWriter, err error) {
	code, ok := errors.CodeOf(err)
	if !ok {
		code = errors.CodeGeneralError
	}
	body, _ := json.Marshal(struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}{Error: struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}{Code: string(code), Message: err.Error()}})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_, _ = w.Write(body)
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	default:
		return "2xx"
	}
}
