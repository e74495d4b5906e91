package netrpc

import (
	"context"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/perple-io/openset/logger"
	"github.com/perple-io/openset/query"
)

// Server exposes a node's internal surface to its peers: fork targets
// for every query endpoint, plus the person-lookup unicast target.
// Grounded on FeatureBase's http.Handler internal route group
// (handler.go's "/internal/..." routes), generalized from Pilosa's
// fragment/block RPCs to OpenSet's per-endpoint query forks.
type Server struct {
	coord *query.Coordinator
	log   logger.Logger
}

// NewServer constructs a Server dispatching onto coord.
func NewServer(coord *query.Coordinator, log logger.Logger) *Server {
	return &Server{coord: coord, log: log}
}

// Router builds the gorilla/mux router for this node's internal
// surface, meant to be mounted under /v1/internal by the outer HTTP
// listener -- shared with, or separate from, the client-facing ingress
// listener, as deployment prefers.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/v1/internal/event", s.handle(s.coord.Event)).Methods("POST")
	r.HandleFunc("/v1/internal/segment", s.handle(s.coord.Segment)).Methods("POST")
	r.HandleFunc("/v1/internal/column", s.handle(s.coord.Column)).Methods("POST")
	r.HandleFunc("/v1/internal/histogram", s.handle(s.coord.Histogram)).Methods("POST")
	r.HandleFunc("/v1/internal/batch-section", s.handle(s.coord.Batch)).Methods("POST")
	r.HandleFunc("/v1/internal/person", s.handle(s.coord.Person)).Methods("GET")
	return r
}

// coordMethod is the shape every Coordinator endpoint method shares.
type coordMethod func(ctx context.Context, req query.Request) (query.Result, error)

func (s *Server) handle(fn coordMethod) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		req, err := query.DecodeRequest(body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		req = req.WithFork(true)

		result, err := fn(r.Context(), req)
		if err != nil {
			s.log.Errorf("internal %s: %v", r.URL.Path, err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", result.ContentType)
		w.WriteHeader(result.StatusCode)
		_, _ = w.Write(result.Body)
	}
}
