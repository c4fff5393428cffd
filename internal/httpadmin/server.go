// Package httpadmin exposes a minimal read-only HTTP surface for
// operators: /healthz and /metrics, deliberately without an authenticated
// admin API surface.
package httpadmin

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server is the read-only admin HTTP handler.
type Server struct {
	router *chi.Mux
}

// NewServer builds the router. registry's Gather/Handler is wired via
// promhttp.Handler, which reads from the default Prometheus registry, so
// callers must register their Collector there before serving.
func NewServer() *Server {
	s := &Server{router: chi.NewRouter()}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := s.router
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", promhttp.Handler())
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
