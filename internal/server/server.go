// Package server exposes the creation call, record lookups and record
// subscriptions over HTTP. GraphQL on /query is the primary interface;
// the /jobs routes serve plain JSON callers.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/raphaelgruber/jobingest/internal/metrics"
	"github.com/raphaelgruber/jobingest/internal/service"
	"github.com/raphaelgruber/jobingest/internal/store"
)

const (
	// maxBodyBytes bounds creation request bodies.
	maxBodyBytes = 64 << 10

	msgInternal = "Internal Server Error"
)

// Server routes HTTP requests to the ingestion service.
type Server struct {
	svc     *service.Service
	metrics *metrics.Collector
	logger  *slog.Logger
}

// New creates a server. A nil collector disables /stats.
func New(svc *service.Service, collector *metrics.Collector, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		svc:     svc,
		metrics: collector,
		logger:  logger,
	}
}

// Handler returns the routed handler wrapped in request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/query", s.graphQL())
	mux.HandleFunc("POST /jobs", s.handleCreate)
	mux.HandleFunc("GET /jobs/{id}", s.handleGet)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	return LoggingMiddleware(s.logger)(mux)
}

// CreateRequest is the creation call body. SourceURL is accepted as an alias.
type CreateRequest struct {
	URL       any `json:"url"`
	SourceURL any `json:"sourceUrl"`
}

// CreateResponse carries the id of the new or existing record.
type CreateResponse struct {
	ID string `json:"id"`
}

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		s.logger.Debug("undecodable creation request", "error", err)
	}

	raw := req.URL
	if raw == nil {
		raw = req.SourceURL
	}
	url, ok := raw.(string)
	if !ok {
		url = ""
	}

	id, _, err := s.svc.Request(r.Context(), url)
	switch {
	case errors.Is(err, service.ErrInvalidArgument):
		msg := service.MsgInvalidFormat
		if url == "" {
			msg = service.MsgMissingURL
		}
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: msg})
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: msgInternal})
	default:
		writeJSON(w, http.StatusOK, CreateResponse{ID: id})
	}
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rec, err := s.svc.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "Job not found"})
		return
	}
	if err != nil {
		s.logger.Error("get record failed", "record_id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: msgInternal})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "metrics disabled"})
		return
	}
	writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
