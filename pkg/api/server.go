package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/platform"
	"github.com/cuemby/burrow/pkg/types"
)

// CORS settings of the public status API
var (
	AllowedHeaders = []string{"Content-Type", "X-Amz-Date", "Authorization", "X-Api-Key"}
	AllowedMethods = []string{"OPTIONS", "GET", "POST", "PUT", "PATCH", "DELETE"}
)

// Querier answers status queries
type Querier interface {
	Query(ctx context.Context) (*types.Status, error)
}

// ErrorResponse is the body of every non-2xx status answer
type ErrorResponse struct {
	Error string `json:"error"`
}

// Server serves the status API plus health and metrics endpoints
type Server struct {
	status Querier
	mux    *http.ServeMux
	http   *http.Server
	logger zerolog.Logger
}

// NewServer creates a new API server
func NewServer(q Querier) *Server {
	s := &Server{
		status: q,
		mux:    http.NewServeMux(),
		logger: log.WithComponent("api"),
	}
	s.http = &http.Server{
		Handler:      s.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.mux.HandleFunc("/status", s.statusHandler)
	s.mux.HandleFunc("/health", metrics.HealthHandler())
	s.mux.HandleFunc("/ready", metrics.ReadyHandler())
	s.mux.HandleFunc("/live", metrics.LivenessHandler())
	s.mux.Handle("/metrics", metrics.Handler())

	return s
}

// Handler returns the HTTP handler for embedding in other servers
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start listens on addr and serves until Shutdown is called
func (s *Server) Start(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return s.Serve(lis)
}

// Serve serves on an existing listener
func (s *Server) Serve(lis net.Listener) error {
	metrics.RegisterComponent(metrics.ComponentAPI, true, "listening on "+lis.Addr().String())
	s.logger.Info().Str("addr", lis.Addr().String()).Msg("HTTP API listening")

	err := s.http.Serve(lis)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	metrics.UpdateComponent(metrics.ComponentAPI, false, "shutting down")
	return s.http.Shutdown(ctx)
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	SetCORSHeaders(w.Header())

	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodGet:
	default:
		writeJSON(w, http.StatusMethodNotAllowed, ErrorResponse{Error: "method not allowed"})
		return
	}

	st, err := s.status.Query(r.Context())
	if err != nil {
		code := StatusCode(err)
		s.logger.Error().Err(err).Int("code", code).Msg("status query failed")
		writeJSON(w, code, ErrorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// SetCORSHeaders adds the public CORS headers to h
func SetCORSHeaders(h http.Header) {
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Headers", strings.Join(AllowedHeaders, ","))
	h.Set("Access-Control-Allow-Methods", strings.Join(AllowedMethods, ","))
	h.Set("Access-Control-Allow-Credentials", "true")
}

// StatusCode maps a platform error to the HTTP status of the answer:
// 503 when burrow lacks permission, 502 for everything else upstream
func StatusCode(err error) int {
	if errors.Is(err, platform.ErrPermission) {
		return http.StatusServiceUnavailable
	}
	return http.StatusBadGateway
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
