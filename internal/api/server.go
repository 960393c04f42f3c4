// Package api serves the estimator's state, metrics and health over local
// HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/handlers"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gse/internal/cognitive"
	"gse/internal/health"
	"gse/internal/logging"
	"gse/internal/metrics"
)

// StateSource is the part of the engine the API reads.
type StateSource interface {
	Snapshot() cognitive.Snapshot
}

// Options configure a Server. Engine is required; the rest are optional.
type Options struct {
	Listen    string
	Engine    StateSource
	Composing func() bool
	Session   func() string
	Metrics   *metrics.Registry
	Health    *health.Checker
	Logger    *logging.Logger
}

// StateResponse is the body of GET /state.
type StateResponse struct {
	cognitive.Snapshot
	Probabilities map[string]float64 `json:"probabilities"`
	Composing     bool               `json:"composing"`
	Session       string             `json:"session,omitempty"`
	Timestamp     time.Time          `json:"timestamp"`
}

// Server is the local HTTP API.
type Server struct {
	opts   Options
	logger *logging.Logger
	srv    *http.Server

	mu   sync.Mutex
	addr net.Addr
	done chan error
}

// New creates a server. It does not listen until Start.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = logging.Default()
	}
	s := &Server{
		opts:   opts,
		logger: opts.Logger.WithComponent("api"),
	}
	s.srv = &http.Server{
		Addr:              opts.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the API's routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /state", s.handleState)
	if s.opts.Metrics != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.opts.Metrics.Gatherer(), promhttp.HandlerOpts{}))
	}
	if s.opts.Health != nil {
		mux.Handle("GET /healthz", s.opts.Health.Handler())
	}
	return handlers.CompressHandler(mux)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	snap := s.opts.Engine.Snapshot()
	resp := StateResponse{
		Snapshot:      snap,
		Probabilities: make(map[string]float64, cognitive.NumStates),
		Timestamp:     time.Now().UTC(),
	}
	for _, st := range cognitive.States {
		resp.Probabilities[st.String()] = snap.Belief[st]
	}
	if s.opts.Composing != nil {
		resp.Composing = s.opts.Composing()
	}
	if s.opts.Session != nil {
		resp.Session = s.opts.Session()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Debug("write state response", "error", err)
	}
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.opts.Listen)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.opts.Listen, err)
	}

	s.mu.Lock()
	s.addr = ln.Addr()
	s.done = make(chan error, 1)
	done := s.done
	s.mu.Unlock()

	go func() {
		err := s.srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		done <- err
	}()

	s.logger.Info("serving http", "addr", ln.Addr().String())
	return nil
}

// Addr returns the listening address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.addr == nil {
		return ""
	}
	return s.addr.String()
}

// Shutdown stops the server, waiting for in-flight requests until ctx is
// done.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done == nil {
		return nil
	}

	if err := s.srv.Shutdown(ctx); err != nil {
		return err
	}
	return <-done
}
