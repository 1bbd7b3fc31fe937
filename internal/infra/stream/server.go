package stream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

// Server exposes the trade event stream and a health probe over HTTP.
type Server struct {
	router      *chi.Mux
	server      *http.Server
	hub         *Hub
	armedTimers func() int
	logger      *logrus.Entry
}

// NewServer builds the server; armedTimers may be nil.
func NewServer(addr string, hub *Hub, armedTimers func() int, logger *logrus.Entry) *Server {
	s := &Server{
		router:      chi.NewRouter(),
		hub:         hub,
		armedTimers: armedTimers,
		logger:      logger.WithField("component", "stream_server"),
	}

	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)

	s.router.Get("/healthz", s.handleHealth)
	s.router.Get("/ws/trades", hub.ServeWS)

	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler returns the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start blocks serving until Shutdown is called.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.server.Addr).Info("Starting trade stream server")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.server.Shutdown(ctx)
}

type healthResponse struct {
	Status      string `json:"status"`
	Clients     int    `json:"stream_clients"`
	ArmedTimers int    `json:"armed_timers"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{Status: "ok", Clients: s.hub.ClientCount()}
	if s.armedTimers != nil {
		resp.ArmedTimers = s.armedTimers()
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.WithError(err).Warn("Failed to write health response")
	}
}
