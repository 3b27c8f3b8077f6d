package server

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/dgnsrekt/cardbridge/internal/hub"
	"github.com/dgnsrekt/cardbridge/internal/link"
	"github.com/dgnsrekt/cardbridge/internal/metrics"
)

// StatusSource reports the reader link state. *link.Manager satisfies it.
type StatusSource interface {
	Status() link.Status
}

// Server serves the bridge's HTTP endpoints.
type Server struct {
	hub     *hub.Hub
	link    StatusSource
	metrics *metrics.Metrics
	limiter *rate.Limiter
	started time.Time
	logger  *zap.Logger
}

func NewServer(h *hub.Hub, link StatusSource, met *metrics.Metrics, limiter *rate.Limiter, logger *zap.Logger) *Server {
	return &Server{
		hub:     h,
		link:    link,
		metrics: met,
		limiter: limiter,
		started: time.Now(),
		logger:  logger,
	}
}

type HealthResponse struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
}

type StatusResponse struct {
	Reader       link.Status `json:"reader"`
	ReaderOnline bool        `json:"readerOnline"`
	Subscribers  int         `json:"subscribers"`
}

// GetHealth reports that the process is serving. It does not depend on the
// reader being reachable.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, HealthResponse{
		Status: "ok",
		Uptime: time.Since(s.started).Truncate(time.Second).String(),
	})
}

// GetStatus reports the reader link and subscriber counts.
func (s *Server) GetStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, StatusResponse{
		Reader:       s.link.Status(),
		ReaderOnline: s.hub.Online(),
		Subscribers:  s.hub.Count(),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("failed to write response", zap.Error(err))
	}
}
