package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/dgnsrekt/cardbridge/internal/sse"
	"github.com/dgnsrekt/cardbridge/internal/ws"
)

// NewRouter builds the push-channel HTTP surface.
func NewRouter(server *Server, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// Global middleware. No Compress: it buffers event streams and breaks
	// the WebSocket hijack.
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)
	r.Use(zapLoggerMiddleware(logger))

	r.Get("/healthz", server.GetHealth)
	r.Get("/status", server.GetStatus)
	if server.metrics != nil {
		r.Method(http.MethodGet, "/metrics", server.metrics.Handler())
	}

	// Subscriber routes
	r.Group(func(subRouter chi.Router) {
		subRouter.Use(limitMiddleware(server.limiter, logger))

		wsHandler := ws.NewHandler(server.hub, logger)
		subRouter.Method(http.MethodGet, "/", wsHandler)
		subRouter.Method(http.MethodGet, "/ws", wsHandler)
		subRouter.Method(http.MethodGet, "/events", sse.NewHandler(server.hub, logger))
	})

	return r
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func zapLoggerMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("remote", r.RemoteAddr),
				zap.String("requestID", middleware.GetReqID(r.Context())),
			)
			next.ServeHTTP(w, r)
		})
	}
}

// limitMiddleware rejects new subscriber connections beyond the limiter's
// rate. A nil limiter admits everything.
func limitMiddleware(limiter *rate.Limiter, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				logger.Warn("subscriber connect rate exceeded",
					zap.String("remote", r.RemoteAddr),
					zap.String("path", r.URL.Path),
				)
				http.Error(w, ErrTooManyConnections.Error(), http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
