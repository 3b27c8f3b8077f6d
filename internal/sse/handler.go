// Package sse serves the push channel as a server-sent event stream for
// front-ends that cannot hold a WebSocket.
package sse

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dgnsrekt/cardbridge/internal/hub"
)

const (
	sendBufferSize = 64

	// Comment frames keep proxies from timing out an idle stream.
	keepAliveInterval = 25 * time.Second
)

// Handler streams hub messages as server-sent events.
type Handler struct {
	hub       *hub.Hub
	logger    *zap.Logger
	keepAlive time.Duration
}

// NewHandler creates a Handler.
func NewHandler(h *hub.Hub, logger *zap.Logger) *Handler {
	return &Handler{hub: h, logger: logger, keepAlive: keepAliveInterval}
}

// sseClient represents a connected SSE subscriber.
type sseClient struct {
	id     string
	dataCh chan hub.Message
	doneCh chan struct{}

	closeOnce sync.Once
}

func newClient() *sseClient {
	return &sseClient{
		id:     uuid.New().String(),
		dataCh: make(chan hub.Message, sendBufferSize),
		doneCh: make(chan struct{}),
	}
}

func (c *sseClient) ID() string {
	return c.id
}

func (c *sseClient) Send(msg hub.Message) bool {
	select {
	case <-c.doneCh:
		return false
	default:
	}
	select {
	case c.dataCh <- msg:
		return true
	default:
		return false
	}
}

func (c *sseClient) Close() {
	c.closeOnce.Do(func() {
		close(c.doneCh)
	})
}

// ServeHTTP handles the SSE endpoint.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Check if SSE is supported
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	client := newClient()
	if err := h.hub.Join(client); err != nil {
		h.logger.Debug("hub rejected subscriber", zap.String("id", client.id), zap.Error(err))
		return
	}
	defer h.hub.Leave(client)

	h.logger.Info("event stream client connected",
		zap.String("id", client.id),
		zap.String("remote_addr", r.RemoteAddr),
	)

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	var seq uint64
	for {
		select {
		case <-r.Context().Done():
			h.logger.Info("event stream client disconnected", zap.String("id", client.id))
			return
		case <-client.doneCh:
			// Hub dropped us; flush what was already queued.
			for {
				select {
				case msg := <-client.dataCh:
					seq++
					if writeEvent(w, seq, msg) != nil {
						return
					}
				default:
					flusher.Flush()
					return
				}
			}
		case msg := <-client.dataCh:
			seq++
			if err := writeEvent(w, seq, msg); err != nil {
				h.logger.Debug("failed to write to client", zap.Error(err))
				return
			}
			flusher.Flush()
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, seq uint64, msg hub.Message) error {
	_, err := fmt.Fprintf(w, "event: %s\nid: %d\ndata: %s\n\n", msg.Type, seq, msg.Payload)
	return err
}
