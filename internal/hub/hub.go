package hub

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/dgnsrekt/cardbridge/internal/metrics"
)

// Subscriber is one push-channel client. Implementations must make Send and
// Close safe to call after Close.
type Subscriber interface {
	ID() string
	// Send queues msg without blocking. It returns false when the
	// subscriber is closed or its buffer is full.
	Send(msg Message) bool
	Close()
}

// Hub tracks subscribers and fans out reader status and scans to them.
// Subscriber membership and the current status are only mutated on the
// Run goroutine.
type Hub struct {
	clients        map[Subscriber]uint64 // subscriber -> join sequence
	seq            uint64
	maxSubscribers int

	register   chan Subscriber
	unregister chan Subscriber
	outbound   chan outboundMessage
	stop       chan struct{}
	stopOnce   sync.Once
	done       chan struct{}

	mu     sync.RWMutex
	online bool
	count  int

	metrics *metrics.Metrics
	logger  *zap.Logger
}

type outboundMessage struct {
	msg    Message
	status *bool
}

// Option configures a Hub.
type Option func(*Hub)

// WithMaxSubscribers caps the subscriber set. When full, the oldest
// subscriber is evicted for the newcomer; 1 keeps only the latest client.
// Zero means no cap.
func WithMaxSubscribers(n int) Option {
	return func(h *Hub) {
		h.maxSubscribers = n
	}
}

// WithMetrics records subscriber and delivery counts.
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Hub) {
		h.metrics = m
	}
}

// New creates a Hub. The reader is reported offline until PublishStatus
// says otherwise.
func New(logger *zap.Logger, opts ...Option) *Hub {
	h := &Hub{
		clients:    make(map[Subscriber]uint64),
		register:   make(chan Subscriber),
		unregister: make(chan Subscriber),
		outbound:   make(chan outboundMessage, 256),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		logger:     logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run processes hub events. Call this in a goroutine.
// Returns when the context is cancelled or Close is called.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return

		case <-h.stop:
			h.shutdown()
			return

		case sub := <-h.register:
			h.add(sub)

		case sub := <-h.unregister:
			h.remove(sub)

		case out := <-h.outbound:
			if out.status != nil {
				h.mu.Lock()
				h.online = *out.status
				h.mu.Unlock()
			}
			h.fanout(out.msg)
		}
	}
}

// Join registers sub and sends it the current reader status.
func (h *Hub) Join(sub Subscriber) error {
	select {
	case h.register <- sub:
		return nil
	case <-h.done:
		sub.Close()
		return ErrClosed
	}
}

// Leave removes sub and closes it. Unknown subscribers are ignored.
func (h *Hub) Leave(sub Subscriber) {
	select {
	case h.unregister <- sub:
	case <-h.done:
		sub.Close()
	}
}

// PublishStatus records the reader status and broadcasts it.
func (h *Hub) PublishStatus(online bool) {
	h.publish(outboundMessage{msg: NewStatusMessage(online), status: &online})
}

// PublishScan broadcasts an accepted card UID.
func (h *Hub) PublishScan(uid string) {
	h.publish(outboundMessage{msg: NewScanMessage(uid)})
}

func (h *Hub) publish(out outboundMessage) {
	select {
	case h.outbound <- out:
	case <-h.done:
	}
}

// Close disconnects every subscriber and stops the hub. Safe to call more
// than once; Done is closed once the subscribers are gone.
func (h *Hub) Close() {
	h.stopOnce.Do(func() {
		close(h.stop)
	})
}

// Done is closed after Run has returned.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

// Online returns the reader status most recently published.
func (h *Hub) Online() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.online
}

// Count returns the number of connected subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

func (h *Hub) add(sub Subscriber) {
	if h.maxSubscribers > 0 {
		for len(h.clients) >= h.maxSubscribers {
			oldest := h.oldest()
			h.logger.Debug("subscriber cap reached, evicting oldest",
				zap.String("subscriber", oldest.ID()),
				zap.Int("max", h.maxSubscribers),
			)
			h.metrics.IncEvicted()
			h.remove(oldest)
		}
	}

	h.seq++
	h.clients[sub] = h.seq
	h.updateCount()

	h.mu.RLock()
	online := h.online
	h.mu.RUnlock()

	h.logger.Debug("subscriber registered",
		zap.String("subscriber", sub.ID()),
		zap.Bool("readerOnline", online),
	)

	if sub.Send(NewStatusMessage(online)) {
		h.metrics.IncDelivered(TypeCardReaderConnected)
	} else {
		h.remove(sub)
	}
}

func (h *Hub) remove(sub Subscriber) {
	if _, ok := h.clients[sub]; !ok {
		return
	}
	delete(h.clients, sub)
	sub.Close()
	h.updateCount()

	h.logger.Debug("subscriber unregistered", zap.String("subscriber", sub.ID()))
}

func (h *Hub) fanout(msg Message) {
	if len(h.clients) == 0 {
		h.logger.Debug("no subscribers, message dropped", zap.String("type", msg.Type))
		return
	}

	for sub := range h.clients {
		if sub.Send(msg) {
			h.metrics.IncDelivered(msg.Type)
			continue
		}
		// Buffer full or transport gone
		h.logger.Debug("subscriber not accepting messages, dropping",
			zap.String("subscriber", sub.ID()),
		)
		h.metrics.IncEvicted()
		h.remove(sub)
	}
}

func (h *Hub) oldest() Subscriber {
	var (
		oldest Subscriber
		first  uint64
	)
	for sub, seq := range h.clients {
		if oldest == nil || seq < first {
			oldest, first = sub, seq
		}
	}
	return oldest
}

func (h *Hub) updateCount() {
	h.mu.Lock()
	h.count = len(h.clients)
	h.mu.Unlock()
	h.metrics.SetSubscribers(len(h.clients))
}

// shutdown closes all subscriber connections.
func (h *Hub) shutdown() {
	h.logger.Info("hub shutting down", zap.Int("subscribers", len(h.clients)))
	for sub := range h.clients {
		delete(h.clients, sub)
		sub.Close()
	}
	h.updateCount()
}
