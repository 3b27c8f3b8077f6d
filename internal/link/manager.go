package link

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/cardbridge/internal/filter"
	"github.com/dgnsrekt/cardbridge/internal/metrics"
	"github.com/dgnsrekt/cardbridge/internal/notify"
)

const (
	readBufferSize  = 4096
	eventBufferSize = 64

	defaultPruneInterval = 30 * time.Second
)

// Config describes how to reach the card reader.
type Config struct {
	Host           string
	Port           int
	DialTimeout    time.Duration
	KeepAlive      time.Duration
	ReconnectDelay time.Duration
	StartDelay     time.Duration
}

// Addr returns the reader address in host:port form.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Publisher receives reader status edges and accepted scans.
type Publisher interface {
	PublishStatus(online bool)
	PublishScan(uid string)
}

// Dialer opens the transport to the reader. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Option configures a Manager.
type Option func(*Manager)

func WithDialer(d Dialer) Option {
	return func(m *Manager) {
		m.dialer = d
	}
}

func WithClock(c Clock) Option {
	return func(m *Manager) {
		m.clock = c
	}
}

func WithNotifier(n notify.Notifier) Option {
	return func(m *Manager) {
		m.notifier = n
	}
}

func WithMetrics(met *metrics.Metrics) Option {
	return func(m *Manager) {
		m.metrics = met
	}
}

// WithPruneInterval sets how often expired dedup entries are swept.
func WithPruneInterval(d time.Duration) Option {
	return func(m *Manager) {
		m.pruneInterval = d
	}
}

// Manager owns the connection to the card reader. It keeps at most one
// transport open, turns received chunks into scans, and reconnects after a
// fixed delay until halted.
//
// Every field below the events channel is owned by the Run goroutine.
// Dialing and socket reads happen on helper goroutines that post events
// back to Run.
type Manager struct {
	cfg           Config
	addr          string
	pub           Publisher
	dialer        Dialer
	clock         Clock
	notifier      notify.Notifier
	metrics       *metrics.Metrics
	dedup         *filter.Dedup
	pruneInterval time.Duration
	logger        *zap.Logger

	events  chan event
	stopped chan struct{}
	baseCtx context.Context

	state     State
	since     time.Time
	conn      net.Conn
	gen       uint64
	pending   Timer
	attempts  int
	lastErr   error
	changedAt time.Time

	mu     sync.RWMutex
	status Status
}

type event interface{}

type (
	dialedEvent struct {
		gen  uint64
		conn net.Conn
	}
	dataEvent struct {
		gen   uint64
		chunk []byte
	}
	downEvent struct {
		gen uint64
		err error
	}
	retryEvent struct{}
	haltEvent  struct {
		done chan struct{}
	}
)

// NewManager creates a Manager publishing to pub. Call Run to start it.
func NewManager(cfg Config, pub Publisher, logger *zap.Logger, opts ...Option) *Manager {
	m := &Manager{
		cfg:  cfg,
		addr: cfg.Addr(),
		pub:  pub,
		dialer: &net.Dialer{
			Timeout:   cfg.DialTimeout,
			KeepAlive: cfg.KeepAlive,
		},
		clock:         realClock{},
		notifier:      &notify.NoopNotifier{},
		dedup:         filter.NewDedup(),
		pruneInterval: defaultPruneInterval,
		logger:        logger,
		events:        make(chan event, eventBufferSize),
		stopped:       make(chan struct{}),
		baseCtx:       context.Background(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.since = m.clock.Now()
	m.updateStatus()
	return m
}

// Run drives the link until ctx is cancelled. The first connection attempt
// is made after Config.StartDelay.
func (m *Manager) Run(ctx context.Context) {
	defer close(m.stopped)
	m.baseCtx = ctx

	m.logger.Info("link manager started",
		zap.String("reader", m.addr),
		zap.Duration("startDelay", m.cfg.StartDelay),
		zap.Duration("reconnectDelay", m.cfg.ReconnectDelay),
	)
	m.pending = m.clock.AfterFunc(m.cfg.StartDelay, m.postRetry)

	prune := time.NewTicker(m.pruneInterval)
	defer prune.Stop()

	for {
		select {
		case <-ctx.Done():
			m.halt()
			return

		case ev := <-m.events:
			m.handle(ev)

		case <-prune.C:
			if n := m.dedup.Prune(m.clock.Now()); n > 0 {
				m.logger.Debug("pruned dedup entries", zap.Int("removed", n))
			}
		}
	}
}

// Halt moves the link to ShuttingDown, cancels any pending reconnect and
// closes the transport. It is irreversible and idempotent. Halt waits for
// Run to apply it, or returns at once if Run has already exited.
func (m *Manager) Halt() {
	done := make(chan struct{})
	select {
	case m.events <- haltEvent{done: done}:
	case <-m.stopped:
		return
	}
	select {
	case <-done:
	case <-m.stopped:
	}
}

// Status returns a snapshot of the link. Safe for concurrent use.
func (m *Manager) Status() Status {
	m.mu.RLock()
	st := m.status
	m.mu.RUnlock()
	st.TrackedUIDs = m.dedup.Len()
	return st
}

func (m *Manager) handle(ev event) {
	switch e := ev.(type) {
	case dialedEvent:
		m.onConnected(e.gen, e.conn)
	case dataEvent:
		m.onData(e.gen, e.chunk)
	case downEvent:
		m.onDown(e.gen, e.err)
	case retryEvent:
		m.pending = nil
		m.connect()
	case haltEvent:
		m.halt()
		close(e.done)
	}
}

func (m *Manager) connect() {
	if m.state == ShuttingDown {
		return
	}

	m.destroy()
	m.gen++
	m.attempts++
	gen := m.gen
	m.setState(Connecting)
	m.metrics.IncConnectAttempts()

	m.logger.Info("connecting to card reader",
		zap.String("reader", m.addr),
		zap.Int("attempt", m.attempts),
	)

	ctx := m.baseCtx
	go func() {
		dialCtx, cancel := context.WithTimeout(ctx, m.cfg.DialTimeout)
		defer cancel()

		conn, err := m.dialer.DialContext(dialCtx, "tcp", m.addr)
		if err != nil {
			m.post(downEvent{gen: gen, err: fmt.Errorf("dial %s: %w", m.addr, err)})
			return
		}
		if !m.post(dialedEvent{gen: gen, conn: conn}) {
			_ = conn.Close()
		}
	}()
}

func (m *Manager) onConnected(gen uint64, conn net.Conn) {
	if gen != m.gen || m.state == ShuttingDown {
		_ = conn.Close()
		return
	}
	if m.state == Connected {
		// Redundant success signal; the link is already up.
		if conn != m.conn {
			_ = conn.Close()
		}
		return
	}

	if tcp, ok := conn.(*net.TCPConn); ok && m.cfg.KeepAlive > 0 {
		if err := tcp.SetKeepAlive(true); err != nil {
			m.logger.Debug("enabling keep-alive failed", zap.Error(err))
		}
		if err := tcp.SetKeepAlivePeriod(m.cfg.KeepAlive); err != nil {
			m.logger.Debug("setting keep-alive period failed", zap.Error(err))
		}
	}

	m.conn = conn
	m.attempts = 0
	m.lastErr = nil
	m.setState(Connected)

	m.logger.Info("card reader connected", zap.String("reader", m.addr))
	m.publishStatus(true, nil)

	go m.read(gen, conn)
}

func (m *Manager) onData(gen uint64, chunk []byte) {
	if gen != m.gen || m.state != Connected {
		return
	}

	uid := filter.Normalize(chunk)
	if uid == "" {
		m.logger.Debug("empty chunk dropped", zap.Int("bytes", len(chunk)))
		return
	}
	if filter.IsSentinel(uid) {
		m.metrics.IncSentinelsDropped()
		m.logger.Debug("reader diagnostic dropped", zap.String("candidate", uid))
		return
	}
	if !m.dedup.Accept(uid, m.clock.Now()) {
		m.metrics.IncScansSuppressed()
		m.logger.Debug("duplicate scan suppressed", zap.String("uid", uid))
		return
	}

	m.metrics.IncScansAccepted()
	m.logger.Info("uid received", zap.String("uid", uid))
	m.pub.PublishScan(uid)
}

// onDown handles both orderly close and transport errors. Repeated signals
// for the same connection never repeat the offline status, and at most one
// reconnect is ever pending.
func (m *Manager) onDown(gen uint64, err error) {
	if gen != m.gen {
		return
	}

	prev := m.state
	if prev == Connected || prev == Connecting {
		m.lastErr = err
		m.setState(Disconnected)
	}

	switch {
	case prev == Connected && errors.Is(err, io.EOF):
		m.logger.Info("card reader closed the connection", zap.String("reader", m.addr))
		m.publishStatus(false, err)
	case prev == Connected:
		m.logger.Warn("card reader connection lost", zap.String("reader", m.addr), zap.Error(err))
		m.publishStatus(false, err)
	case prev == Connecting:
		m.logger.Warn("card reader connection failed", zap.String("reader", m.addr), zap.Error(err))
	}

	m.destroy()
	m.scheduleReconnect()
}

func (m *Manager) scheduleReconnect() {
	if m.pending != nil || m.state == ShuttingDown {
		return
	}

	m.logger.Info("scheduling reconnect",
		zap.String("reader", m.addr),
		zap.Duration("delay", m.cfg.ReconnectDelay),
	)
	m.pending = m.clock.AfterFunc(m.cfg.ReconnectDelay, m.postRetry)
	m.updateStatus()
}

func (m *Manager) halt() {
	if m.state == ShuttingDown {
		return
	}

	m.setState(ShuttingDown)
	if m.pending != nil {
		m.pending.Stop()
		m.pending = nil
	}
	m.destroy()
	m.updateStatus()

	m.logger.Info("link manager halted", zap.String("reader", m.addr))
}

func (m *Manager) destroy() {
	if m.conn == nil {
		return
	}
	_ = m.conn.Close()
	m.conn = nil
}

func (m *Manager) publishStatus(online bool, cause error) {
	now := m.clock.Now()
	previous := m.changedAt
	m.changedAt = now

	m.metrics.SetReaderOnline(online)
	m.pub.PublishStatus(online)

	ctx := m.baseCtx
	if online {
		var downtime time.Duration
		if !previous.IsZero() {
			downtime = now.Sub(previous)
		}
		go func() {
			if err := m.notifier.SendOnline(ctx, m.addr, downtime); err != nil {
				m.logger.Debug("online alert not sent", zap.Error(err))
			}
		}()
		return
	}
	go func() {
		if err := m.notifier.SendOffline(ctx, m.addr, now, cause); err != nil {
			m.logger.Debug("offline alert not sent", zap.Error(err))
		}
	}()
}

// read pumps chunks from conn into the event loop until the connection
// fails. Each chunk is one scan candidate.
func (m *Manager) read(gen uint64, conn net.Conn) {
	buf := make([]byte, readBufferSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if !m.post(dataEvent{gen: gen, chunk: chunk}) {
				return
			}
		}
		if err != nil {
			m.post(downEvent{gen: gen, err: err})
			return
		}
	}
}

func (m *Manager) postRetry() {
	m.post(retryEvent{})
}

func (m *Manager) post(ev event) bool {
	select {
	case m.events <- ev:
		return true
	case <-m.stopped:
		return false
	}
}

func (m *Manager) setState(s State) {
	if m.state == s {
		return
	}
	m.logger.Debug("link state changed",
		zap.Stringer("from", m.state),
		zap.Stringer("to", s),
	)
	m.state = s
	m.since = m.clock.Now()
	m.updateStatus()
}

func (m *Manager) updateStatus() {
	st := Status{
		Reader:       m.addr,
		State:        m.state,
		Online:       m.state == Connected,
		Since:        m.since,
		Attempts:     m.attempts,
		PendingRetry: m.pending != nil,
	}
	if m.lastErr != nil {
		st.LastError = m.lastErr.Error()
	}

	m.mu.Lock()
	m.status = st
	m.mu.Unlock()
}
