// Package shutdown runs the bridge's one-way exit sequence.
package shutdown

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Halter stops the reader link for good.
type Halter interface {
	Halt()
}

// Closer disconnects push-channel subscribers.
type Closer interface {
	Close()
}

// Server is the push-channel listener. *http.Server satisfies it.
type Server interface {
	Shutdown(ctx context.Context) error
}

// Coordinator owns process exit. The first Shutdown wins; later triggers
// only log.
type Coordinator struct {
	link       Halter
	hub        Closer
	srv        Server
	forceAfter time.Duration
	logger     *zap.Logger

	once     sync.Once
	exitOnce sync.Once
	failed   bool
	code     int
	done     chan struct{}
}

// New creates a Coordinator. forceAfter bounds how long a graceful
// shutdown may take before the process exits with status 1.
func New(link Halter, hub Closer, srv Server, forceAfter time.Duration, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		link:       link,
		hub:        hub,
		srv:        srv,
		forceAfter: forceAfter,
		logger:     logger,
		done:       make(chan struct{}),
	}
}

// Shutdown starts the exit sequence. It returns immediately; use Wait for
// the exit status.
func (c *Coordinator) Shutdown(reason string) {
	c.start(reason, false)
}

// Fail records a fatal fault and shuts down with exit status 1. A fault
// reported after shutdown has begun is only logged.
func (c *Coordinator) Fail(err error) {
	c.logger.Error("fatal error", zap.Error(err))
	c.start(err.Error(), true)
}

func (c *Coordinator) start(reason string, failed bool) {
	first := false
	c.once.Do(func() {
		first = true
		c.failed = failed
		c.logger.Info("shutting down", zap.String("reason", reason))

		// Not cancelled: firing after exit is decided is a no-op.
		time.AfterFunc(c.forceAfter, func() {
			if c.exit(1) {
				c.logger.Error("graceful shutdown timed out, forcing exit",
					zap.Duration("after", c.forceAfter),
				)
			}
		})

		go c.drain()
	})
	if !first {
		c.logger.Debug("shutdown already in progress", zap.String("reason", reason))
	}
}

// Go runs fn on its own goroutine. A panic in fn is logged and turned into
// a failed shutdown instead of crashing the process.
func (c *Coordinator) Go(name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("goroutine panicked",
					zap.String("goroutine", name),
					zap.Any("panic", r),
					zap.ByteString("stack", debug.Stack()),
				)
				c.Fail(fmt.Errorf("%s panicked: %v", name, r))
			}
		}()
		fn()
	}()
}

// Wait blocks until the exit status is decided and returns it.
func (c *Coordinator) Wait() int {
	<-c.done
	return c.code
}

// Done is closed once the exit status is decided.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

func (c *Coordinator) drain() {
	c.link.Halt()
	c.hub.Close()

	if err := c.srv.Shutdown(context.Background()); err != nil {
		c.logger.Error("listener shutdown error", zap.Error(err))
		c.exit(1)
		return
	}

	c.logger.Info("listener closed")
	if c.failed {
		c.exit(1)
		return
	}
	c.exit(0)
}

// exit decides the exit status. It reports whether this call decided it.
func (c *Coordinator) exit(code int) bool {
	decided := false
	c.exitOnce.Do(func() {
		decided = true
		c.code = code
		close(c.done)
	})
	return decided
}
