// Package lifecycle implements the server lifecycle coordinator (spec.md
// §4.6, component C6): a timeout-driven idle shutdown that arms on
// startup and on the last client disconnecting, and cancels on any new
// connection, plus the three-step ordered shutdown the aiohttp reference
// performs in _stop_server (disconnect clients -> stop serving -> resolve
// the blocking start() call).
package lifecycle

import (
	"context"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/stepherg/wslink/internal/transport"
)

// Handle cancels a scheduled callback.
type Handle interface {
	Cancel()
}

// Timer schedules a one-shot delayed callback. StdTimer is the only
// implementation; it exists as an interface so tests can substitute a
// fake clock without a real sleep.
type Timer interface {
	Schedule(delay time.Duration, fn func()) Handle
}

// StdTimer schedules callbacks with time.AfterFunc.
//
// No library in the example pack models a bare cancelable one-shot
// delayed callback: the nearest pack candidate, a recurring cron-style
// job scheduler, is a mismatched abstraction for a single idle-shutdown
// alarm, so this stays on the standard library.
type StdTimer struct{}

type stdHandle struct{ t *time.Timer }

func (h stdHandle) Cancel() { h.t.Stop() }

// Schedule implements Timer.
func (StdTimer) Schedule(delay time.Duration, fn func()) Handle {
	return stdHandle{t: time.AfterFunc(delay, fn)}
}

// Disconnector is the subset of *handler.Handler the coordinator
// needs at shutdown.
type Disconnector interface {
	DisconnectAll(code int, reason string)
}

// Coordinator owns the idle-shutdown timer and the ordered stop sequence
// for one HTTP server.
type Coordinator struct {
	timer   Timer
	timeout time.Duration

	mu      sync.Mutex
	pending Handle

	handlers  []Disconnector
	srv       *http.Server
	done      chan struct{}
	closeOnce sync.Once
}

// New builds a Coordinator that shuts srv down after timeout of no
// connected clients, disconnecting every handler's sessions first.
func New(srv *http.Server, timeout time.Duration, handlers ...Disconnector) *Coordinator {
	return &Coordinator{
		timer:    StdTimer{},
		timeout:  timeout,
		handlers: handlers,
		srv:      srv,
		done:     make(chan struct{}),
	}
}

// Start logs the startup line, arms the initial idle timer, begins
// serving, and blocks until Stop closes c.done or the listener fails —
// mirroring the Python server's `await running` future. A listener error
// is returned; it does not close c.done.
func (c *Coordinator) Start() error {
	log.Print("wslink: Starting factory")

	c.arm()

	errCh := make(chan error, 1)
	go func() {
		if err := c.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-c.done:
		return nil
	}
}

// NotifyConnect cancels any pending idle-shutdown timer (spec.md §4.6:
// "on each client connect, cancel the pending shutdown timer").
func (c *Coordinator) NotifyConnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending != nil {
		c.pending.Cancel()
		c.pending = nil
	}
}

// NotifyDisconnect re-arms the idle-shutdown timer once the last
// connected session has gone (spec.md §4.6: "on the last client
// disconnecting, re-arm it").
func (c *Coordinator) NotifyDisconnect(remaining int) {
	if remaining > 0 {
		return
	}
	c.arm()
}

func (c *Coordinator) arm() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending != nil {
		c.pending.Cancel()
	}
	c.pending = c.timer.Schedule(c.timeout, func() {
		if err := c.Stop(context.Background()); err != nil {
			log.Printf("wslink: shutdown error: %v", err)
		}
	})
}

// Stop runs the three-step shutdown order: disconnect every session
// (GOING_AWAY), shut down the HTTP server, then unblock Start.
func (c *Coordinator) Stop(ctx context.Context) error {
	log.Print("wslink: shutting down")

	for _, h := range c.handlers {
		h.DisconnectAll(transport.GoingAway, "Server shutdown")
	}

	err := c.srv.Shutdown(ctx)

	c.closeOnce.Do(func() { close(c.done) })
	return err
}
