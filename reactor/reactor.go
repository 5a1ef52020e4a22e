// File: reactor/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral reactor context: registration bookkeeping, the select
// deadline loop, and lifecycle. Backends plug in through eventSource.

package reactor

import (
	"fmt"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/momentics/hioload-iocore/api"
	"github.com/momentics/hioload-iocore/control"
	"github.com/sirupsen/logrus"
)

// Context is one reactor instance. It must be driven by a single goroutine;
// independent contexts may run on separate goroutines.
type Context struct {
	id      uuid.UUID
	cfg     control.Config
	table   *table
	src     eventSource
	log     *logrus.Entry
	metrics *control.Metrics
	probes  *control.DebugProbes
	closed  bool
}

var _ api.Reactor = (*Context)(nil)

// New creates a context with the backend selected by cfg.
func New(cfg control.Config) (*Context, error) {
	c, err := newContext(cfg)
	if err != nil {
		return nil, err
	}
	src, err := newPlatformSource(c.env())
	if err != nil {
		c.metrics.Unregister(c.cfg.Registerer)
		return nil, err
	}
	c.attachSource(src)
	return c, nil
}

func newContext(cfg control.Config) (*Context, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	id := uuid.New()
	c := &Context{
		id:      id,
		cfg:     cfg,
		table:   newTable(cfg.TableSizeHint),
		log:     control.NewLogger(cfg.Logger, "iocore").WithField("context", id.String()),
		metrics: control.NewMetrics(cfg.Registerer, id.String()),
		probes:  control.NewDebugProbes(),
	}
	return c, nil
}

func (c *Context) env() sourceEnv {
	return sourceEnv{cfg: c.cfg, table: c.table, log: c.log, metrics: c.metrics}
}

func (c *Context) attachSource(src eventSource) {
	c.src = src
	c.log = c.log.WithField("backend", src.name())
	c.registerProbes()
	c.log.Debug("context initialized")
}

func (c *Context) registerProbes() {
	control.RegisterPlatformProbes(c.probes)
	c.probes.RegisterProbe("backend", func() any { return c.src.name() })
	c.probes.RegisterProbe("entries", func() any { return c.table.len() })
	c.probes.RegisterProbe("listeners", func() any { return c.table.listeners() })
	c.probes.RegisterProbe("accept_inflight", func() any {
		n := 0
		c.table.each(func(e *entry) { n += e.pendingAccepts() })
		return n
	})
}

func (c *Context) usable() error {
	if c == nil || c.closed || c.src == nil {
		return api.ErrInvalidContext
	}
	return nil
}

// ID identifies the context in logs and metric labels.
func (c *Context) ID() string {
	if c == nil {
		return ""
	}
	return c.id.String()
}

// Backend names the active backend.
func (c *Context) Backend() string {
	if c.usable() != nil {
		return ""
	}
	return c.src.name()
}

// Metrics exposes the context collectors.
func (c *Context) Metrics() *control.Metrics {
	if c == nil {
		return nil
	}
	return c.metrics
}

// DumpState runs the debug probes. Call it from the goroutine driving Select.
func (c *Context) DumpState() map[string]any {
	if c.usable() != nil {
		return nil
	}
	return c.probes.DumpState()
}

// AcceptPoolDepth reports how many accepts are in flight for the listening
// handle h. ok is false when h is not a registered listening handle.
func (c *Context) AcceptPoolDepth(h api.Handle) (int, bool) {
	if c.usable() != nil {
		return 0, false
	}
	e, slot, ok := c.table.lookup(h)
	if !ok || slot != noSlot || e.role != roleListening {
		return 0, false
	}
	return e.pendingAccepts(), true
}

// Register arms read monitoring on h. Registering an active handle again
// only arms what is missing; a deactivated entry is re-armed in place.
func (c *Context) Register(h api.Handle) error {
	if err := c.usable(); err != nil {
		return err
	}
	if h < 0 {
		return fmt.Errorf("register %d: %w", h, api.ErrInvalidHandle)
	}
	e, slot, ok := c.table.lookup(h)
	if ok {
		if slot != noSlot {
			return fmt.Errorf("register %d: %w", h, api.ErrPoolHandle)
		}
		if e.active {
			if e.role == roleListening {
				return nil
			}
			// Arms a receive that was skipped, e.g. not connected yet.
			if err := c.src.attach(e); err != nil {
				return fmt.Errorf("register %d: %w", h, err)
			}
			return nil
		}
		if e.role == roleListening {
			// Drop the listener state before reusing the entry as a client.
			c.src.detach(e)
			e.slots = nil
		}
		e.role = roleClient
		e.active = true
		if err := c.src.attach(e); err != nil {
			e.active = false
			return fmt.Errorf("register %d: %w", h, err)
		}
		c.log.WithField("handle", h).Debug("client re-armed")
		return nil
	}

	e = c.table.insert(h, roleClient)
	if err := c.src.attach(e); err != nil {
		c.src.detach(e)
		c.table.remove(e)
		return fmt.Errorf("register %d: %w", h, err)
	}
	c.metrics.SetRegistered(c.table.len())
	c.log.WithField("handle", h).Debug("client registered")
	return nil
}

// RegisterListen arms a listening socket. On the completion backend this
// posts the accept pool; on readiness backends the caller accepts after a
// Read event on h.
func (c *Context) RegisterListen(h api.Handle) error {
	if err := c.usable(); err != nil {
		return err
	}
	if h < 0 {
		return fmt.Errorf("register listen %d: %w", h, api.ErrInvalidHandle)
	}
	e, slot, ok := c.table.lookup(h)
	if ok {
		switch {
		case slot != noSlot:
			return fmt.Errorf("register listen %d: %w", h, api.ErrPoolHandle)
		case e.role != roleListening:
			return fmt.Errorf("register listen %d: %w", h, api.ErrRoleConflict)
		case e.active:
			return nil
		}
		e.active = true
		if err := c.src.attachListener(e); err != nil {
			c.src.detach(e)
			return fmt.Errorf("register listen %d: %w", h, err)
		}
		c.log.WithField("handle", h).Debug("listener re-armed")
		return nil
	}

	e = c.table.insert(h, roleListening)
	if err := c.src.attachListener(e); err != nil {
		c.src.detach(e)
		c.table.remove(e)
		return fmt.Errorf("register listen %d: %w", h, err)
	}
	c.metrics.SetRegistered(c.table.len())
	c.log.WithFields(logrus.Fields{"handle": h, "pool": len(e.slots)}).Debug("listener registered")
	return nil
}

// Unregister cancels pending operations on h and frees its entry. Unknown
// handles and accept-pool sockets are ignored.
func (c *Context) Unregister(h api.Handle) error {
	if err := c.usable(); err != nil {
		return err
	}
	e, slot, ok := c.table.lookup(h)
	if !ok || slot != noSlot {
		return nil
	}
	c.free(e)
	return nil
}

// Detach behaves like Unregister for top-level handles. For an accept-pool
// socket it cancels the accept, closes the socket and re-arms the slot.
func (c *Context) Detach(h api.Handle) error {
	if err := c.usable(); err != nil {
		return err
	}
	e, slot, ok := c.table.lookup(h)
	if !ok {
		return nil
	}
	if slot != noSlot {
		c.src.detachSlot(e, slot)
		c.log.WithFields(logrus.Fields{"handle": h, "listener": e.handle, "slot": slot}).Debug("accept slot recycled")
		return nil
	}
	c.free(e)
	return nil
}

func (c *Context) free(e *entry) {
	c.src.detach(e)
	c.table.remove(e)
	c.metrics.SetRegistered(c.table.len())
	c.log.WithFields(logrus.Fields{"handle": e.handle, "role": e.role}).Debug("unregistered")
}

// Select waits up to timeoutMs milliseconds (negative: indefinitely) and
// fills out with at most api.MaxEvents records in discovery order. It never
// returns an empty batch before the deadline.
func (c *Context) Select(timeoutMs int, out *api.EventBatch) (int, error) {
	if err := c.usable(); err != nil {
		return -1, err
	}
	if out == nil {
		return -1, fmt.Errorf("select: %w: nil batch", api.ErrInvalidArgument)
	}
	out.Reset()

	if c.table.len() == 0 {
		if timeoutMs > 0 {
			time.Sleep(time.Duration(timeoutMs) * time.Millisecond)
		} else {
			runtime.Gosched()
		}
		c.metrics.ObserveBatch(nil)
		return 0, nil
	}

	infinite := timeoutMs < 0
	deadline := time.Now().Add(time.Duration(timeoutMs) * time.Millisecond)
	// Notifications that were all dropped as stale do not end the wait.
	for {
		wait := time.Duration(-1)
		if !infinite {
			wait = time.Until(deadline)
			if wait < 0 {
				wait = 0
			}
		}
		if _, err := c.src.wait(out, wait); err != nil {
			c.metrics.ObserveBatch(out.Slice())
			return int(out.Count), err
		}
		if out.Count > 0 || (!infinite && !time.Now().Before(deadline)) {
			break
		}
	}
	c.metrics.ObserveBatch(out.Slice())
	return int(out.Count), nil
}

// Close cancels every registration, closes reactor-owned sockets and
// releases the backend. Closing a nil or closed context returns
// api.ErrInvalidContext.
func (c *Context) Close() error {
	if err := c.usable(); err != nil {
		return err
	}
	c.closed = true
	err := c.src.close()
	c.metrics.SetRegistered(0)
	c.metrics.Unregister(c.cfg.Registerer)
	c.log.Debug("context closed")
	if err != nil {
		return fmt.Errorf("close backend: %w", err)
	}
	return nil
}
