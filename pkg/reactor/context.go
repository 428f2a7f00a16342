// Copyright 2026 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package reactor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
	derrors "gvisor.dev/dpoll/pkg/errors"
	"gvisor.dev/dpoll/pkg/log"
	"gvisor.dev/dpoll/pkg/waiter"
)

// Context is a polling instance and the set of descriptors registered with
// it.
type Context struct {
	backend backend
	opts    options

	// epoch identifies the current Batch. It is incremented by every Wait
	// and by Close.
	epoch atomic.Uint64

	// warn reports dropped events and handler failures.
	warn log.Logger

	stats struct {
		waits         atomic.Uint64
		events        atomic.Uint64
		stale         atomic.Uint64
		suppressed    atomic.Uint64
		failures      atomic.Uint64
		cancellations atomic.Uint64
		interrupts    atomic.Uint64
	}

	// ready and events are reused across waits. They are only used by the
	// goroutine running Wait and Dispatch.
	ready  []readyEvent
	events []Event

	// mu protects the fields below and the owner/reg fields of registered
	// descriptors.
	mu      sync.Mutex
	table   table
	closed  bool
	waiting bool

	// idle is signalled when waiting becomes false.
	idle sync.Cond
}

// Open creates a Context.
//
// It fails with ErrResourceExhausted if the kernel refuses to create the
// polling instance, and with ErrNotSupported if the options ask for
// something the selected backend cannot do.
func Open(opts ...Option) (*Context, error) {
	o := options{
		backend:   BackendEpoll,
		maxEvents: DefaultMaxEvents,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.maxEvents < 1 {
		o.maxEvents = DefaultMaxEvents
	}

	var (
		be  backend
		err error
	)
	switch o.backend {
	case BackendEpoll:
		be, err = newEpollBackend(o.maxEvents, o.sigmask)
	case BackendPoll:
		be, err = newPollBackend(o.sigmask)
	default:
		return nil, fmt.Errorf("backend %v: %w", o.backend, ErrNotSupported)
	}
	if err != nil {
		return nil, FromHost(err)
	}
	if o.edgeTriggered && !be.edgeTriggered() {
		be.close()
		return nil, fmt.Errorf("edge-triggered registrations with %v backend: %w", o.backend, ErrNotSupported)
	}

	log.Debugf("reactor: opened %v context (edge-triggered: %t, max events: %d)", o.backend, o.edgeTriggered, o.maxEvents)
	return newContext(be, o), nil
}

func newContext(be backend, o options) *Context {
	c := &Context{
		backend: be,
		opts:    o,
		warn:    log.BasicRateLimitedLogger(time.Second),
		ready:   make([]readyEvent, o.maxEvents),
		events:  make([]Event, 0, o.maxEvents),
	}
	c.idle.L = &c.mu
	return c
}

// Backend returns the polling mechanism in use.
func (c *Context) Backend() Backend {
	return c.opts.backend
}

// EdgeTriggered reports whether registrations are edge-triggered.
func (c *Context) EdgeTriggered() bool {
	return c.opts.edgeTriggered
}

func (c *Context) kernelEvents(interest waiter.EventMask) uint32 {
	ev := interest.ToLinux()
	if c.opts.edgeTriggered {
		ev |= unix.EPOLLET
	}
	return ev
}

// Register implements Reactor.Register.
//
// interest must be a non-empty combination of waiter events
// (ErrInvalidInterest otherwise). d must be open and not registered with
// another Context (ErrInvalidDescriptor otherwise). Registering a descriptor
// that is already registered with c replaces its interest and handler; the
// change applies from the next Wait.
func (c *Context) Register(d *Descriptor, interest waiter.EventMask, h Handler) (*Registration, error) {
	if h == nil {
		panic("reactor: nil handler")
	}
	if !interest.Valid() {
		return nil, ErrInvalidInterest
	}
	if d == nil {
		return nil, ErrInvalidDescriptor
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrInvalidDescriptor
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed.Load() {
		return nil, ErrInvalidDescriptor
	}

	events := c.kernelEvents(interest)
	switch d.owner {
	case c:
		r := d.reg
		if err := c.backend.modify(d.num, r.tok, events); err != nil {
			return nil, FromHost(err)
		}
		r.interest = interest
		r.handler = h
		if log.IsLogging(log.Debug) {
			log.Debugf("reactor: modified %v interest %v", d, interest)
		}
	case nil:
		r := &registration{d: d, interest: interest, handler: h}
		r.tok = c.table.insert(r)
		if err := c.backend.add(d.num, r.tok, events); err != nil {
			c.table.remove(r.tok)
			return nil, FromHost(err)
		}
		d.owner = c
		d.reg = r
		d.strict.Store(c.opts.strict)
		if log.IsLogging(log.Debug) {
			log.Debugf("reactor: registered %v interest %v token %d/%d", d, interest, r.tok.index, r.tok.gen)
		}
	default:
		return nil, fmt.Errorf("%v is registered with another context: %w", d, ErrInvalidDescriptor)
	}
	return &Registration{Descriptor: d, Interest: interest, Handler: h}, nil
}

// Unregister implements Reactor.Unregister.
//
// Unregistering a descriptor that is not registered is a no-op. A closed
// descriptor, or one registered with another Context, yields
// ErrInvalidDescriptor. Events already collected by Wait are still
// dispatched.
func (c *Context) Unregister(d *Descriptor) error {
	if d == nil {
		return ErrInvalidDescriptor
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrInvalidDescriptor
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed.Load() {
		return ErrInvalidDescriptor
	}
	switch d.owner {
	case nil:
		return nil
	case c:
		return FromHost(c.detachLocked(d))
	default:
		return fmt.Errorf("%v is registered with another context: %w", d, ErrInvalidDescriptor)
	}
}

// detachLocked removes d's registration and retires its token.
//
// Preconditions: c.mu and d.mu are locked; d.owner == c.
func (c *Context) detachLocked(d *Descriptor) error {
	r := d.reg
	var err error
	if !c.closed {
		err = c.backend.remove(d.num)
	}
	c.table.remove(r.tok)
	d.owner = nil
	d.reg = nil
	if log.IsLogging(log.Debug) {
		log.Debugf("reactor: unregistered %v token %d/%d", d, r.tok.index, r.tok.gen)
	}
	return err
}

// Registered returns a snapshot of d's registration with c.
func (c *Context) Registered(d *Descriptor) (*Registration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.owner != c || d.reg == nil {
		return nil, false
	}
	return &Registration{Descriptor: d, Interest: d.reg.interest, Handler: d.reg.handler}, true
}

// Len returns the number of registered descriptors.
func (c *Context) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.table.live
}

// timeoutMillis converts a Wait timeout to the millisecond argument of the
// polling system calls, rounding up so that a short positive timeout does not
// turn into a non-blocking poll.
func timeoutMillis(timeout time.Duration) int {
	switch {
	case timeout < 0:
		return -1
	case timeout == 0:
		return 0
	}
	ms := (timeout + time.Millisecond - 1) / time.Millisecond
	if ms > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(ms)
}

// Wait implements Reactor.Wait.
//
// The returned Batch is valid until the next Wait or Close. A timeout, a
// Wake or an interrupted system call with no events yields an empty batch and
// a nil error. If ctx is done before or during the wait, Wait returns an
// empty batch and an error matching ErrCancelled and ctx.Err().
func (c *Context) Wait(ctx context.Context, timeout time.Duration) (*Batch, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return &Batch{}, ErrInvalidDescriptor
	}
	if c.waiting {
		c.mu.Unlock()
		return &Batch{}, c.violation("concurrent wait")
	}
	c.waiting = true
	b := &Batch{c: c, epoch: c.epoch.Add(1), events: c.events[:0]}
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.waiting = false
		c.idle.Broadcast()
		c.mu.Unlock()
	}()

	c.stats.waits.Add(1)
	if err := ctx.Err(); err != nil {
		return b, c.cancelled(err)
	}
	if ctx.Done() != nil {
		stop := context.AfterFunc(ctx, func() {
			if err := c.backend.wake(); err != nil {
				log.Warningf("reactor: failed to wake on cancellation: %v", err)
			}
		})
		defer stop()
	}

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	msec := timeoutMillis(timeout)
	for {
		n, woken, err := c.backend.wait(c.ready, msec)
		if err == unix.EINTR {
			c.stats.interrupts.Add(1)
			if err := ctx.Err(); err != nil {
				return b, c.cancelled(err)
			}
			if timeout > 0 {
				remaining := time.Until(deadline)
				if remaining <= 0 {
					return b, nil
				}
				msec = timeoutMillis(remaining)
			}
			continue
		}
		if err != nil {
			return b, FromHost(err)
		}

		c.collect(b, c.ready[:n])
		if len(b.events) > 0 {
			c.stats.events.Add(uint64(len(b.events)))
			return b, nil
		}
		if err := ctx.Err(); err != nil {
			return b, c.cancelled(err)
		}
		if woken || n == 0 || timeout == 0 {
			return b, nil
		}

		// Every notification was stale. Keep waiting for whatever time is
		// left.
		if timeout > 0 {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				return b, nil
			}
			msec = timeoutMillis(remaining)
		}
	}
}

// collect resolves ready tokens into events, dropping stale ones.
func (c *Context) collect(b *Batch, ready []readyEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, re := range ready {
		r := c.table.get(re.tok)
		if r == nil {
			c.stats.stale.Add(1)
			c.warn.Warningf("reactor: dropped event %v for stale token %d/%d", waiter.EventMaskFromLinux(re.mask), re.tok.index, re.tok.gen)
			continue
		}
		b.events = append(b.events, Event{
			Descriptor: r.d,
			Ready:      waiter.EventMaskFromLinux(re.mask),
			handler:    r.handler,
		})
	}
	c.events = b.events
}

func (c *Context) cancelled(cause error) error {
	c.stats.cancellations.Add(1)
	return derrors.Wrap(ErrCancelled, cause)
}

// violation reports a contract violation on c.
func (c *Context) violation(op string) error {
	err := &ContractError{Op: op, FD: -1}
	if c.opts.strict {
		panic(err)
	}
	return err
}

// Dispatch implements Reactor.Dispatch.
//
// Every event's handler is called exactly once, in the order returned by
// Wait, with the handler that was registered when Wait ran. Events for
// descriptors closed since Wait are skipped. Handler errors and panics are
// collected as *HandlerError values and returned joined; they do not stop
// the batch.
//
// Handlers may Register, Unregister and Close descriptors; apart from
// closing, these changes are not reflected in the batch being dispatched.
func (c *Context) Dispatch(b *Batch) error {
	if b == nil || b.c != c {
		return c.violation("dispatch of foreign batch")
	}
	if !b.Valid() {
		return c.violation("dispatch of stale batch")
	}

	var errs []error
	for i := 0; i < len(b.events); i++ {
		if !b.Valid() {
			// A handler called Wait or Close.
			errs = append(errs, c.violation("batch invalidated during dispatch"))
			break
		}
		ev := b.events[i]
		if ev.Descriptor.Closed() {
			c.stats.suppressed.Add(1)
			continue
		}
		if err := invoke(ev); err != nil {
			c.stats.failures.Add(1)
			c.warn.Warningf("reactor: %v", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// invoke runs the event's handler, converting a panic into a *HandlerError.
func invoke(ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &HandlerError{
				Descriptor: ev.Descriptor,
				Ready:      ev.Ready,
				Err:        fmt.Errorf("panic: %v", r),
				Panicked:   true,
			}
		}
	}()
	if herr := ev.handler.HandleEvent(ev.Descriptor, ev.Ready); herr != nil {
		return &HandlerError{
			Descriptor: ev.Descriptor,
			Ready:      ev.Ready,
			Err:        herr,
		}
	}
	return nil
}

// Wake implements Reactor.Wake. It may be called from any goroutine. If no
// Wait is in progress, the next Wait returns immediately.
func (c *Context) Wake() error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrInvalidDescriptor
	}
	return FromHost(c.backend.wake())
}

// Stats returns a snapshot of c's counters.
func (c *Context) Stats() Stats {
	return Stats{
		Waits:           c.stats.waits.Load(),
		Events:          c.stats.events.Load(),
		StaleEvents:     c.stats.stale.Load(),
		Suppressed:      c.stats.suppressed.Load(),
		HandlerFailures: c.stats.failures.Load(),
		Cancellations:   c.stats.cancellations.Load(),
		Interrupts:      c.stats.interrupts.Load(),
		Registered:      c.Len(),
	}
}

// Close implements Reactor.Close.
//
// Remaining registrations are removed; their descriptors stay open and are
// again owned by the caller. The current batch is invalidated. Later calls
// on c fail with ErrInvalidDescriptor.
//
// A Wait blocked on another goroutine is woken and returns an empty batch;
// Close waits for it to return before releasing the polling instance.
func (c *Context) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrInvalidDescriptor
	}
	c.table.all(func(r *registration) {
		r.d.mu.Lock()
		defer r.d.mu.Unlock()
		if err := c.detachLocked(r.d); err != nil {
			log.Debugf("reactor: removing %v on close: %v", r.d, err)
		}
	})
	c.closed = true
	c.table = table{}
	c.epoch.Add(1)
	if c.waiting {
		if err := c.backend.wake(); err != nil {
			log.Warningf("reactor: failed to wake waiter on close: %v", err)
		}
		for c.waiting {
			c.idle.Wait()
		}
	}
	log.Debugf("reactor: closed %v context", c.opts.backend)
	return FromHost(c.backend.close())
}
