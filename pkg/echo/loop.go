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

package echo

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"golang.org/x/sys/unix"
	"gvisor.dev/dpoll/pkg/log"
	"gvisor.dev/dpoll/pkg/reactor"
	"gvisor.dev/dpoll/pkg/waiter"
)

// loop is one event loop of a Server.
type loop struct {
	id  int
	srv *Server
	r   *reactor.Context

	// warn reports failed handlers.
	warn log.Logger

	// mu protects inbox.
	mu    sync.Mutex
	inbox []*reactor.Descriptor

	// conns is only accessed by the loop's goroutine.
	conns map[*reactor.Descriptor]*conn
}

func newLoop(id int, srv *Server, r *reactor.Context) *loop {
	return &loop{
		id:    id,
		srv:   srv,
		r:     r,
		warn:  log.BasicRateLimitedLogger(time.Second),
		conns: make(map[*reactor.Descriptor]*conn),
	}
}

// deliver queues an accepted connection for the loop and wakes it.
func (l *loop) deliver(d *reactor.Descriptor) {
	l.mu.Lock()
	l.inbox = append(l.inbox, d)
	l.mu.Unlock()
	if err := l.r.Wake(); err != nil {
		log.Warningf("echo: waking loop %d: %v", l.id, err)
	}
}

// adopt registers the connections waiting in the inbox.
func (l *loop) adopt() {
	l.mu.Lock()
	inbox := l.inbox
	l.inbox = nil
	l.mu.Unlock()

	for _, d := range inbox {
		c := &conn{l: l, d: d, buf: make([]byte, l.srv.cfg.BufferSize)}
		if _, err := l.r.Register(d, waiter.EventIn|waiter.EventRdHUp, c); err != nil {
			log.Warningf("echo: loop %d: registering %v: %v", l.id, d, err)
			d.Close()
			l.srv.closed.Add(1)
			continue
		}
		l.conns[d] = c
	}
}

func (l *loop) run(ctx context.Context) error {
	if l.id == 0 {
		if _, err := l.r.Register(l.srv.listener, waiter.EventIn, reactor.HandlerFunc(l.accept)); err != nil {
			return err
		}
		defer l.r.Unregister(l.srv.listener)
	}
	defer l.shutdown()

	log.Debugf("echo: loop %d running", l.id)
	for {
		b, err := l.r.Wait(ctx, l.srv.cfg.WaitTimeout)
		if errors.Is(err, reactor.ErrCancelled) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := l.r.Dispatch(b); err != nil {
			for _, he := range handlerErrors(err) {
				l.warn.Warningf("echo: loop %d: %v", l.id, he)
				if c, ok := l.conns[he.Descriptor]; ok {
					c.close()
				}
			}
		}
		l.adopt()
	}
}

// shutdown closes every connection owned by the loop, including those still
// in the inbox.
func (l *loop) shutdown() {
	for _, c := range l.conns {
		c.close()
	}
	l.dropInbox()
	log.Debugf("echo: loop %d stopped", l.id)
}

// dropInbox closes connections that were handed to the loop but never
// adopted.
func (l *loop) dropInbox() {
	l.mu.Lock()
	inbox := l.inbox
	l.inbox = nil
	l.mu.Unlock()
	for _, d := range inbox {
		d.Close()
		l.srv.closed.Add(1)
	}
}

// accept drains the listen queue. Draining is required for edge-triggered
// registrations and harmless otherwise.
func (l *loop) accept(d *reactor.Descriptor, _ waiter.EventMask) error {
	for {
		nd, _, err := d.Accept()
		switch {
		case errors.Is(err, reactor.ErrWouldBlock):
			return nil
		case errors.Is(err, unix.ECONNABORTED):
			continue
		case errors.Is(err, reactor.ErrResourceExhausted):
			// Leave the connection queued until descriptors are freed.
			l.warn.Warningf("echo: accept: %v", err)
			return nil
		case err != nil:
			return err
		}
		if err := nd.SetSockoptInt(unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); err != nil {
			log.Debugf("echo: setting TCP_NODELAY on %v: %v", nd, err)
		}
		if sz := l.srv.cfg.SendBuffer; sz > 0 {
			if err := nd.SetSockoptInt(unix.SOL_SOCKET, unix.SO_SNDBUF, sz); err != nil {
				log.Debugf("echo: setting SO_SNDBUF on %v: %v", nd, err)
			}
		}
		l.srv.accepted.Add(1)
		l.srv.handOff(nd)
	}
}

// conn is an echoed connection.
type conn struct {
	l   *loop
	d   *reactor.Descriptor
	buf []byte

	// pending holds bytes read but not yet written back. While non-empty,
	// the connection is registered for writability only.
	pending []byte
}

// HandleEvent implements reactor.Handler.HandleEvent.
func (c *conn) HandleEvent(d *reactor.Descriptor, ready waiter.EventMask) error {
	if len(c.pending) > 0 {
		if ready.Failed() {
			c.close()
			return nil
		}
		done, err := c.flush()
		if err != nil || !done {
			return err
		}
		// Fall through to reading: with edge-triggered registrations, data
		// that arrived while flushing is not announced again.
	}
	return c.echo()
}

// echo reads and writes back until the socket would block, a write is
// partial, or (level-triggered) after one round.
func (c *conn) echo() error {
	for {
		n, err := c.d.Read(c.buf)
		switch {
		case errors.Is(err, reactor.ErrWouldBlock):
			return nil
		case err == io.EOF, errors.Is(err, unix.ECONNRESET):
			c.close()
			return nil
		case err != nil:
			return err
		}
		c.l.srv.bytesIn.Add(uint64(n))

		w, err := c.d.Write(c.buf[:n])
		if err != nil && !errors.Is(err, reactor.ErrWouldBlock) {
			if errors.Is(err, unix.EPIPE) || errors.Is(err, unix.ECONNRESET) {
				c.close()
				return nil
			}
			return err
		}
		c.l.srv.bytesOut.Add(uint64(w))
		if w < n {
			c.pending = append(c.pending[:0], c.buf[w:n]...)
			c.l.srv.partialWrites.Add(1)
			_, err := c.l.r.Register(c.d, waiter.EventOut, c)
			return err
		}
		if !c.l.r.EdgeTriggered() {
			return nil
		}
	}
}

// flush writes pending bytes. It reports whether everything was written, in
// which case the connection is registered for reading again.
func (c *conn) flush() (bool, error) {
	w, err := c.d.Write(c.pending)
	if err != nil && !errors.Is(err, reactor.ErrWouldBlock) {
		if errors.Is(err, unix.EPIPE) || errors.Is(err, unix.ECONNRESET) {
			c.close()
			return false, nil
		}
		return false, err
	}
	c.l.srv.bytesOut.Add(uint64(w))
	c.pending = c.pending[w:]
	if len(c.pending) > 0 {
		return false, nil
	}
	c.pending = nil
	if _, err := c.l.r.Register(c.d, waiter.EventIn|waiter.EventRdHUp, c); err != nil {
		return false, err
	}
	return true, nil
}

func (c *conn) close() {
	if c.d.Closed() {
		return
	}
	if err := c.l.r.Unregister(c.d); err != nil {
		log.Debugf("echo: unregistering %v: %v", c.d, err)
	}
	if err := c.d.Close(); err != nil {
		log.Debugf("echo: closing %v: %v", c.d, err)
	}
	delete(c.l.conns, c.d)
	c.l.srv.closed.Add(1)
}
