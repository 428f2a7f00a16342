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

// Package echo implements a multi-loop TCP echo server on top of the
// reactor.
//
// Each loop owns one reactor.Context and runs on its own locked OS thread.
// Loop 0 also owns the listening socket; accepted connections are handed out
// round-robin through a per-loop inbox and a Wake of the receiving loop.
// When the kernel accepts only part of an echoed buffer, the connection
// keeps the remainder, switches its interest to writability and stops
// reading until the remainder is flushed.
package echo

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
	"gvisor.dev/dpoll/pkg/cleanup"
	"gvisor.dev/dpoll/pkg/log"
	"gvisor.dev/dpoll/pkg/reactor"
)

// Config configures a Server.
type Config struct {
	// Addr is the host:port to listen on.
	Addr string

	// Loops is the number of event loops. Defaults to 1.
	Loops int

	// Backlog is the listen(2) backlog. Defaults to 128.
	Backlog int

	// BufferSize is the per-connection read buffer size. Defaults to 16KiB.
	BufferSize int

	// SendBuffer, if positive, sets SO_SNDBUF on accepted connections.
	SendBuffer int

	// WaitTimeout bounds each Wait. Negative blocks until an event, a wakeup
	// or cancellation.
	WaitTimeout time.Duration

	// ReactorOptions are passed to reactor.Open for every loop.
	ReactorOptions []reactor.Option
}

// Stats holds server-wide counters.
type Stats struct {
	Accepted      uint64
	Closed        uint64
	BytesIn       uint64
	BytesOut      uint64
	PartialWrites uint64
}

// Server is an echo server.
type Server struct {
	cfg      Config
	listener *reactor.Descriptor
	addr     string
	loops    []*loop
	next     atomic.Uint32

	accepted      atomic.Uint64
	closed        atomic.Uint64
	bytesIn       atomic.Uint64
	bytesOut      atomic.Uint64
	partialWrites atomic.Uint64
}

// New creates a Server listening on cfg.Addr. Serve must be called to start
// processing connections, and Close to release resources.
func New(cfg Config) (*Server, error) {
	if cfg.Loops < 1 {
		cfg.Loops = 1
	}
	if cfg.Backlog < 1 {
		cfg.Backlog = 128
	}
	if cfg.BufferSize < 1 {
		cfg.BufferSize = 16 << 10
	}

	sa, domain, err := reactor.ResolveTCP(cfg.Addr)
	if err != nil {
		return nil, err
	}
	l, err := reactor.Socket(domain, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, fmt.Errorf("creating listener: %w", err)
	}
	cu := cleanup.Make(func() { l.Close() })
	defer cu.Clean()

	if err := l.SetSockoptInt(unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return nil, fmt.Errorf("setting SO_REUSEADDR: %w", err)
	}
	if err := l.Bind(sa); err != nil {
		return nil, fmt.Errorf("binding %q: %w", cfg.Addr, err)
	}
	if err := l.Listen(cfg.Backlog); err != nil {
		return nil, fmt.Errorf("listening on %q: %w", cfg.Addr, err)
	}
	bound, err := l.Getsockname()
	if err != nil {
		return nil, fmt.Errorf("getsockname: %w", err)
	}

	s := &Server{
		cfg:      cfg,
		listener: l,
		addr:     reactor.SockaddrString(bound),
	}
	for i := 0; i < cfg.Loops; i++ {
		r, err := reactor.Open(cfg.ReactorOptions...)
		if err != nil {
			return nil, fmt.Errorf("opening reactor for loop %d: %w", i, err)
		}
		cu.Add(func() { r.Close() })
		s.loops = append(s.loops, newLoop(i, s, r))
	}

	cu.Release()
	log.Infof("echo: listening on %s with %d loop(s)", s.addr, len(s.loops))
	return s, nil
}

// Addr returns the address the server is bound to.
func (s *Server) Addr() string {
	return s.addr
}

// Serve runs the event loops until ctx is cancelled or a loop fails. It
// returns nil after a cancellation.
func (s *Server) Serve(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, l := range s.loops {
		g.Go(func() error {
			runtime.LockOSThread()
			defer runtime.UnlockOSThread()
			return l.run(gctx)
		})
	}
	err := g.Wait()
	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// Close releases the listener and the loops' reactors. It must not be
// called while Serve is running.
func (s *Server) Close() error {
	var errs []error
	for _, l := range s.loops {
		l.dropInbox()
		if err := l.r.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.listener.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Stats returns a snapshot of the server counters.
func (s *Server) Stats() Stats {
	return Stats{
		Accepted:      s.accepted.Load(),
		Closed:        s.closed.Load(),
		BytesIn:       s.bytesIn.Load(),
		BytesOut:      s.bytesOut.Load(),
		PartialWrites: s.partialWrites.Load(),
	}
}

// LoopStats returns the reactor statistics of every loop, indexed by loop.
func (s *Server) LoopStats() []reactor.Stats {
	stats := make([]reactor.Stats, len(s.loops))
	for i, l := range s.loops {
		stats[i] = l.r.Stats()
	}
	return stats
}

// handOff passes an accepted connection to the next loop.
func (s *Server) handOff(d *reactor.Descriptor) {
	l := s.loops[int(s.next.Add(1)-1)%len(s.loops)]
	l.deliver(d)
}

// handlerErrors splits a Dispatch error into its handler failures.
func handlerErrors(err error) []*reactor.HandlerError {
	var out []*reactor.HandlerError
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			var he *reactor.HandlerError
			if errors.As(e, &he) {
				out = append(out, he)
			}
		}
	}
	return out
}
