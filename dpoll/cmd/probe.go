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

package cmd

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/subcommands"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
	"gvisor.dev/dpoll/dpoll/config"
	"gvisor.dev/dpoll/pkg/reactor"
	"gvisor.dev/dpoll/pkg/waiter"
)

// Probe implements subcommands.Command for the "probe" command.
type Probe struct {
	conns    int
	messages int
	size     int
	timeout  time.Duration
}

// Name implements subcommands.Command.Name.
func (*Probe) Name() string {
	return "probe"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Probe) Synopsis() string {
	return "exercise an echo server and report throughput"
}

// Usage implements subcommands.Command.Usage.
func (*Probe) Usage() string {
	return `probe [flags] [<host:port>] - connects to the echo server (default --addr),
sends messages on every connection and verifies each reply.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (p *Probe) SetFlags(f *flag.FlagSet) {
	f.IntVar(&p.conns, "conns", 8, "number of concurrent connections.")
	f.IntVar(&p.messages, "messages", 100, "number of messages sent on each connection.")
	f.IntVar(&p.size, "size", 1024, "message size in bytes.")
	f.DurationVar(&p.timeout, "timeout", 30*time.Second, "overall deadline, including connection retries.")
}

// Execute implements subcommands.Command.Execute.
func (p *Probe) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() > 1 || p.conns < 1 || p.messages < 0 || p.size < 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	addr := conf.Addr
	if f.NArg() == 1 {
		addr = f.Arg(0)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var echoed atomic.Uint64
	start := time.Now()
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.conns; i++ {
		g.Go(func() error {
			n, err := probeConn(ctx, addr, p.messages, p.size, conf.Backend)
			echoed.Add(n)
			if err != nil {
				return fmt.Errorf("connection %d: %w", i, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		Fatalf("probe of %s failed after %d bytes: %v", addr, echoed.Load(), err)
	}
	elapsed := time.Since(start)

	total := echoed.Load()
	fmt.Fprintf(os.Stdout, "%d connection(s) x %d message(s) of %d bytes: %d bytes echoed in %v (%.2f MiB/s)\n",
		p.conns, p.messages, p.size, total, elapsed.Round(time.Millisecond), float64(total)/(1<<20)/elapsed.Seconds())
	return subcommands.ExitSuccess
}

// probeConn connects to addr, retrying with exponential backoff while the
// server is not accepting, then sends messages and checks that each one is
// echoed unchanged. It returns the number of bytes echoed.
func probeConn(ctx context.Context, addr string, messages, size int, be reactor.Backend) (uint64, error) {
	sa, domain, err := reactor.ResolveTCP(addr)
	if err != nil {
		return 0, err
	}
	r, err := reactor.Open(reactor.WithBackend(be))
	if err != nil {
		return 0, err
	}
	defer r.Close()

	var d *reactor.Descriptor
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	dial := func() error {
		var err error
		d, err = connect(ctx, r, sa, domain)
		return err
	}
	if err := backoff.Retry(dial, backoff.WithContext(b, ctx)); err != nil {
		return 0, fmt.Errorf("connecting to %s: %w", addr, err)
	}
	defer d.Close()

	var echoed uint64
	msg := make([]byte, size)
	reply := make([]byte, size)
	for i := 0; i < messages; i++ {
		for j := range msg {
			msg[j] = byte(i + j)
		}
		if err := writeFull(ctx, r, d, msg); err != nil {
			return echoed, err
		}
		if err := readFull(ctx, r, d, reply); err != nil {
			return echoed, err
		}
		if !bytes.Equal(msg, reply) {
			return echoed, fmt.Errorf("message %d: reply differs from request", i)
		}
		echoed += uint64(size)
	}
	return echoed, nil
}

// connect performs a non-blocking connect, waiting on r for completion.
func connect(ctx context.Context, r *reactor.Context, sa unix.Sockaddr, domain int) (*reactor.Descriptor, error) {
	d, err := reactor.Socket(domain, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, err
	}
	err = d.Connect(sa)
	if errors.Is(err, reactor.ErrInProgress) {
		if err = waitFor(ctx, r, d, waiter.EventOut); err == nil {
			err = d.ConnectResult()
		}
	}
	if err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

// waitFor blocks until d reports one of mask on r, then unregisters it.
func waitFor(ctx context.Context, r *reactor.Context, d *reactor.Descriptor, mask waiter.EventMask) error {
	fired := false
	if _, err := r.Register(d, mask, reactor.HandlerFunc(func(*reactor.Descriptor, waiter.EventMask) error {
		fired = true
		return nil
	})); err != nil {
		return err
	}
	defer r.Unregister(d)
	for !fired {
		batch, err := r.Wait(ctx, -1)
		if err != nil {
			return err
		}
		if err := r.Dispatch(batch); err != nil {
			return err
		}
	}
	return nil
}

func writeFull(ctx context.Context, r *reactor.Context, d *reactor.Descriptor, buf []byte) error {
	for len(buf) > 0 {
		n, err := d.Write(buf)
		buf = buf[n:]
		switch {
		case errors.Is(err, reactor.ErrWouldBlock):
			if err := waitFor(ctx, r, d, waiter.EventOut); err != nil {
				return err
			}
		case err != nil:
			return err
		}
	}
	return nil
}

func readFull(ctx context.Context, r *reactor.Context, d *reactor.Descriptor, buf []byte) error {
	for len(buf) > 0 {
		n, err := d.Read(buf)
		buf = buf[n:]
		switch {
		case errors.Is(err, reactor.ErrWouldBlock):
			if err := waitFor(ctx, r, d, waiter.EventIn|waiter.EventRdHUp); err != nil {
				return err
			}
		case err == io.EOF:
			return io.ErrUnexpectedEOF
		case err != nil:
			return err
		}
	}
	return nil
}
