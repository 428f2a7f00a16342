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
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/sys/unix"
	"gvisor.dev/dpoll/pkg/waiter"
)

var backends = []struct {
	name string
	opts []Option
}{
	{"epoll", nil},
	{"poll", []Option{WithBackend(BackendPoll)}},
}

// forEachBackend runs fn once per backend.
func forEachBackend(t *testing.T, fn func(t *testing.T, opts ...Option)) {
	for _, b := range backends {
		t.Run(b.name, func(t *testing.T) {
			fn(t, b.opts...)
		})
	}
}

func openContext(t *testing.T, opts ...Option) *Context {
	t.Helper()
	c, err := Open(opts...)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func pair(t *testing.T) (*Descriptor, *Descriptor) {
	t.Helper()
	a, b, err := Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		t.Fatalf("Socketpair() failed: %v", err)
	}
	t.Cleanup(func() {
		for _, d := range []*Descriptor{a, b} {
			if !d.Closed() {
				d.Close()
			}
		}
	})
	return a, b
}

func write(t *testing.T, d *Descriptor, data string) {
	t.Helper()
	if n, err := d.Write([]byte(data)); err != nil || n != len(data) {
		t.Fatalf("Write(%q) = %d, %v; want %d, nil", data, n, err, len(data))
	}
}

func wait(t *testing.T, c *Context, timeout time.Duration) *Batch {
	t.Helper()
	b, err := c.Wait(context.Background(), timeout)
	if err != nil {
		t.Fatalf("Wait(%v) failed: %v", timeout, err)
	}
	return b
}

var nop = HandlerFunc(func(*Descriptor, waiter.EventMask) error { return nil })

func TestReadableAfterWrite(t *testing.T) {
	forEachBackend(t, func(t *testing.T, opts ...Option) {
		c := openContext(t, opts...)
		a, peer := pair(t)
		if _, err := c.Register(a, waiter.EventIn, nop); err != nil {
			t.Fatalf("Register() failed: %v", err)
		}
		write(t, peer, "0123456789")

		b := wait(t, c, time.Second)
		if b.Len() != 1 {
			t.Fatalf("Wait(): got %d events, want 1", b.Len())
		}
		ev := b.At(0)
		if ev.Descriptor != a {
			t.Errorf("event descriptor: got %v, want %v", ev.Descriptor, a)
		}
		if !ev.Ready.Readable() {
			t.Errorf("event readiness: got %v, want readable", ev.Ready)
		}
	})
}

func TestLastRegisterWins(t *testing.T) {
	forEachBackend(t, func(t *testing.T, opts ...Option) {
		c := openContext(t, opts...)
		a, peer := pair(t)
		for _, m := range []waiter.EventMask{waiter.EventIn, waiter.EventIn | waiter.EventOut, waiter.EventOut} {
			if _, err := c.Register(a, m, nop); err != nil {
				t.Fatalf("Register(%v) failed: %v", m, err)
			}
		}
		reg, ok := c.Registered(a)
		if !ok {
			t.Fatalf("Registered(): not registered")
		}
		if reg.Interest != waiter.EventOut {
			t.Errorf("Registered().Interest: got %v, want %v", reg.Interest, waiter.EventOut)
		}
		if got := c.Len(); got != 1 {
			t.Errorf("Len(): got %d, want 1", got)
		}

		// a is readable too, but only writability was asked for last.
		write(t, peer, "x")
		b := wait(t, c, time.Second)
		if b.Len() != 1 {
			t.Fatalf("Wait(): got %d events, want 1", b.Len())
		}
		if got := b.At(0).Ready; got != waiter.EventOut {
			t.Errorf("event readiness: got %v, want %v", got, waiter.EventOut)
		}
	})
}

func TestWaitZeroDoesNotBlock(t *testing.T) {
	forEachBackend(t, func(t *testing.T, opts ...Option) {
		c := openContext(t, opts...)
		a, _ := pair(t)
		if _, err := c.Register(a, waiter.EventIn, nop); err != nil {
			t.Fatalf("Register() failed: %v", err)
		}
		start := time.Now()
		b := wait(t, c, 0)
		if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
			t.Errorf("Wait(0) took %v", elapsed)
		}
		if b.Len() != 0 {
			t.Errorf("Wait(0): got %d events, want 0", b.Len())
		}
	})
}

func TestWaitTimeout(t *testing.T) {
	forEachBackend(t, func(t *testing.T, opts ...Option) {
		c := openContext(t, opts...)
		a, _ := pair(t)
		if _, err := c.Register(a, waiter.EventIn, nop); err != nil {
			t.Fatalf("Register() failed: %v", err)
		}
		const timeout = 50 * time.Millisecond
		start := time.Now()
		b := wait(t, c, timeout)
		if elapsed := time.Since(start); elapsed < timeout-5*time.Millisecond {
			t.Errorf("Wait(%v) returned after %v", timeout, elapsed)
		}
		if b.Len() != 0 {
			t.Errorf("Wait(): got %d events, want 0", b.Len())
		}
	})
}

func TestDispatchOrder(t *testing.T) {
	forEachBackend(t, func(t *testing.T, opts ...Option) {
		c := openContext(t, opts...)
		var got []int
		record := HandlerFunc(func(d *Descriptor, _ waiter.EventMask) error {
			got = append(got, d.FD())
			return nil
		})
		for i := 0; i < 5; i++ {
			a, peer := pair(t)
			if _, err := c.Register(a, waiter.EventIn, record); err != nil {
				t.Fatalf("Register() failed: %v", err)
			}
			write(t, peer, "x")
		}

		b := wait(t, c, time.Second)
		var want []int
		for ev := range b.All() {
			want = append(want, ev.Descriptor.FD())
		}
		if len(want) != 5 {
			t.Fatalf("Wait(): got %d events, want 5", len(want))
		}
		if err := c.Dispatch(b); err != nil {
			t.Fatalf("Dispatch() failed: %v", err)
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("dispatch order mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestUnregisterTwice(t *testing.T) {
	forEachBackend(t, func(t *testing.T, opts ...Option) {
		c := openContext(t, opts...)
		a, _ := pair(t)
		if _, err := c.Register(a, waiter.EventIn, nop); err != nil {
			t.Fatalf("Register() failed: %v", err)
		}
		for i := 0; i < 2; i++ {
			if err := c.Unregister(a); err != nil {
				t.Errorf("Unregister() #%d: got %v, want nil", i+1, err)
			}
		}
		if _, ok := c.Registered(a); ok {
			t.Errorf("Registered(): still registered")
		}
		// Never registered at all.
		b, _ := pair(t)
		if err := c.Unregister(b); err != nil {
			t.Errorf("Unregister() of unregistered descriptor: got %v, want nil", err)
		}
	})
}

func TestCloseWhileRegistered(t *testing.T) {
	forEachBackend(t, func(t *testing.T, opts ...Option) {
		c := openContext(t, opts...)
		a, peer := pair(t)
		called := false
		h := HandlerFunc(func(*Descriptor, waiter.EventMask) error {
			called = true
			return nil
		})
		if _, err := c.Register(a, waiter.EventIn, h); err != nil {
			t.Fatalf("Register() failed: %v", err)
		}
		write(t, peer, "x")

		if err := a.Close(); !errors.Is(err, ErrClosedWhileRegistered) {
			t.Fatalf("Close(): got %v, want %v", err, ErrClosedWhileRegistered)
		}
		if got := c.Len(); got != 0 {
			t.Errorf("Len() after Close(): got %d, want 0", got)
		}
		if got := a.FD(); got != -1 {
			t.Errorf("FD() after Close(): got %d, want -1", got)
		}
		if _, err := c.Register(a, waiter.EventIn, h); !errors.Is(err, ErrInvalidDescriptor) {
			t.Errorf("Register() after Close(): got %v, want %v", err, ErrInvalidDescriptor)
		}
		if err := c.Unregister(a); !errors.Is(err, ErrInvalidDescriptor) {
			t.Errorf("Unregister() after Close(): got %v, want %v", err, ErrInvalidDescriptor)
		}
		if _, err := a.Read(make([]byte, 1)); !errors.Is(err, ErrInvalidDescriptor) {
			t.Errorf("Read() after Close(): got %v, want %v", err, ErrInvalidDescriptor)
		}
		if got := a.Readiness(waiter.EventIn); got != waiter.EventNVal {
			t.Errorf("Readiness() after Close(): got %v, want %v", got, waiter.EventNVal)
		}

		b := wait(t, c, 50*time.Millisecond)
		if b.Len() != 0 {
			t.Errorf("Wait() after Close(): got %d events, want 0", b.Len())
		}
		if err := c.Dispatch(b); err != nil {
			t.Errorf("Dispatch() failed: %v", err)
		}
		if called {
			t.Errorf("handler called after Close()")
		}
	})
}

func TestDoubleClose(t *testing.T) {
	a, _ := pair(t)
	if err := a.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	err := a.Close()
	var ce *ContractError
	if !errors.As(err, &ce) {
		t.Fatalf("second Close(): got %v, want *ContractError", err)
	}
	if ce.Op != "close" {
		t.Errorf("ContractError.Op: got %q, want %q", ce.Op, "close")
	}
	for _, target := range []error{ErrInvalidDescriptor, ErrContractViolation, unix.EBADF} {
		if !errors.Is(err, target) {
			t.Errorf("second Close(): %v does not match %v", err, target)
		}
	}
}

func TestDoubleCloseStrict(t *testing.T) {
	c := openContext(t, WithStrictContracts())
	a, _ := pair(t)
	if _, err := c.Register(a, waiter.EventIn, nop); err != nil {
		t.Fatalf("Register() failed: %v", err)
	}
	if err := c.Unregister(a); err != nil {
		t.Fatalf("Unregister() failed: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	defer func() {
		r := recover()
		if _, ok := r.(*ContractError); !ok {
			t.Errorf("second Close(): recovered %v, want *ContractError panic", r)
		}
	}()
	a.Close()
}

func TestHandlerFailureIsolated(t *testing.T) {
	forEachBackend(t, func(t *testing.T, opts ...Option) {
		c := openContext(t, opts...)
		boom := errors.New("boom")
		ran := make(map[*Descriptor]bool)

		var failing *Descriptor
		for i := 0; i < 3; i++ {
			a, peer := pair(t)
			h := HandlerFunc(func(d *Descriptor, _ waiter.EventMask) error {
				ran[d] = true
				if d == failing {
					return boom
				}
				return nil
			})
			if i == 1 {
				failing = a
			}
			if _, err := c.Register(a, waiter.EventIn, h); err != nil {
				t.Fatalf("Register() failed: %v", err)
			}
			write(t, peer, "x")
		}

		b := wait(t, c, time.Second)
		if b.Len() != 3 {
			t.Fatalf("Wait(): got %d events, want 3", b.Len())
		}
		err := c.Dispatch(b)
		if len(ran) != 3 {
			t.Errorf("handlers run: got %d, want 3", len(ran))
		}
		if !errors.Is(err, ErrHandlerFailed) || !errors.Is(err, boom) {
			t.Fatalf("Dispatch(): got %v, want error matching %v and %v", err, ErrHandlerFailed, boom)
		}
		joined, ok := err.(interface{ Unwrap() []error })
		if !ok || len(joined.Unwrap()) != 1 {
			t.Fatalf("Dispatch(): got %v, want exactly one handler error", err)
		}
		var he *HandlerError
		if !errors.As(err, &he) || he.Descriptor != failing {
			t.Errorf("HandlerError: got %+v, want descriptor %v", he, failing)
		}
		if got := c.Stats().HandlerFailures; got != 1 {
			t.Errorf("Stats().HandlerFailures: got %d, want 1", got)
		}
	})
}

func TestHandlerPanicIsolated(t *testing.T) {
	c := openContext(t)
	calls := 0
	for i := 0; i < 2; i++ {
		a, peer := pair(t)
		if _, err := c.Register(a, waiter.EventIn, HandlerFunc(func(*Descriptor, waiter.EventMask) error {
			calls++
			panic("handler exploded")
		})); err != nil {
			t.Fatalf("Register() failed: %v", err)
		}
		write(t, peer, "x")
	}

	b := wait(t, c, time.Second)
	err := c.Dispatch(b)
	if calls != 2 {
		t.Errorf("handler calls: got %d, want 2", calls)
	}
	joined, ok := err.(interface{ Unwrap() []error })
	if !ok || len(joined.Unwrap()) != 2 {
		t.Fatalf("Dispatch(): got %v, want two handler errors", err)
	}
	for _, e := range joined.Unwrap() {
		var he *HandlerError
		if !errors.As(e, &he) || !he.Panicked {
			t.Errorf("got %v, want a *HandlerError for a panic", e)
		}
	}
}

func TestCloseDuringDispatchSuppresses(t *testing.T) {
	forEachBackend(t, func(t *testing.T, opts ...Option) {
		c := openContext(t, opts...)
		a, peerA := pair(t)
		b, peerB := pair(t)
		calls := 0
		h := HandlerFunc(func(d *Descriptor, _ waiter.EventMask) error {
			calls++
			other := a
			if d == a {
				other = b
			}
			if err := other.Close(); !errors.Is(err, ErrClosedWhileRegistered) {
				t.Errorf("Close() from handler: got %v, want %v", err, ErrClosedWhileRegistered)
			}
			return nil
		})
		for _, d := range []*Descriptor{a, b} {
			if _, err := c.Register(d, waiter.EventIn, h); err != nil {
				t.Fatalf("Register() failed: %v", err)
			}
		}
		write(t, peerA, "x")
		write(t, peerB, "x")

		batch := wait(t, c, time.Second)
		if batch.Len() != 2 {
			t.Fatalf("Wait(): got %d events, want 2", batch.Len())
		}
		if err := c.Dispatch(batch); err != nil {
			t.Fatalf("Dispatch() failed: %v", err)
		}
		if calls != 1 {
			t.Errorf("handler calls: got %d, want 1", calls)
		}
		if got := c.Stats().Suppressed; got != 1 {
			t.Errorf("Stats().Suppressed: got %d, want 1", got)
		}
	})
}

func TestUnregisterDuringDispatchAppliesNextWait(t *testing.T) {
	forEachBackend(t, func(t *testing.T, opts ...Option) {
		c := openContext(t, opts...)
		a, peerA := pair(t)
		b, peerB := pair(t)
		calls := 0
		h := HandlerFunc(func(d *Descriptor, _ waiter.EventMask) error {
			calls++
			other := a
			if d == a {
				other = b
			}
			return c.Unregister(other)
		})
		for _, d := range []*Descriptor{a, b} {
			if _, err := c.Register(d, waiter.EventIn, h); err != nil {
				t.Fatalf("Register() failed: %v", err)
			}
		}
		write(t, peerA, "x")
		write(t, peerB, "x")

		if err := c.Dispatch(wait(t, c, time.Second)); err != nil {
			t.Fatalf("Dispatch() failed: %v", err)
		}
		if calls != 2 {
			t.Errorf("handler calls: got %d, want 2", calls)
		}
		if got := c.Len(); got != 0 {
			t.Errorf("Len(): got %d, want 0", got)
		}
		if got := wait(t, c, 20*time.Millisecond).Len(); got != 0 {
			t.Errorf("Wait() after unregistering: got %d events, want 0", got)
		}
	})
}

func TestStaleBatch(t *testing.T) {
	c := openContext(t)
	b1 := wait(t, c, 0)
	b2 := wait(t, c, 0)
	if b1.Valid() {
		t.Errorf("first batch still valid after second Wait()")
	}
	if !b2.Valid() {
		t.Errorf("second batch not valid")
	}
	if err := c.Dispatch(b1); !errors.Is(err, ErrContractViolation) {
		t.Errorf("Dispatch() of stale batch: got %v, want %v", err, ErrContractViolation)
	}
	if got := b1.Len(); got != 0 {
		t.Errorf("stale batch Len(): got %d, want 0", got)
	}
}

func TestEdgeTriggered(t *testing.T) {
	for _, tc := range []struct {
		name  string
		opts  []Option
		again int
	}{
		{"level", nil, 1},
		{"edge", []Option{WithEdgeTriggered()}, 0},
	} {
		t.Run(tc.name, func(t *testing.T) {
			c := openContext(t, tc.opts...)
			a, peer := pair(t)
			if _, err := c.Register(a, waiter.EventIn, nop); err != nil {
				t.Fatalf("Register() failed: %v", err)
			}
			write(t, peer, "x")
			if got := wait(t, c, time.Second).Len(); got != 1 {
				t.Fatalf("first Wait(): got %d events, want 1", got)
			}

			// The data was not read.
			if got := wait(t, c, 50*time.Millisecond).Len(); got != tc.again {
				t.Errorf("second Wait(): got %d events, want %d", got, tc.again)
			}

			write(t, peer, "y")
			if got := wait(t, c, time.Second).Len(); got != 1 {
				t.Errorf("Wait() after new data: got %d events, want 1", got)
			}
		})
	}
}

func TestPollRejectsEdgeTriggered(t *testing.T) {
	c, err := Open(WithBackend(BackendPoll), WithEdgeTriggered())
	if err == nil {
		c.Close()
		t.Fatalf("Open(poll, edge-triggered) succeeded")
	}
	if !errors.Is(err, ErrNotSupported) {
		t.Errorf("Open(poll, edge-triggered): got %v, want %v", err, ErrNotSupported)
	}
}

func TestCancelInterruptsWait(t *testing.T) {
	forEachBackend(t, func(t *testing.T, opts ...Option) {
		c := openContext(t, opts...)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		time.AfterFunc(50*time.Millisecond, cancel)

		start := time.Now()
		b, err := c.Wait(ctx, -1)
		if elapsed := time.Since(start); elapsed > 5*time.Second {
			t.Errorf("Wait() returned %v after cancellation", elapsed)
		}
		for _, target := range []error{ErrCancelled, context.Canceled, unix.ECANCELED} {
			if !errors.Is(err, target) {
				t.Errorf("Wait(): got %v, want error matching %v", err, target)
			}
		}
		if b.Len() != 0 {
			t.Errorf("Wait(): got %d events, want 0", b.Len())
		}
		if got := c.Stats().Cancellations; got != 1 {
			t.Errorf("Stats().Cancellations: got %d, want 1", got)
		}
	})
}

func TestCancelledBeforeWait(t *testing.T) {
	c := openContext(t)
	a, peer := pair(t)
	if _, err := c.Register(a, waiter.EventIn, nop); err != nil {
		t.Fatalf("Register() failed: %v", err)
	}
	write(t, peer, "x")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b, err := c.Wait(ctx, time.Second)
	if !errors.Is(err, ErrCancelled) {
		t.Errorf("Wait(): got %v, want %v", err, ErrCancelled)
	}
	if b.Len() != 0 {
		t.Errorf("Wait(): got %d events, want 0", b.Len())
	}
}

func TestWake(t *testing.T) {
	forEachBackend(t, func(t *testing.T, opts ...Option) {
		c := openContext(t, opts...)
		time.AfterFunc(50*time.Millisecond, func() {
			if err := c.Wake(); err != nil {
				t.Errorf("Wake() failed: %v", err)
			}
		})
		b, err := c.Wait(context.Background(), -1)
		if err != nil {
			t.Fatalf("Wait(): got %v, want nil", err)
		}
		if b.Len() != 0 {
			t.Errorf("Wait(): got %d events, want 0", b.Len())
		}
	})
}

func TestInvalidInterest(t *testing.T) {
	c := openContext(t)
	a, _ := pair(t)
	_, err := c.Register(a, 0, nop)
	if !errors.Is(err, ErrInvalidInterest) || !errors.Is(err, unix.EINVAL) {
		t.Errorf("Register(0): got %v, want %v", err, ErrInvalidInterest)
	}
}

func TestRegisteredWithAnotherContext(t *testing.T) {
	c1 := openContext(t)
	c2 := openContext(t)
	a, _ := pair(t)
	if _, err := c1.Register(a, waiter.EventIn, nop); err != nil {
		t.Fatalf("Register() failed: %v", err)
	}
	if _, err := c2.Register(a, waiter.EventIn, nop); !errors.Is(err, ErrInvalidDescriptor) {
		t.Errorf("Register() on second context: got %v, want %v", err, ErrInvalidDescriptor)
	}
	if err := c2.Unregister(a); !errors.Is(err, ErrInvalidDescriptor) {
		t.Errorf("Unregister() on second context: got %v, want %v", err, ErrInvalidDescriptor)
	}
}

func TestContextClose(t *testing.T) {
	forEachBackend(t, func(t *testing.T, opts ...Option) {
		c, err := Open(opts...)
		if err != nil {
			t.Fatalf("Open() failed: %v", err)
		}
		a, peer := pair(t)
		if _, err := c.Register(a, waiter.EventIn, nop); err != nil {
			t.Fatalf("Register() failed: %v", err)
		}
		stale := wait(t, c, 0)
		if err := c.Close(); err != nil {
			t.Fatalf("Close() failed: %v", err)
		}
		if stale.Valid() {
			t.Errorf("batch still valid after Close()")
		}

		// The descriptor is open and unregistered.
		write(t, peer, "x")
		if _, err := a.Read(make([]byte, 1)); err != nil {
			t.Errorf("Read() after context Close(): %v", err)
		}
		if _, err := c.Wait(context.Background(), 0); !errors.Is(err, ErrInvalidDescriptor) {
			t.Errorf("Wait() after Close(): got %v, want %v", err, ErrInvalidDescriptor)
		}
		if _, err := c.Register(a, waiter.EventIn, nop); !errors.Is(err, ErrInvalidDescriptor) {
			t.Errorf("Register() after Close(): got %v, want %v", err, ErrInvalidDescriptor)
		}
		if err := c.Wake(); !errors.Is(err, ErrInvalidDescriptor) {
			t.Errorf("Wake() after Close(): got %v, want %v", err, ErrInvalidDescriptor)
		}
		if err := a.Close(); err != nil {
			t.Errorf("Close() of descriptor after context Close(): %v", err)
		}
	})
}

func TestMaxEventsRotatesReadyDescriptors(t *testing.T) {
	forEachBackend(t, func(t *testing.T, opts ...Option) {
		c := openContext(t, append([]Option{WithMaxEvents(1)}, opts...)...)
		counts := make(map[*Descriptor]int)
		count := HandlerFunc(func(d *Descriptor, _ waiter.EventMask) error {
			counts[d]++
			return nil
		})
		var ds []*Descriptor
		for i := 0; i < 2; i++ {
			a, peer := pair(t)
			if _, err := c.Register(a, waiter.EventIn, count); err != nil {
				t.Fatalf("Register() failed: %v", err)
			}
			// Never read, so both stay readable.
			write(t, peer, "x")
			ds = append(ds, a)
		}

		const waits = 10
		for i := 0; i < waits; i++ {
			b := wait(t, c, time.Second)
			if b.Len() != 1 {
				t.Fatalf("Wait() #%d: got %d events, want 1", i, b.Len())
			}
			if err := c.Dispatch(b); err != nil {
				t.Fatalf("Dispatch() failed: %v", err)
			}
		}
		first, second := counts[ds[0]], counts[ds[1]]
		if first == 0 || second == 0 || first-second > 1 || second-first > 1 {
			t.Errorf("events per descriptor over %d waits: got %d and %d, want an even split", waits, first, second)
		}
	})
}

func TestSignalMask(t *testing.T) {
	forEachBackend(t, func(t *testing.T, opts ...Option) {
		var mask unix.Sigset_t
		// Block SIGUSR1 while waiting. The bit for signal n is n-1.
		mask.Val[0] |= 1 << (uint(unix.SIGUSR1) - 1)
		c := openContext(t, append([]Option{WithSignalMask(&mask)}, opts...)...)
		a, peer := pair(t)
		if _, err := c.Register(a, waiter.EventIn, nop); err != nil {
			t.Fatalf("Register() failed: %v", err)
		}

		// Nothing ready: the wait times out cleanly.
		if b := wait(t, c, 10*time.Millisecond); b.Len() != 0 {
			t.Errorf("Wait() with nothing ready: got %d events, want 0", b.Len())
		}

		write(t, peer, "x")
		if b := wait(t, c, 100*time.Millisecond); b.Len() != 1 {
			t.Errorf("Wait(): got %d events, want 1", b.Len())
		}
	})
}

func TestCloseWakesWait(t *testing.T) {
	forEachBackend(t, func(t *testing.T, opts ...Option) {
		c, err := Open(opts...)
		if err != nil {
			t.Fatalf("Open() failed: %v", err)
		}
		a, _ := pair(t)
		if _, err := c.Register(a, waiter.EventIn, nop); err != nil {
			t.Fatalf("Register() failed: %v", err)
		}

		type result struct {
			b   *Batch
			err error
		}
		done := make(chan result, 1)
		go func() {
			b, err := c.Wait(context.Background(), -1)
			done <- result{b, err}
		}()
		// Give Wait a chance to block. Close is correct either way.
		time.Sleep(50 * time.Millisecond)

		if err := c.Close(); err != nil {
			t.Fatalf("Close() failed: %v", err)
		}
		select {
		case r := <-done:
			// A Wait that only started after Close fails instead.
			if r.err != nil && !errors.Is(r.err, ErrInvalidDescriptor) {
				t.Errorf("Wait() interrupted by Close(): got %v, want nil or %v", r.err, ErrInvalidDescriptor)
			}
			if r.b.Len() != 0 {
				t.Errorf("Wait() interrupted by Close(): got %d events, want 0", r.b.Len())
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("Wait() still blocked after Close()")
		}
	})
}
