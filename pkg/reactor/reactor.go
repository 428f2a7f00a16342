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
	"iter"
	"time"

	"gvisor.dev/dpoll/pkg/waiter"
)

// Reactor is the readiness multiplexer. *Context is the only implementation;
// the interface exists so that collaborators can be tested against fakes.
type Reactor interface {
	// Register adds interest in the given events for d, or replaces the
	// existing interest and handler if d is already registered.
	Register(d *Descriptor, interest waiter.EventMask, h Handler) (*Registration, error)

	// Unregister removes d's registration. It is a no-op if d is not
	// registered.
	Unregister(d *Descriptor) error

	// Wait blocks until at least one registered descriptor is ready, the
	// timeout elapses, Wake is called or ctx is done. A zero timeout polls;
	// a negative timeout blocks indefinitely.
	Wait(ctx context.Context, timeout time.Duration) (*Batch, error)

	// Dispatch runs the handler of every event in b, in order.
	Dispatch(b *Batch) error

	// Wake interrupts a blocked Wait.
	Wake() error

	// Close releases the polling instance.
	Close() error
}

var _ Reactor = (*Context)(nil)

// Handler reacts to readiness of a descriptor.
//
// For edge-triggered registrations, HandleEvent must consume the descriptor
// until it reports ErrWouldBlock (read side, write side or both, depending on
// ready). The kernel does not report the same readiness again until new
// activity occurs, and the reactor never retries on a handler's behalf.
//
// A returned error, or a panic, is reported by Dispatch as a *HandlerError
// and does not prevent the rest of the batch from running.
type Handler interface {
	HandleEvent(d *Descriptor, ready waiter.EventMask) error
}

// HandlerFunc adapts a function to a Handler.
type HandlerFunc func(d *Descriptor, ready waiter.EventMask) error

// HandleEvent implements Handler.HandleEvent.
func (f HandlerFunc) HandleEvent(d *Descriptor, ready waiter.EventMask) error {
	return f(d, ready)
}

// Registration describes the interest a Context holds in a Descriptor.
// Values returned by Register and Registered are snapshots.
type Registration struct {
	Descriptor *Descriptor
	Interest   waiter.EventMask
	Handler    Handler
}

// Event is a readiness notification produced by Wait.
type Event struct {
	Descriptor *Descriptor
	Ready      waiter.EventMask

	// handler is the handler registered at the time of Wait.
	handler Handler
}

// Batch holds the events collected by one call to Wait. It is invalidated by
// the next Wait (or Close) on the same Context; an invalid batch yields no
// events and cannot be dispatched.
type Batch struct {
	c      *Context
	epoch  uint64
	events []Event
}

// Valid reports whether b is still the Context's current batch.
func (b *Batch) Valid() bool {
	return b != nil && b.c != nil && b.c.epoch.Load() == b.epoch
}

// Len returns the number of events in b, or zero if b is no longer valid.
func (b *Batch) Len() int {
	if !b.Valid() {
		return 0
	}
	return len(b.events)
}

// At returns the i'th event in b. It panics if b is no longer valid or i is
// out of range.
func (b *Batch) At(i int) Event {
	if !b.Valid() {
		panic("reactor: use of stale batch")
	}
	return b.events[i]
}

// All returns the events of b in the order the kernel reported them. The
// sequence stops early if b is invalidated while being iterated.
func (b *Batch) All() iter.Seq[Event] {
	return func(yield func(Event) bool) {
		for i := 0; b.Valid() && i < len(b.events); i++ {
			if !yield(b.events[i]) {
				return
			}
		}
	}
}

// Stats holds counters describing a Context's activity.
type Stats struct {
	// Waits is the number of calls to Wait.
	Waits uint64
	// Events is the number of events returned by Wait.
	Events uint64
	// StaleEvents is the number of kernel notifications dropped because
	// their registration no longer existed.
	StaleEvents uint64
	// Suppressed is the number of events skipped by Dispatch because their
	// descriptor was closed after Wait.
	Suppressed uint64
	// HandlerFailures counts handlers that returned an error or panicked.
	HandlerFailures uint64
	// Cancellations counts waits that ended with ErrCancelled.
	Cancellations uint64
	// Interrupts counts EINTR returns from the polling system call.
	Interrupts uint64
	// Registered is the current number of registrations.
	Registered int
}
