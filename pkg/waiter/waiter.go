// Copyright 2018 The gVisor Authors.
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

// Package waiter provides the readiness vocabulary shared by the reactor and
// its backends.
//
// An EventMask is the set of conditions a caller is interested in (when
// registering) or the set of conditions that were observed (when an event is
// delivered). The bit values are those of poll(2), which coincide with the
// low bits of epoll(7), so a mask converts to either kernel interface without
// translation tables.
//
// A typical readiness-driven reader looks like:
//
//	func (c *conn) onReady(mask waiter.EventMask) error {
//		if mask&waiter.EventHUp != 0 {
//			return c.Close()
//		}
//		for {
//			n, err := c.Read(buf)
//			if err == ErrWouldBlock {
//				// Drained; wait for the next notification.
//				return nil
//			}
//			...
//		}
//	}
package waiter

import (
	"fmt"
	"strings"
)

// EventMask represents io events as used in the poll() syscall.
type EventMask uint16

// Events that waiters can wait on. The meaning is the same as those in the
// poll() syscall.
const (
	EventIn    EventMask = 0x01   // POLLIN
	EventPri   EventMask = 0x02   // POLLPRI
	EventOut   EventMask = 0x04   // POLLOUT
	EventErr   EventMask = 0x08   // POLLERR
	EventHUp   EventMask = 0x10   // POLLHUP
	EventNVal  EventMask = 0x20   // POLLNVAL
	EventRdHUp EventMask = 0x2000 // POLLRDHUP

	// ReadableEvents are the events that mean a read will not block.
	ReadableEvents EventMask = EventIn | EventRdHUp
	// WritableEvents are the events that mean a write will not block.
	WritableEvents EventMask = EventOut

	// allEvents is every bit a caller may register for. EventErr, EventHUp
	// and EventNVal are always reported by the kernel; registering for them
	// is accepted and has no extra effect.
	allEvents = EventIn | EventPri | EventOut | EventErr | EventHUp | EventNVal | EventRdHUp
)

// Readable reports whether the mask includes a readable condition.
func (m EventMask) Readable() bool {
	return m&ReadableEvents != 0
}

// Writable reports whether the mask includes a writable condition.
func (m EventMask) Writable() bool {
	return m&WritableEvents != 0
}

// Failed reports whether the mask includes an error or hang-up condition.
func (m EventMask) Failed() bool {
	return m&(EventErr|EventHUp|EventNVal) != 0
}

// Valid reports whether m is a non-empty combination of known events.
func (m EventMask) Valid() bool {
	return m != 0 && m&^allEvents == 0
}

var eventNames = []struct {
	mask EventMask
	name string
}{
	{EventIn, "IN"},
	{EventPri, "PRI"},
	{EventOut, "OUT"},
	{EventErr, "ERR"},
	{EventHUp, "HUP"},
	{EventNVal, "NVAL"},
	{EventRdHUp, "RDHUP"},
}

// String implements fmt.Stringer.
func (m EventMask) String() string {
	if m == 0 {
		return "0"
	}
	var parts []string
	for _, e := range eventNames {
		if m&e.mask != 0 {
			parts = append(parts, e.name)
			m &^= e.mask
		}
	}
	if m != 0 {
		parts = append(parts, fmt.Sprintf("%#x", uint16(m)))
	}
	return strings.Join(parts, "|")
}

// ToLinux returns m as an epoll(7) event mask.
func (m EventMask) ToLinux() uint32 {
	return uint32(m)
}

// EventMaskFromLinux returns an EventMask representing the supported events
// from the Linux events e, which is in the format used by poll(2) and
// epoll(7). Flags such as EPOLLET and EPOLLONESHOT are dropped.
func EventMaskFromLinux(e uint32) EventMask {
	return EventMask(e) & allEvents
}

// Waitable is implemented by objects whose current readiness can be queried
// without blocking.
type Waitable interface {
	// Readiness returns what the object is currently ready for.
	//
	// Implementations should allow for events like EventHUp and EventErr
	// to be returned regardless of whether they are in the input EventMask.
	Readiness(mask EventMask) EventMask
}
