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
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
	"gvisor.dev/dpoll/pkg/fd"
	"gvisor.dev/dpoll/pkg/gate"
	"gvisor.dev/dpoll/pkg/log"
	"gvisor.dev/dpoll/pkg/waiter"
)

// Descriptor owns a non-blocking host file descriptor.
//
// A Descriptor moves through Unregistered, Registered and Closed. Closed is
// terminal: every later operation fails with ErrInvalidDescriptor, and a
// second Close is a contract violation.
//
// Close waits for system calls already in progress on the descriptor, so a
// concurrent Read can never observe a recycled fd number.
type Descriptor struct {
	file *fd.FD

	// num is the fd number, kept after close for diagnostics.
	num int

	// gate is entered around every system call that uses the fd.
	gate gate.Gate

	// closed is set once, under mu.
	closed atomic.Bool

	// strict is inherited from the last Context d was registered with.
	strict atomic.Bool

	// mu protects owner and reg. When both are needed, the owner's mu is
	// acquired before d.mu.
	mu    sync.Mutex
	owner *Context
	reg   *registration
}

// registration is the Context-side record of a Registration.
type registration struct {
	d        *Descriptor
	interest waiter.EventMask
	handler  Handler
	tok      token
}

var _ waiter.Waitable = (*Descriptor)(nil)

func newDescriptor(n int) *Descriptor {
	return &Descriptor{
		file: fd.New(n),
		num:  n,
	}
}

// NewDescriptor adopts fd, switching it to non-blocking mode. The returned
// Descriptor owns fd.
func NewDescriptor(n int) (*Descriptor, error) {
	if n < 0 {
		return nil, ErrInvalidDescriptor
	}
	if err := unix.SetNonblock(n, true); err != nil {
		return nil, FromHost(err)
	}
	return newDescriptor(n), nil
}

// FD returns the fd number, or -1 once d is closed. d retains ownership.
func (d *Descriptor) FD() int {
	return d.file.FD()
}

// String implements fmt.Stringer.
func (d *Descriptor) String() string {
	if d == nil {
		return "fd <nil>"
	}
	return fmt.Sprintf("fd %d", d.num)
}

// Closed reports whether Close has been called.
func (d *Descriptor) Closed() bool {
	return d.closed.Load()
}

// Readiness returns the subset of mask that d is currently ready for, without
// blocking. Error and hang-up conditions are always reported. A closed
// descriptor reports EventNVal.
func (d *Descriptor) Readiness(mask waiter.EventMask) waiter.EventMask {
	if !d.gate.Enter() {
		return waiter.EventNVal
	}
	defer d.gate.Leave()
	return waiter.NonBlockingPoll(int32(d.num), mask)
}

// Close closes the descriptor.
//
// If d is still registered, its registration is removed first and Close
// returns ErrClosedWhileRegistered; the descriptor is closed either way and
// no event is delivered for it afterwards. Closing a closed descriptor
// returns a *ContractError, or panics if d was registered with a Context
// opened with WithStrictContracts.
func (d *Descriptor) Close() error {
	owner := d.lockWithOwner()
	if d.closed.Load() {
		d.unlockWithOwner(owner)
		return d.violation("close")
	}

	var result error
	if owner != nil {
		// The kernel drops the registration when the number is closed, so a
		// failed removal changes nothing.
		if err := owner.detachLocked(d); err != nil {
			log.Debugf("reactor: removing %v before close: %v", d, err)
		}
		result = ErrClosedWhileRegistered
	}
	d.closed.Store(true)
	d.unlockWithOwner(owner)

	// Wait for in-flight system calls before the number can be reused.
	d.gate.Close()
	if err := d.file.Close(); err != nil && result == nil {
		result = FromHost(err)
	}
	return result
}

// lockWithOwner locks d.mu and, if d is registered, its owner's mu. It
// returns the owner that was locked.
func (d *Descriptor) lockWithOwner() *Context {
	for {
		d.mu.Lock()
		owner := d.owner
		d.mu.Unlock()

		if owner != nil {
			owner.mu.Lock()
		}
		d.mu.Lock()
		if d.owner == owner {
			return owner
		}
		// Registration changed while unlocked; retry.
		d.mu.Unlock()
		if owner != nil {
			owner.mu.Unlock()
		}
	}
}

func (d *Descriptor) unlockWithOwner(owner *Context) {
	d.mu.Unlock()
	if owner != nil {
		owner.mu.Unlock()
	}
}

// violation reports a contract violation on d.
func (d *Descriptor) violation(op string) error {
	err := &ContractError{Op: op, FD: d.num, Kind: ErrInvalidDescriptor}
	if d.strict.Load() {
		panic(err)
	}
	return err
}

// do runs fn with the fd number while holding the gate.
func (d *Descriptor) do(fn func(fd int) error) error {
	if !d.gate.Enter() {
		return ErrInvalidDescriptor
	}
	defer d.gate.Leave()
	return FromHost(fn(d.num))
}
