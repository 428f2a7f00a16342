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
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
	derrors "gvisor.dev/dpoll/pkg/errors"
	"gvisor.dev/dpoll/pkg/waiter"
)

// Errors returned by the reactor. Those with a host equivalent also match
// the corresponding unix.Errno through errors.Is.
var (
	ErrInvalidDescriptor     = derrors.New(unix.EBADF, "invalid descriptor")
	ErrResourceExhausted     = derrors.New(unix.EMFILE, "resource exhausted")
	ErrCancelled             = derrors.New(unix.ECANCELED, "wait cancelled")
	ErrHandlerFailed         = derrors.New(0, "handler failed")
	ErrContractViolation     = derrors.New(0, "contract violation")
	ErrClosedWhileRegistered = derrors.New(0, "descriptor closed while registered")
	ErrInvalidInterest       = derrors.New(unix.EINVAL, "invalid interest mask")
	ErrWouldBlock            = derrors.New(unix.EAGAIN, "operation would block")
	ErrInProgress            = derrors.New(unix.EINPROGRESS, "operation in progress")
	ErrNotSupported          = derrors.New(unix.EOPNOTSUPP, "not supported")
)

// hostErrors maps host errnos onto the reactor's errors.
var hostErrors = map[unix.Errno]*derrors.Error{
	unix.EBADF:       ErrInvalidDescriptor,
	unix.EMFILE:      ErrResourceExhausted,
	unix.ENFILE:      ErrResourceExhausted,
	unix.ENOMEM:      ErrResourceExhausted,
	unix.ENOSPC:      ErrResourceExhausted,
	unix.ENOBUFS:     ErrResourceExhausted,
	unix.EAGAIN:      ErrWouldBlock,
	unix.EINPROGRESS: ErrInProgress,
	unix.ECANCELED:   ErrCancelled,
	unix.EOPNOTSUPP:  ErrNotSupported,
}

// FromHost translates an error returned by a system call. Errnos with a
// reactor equivalent are wrapped so that both the reactor error and the
// original errno match through errors.Is; any other error is returned
// unchanged.
func FromHost(err error) error {
	if err == nil {
		return nil
	}
	var translated *derrors.Error
	if errors.As(err, &translated) {
		return err
	}
	var errno unix.Errno
	if !errors.As(err, &errno) {
		return err
	}
	if kind, ok := hostErrors[errno]; ok {
		return derrors.Wrap(kind, err)
	}
	return err
}

// HandlerError is reported by Dispatch for each handler that failed.
type HandlerError struct {
	// Descriptor is the descriptor the event was for.
	Descriptor *Descriptor
	// Ready is the readiness that was delivered.
	Ready waiter.EventMask
	// Err is the error returned by the handler. For a panic, it describes
	// the panic value.
	Err error
	// Panicked is set if the handler panicked.
	Panicked bool
}

// Error implements error.Error.
func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler for %v (%v) failed: %v", e.Descriptor, e.Ready, e.Err)
}

// Unwrap returns ErrHandlerFailed and the handler's error.
func (e *HandlerError) Unwrap() []error {
	return []error{ErrHandlerFailed, e.Err}
}

// ContractError reports misuse of the API, such as closing a descriptor
// twice. When a Context is opened with WithStrictContracts, it is raised as a
// panic instead of being returned.
type ContractError struct {
	// Op is the operation that was misused.
	Op string
	// FD is the descriptor number involved, or -1.
	FD int
	// Kind is the error the operation would otherwise have returned, if
	// any.
	Kind error
}

// Error implements error.Error.
func (e *ContractError) Error() string {
	msg := fmt.Sprintf("contract violation: %s", e.Op)
	if e.FD >= 0 {
		msg += fmt.Sprintf(" on fd %d", e.FD)
	}
	if e.Kind != nil {
		msg += ": " + e.Kind.Error()
	}
	return msg
}

// Unwrap returns ErrContractViolation and Kind.
func (e *ContractError) Unwrap() []error {
	if e.Kind == nil {
		return []error{ErrContractViolation}
	}
	return []error{ErrContractViolation, e.Kind}
}
