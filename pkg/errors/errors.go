// Copyright 2021 The gVisor Authors.
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

// Package errors holds the standardized error definition for dpoll.
//
// An *Error carries a descriptive message and, optionally, the host errno it
// corresponds to. errors.Is matches an *Error against its own identity and
// against that errno, so callers may test either
//
//	errors.Is(err, reactor.ErrInvalidDescriptor)
//
// or
//
//	errors.Is(err, unix.EBADF)
package errors

import (
	"golang.org/x/sys/unix"
)

// Error represents a syscall errno with a descriptive message.
type Error struct {
	errno   unix.Errno
	message string
}

// New creates a new *Error. errno may be zero for errors that have no host
// equivalent.
func New(err unix.Errno, message string) *Error {
	return &Error{
		errno:   err,
		message: message,
	}
}

// Error implements error.Error.
func (e *Error) Error() string { return e.message }

// Errno returns the underlying errno value, zero if there is none.
func (e *Error) Errno() unix.Errno { return e.errno }

// Is implements the interface used by errors.Is.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	switch t := target.(type) {
	case *Error:
		return e == t
	case unix.Errno:
		return e.errno != 0 && e.errno == t
	}
	return false
}

// Wrapped is an *Error annotated with the host error that caused it. Both
// remain visible to errors.Is and errors.As.
type Wrapped struct {
	Kind  *Error
	Cause error
}

// Wrap returns an error that matches kind and also unwraps to cause.
func Wrap(kind *Error, cause error) error {
	if cause == nil {
		return kind
	}
	return &Wrapped{Kind: kind, Cause: cause}
}

// Error implements error.Error.
func (w *Wrapped) Error() string {
	return w.Kind.message + ": " + w.Cause.Error()
}

// Unwrap returns both the kind and the cause.
func (w *Wrapped) Unwrap() []error {
	return []error{w.Kind, w.Cause}
}
