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

// Package fd provides types for working with file descriptors.
package fd

import (
	"io"
	"os"
	"runtime"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// ReadWriter implements io.ReadWriter for fd. It does not take ownership of
// fd.
//
// Every method issues exactly one system call (restarted on EINTR) and
// reports how much was transferred. Short transfers are not retried; on a
// non-blocking fd the caller sees unix.EAGAIN and decides when to try again.
type ReadWriter struct {
	// fd is accessed atomically so FD.Close/Release can swap it.
	fd atomic.Int64
}

var _ io.ReadWriter = (*ReadWriter)(nil)

// NewReadWriter creates a ReadWriter for fd.
func NewReadWriter(fd int) *ReadWriter {
	r := &ReadWriter{}
	r.fd.Store(int64(fd))
	return r
}

func fixCount(n int, err error) (int, error) {
	if n < 0 {
		n = 0
	}
	return n, err
}

// Read implements io.Reader.
//
// A zero-length read on a non-empty buffer is reported as io.EOF.
func (r *ReadWriter) Read(b []byte) (int, error) {
	for {
		c, err := fixCount(unix.Read(int(r.fd.Load()), b))
		if err == unix.EINTR {
			continue
		}
		if c == 0 && len(b) > 0 && err == nil {
			return 0, io.EOF
		}
		return c, err
	}
}

// Write implements io.Writer.
//
// Unlike most io.Writers, Write may return n < len(b) with a nil error when
// the kernel accepted only part of the buffer.
func (r *ReadWriter) Write(b []byte) (int, error) {
	for {
		n, err := fixCount(unix.Write(int(r.fd.Load()), b))
		if err == unix.EINTR {
			continue
		}
		return n, err
	}
}

// ReadVec reads into bufs with a single readv(2).
func (r *ReadWriter) ReadVec(bufs [][]byte) (int, error) {
	for {
		n, err := fixCount(unix.Readv(int(r.fd.Load()), bufs))
		if err == unix.EINTR {
			continue
		}
		if n == 0 && err == nil && totalLen(bufs) > 0 {
			return 0, io.EOF
		}
		return n, err
	}
}

// WriteVec writes bufs with a single writev(2).
func (r *ReadWriter) WriteVec(bufs [][]byte) (int, error) {
	for {
		n, err := fixCount(unix.Writev(int(r.fd.Load()), bufs))
		if err == unix.EINTR {
			continue
		}
		return n, err
	}
}

func totalLen(bufs [][]byte) int {
	var l int
	for _, b := range bufs {
		l += len(b)
	}
	return l
}

// FD owns a host file descriptor.
//
// It is similar to os.File, with a few important distinctions:
//
// FD provides a Release() method which relinquishes ownership. Like os.File,
// FD adds a finalizer to close the backing FD. However, the finalizer cannot
// be removed from os.File, forever pinning the lifetime of an FD to its
// os.File.
//
// FD supports both blocking and non-blocking operation. os.File only
// supports blocking operation.
type FD struct {
	ReadWriter
}

// New creates a new FD.
//
// New takes ownership of fd.
func New(fd int) *FD {
	f := &FD{}
	if fd < 0 {
		f.fd.Store(-1)
		return f
	}
	f.fd.Store(int64(fd))
	runtime.SetFinalizer(f, (*FD).Close)
	return f
}

// NewFromFile creates a new FD from an os.File.
//
// NewFromFile does not transfer ownership of the file descriptor (it will be
// duplicated, so both the os.File and FD will eventually need to be closed
// and some (but not all) changes made to the FD will be applied to the
// os.File as well).
//
// The returned FD is always blocking (Go 1.9+).
func NewFromFile(file *os.File) (*FD, error) {
	fd, err := unix.FcntlInt(file.Fd(), unix.F_DUPFD_CLOEXEC, 0)
	// Technically, the runtime may call the finalizer on file as soon as
	// Fd() returns.
	runtime.KeepAlive(file)
	if err != nil {
		return New(-1), err
	}
	return New(fd), nil
}

// Close closes the file descriptor contained in the FD.
//
// Close is safe to call multiple times, but will return an error after the
// first call.
//
// Concurrently calling Close and any other method is undefined.
func (f *FD) Close() error {
	runtime.SetFinalizer(f, nil)
	fd := int(f.fd.Swap(-1))
	if fd < 0 {
		return unix.EBADF
	}
	return unix.Close(fd)
}

// Release relinquishes ownership of the contained file descriptor.
//
// Concurrently calling Release and any other method is undefined.
func (f *FD) Release() int {
	runtime.SetFinalizer(f, nil)
	return int(f.fd.Swap(-1))
}

// FD returns the file descriptor owned by FD. FD retains ownership.
func (f *FD) FD() int {
	return int(f.fd.Load())
}

// File converts the FD to an os.File.
//
// FD does not transfer ownership of the file descriptor (it will be
// duplicated, so both the FD and os.File will eventually need to be closed
// and some (but not all) changes made to the os.File will be applied to the
// FD as well).
//
// This operation is somewhat expensive, so care should be taken to minimize
// its use.
func (f *FD) File() (*os.File, error) {
	fd, err := unix.FcntlInt(uintptr(f.fd.Load()), unix.F_DUPFD_CLOEXEC, 0)
	if err != nil {
		return nil, err
	}
	return os.NewFile(uintptr(fd), ""), nil
}

// ReleaseToFile returns an os.File that takes ownership of the FD.
//
// name is passed to os.NewFile.
func (f *FD) ReleaseToFile(name string) *os.File {
	return os.NewFile(uintptr(f.Release()), name)
}
