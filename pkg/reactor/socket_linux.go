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
	"golang.org/x/sys/unix"
)

// Socket creates a non-blocking, close-on-exec socket.
func Socket(domain, typ, proto int) (*Descriptor, error) {
	s, err := unix.Socket(domain, typ|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, proto)
	if err != nil {
		return nil, FromHost(err)
	}
	return newDescriptor(s), nil
}

// Socketpair creates a pair of connected, non-blocking, close-on-exec
// sockets.
func Socketpair(domain, typ, proto int) (*Descriptor, *Descriptor, error) {
	fds, err := unix.Socketpair(domain, typ|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, proto)
	if err != nil {
		return nil, nil, FromHost(err)
	}
	return newDescriptor(fds[0]), newDescriptor(fds[1]), nil
}

// Bind binds d to sa.
func (d *Descriptor) Bind(sa unix.Sockaddr) error {
	return d.do(func(fd int) error {
		return unix.Bind(fd, sa)
	})
}

// Listen marks d as a listening socket.
func (d *Descriptor) Listen(backlog int) error {
	return d.do(func(fd int) error {
		return unix.Listen(fd, backlog)
	})
}

// Accept accepts a pending connection. The new descriptor is non-blocking
// and close-on-exec. If no connection is pending, Accept returns an error
// matching ErrWouldBlock.
func (d *Descriptor) Accept() (*Descriptor, unix.Sockaddr, error) {
	var (
		nfd int
		sa  unix.Sockaddr
	)
	err := d.do(func(fd int) error {
		for {
			var err error
			nfd, sa, err = unix.Accept4(fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
			if err != unix.EINTR {
				return err
			}
		}
	})
	if err != nil {
		return nil, nil, err
	}
	return newDescriptor(nfd), sa, nil
}

// Connect starts connecting d to sa. Since d is non-blocking, the connection
// usually cannot complete immediately and Connect returns an error matching
// ErrInProgress; register d for waiter.EventOut and call ConnectResult once
// it is writable.
func (d *Descriptor) Connect(sa unix.Sockaddr) error {
	return d.do(func(fd int) error {
		err := unix.Connect(fd, sa)
		if err == unix.EINTR {
			// The connection continues asynchronously.
			return unix.EINPROGRESS
		}
		return err
	})
}

// ConnectResult returns the outcome of an asynchronous Connect (SO_ERROR).
func (d *Descriptor) ConnectResult() error {
	return d.do(func(fd int) error {
		v, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
		if err != nil {
			return err
		}
		if v != 0 {
			return unix.Errno(v)
		}
		return nil
	})
}

// SetSockoptInt sets an integer socket option.
func (d *Descriptor) SetSockoptInt(level, opt, value int) error {
	return d.do(func(fd int) error {
		return unix.SetsockoptInt(fd, level, opt, value)
	})
}

// GetSockoptInt returns an integer socket option.
func (d *Descriptor) GetSockoptInt(level, opt int) (int, error) {
	var v int
	err := d.do(func(fd int) error {
		var err error
		v, err = unix.GetsockoptInt(fd, level, opt)
		return err
	})
	return v, err
}

// SetSockoptLinger sets SO_LINGER.
func (d *Descriptor) SetSockoptLinger(l *unix.Linger) error {
	return d.do(func(fd int) error {
		return unix.SetsockoptLinger(fd, unix.SOL_SOCKET, unix.SO_LINGER, l)
	})
}

// Getsockname returns the local address of d.
func (d *Descriptor) Getsockname() (unix.Sockaddr, error) {
	var sa unix.Sockaddr
	err := d.do(func(fd int) error {
		var err error
		sa, err = unix.Getsockname(fd)
		return err
	})
	return sa, err
}

// Getpeername returns the remote address of d.
func (d *Descriptor) Getpeername() (unix.Sockaddr, error) {
	var sa unix.Sockaddr
	err := d.do(func(fd int) error {
		var err error
		sa, err = unix.Getpeername(fd)
		return err
	})
	return sa, err
}

// Shutdown shuts down part of a full-duplex connection.
func (d *Descriptor) Shutdown(how int) error {
	return d.do(func(fd int) error {
		return unix.Shutdown(fd, how)
	})
}
