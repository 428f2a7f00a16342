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
	"io"

	"golang.org/x/sys/unix"
)

// The methods below each issue a single system call (restarted on EINTR) and
// report how much was transferred; short transfers are returned to the
// caller. When the descriptor is not ready, the error matches ErrWouldBlock.

// Read reads into p. A closed peer is reported as io.EOF.
func (d *Descriptor) Read(p []byte) (int, error) {
	if !d.gate.Enter() {
		return 0, ErrInvalidDescriptor
	}
	defer d.gate.Leave()
	n, err := d.file.Read(p)
	return n, ioError(err)
}

// Write writes p, possibly only partially.
func (d *Descriptor) Write(p []byte) (int, error) {
	if !d.gate.Enter() {
		return 0, ErrInvalidDescriptor
	}
	defer d.gate.Leave()
	n, err := d.file.Write(p)
	return n, ioError(err)
}

// ReadVec reads into bufs with readv(2).
func (d *Descriptor) ReadVec(bufs [][]byte) (int, error) {
	if !d.gate.Enter() {
		return 0, ErrInvalidDescriptor
	}
	defer d.gate.Leave()
	n, err := d.file.ReadVec(bufs)
	return n, ioError(err)
}

// WriteVec writes bufs with writev(2), possibly only partially.
func (d *Descriptor) WriteVec(bufs [][]byte) (int, error) {
	if !d.gate.Enter() {
		return 0, ErrInvalidDescriptor
	}
	defer d.gate.Leave()
	n, err := d.file.WriteVec(bufs)
	return n, ioError(err)
}

// SendMsg sends bufs and the control message bytes oob with sendmsg(2). to
// may be nil for connected sockets. oob is passed to the kernel untouched;
// build it with unix.UnixRights or similar.
func (d *Descriptor) SendMsg(bufs [][]byte, oob []byte, to unix.Sockaddr) (int, error) {
	var n int
	err := d.do(func(fd int) error {
		for {
			var err error
			n, err = unix.SendmsgBuffers(fd, bufs, oob, to, unix.MSG_DONTWAIT|unix.MSG_NOSIGNAL)
			if err != unix.EINTR {
				return err
			}
		}
	})
	return n, err
}

// RecvMsg receives into bufs and oob with recvmsg(2). It returns the number
// of data and control bytes received, the message flags (e.g.
// unix.MSG_CTRUNC) and the sender's address if the socket reports one. The
// control bytes are returned unparsed; see unix.ParseSocketControlMessage.
//
// On connection-oriented sockets (SOCK_STREAM, SOCK_SEQPACKET) an empty
// receive with no control data is an orderly shutdown and is reported as
// io.EOF. On datagram sockets it is a zero-length datagram and n is 0 with
// a nil error.
func (d *Descriptor) RecvMsg(bufs [][]byte, oob []byte) (n, oobn, flags int, from unix.Sockaddr, err error) {
	eof := false
	err = d.do(func(fd int) error {
		for {
			var err error
			n, oobn, flags, from, err = unix.RecvmsgBuffers(fd, bufs, oob, unix.MSG_DONTWAIT)
			if err == unix.EINTR {
				continue
			}
			if err == nil && n == 0 && oobn == 0 && totalLen(bufs) > 0 {
				eof = connectionOriented(fd)
			}
			return err
		}
	})
	if eof {
		err = io.EOF
	}
	return n, oobn, flags, from, err
}

// connectionOriented reports whether fd is a stream or seqpacket socket.
// When the type cannot be read the socket is assumed to be a stream.
func connectionOriented(fd int) bool {
	typ, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_TYPE)
	if err != nil {
		return true
	}
	return typ == unix.SOCK_STREAM || typ == unix.SOCK_SEQPACKET
}

func totalLen(bufs [][]byte) int {
	var l int
	for _, b := range bufs {
		l += len(b)
	}
	return l
}

func ioError(err error) error {
	if err == nil || err == io.EOF {
		return err
	}
	return FromHost(err)
}
