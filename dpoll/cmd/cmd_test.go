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
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"gvisor.dev/dpoll/pkg/echo"
	"gvisor.dev/dpoll/pkg/reactor"
)

func startEcho(t *testing.T) string {
	t.Helper()
	srv, err := echo.New(echo.Config{Addr: "127.0.0.1:0", Loops: 2, WaitTimeout: -1})
	if err != nil {
		t.Fatalf("echo.New(): %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- srv.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Serve(): %v", err)
		}
		srv.Close()
	})
	return srv.Addr()
}

func TestProbeConn(t *testing.T) {
	addr := startEcho(t)
	for _, be := range []reactor.Backend{reactor.BackendEpoll, reactor.BackendPoll} {
		t.Run(be.String(), func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			const messages, size = 20, 100 << 10
			n, err := probeConn(ctx, addr, messages, size, be)
			if err != nil {
				t.Fatalf("probeConn(): %v", err)
			}
			if want := uint64(messages * size); n != want {
				t.Errorf("probeConn() echoed %d bytes, want %d", n, want)
			}
		})
	}
}

func TestProbeConnRefused(t *testing.T) {
	// Grab a free port and release it so nothing listens there.
	srv, err := echo.New(echo.Config{Addr: "127.0.0.1:0"})
	if err != nil {
		t.Fatalf("echo.New(): %v", err)
	}
	addr := srv.Addr()
	srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	start := time.Now()
	if _, err := probeConn(ctx, addr, 1, 1, reactor.BackendEpoll); err == nil {
		t.Fatalf("probeConn() to closed port: got nil error")
	}
	// Retries continue until the deadline.
	if elapsed := time.Since(start); elapsed < 150*time.Millisecond {
		t.Errorf("probeConn() gave up after %v, want retries until the deadline", elapsed)
	}
}

func TestProbeConnBadAddress(t *testing.T) {
	if _, err := probeConn(context.Background(), "not an address", 1, 1, reactor.BackendEpoll); err == nil {
		t.Fatalf("probeConn() with bad address: got nil error")
	}
}

func TestWritePidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dpoll.pid")
	// Replacing an existing file must work too.
	for i := 0; i < 2; i++ {
		if err := writePidFile(path); err != nil {
			t.Fatalf("writePidFile(): %v", err)
		}
		b, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("ReadFile(): %v", err)
		}
		if got, want := string(b), strconv.Itoa(os.Getpid()); got != want {
			t.Errorf("pid file contents = %q, want %q", got, want)
		}
	}
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("ReadDir(): %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("directory has %d entries, want only the pid file", len(entries))
	}
}

func TestWritePidFileMissingDir(t *testing.T) {
	err := writePidFile(filepath.Join(t.TempDir(), "missing", "dpoll.pid"))
	if err == nil {
		t.Errorf("writePidFile() in missing dir: got nil error")
	}
}
