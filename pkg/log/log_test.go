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

package log

import (
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

type testWriter struct {
	lines []string
	fail  bool
}

func (w *testWriter) Write(bytes []byte) (int, error) {
	if w.fail {
		return 0, fmt.Errorf("simulated failure")
	}
	w.lines = append(w.lines, string(bytes))
	return len(bytes), nil
}

func TestDropMessages(t *testing.T) {
	tw := &testWriter{}
	w := Writer{Next: tw}
	if _, err := w.Write([]byte("line 1\n")); err != nil {
		t.Fatalf("Write failed, err: %v", err)
	}

	tw.fail = true
	if _, err := w.Write([]byte("error\n")); err == nil {
		t.Fatalf("Write should have failed")
	}
	if _, err := w.Write([]byte("error\n")); err == nil {
		t.Fatalf("Write should have failed")
	}

	tw.fail = false
	if _, err := w.Write([]byte("line 2\n")); err != nil {
		t.Fatalf("Write failed, err: %v", err)
	}

	expected := []string{
		"line 1\n",
		"line 2\n",
		"\n*** Dropped 2 log messages ***\n",
	}
	if diff := cmp.Diff(expected, tw.lines); diff != "" {
		t.Fatalf("Writer lines mismatch (-want +got):\n%s", diff)
	}
}

type countingEmitter struct {
	lines []string
}

func (c *countingEmitter) Emit(_ int, _ Level, _ time.Time, format string, v ...any) {
	c.lines = append(c.lines, fmt.Sprintf(format, v...))
}

func TestLevelFiltering(t *testing.T) {
	ce := &countingEmitter{}
	l := &BasicLogger{Level: Info, Emitter: ce}
	l.Debugf("debug %d", 1)
	l.Infof("info %d", 2)
	l.Warningf("warning %d", 3)
	if diff := cmp.Diff([]string{"info 2", "warning 3"}, ce.lines); diff != "" {
		t.Errorf("emitted lines mismatch (-want +got):\n%s", diff)
	}

	l.SetLevel(Debug)
	if !l.IsLogging(Debug) {
		t.Errorf("IsLogging(Debug) = false after SetLevel(Debug)")
	}
}

func TestRateLimitedLogger(t *testing.T) {
	ce := &countingEmitter{}
	rl := RateLimitedLogger(&BasicLogger{Level: Debug, Emitter: ce}, time.Hour)
	for i := 0; i < 10; i++ {
		rl.Warningf("stale token %d", i)
	}
	if got, want := len(ce.lines), 1; got != want {
		t.Errorf("rate limited logger emitted %d lines, want %d", got, want)
	}
}

func TestRateLimitedLoggerReportsSuppressed(t *testing.T) {
	ce := &countingEmitter{}
	rl := RateLimitedLogger(&BasicLogger{Level: Debug, Emitter: ce}, 100*time.Millisecond)
	for i := 0; i < 10; i++ {
		rl.Infof("handler failed on fd %d", i)
	}
	time.Sleep(150 * time.Millisecond)
	rl.Infof("handler failed on fd %d", 10)

	if got, want := len(ce.lines), 2; got != want {
		t.Fatalf("rate limited logger emitted %d lines, want %d: %q", got, want, ce.lines)
	}
	if got, want := ce.lines[1], "handler failed on fd 10 (9 similar messages suppressed)"; got != want {
		t.Errorf("second line = %q, want %q", got, want)
	}
}

func TestGoogleEmitterFormat(t *testing.T) {
	tw := &testWriter{}
	e := GoogleEmitter{&Writer{Next: tw}}
	ts := time.Date(2026, time.March, 4, 5, 6, 7, 8000, time.UTC)
	e.Emit(0, Warning, ts, "hello %s", "world")
	if len(tw.lines) != 1 {
		t.Fatalf("got %d lines, want 1: %v", len(tw.lines), tw.lines)
	}
	line := tw.lines[0]
	if !strings.HasPrefix(line, "W0304 05:06:07.000008 ") {
		t.Errorf("line %q does not start with the glog header", line)
	}
	if !strings.Contains(line, "log_test.go:") {
		t.Errorf("line %q does not carry the caller", line)
	}
	if !strings.HasSuffix(line, "] hello world\n") {
		t.Errorf("line %q does not end with the message", line)
	}
}

func TestParseLevel(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want Level
	}{
		{"warning", Warning},
		{"info", Info},
		{"debug", Debug},
	} {
		got, err := ParseLevel(tc.in)
		if err != nil || got != tc.want {
			t.Errorf("ParseLevel(%q) = %v, %v; want %v, nil", tc.in, got, err, tc.want)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Errorf("ParseLevel(%q) succeeded, want error", "loud")
	}
}

func TestOpenFile(t *testing.T) {
	dir := t.TempDir()
	opts := PatternOpts{Command: "serve", Start: time.Unix(0, 1234)}
	if got, want := opts.Build(dir+"/%COMMAND%/%TIMESTAMP%.log"), dir+"/serve/1234.log"; got != want {
		t.Errorf("Build() = %q, want %q", got, want)
	}

	f, err := OpenFile(dir+"/%COMMAND%/%TIMESTAMP%.log", os.O_WRONLY|os.O_CREATE|os.O_APPEND, opts)
	if err != nil {
		t.Fatalf("OpenFile(): %v", err)
	}
	defer f.Close()
	if got, want := f.Name(), dir+"/serve/1234.log"; got != want {
		t.Errorf("Name() = %q, want %q", got, want)
	}

	if f, err := OpenFile("", os.O_RDONLY, opts); f != nil || err != nil {
		t.Errorf("OpenFile(\"\") = %v, %v; want nil, nil", f, err)
	}
}

func TestGoogleEmitterWithoutCaller(t *testing.T) {
	tw := &testWriter{}
	e := GoogleEmitter{&Writer{Next: tw}}
	ts := time.Date(2026, time.December, 31, 23, 59, 59, 999999000, time.UTC)
	e.Emit(-1, Debug, ts, "%d%%", 50)
	if len(tw.lines) != 1 {
		t.Fatalf("got %d lines, want 1: %v", len(tw.lines), tw.lines)
	}
	want := "D1231 23:59:59.999999 " + glogPid + " x:0] 50%\n"
	if got := tw.lines[0]; got != want {
		t.Errorf("line = %q, want %q", got, want)
	}
}
