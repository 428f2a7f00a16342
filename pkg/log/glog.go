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
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// GoogleEmitter prefixes each line with a glog-style header:
//
//	Lmmdd hh:mm:ss.uuuuuu pid file:line] msg
//
// where L is the level letter (D, I or W) and pid is right-aligned in seven
// columns, as github.com/golang/glog does for thread ids.
type GoogleEmitter struct {
	Emitter
}

// glogTime is the mmdd hh:mm:ss.uuuuuu part of the header.
const glogTime = "0102 15:04:05.000000"

// glogPid is the space-padded pid column.
var glogPid = padLeft(strconv.Itoa(os.Getpid()), 7)

func padLeft(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return strings.Repeat(" ", width-len(s)) + s
}

// caller returns the base file name and line of the frame skip levels above
// the caller of caller.
func caller(skip int) (string, int, bool) {
	_, file, line, ok := runtime.Caller(skip + 1)
	if !ok {
		return "", 0, false
	}
	if slash := strings.LastIndexByte(file, '/'); slash >= 0 {
		file = file[slash+1:]
	}
	return file, line, true
}

func levelLetter(level Level) byte {
	switch level {
	case Debug:
		return 'D'
	case Info:
		return 'I'
	default:
		return 'W'
	}
}

// Emit implements Emitter.Emit. A negative depth skips the caller lookup.
func (g GoogleEmitter) Emit(depth int, level Level, timestamp time.Time, format string, args ...any) {
	// Most headers fit, so the line is built without a heap allocation.
	var local [256]byte
	b := append(local[:0], levelLetter(level))
	b = timestamp.AppendFormat(b, glogTime)
	b = append(b, ' ')
	b = append(b, glogPid...)
	b = append(b, ' ')

	file, line := "x", 0
	if depth >= 0 {
		if f, l, ok := caller(depth + 1); ok {
			file, line = f, l
		}
	}
	b = append(b, file...)
	b = append(b, ':')
	b = strconv.AppendInt(b, int64(line), 10)
	b = append(b, "] "...)
	b = append(b, format...)
	b = append(b, '\n')

	// The downstream emitter formats b before returning.
	g.Emitter.Emit(depth, level, timestamp, unsafeString(b), args...)
}
