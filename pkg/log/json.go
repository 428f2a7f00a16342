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
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// MarshalJSON implements json.Marshaler.MarshalJSON. Levels are written by
// lowercase name.
func (l Level) MarshalJSON() ([]byte, error) {
	switch l {
	case Warning, Info, Debug:
		return json.Marshal(strings.ToLower(l.String()))
	default:
		return nil, fmt.Errorf("unknown level %v", l)
	}
}

// UnmarshalJSON implements json.Unmarshaler.UnmarshalJSON. It accepts the
// names produced by MarshalJSON as well as the numeric values.
func (l *Level) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err == nil && name != "" {
		v, err := ParseLevel(name)
		if err != nil {
			return err
		}
		*l = v
		return nil
	}
	var n int
	if err := json.Unmarshal(b, &n); err != nil || n < int(Warning) || n > int(Debug) {
		return fmt.Errorf("unknown level %s", b)
	}
	*l = Level(n)
	return nil
}

// jsonLog is one log line. Exactly one of Msg and Log is set, depending on
// the emitter.
type jsonLog struct {
	Msg   string    `json:"msg,omitempty"`
	Log   string    `json:"log,omitempty"`
	Level Level     `json:"level"`
	Time  time.Time `json:"time"`
}

// callerLine prefixes line with the file:line of the frame skip levels above
// the caller of callerLine.
func callerLine(skip int, line string) string {
	file, n, ok := caller(skip + 1)
	if !ok {
		return line
	}
	return fmt.Sprintf("%s:%d] %s", file, n, line)
}

func writeJSON(w *Writer, j jsonLog) {
	b, err := json.Marshal(j)
	if err != nil {
		panic(err)
	}
	w.Write(b)
}

// JSONEmitter logs messages in json format, with the message under "msg".
type JSONEmitter struct {
	*Writer
}

// Emit implements Emitter.Emit.
func (e JSONEmitter) Emit(depth int, level Level, timestamp time.Time, format string, v ...any) {
	writeJSON(e.Writer, jsonLog{
		Msg:   callerLine(depth+1, fmt.Sprintf(format, v...)),
		Level: level,
		Time:  timestamp,
	})
}

// K8sJSONEmitter logs messages in json format that is compatible with
// Kubernetes fluent configuration, with the message under "log".
type K8sJSONEmitter struct {
	*Writer
}

// Emit implements Emitter.Emit.
func (e K8sJSONEmitter) Emit(depth int, level Level, timestamp time.Time, format string, v ...any) {
	writeJSON(e.Writer, jsonLog{
		Log:   callerLine(depth+1, fmt.Sprintf(format, v...)),
		Level: level,
		Time:  timestamp,
	})
}
