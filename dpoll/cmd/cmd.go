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

// Package cmd holds implementations of the dpoll commands.
package cmd

import (
	"fmt"
	"io"
	"os"

	"gvisor.dev/dpoll/pkg/log"
)

// version is set at link time with -X gvisor.dev/dpoll/dpoll/cmd.version=...
var version = "development"

// Version returns the dpoll version string.
func Version() string {
	return version
}

// ErrorLogger is where error messages should be written to. These messages
// are consumed by the supervisor that started dpoll.
var ErrorLogger io.Writer

// Fatalf logs the same message to the log, to ErrorLogger and to stderr, and
// exits with a failure status code.
func Fatalf(format string, args ...any) {
	log.WarningfAtDepth(1, format, args...)
	msg := fmt.Sprintf(format+"\n", args...)
	if ErrorLogger != nil {
		_, _ = io.WriteString(ErrorLogger, msg)
	}
	fmt.Fprint(os.Stderr, msg)
	os.Exit(128)
}
