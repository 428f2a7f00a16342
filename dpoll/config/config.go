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

// Package config provides basic infrastructure to set configuration settings
// for dpoll. Each setting that can be changed from the command line must have
// a corresponding flag. A TOML file named by --config may supply any setting;
// flags given explicitly on the command line take precedence over the file.
package config

import (
	"fmt"
	"time"

	"gvisor.dev/dpoll/pkg/log"
	"gvisor.dev/dpoll/pkg/reactor"
)

// Config holds configuration that is not part of the subcommand flags.
type Config struct {
	// ConfigFile is the path of an optional TOML file with settings.
	ConfigFile string `flag:"config" toml:"-"`

	// Addr is the host:port the echo server listens on.
	Addr string `flag:"addr" toml:"addr"`

	// Loops is the number of event loops, each with its own reactor.
	Loops int `flag:"loops" toml:"loops"`

	// Backlog is the listen(2) backlog.
	Backlog int `flag:"backlog" toml:"backlog"`

	// BufferSize is the per-connection read buffer size.
	BufferSize int `flag:"buffer-size" toml:"buffer_size"`

	// SendBuffer, if positive, sets SO_SNDBUF on accepted connections.
	SendBuffer int `flag:"send-buffer" toml:"send_buffer"`

	// MaxEvents is the maximum number of events returned by a single wait.
	MaxEvents int `flag:"max-events" toml:"max_events"`

	// WaitTimeout bounds each wait. Negative values block until an event
	// arrives.
	WaitTimeout time.Duration `flag:"wait-timeout" toml:"wait_timeout"`

	// EdgeTriggered registers every descriptor in edge-triggered mode.
	EdgeTriggered bool `flag:"edge-triggered" toml:"edge_triggered"`

	// Backend selects the polling mechanism.
	Backend reactor.Backend `flag:"backend" toml:"backend"`

	// StrictContracts turns contract violations into panics.
	StrictContracts bool `flag:"strict-contracts" toml:"strict_contracts"`

	// LogLevel is one of "warning", "info" or "debug".
	LogLevel string `flag:"log-level" toml:"log_level"`

	// LogFilename is the file pattern logs are written to. Empty means
	// stderr. %COMMAND% and %TIMESTAMP% are expanded.
	LogFilename string `flag:"log" toml:"log"`

	// LogFormat is one of "text", "json", "json-k8s" or "logrus".
	LogFormat string `flag:"log-format" toml:"log_format"`

	// AlsoLogToStderr duplicates file logs to stderr.
	AlsoLogToStderr bool `flag:"alsologtostderr" toml:"alsologtostderr"`

	// MetricsAddr, if set, serves Prometheus metrics and health probes on
	// this address.
	MetricsAddr string `flag:"metrics-addr" toml:"metrics_addr"`

	// MetricsNamespace prefixes every exported metric.
	MetricsNamespace string `flag:"metrics-namespace" toml:"metrics_namespace"`
}

func (c *Config) validate() error {
	if c.Loops < 1 {
		return fmt.Errorf("loops must be at least 1, got %d", c.Loops)
	}
	if c.MaxEvents < 0 {
		return fmt.Errorf("max-events must not be negative, got %d", c.MaxEvents)
	}
	if c.BufferSize < 1 {
		return fmt.Errorf("buffer-size must be positive, got %d", c.BufferSize)
	}
	if c.EdgeTriggered && c.Backend == reactor.BackendPoll {
		return fmt.Errorf("edge-triggered mode requires the %v backend", reactor.BackendEpoll)
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.LogFormat {
	case "text", "json", "json-k8s", "logrus":
	default:
		return fmt.Errorf("invalid log format %q, must be 'text', 'json', 'json-k8s' or 'logrus'", c.LogFormat)
	}
	return nil
}

// Level returns the parsed log level.
func (c *Config) Level() log.Level {
	l, _ := log.ParseLevel(c.LogLevel)
	return l
}

// ReactorOptions translates the reactor settings into options for
// reactor.Open.
func (c *Config) ReactorOptions() []reactor.Option {
	opts := []reactor.Option{
		reactor.WithBackend(c.Backend),
		reactor.WithMaxEvents(c.MaxEvents),
	}
	if c.EdgeTriggered {
		opts = append(opts, reactor.WithEdgeTriggered())
	}
	if c.StrictContracts {
		opts = append(opts, reactor.WithStrictContracts())
	}
	return opts
}

// Log prints the configuration to the log.
func (c *Config) Log() {
	log.Infof("Config:")
	for _, f := range c.ToFlags() {
		log.Infof("\t%s", f)
	}
	log.Infof("\tbackend: %v, edge-triggered: %t, loops: %d", c.Backend, c.EdgeTriggered, c.Loops)
}
