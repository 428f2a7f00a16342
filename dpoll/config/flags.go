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

package config

import (
	"flag"
	"fmt"
	"reflect"
	"strconv"

	"github.com/BurntSushi/toml"
	"gvisor.dev/dpoll/pkg/reactor"
)

// RegisterFlags registers flags used to populate Config.
func RegisterFlags(flagSet *flag.FlagSet) {
	flagSet.String("config", "", "path to a TOML file with settings. Flags given on the command line override it.")

	// Logging flags.
	flagSet.String("log-level", "info", "log verbosity: warning, info (default) or debug.")
	flagSet.String("log", "", "file path where logs are written, default is stderr. The following variables are available: %TIMESTAMP%, %COMMAND%.")
	flagSet.String("log-format", "text", "log format: text (default), json, json-k8s or logrus.")
	flagSet.Bool("alsologtostderr", false, "send log messages to stderr as well as --log.")

	// Flags that control reactor behavior.
	flagSet.Var(backendPtr(reactor.BackendEpoll), "backend", "polling mechanism: epoll (default) or poll.")
	flagSet.Bool("edge-triggered", false, "register descriptors in edge-triggered mode. Requires --backend=epoll.")
	flagSet.Int("max-events", reactor.DefaultMaxEvents, "maximum number of events returned by a single wait.")
	flagSet.Duration("wait-timeout", -1, "upper bound for a single wait. Negative blocks until an event arrives.")
	flagSet.Bool("strict-contracts", false, "panic on contract violations such as closing a descriptor twice.")

	// Flags that control the echo server.
	flagSet.String("addr", "127.0.0.1:7007", "host:port the echo server listens on.")
	flagSet.Int("loops", 1, "number of event loops.")
	flagSet.Int("backlog", 128, "listen(2) backlog.")
	flagSet.Int("buffer-size", 16<<10, "per-connection read buffer size in bytes.")
	flagSet.Int("send-buffer", 0, "if positive, SO_SNDBUF for accepted connections.")

	// Flags that control metrics.
	flagSet.String("metrics-addr", "", "if set, serve Prometheus metrics and health probes on this host:port.")
	flagSet.String("metrics-namespace", "dpoll", "prefix for exported metric names.")
}

func backendPtr(b reactor.Backend) *reactor.Backend {
	return &b
}

// NewFromFlags creates a new Config with values coming from command line
// flags and, if --config is set, from the named TOML file.
func NewFromFlags(flagSet *flag.FlagSet) (*Config, error) {
	conf := &Config{}
	conf.setFromFlags(flagSet, nil)

	if conf.ConfigFile != "" {
		if err := conf.loadFile(conf.ConfigFile); err != nil {
			return nil, err
		}
		// Flags given explicitly win over the file.
		explicit := make(map[string]bool)
		flagSet.Visit(func(f *flag.Flag) {
			explicit[f.Name] = true
		})
		conf.setFromFlags(flagSet, explicit)
	}

	if err := conf.validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// setFromFlags copies flag values into the tagged fields of c. If only is
// not nil, fields whose flag is not in only are left untouched.
func (c *Config) setFromFlags(flagSet *flag.FlagSet, only map[string]bool) {
	obj := reflect.ValueOf(c).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		name, ok := f.Tag.Lookup("flag")
		if !ok {
			// No flag set for this field.
			continue
		}
		if only != nil && !only[name] {
			continue
		}
		fl := flagSet.Lookup(name)
		if fl == nil {
			panic(fmt.Sprintf("Flag %q not found", name))
		}
		x := reflect.ValueOf(fl.Value.(flag.Getter).Get())
		obj.Field(i).Set(x)
	}
}

func (c *Config) loadFile(path string) error {
	md, err := toml.DecodeFile(path, c)
	if err != nil {
		return fmt.Errorf("error reading config file %q: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("unknown settings in config file %q: %v", path, undecoded)
	}
	return nil
}

// ToFlags returns a slice of flags that correspond to the given Config.
// Settings equal to their default are omitted.
func (c *Config) ToFlags() []string {
	var rv []string

	// Construct a temporary set for default plumbing.
	flagSet := flag.NewFlagSet("tmp", flag.ContinueOnError)
	RegisterFlags(flagSet)

	obj := reflect.ValueOf(c).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		name, ok := f.Tag.Lookup("flag")
		if !ok {
			continue
		}
		val := getVal(obj.Field(i))

		fl := flagSet.Lookup(name)
		if fl == nil {
			panic(fmt.Sprintf("Flag %q not found", name))
		}
		if val == fl.DefValue {
			continue
		}
		rv = append(rv, fmt.Sprintf("--%s=%s", fl.Name, val))
	}
	return rv
}

func getVal(field reflect.Value) string {
	if str, ok := field.Addr().Interface().(fmt.Stringer); ok {
		return str.String()
	}
	switch field.Kind() {
	case reflect.Bool:
		return strconv.FormatBool(field.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(field.Int(), 10)
	case reflect.String:
		return field.String()
	default:
		panic("unknown type " + field.Kind().String())
	}
}
