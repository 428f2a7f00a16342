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
	"flag"
	"os"
	"os/signal"
	"time"

	"github.com/google/subcommands"
	"github.com/heptiolabs/healthcheck"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
	"gvisor.dev/dpoll/dpoll/config"
	"gvisor.dev/dpoll/pkg/echo"
	"gvisor.dev/dpoll/pkg/log"
	"gvisor.dev/dpoll/pkg/metric"
)

// Serve implements subcommands.Command for the "serve" command.
type Serve struct {
	pidFile          string
	goroutineLimit   int
	readinessTimeout time.Duration
}

// Name implements subcommands.Command.Name.
func (*Serve) Name() string {
	return "serve"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Serve) Synopsis() string {
	return "run an echo server on top of the reactor"
}

// Usage implements subcommands.Command.Usage.
func (*Serve) Usage() string {
	return `serve [flags] - listens on --addr and echoes every byte back until SIGINT or SIGTERM.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (s *Serve) SetFlags(f *flag.FlagSet) {
	f.StringVar(&s.pidFile, "pid-file", "", "filename that the server pid will be written to.")
	f.IntVar(&s.goroutineLimit, "goroutine-limit", 10000, "number of goroutines above which /live reports failure.")
	f.DurationVar(&s.readinessTimeout, "readiness-timeout", time.Second, "dial timeout of the /ready listener check.")
}

// Execute implements subcommands.Command.Execute.
func (s *Serve) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, unix.SIGTERM)
	defer stop()

	srv, err := echo.New(echo.Config{
		Addr:           conf.Addr,
		Loops:          conf.Loops,
		Backlog:        conf.Backlog,
		BufferSize:     conf.BufferSize,
		SendBuffer:     conf.SendBuffer,
		WaitTimeout:    conf.WaitTimeout,
		ReactorOptions: conf.ReactorOptions(),
	})
	if err != nil {
		Fatalf("creating echo server: %v", err)
	}
	defer srv.Close()

	g, ctx := errgroup.WithContext(ctx)
	if conf.MetricsAddr != "" {
		exp, err := metric.NewExporter(conf.MetricsAddr, conf.MetricsNamespace)
		if err != nil {
			Fatalf("creating metrics exporter on %q: %v", conf.MetricsAddr, err)
		}
		exp.Registry.MustRegister(metric.NewCollector(conf.MetricsNamespace, srv, srv))
		exp.AddReadinessCheck("listener", healthcheck.TCPDialCheck(srv.Addr(), s.readinessTimeout))
		exp.AddLivenessCheck("goroutines", healthcheck.GoroutineCountCheck(s.goroutineLimit))
		g.Go(func() error {
			return exp.Serve(ctx)
		})
	}
	g.Go(func() error {
		return srv.Serve(ctx)
	})

	if s.pidFile != "" {
		if err := writePidFile(s.pidFile); err != nil {
			Fatalf("%v", err)
		}
	}

	if err := g.Wait(); err != nil {
		Fatalf("serving: %v", err)
	}
	st := srv.Stats()
	log.Infof("Served %d connection(s): %d bytes in, %d bytes out", st.Accepted, st.BytesIn, st.BytesOut)
	return subcommands.ExitSuccess
}
