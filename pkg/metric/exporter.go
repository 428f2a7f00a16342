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

package metric

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gvisor.dev/dpoll/pkg/log"
)

// shutdownTimeout bounds the graceful shutdown of the HTTP server.
const shutdownTimeout = 5 * time.Second

// Exporter serves /metrics in the Prometheus text format, plus /live and
// /ready health endpoints.
type Exporter struct {
	Registry *prometheus.Registry

	health   healthcheck.Handler
	listener net.Listener
	srv      *http.Server
}

// NewExporter listens on addr and returns an Exporter whose registry already
// holds the Go runtime and process collectors. Health check results are
// exported as metrics under namespace.
func NewExporter(addr, namespace string) (*Exporter, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	health := healthcheck.NewMetricsHandler(reg, namespace)

	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.HandleFunc("/live", health.LiveEndpoint)
	mux.HandleFunc("/ready", health.ReadyEndpoint)

	return &Exporter{
		Registry: reg,
		health:   health,
		listener: l,
		srv: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// Addr returns the address the exporter listens on.
func (e *Exporter) Addr() string {
	return e.listener.Addr().String()
}

// AddLivenessCheck adds a check that must pass for /live to succeed.
func (e *Exporter) AddLivenessCheck(name string, check healthcheck.Check) {
	e.health.AddLivenessCheck(name, check)
}

// AddReadinessCheck adds a check that must pass for /ready to succeed.
func (e *Exporter) AddReadinessCheck(name string, check healthcheck.Check) {
	e.health.AddReadinessCheck(name, check)
}

// Serve serves HTTP until ctx is cancelled, then shuts down gracefully.
func (e *Exporter) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- e.srv.Serve(e.listener)
	}()
	log.Infof("metric: serving on http://%s/metrics", e.Addr())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.srv.Shutdown(sctx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
