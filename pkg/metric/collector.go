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

// Package metric exports reactor and echo server statistics to Prometheus.
package metric

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"gvisor.dev/dpoll/pkg/echo"
	"gvisor.dev/dpoll/pkg/reactor"
)

// LoopSource reports the statistics of a set of reactor loops, indexed by
// loop number.
type LoopSource interface {
	LoopStats() []reactor.Stats
}

// ServerSource reports echo server statistics.
type ServerSource interface {
	Stats() echo.Stats
}

// Collector implements prometheus.Collector over LoopSource and ServerSource.
// Values are read at scrape time.
type Collector struct {
	loops  LoopSource
	server ServerSource

	waits           *prometheus.Desc
	events          *prometheus.Desc
	staleEvents     *prometheus.Desc
	suppressed      *prometheus.Desc
	handlerFailures *prometheus.Desc
	cancellations   *prometheus.Desc
	interrupts      *prometheus.Desc
	registered      *prometheus.Desc

	accepted      *prometheus.Desc
	active        *prometheus.Desc
	bytesIn       *prometheus.Desc
	bytesOut      *prometheus.Desc
	partialWrites *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector returns a Collector with metric names under namespace. server
// may be nil.
func NewCollector(namespace string, loops LoopSource, server ServerSource) *Collector {
	loopDesc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "reactor", name), help, []string{"loop"}, nil)
	}
	serverDesc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "echo", name), help, nil, nil)
	}
	return &Collector{
		loops:  loops,
		server: server,

		waits:           loopDesc("waits_total", "Number of calls to Wait."),
		events:          loopDesc("events_total", "Number of events returned by Wait."),
		staleEvents:     loopDesc("stale_events_total", "Number of kernel notifications dropped for stale registrations."),
		suppressed:      loopDesc("suppressed_events_total", "Number of events skipped because their descriptor was closed."),
		handlerFailures: loopDesc("handler_failures_total", "Number of handlers that returned an error or panicked."),
		cancellations:   loopDesc("cancellations_total", "Number of waits ended by cancellation."),
		interrupts:      loopDesc("interrupts_total", "Number of interrupted polling system calls."),
		registered:      loopDesc("registered_descriptors", "Number of registered descriptors."),

		accepted:      serverDesc("accepted_connections_total", "Number of accepted connections."),
		active:        serverDesc("active_connections", "Number of open connections."),
		bytesIn:       serverDesc("received_bytes_total", "Number of bytes read from clients."),
		bytesOut:      serverDesc("sent_bytes_total", "Number of bytes written back to clients."),
		partialWrites: serverDesc("partial_writes_total", "Number of writes the kernel accepted only partially."),
	}
}

// Describe implements prometheus.Collector.Describe.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.waits, c.events, c.staleEvents, c.suppressed, c.handlerFailures,
		c.cancellations, c.interrupts, c.registered,
	} {
		ch <- d
	}
	if c.server != nil {
		for _, d := range []*prometheus.Desc{c.accepted, c.active, c.bytesIn, c.bytesOut, c.partialWrites} {
			ch <- d
		}
	}
}

// Collect implements prometheus.Collector.Collect.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	counter := func(d *prometheus.Desc, v uint64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}
	for i, s := range c.loops.LoopStats() {
		loop := strconv.Itoa(i)
		counter(c.waits, s.Waits, loop)
		counter(c.events, s.Events, loop)
		counter(c.staleEvents, s.StaleEvents, loop)
		counter(c.suppressed, s.Suppressed, loop)
		counter(c.handlerFailures, s.HandlerFailures, loop)
		counter(c.cancellations, s.Cancellations, loop)
		counter(c.interrupts, s.Interrupts, loop)
		ch <- prometheus.MustNewConstMetric(c.registered, prometheus.GaugeValue, float64(s.Registered), loop)
	}
	if c.server == nil {
		return
	}
	s := c.server.Stats()
	counter(c.accepted, s.Accepted)
	ch <- prometheus.MustNewConstMetric(c.active, prometheus.GaugeValue, float64(s.Accepted-s.Closed))
	counter(c.bytesIn, s.BytesIn)
	counter(c.bytesOut, s.BytesOut)
	counter(c.partialWrites, s.PartialWrites)
}
