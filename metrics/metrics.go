// Package metrics exports apartment runtime statistics to Prometheus.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/najoast/apartment/core"
)

const namespace = "apartment"

// Collector reads Runtime.Stats on every scrape, so it never holds on to
// torn-down apartments.
type Collector struct {
	rt *core.Runtime

	apartments     *prometheus.Desc
	handles        *prometheus.Desc
	inboxSize      *prometheus.Desc
	callsProcessed *prometheus.Desc
	lastPump       *prometheus.Desc
}

// NewCollector returns a collector for rt.
func NewCollector(rt *core.Runtime) *Collector {
	labels := []string{"apartment", "thread"}
	return &Collector{
		rt: rt,
		apartments: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "runtime", "apartments"),
			"Live apartments.",
			nil, nil,
		),
		handles: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "runtime", "agile_handles"),
			"Agile handles currently in the reference table.",
			nil, nil,
		),
		inboxSize: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "inbox", "size"),
			"Calls queued on the apartment inbox.",
			labels, nil,
		),
		callsProcessed: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "calls", "processed_total"),
			"Calls pumped by the apartment.",
			labels, nil,
		),
		lastPump: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "pump", "last_timestamp_seconds"),
			"Unix time of the last pumped call.",
			labels, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.apartments
	ch <- c.handles
	ch <- c.inboxSize
	ch <- c.callsProcessed
	ch <- c.lastPump
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	stats := c.rt.Stats()

	ch <- prometheus.MustNewConstMetric(c.apartments, prometheus.GaugeValue, float64(len(stats)))
	ch <- prometheus.MustNewConstMetric(c.handles, prometheus.GaugeValue, float64(c.rt.Agile().Len()))

	for _, st := range stats {
		id := strconv.FormatUint(uint64(st.ID), 10)
		ch <- prometheus.MustNewConstMetric(c.inboxSize, prometheus.GaugeValue, float64(st.InboxSize), id, st.Name)
		ch <- prometheus.MustNewConstMetric(c.callsProcessed, prometheus.CounterValue, float64(st.CallsProcessed), id, st.Name)
		if !st.LastPumpAt.IsZero() {
			ch <- prometheus.MustNewConstMetric(c.lastPump, prometheus.GaugeValue, float64(st.LastPumpAt.UnixNano())/1e9, id, st.Name)
		}
	}
}

// NewRegistry returns a registry holding the runtime collector and the Go
// runtime collector.
func NewRegistry(rt *core.Runtime) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		NewCollector(rt),
		collectors.NewGoCollector(),
	)
	return reg
}

// Handler serves the metrics gathered from reg.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}
