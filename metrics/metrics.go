// Package metrics wires the engine's counters and gauges (component C13)
// through VictoriaMetrics/metrics, the same library the ValentinKolb-dKV
// reference repo uses for its RPC layer's counters. Everything here is a
// thin, prefixed convenience layer: callers get a pre-labeled Set rather
// than having to format metric names by hand at every call site.
package metrics

import (
	"fmt"

	"github.com/VictoriaMetrics/metrics"
)

// Set groups the counters for one engine subsystem (e.g. "xctmgr",
// "gleaner") under a common name prefix.
type Set struct {
	prefix string
	set    *metrics.Set
}

// NewSet creates a Set with the given prefix and registers it with the
// default metrics registry so it is included in WritePrometheus output.
func NewSet(prefix string) *Set {
	s := metrics.NewSet()
	metrics.RegisterSet(s)
	return &Set{prefix: prefix, set: s}
}

func (s *Set) name(metric string, labels ...string) string {
	if len(labels) == 0 {
		return fmt.Sprintf(`%s_%s`, s.prefix, metric)
	}
	if len(labels)%2 != 0 {
		panic("metrics: labels must be key/value pairs")
	}
	out := fmt.Sprintf(`%s_%s{`, s.prefix, metric)
	for i := 0; i < len(labels); i += 2 {
		if i > 0 {
			out += ","
		}
		out += fmt.Sprintf(`%s=%q`, labels[i], labels[i+1])
	}
	return out + "}"
}

// Counter returns (creating if needed) a monotonic counter.
func (s *Set) Counter(metric string, labels ...string) *metrics.Counter {
	return s.set.GetOrCreateCounter(s.name(metric, labels...))
}

// Gauge returns (creating if needed) a gauge backed by f.
func (s *Set) Gauge(metric string, f func() float64, labels ...string) *metrics.Gauge {
	return s.set.GetOrCreateGauge(s.name(metric, labels...), f)
}

// Histogram returns (creating if needed) a histogram, used for commit
// latency distributions.
func (s *Set) Histogram(metric string, labels ...string) *metrics.Histogram {
	return s.set.GetOrCreateHistogram(s.name(metric, labels...))
}
