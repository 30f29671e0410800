// Package metrics exposes Prometheus collectors for the spool dispatcher.
package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	entriesProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "msgrelay",
			Subsystem: "dispatch",
			Name:      "entries_total",
			Help:      "Number of processed spool entries by terminal outcome.",
		}, []string{"outcome"},
	)
	relayFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "msgrelay",
			Subsystem: "dispatch",
			Name:      "relay_failures_total",
			Help:      "Number of failed relay attempts per destination host.",
		}, []string{"host"},
	)
	localCommands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "msgrelay",
			Subsystem: "dispatch",
			Name:      "local_commands_total",
			Help:      "Number of locally executed record commands by result.",
		}, []string{"result"},
	)
	processSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "msgrelay",
			Subsystem: "dispatch",
			Name:      "process_seconds",
			Help:      "Wall time spent dispatching one spool entry.",
			Buckets:   prometheus.DefBuckets,
		},
	)
	queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "msgrelay",
			Subsystem: "spool",
			Name:      "entries",
			Help:      "Current entry count per spool state directory.",
		}, []string{"state"},
	)
	scanRecovered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "msgrelay",
			Subsystem: "spool",
			Name:      "scan_recovered_total",
			Help:      "Entries found by the startup reconciliation scan.",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{entriesProcessed, relayFailures, localCommands, processSeconds, queueDepth, scanRecovered}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler serving Prometheus metrics for the
// DefaultGatherer. The caller wires the route.
func Handler() http.Handler { return promhttp.Handler() }

// Helpers below no-op until Register has been called.

func IncEntry(outcome string) {
	if regOK.Load() {
		entriesProcessed.WithLabelValues(outcome).Inc()
	}
}

func IncRelayFailure(host string) {
	if regOK.Load() {
		relayFailures.WithLabelValues(host).Inc()
	}
}

func IncLocalCommand(result string) {
	if regOK.Load() {
		localCommands.WithLabelValues(result).Inc()
	}
}

func ObserveProcessSeconds(seconds float64) {
	if regOK.Load() {
		processSeconds.Observe(seconds)
	}
}

func SetQueueDepth(state string, n int) {
	if regOK.Load() {
		queueDepth.WithLabelValues(state).Set(float64(n))
	}
}

func AddScanRecovered(n int) {
	if regOK.Load() {
		scanRecovered.Add(float64(n))
	}
}
