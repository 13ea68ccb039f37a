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

	workerStarts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "worker",
			Name:      "starts_total",
			Help:      "Number of successful worker starts.",
		},
	)
	workerStops = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "worker",
			Name:      "stops_total",
			Help:      "Number of worker stops (graceful or kill).",
		},
	)
	workerKills = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "worker",
			Name:      "kills_total",
			Help:      "Number of SIGKILL escalations after the graceful wait expired.",
		},
	)
	workerSpawnFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "worker",
			Name:      "spawn_failures_total",
			Help:      "Number of worker start attempts that failed to spawn.",
		},
	)
	workerRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "warden",
			Subsystem: "worker",
			Name:      "running",
			Help:      "1 when the worker process is running, 0 otherwise.",
		},
	)
	workerUptime = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "warden",
			Subsystem: "worker",
			Name:      "uptime_seconds",
			Help:      "Wall-clock seconds since the current worker run started.",
		},
	)
	outcomeRecords = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "warden",
			Subsystem: "outcome",
			Name:      "records",
			Help:      "Current number of stored outcome records per result.",
		}, []string{"result"},
	)
	tailRequests = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "http",
			Name:      "tail_requests_total",
			Help:      "Number of log tail requests served.",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{workerStarts, workerStops, workerKills, workerSpawnFailures, workerRunning, workerUptime, outcomeRecords, tailRequests}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
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

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
// The caller is responsible for starting an HTTP server and wiring the route.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncStart() {
	if regOK.Load() {
		workerStarts.Inc()
	}
}

func IncStop() {
	if regOK.Load() {
		workerStops.Inc()
	}
}

func IncKill() {
	if regOK.Load() {
		workerKills.Inc()
	}
}

func IncSpawnFailure() {
	if regOK.Load() {
		workerSpawnFailures.Inc()
	}
}

func SetRunning(running bool) {
	if regOK.Load() {
		var v float64
		if running {
			v = 1
		}
		workerRunning.Set(v)
	}
}

func SetUptimeSeconds(seconds float64) {
	if regOK.Load() {
		workerUptime.Set(seconds)
	}
}

func SetOutcomeRecords(success, failure int) {
	if regOK.Load() {
		outcomeRecords.WithLabelValues("success").Set(float64(success))
		outcomeRecords.WithLabelValues("failure").Set(float64(failure))
	}
}

func IncTailRequest() {
	if regOK.Load() {
		tailRequests.Inc()
	}
}
