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

	performerStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "orchestral",
			Subsystem: "performer",
			Name:      "starts_total",
			Help:      "Number of successful performer spawns.",
		}, []string{"name"},
	)
	performerStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "orchestral",
			Subsystem: "performer",
			Name:      "stops_total",
			Help:      "Number of termination signals sent to performers.",
		}, []string{"name"},
	)
	performerRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "orchestral",
			Subsystem: "performer",
			Name:      "restarts_total",
			Help:      "Number of performer restarts.",
		}, []string{"name"},
	)
	monitorRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "orchestral",
			Subsystem: "monitor",
			Name:      "restarts_total",
			Help:      "Restarts issued by the monitor, by performance and reason.",
		}, []string{"performance", "reason"},
	)
	restartFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "orchestral",
			Subsystem: "monitor",
			Name:      "restart_budget_exhausted_total",
			Help:      "Performers given up on after exhausting their restart budget.",
		}, []string{"performance"},
	)
	memoryAlerts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "orchestral",
			Subsystem: "monitor",
			Name:      "memory_alerts_total",
			Help:      "Performers observed above the memory alert threshold.",
		}, []string{"performance"},
	)
	monitorTicks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "orchestral",
			Subsystem: "monitor",
			Name:      "ticks_total",
			Help:      "Completed monitor ticks.",
		},
	)
	conducts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "orchestral",
			Name:      "conducts_total",
			Help:      "Number of times a performance was conducted.",
		}, []string{"performance"},
	)
	runningPerformers = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "orchestral",
			Name:      "running_performers",
			Help:      "Live performers per performance.",
		}, []string{"performance"},
	)
	performerMemory = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "orchestral",
			Subsystem: "performer",
			Name:      "memory_mb",
			Help:      "Resident memory of a performer in megabytes.",
		}, []string{"name"},
	)
	performerCPU = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "orchestral",
			Subsystem: "performer",
			Name:      "cpu_percent",
			Help:      "CPU share of a performer.",
		}, []string{"name"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		performerStarts, performerStops, performerRestarts, monitorRestarts, restartFailures,
		memoryAlerts, monitorTicks, conducts, runningPerformers, performerMemory, performerCPU,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// already registered (e.g. default registry in a second call) is fine
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
func Handler() http.Handler { return promhttp.Handler() }

// HandlerFor serves metrics from a specific gatherer.
func HandlerFor(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncStart(name string) {
	if regOK.Load() {
		performerStarts.WithLabelValues(name).Inc()
	}
}

func IncStop(name string) {
	if regOK.Load() {
		performerStops.WithLabelValues(name).Inc()
	}
}

func IncRestart(name string) {
	if regOK.Load() {
		performerRestarts.WithLabelValues(name).Inc()
	}
}

func IncMonitorRestart(performance, reason string) {
	if regOK.Load() {
		monitorRestarts.WithLabelValues(performance, reason).Inc()
	}
}

func IncRestartBudgetExhausted(performance string) {
	if regOK.Load() {
		restartFailures.WithLabelValues(performance).Inc()
	}
}

func IncMemoryAlert(performance string) {
	if regOK.Load() {
		memoryAlerts.WithLabelValues(performance).Inc()
	}
}

func IncMonitorTick() {
	if regOK.Load() {
		monitorTicks.Inc()
	}
}

func IncConduct(performance string) {
	if regOK.Load() {
		conducts.WithLabelValues(performance).Inc()
	}
}

func SetRunningPerformers(performance string, n int) {
	if regOK.Load() {
		runningPerformers.WithLabelValues(performance).Set(float64(n))
	}
}

// ObservePerformer records the latest probe values; nil values clear the series.
func ObservePerformer(name string, memoryMB, cpuPercent *float64) {
	if !regOK.Load() {
		return
	}
	if memoryMB != nil {
		performerMemory.WithLabelValues(name).Set(*memoryMB)
	} else {
		performerMemory.DeleteLabelValues(name)
	}
	if cpuPercent != nil {
		performerCPU.WithLabelValues(name).Set(*cpuPercent)
	} else {
		performerCPU.DeleteLabelValues(name)
	}
}

// ForgetPerformer drops the per-performer gauges after it is stopped.
func ForgetPerformer(name string) {
	if regOK.Load() {
		performerMemory.DeleteLabelValues(name)
		performerCPU.DeleteLabelValues(name)
	}
}
