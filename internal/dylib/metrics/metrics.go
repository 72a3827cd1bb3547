// Package metrics exposes Prometheus instrumentation for the dylib runtime,
// registered on the default registry through promauto.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type dylibMetrics struct {
	invocations  *prometheus.CounterVec
	durations    *prometheus.HistogramVec
	timeouts     prometheus.Counter
	cacheSize    prometheus.Gauge
}

var (
	once sync.Once
	inst *dylibMetrics
)

func global() *dylibMetrics {
	once.Do(func() {
		inst = newDylibMetrics()
	})
	return inst
}

func newDylibMetrics() *dylibMetrics {
	return &dylibMetrics{
		invocations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "goatflow",
			Subsystem: "dylib",
			Name:      "invocations_total",
			Help:      "Plugin invocations, labeled by plugin file path and result",
		}, []string{"plugin", "result"}),
		durations: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "goatflow",
			Subsystem: "dylib",
			Name:      "invocation_duration_seconds",
			Help:      "Plugin invocation duration from dispatch to assembled response",
			Buckets:   prometheus.DefBuckets,
		}, []string{"plugin"}),
		timeouts: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "goatflow",
			Subsystem: "dylib",
			Name:      "invocation_timeouts_total",
			Help:      "Invocations that exceeded the poll timeout without a response",
		}),
		cacheSize: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "goatflow",
			Subsystem: "dylib",
			Name:      "library_cache_size",
			Help:      "Number of distinct plugin libraries currently cached in-process",
		}),
	}
}

// RecordInvocation starts a timer for plugin; call the returned func with
// the outcome once the invocation completes.
func RecordInvocation(plugin string) func(success bool) {
	m := global()
	timer := prometheus.NewTimer(m.durations.WithLabelValues(plugin))
	return func(success bool) {
		timer.ObserveDuration()
		result := "success"
		if !success {
			result = "error"
		}
		m.invocations.WithLabelValues(plugin, result).Inc()
	}
}

// RecordTimeout increments the timeout counter.
func RecordTimeout() {
	global().timeouts.Inc()
}

// SetCacheSize reports the current library cache size.
func SetCacheSize(n int) {
	global().cacheSize.Set(float64(n))
}
