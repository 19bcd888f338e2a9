package watch

import "github.com/prometheus/client_golang/prometheus"

// metrics holds the watcher's counters. Prometheus counters work without
// registration, so a nil Registerer keeps them process-local.
type metrics struct {
	observed        *prometheus.CounterVec
	userEdits       prometheus.Counter
	generatorWrites prometheus.Counter
	dropped         prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		observed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "selfwrite",
			Subsystem: "watch",
			Name:      "events_observed_total",
			Help:      "Debounced change notifications processed, by operation.",
		}, []string{"op"}),
		userEdits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "selfwrite",
			Subsystem: "watch",
			Name:      "user_edits_total",
			Help:      "Changes attributed to a user and emitted.",
		}),
		generatorWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "selfwrite",
			Subsystem: "watch",
			Name:      "generator_writes_total",
			Help:      "Changes attributed to the generator and discarded.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "selfwrite",
			Subsystem: "watch",
			Name:      "events_dropped_total",
			Help:      "User edit events dropped because the channel was full.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.observed, m.userEdits, m.generatorWrites, m.dropped)
	}
	return m
}
