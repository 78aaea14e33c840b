// Package metrics exports session manager instrumentation to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ggoodman/idp-sessions-go/sessionmanager"
)

// Prometheus implements sessionmanager.MetricsSink. Unknown metric names are
// ignored; missing tags are reported as empty labels.
type Prometheus struct {
	created         prometheus.Counter
	destroyed       *prometheus.CounterVec
	lookups         *prometheus.CounterVec
	lifetime        *prometheus.HistogramVec
	evictionDropped prometheus.Counter
	publishFailed   *prometheus.CounterVec
}

// NewPrometheus creates the collectors and registers them with reg.
func NewPrometheus(reg prometheus.Registerer) (*Prometheus, error) {
	p := &Prometheus{
		created: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "idp_sessions_created_total",
			Help: "Total number of sessions stored",
		}),
		destroyed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "idp_sessions_destroyed_total",
				Help: "Total number of sessions removed, by reason",
			},
			[]string{"reason"},
		),
		lookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "idp_session_lookups_total",
				Help: "Session lookups by result",
			},
			[]string{"result"},
		),
		lifetime: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "idp_session_lifetime_seconds",
				Help:    "Time between session creation and removal",
				Buckets: prometheus.ExponentialBuckets(60, 2, 10),
			},
			[]string{"reason"},
		),
		evictionDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "idp_session_evictions_dropped_total",
			Help: "Expiry notices dropped because the eviction queue was full",
		}),
		publishFailed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "idp_session_events_publish_failed_total",
				Help: "Lifecycle events the publisher refused, by type",
			},
			[]string{"type"},
		),
	}

	for _, c := range []prometheus.Collector{p.created, p.destroyed, p.lookups, p.lifetime, p.evictionDropped, p.publishFailed} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// IncCounter implements sessionmanager.MetricsSink.
func (p *Prometheus) IncCounter(name string, tags map[string]string) {
	switch name {
	case sessionmanager.MetricCreated:
		p.created.Inc()
	case sessionmanager.MetricDestroyed:
		p.destroyed.WithLabelValues(tags["reason"]).Inc()
	case sessionmanager.MetricLookups:
		p.lookups.WithLabelValues(tags["result"]).Inc()
	case sessionmanager.MetricEvictionsDropped:
		p.evictionDropped.Inc()
	case sessionmanager.MetricPublishFailed:
		p.publishFailed.WithLabelValues(tags["type"]).Inc()
	}
}

// ObserveHistogram implements sessionmanager.MetricsSink.
func (p *Prometheus) ObserveHistogram(name string, value float64, tags map[string]string) {
	if name == sessionmanager.MetricLifetime {
		p.lifetime.WithLabelValues(tags["reason"]).Observe(value)
	}
}

var _ sessionmanager.MetricsSink = (*Prometheus)(nil)
