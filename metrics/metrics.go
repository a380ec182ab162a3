// Package metrics exports engine activity as Prometheus metrics.
//
// A Collector is both a call observer and a registry observer:
//
//	m := metrics.New("callguard")
//	_ = m.Register(prometheus.DefaultRegisterer)
//	e, _ := engine.New(tab, disp,
//		engine.WithCallObserver(m),
//		engine.WithHandleObserver(m))
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/wippyai/callguard/api"
	"github.com/wippyai/callguard/chain"
	"github.com/wippyai/callguard/errors"
	"github.com/wippyai/callguard/registry"
)

// Collector holds the metric vectors.
type Collector struct {
	calls      *prometheus.CounterVec
	violations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	live       *prometheus.GaugeVec
	created    *prometheus.CounterVec
	retired    *prometheus.CounterVec
	forgotten  prometheus.Counter
}

// New creates a collector whose metric names start with namespace.
func New(namespace string) *Collector {
	return &Collector{
		calls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "calls_total",
				Help:      "Intercepted calls by entry point and result code",
			},
			[]string{"entry", "result"},
		),
		violations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "violations_total",
				Help:      "Calls rejected or flagged by validation, by violation kind",
			},
			[]string{"kind"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "call_duration_seconds",
				Help:      "Time spent intercepting a call, real function included",
				Buckets:   prometheus.ExponentialBuckets(1e-7, 10, 8),
			},
			[]string{"kind"},
		),
		live: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "handles_live",
				Help:      "Tracked handles currently live, by class",
			},
			[]string{"class"},
		),
		created: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "handles_created_total",
				Help:      "Handle records created, by class",
			},
			[]string{"class"},
		),
		retired: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "handles_retired_total",
				Help:      "Handle records retired, by class",
			},
			[]string{"class"},
		),
		forgotten: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tombstones_forgotten_total",
				Help:      "Destroyed handle records dropped from the registry",
			},
		),
	}
}

// Register adds every metric to reg.
func (c *Collector) Register(reg prometheus.Registerer) error {
	for _, m := range []prometheus.Collector{
		c.calls, c.violations, c.duration, c.live, c.created, c.retired, c.forgotten,
	} {
		if err := reg.Register(m); err != nil {
			return err
		}
	}
	return nil
}

// OnCall counts a finished call.
func (c *Collector) OnCall(call *chain.Call, err error, elapsed time.Duration) {
	name := call.Name()
	c.calls.WithLabelValues(name, api.ResultFor(err).String()).Inc()
	if kind := errors.KindOf(err); kind != "" {
		c.violations.WithLabelValues(string(kind)).Inc()
	}
	kind := ""
	if call.Entry != nil {
		kind = string(call.Entry.Kind)
	}
	c.duration.WithLabelValues(kind).Observe(elapsed.Seconds())
}

// OnHandleEvent tracks handle records per class.
func (c *Collector) OnHandleEvent(ev registry.Event) {
	switch ev.Type {
	case registry.EventCreated:
		c.created.WithLabelValues(ev.Class).Inc()
		c.live.WithLabelValues(ev.Class).Inc()
	case registry.EventRetired:
		c.retired.WithLabelValues(ev.Class).Inc()
		c.live.WithLabelValues(ev.Class).Dec()
	case registry.EventForgotten:
		c.forgotten.Inc()
	}
}
