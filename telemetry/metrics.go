package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/goliatone/go-authstate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "authstate"

// Metrics is an authstate.Recorder backed by Prometheus collectors
type Metrics struct {
	ProfileLookups        *prometheus.CounterVec
	ProfileLookupDuration *prometheus.HistogramVec
	ProfileFallbacks      prometheus.Counter
	AuthEvents            *prometheus.CounterVec
	AuthActions           *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

var _ authstate.Recorder = (*Metrics)(nil)

// NewMetrics registers the collectors with registry. A nil registry gets a
// private one so tests and multiple instances never collide.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	factory := promauto.With(registry)

	return &Metrics{
		ProfileLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "profile_lookups_total",
				Help:      "Total number of authoritative profile lookup attempts",
			},
			[]string{"outcome"},
		),
		ProfileLookupDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "profile_lookup_duration_seconds",
				Help:      "Profile lookup attempt duration in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
			},
			[]string{"outcome"},
		),
		ProfileFallbacks: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "profile_fallbacks_total",
				Help:      "Total number of profiles synthesized after failed lookups",
			},
		),
		AuthEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "auth_events_total",
				Help:      "Total number of provider auth events handled",
			},
			[]string{"kind"},
		),
		AuthActions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "auth_actions_total",
				Help:      "Total number of user initiated auth actions",
			},
			[]string{"op", "success"},
		),
		gatherer: registry,
	}
}

// ProfileLookup implements authstate.Recorder.
func (m *Metrics) ProfileLookup(outcome authstate.LookupOutcome, elapsed time.Duration) {
	m.ProfileLookups.WithLabelValues(string(outcome)).Inc()
	m.ProfileLookupDuration.WithLabelValues(string(outcome)).Observe(elapsed.Seconds())
}

// ProfileFallback implements authstate.Recorder.
func (m *Metrics) ProfileFallback() {
	m.ProfileFallbacks.Inc()
}

// AuthEvent implements authstate.Recorder.
func (m *Metrics) AuthEvent(kind authstate.AuthEventKind) {
	m.AuthEvents.WithLabelValues(string(kind)).Inc()
}

// AuthAction implements authstate.Recorder.
func (m *Metrics) AuthAction(op authstate.AuthOp, success bool) {
	m.AuthActions.WithLabelValues(string(op), strconv.FormatBool(success)).Inc()
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
