package server

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rotisserie/eris"
)

// Metrics exposes isochrone server metrics.
type Metrics struct {
	gatherer prometheus.Gatherer

	Requests        *prometheus.CounterVec
	ComputeDuration prometheus.Histogram
	LabeledEdges    prometheus.Histogram
	CacheHitRatio   prometheus.Gauge
}

// NewMetrics registers server metrics against reg. A nil reg means the
// default registerer.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "isochrone_requests_total",
		Help: "Isochrone requests by outcome kind.",
	}, []string{"outcome"})
	if err := reg.Register(requests); err != nil {
		are, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return nil, eris.Wrap(err, "server: register isochrone_requests_total")
		}
		existing, ok := are.ExistingCollector.(*prometheus.CounterVec)
		if !ok {
			return nil, eris.New("server: isochrone_requests_total already registered with incompatible type")
		}
		requests = existing
	}

	duration, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "isochrone_compute_duration_seconds",
		Help:    "Duration of isochrone computations.",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}), "isochrone_compute_duration_seconds")
	if err != nil {
		return nil, err
	}

	labeled, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "isochrone_labeled_edges",
		Help:    "Network edges labeled per successful computation.",
		Buckets: prometheus.ExponentialBuckets(1, 4, 8),
	}), "isochrone_labeled_edges")
	if err != nil {
		return nil, err
	}

	ratio := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "isochrone_network_cache_hit_ratio",
		Help: "Hit ratio of the network cache.",
	})
	if err := reg.Register(ratio); err != nil {
		are, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return nil, eris.Wrap(err, "server: register isochrone_network_cache_hit_ratio")
		}
		existing, ok := are.ExistingCollector.(prometheus.Gauge)
		if !ok {
			return nil, eris.New("server: isochrone_network_cache_hit_ratio already registered with incompatible type")
		}
		ratio = existing
	}

	return &Metrics{
		gatherer:        gatherer,
		Requests:        requests,
		ComputeDuration: duration,
		LabeledEdges:    labeled,
		CacheHitRatio:   ratio,
	}, nil
}

// Handler serves the registered metrics in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// ObserveRequest records one finished request. outcome is "ok" or an
// isochrone error kind.
func (m *Metrics) ObserveRequest(outcome string, d time.Duration, labeled int) {
	if m == nil {
		return
	}
	m.Requests.WithLabelValues(outcome).Inc()
	if outcome == outcomeOK {
		m.ComputeDuration.Observe(d.Seconds())
		m.LabeledEdges.Observe(float64(labeled))
	}
}

// SetCacheHitRatio updates the cache gauge, clamped to [0, 1].
func (m *Metrics) SetCacheHitRatio(ratio float64) {
	if m == nil {
		return
	}
	if ratio < 0 {
		ratio = 0
	}
	if ratio > 1 {
		ratio = 1
	}
	m.CacheHitRatio.Set(ratio)
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, eris.Errorf("server: collector %s already registered with incompatible type", name)
		}
		return nil, eris.Wrapf(err, "server: register %s", name)
	}
	return hist, nil
}
