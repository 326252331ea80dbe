// Package metrics provides the sink implementations behind
// core/metrics.Sink: Prometheus, InfluxDB and a fan-out.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/omerlv/chargelink/core/metrics"
)

// PromSink records session lifecycle events in Prometheus metrics.
type PromSink struct {
	starts       *prometheus.CounterVec
	stops        *prometheus.CounterVec
	resolves     *prometheus.HistogramVec
	polls        *prometheus.CounterVec
	reconMatched prometheus.Counter
	reconPending prometheus.Gauge
}

// NewPromSink registers the session metrics on the default Prometheus
// registerer. The metrics HTTP server is started separately.
func NewPromSink() (*PromSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer. A
// nil registerer defaults to the global one.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	starts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "charging_session_starts_total",
		Help: "Session start attempts by outcome",
	}, []string{"vehicle_id", "success"})
	stops := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "charging_session_stops_total",
		Help: "Session stops by provisional status",
	}, []string{"vehicle_id", "status"})
	resolves := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "station_resolve_attempts",
		Help:    "Catalog queries needed to resolve a station",
		Buckets: []float64{1, 2, 3},
	}, []string{"success"})
	polls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "session_poll_total",
		Help: "Watchdog poll outcomes by vendor status",
	}, []string{"status"})
	reconMatched := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cdr_reconciliation_matched_total",
		Help: "Sessions matched to a charge detail record",
	})
	reconPending := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cdr_reconciliation_pending",
		Help: "Completed sessions still waiting for a charge detail record",
	})

	if err := reg.Register(starts); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			starts = are.ExistingCollector.(*prometheus.CounterVec)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(stops); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			stops = are.ExistingCollector.(*prometheus.CounterVec)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(resolves); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			resolves = are.ExistingCollector.(*prometheus.HistogramVec)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(polls); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			polls = are.ExistingCollector.(*prometheus.CounterVec)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(reconMatched); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			reconMatched = are.ExistingCollector.(prometheus.Counter)
		} else {
			return nil, err
		}
	}
	if err := reg.Register(reconPending); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			reconPending = are.ExistingCollector.(prometheus.Gauge)
		} else {
			return nil, err
		}
	}

	return &PromSink{
		starts:       starts,
		stops:        stops,
		resolves:     resolves,
		polls:        polls,
		reconMatched: reconMatched,
		reconPending: reconPending,
	}, nil
}

func (s *PromSink) RecordSessionStart(vehicleID string, success bool) error {
	s.starts.WithLabelValues(vehicleID, strconv.FormatBool(success)).Inc()
	return nil
}

func (s *PromSink) RecordSessionStop(vehicleID, status string) error {
	s.stops.WithLabelValues(vehicleID, status).Inc()
	return nil
}

func (s *PromSink) RecordResolveAttempts(_ string, attempts int, success bool) error {
	s.resolves.WithLabelValues(strconv.FormatBool(success)).Observe(float64(attempts))
	return nil
}

// RecordPollStatus counts by status only; session ids would blow up the
// label cardinality.
func (s *PromSink) RecordPollStatus(_ string, status string) error {
	s.polls.WithLabelValues(status).Inc()
	return nil
}

func (s *PromSink) RecordReconciliation(matched, pending int) error {
	s.reconMatched.Add(float64(matched))
	s.reconPending.Set(float64(pending))
	return nil
}

var _ coremetrics.Sink = (*PromSink)(nil)
