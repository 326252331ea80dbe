package metrics

import coremetrics "github.com/omerlv/chargelink/core/metrics"

// MultiSink fans every record out to multiple sinks.
type MultiSink struct {
	Sinks []coremetrics.Sink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...coremetrics.Sink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordSessionStart forwards to all sinks, returning the first error.
func (m *MultiSink) RecordSessionStart(vehicleID string, success bool) error {
	for _, s := range m.Sinks {
		if err := s.RecordSessionStart(vehicleID, success); err != nil {
			return err
		}
	}
	return nil
}

func (m *MultiSink) RecordSessionStop(vehicleID, status string) error {
	for _, s := range m.Sinks {
		if err := s.RecordSessionStop(vehicleID, status); err != nil {
			return err
		}
	}
	return nil
}

func (m *MultiSink) RecordResolveAttempts(vehicleID string, attempts int, success bool) error {
	for _, s := range m.Sinks {
		if err := s.RecordResolveAttempts(vehicleID, attempts, success); err != nil {
			return err
		}
	}
	return nil
}

func (m *MultiSink) RecordPollStatus(sessionID, status string) error {
	for _, s := range m.Sinks {
		if err := s.RecordPollStatus(sessionID, status); err != nil {
			return err
		}
	}
	return nil
}

func (m *MultiSink) RecordReconciliation(matched, pending int) error {
	for _, s := range m.Sinks {
		if err := s.RecordReconciliation(matched, pending); err != nil {
			return err
		}
	}
	return nil
}

var _ coremetrics.Sink = (*MultiSink)(nil)
