// Package metrics defines the sink interface the lifecycle engine reports
// into. Implementations live in infra/metrics.
package metrics

// Sink receives session lifecycle measurements. Implementations must be
// safe for concurrent use; errors are logged by callers, never fatal.
type Sink interface {
	// RecordSessionStart counts a start attempt outcome for a vehicle.
	RecordSessionStart(vehicleID string, success bool) error
	// RecordSessionStop counts a stop with the provisional session status.
	RecordSessionStop(vehicleID, status string) error
	// RecordResolveAttempts observes how many catalog queries a resolution
	// needed and whether it succeeded.
	RecordResolveAttempts(vehicleID string, attempts int, success bool) error
	// RecordPollStatus counts one watchdog poll outcome.
	RecordPollStatus(sessionID, status string) error
	// RecordReconciliation reports one reconciliation run: sessions matched
	// to a CDR and sessions still pending.
	RecordReconciliation(matched, pending int) error
}

// NopSink discards all measurements.
type NopSink struct{}

func (NopSink) RecordSessionStart(string, bool) error         { return nil }
func (NopSink) RecordSessionStop(string, string) error        { return nil }
func (NopSink) RecordResolveAttempts(string, int, bool) error { return nil }
func (NopSink) RecordPollStatus(string, string) error         { return nil }
func (NopSink) RecordReconciliation(int, int) error           { return nil }
