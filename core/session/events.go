package session

import (
	"github.com/omerlv/chargelink/core/cloudwise"
	"github.com/omerlv/chargelink/core/model"
)

// Lifecycle events published on the event bus. Observers must not rely on
// delivery: the bus drops events for slow subscribers.

// SessionStartedEvent is published after a start command succeeded and the
// session record was persisted.
type SessionStartedEvent struct {
	VehicleID   string
	SessionID   string
	LocationID  string
	StationUID  string
	ConnectorID string
	// LowConfidence marks a station pick that fell back to the first
	// candidate because no evse matched the freshness ranking.
	LowConfidence bool
}

// StartFailedEvent is published when the start path failed and the vehicle
// was flipped to the error status.
type StartFailedEvent struct {
	VehicleID string
	Err       error
}

// SessionStoppedEvent is published after a stop command was issued. Status
// is the provisional session status; the delayed finalize is authoritative.
type SessionStoppedEvent struct {
	VehicleID string
	SessionID string
	Status    model.SessionStatus
}

// SessionFinalizedEvent is published when the delayed status fetch merged
// billing figures into the session record.
type SessionFinalizedEvent struct {
	SessionID string
	CDRID     string
	Cost      float64
	KWh       float64
}

// PollTerminatedEvent is published when the watchdog stops polling a
// session, either because the vendor reported a terminal status or because
// polling failed.
type PollTerminatedEvent struct {
	SessionID string
	Status    cloudwise.CommandStatus
	Err       error
}
