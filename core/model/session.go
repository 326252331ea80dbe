package model

import "time"

// SessionStatus tracks a charging session through its lifecycle. Transitions
// only move forward: started -> completed or started -> error.
type SessionStatus string

const (
	SessionStarted   SessionStatus = "started"
	SessionCompleted SessionStatus = "completed"
	SessionError     SessionStatus = "error"
)

// Terminal reports whether the status admits no further transition.
func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionError
}

// ChargingSession records one attempt to charge a vehicle at a station.
// The ID is the vendor command id returned by the start command and is
// immutable once assigned. Sessions are append-only history and are never
// deleted.
type ChargingSession struct {
	ID          string        `json:"id"`
	VehicleID   string        `json:"vehicle_id"`
	LocationID  string        `json:"location_id"`
	PartyID     string        `json:"party_id,omitempty"`
	StationUID  string        `json:"station_uid"`
	ConnectorID string        `json:"connector_id"`
	Status      SessionStatus `json:"status"`
	StartTime   time.Time     `json:"start_time"`
	EndTime     *time.Time    `json:"end_time,omitempty"`

	// Billing fields, populated by the delayed status fetch or by the
	// reconciliation job. CDRID is set at most once.
	CDRID           string  `json:"cdr_id,omitempty"`
	Cost            float64 `json:"cost,omitempty"`
	KWh             float64 `json:"kwh,omitempty"`
	DurationSeconds int64   `json:"duration_seconds,omitempty"`
}
