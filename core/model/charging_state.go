package model

import "time"

// ChargingStatus is the physical state reported by the vehicle feed.
type ChargingStatus string

const (
	StatusPluggedIn  ChargingStatus = "plugged_in"
	StatusCharging   ChargingStatus = "charging"
	StatusPluggedOut ChargingStatus = "plugged_out"
	StatusError      ChargingStatus = "error"
)

// Valid reports whether the status is one of the known feed values.
func (s ChargingStatus) Valid() bool {
	switch s {
	case StatusPluggedIn, StatusCharging, StatusPluggedOut, StatusError:
		return true
	}
	return false
}

// VehicleChargingState is the latest observed physical state of a vehicle.
// It is created on first observation and updated in place afterwards; the
// lifecycle engine attaches and clears SessionID as sessions start and stop.
type VehicleChargingState struct {
	VehicleID  string         `json:"vehicle_id"`
	Status     ChargingStatus `json:"status"`
	Lat        float64        `json:"lat"`
	Lng        float64        `json:"lng"`
	ObservedAt time.Time      `json:"observed_at"`
	SessionID  string         `json:"session_id,omitempty"`
}
