package model

import "time"

// CDR is a charge detail record issued by the vendor for a completed
// session. Once attached to a session it is immutable.
type CDR struct {
	ID               string     `json:"id"`
	SessionID        string     `json:"session_id"`
	VehicleID        string     `json:"vehicle_id,omitempty"`
	PartyID          string     `json:"party_id,omitempty"`
	StartTime        time.Time  `json:"start_time"`
	EndTime          time.Time  `json:"end_time"`
	LastUpdated      time.Time  `json:"last_updated"`
	Currency         string     `json:"currency,omitempty"`
	TotalCost        float64    `json:"total_cost"`
	TotalCostWithVat float64    `json:"total_cost_with_vat,omitempty"`
	TotalEnergyKWh   float64    `json:"total_energy_kwh"`
	TotalTime        float64    `json:"total_time,omitempty"`
	TotalParkingTime float64    `json:"total_parking_time,omitempty"`
	AvgKWhPrice      float64    `json:"avg_kwh_price,omitempty"`
	DurationSeconds  int64      `json:"duration_seconds"`
	Credit           float64    `json:"credit,omitempty"`
	CreditsBalance   float64    `json:"credits_balance,omitempty"`
	CreditsExpiresAt *time.Time `json:"credits_expires_at,omitempty"`
	HomeCharging     bool       `json:"home_charging,omitempty"`
}
