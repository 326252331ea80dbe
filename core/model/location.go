package model

import "time"

// EvseStatus mirrors the availability state the network reports per charge
// point. A vehicle occupying a connector renders its evse blocked.
type EvseStatus string

const (
	EvseAvailable EvseStatus = "available"
	EvseCharging  EvseStatus = "charging"
	EvseBlocked   EvseStatus = "blocked"
)

// Connector is one physical plug on an evse.
type Connector struct {
	ID               string    `json:"id"`
	Standard         string    `json:"standard"`
	Format           string    `json:"format,omitempty"`
	PowerType        string    `json:"power_type,omitempty"`
	MaxVoltage       int       `json:"max_voltage,omitempty"`
	MaxAmperage      int       `json:"max_amperage,omitempty"`
	MaxElectricPower int       `json:"max_electric_power,omitempty"`
	TariffID         string    `json:"tariff_id,omitempty"`
	LastUpdated      time.Time `json:"last_updated"`
}

// Evse is an individual charge point at a location.
type Evse struct {
	UID               string      `json:"uid"`
	Status            EvseStatus  `json:"status"`
	FloorLevel        string      `json:"floor_level,omitempty"`
	PhysicalReference string      `json:"physical_reference,omitempty"`
	LastUpdated       time.Time   `json:"last_updated"`
	Connectors        []Connector `json:"connectors"`
}

// Location is one physical charging site from the vendor catalog. The
// catalog is maintained by a periodic sync job; the lifecycle engine only
// reads it.
type Location struct {
	ID          string  `json:"id"`
	Name        string  `json:"name,omitempty"`
	Address     string  `json:"address,omitempty"`
	Country     string  `json:"country,omitempty"`
	CompanyName string  `json:"company_name,omitempty"`
	PartyID     string  `json:"party_id"`
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
	Evses       []Evse  `json:"evses"`
}

// HasEvseWithStatus reports whether at least one evse at the location is in
// the given state.
func (l Location) HasEvseWithStatus(status EvseStatus) bool {
	for _, e := range l.Evses {
		if e.Status == status {
			return true
		}
	}
	return false
}
