package cloudwise

import (
	"strconv"
	"strings"
	"time"

	"github.com/omerlv/chargelink/core/model"
)

// The vendor API speaks PascalCase JSON with inconsistent key casing and
// numeric values encoded as strings. The wire types below mirror it
// exactly; conversion to the model types happens at the package boundary.

type wireEnvelope struct {
	ErrorCode    int    `json:"ErrorCode"`
	ErrorMessage string `json:"ErrorMessage"`
	RequestID    string `json:"RequestID"`
}

type wireConnector struct {
	ID               string `json:"Id"`
	Standard         string `json:"Standard"`
	Format           string `json:"Format"`
	PowerType        string `json:"PowerType"`
	MaxVoltage       int    `json:"MaxVoltage"`
	MaxAmperage      int    `json:"MaxAmperage"`
	MaxElectricPower int    `json:"MaxElectricPower"`
	TariffID         string `json:"TariffId"`
	LastUpdated      string `json:"LastUpdated"`
}

type wireEvse struct {
	UID               string          `json:"Uid"`
	Status            string          `json:"Status"`
	FloorLevel        string          `json:"FloorLevel"`
	PhysicalReference string          `json:"PhysicalReference"`
	LastUpdated       string          `json:"LastUpdated"`
	Connectors        []wireConnector `json:"Connectors"`
	OcpiConnectors    []wireConnector `json:"OcpiConnectors"`
}

type wireLocation struct {
	ID          string     `json:"Id"`
	Name        string     `json:"Name"`
	Address     string     `json:"Address"`
	Country     string     `json:"Country"`
	CompanyName string     `json:"CompanyName"`
	PartyID     string     `json:"PartyId"`
	Latitude    float64    `json:"Latitude"`
	Longitude   float64    `json:"Longitude"`
	OcpiEvses   []wireEvse `json:"OcpiEvses"`
}

type wireLocationsResponse struct {
	wireEnvelope
	Items []wireLocation `json:"Items"`
}

type wireLocationDetailsResponse struct {
	wireEnvelope
	Location struct {
		Location     wireLocation `json:"Location"`
		Evses        []wireEvse   `json:"Evses"`
		ErrorCode    int          `json:"ErrorCode"`
		ErrorMessage string       `json:"ErrorMessage"`
	} `json:"Location"`
}

type wireCommandResponse struct {
	wireEnvelope
	CommandID string `json:"CommandId"`
}

type wireStatusResponse struct {
	wireEnvelope
	CommandStatus         string   `json:"CommandStatus"`
	Status                string   `json:"Status"`
	ChargingTimeInSeconds string   `json:"ChargingTimeInSeconds"`
	KWh                   string   `json:"KWh"`
	Cost                  string   `json:"Cost"`
	CDR                   *wireCDR `json:"Cdr"`
}

type wireCDR struct {
	ID                    string  `json:"Id"`
	SessionID             string  `json:"SessionId"`
	OcpPartyID            string  `json:"OcpPartyId"`
	StartDateTime         string  `json:"StartDateTime"`
	EndDateTime           string  `json:"EndDateTime"`
	LastUpdated           string  `json:"LastUpdated"`
	Currency              string  `json:"Currency"`
	TotalCost             float64 `json:"TotalCost"`
	TotalCostWithVat      float64 `json:"TotalCostWithVat"`
	TotalEnergy           float64 `json:"TotalEnergy"`
	TotalTime             float64 `json:"TotalTime"`
	TotalParkingTime      float64 `json:"TotalParkingTime"`
	AvgKwhPrice           float64 `json:"AvgKwhPrice"`
	Duration              int64   `json:"Duration"`
	Credit                float64 `json:"Credit"`
	CreditsBalance        float64 `json:"CreditsBalance"`
	CreditsExpirationDate string  `json:"CreditsExpirationDate"`
	HomeCharging          bool    `json:"HomeCharging"`
}

type wireCDRsResponse struct {
	wireEnvelope
	Items []wireCDR `json:"Items"`
}

func parseWireTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func parseWireFloat(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return f
}

func parseWireInt(s string) int64 {
	// The vendor sometimes sends durations as "3600.0".
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return int64(f)
}

func (c wireConnector) toModel() model.Connector {
	return model.Connector{
		ID:               c.ID,
		Standard:         c.Standard,
		Format:           c.Format,
		PowerType:        c.PowerType,
		MaxVoltage:       c.MaxVoltage,
		MaxAmperage:      c.MaxAmperage,
		MaxElectricPower: c.MaxElectricPower,
		TariffID:         c.TariffID,
		LastUpdated:      parseWireTime(c.LastUpdated),
	}
}

func (e wireEvse) toModel() model.Evse {
	connectors := e.OcpiConnectors
	if len(connectors) == 0 {
		connectors = e.Connectors
	}
	out := model.Evse{
		UID:               e.UID,
		Status:            model.EvseStatus(strings.ToLower(e.Status)),
		FloorLevel:        e.FloorLevel,
		PhysicalReference: e.PhysicalReference,
		LastUpdated:       parseWireTime(e.LastUpdated),
	}
	for _, c := range connectors {
		out.Connectors = append(out.Connectors, c.toModel())
	}
	return out
}

func (l wireLocation) toModel() model.Location {
	out := model.Location{
		ID:          l.ID,
		Name:        l.Name,
		Address:     l.Address,
		Country:     l.Country,
		CompanyName: l.CompanyName,
		PartyID:     l.PartyID,
		Lat:         l.Latitude,
		Lng:         l.Longitude,
	}
	for _, e := range l.OcpiEvses {
		out.Evses = append(out.Evses, e.toModel())
	}
	return out
}

func (c wireCDR) toModel() model.CDR {
	out := model.CDR{
		ID:               c.ID,
		SessionID:        c.SessionID,
		PartyID:          c.OcpPartyID,
		StartTime:        parseWireTime(c.StartDateTime),
		EndTime:          parseWireTime(c.EndDateTime),
		LastUpdated:      parseWireTime(c.LastUpdated),
		Currency:         c.Currency,
		TotalCost:        c.TotalCost,
		TotalCostWithVat: c.TotalCostWithVat,
		TotalEnergyKWh:   c.TotalEnergy,
		TotalTime:        c.TotalTime,
		TotalParkingTime: c.TotalParkingTime,
		AvgKWhPrice:      c.AvgKwhPrice,
		DurationSeconds:  c.Duration,
		Credit:           c.Credit,
		CreditsBalance:   c.CreditsBalance,
		HomeCharging:     c.HomeCharging,
	}
	if t := parseWireTime(c.CreditsExpirationDate); !t.IsZero() {
		out.CreditsExpiresAt = &t
	}
	return out
}
