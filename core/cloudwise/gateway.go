// Package cloudwise defines the logical contract with the Cloudwise
// charging network. The transport, authentication and HTTP details live in
// infra/cloudwise; the lifecycle engine depends only on these shapes.
package cloudwise

import (
	"context"
	"time"

	"github.com/omerlv/chargelink/core/model"
)

// CommandStatus is the vendor-side state of a session command.
type CommandStatus string

const (
	CommandActive    CommandStatus = "ACTIVE"
	CommandCompleted CommandStatus = "COMPLETED"
	CommandFailed    CommandStatus = "FAILED"
)

// DeviceIdentity identifies the account hardware on every vendor command.
type DeviceIdentity struct {
	AssetID  string `json:"asset_id"`
	BleID    string `json:"ble_id"`
	DeviceID string `json:"device_id"`
}

// CommandRequest carries the parameters of a start or stop command.
type CommandRequest struct {
	DeviceIdentity
	LocationID  string
	PartyID     string
	StationUID  string
	ConnectorID string
	// SessionID is set on stop commands only.
	SessionID string
}

// CommandResponse is the vendor acknowledgment of a start or stop command.
type CommandResponse struct {
	CommandID string
}

// StatusRequest polls the state of a previously issued command.
type StatusRequest struct {
	DeviceIdentity
	SessionID string
}

// StatusResponse reports the session command state together with any
// billing figures the vendor has accumulated so far.
type StatusResponse struct {
	Status          CommandStatus
	Cost            float64
	KWh             float64
	DurationSeconds int64
	CDR             *model.CDR
}

// LocationsQuery bounds a catalog listing.
type LocationsQuery struct {
	Lat      float64
	Lng      float64
	RadiusM  float64
	Limit    int
	Offset   int
	TimeZone int
}

// CDRQuery bounds a billing record listing.
type CDRQuery struct {
	AssetID  string
	Limit    int
	Offset   int
	TimeZone int
	Since    time.Time
}

// CommandGateway is the thin contract the engine issues commands through.
// All methods propagate transport and application errors opaquely; the
// engine does not retry them.
type CommandGateway interface {
	// StartSession asks the network to start charging. It fails with
	// ErrCommandRejected when the network returns no command id.
	StartSession(ctx context.Context, req CommandRequest) (CommandResponse, error)
	// StopSession asks the network to end the session named by
	// req.SessionID.
	StopSession(ctx context.Context, req CommandRequest) (CommandResponse, error)
	// SessionStatus polls the command state for an active session.
	SessionStatus(ctx context.Context, req StatusRequest) (StatusResponse, error)
	// Locations lists the station catalog.
	Locations(ctx context.Context, q LocationsQuery) ([]model.Location, error)
	// LocationDetails fetches one location with live evse states.
	LocationDetails(ctx context.Context, id, partyID string) (model.Location, error)
	// UserCDRs lists the account's billing records, newest first.
	UserCDRs(ctx context.Context, q CDRQuery) ([]model.CDR, error)
}
