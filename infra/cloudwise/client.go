// Package cloudwise implements the HTTP transport behind the command
// gateway: password login against the vendor identity provider and the
// JSON-over-POST command API.
package cloudwise

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	core "github.com/omerlv/chargelink/core/cloudwise"
	"github.com/omerlv/chargelink/core/logger"
	"github.com/omerlv/chargelink/core/model"
)

const (
	commandStart = "START_SESSION"
	commandStop  = "STOP_SESSION"
)

// Client talks to the vendor command API. It implements
// core/cloudwise.CommandGateway.
type Client struct {
	baseURL     string
	countryCode string
	tokens      *TokenSource
	http        *http.Client
	log         logger.Logger
}

// NewClient builds a Client from a validated config.
func NewClient(cfg Config, tokens *TokenSource, log logger.Logger) *Client {
	cfg.SetDefaults()
	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		countryCode: cfg.CountryCode,
		tokens:      tokens,
		http:        &http.Client{Timeout: cfg.timeout()},
		log:         log,
	}
}

// post sends one command API call. Every request carries the account token
// under FirebaseToken; application errors arrive as an ErrorMessage field
// in an otherwise 200 response.
func (c *Client) post(ctx context.Context, endpoint string, payload map[string]any, out interface{ envelope() wireEnvelope }) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("cloudwise %s: %w", endpoint, err)
	}

	body := make(map[string]any, len(payload)+1)
	body["FirebaseToken"] = token
	for k, v := range payload {
		body[k] = v
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("cloudwise %s: %w", endpoint, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+endpoint, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("cloudwise %s: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("cloudwise %s: %w", endpoint, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			c.tokens.Invalidate()
		}
		return fmt.Errorf("cloudwise %s: unexpected status %d", endpoint, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("cloudwise %s: decode response: %w", endpoint, err)
	}
	if env := out.envelope(); env.ErrorMessage != "" {
		return fmt.Errorf("cloudwise %s: %s (code %d)", endpoint, env.ErrorMessage, env.ErrorCode)
	}
	return nil
}

func (e wireEnvelope) envelope() wireEnvelope { return e }

// StartSession issues a START_SESSION command for the resolved station.
func (c *Client) StartSession(ctx context.Context, req core.CommandRequest) (core.CommandResponse, error) {
	return c.sendCommand(ctx, commandStart, req)
}

// StopSession issues a STOP_SESSION command for the active session.
func (c *Client) StopSession(ctx context.Context, req core.CommandRequest) (core.CommandResponse, error) {
	return c.sendCommand(ctx, commandStop, req)
}

func (c *Client) sendCommand(ctx context.Context, command string, req core.CommandRequest) (core.CommandResponse, error) {
	var resp wireCommandResponse
	err := c.post(ctx, "sendCommand", map[string]any{
		"command":             command,
		"LocationId":          req.LocationID,
		"PartyID":             req.PartyID,
		"CountryCode":         c.countryCode,
		"commandId":           req.SessionID,
		"evseUid":             req.StationUID,
		"connectorId":         req.ConnectorID,
		"ignoreDistanceCheck": false,
		"BleId":               req.BleID,
		"DeviceId":            req.DeviceID,
		"AssetId":             req.AssetID,
		"Latitude":            0.0,
		"Longitude":           0.0,
	}, &resp)
	if err != nil {
		return core.CommandResponse{}, err
	}
	if resp.CommandID == "" {
		return core.CommandResponse{}, fmt.Errorf("%s: %w", command, core.ErrCommandRejected)
	}
	return core.CommandResponse{CommandID: resp.CommandID}, nil
}

// SessionStatus polls the state of a previously issued command.
func (c *Client) SessionStatus(ctx context.Context, req core.StatusRequest) (core.StatusResponse, error) {
	var resp wireStatusResponse
	err := c.post(ctx, "getCommandStatus", map[string]any{
		"assetId":   req.AssetID,
		"BleId":     req.BleID,
		"commandId": req.SessionID,
		"deviceId":  req.DeviceID,
	}, &resp)
	if err != nil {
		return core.StatusResponse{}, err
	}

	out := core.StatusResponse{
		Status:          parseCommandStatus(resp.CommandStatus),
		Cost:            parseWireFloat(resp.Cost),
		KWh:             parseWireFloat(resp.KWh),
		DurationSeconds: parseWireInt(resp.ChargingTimeInSeconds),
	}
	if resp.CDR != nil {
		cdr := resp.CDR.toModel()
		out.CDR = &cdr
	}
	return out, nil
}

// parseCommandStatus normalizes the vendor status, which sometimes arrives
// with surrounding detail text.
func parseCommandStatus(s string) core.CommandStatus {
	switch {
	case strings.Contains(s, string(core.CommandActive)):
		return core.CommandActive
	case strings.Contains(s, string(core.CommandCompleted)):
		return core.CommandCompleted
	case strings.Contains(s, string(core.CommandFailed)):
		return core.CommandFailed
	default:
		return core.CommandStatus(s)
	}
}

// Locations lists the station catalog.
func (c *Client) Locations(ctx context.Context, q core.LocationsQuery) ([]model.Location, error) {
	radius := q.RadiusM
	if radius <= 0 {
		radius = 10_000
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 99_999_999
	}
	var resp wireLocationsResponse
	err := c.post(ctx, "getLocations", map[string]any{
		"lat":      q.Lat,
		"lon":      q.Lng,
		"radius":   radius,
		"Skip":     q.Offset,
		"PageSize": limit,
		"TimeZone": q.TimeZone,
	}, &resp)
	if err != nil {
		return nil, err
	}

	out := make([]model.Location, 0, len(resp.Items))
	for _, item := range resp.Items {
		out = append(out, item.toModel())
	}
	return out, nil
}

// LocationDetails fetches one location with live evse states.
func (c *Client) LocationDetails(ctx context.Context, id, partyID string) (model.Location, error) {
	var resp wireLocationDetailsResponse
	err := c.post(ctx, "getLocationDetails", map[string]any{
		"LocationId":  id,
		"PartyID":     partyID,
		"CountryCode": c.countryCode,
	}, &resp)
	if err != nil {
		return model.Location{}, err
	}
	if resp.Location.ErrorMessage != "" {
		return model.Location{}, fmt.Errorf("cloudwise getLocationDetails: %s: %w", resp.Location.ErrorMessage, core.ErrNotFound)
	}

	loc := resp.Location.Location.toModel()
	if loc.PartyID == "" {
		loc.PartyID = partyID
	}
	loc.Evses = nil
	for _, e := range resp.Location.Evses {
		loc.Evses = append(loc.Evses, e.toModel())
	}
	return loc, nil
}

// UserCDRs lists the account's billing records.
func (c *Client) UserCDRs(ctx context.Context, q core.CDRQuery) ([]model.CDR, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = 99_999_999
	}
	var resp wireCDRsResponse
	err := c.post(ctx, "getUserCdrs", map[string]any{
		"skip":     q.Offset,
		"pageSize": limit,
		"assetId":  q.AssetID,
		"timeZone": q.TimeZone,
	}, &resp)
	if err != nil {
		return nil, err
	}

	out := make([]model.CDR, 0, len(resp.Items))
	for _, item := range resp.Items {
		out = append(out, item.toModel())
	}
	return out, nil
}
