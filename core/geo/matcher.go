// Package geo implements the geospatial matching used to resolve which
// charging station a vehicle plugged into. Matching is a pure computation
// over a catalog snapshot; retries against the live catalog live in
// core/session.
package geo

import (
	"math"
	"time"

	"github.com/omerlv/chargelink/core/model"
)

// earthRadiusMeters is the mean Earth radius used for great-circle distance.
const earthRadiusMeters = 6371000

// DefaultRadiusMeters bounds the station search around a plug-in event.
const DefaultRadiusMeters = 500

// Distance returns the haversine distance in meters between two coordinates.
func Distance(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLng := (lng2 - lng1) * math.Pi / 180
	a := math.Pow(math.Sin(dLat/2), 2) +
		math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Pow(math.Sin(dLng/2), 2)
	return earthRadiusMeters * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// FilterByGeoAndStatus returns the locations within radius meters of the
// given coordinate that have at least one evse in the wanted state.
// Input order is preserved.
func FilterByGeoAndStatus(lat, lng, radius float64, status model.EvseStatus, catalog []model.Location) []model.Location {
	if radius <= 0 {
		radius = DefaultRadiusMeters
	}
	var out []model.Location
	for _, loc := range catalog {
		if Distance(lat, lng, loc.Lat, loc.Lng) > radius {
			continue
		}
		if !loc.HasEvseWithStatus(status) {
			continue
		}
		out = append(out, loc)
	}
	return out
}

// Candidate is the station pick for a plug-in event.
type Candidate struct {
	Location  model.Location
	Evse      model.Evse
	Connector model.Connector

	// Fallback is set when no evse matched the wanted status and the first
	// candidate was returned instead. Callers must treat such a pick as
	// low-confidence.
	Fallback bool
}

// ClosestUpdated selects, among the matching locations' evses in the wanted
// state, the one whose last_updated is nearest to the reference time. The
// catalog snapshot may lag the plug-in event, so the evse whose state
// changed closest to the event is the most likely occupied one. When no
// evse matches the status the first location's first evse is returned with
// Fallback set, so callers always make progress.
func ClosestUpdated(locations []model.Location, ref time.Time, status model.EvseStatus) (Candidate, bool) {
	if len(locations) == 0 {
		return Candidate{}, false
	}

	var (
		best     Candidate
		bestDiff = time.Duration(math.MaxInt64)
		found    bool
	)
	for _, loc := range locations {
		for _, evse := range loc.Evses {
			if evse.Status != status {
				continue
			}
			diff := ref.Sub(evse.LastUpdated)
			if diff < 0 {
				diff = -diff
			}
			if diff < bestDiff {
				bestDiff = diff
				best = Candidate{Location: loc, Evse: evse, Connector: PickConnector(evse.Connectors)}
				found = true
			}
		}
	}
	if found {
		return best, true
	}

	first := locations[0]
	if len(first.Evses) == 0 {
		return Candidate{}, false
	}
	evse := first.Evses[0]
	return Candidate{
		Location:  first,
		Evse:      evse,
		Connector: PickConnector(evse.Connectors),
		Fallback:  true,
	}, true
}

// PickConnector chooses the connector to start a session on. A single
// connector is used as-is; with several, legacy CHADEMO fast-DC plugs are
// deprioritized in favour of any other standard.
func PickConnector(connectors []model.Connector) model.Connector {
	if len(connectors) == 0 {
		return model.Connector{}
	}
	if len(connectors) == 1 {
		return connectors[0]
	}
	for _, c := range connectors {
		if c.Standard != "CHADEMO" {
			return c
		}
	}
	return connectors[0]
}
