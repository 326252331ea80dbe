package session

import (
	"context"
	"time"

	"github.com/omerlv/chargelink/core/geo"
	"github.com/omerlv/chargelink/core/logger"
	"github.com/omerlv/chargelink/core/model"
	"github.com/omerlv/chargelink/core/store"
)

// Catalog supplies the station catalog snapshot the resolver searches.
type Catalog interface {
	Locations(ctx context.Context) ([]model.Location, error)
}

// DetailsRefresher fetches live evse states for one location. The catalog
// snapshot lags the network; the resolver refreshes candidates before
// filtering so a just-blocked evse is visible.
type DetailsRefresher interface {
	LocationDetails(ctx context.Context, id, partyID string) (model.Location, error)
}

// StoreCatalog reads the catalog from the snapshot store's locations
// collection.
type StoreCatalog struct {
	Store store.Store
}

func (c StoreCatalog) Locations(ctx context.Context) ([]model.Location, error) {
	return store.ListAs[model.Location](ctx, c.Store, store.Locations)
}

// ResolverConfig tunes the station resolution retry loop.
type ResolverConfig struct {
	RadiusMeters float64
	Status       model.EvseStatus
	Attempts     int
	InitialDelay time.Duration
	RetryDelay   time.Duration
}

// SetDefaults applies the production values: 500 m radius, blocked evses,
// 3 attempts, 3 s propagation delay, 10 s between retries.
func (c *ResolverConfig) SetDefaults() {
	if c.RadiusMeters <= 0 {
		c.RadiusMeters = geo.DefaultRadiusMeters
	}
	if c.Status == "" {
		c.Status = model.EvseBlocked
	}
	if c.Attempts <= 0 {
		c.Attempts = 3
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = 3 * time.Second
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 10 * time.Second
	}
}

// Resolution identifies the station a vehicle plugged into.
type Resolution struct {
	LocationID  string
	PartyID     string
	StationUID  string
	ConnectorID string
	// LowConfidence is set when the pick fell back to the first candidate.
	LowConfidence bool
	// Attempts is the number of catalog queries performed.
	Attempts int
}

// Resolver finds the physical charging station behind a plug-in event by
// geospatial matching with bounded retries. The station's blocked status
// may propagate to the catalog a few seconds after the vehicle plugs in,
// so the resolver waits before the first attempt and between retries.
type Resolver struct {
	catalog Catalog
	details DetailsRefresher
	clock   Clock
	log     logger.Logger
	cfg     ResolverConfig
}

// NewResolver builds a Resolver. details may be nil, in which case the
// catalog snapshot is used as-is.
func NewResolver(catalog Catalog, details DetailsRefresher, clock Clock, log logger.Logger, cfg ResolverConfig) *Resolver {
	cfg.SetDefaults()
	if clock == nil {
		clock = SystemClock()
	}
	return &Resolver{catalog: catalog, details: details, clock: clock, log: log, cfg: cfg}
}

// Resolve returns the station, party and connector to start a session on
// for a vehicle that plugged in at (lat, lng) at the given time. It fails
// with ErrNoStationFound after exhausting its attempts. All waits suspend
// on the clock and abort on context cancellation.
func (r *Resolver) Resolve(ctx context.Context, vehicleID string, lat, lng float64, at time.Time) (Resolution, error) {
	if err := sleep(ctx, r.clock, r.cfg.InitialDelay); err != nil {
		return Resolution{}, err
	}

	var candidates []model.Location
	attempts := 0
	for attempt := 1; attempt <= r.cfg.Attempts; attempt++ {
		attempts = attempt
		candidates = r.candidates(ctx, lat, lng)
		if len(candidates) > 0 {
			break
		}
		if attempt < r.cfg.Attempts {
			r.log.Debugf("no stations near vehicle %s on attempt %d, retrying", vehicleID, attempt)
			if err := sleep(ctx, r.clock, r.cfg.RetryDelay); err != nil {
				return Resolution{}, err
			}
		}
	}
	if len(candidates) == 0 {
		return Resolution{Attempts: attempts}, ErrNoStationFound
	}

	pick, ok := geo.ClosestUpdated(candidates, at, r.cfg.Status)
	if !ok {
		return Resolution{Attempts: attempts}, ErrNoStationFound
	}
	if pick.Fallback {
		r.log.Warnf("vehicle %s: no evse matched freshness ranking, using first candidate %s", vehicleID, pick.Location.ID)
	}
	return Resolution{
		LocationID:    pick.Location.ID,
		PartyID:       pick.Location.PartyID,
		StationUID:    pick.Evse.UID,
		ConnectorID:   pick.Connector.ID,
		LowConfidence: pick.Fallback,
		Attempts:      attempts,
	}, nil
}

// candidates lists the in-radius locations with at least one evse in the
// wanted state. Details are refreshed from the network for in-radius
// locations only, then the refreshed set goes through the geo filter so
// the status check sees live evse states.
func (r *Resolver) candidates(ctx context.Context, lat, lng float64) []model.Location {
	catalog, err := r.catalog.Locations(ctx)
	if err != nil {
		r.log.Errorf("catalog read failed: %v", err)
		return nil
	}

	var nearby []model.Location
	for _, loc := range catalog {
		if geo.Distance(lat, lng, loc.Lat, loc.Lng) > r.cfg.RadiusMeters {
			continue
		}
		nearby = append(nearby, r.refresh(ctx, loc))
	}
	return geo.FilterByGeoAndStatus(lat, lng, r.cfg.RadiusMeters, r.cfg.Status, nearby)
}

// refresh swaps in live evse states for one candidate, falling back to
// the catalog snapshot when the details call fails.
func (r *Resolver) refresh(ctx context.Context, loc model.Location) model.Location {
	if r.details == nil {
		return loc
	}
	fresh, err := r.details.LocationDetails(ctx, loc.ID, loc.PartyID)
	if err != nil {
		r.log.Warnf("location %s details refresh failed, using snapshot: %v", loc.ID, err)
		return loc
	}
	if fresh.PartyID == "" {
		fresh.PartyID = loc.PartyID
	}
	return fresh
}
