// Package catalog keeps the local station catalog in sync with the
// vendor's location listing. The resolver only reads the snapshot, so a
// periodic diff-and-upsert is enough.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/omerlv/chargelink/core/cloudwise"
	"github.com/omerlv/chargelink/core/logger"
	"github.com/omerlv/chargelink/core/model"
	"github.com/omerlv/chargelink/core/store"
)

const defaultFetchLimit = 15

// Syncer mirrors the vendor location catalog into the snapshot store.
type Syncer struct {
	store      store.Store
	gateway    cloudwise.CommandGateway
	log        logger.Logger
	fetchLimit int
}

// NewSyncer builds a Syncer.
func NewSyncer(st store.Store, gw cloudwise.CommandGateway, log logger.Logger) *Syncer {
	return &Syncer{store: st, gateway: gw, log: log, fetchLimit: defaultFetchLimit}
}

// Run performs one sync pass: fetch the catalog and upsert only the
// locations whose content changed.
func (s *Syncer) Run(ctx context.Context) error {
	locations, err := s.gateway.Locations(ctx, cloudwise.LocationsQuery{Limit: s.fetchLimit})
	if err != nil {
		return fmt.Errorf("catalog: fetch locations: %w", err)
	}

	updated := 0
	for _, loc := range locations {
		if loc.ID == "" {
			continue
		}
		changed, err := s.changed(ctx, loc)
		if err != nil {
			s.log.Errorf("catalog: compare %s: %v", loc.ID, err)
			continue
		}
		if !changed {
			continue
		}
		if err := s.store.Set(ctx, store.Locations, loc.ID, loc); err != nil {
			s.log.Errorf("catalog: upsert %s: %v", loc.ID, err)
			continue
		}
		updated++
	}
	if updated > 0 {
		s.log.Infof("catalog sync: updated %d of %d locations", updated, len(locations))
	}
	return nil
}

func (s *Syncer) changed(ctx context.Context, loc model.Location) (bool, error) {
	existing, err := s.store.Get(ctx, store.Locations, loc.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return true, nil
		}
		return false, err
	}
	// Decode and re-encode so the comparison survives stores that
	// normalize JSON, like the postgres jsonb column.
	var prev model.Location
	if err := json.Unmarshal(existing, &prev); err != nil {
		return true, nil
	}
	prevRaw, err := json.Marshal(prev)
	if err != nil {
		return false, err
	}
	fresh, err := json.Marshal(loc)
	if err != nil {
		return false, err
	}
	return !bytes.Equal(prevRaw, fresh), nil
}

// Start syncs immediately and then every interval until the context is
// cancelled.
func (s *Syncer) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	if err := s.Run(ctx); err != nil {
		s.log.Errorf("%v", err)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Run(ctx); err != nil {
				s.log.Errorf("%v", err)
			}
		}
	}
}
