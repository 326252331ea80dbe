package catalog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/omerlv/chargelink/core/cloudwise"
	"github.com/omerlv/chargelink/core/model"
	"github.com/omerlv/chargelink/core/store"
	"github.com/omerlv/chargelink/infra/logger"
)

type catalogGateway struct {
	cloudwise.CommandGateway

	locations []model.Location
	err       error
	calls     int
}

func (g *catalogGateway) Locations(context.Context, cloudwise.LocationsQuery) ([]model.Location, error) {
	g.calls++
	return g.locations, g.err
}

type countingStore struct {
	store.Store
	sets int
}

func (s *countingStore) Set(ctx context.Context, collection, id string, doc any) error {
	s.sets++
	return s.Store.Set(ctx, collection, id, doc)
}

func testLocation(id string, evseStatus model.EvseStatus) model.Location {
	return model.Location{
		ID: id, PartyID: "PTY", Lat: 31.99, Lng: 34.76,
		Evses: []model.Evse{{
			UID: id + "-E1", Status: evseStatus,
			LastUpdated: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		}},
	}
}

func TestSyncUpsertsNewLocations(t *testing.T) {
	st := &countingStore{Store: store.NewMemoryStore()}
	gw := &catalogGateway{locations: []model.Location{
		testLocation("L1", model.EvseAvailable),
		testLocation("L2", model.EvseBlocked),
	}}
	s := NewSyncer(st, gw, logger.NopLogger{})

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	locs, err := store.ListAs[model.Location](context.Background(), st, store.Locations)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(locs) != 2 {
		t.Fatalf("got %d locations, want 2", len(locs))
	}
	if st.sets != 2 {
		t.Fatalf("sets = %d, want 2", st.sets)
	}
}

func TestSyncSkipsUnchanged(t *testing.T) {
	st := &countingStore{Store: store.NewMemoryStore()}
	gw := &catalogGateway{locations: []model.Location{testLocation("L1", model.EvseAvailable)}}
	s := NewSyncer(st, gw, logger.NopLogger{})

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if st.sets != 1 {
		t.Fatalf("unchanged location rewritten: sets = %d", st.sets)
	}
}

func TestSyncRewritesChanged(t *testing.T) {
	st := &countingStore{Store: store.NewMemoryStore()}
	gw := &catalogGateway{locations: []model.Location{testLocation("L1", model.EvseAvailable)}}
	s := NewSyncer(st, gw, logger.NopLogger{})

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	gw.locations = []model.Location{testLocation("L1", model.EvseBlocked)}
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if st.sets != 2 {
		t.Fatalf("changed location not rewritten: sets = %d", st.sets)
	}

	got, err := store.GetAs[model.Location](context.Background(), st, store.Locations, "L1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Evses[0].Status != model.EvseBlocked {
		t.Fatalf("update not applied: %+v", got)
	}
}

func TestSyncPropagatesFetchError(t *testing.T) {
	st := &countingStore{Store: store.NewMemoryStore()}
	gw := &catalogGateway{err: errors.New("upstream 500")}
	s := NewSyncer(st, gw, logger.NopLogger{})

	if err := s.Run(context.Background()); err == nil {
		t.Fatal("expected fetch error")
	}
	if st.sets != 0 {
		t.Fatalf("store written on failed fetch: %d", st.sets)
	}
}
