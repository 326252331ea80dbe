package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/omerlv/chargelink/core/cloudwise"
	"github.com/omerlv/chargelink/core/model"
	"github.com/omerlv/chargelink/core/store"
	"github.com/omerlv/chargelink/infra/logger"
	"github.com/omerlv/chargelink/internal/eventbus"
)

const testVehicle = "1234567890"

type fakeGateway struct {
	mu          sync.Mutex
	startCalls  int
	stopCalls   int
	statusCalls int

	startResp cloudwise.CommandResponse
	startErr  error
	stopErr   error
	status    cloudwise.StatusResponse
	statusErr error
	lastStart cloudwise.CommandRequest
	lastStop  cloudwise.CommandRequest
}

func (g *fakeGateway) StartSession(_ context.Context, req cloudwise.CommandRequest) (cloudwise.CommandResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.startCalls++
	g.lastStart = req
	return g.startResp, g.startErr
}

func (g *fakeGateway) StopSession(_ context.Context, req cloudwise.CommandRequest) (cloudwise.CommandResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stopCalls++
	g.lastStop = req
	return cloudwise.CommandResponse{CommandID: req.SessionID}, g.stopErr
}

func (g *fakeGateway) SessionStatus(context.Context, cloudwise.StatusRequest) (cloudwise.StatusResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statusCalls++
	return g.status, g.statusErr
}

func (g *fakeGateway) Locations(context.Context, cloudwise.LocationsQuery) ([]model.Location, error) {
	return nil, nil
}

func (g *fakeGateway) LocationDetails(context.Context, string, string) (model.Location, error) {
	return model.Location{}, cloudwise.ErrNotFound
}

func (g *fakeGateway) UserCDRs(context.Context, cloudwise.CDRQuery) ([]model.CDR, error) {
	return nil, nil
}

func (g *fakeGateway) counts() (start, stop int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.startCalls, g.stopCalls
}

type testRig struct {
	engine  *Engine
	store   *store.MemoryStore
	gateway *fakeGateway
	bus     *eventbus.Bus
	events  <-chan eventbus.Event
	clock   *fakeClock
}

func newTestRig(t *testing.T, gw *fakeGateway) *testRig {
	t.Helper()
	st := store.NewMemoryStore()
	clock := newFakeClock()
	bus := eventbus.New()
	resolver := NewResolver(StoreCatalog{Store: st}, nil, clock, logger.NopLogger{}, ResolverConfig{})
	eng, err := NewEngine(
		Config{MonitoredVehicles: []string{testVehicle}},
		st, gw, resolver,
		cloudwise.DeviceIdentity{AssetID: "asset-1", BleID: "ble-1", DeviceID: "dev-1"},
		clock, nil, bus, logger.NopLogger{},
	)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	events := bus.Subscribe()
	t.Cleanup(func() {
		eng.Close()
		bus.Close()
	})
	return &testRig{engine: eng, store: st, gateway: gw, bus: bus, events: events, clock: clock}
}

func (r *testRig) seedStation(t *testing.T, at time.Time) {
	t.Helper()
	loc := blockedLocation("S1", 31.9928, 34.7672, at.Add(-2*time.Second))
	if err := r.store.Set(context.Background(), store.Locations, loc.ID, loc); err != nil {
		t.Fatalf("seed location: %v", err)
	}
}

func (r *testRig) deliver(status model.ChargingStatus, sessionID string) {
	r.engine.HandleBatch([]model.VehicleChargingState{{
		VehicleID:  testVehicle,
		Status:     status,
		Lat:        31.9928,
		Lng:        34.7672,
		ObservedAt: r.clock.Now(),
		SessionID:  sessionID,
	}})
}

// waitEvent drains the bus until an event of type T arrives.
func waitEvent[T any](t *testing.T, ch <-chan eventbus.Event) T {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				t.Fatal("event bus closed")
			}
			if typed, match := ev.(T); match {
				return typed
			}
		case <-deadline:
			var zero T
			t.Fatalf("timed out waiting for %T", zero)
			return zero
		}
	}
}

func TestPlugInStartsSession(t *testing.T) {
	gw := &fakeGateway{startResp: cloudwise.CommandResponse{CommandID: "sess-1"}}
	rig := newTestRig(t, gw)
	rig.seedStation(t, rig.clock.Now())

	rig.deliver(model.StatusPluggedIn, "")
	ev := waitEvent[SessionStartedEvent](t, rig.events)

	if ev.SessionID != "sess-1" || ev.VehicleID != testVehicle {
		t.Fatalf("unexpected event %+v", ev)
	}
	if ev.StationUID != "S1-E1" || ev.ConnectorID != "C1" {
		t.Fatalf("unexpected station pick %+v", ev)
	}

	sess, err := store.GetAs[model.ChargingSession](context.Background(), rig.store, store.Sessions, "sess-1")
	if err != nil {
		t.Fatalf("session not persisted: %v", err)
	}
	if sess.Status != model.SessionStarted || sess.VehicleID != testVehicle || sess.LocationID != "S1" {
		t.Fatalf("unexpected session %+v", sess)
	}

	state, err := store.GetAs[model.VehicleChargingState](context.Background(), rig.store, store.ChargingStates, testVehicle)
	if err != nil {
		t.Fatalf("vehicle state not persisted: %v", err)
	}
	if state.Status != model.StatusCharging || state.SessionID != "sess-1" {
		t.Fatalf("unexpected vehicle state %+v", state)
	}

	gw.mu.Lock()
	identity := gw.lastStart.DeviceIdentity
	gw.mu.Unlock()
	if identity.AssetID != "asset-1" {
		t.Fatalf("start command missing device identity: %+v", identity)
	}
}

func TestUnchangedStatusIsIgnored(t *testing.T) {
	gw := &fakeGateway{startResp: cloudwise.CommandResponse{CommandID: "sess-1"}}
	rig := newTestRig(t, gw)
	rig.seedStation(t, rig.clock.Now())

	rig.deliver(model.StatusPluggedIn, "")
	rig.deliver(model.StatusPluggedIn, "")
	waitEvent[SessionStartedEvent](t, rig.events)

	rig.engine.Close()
	if start, _ := gw.counts(); start != 1 {
		t.Fatalf("start issued %d times for a repeated status, want 1", start)
	}
}

func TestStartFailureFlagsVehicle(t *testing.T) {
	gw := &fakeGateway{}
	rig := newTestRig(t, gw)
	// No station seeded: resolution exhausts its attempts.

	rig.deliver(model.StatusPluggedIn, "")
	ev := waitEvent[StartFailedEvent](t, rig.events)
	if !errors.Is(ev.Err, ErrNoStationFound) {
		t.Fatalf("expected ErrNoStationFound, got %v", ev.Err)
	}

	state, err := store.GetAs[model.VehicleChargingState](context.Background(), rig.store, store.ChargingStates, testVehicle)
	if err != nil {
		t.Fatalf("vehicle state not persisted: %v", err)
	}
	if state.Status != model.StatusError || state.SessionID != "" {
		t.Fatalf("unexpected vehicle state %+v", state)
	}

	sessions, err := store.ListAs[model.ChargingSession](context.Background(), rig.store, store.Sessions)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("no session should exist after a failed start, got %d", len(sessions))
	}
	if start, _ := gw.counts(); start != 0 {
		t.Fatalf("start command issued without a resolved station")
	}
}

func TestFullLifecycleFinalizesWithCDR(t *testing.T) {
	gw := &fakeGateway{
		startResp: cloudwise.CommandResponse{CommandID: "sess-1"},
		status: cloudwise.StatusResponse{
			Status:          cloudwise.CommandCompleted,
			Cost:            12.5,
			KWh:             30,
			DurationSeconds: 3600,
			CDR:             &model.CDR{ID: "cdr-1", TotalCost: 12.5, TotalEnergyKWh: 30},
		},
	}
	rig := newTestRig(t, gw)
	rig.seedStation(t, rig.clock.Now())

	rig.deliver(model.StatusPluggedIn, "")
	waitEvent[SessionStartedEvent](t, rig.events)

	rig.deliver(model.StatusCharging, "")
	// The vendor reports the session completed, so the watchdog stops it
	// after the grace period; the trailing plug-out is a no-op by then.
	waitEvent[SessionStoppedEvent](t, rig.events)
	rig.deliver(model.StatusPluggedOut, "")

	fin := waitEvent[SessionFinalizedEvent](t, rig.events)
	if fin.SessionID != "sess-1" || fin.CDRID != "cdr-1" {
		t.Fatalf("unexpected finalize event %+v", fin)
	}

	rig.engine.Close()

	sess, err := store.GetAs[model.ChargingSession](context.Background(), rig.store, store.Sessions, "sess-1")
	if err != nil {
		t.Fatalf("load session: %v", err)
	}
	if sess.Status != model.SessionCompleted {
		t.Fatalf("session status = %s, want completed", sess.Status)
	}
	if sess.Cost != 12.5 || sess.KWh != 30 || sess.DurationSeconds != 3600 {
		t.Fatalf("billing figures not merged: %+v", sess)
	}
	if sess.CDRID != "cdr-1" {
		t.Fatalf("cdr not attached: %+v", sess)
	}
	if sess.EndTime == nil {
		t.Fatal("end time not recorded")
	}

	cdr, err := store.GetAs[model.CDR](context.Background(), rig.store, store.CDRs, "cdr-1")
	if err != nil {
		t.Fatalf("cdr not persisted: %v", err)
	}
	if cdr.SessionID != "sess-1" || cdr.VehicleID != testVehicle {
		t.Fatalf("cdr not stamped with session ownership: %+v", cdr)
	}

	state, err := store.GetAs[model.VehicleChargingState](context.Background(), rig.store, store.ChargingStates, testVehicle)
	if err != nil {
		t.Fatalf("load vehicle state: %v", err)
	}
	if state.Status != model.StatusPluggedOut || state.SessionID != "" {
		t.Fatalf("session not detached from vehicle: %+v", state)
	}

	start, stop := gw.counts()
	if start != 1 || stop != 1 {
		t.Fatalf("gateway calls start=%d stop=%d, want exactly one each", start, stop)
	}
}

func TestPollFailureMarksSessionError(t *testing.T) {
	gw := &fakeGateway{
		startResp: cloudwise.CommandResponse{CommandID: "sess-1"},
		statusErr: errors.New("gateway timeout"),
	}
	rig := newTestRig(t, gw)
	rig.seedStation(t, rig.clock.Now())

	rig.deliver(model.StatusPluggedIn, "")
	waitEvent[SessionStartedEvent](t, rig.events)

	rig.deliver(model.StatusCharging, "")
	ev := waitEvent[PollTerminatedEvent](t, rig.events)
	if ev.Err == nil {
		t.Fatalf("poll termination should carry the transport error: %+v", ev)
	}

	rig.engine.Close()

	sess, err := store.GetAs[model.ChargingSession](context.Background(), rig.store, store.Sessions, "sess-1")
	if err != nil {
		t.Fatalf("load session: %v", err)
	}
	if sess.Status != model.SessionError {
		t.Fatalf("session status = %s, want error", sess.Status)
	}
	if sess.EndTime == nil {
		t.Fatal("end time not recorded on poll failure")
	}
	if _, stop := gw.counts(); stop != 0 {
		t.Fatal("poll failure must not issue a stop command")
	}
}

func TestPlugInIgnoredWhileSessionOpen(t *testing.T) {
	gw := &fakeGateway{startResp: cloudwise.CommandResponse{CommandID: "sess-2"}}
	rig := newTestRig(t, gw)
	rig.seedStation(t, rig.clock.Now())
	ctx := context.Background()

	// A session is open and attached: the plug-out that should have closed
	// it never reached the feed.
	sess := model.ChargingSession{
		ID: "sess-1", VehicleID: testVehicle, LocationID: "S1", PartyID: "PTY",
		StationUID: "S1-E1", ConnectorID: "C1",
		Status: model.SessionStarted, StartTime: rig.clock.Now(),
	}
	if err := rig.store.Set(ctx, store.Sessions, sess.ID, sess); err != nil {
		t.Fatalf("seed session: %v", err)
	}
	if err := rig.store.Set(ctx, store.ChargingStates, testVehicle, model.VehicleChargingState{
		VehicleID: testVehicle, Status: model.StatusCharging, SessionID: "sess-1",
	}); err != nil {
		t.Fatalf("seed state: %v", err)
	}
	if err := rig.engine.Prime(ctx); err != nil {
		t.Fatalf("prime: %v", err)
	}

	rig.deliver(model.StatusPluggedIn, "")
	rig.engine.Close()

	if start, _ := gw.counts(); start != 0 {
		t.Fatalf("plug-in with an open session issued %d start commands, want 0", start)
	}
	sessions, err := store.ListAs[model.ChargingSession](ctx, rig.store, store.Sessions)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("sessions = %d, want the single open one", len(sessions))
	}
	state, err := store.GetAs[model.VehicleChargingState](ctx, rig.store, store.ChargingStates, testVehicle)
	if err != nil {
		t.Fatalf("load state: %v", err)
	}
	if state.SessionID != "sess-1" || state.Status != model.StatusCharging {
		t.Fatalf("vehicle state mutated: session=%q status=%s", state.SessionID, state.Status)
	}
}

func TestPollFailureSparesCompletedSession(t *testing.T) {
	gw := &fakeGateway{statusErr: errors.New("gateway timeout")}
	rig := newTestRig(t, gw)
	ctx := context.Background()

	end := rig.clock.Now()
	sess := model.ChargingSession{
		ID: "sess-9", VehicleID: testVehicle, LocationID: "S1",
		StationUID: "S1-E1", ConnectorID: "C1",
		Status: model.SessionCompleted, StartTime: end.Add(-time.Hour), EndTime: &end,
		Cost: 12.5, KWh: 30,
	}
	if err := rig.store.Set(ctx, store.Sessions, sess.ID, sess); err != nil {
		t.Fatalf("seed session: %v", err)
	}

	rig.deliver(model.StatusCharging, "sess-9")
	ev := waitEvent[PollTerminatedEvent](t, rig.events)
	if ev.Err == nil {
		t.Fatalf("poll termination should carry the transport error: %+v", ev)
	}
	rig.engine.Close()

	got, err := store.GetAs[model.ChargingSession](ctx, rig.store, store.Sessions, "sess-9")
	if err != nil {
		t.Fatalf("load session: %v", err)
	}
	if got.Status != model.SessionCompleted {
		t.Fatalf("completed session rewritten to %s by a failed poll", got.Status)
	}
	if got.EndTime == nil || !got.EndTime.Equal(end) {
		t.Fatalf("end time mutated: %v, want %v", got.EndTime, end)
	}
	if got.Cost != 12.5 || got.KWh != 30 {
		t.Fatalf("billing fields mutated: cost=%v kwh=%v", got.Cost, got.KWh)
	}
}

func TestOperatorStop(t *testing.T) {
	gw := &fakeGateway{
		status: cloudwise.StatusResponse{Status: cloudwise.CommandCompleted, Cost: 4, KWh: 9, DurationSeconds: 600},
	}
	rig := newTestRig(t, gw)
	ctx := context.Background()

	sess := model.ChargingSession{
		ID: "sess-7", VehicleID: testVehicle, LocationID: "S1", PartyID: "PTY",
		StationUID: "S1-E1", ConnectorID: "C1",
		Status: model.SessionStarted, StartTime: rig.clock.Now(),
	}
	if err := rig.store.Set(ctx, store.Sessions, sess.ID, sess); err != nil {
		t.Fatalf("seed session: %v", err)
	}

	if err := rig.engine.StopSession(ctx, "sess-7"); err != nil {
		t.Fatalf("stop: %v", err)
	}

	got, err := store.GetAs[model.ChargingSession](ctx, rig.store, store.Sessions, "sess-7")
	if err != nil {
		t.Fatalf("load session: %v", err)
	}
	if got.Status != model.SessionCompleted {
		t.Fatalf("session status = %s, want completed", got.Status)
	}

	gw.mu.Lock()
	stopSID := gw.lastStop.SessionID
	gw.mu.Unlock()
	if stopSID != "sess-7" {
		t.Fatalf("stop command session id = %q", stopSID)
	}

	// Stopping an already-completed session is a no-op.
	if err := rig.engine.StopSession(ctx, "sess-7"); err != nil {
		t.Fatalf("repeat stop: %v", err)
	}
	if _, stop := gw.counts(); stop != 1 {
		t.Fatalf("stop issued %d times, want 1", stop)
	}
}

func TestStopUnknownSession(t *testing.T) {
	rig := newTestRig(t, &fakeGateway{})
	if err := rig.engine.StopSession(context.Background(), "missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestUnmonitoredVehicleIgnored(t *testing.T) {
	gw := &fakeGateway{startResp: cloudwise.CommandResponse{CommandID: "sess-1"}}
	rig := newTestRig(t, gw)
	rig.seedStation(t, rig.clock.Now())

	rig.engine.HandleBatch([]model.VehicleChargingState{{
		VehicleID: "other-car", Status: model.StatusPluggedIn,
		Lat: 31.9928, Lng: 34.7672, ObservedAt: rig.clock.Now(),
	}})
	rig.engine.Close()

	if start, _ := gw.counts(); start != 0 {
		t.Fatal("unmonitored vehicle must not start a session")
	}
}

func TestPrimeSuppressesReplay(t *testing.T) {
	gw := &fakeGateway{startResp: cloudwise.CommandResponse{CommandID: "sess-1"}}
	rig := newTestRig(t, gw)
	rig.seedStation(t, rig.clock.Now())
	ctx := context.Background()

	if err := rig.store.Set(ctx, store.ChargingStates, testVehicle, model.VehicleChargingState{
		VehicleID: testVehicle, Status: model.StatusPluggedIn,
	}); err != nil {
		t.Fatalf("seed state: %v", err)
	}
	if err := rig.engine.Prime(ctx); err != nil {
		t.Fatalf("prime: %v", err)
	}

	rig.deliver(model.StatusPluggedIn, "")
	rig.engine.Close()

	if start, _ := gw.counts(); start != 0 {
		t.Fatal("primed status must not be replayed as a new transition")
	}
}
