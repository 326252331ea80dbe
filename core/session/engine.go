// Package session implements the charging session lifecycle engine: it
// consumes vehicle charging-state deltas, resolves the station behind each
// plug-in, drives start/stop commands against the charging network, polls
// active sessions to completion and persists every step.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/omerlv/chargelink/core/cloudwise"
	"github.com/omerlv/chargelink/core/logger"
	"github.com/omerlv/chargelink/core/metrics"
	"github.com/omerlv/chargelink/core/model"
	"github.com/omerlv/chargelink/core/store"
	"github.com/omerlv/chargelink/internal/eventbus"
)

// Engine is the per-vehicle state machine. Events for one vehicle are
// serialized on a dedicated worker; different vehicles run in parallel.
// Failures never escape to the feed: they surface as persisted error
// status records.
type Engine struct {
	store    store.Store
	gateway  cloudwise.CommandGateway
	resolver *Resolver
	clock    Clock
	log      logger.Logger
	sink     metrics.Sink
	bus      eventbus.EventBus
	identity cloudwise.DeviceIdentity

	monitored     map[string]struct{}
	pollInterval  time.Duration
	stopGrace     time.Duration
	finalizeDelay time.Duration

	tasks *TaskRegistry

	mu      sync.Mutex
	workers map[string]*worker
	prev    map[string]model.ChargingStatus

	rootCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewEngine builds the engine. sink and bus may be nil.
func NewEngine(cfg Config, st store.Store, gw cloudwise.CommandGateway, resolver *Resolver, identity cloudwise.DeviceIdentity, clock Clock, sink metrics.Sink, bus eventbus.EventBus, log logger.Logger) (*Engine, error) {
	if st == nil || gw == nil || resolver == nil || log == nil {
		return nil, fmt.Errorf("session: nil parameter provided to NewEngine")
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = SystemClock()
	}
	if sink == nil {
		sink = metrics.NopSink{}
	}

	monitored := make(map[string]struct{}, len(cfg.MonitoredVehicles))
	for _, id := range cfg.MonitoredVehicles {
		monitored[id] = struct{}{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		store:         st,
		gateway:       gw,
		resolver:      resolver,
		clock:         clock,
		log:           log,
		sink:          sink,
		bus:           bus,
		identity:      identity,
		monitored:     monitored,
		pollInterval:  cfg.PollInterval(),
		stopGrace:     cfg.StopGrace(),
		finalizeDelay: cfg.FinalizeDelay(),
		tasks:         NewTaskRegistry(),
		workers:       map[string]*worker{},
		prev:          map[string]model.ChargingStatus{},
		rootCtx:       ctx,
		cancel:        cancel,
	}, nil
}

// Prime seeds the previous-status map from the persisted charging-state
// collection so the first feed delivery after a restart does not replay
// transitions that already happened.
func (e *Engine) Prime(ctx context.Context) error {
	states, err := store.ListAs[model.VehicleChargingState](ctx, e.store, store.ChargingStates)
	if err != nil {
		return fmt.Errorf("session: prime: %w", err)
	}
	e.mu.Lock()
	for _, st := range states {
		e.prev[st.VehicleID] = st.Status
	}
	e.mu.Unlock()
	e.log.Infof("primed %d vehicle states", len(states))
	return nil
}

// HandleBatch dispatches a change-feed delivery. Records for unmonitored
// vehicles are dropped; the rest are queued on their vehicle's worker.
// The call never blocks on engine processing.
func (e *Engine) HandleBatch(states []model.VehicleChargingState) {
	for _, st := range states {
		if st.VehicleID == "" {
			continue
		}
		if _, ok := e.monitored[st.VehicleID]; !ok {
			e.log.Debugf("ignoring unmonitored vehicle %s", st.VehicleID)
			continue
		}
		e.workerFor(st.VehicleID).enqueue(workItem{state: &st})
	}
}

// StopSession stops the session with the given id on behalf of an
// operator. The request is serialized on the owning vehicle's worker, so
// it cannot race a feed-driven transition for the same vehicle.
func (e *Engine) StopSession(ctx context.Context, sessionID string) error {
	sess, err := store.GetAs[model.ChargingSession](ctx, e.store, store.Sessions, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrSessionNotFound
		}
		return err
	}

	reply := make(chan error, 1)
	e.workerFor(sess.VehicleID).enqueue(workItem{stopSessionID: sessionID, reply: reply})
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close cancels all background tasks and waits for workers to drain.
func (e *Engine) Close() error {
	e.cancel()
	e.tasks.CancelAll()
	e.wg.Wait()
	return nil
}

type workItem struct {
	state         *model.VehicleChargingState
	stopSessionID string
	failSessionID string
	reply         chan error
}

// worker serializes all processing for one vehicle. The queue is unbounded
// so a slow resolution for one vehicle never stalls feed deliveries for
// another.
type worker struct {
	engine    *Engine
	vehicleID string

	mu    sync.Mutex
	queue []workItem
	wake  chan struct{}
}

func (e *Engine) workerFor(vehicleID string) *worker {
	e.mu.Lock()
	defer e.mu.Unlock()
	w, ok := e.workers[vehicleID]
	if !ok {
		w = &worker{engine: e, vehicleID: vehicleID, wake: make(chan struct{}, 1)}
		e.workers[vehicleID] = w
		e.wg.Add(1)
		go w.loop(e.rootCtx)
	}
	return w
}

func (w *worker) enqueue(item workItem) {
	w.mu.Lock()
	w.queue = append(w.queue, item)
	w.mu.Unlock()
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *worker) next() (workItem, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.queue) == 0 {
		return workItem{}, false
	}
	item := w.queue[0]
	w.queue = w.queue[1:]
	return item, true
}

func (w *worker) loop(ctx context.Context) {
	defer w.engine.wg.Done()
	for {
		item, ok := w.next()
		if !ok {
			select {
			case <-ctx.Done():
				// Drain what was queued before shutdown; pending replies
				// must be answered.
				for {
					item, ok := w.next()
					if !ok {
						return
					}
					w.engine.process(ctx, w.vehicleID, item)
				}
			case <-w.wake:
			}
			continue
		}
		w.engine.process(ctx, w.vehicleID, item)
	}
}

// process runs one queued item under the vehicle's serialization.
func (e *Engine) process(ctx context.Context, vehicleID string, item workItem) {
	if item.stopSessionID != "" {
		err := e.stopSession(ctx, item.stopSessionID)
		if item.reply != nil {
			item.reply <- err
		} else if err != nil {
			e.log.Errorf("stop session %s: %v", item.stopSessionID, err)
		}
		return
	}
	if item.failSessionID != "" {
		e.markPollFailure(ctx, item.failSessionID)
		return
	}
	if item.state == nil {
		return
	}
	st := *item.state

	prev, seen := e.prevStatus(vehicleID)
	e.setPrevStatus(vehicleID, st.Status)
	if seen && prev == st.Status {
		e.log.Debugf("vehicle %s: status %s unchanged, skipping", vehicleID, st.Status)
		return
	}

	switch st.Status {
	case model.StatusPluggedIn:
		e.handlePlugIn(ctx, st)
	case model.StatusCharging:
		e.handleCharging(ctx, st)
	case model.StatusPluggedOut, model.StatusError:
		e.handleUnplug(ctx, st)
	default:
		e.log.Warnf("vehicle %s: unknown status %q ignored", vehicleID, st.Status)
	}
}

func (e *Engine) prevStatus(vehicleID string) (model.ChargingStatus, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.prev[vehicleID]
	return s, ok
}

func (e *Engine) setPrevStatus(vehicleID string, s model.ChargingStatus) {
	e.mu.Lock()
	e.prev[vehicleID] = s
	e.mu.Unlock()
}

// handlePlugIn drives the start path: resolve the station, issue the start
// command, persist the session and attach it to the vehicle. Any failure
// flips the vehicle to the error status and nothing is retried.
func (e *Engine) handlePlugIn(ctx context.Context, st model.VehicleChargingState) {
	v := st.VehicleID
	if sid := e.openSessionID(ctx, v); sid != "" {
		e.log.Warnf("vehicle %s: plug-in ignored, session %s is still open", v, sid)
		return
	}
	e.log.Infof("starting session for vehicle %s", v)

	res, err := e.resolver.Resolve(ctx, v, st.Lat, st.Lng, st.ObservedAt)
	if err := e.sink.RecordResolveAttempts(v, res.Attempts, err == nil); err != nil {
		e.log.Errorf("metrics: %v", err)
	}
	if err != nil {
		e.failStart(ctx, st, fmt.Errorf("resolve station: %w", err))
		return
	}

	resp, err := e.gateway.StartSession(ctx, cloudwise.CommandRequest{
		DeviceIdentity: e.identity,
		LocationID:     res.LocationID,
		PartyID:        res.PartyID,
		StationUID:     res.StationUID,
		ConnectorID:    res.ConnectorID,
	})
	if err != nil {
		e.failStart(ctx, st, fmt.Errorf("start command: %w", err))
		return
	}

	sid := resp.CommandID
	sess := model.ChargingSession{
		ID:          sid,
		VehicleID:   v,
		LocationID:  res.LocationID,
		PartyID:     res.PartyID,
		StationUID:  res.StationUID,
		ConnectorID: res.ConnectorID,
		Status:      model.SessionStarted,
		StartTime:   e.clock.Now(),
	}
	if err := e.store.Set(ctx, store.Sessions, sid, sess); err != nil {
		e.failStart(ctx, st, fmt.Errorf("persist session: %w", err))
		return
	}

	st.Status = model.StatusCharging
	st.SessionID = sid
	if err := e.store.Set(ctx, store.ChargingStates, v, st); err != nil {
		e.log.Errorf("vehicle %s: persist state: %v", v, err)
	}

	if err := e.sink.RecordSessionStart(v, true); err != nil {
		e.log.Errorf("metrics: %v", err)
	}
	e.publish(SessionStartedEvent{
		VehicleID:     v,
		SessionID:     sid,
		LocationID:    res.LocationID,
		StationUID:    res.StationUID,
		ConnectorID:   res.ConnectorID,
		LowConfidence: res.LowConfidence,
	})
	e.log.Infof("session %s started for vehicle %s at station %s", sid, v, res.StationUID)
}

// openSessionID returns the id of the vehicle's non-terminal session, if
// any. A vehicle holds at most one open session at a time: a plug-in
// arriving while one is attached is a feed glitch (a missed plug-out, a
// replayed delivery) and must not start a second charge.
func (e *Engine) openSessionID(ctx context.Context, vehicleID string) string {
	persisted, err := store.GetAs[model.VehicleChargingState](ctx, e.store, store.ChargingStates, vehicleID)
	if err != nil || persisted.SessionID == "" {
		return ""
	}
	sess, err := store.GetAs[model.ChargingSession](ctx, e.store, store.Sessions, persisted.SessionID)
	if errors.Is(err, store.ErrNotFound) {
		return ""
	}
	if err != nil {
		// Cannot prove the session closed; keep the single-session
		// guarantee and skip the start.
		e.log.Errorf("vehicle %s: load session %s: %v", vehicleID, persisted.SessionID, err)
		return persisted.SessionID
	}
	if sess.Status.Terminal() {
		return ""
	}
	return persisted.SessionID
}

// failStart records a failed start attempt on the vehicle itself; no
// session is created and no error escapes to the feed.
func (e *Engine) failStart(ctx context.Context, st model.VehicleChargingState, cause error) {
	v := st.VehicleID
	e.log.Errorf("vehicle %s: start failed: %v", v, cause)

	st.Status = model.StatusError
	st.SessionID = ""
	if err := e.store.Set(ctx, store.ChargingStates, v, st); err != nil {
		e.log.Errorf("vehicle %s: persist error state: %v", v, err)
	}

	if err := e.sink.RecordSessionStart(v, false); err != nil {
		e.log.Errorf("metrics: %v", err)
	}
	e.publish(StartFailedEvent{VehicleID: v, Err: cause})
}

// handleCharging ensures the watchdog poll is running for the vehicle's
// active session. Duplicate charging reports are harmless.
func (e *Engine) handleCharging(ctx context.Context, st model.VehicleChargingState) {
	sid := st.SessionID
	if sid == "" {
		persisted, err := store.GetAs[model.VehicleChargingState](ctx, e.store, store.ChargingStates, st.VehicleID)
		if err == nil {
			sid = persisted.SessionID
		}
	}
	if sid == "" {
		e.log.Warnf("vehicle %s: charging without an active session", st.VehicleID)
		return
	}
	if e.tasks.StartIfAbsent(e.rootCtx, watchdogKey(sid), func(tctx context.Context) {
		e.watchSession(tctx, sid)
	}) {
		e.log.Infof("watching active session %s", sid)
	}
}

// handleUnplug stops the active session on a plug-out or error report.
func (e *Engine) handleUnplug(ctx context.Context, st model.VehicleChargingState) {
	sid := st.SessionID
	if sid == "" {
		persisted, err := store.GetAs[model.VehicleChargingState](ctx, e.store, store.ChargingStates, st.VehicleID)
		if err == nil {
			sid = persisted.SessionID
		}
	}
	if sid == "" {
		return
	}
	e.log.Warnf("stopping session %s from vehicle %s status %s", sid, st.VehicleID, st.Status)
	if err := e.stopSession(ctx, sid); err != nil {
		e.log.Errorf("stop session %s: %v", sid, err)
	}
}

// stopSession issues the stop command, marks the session with a
// provisional terminal status, detaches it from the vehicle and schedules
// the authoritative finalize fetch. The watchdog for the session is
// cancelled first so a poll firing mid-stop is a no-op.
func (e *Engine) stopSession(ctx context.Context, sid string) error {
	sess, err := store.GetAs[model.ChargingSession](ctx, e.store, store.Sessions, sid)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrSessionNotFound
		}
		return fmt.Errorf("load session %s: %w", sid, err)
	}
	if sess.Status == model.SessionCompleted {
		e.log.Debugf("session %s already completed", sid)
		return nil
	}

	e.tasks.Cancel(watchdogKey(sid))

	e.log.Infof("stopping session %s", sid)
	_, stopErr := e.gateway.StopSession(ctx, cloudwise.CommandRequest{
		DeviceIdentity: e.identity,
		LocationID:     sess.LocationID,
		PartyID:        sess.PartyID,
		StationUID:     sess.StationUID,
		ConnectorID:    sess.ConnectorID,
		SessionID:      sid,
	})

	// Provisional status: the delayed finalize fetch is authoritative.
	status := model.SessionCompleted
	if stopErr != nil {
		status = model.SessionError
		e.log.Errorf("stop command for session %s failed: %v", sid, stopErr)
	}
	now := e.clock.Now()
	if err := e.store.Patch(ctx, store.Sessions, sid, map[string]any{
		"status":   status,
		"end_time": now,
	}); err != nil {
		e.log.Errorf("session %s: persist stop: %v", sid, err)
	}
	if err := e.store.Patch(ctx, store.ChargingStates, sess.VehicleID, map[string]any{
		"status":     model.StatusPluggedOut,
		"session_id": "",
	}); err != nil {
		e.log.Errorf("vehicle %s: detach session: %v", sess.VehicleID, err)
	}

	if err := e.sink.RecordSessionStop(sess.VehicleID, string(status)); err != nil {
		e.log.Errorf("metrics: %v", err)
	}
	e.publish(SessionStoppedEvent{VehicleID: sess.VehicleID, SessionID: sid, Status: status})

	e.tasks.Start(e.rootCtx, finalizeKey(sid), func(tctx context.Context) {
		if sleep(tctx, e.clock, e.finalizeDelay) != nil {
			return
		}
		e.finalizeSession(tctx, sid)
	})

	return stopErr
}

func (e *Engine) publish(ev eventbus.Event) {
	if e.bus != nil {
		e.bus.Publish(ev)
	}
}

func watchdogKey(sid string) string { return "watchdog/" + sid }
func finalizeKey(sid string) string { return "finalize/" + sid }
