package session

import (
	"context"

	"github.com/omerlv/chargelink/core/cloudwise"
	"github.com/omerlv/chargelink/core/model"
	"github.com/omerlv/chargelink/core/store"
)

// watchSession polls the vendor for the session's command status every
// poll interval. While the vendor reports the session active the poll
// reschedules; on any terminal status it waits a short grace period and
// stops the session unless it already completed (the vendor can end a
// session without a plug-out event ever reaching the feed). A transport
// error marks the session failed and ends the poll; it is not retried.
func (e *Engine) watchSession(ctx context.Context, sid string) {
	for {
		st, err := e.gateway.SessionStatus(ctx, cloudwise.StatusRequest{
			DeviceIdentity: e.identity,
			SessionID:      sid,
		})
		if ctx.Err() != nil {
			// Cancelled polls are silent no-ops.
			return
		}
		if err != nil {
			e.log.Errorf("session %s: status poll failed: %v", sid, err)
			if serr := e.sink.RecordPollStatus(sid, "transport_error"); serr != nil {
				e.log.Errorf("metrics: %v", serr)
			}
			// The failure write runs on the owning vehicle's worker so it
			// cannot race a concurrent stop marking the session completed.
			if sess, lerr := store.GetAs[model.ChargingSession](ctx, e.store, store.Sessions, sid); lerr != nil {
				e.log.Errorf("session %s: load on poll failure: %v", sid, lerr)
			} else {
				e.workerFor(sess.VehicleID).enqueue(workItem{failSessionID: sid})
			}
			e.publish(PollTerminatedEvent{SessionID: sid, Err: err})
			return
		}

		if serr := e.sink.RecordPollStatus(sid, string(st.Status)); serr != nil {
			e.log.Errorf("metrics: %v", serr)
		}
		if st.Status == cloudwise.CommandActive {
			if sleep(ctx, e.clock, e.pollInterval) != nil {
				return
			}
			continue
		}

		e.log.Infof("session %s reported %s by the network", sid, st.Status)
		e.publish(PollTerminatedEvent{SessionID: sid, Status: st.Status})
		if sleep(ctx, e.clock, e.stopGrace) != nil {
			return
		}
		sess, err := store.GetAs[model.ChargingSession](ctx, e.store, store.Sessions, sid)
		if err != nil {
			e.log.Errorf("session %s: load after poll: %v", sid, err)
			return
		}
		if sess.Status != model.SessionCompleted {
			// The stop is queued on the owning vehicle's worker so it
			// cannot race a feed-driven transition. The stop cancels this
			// task's context, so the reply is not awaited on it alone.
			reply := make(chan error, 1)
			e.workerFor(sess.VehicleID).enqueue(workItem{stopSessionID: sid, reply: reply})
			select {
			case err := <-reply:
				if err != nil {
					e.log.Errorf("session %s: stop after poll: %v", sid, err)
				}
			case <-e.rootCtx.Done():
			}
		}
		return
	}
}

// markPollFailure flips a still-open session to the error status. A
// session that already completed is left untouched. It always runs on the
// owning vehicle's worker, serialized with that vehicle's stop path.
func (e *Engine) markPollFailure(ctx context.Context, sid string) {
	sess, err := store.GetAs[model.ChargingSession](ctx, e.store, store.Sessions, sid)
	if err != nil {
		e.log.Errorf("session %s: load on poll failure: %v", sid, err)
		return
	}
	if sess.Status == model.SessionCompleted {
		return
	}
	if err := e.store.Patch(ctx, store.Sessions, sid, map[string]any{
		"status":   model.SessionError,
		"end_time": e.clock.Now(),
	}); err != nil {
		e.log.Errorf("session %s: persist poll failure: %v", sid, err)
	}
}

// finalizeSession is the delayed post-stop fetch: it asks the vendor for
// the final command status and, when the session completed, merges the
// billing figures and attaches the CDR. Its result overrides the
// provisional status written by the stop path.
func (e *Engine) finalizeSession(ctx context.Context, sid string) {
	st, err := e.gateway.SessionStatus(ctx, cloudwise.StatusRequest{
		DeviceIdentity: e.identity,
		SessionID:      sid,
	})
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		e.log.Errorf("session %s: finalize fetch failed: %v", sid, err)
		return
	}
	if st.Status != cloudwise.CommandCompleted {
		e.log.Debugf("session %s: finalize skipped, vendor status %s", sid, st.Status)
		return
	}

	sess, err := store.GetAs[model.ChargingSession](ctx, e.store, store.Sessions, sid)
	if err != nil {
		e.log.Errorf("session %s: load for finalize: %v", sid, err)
		return
	}

	fields := map[string]any{
		"status":           model.SessionCompleted,
		"cost":             st.Cost,
		"kwh":              st.KWh,
		"duration_seconds": st.DurationSeconds,
	}
	cdrID := ""
	if st.CDR != nil && sess.CDRID == "" {
		cdr := *st.CDR
		cdr.SessionID = sid
		cdr.VehicleID = sess.VehicleID
		if err := e.store.Set(ctx, store.CDRs, cdr.ID, cdr); err != nil {
			e.log.Errorf("session %s: persist cdr %s: %v", sid, cdr.ID, err)
		} else {
			fields["cdr_id"] = cdr.ID
			cdrID = cdr.ID
		}
	}
	if err := e.store.Patch(ctx, store.Sessions, sid, fields); err != nil {
		e.log.Errorf("session %s: persist finalize: %v", sid, err)
		return
	}
	e.publish(SessionFinalizedEvent{SessionID: sid, CDRID: cdrID, Cost: st.Cost, KWh: st.KWh})
	e.log.Infof("session %s finalized: %.2f kWh, cost %.2f", sid, st.KWh, st.Cost)
}
