// Package reconcile backfills billing data onto completed sessions. The
// vendor issues charge detail records asynchronously, sometimes hours
// after a session ends; the hourly reconciliation pass matches them to
// sessions that finished without one.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/omerlv/chargelink/core/cloudwise"
	"github.com/omerlv/chargelink/core/logger"
	"github.com/omerlv/chargelink/core/metrics"
	"github.com/omerlv/chargelink/core/model"
	"github.com/omerlv/chargelink/core/store"
)

const defaultFetchLimit = 100

// Reconciler matches vendor charge detail records to completed sessions
// that are still missing one.
type Reconciler struct {
	store      store.Store
	gateway    cloudwise.CommandGateway
	identity   cloudwise.DeviceIdentity
	sink       metrics.Sink
	log        logger.Logger
	fetchLimit int
}

// New builds a Reconciler. sink may be nil.
func New(st store.Store, gw cloudwise.CommandGateway, identity cloudwise.DeviceIdentity, sink metrics.Sink, log logger.Logger) *Reconciler {
	if sink == nil {
		sink = metrics.NopSink{}
	}
	return &Reconciler{
		store:      st,
		gateway:    gw,
		identity:   identity,
		sink:       sink,
		log:        log,
		fetchLimit: defaultFetchLimit,
	}
}

// Run performs one reconciliation pass. Completed sessions without an
// attached record are matched against the account's recent CDRs by
// session id; unmatched sessions stay pending for the next pass. A
// failure on one session does not abort the rest.
func (r *Reconciler) Run(ctx context.Context) error {
	sessions, err := store.ListAs[model.ChargingSession](ctx, r.store, store.Sessions)
	if err != nil {
		return fmt.Errorf("reconcile: list sessions: %w", err)
	}

	var pending []model.ChargingSession
	for _, s := range sessions {
		if s.Status == model.SessionCompleted && s.CDRID == "" {
			pending = append(pending, s)
		}
	}
	if len(pending) == 0 {
		return r.sink.RecordReconciliation(0, 0)
	}

	cdrs, err := r.gateway.UserCDRs(ctx, cloudwise.CDRQuery{
		AssetID: r.identity.AssetID,
		Limit:   r.fetchLimit,
	})
	if err != nil {
		return fmt.Errorf("reconcile: fetch cdrs: %w", err)
	}
	bySession := make(map[string]model.CDR, len(cdrs))
	for _, c := range cdrs {
		if c.SessionID != "" {
			bySession[c.SessionID] = c
		}
	}

	matched := 0
	for _, sess := range pending {
		cdr, ok := bySession[sess.ID]
		if !ok {
			continue
		}
		if err := r.attach(ctx, sess, cdr); err != nil {
			r.log.Errorf("reconcile: session %s: %v", sess.ID, err)
			continue
		}
		matched++
		r.log.Infof("reconcile: attached cdr %s to session %s", cdr.ID, sess.ID)
	}

	if err := r.sink.RecordReconciliation(matched, len(pending)-matched); err != nil {
		r.log.Errorf("metrics: %v", err)
	}
	r.log.Infof("reconciliation pass: %d matched, %d still pending", matched, len(pending)-matched)
	return nil
}

// attach persists the record and copies its billing figures onto the
// session verbatim.
func (r *Reconciler) attach(ctx context.Context, sess model.ChargingSession, cdr model.CDR) error {
	cdr.VehicleID = sess.VehicleID
	if err := r.store.Set(ctx, store.CDRs, cdr.ID, cdr); err != nil {
		return fmt.Errorf("persist cdr %s: %w", cdr.ID, err)
	}
	if err := r.store.Patch(ctx, store.Sessions, sess.ID, map[string]any{
		"cdr_id":           cdr.ID,
		"cost":             cdr.TotalCost,
		"kwh":              cdr.TotalEnergyKWh,
		"duration_seconds": cdr.DurationSeconds,
	}); err != nil {
		return fmt.Errorf("patch session: %w", err)
	}
	return nil
}

// Start runs reconciliation passes every interval until the context is
// cancelled. Run errors are logged, never fatal.
func (r *Reconciler) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Run(ctx); err != nil {
				r.log.Errorf("%v", err)
			}
		}
	}
}
