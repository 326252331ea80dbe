// Package app wires the configuration into a running service: store,
// vendor client, lifecycle engine, feed consumer, background jobs, metrics
// and the HTTP API.
package app

import (
	"context"
	"fmt"

	"github.com/omerlv/chargelink/api"
	"github.com/omerlv/chargelink/config"
	coremetrics "github.com/omerlv/chargelink/core/metrics"
	"github.com/omerlv/chargelink/core/reconcile"
	"github.com/omerlv/chargelink/core/session"
	"github.com/omerlv/chargelink/core/store"
	"github.com/omerlv/chargelink/infra/cloudwise"
	"github.com/omerlv/chargelink/infra/feed"
	infralogger "github.com/omerlv/chargelink/infra/logger"
	"github.com/omerlv/chargelink/infra/metrics"
	infrastore "github.com/omerlv/chargelink/infra/store"
	"github.com/omerlv/chargelink/internal/eventbus"
	"github.com/omerlv/chargelink/jobs/catalog"
)

// Service orchestrates the lifecycle engine and its surroundings.
type Service struct {
	Engine *session.Engine

	cfg        *config.Config
	store      store.Store
	consumer   *feed.Consumer
	apiServer  *api.Server
	syncer     *catalog.Syncer
	reconciler *reconcile.Reconciler
	bus        *eventbus.Bus
	influx     *metrics.InfluxSink
	log        infralogger.Logger
}

// New creates a Service from the configuration. The feed consumer connects
// eagerly so misconfigured brokers fail at startup rather than silently.
func New(cfg *config.Config) (*Service, error) {
	logg := infralogger.New("service")

	st, err := openStore(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	tokens := cloudwise.NewTokenSource(cfg.Cloudwise, infralogger.New("cloudwise-auth"))
	gateway := cloudwise.NewClient(cfg.Cloudwise, tokens, infralogger.New("cloudwise"))

	var sinks []coremetrics.Sink
	var influx *metrics.InfluxSink
	if cfg.Metrics.PrometheusEnabled {
		sink, err := metrics.NewPromSink()
		if err != nil {
			return nil, fmt.Errorf("prom sink: %w", err)
		}
		sinks = append(sinks, sink)
	}
	if cfg.Metrics.InfluxEnabled {
		sink := metrics.NewInfluxSinkWithFallback(cfg.Metrics.InfluxURL, cfg.Metrics.InfluxToken, cfg.Metrics.InfluxOrg, cfg.Metrics.InfluxBucket)
		if is, ok := sink.(*metrics.InfluxSink); ok {
			influx = is
		}
		sinks = append(sinks, sink)
	}
	var sink coremetrics.Sink = coremetrics.NopSink{}
	if len(sinks) == 1 {
		sink = sinks[0]
	} else if len(sinks) > 1 {
		sink = metrics.NewMultiSink(sinks...)
	}

	bus := eventbus.New()
	clock := session.SystemClock()
	resolver := session.NewResolver(
		session.StoreCatalog{Store: st},
		gateway,
		clock,
		infralogger.New("resolver"),
		cfg.Engine.ResolverConfig(),
	)
	engine, err := session.NewEngine(cfg.Engine, st, gateway, resolver, cfg.Cloudwise.Identity(), clock, sink, bus, infralogger.New("engine"))
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	consumer, err := feed.NewConsumer(cfg.Feed, engine, infralogger.New("feed"))
	if err != nil {
		return nil, fmt.Errorf("feed consumer: %w", err)
	}

	apiServer, err := api.NewServer(cfg.API, st, gateway, engine, infralogger.New("api"))
	if err != nil {
		return nil, fmt.Errorf("api server: %w", err)
	}

	return &Service{
		Engine:     engine,
		cfg:        cfg,
		store:      st,
		consumer:   consumer,
		apiServer:  apiServer,
		syncer:     catalog.NewSyncer(st, gateway, infralogger.New("catalog-sync")),
		reconciler: reconcile.New(st, gateway, cfg.Cloudwise.Identity(), sink, infralogger.New("reconcile")),
		bus:        bus,
		influx:     influx,
		log:        logg,
	}, nil
}

func openStore(cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Backend {
	case "memory":
		return store.NewMemoryStore(), nil
	case "sqlite":
		return infrastore.NewSQLiteStore(cfg.Path)
	case "postgres":
		return infrastore.NewPostgresStore(context.Background(), cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown store backend %s", cfg.Backend)
	}
}

// Run starts the service and blocks until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	if err := s.Engine.Prime(ctx); err != nil {
		return fmt.Errorf("prime engine: %w", err)
	}
	go s.logEvents()
	go s.syncer.Start(ctx, s.cfg.Jobs.CatalogSyncInterval())
	go s.reconciler.Start(ctx, s.cfg.Jobs.ReconcileInterval())
	if s.cfg.Metrics.PrometheusEnabled {
		go func() {
			if err := metrics.StartPromServer(ctx, ":"+s.cfg.Metrics.PrometheusPort, s.log); err != nil {
				s.log.Errorf("prom server: %v", err)
			}
		}()
	}
	go func() {
		if err := s.apiServer.Run(ctx); err != nil {
			s.log.Errorf("api server: %v", err)
		}
	}()
	<-ctx.Done()
	return nil
}

// logEvents mirrors lifecycle events into the structured log.
func (s *Service) logEvents() {
	sub := s.bus.Subscribe()
	for ev := range sub {
		switch e := ev.(type) {
		case session.SessionStartedEvent:
			s.log.Infof("session %s started for vehicle %s at %s/%s (low_confidence=%v)",
				e.SessionID, e.VehicleID, e.LocationID, e.StationUID, e.LowConfidence)
		case session.StartFailedEvent:
			s.log.Warnf("session start failed for vehicle %s: %v", e.VehicleID, e.Err)
		case session.SessionStoppedEvent:
			s.log.Infof("session %s stopped for vehicle %s (status=%s)", e.SessionID, e.VehicleID, e.Status)
		case session.SessionFinalizedEvent:
			s.log.Infof("session %s finalized: cdr=%s cost=%.2f kwh=%.2f", e.SessionID, e.CDRID, e.Cost, e.KWh)
		case session.PollTerminatedEvent:
			if e.Err != nil {
				s.log.Warnf("session %s polling aborted: %v", e.SessionID, e.Err)
			}
		}
	}
}

// Close releases resources held by the service.
func (s *Service) Close() error {
	s.consumer.Close()
	err := s.Engine.Close()
	s.bus.Close()
	if s.influx != nil {
		s.influx.Close()
	}
	if cerr := s.store.Close(); err == nil {
		err = cerr
	}
	return err
}
