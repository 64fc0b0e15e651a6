package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kilianp07/tracet/api"
	"github.com/kilianp07/tracet/config"
	"github.com/kilianp07/tracet/core/decision"
	"github.com/kilianp07/tracet/core/grouping"
	"github.com/kilianp07/tracet/core/heartbeat"
	coremetrics "github.com/kilianp07/tracet/core/metrics"
	coremon "github.com/kilianp07/tracet/core/monitoring"
	"github.com/kilianp07/tracet/core/pipeline"
	"github.com/kilianp07/tracet/core/store"
	"github.com/kilianp07/tracet/core/telescope"
	"github.com/kilianp07/tracet/infra/logger"
	"github.com/kilianp07/tracet/infra/metrics"
	"github.com/kilianp07/tracet/infra/monitoring"
	"github.com/kilianp07/tracet/infra/mqtt"
	"github.com/kilianp07/tracet/infra/nats"
	"github.com/kilianp07/tracet/infra/sqlite"
	"github.com/kilianp07/tracet/internal/eventbus"
)

// Service wires the notice pipeline to its storage, ingestion and outputs.
type Service struct {
	Store     store.Repository
	Pipeline  *pipeline.Pipeline
	Engine    *decision.Engine
	Heartbeat *heartbeat.Monitor

	cfg       *config.Config
	bus       *eventbus.Bus
	log       logger.Logger
	logCloser io.Closer
	listener  *mqtt.Listener
	forwarder *nats.Forwarder
}

// OpenStore opens the repository selected by cfg.
func OpenStore(ctx context.Context, cfg config.StoreConfig) (store.Repository, error) {
	switch cfg.Backend {
	case config.StoreMemory:
		return store.NewMemoryStore(), nil
	case config.StoreSQLite:
		repo, err := sqlite.Open(ctx, cfg.Path)
		if err != nil {
			return nil, err
		}
		return repo, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// New creates a Service from the configuration and loads the stream and
// trigger definitions.
func New(ctx context.Context, cfg *config.Config) (*Service, error) {
	closer, err := logger.Configure(cfg.Logging.Options())
	if err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}
	logg := logger.New("service")

	mon, err := monitoring.NewSentryMonitor(cfg.Sentry)
	if err != nil {
		logg.Warnf("sentry disabled: %v", err)
		mon = coremon.NopMonitor{}
	}
	coremon.Init(mon)

	sink, err := coremetrics.NewMetricsSink(cfg.Metrics.Sinks)
	if err != nil {
		return nil, fmt.Errorf("metrics sink: %w", err)
	}
	repo, err := OpenStore(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}

	bus := eventbus.New(eventbus.WithBuffer(cfg.Notify.Buffer))
	registry := telescope.NewRegistry(cfg.Telescopes.Env())
	dispatcher, err := telescope.NewDispatcher(repo, registry, sink, bus, logger.New("dispatcher"))
	if err != nil {
		return nil, fmt.Errorf("dispatcher: %w", err)
	}
	engine, err := decision.NewEngine(repo, dispatcher, sink, bus, logger.New("decision"))
	if err != nil {
		return nil, fmt.Errorf("decision engine: %w", err)
	}
	grouper, err := grouping.NewGrouper(repo, logger.New("grouping"))
	if err != nil {
		return nil, fmt.Errorf("grouper: %w", err)
	}
	p, err := pipeline.New(repo, grouper, engine, registry, sink, bus, logger.New("pipeline"))
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	svc := &Service{
		Store:     repo,
		Pipeline:  p,
		Engine:    engine,
		Heartbeat: heartbeat.NewMonitor(sink, logger.New("heartbeat")),
		cfg:       cfg,
		bus:       bus,
		log:       logg,
		logCloser: closer,
	}
	if cfg.Triggers != "" {
		defs, err := config.LoadDefinitions(cfg.Triggers)
		if err != nil {
			_ = svc.Close()
			return nil, fmt.Errorf("trigger definitions: %w", err)
		}
		if err := p.LoadTriggers(ctx, defs.Streams, defs.Triggers); err != nil {
			_ = svc.Close()
			return nil, fmt.Errorf("load triggers: %w", err)
		}
		logg.Infof("loaded %d streams and %d triggers", len(defs.Streams), len(defs.Triggers))
	}
	return svc, nil
}

// Router returns the HTTP API of the service.
func (s *Service) Router() http.Handler {
	h := &api.Handler{
		Store:     s.Store,
		Pipeline:  s.Pipeline,
		Decisions: s.Engine,
		Heartbeat: s.Heartbeat,
		Metrics:   metrics.Handler(),
		Logger:    logger.New("api"),
	}
	return h.Router()
}

// Run starts ingestion, event forwarding and the HTTP API, and blocks until
// the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	defer coremon.Recover()
	if s.cfg.Ingest.Broker != "" {
		l, err := mqtt.NewListener(s.cfg.Ingest, s.Heartbeat.Handle)
		if err != nil {
			return fmt.Errorf("mqtt listener: %w", err)
		}
		s.listener = l
		go s.Pipeline.Run(ctx, l.Notices())
	} else {
		s.log.Warnf("no broker configured, notices are only accepted from the CLI")
	}
	if s.cfg.Notify.URL != "" {
		f, err := nats.Connect(s.cfg.Notify)
		if err != nil {
			return fmt.Errorf("nats forwarder: %w", err)
		}
		s.forwarder = f
		go f.Run(ctx, s.bus)
	}
	if s.cfg.Metrics.PrometheusPort != "" {
		go func() {
			if err := metrics.StartPromServer(ctx, s.cfg.Metrics.PrometheusPort); err != nil {
				s.log.Errorf("prom server: %v", err)
			}
		}()
	}

	srv := &http.Server{Addr: s.cfg.API.Address, Handler: s.Router(), ReadHeaderTimeout: 5 * time.Second}
	errc := make(chan error, 1)
	go func() {
		s.log.Infof("api listening on %s", s.cfg.API.Address)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()
	select {
	case <-ctx.Done():
	case err := <-errc:
		return fmt.Errorf("api server: %w", err)
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// Close releases resources held by the service.
func (s *Service) Close() error {
	if s.listener != nil {
		s.listener.Close()
	}
	if s.forwarder != nil {
		s.forwarder.Close()
	}
	s.bus.Close()
	coremon.Flush(2 * time.Second)
	err := s.Store.Close()
	if s.logCloser != nil {
		err = errors.Join(err, s.logCloser.Close())
	}
	return err
}
