package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/najoast/apartment/activation"
	"github.com/najoast/apartment/config"
	"github.com/najoast/apartment/core"
	"github.com/najoast/apartment/metrics"
)

// RuntimeOptions converts configuration into runtime options.
func RuntimeOptions(cfg *config.Config, log zerolog.Logger) core.Options {
	opts := core.DefaultOptions()
	opts.InboxCapacity = cfg.Apartment.InboxCapacity
	opts.CallTimeout = cfg.Apartment.CallTimeout
	opts.DeadlockDetection = cfg.Apartment.DeadlockDetection
	opts.MaxHandles = cfg.Agile.MaxHandles
	opts.Logger = log
	return opts
}

// RuntimeService manages the apartment runtime. Stopping it tears down
// every apartment still alive.
type RuntimeService struct {
	rt              *core.Runtime
	shutdownTimeout time.Duration
}

// NewRuntimeService wraps rt.
func NewRuntimeService(rt *core.Runtime, shutdownTimeout time.Duration) *RuntimeService {
	return &RuntimeService{rt: rt, shutdownTimeout: shutdownTimeout}
}

func (s *RuntimeService) Name() string {
	return "runtime"
}

func (s *RuntimeService) Start(ctx context.Context) error {
	if s.rt.Closed() {
		return core.ErrRuntimeClosed
	}
	return nil
}

func (s *RuntimeService) Stop(ctx context.Context) error {
	if s.shutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.shutdownTimeout)
		defer cancel()
	}
	return s.rt.Shutdown(ctx)
}

func (s *RuntimeService) Health(ctx context.Context) (HealthStatus, error) {
	if s.rt.Closed() {
		return HealthStatus{State: HealthStopped, Message: "runtime shut down"}, nil
	}

	stats := s.rt.Stats()
	queued := 0
	for _, st := range stats {
		queued += st.InboxSize
	}
	return HealthStatus{
		State:   HealthHealthy,
		Message: "runtime running",
		Data: map[string]any{
			"apartments": len(stats),
			"queued":     queued,
			"handles":    s.rt.Agile().Len(),
		},
	}, nil
}

// FactoryService runs an activation.Factory for the lifetime of the
// application.
type FactoryService struct {
	rt       *core.Runtime
	registry *activation.Registry
	log      zerolog.Logger

	mutex   sync.RWMutex
	factory *activation.Factory
}

// NewFactoryService creates a factory service; the factory thread starts
// with the service.
func NewFactoryService(rt *core.Runtime, registry *activation.Registry, log zerolog.Logger) *FactoryService {
	return &FactoryService{rt: rt, registry: registry, log: log}
}

func (s *FactoryService) Name() string {
	return "factory"
}

// Factory returns the running factory, or nil before Start.
func (s *FactoryService) Factory() *activation.Factory {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.factory
}

func (s *FactoryService) Start(ctx context.Context) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.factory != nil {
		return fmt.Errorf("factory already started")
	}
	f, err := activation.NewFactory(ctx, s.rt, s.registry, s.log)
	if err != nil {
		return err
	}
	s.factory = f
	return nil
}

func (s *FactoryService) Stop(ctx context.Context) error {
	s.mutex.Lock()
	f := s.factory
	s.factory = nil
	s.mutex.Unlock()

	if f == nil {
		return nil
	}
	return f.Close(ctx)
}

func (s *FactoryService) Health(ctx context.Context) (HealthStatus, error) {
	f := s.Factory()
	if f == nil {
		return HealthStatus{State: HealthStopped, Message: "factory not running"}, nil
	}
	if !f.Apartment().Alive() {
		return HealthStatus{State: HealthCritical, Message: "factory apartment gone"}, nil
	}
	return HealthStatus{
		State:   HealthHealthy,
		Message: "factory running",
		Data: map[string]any{
			"apartment": f.Apartment().ID(),
			"created":   f.Created(),
			"classes":   s.registry.Names(),
		},
	}, nil
}

// ConfigWatcherService hot-reloads the configuration file and applies
// runtime settings from each new version.
type ConfigWatcherService struct {
	watcher *config.Watcher
	rt      *core.Runtime
	log     zerolog.Logger
	once    sync.Once
}

// NewConfigWatcherService applies reloads from watcher to rt.
func NewConfigWatcherService(watcher *config.Watcher, rt *core.Runtime, log zerolog.Logger) *ConfigWatcherService {
	return &ConfigWatcherService{watcher: watcher, rt: rt, log: log}
}

func (s *ConfigWatcherService) Name() string {
	return "config-watcher"
}

func (s *ConfigWatcherService) Start(ctx context.Context) error {
	s.once.Do(func() {
		s.watcher.OnChange(s.apply)
	})
	return s.watcher.Start()
}

func (s *ConfigWatcherService) apply(_, newConfig *config.Config) {
	s.rt.Reconfigure(RuntimeOptions(newConfig, s.log))
}

func (s *ConfigWatcherService) Stop(ctx context.Context) error {
	return s.watcher.Stop()
}

func (s *ConfigWatcherService) Health(ctx context.Context) (HealthStatus, error) {
	return HealthStatus{
		State:   HealthHealthy,
		Message: "watching " + s.watcher.Path(),
	}, nil
}

// MetricsService serves the Prometheus scrape endpoint for the runtime.
type MetricsService struct {
	cfg      config.MetricsConfig
	registry *prometheus.Registry
	log      zerolog.Logger

	mutex    sync.Mutex
	server   *http.Server
	listener net.Listener
	done     chan struct{}
}

// NewMetricsService serves registry on cfg.Address at cfg.Path.
func NewMetricsService(cfg config.MetricsConfig, registry *prometheus.Registry, log zerolog.Logger) *MetricsService {
	return &MetricsService{cfg: cfg, registry: registry, log: log.With().Str("component", "metrics").Logger()}
}

func (s *MetricsService) Name() string {
	return "metrics"
}

// Addr returns the bound listen address, or nil before Start.
func (s *MetricsService) Addr() net.Addr {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *MetricsService) Start(ctx context.Context) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.server != nil {
		return fmt.Errorf("metrics server already started")
	}
	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("metrics listen on %s: %w", s.cfg.Address, err)
	}

	mux := http.NewServeMux()
	mux.Handle(s.cfg.Path, metrics.Handler(s.registry))
	s.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	s.listener = ln
	s.done = make(chan struct{})

	go func(server *http.Server, done chan struct{}) {
		defer close(done)
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("metrics server failed")
		}
	}(s.server, s.done)

	s.log.Info().Str("address", ln.Addr().String()).Str("path", s.cfg.Path).Msg("serving metrics")
	return nil
}

func (s *MetricsService) Stop(ctx context.Context) error {
	s.mutex.Lock()
	server, done := s.server, s.done
	s.server, s.listener = nil, nil
	s.mutex.Unlock()

	if server == nil {
		return nil
	}
	err := server.Shutdown(ctx)
	<-done
	return err
}

func (s *MetricsService) Health(ctx context.Context) (HealthStatus, error) {
	addr := s.Addr()
	if addr == nil {
		return HealthStatus{State: HealthStopped, Message: "metrics server not running"}, nil
	}
	return HealthStatus{State: HealthHealthy, Message: "serving " + addr.String() + s.cfg.Path}, nil
}
