package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/najoast/apartment/activation"
	"github.com/najoast/apartment/config"
	"github.com/najoast/apartment/core"
	"github.com/najoast/apartment/logging"
	"github.com/najoast/apartment/metrics"
)

// Names under which the application registers its parts in the container.
const (
	ConfigName   = "config"
	LoggerName   = "logger"
	RuntimeName  = "runtime"
	RegistryName = "registry"
	FactoryName  = "factory"
	MetricsName  = "metrics"
)

// Option customizes an Application.
type Option func(*Application)

// WithConfig uses cfg instead of loading configuration.
func WithConfig(cfg *config.Config) Option {
	return func(app *Application) { app.config = cfg }
}

// WithConfigFile loads configuration from path and watches it for changes.
func WithConfigFile(path string) Option {
	return func(app *Application) { app.configFile = path }
}

// WithLoader replaces the configuration loader.
func WithLoader(loader *config.Loader) Option {
	return func(app *Application) { app.loader = loader }
}

// WithLogger uses log instead of building one from the configuration.
func WithLogger(log zerolog.Logger) Option {
	return func(app *Application) {
		app.log = log
		app.customLogger = true
	}
}

// Application owns the runtime, the activation factory and the services
// around them.
type Application struct {
	config     *config.Config
	configFile string
	loader     *config.Loader

	log          zerolog.Logger
	logCloser    io.Closer
	customLogger bool

	container *DefaultContainer
	lifecycle *Supervisor
	runtime   *core.Runtime
	registry  *activation.Registry
	factory   *FactoryService
	metrics   *prometheus.Registry
	scraper   *MetricsService

	mutex   sync.Mutex
	running bool
	signals chan os.Signal
}

// NewApplication loads configuration, builds the logger and runtime and
// registers the runtime and factory services, plus the config watcher when
// a config file is given and the metrics endpoint when it is enabled.
func NewApplication(opts ...Option) (*Application, error) {
	app := &Application{
		loader:    config.NewLoader(),
		container: NewContainer(),
		registry:  activation.NewRegistry(),
		signals:   make(chan os.Signal, 1),
	}
	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		cfg, err := app.loader.Load(app.configFile)
		if err != nil {
			return nil, &ApplicationError{Op: "configure", Err: err}
		}
		app.config = cfg
	} else if err := app.config.Validate(); err != nil {
		return nil, &ApplicationError{Op: "configure", Err: err}
	}

	if !app.customLogger {
		log, closer, err := logging.New(app.config.Log)
		if err != nil {
			return nil, &ApplicationError{Op: "configure", Err: err}
		}
		app.log, app.logCloser = log, closer
	}
	app.log = app.log.With().Str("app", app.config.App.Name).Logger()

	app.runtime = core.NewRuntime(RuntimeOptions(app.config, app.log))
	app.lifecycle = NewSupervisor(app.log)
	app.factory = NewFactoryService(app.runtime, app.registry, app.log)
	app.metrics = metrics.NewRegistry(app.runtime)

	if err := app.registerServices(); err != nil {
		app.closeLog()
		return nil, err
	}
	return app, nil
}

func (app *Application) registerServices() error {
	instances := map[string]any{
		ConfigName:   app.config,
		LoggerName:   app.log,
		RuntimeName:  app.runtime,
		RegistryName: app.registry,
		MetricsName:  app.metrics,
	}
	for name, instance := range instances {
		if err := app.container.RegisterInstance(name, instance); err != nil {
			return err
		}
	}
	if err := app.container.Register(FactoryName, func(Container) (any, error) {
		if f := app.factory.Factory(); f != nil {
			return f, nil
		}
		return nil, fmt.Errorf("factory service not started")
	}); err != nil {
		return err
	}

	if err := app.lifecycle.Register("runtime", NewRuntimeService(app.runtime, app.config.Apartment.ShutdownTimeout)); err != nil {
		return err
	}
	if err := app.lifecycle.Register("factory", app.factory, "runtime"); err != nil {
		return err
	}

	if app.config.Metrics.Enabled {
		app.scraper = NewMetricsService(app.config.Metrics, app.metrics, app.log)
		if err := app.lifecycle.Register("metrics", app.scraper, "runtime"); err != nil {
			return err
		}
	}

	if app.configFile != "" {
		watcher, err := config.NewWatcher(app.configFile, app.loader, app.log)
		if err != nil {
			return &ApplicationError{Op: "configure", Service: "config-watcher", Err: err}
		}
		if err := app.lifecycle.Register("config-watcher", NewConfigWatcherService(watcher, app.runtime, app.log), "runtime"); err != nil {
			return err
		}
	}
	return nil
}

// Config returns the configuration the application was built with.
func (app *Application) Config() *config.Config { return app.config }

// Logger returns the application logger.
func (app *Application) Logger() zerolog.Logger { return app.log }

// Runtime returns the apartment runtime.
func (app *Application) Runtime() *core.Runtime { return app.runtime }

// Registry returns the class registry used by the factory.
func (app *Application) Registry() *activation.Registry { return app.registry }

// Factory returns the activation factory, or nil before Start.
func (app *Application) Factory() *activation.Factory { return app.factory.Factory() }

// Metrics returns the Prometheus registry holding the runtime collector.
func (app *Application) Metrics() *prometheus.Registry { return app.metrics }

// MetricsAddr returns the address the metrics endpoint listens on, or nil
// when it is disabled or not started.
func (app *Application) MetricsAddr() net.Addr {
	if app.scraper == nil {
		return nil
	}
	return app.scraper.Addr()
}

// Container returns the instance container.
func (app *Application) Container() Container { return app.container }

// Lifecycle returns the service supervisor.
func (app *Application) Lifecycle() Lifecycle { return app.lifecycle }

// Start starts all services.
func (app *Application) Start(ctx context.Context) error {
	app.mutex.Lock()
	defer app.mutex.Unlock()

	if app.running {
		return fmt.Errorf("application is already running")
	}
	if err := app.lifecycle.Start(ctx); err != nil {
		return err
	}
	app.running = true

	app.log.Info().
		Str("version", app.config.App.Version).
		Str("environment", app.config.App.Environment.String()).
		Strs("services", app.lifecycle.Services()).
		Msg("application started")
	return nil
}

// Run starts the application and blocks until SIGINT, SIGTERM or ctx
// cancellation, then shuts down.
func (app *Application) Run(ctx context.Context) error {
	if err := app.Start(ctx); err != nil {
		return err
	}

	signal.Notify(app.signals, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(app.signals)

	select {
	case sig := <-app.signals:
		app.log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case <-ctx.Done():
		app.log.Info().Msg("context cancelled, shutting down")
	}

	shutdownCtx := context.Background()
	if d := app.config.Apartment.ShutdownTimeout; d > 0 {
		var cancel context.CancelFunc
		shutdownCtx, cancel = context.WithTimeout(shutdownCtx, d)
		defer cancel()
	}
	return app.Shutdown(shutdownCtx)
}

// Shutdown stops all services in reverse order and closes the log output.
func (app *Application) Shutdown(ctx context.Context) error {
	app.mutex.Lock()
	defer app.mutex.Unlock()

	if !app.running {
		return nil
	}
	app.running = false

	err := app.lifecycle.Stop(ctx)
	app.log.Info().Err(err).Msg("application stopped")
	return errors.Join(err, app.closeLog())
}

func (app *Application) closeLog() error {
	if app.logCloser == nil {
		return nil
	}
	c := app.logCloser
	app.logCloser = nil
	return c.Close()
}
