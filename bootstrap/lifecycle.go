package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultServiceTimeout bounds each service Start and Stop call.
const DefaultServiceTimeout = 30 * time.Second

type serviceEntry struct {
	service Service
	deps    []string
}

// Supervisor starts services after their dependencies and stops them in
// the reverse of the order they actually started. Subscribers run
// synchronously and must not call back into the Supervisor.
type Supervisor struct {
	log     zerolog.Logger
	timeout time.Duration

	mu      sync.Mutex
	entries map[string]serviceEntry
	running []string
	started bool

	subMu       sync.RWMutex
	subscribers []func(Event)
}

// NewSupervisor returns an empty Supervisor.
func NewSupervisor(log zerolog.Logger) *Supervisor {
	return &Supervisor{
		log:     log.With().Str("component", "lifecycle").Logger(),
		timeout: DefaultServiceTimeout,
		entries: make(map[string]serviceEntry),
	}
}

// Register adds service under name. deps name services that must be
// running first; they may be registered later, but before Start.
func (s *Supervisor) Register(name string, service Service, deps ...string) error {
	switch {
	case name == "":
		return errors.New("service name cannot be empty")
	case service == nil:
		return fmt.Errorf("service %s is nil", name)
	}

	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("register %s: services already started", name)
	}
	if _, dup := s.entries[name]; dup {
		s.mu.Unlock()
		return fmt.Errorf("service %s registered twice", name)
	}
	s.entries[name] = serviceEntry{service: service, deps: append([]string(nil), deps...)}
	s.mu.Unlock()

	s.emit(Event{Kind: EventRegistered, Service: name})
	return nil
}

// Start starts every service in dependency order. If one fails, those
// already running are stopped again and the failure is returned.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return errors.New("services already started")
	}
	order, err := s.order()
	if err != nil {
		return &ApplicationError{Op: "start", Err: err}
	}

	for _, name := range order {
		s.emit(Event{Kind: EventStarting, Service: name})
		if err := s.bounded(ctx, s.entries[name].service.Start); err != nil {
			s.log.Error().Err(err).Str("service", name).Msg("service failed to start")
			s.emit(Event{Kind: EventStartFailed, Service: name, Err: err})
			if rollbackErr := s.stopRunning(ctx); rollbackErr != nil {
				s.log.Warn().Err(rollbackErr).Msg("rollback after failed start was incomplete")
			}
			return &ApplicationError{Op: "start", Service: name, Err: err}
		}
		s.running = append(s.running, name)
		s.log.Debug().Str("service", name).Msg("service started")
		s.emit(Event{Kind: EventStarted, Service: name})
	}

	s.started = true
	s.emit(Event{Kind: EventUp, Order: order})
	return nil
}

// Stop stops the running services, newest first. Every service gets its
// Stop call; the failures are joined.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	err := s.stopRunning(ctx)
	s.started = false
	s.emit(Event{Kind: EventDown, Err: err})
	return err
}

func (s *Supervisor) stopRunning(ctx context.Context) error {
	var errs []error
	for i := len(s.running) - 1; i >= 0; i-- {
		name := s.running[i]
		if err := s.bounded(ctx, s.entries[name].service.Stop); err != nil {
			s.log.Error().Err(err).Str("service", name).Msg("service failed to stop")
			s.emit(Event{Kind: EventStopFailed, Service: name, Err: err})
			errs = append(errs, &ApplicationError{Op: "stop", Service: name, Err: err})
			continue
		}
		s.log.Debug().Str("service", name).Msg("service stopped")
		s.emit(Event{Kind: EventStopped, Service: name})
	}
	s.running = nil
	return errors.Join(errs...)
}

// bounded calls fn with the per-service timeout applied to ctx.
func (s *Supervisor) bounded(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return fn(ctx)
}

// Health checks every registered service. A check that errors reports
// HealthUnhealthy with the error as its message.
func (s *Supervisor) Health(ctx context.Context) (map[string]HealthStatus, error) {
	s.mu.Lock()
	entries := make(map[string]Service, len(s.entries))
	for name, e := range s.entries {
		entries[name] = e.service
	}
	s.mu.Unlock()

	report := make(map[string]HealthStatus, len(entries))
	for name, service := range entries {
		checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		status, err := service.Health(checkCtx)
		cancel()
		if err != nil {
			status = HealthStatus{State: HealthUnhealthy, Message: err.Error()}
		}
		if status.CheckedAt.IsZero() {
			status.CheckedAt = time.Now()
		}
		report[name] = status
	}
	return report, nil
}

// Services returns the registered service names, sorted.
func (s *Supervisor) Services() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.names()
}

// Subscribe adds fn to the event subscribers.
func (s *Supervisor) Subscribe(fn func(Event)) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.subscribers = append(s.subscribers, fn)
}

// SetTimeout replaces the per-service Start and Stop timeout.
func (s *Supervisor) SetTimeout(timeout time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeout = timeout
}

// IsStarted reports whether Start has succeeded and Stop has not run since.
func (s *Supervisor) IsStarted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

func (s *Supervisor) names() []string {
	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// order returns the services so that each follows its dependencies.
// Names and dependencies are visited sorted, so the order is stable.
func (s *Supervisor) order() ([]string, error) {
	const (
		visiting = 1
		placed   = 2
	)
	mark := make(map[string]int, len(s.entries))
	order := make([]string, 0, len(s.entries))
	var path []string

	var visit func(name string) error
	visit = func(name string) error {
		switch mark[name] {
		case placed:
			return nil
		case visiting:
			return fmt.Errorf("circular dependency: %s -> %s", strings.Join(path, " -> "), name)
		}
		mark[name] = visiting
		path = append(path, name)

		deps := append([]string(nil), s.entries[name].deps...)
		sort.Strings(deps)
		for _, dep := range deps {
			if _, ok := s.entries[dep]; !ok {
				return fmt.Errorf("service %s depends on unregistered service %s", name, dep)
			}
			if err := visit(dep); err != nil {
				return err
			}
		}

		path = path[:len(path)-1]
		mark[name] = placed
		order = append(order, name)
		return nil
	}

	for _, name := range s.names() {
		if err := visit(name); err != nil {
			return nil, err
		}
	}
	return order, nil
}

func (s *Supervisor) emit(e Event) {
	e.At = time.Now()

	s.subMu.RLock()
	subscribers := slices.Clone(s.subscribers)
	s.subMu.RUnlock()

	for _, fn := range subscribers {
		s.deliver(fn, e)
	}
}

func (s *Supervisor) deliver(fn func(Event), e Event) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Str("event", string(e.Kind)).Msg("lifecycle subscriber panicked")
		}
	}()
	fn(e)
}
