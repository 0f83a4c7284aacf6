// Package bootstrap wires configuration, logging and the apartment runtime
// into an application with managed service lifecycles.
package bootstrap

import (
	"context"
	"fmt"
	"time"
)

// Service is a long-lived part of the application that the Supervisor
// starts after its dependencies and stops before them.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Health(ctx context.Context) (HealthStatus, error)
}

// HealthState summarizes a service's condition.
type HealthState uint8

const (
	HealthUnknown HealthState = iota
	HealthHealthy
	HealthUnhealthy
	HealthCritical
	HealthStopped
)

// String returns the string representation of HealthState.
func (s HealthState) String() string {
	switch s {
	case HealthHealthy:
		return "healthy"
	case HealthUnhealthy:
		return "unhealthy"
	case HealthCritical:
		return "critical"
	case HealthStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name.
func (s HealthState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// HealthStatus is one service's answer to a health check.
type HealthStatus struct {
	State     HealthState    `json:"state"`
	Message   string         `json:"message,omitempty"`
	CheckedAt time.Time      `json:"checked_at"`
	Data      map[string]any `json:"data,omitempty"`
}

// Container holds named instances shared between services
type Container interface {
	// Register registers a lazily constructed instance
	Register(name string, factory InstanceFactory) error

	// RegisterInstance registers a ready instance
	RegisterInstance(name string, instance any) error

	// Resolve resolves an instance by name
	Resolve(name string) (any, error)

	Has(name string) bool

	// Names returns all registered names in sorted order
	Names() []string
}

// InstanceFactory creates an instance on first resolution
type InstanceFactory func(container Container) (any, error)

// Lifecycle orders service start and stop.
type Lifecycle interface {
	Register(name string, service Service, deps ...string) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Health(ctx context.Context) (map[string]HealthStatus, error)
	Services() []string
	Subscribe(fn func(Event))
}

// EventKind identifies a lifecycle transition.
type EventKind string

const (
	EventRegistered  EventKind = "service.registered"
	EventStarting    EventKind = "service.starting"
	EventStarted     EventKind = "service.started"
	EventStartFailed EventKind = "service.start_failed"
	EventStopped     EventKind = "service.stopped"
	EventStopFailed  EventKind = "service.stop_failed"
	EventUp          EventKind = "lifecycle.started"
	EventDown        EventKind = "lifecycle.stopped"
)

// Event is delivered to Subscribe callbacks. Service is empty for
// lifecycle-wide events; Order is set on EventUp.
type Event struct {
	Kind    EventKind
	Service string
	At      time.Time
	Err     error
	Order   []string
}

// ApplicationError reports which operation failed and, when one is to
// blame, for which service.
type ApplicationError struct {
	Op      string
	Service string
	Err     error
}

func (e *ApplicationError) Error() string {
	if e.Service == "" {
		return fmt.Sprintf("bootstrap: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("bootstrap: %s %s: %v", e.Op, e.Service, e.Err)
}

func (e *ApplicationError) Unwrap() error {
	return e.Err
}
