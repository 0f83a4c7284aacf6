package core

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// ApartmentID identifies an apartment within a Runtime.
type ApartmentID uint32

// NoApartment is the owner recorded for objects that carry no affinity.
const NoApartment ApartmentID = 0

// ThreadID identifies an execution unit within a Runtime.
type ThreadID uint32

// ObjectID identifies an object constructed by a Runtime.
type ObjectID uint64

// MethodID names an invocable method of a Capability.
type MethodID string

// ApartmentState represents the lifecycle state of an Apartment.
type ApartmentState uint8

const (
	// ApartmentActive means the apartment accepts calls
	ApartmentActive ApartmentState = iota

	// ApartmentDraining means teardown is failing the queued calls
	ApartmentDraining

	// ApartmentGone means the apartment has been torn down
	ApartmentGone
)

// String returns the string representation of ApartmentState.
func (s ApartmentState) String() string {
	switch s {
	case ApartmentActive:
		return "active"
	case ApartmentDraining:
		return "draining"
	case ApartmentGone:
		return "gone"
	default:
		return "unknown"
	}
}

// Capability is the invocable surface of a domain object. The runtime
// treats it opaquely as (method, args) -> result.
type Capability interface {
	Invoke(ctx context.Context, method MethodID, args []any) (any, error)
}

// CapabilityFunc adapts a function to the Capability interface.
type CapabilityFunc func(ctx context.Context, method MethodID, args []any) (any, error)

// Invoke calls f.
func (f CapabilityFunc) Invoke(ctx context.Context, method MethodID, args []any) (any, error) {
	return f(ctx, method, args)
}

// MethodFunc implements a single method of a Methods table.
type MethodFunc func(ctx context.Context, args []any) (any, error)

// Methods is a Capability backed by a method table.
type Methods map[MethodID]MethodFunc

// Invoke dispatches to the named method.
func (m Methods) Invoke(ctx context.Context, method MethodID, args []any) (any, error) {
	fn, ok := m[method]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMethod, method)
	}
	return fn(ctx, args)
}

// ApartmentStats contains runtime statistics for an Apartment.
type ApartmentStats struct {
	// ID of the Apartment
	ID ApartmentID

	// Name of the owning thread
	Name string

	// Owner is the hosting thread
	Owner ThreadID

	// Current state
	State ApartmentState

	// Total requests pumped
	CallsProcessed uint64

	// Requests currently queued
	InboxSize int

	// Time when the apartment was registered
	CreatedAt time.Time

	// Last time a request was pumped
	LastPumpAt time.Time
}

// Options contains configuration options for a Runtime.
type Options struct {
	// InboxCapacity bounds each apartment inbox; zero means unbounded
	InboxCapacity int

	// CallTimeout applies to cross-apartment calls whose context has no
	// deadline; zero disables it
	CallTimeout time.Duration

	// DeadlockDetection enables best-effort ErrReentrancyDeadlock checks
	DeadlockDetection bool

	// MaxHandles bounds the agile reference table; zero means unbounded
	MaxHandles int

	// Logger receives runtime diagnostics
	Logger zerolog.Logger
}

// DefaultOptions returns sensible default options.
func DefaultOptions() Options {
	return Options{
		InboxCapacity:     0,
		CallTimeout:       0,
		DeadlockDetection: true,
		MaxHandles:        0,
		Logger:            zerolog.Nop(),
	}
}
