package core

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// CallRequest is a queued invocation waiting to be pumped by the target
// apartment. It is executed at most once and its result is observed by at
// most one waiter.
type CallRequest struct {
	// ID is unique within the Runtime
	ID uint64

	// Target is the object being called (zero for Apartment.Invoke)
	Target ObjectID

	// Method being invoked
	Method MethodID

	// Args passed to the method
	Args []any

	// Caller is the apartment the call originated from, if any
	Caller ApartmentID

	// EnqueuedAt is when the request was created
	EnqueuedAt time.Time

	exec func(ctx context.Context) (any, error)
	slot *resultSlot
}

// resultSlot is a single-assignment future. Writes after the waiter has
// abandoned the slot are accepted and dropped.
type resultSlot struct {
	done      chan struct{}
	once      sync.Once
	value     any
	err       error
	abandoned atomic.Bool
}

func newResultSlot() *resultSlot {
	return &resultSlot{done: make(chan struct{})}
}

// resolve stores the outcome. Only the first call has any effect.
func (s *resultSlot) resolve(value any, err error) bool {
	won := false
	s.once.Do(func() {
		s.value = value
		s.err = err
		close(s.done)
		won = true
	})
	return won
}

func (s *resultSlot) result() (any, error) {
	<-s.done
	return s.value, s.err
}

func (s *resultSlot) abandon() {
	s.abandoned.Store(true)
}

// execute runs fn, converting a panic into ErrMethodPanic.
func execute(ctx context.Context, fn func(ctx context.Context) (any, error)) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			value = nil
			err = fmt.Errorf("%w: %v\n%s", ErrMethodPanic, r, debug.Stack())
		}
	}()
	return fn(ctx)
}
