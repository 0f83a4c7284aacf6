package core

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Apartment is an execution context owned by exactly one Thread. Calls
// queued on its inbox only execute while the owner pumps: through
// RunPumpLoop, PumpOne, PumpPending, JoinWithPumping, or while the owner
// itself waits on a cross-apartment call.
type Apartment struct {
	id    ApartmentID
	owner *Thread
	rt    *Runtime

	inbox *inbox

	state          int32 // ApartmentState
	callsProcessed atomic.Uint64
	createdAt      time.Time
	lastPumpAt     atomic.Int64 // UnixNano

	teardownOnce sync.Once
	gone         chan struct{}
}

// Register binds the thread carried by ctx to a new apartment.
func (rt *Runtime) Register(ctx context.Context) (*Apartment, error) {
	if rt.closed.Load() {
		return nil, ErrRuntimeClosed
	}

	t, ok := ThreadFrom(ctx)
	if !ok {
		return nil, ErrNoThread
	}
	if t.rt != rt {
		return nil, fmt.Errorf("%w: thread %d belongs to another runtime", ErrNoThread, t.id)
	}
	if t.exited.Load() {
		return nil, fmt.Errorf("%w: thread %d has exited", ErrNoThread, t.id)
	}

	a := &Apartment{
		id:        ApartmentID(rt.apartmentCounter.Add(1)),
		owner:     t,
		rt:        rt,
		inbox:     newInbox(rt.options().InboxCapacity),
		createdAt: time.Now(),
		gone:      make(chan struct{}),
	}
	atomic.StoreInt32(&a.state, int32(ApartmentActive))

	if !t.apartment.CompareAndSwap(nil, a) {
		return nil, fmt.Errorf("%w: thread %d (%s)", ErrAlreadyRegistered, t.id, t.name)
	}
	rt.apartments.Store(a.id, a)

	rt.log.Info().
		Uint32("apartment", uint32(a.id)).
		Uint32("thread", uint32(t.id)).
		Str("name", t.name).
		Msg("apartment registered")

	return a, nil
}

// ID returns the apartment id.
func (a *Apartment) ID() ApartmentID {
	return a.id
}

// Owner returns the hosting thread.
func (a *Apartment) Owner() *Thread {
	return a.owner
}

// State returns the current lifecycle state.
func (a *Apartment) State() ApartmentState {
	return ApartmentState(atomic.LoadInt32(&a.state))
}

// Alive reports whether the apartment still accepts calls.
func (a *Apartment) Alive() bool {
	return a.State() == ApartmentActive
}

// Gone is closed once the apartment has been torn down.
func (a *Apartment) Gone() <-chan struct{} {
	return a.gone
}

// Enqueue appends req to the inbox. Safe for concurrent use.
func (a *Apartment) Enqueue(req *CallRequest) error {
	if err := a.inbox.push(req); err != nil {
		return &CallError{Op: "enqueue", Apartment: a.id, Object: req.Target, Method: req.Method, Err: err}
	}
	return nil
}

// Invoke runs fn on the apartment and waits for its result. Called from
// the owner, fn runs inline.
func (a *Apartment) Invoke(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, error) {
	if cur, ok := CurrentApartment(ctx); ok && cur == a {
		return execute(ctx, fn)
	}
	req := a.rt.newRequest(ctx, 0, "", nil, fn)
	return a.rt.marshal(ctx, a, req)
}

// RunPumpLoop pumps queued calls on the owning thread until stop is
// closed, ctx is done, or the apartment is torn down. Calls already queued
// when stop closes are run before it returns.
func (a *Apartment) RunPumpLoop(ctx context.Context, stop <-chan struct{}) error {
	if err := a.checkOwner(ctx); err != nil {
		return err
	}

	for {
		a.pumpPending(ctx)

		select {
		case <-a.inbox.wake:
		case <-stop:
			a.pumpPending(ctx)
			return nil
		case <-a.gone:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// PumpOne waits for a single queued call and executes it.
func (a *Apartment) PumpOne(ctx context.Context) error {
	if err := a.checkOwner(ctx); err != nil {
		return err
	}

	for {
		if req := a.inbox.pop(); req != nil {
			a.pump(ctx, req)
			return nil
		}

		select {
		case <-a.inbox.wake:
		case <-a.gone:
			return &CallError{Op: "pump", Apartment: a.id, Err: ErrApartmentGone}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// PumpPending executes every call currently queued without waiting for
// more and returns how many ran.
func (a *Apartment) PumpPending(ctx context.Context) (int, error) {
	if err := a.checkOwner(ctx); err != nil {
		return 0, err
	}
	return a.pumpPending(ctx), nil
}

func (a *Apartment) checkOwner(ctx context.Context) error {
	if t, ok := ThreadFrom(ctx); !ok || t != a.owner {
		return &CallError{Op: "pump", Apartment: a.id, Err: ErrWrongThread}
	}
	if !a.Alive() {
		return &CallError{Op: "pump", Apartment: a.id, Err: ErrApartmentGone}
	}
	return nil
}

func (a *Apartment) pumpPending(ctx context.Context) int {
	n := 0
	for {
		req := a.inbox.pop()
		if req == nil {
			return n
		}
		a.pump(ctx, req)
		n++
	}
}

// pump executes req on the calling (owning) thread and resolves its slot.
func (a *Apartment) pump(ctx context.Context, req *CallRequest) {
	value, err := execute(ctx, req.exec)

	a.callsProcessed.Add(1)
	a.lastPumpAt.Store(time.Now().UnixNano())

	req.slot.resolve(value, err)
	if req.slot.abandoned.Load() {
		a.rt.log.Warn().
			Uint32("apartment", uint32(a.id)).
			Uint64("request", req.ID).
			Str("method", string(req.Method)).
			Msg("dropping result of abandoned call")
		return
	}

	a.rt.log.Trace().
		Uint32("apartment", uint32(a.id)).
		Uint64("request", req.ID).
		Str("method", string(req.Method)).
		Msg("call pumped")
}

// Teardown marks the apartment dead, fails every queued call with
// ErrApartmentGone, invalidates agile handles captured on it and unbinds
// the owning thread. It may be called from any thread; calls after the
// first change nothing and return ErrApartmentGone.
func (a *Apartment) Teardown() error {
	first := false
	a.teardownOnce.Do(func() {
		first = true
		atomic.StoreInt32(&a.state, int32(ApartmentDraining))

		pending := a.inbox.close()
		for _, req := range pending {
			req.slot.resolve(nil, &CallError{
				Op:        "call",
				Apartment: a.id,
				Object:    req.Target,
				Method:    req.Method,
				Err:       ErrApartmentGone,
			})
		}

		a.owner.apartment.CompareAndSwap(a, nil)
		atomic.StoreInt32(&a.state, int32(ApartmentGone))
		close(a.gone)

		purged := a.rt.agile.purge(a.id)
		a.rt.apartments.Delete(a.id)

		a.rt.log.Info().
			Uint32("apartment", uint32(a.id)).
			Int("failed_calls", len(pending)).
			Int("purged_handles", purged).
			Msg("apartment torn down")
	})
	if !first {
		return &CallError{Op: "teardown", Apartment: a.id, Err: ErrApartmentGone}
	}
	return nil
}

// Stats returns current runtime statistics for this Apartment.
func (a *Apartment) Stats() ApartmentStats {
	var lastPumpAt time.Time
	if ns := a.lastPumpAt.Load(); ns > 0 {
		lastPumpAt = time.Unix(0, ns)
	}

	return ApartmentStats{
		ID:             a.id,
		Name:           a.owner.name,
		Owner:          a.owner.id,
		State:          a.State(),
		CallsProcessed: a.callsProcessed.Load(),
		InboxSize:      a.inbox.len(),
		CreatedAt:      a.createdAt,
		LastPumpAt:     lastPumpAt,
	}
}
