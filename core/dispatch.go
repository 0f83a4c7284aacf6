package core

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// dispatch routes a call through r: inline when the caller is on the owner
// (or there is no owner), marshaled onto the owner's inbox otherwise.
func (rt *Runtime) dispatch(ctx context.Context, r route, target *Object, method MethodID, args []any) (any, error) {
	exec := func(ctx context.Context) (any, error) {
		return target.payload.Invoke(ctx, method, args)
	}

	if classify(ctx, r) == RouteInline {
		rt.log.Trace().
			Uint64("object", uint64(target.id)).
			Str("method", string(method)).
			Uint32("thread", uint32(CurrentThreadID(ctx))).
			Msg("inline call")
		return execute(ctx, exec)
	}

	req := rt.newRequest(ctx, target.id, method, args, exec)
	return rt.marshal(ctx, r.owner, req)
}

func (rt *Runtime) newRequest(ctx context.Context, target ObjectID, method MethodID, args []any, exec func(ctx context.Context) (any, error)) *CallRequest {
	req := &CallRequest{
		ID:         rt.requestCounter.Add(1),
		Target:     target,
		Method:     method,
		Args:       args,
		EnqueuedAt: time.Now(),
		exec:       exec,
		slot:       newResultSlot(),
	}
	if cur, ok := CurrentApartment(ctx); ok {
		req.Caller = cur.id
	}
	return req
}

// marshal queues req on owner and blocks until it resolves. While waiting
// the caller keeps pumping its own apartment so calls made back into it
// are not starved.
func (rt *Runtime) marshal(ctx context.Context, owner *Apartment, req *CallRequest) (any, error) {
	opts := rt.options()
	self, _ := ThreadFrom(ctx)

	if !owner.Alive() {
		return nil, &CallError{Op: "call", Apartment: owner.id, Object: req.Target, Method: req.Method, Err: ErrApartmentGone}
	}
	if opts.DeadlockDetection && wouldDeadlock(self, owner) {
		rt.log.Warn().
			Uint32("apartment", uint32(owner.id)).
			Uint32("caller_thread", uint32(CurrentThreadID(ctx))).
			Str("method", string(req.Method)).
			Msg("refusing call into apartment that is not pumping")
		return nil, &CallError{Op: "call", Apartment: owner.id, Object: req.Target, Method: req.Method, Err: ErrReentrancyDeadlock}
	}

	if err := owner.Enqueue(req); err != nil {
		return nil, err
	}

	callerCtx := ctx
	if _, ok := ctx.Deadline(); !ok && opts.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.CallTimeout)
		defer cancel()
	}

	for {
		var wake <-chan struct{}
		if self != nil {
			if home := self.Apartment(); home != nil {
				home.pumpPending(callerCtx)
				wake = home.inbox.wake
			}
		}

		select {
		case <-req.slot.done:
			return req.slot.result()
		case <-wake:
		case <-ctx.Done():
			req.slot.abandon()
			err := ctx.Err()
			if errors.Is(err, context.DeadlineExceeded) {
				err = fmt.Errorf("%w: %w", ErrCallTimedOut, err)
			}
			return nil, &CallError{Op: "call", Apartment: owner.id, Object: req.Target, Method: req.Method, Err: err}
		}
	}
}

// wouldDeadlock reports whether owner's thread can never pump a call from
// caller: it has exited, or it is blocked in a non-pumping Join that
// (possibly transitively) waits on caller.
func wouldDeadlock(caller *Thread, owner *Apartment) bool {
	t := owner.owner
	if t.exited.Load() {
		return true
	}
	if caller == nil {
		return false
	}

	seen := map[*Thread]bool{}
	for t != nil && !seen[t] {
		seen[t] = true
		next := t.joining.Load()
		if next == caller {
			return true
		}
		t = next
	}
	return false
}
