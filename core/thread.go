package core

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

type threadKey struct{}

// Thread is an execution unit. It may host at most one Apartment at a time;
// a thread that never registers can still make calls but cannot own affine
// objects.
type Thread struct {
	id   ThreadID
	name string
	rt   *Runtime

	apartment atomic.Pointer[Apartment]

	// joining is the thread this one is blocked on in a non-pumping Join.
	joining atomic.Pointer[Thread]

	done     chan struct{}
	exitOnce sync.Once
	exited   atomic.Bool
	err      error
}

// ThreadFrom returns the thread carried by ctx.
func ThreadFrom(ctx context.Context) (*Thread, bool) {
	t, ok := ctx.Value(threadKey{}).(*Thread)
	return t, ok && t != nil
}

// CurrentThreadID returns the id of the thread carried by ctx, or zero.
func CurrentThreadID(ctx context.Context) ThreadID {
	if t, ok := ThreadFrom(ctx); ok {
		return t.id
	}
	return 0
}

// CurrentApartment returns the apartment hosted by the thread carried by ctx.
func CurrentApartment(ctx context.Context) (*Apartment, bool) {
	t, ok := ThreadFrom(ctx)
	if !ok {
		return nil, false
	}
	a := t.apartment.Load()
	return a, a != nil
}

func withThread(ctx context.Context, t *Thread) context.Context {
	return context.WithValue(ctx, threadKey{}, t)
}

// Go starts fn on a new thread. The context handed to fn identifies the
// thread; pass it (or a context derived from it) to every call made from
// the thread. When fn returns, the thread's apartment is torn down.
func (rt *Runtime) Go(ctx context.Context, name string, fn func(ctx context.Context) error) *Thread {
	t := rt.newThread(name)
	tctx := withThread(ctx, t)

	go func() {
		var err error
		defer func() { t.exit(err) }()

		_, err = execute(tctx, func(ctx context.Context) (any, error) {
			return nil, fn(ctx)
		})
	}()

	return t
}

// Enter adopts the calling goroutine as a thread. The caller must call
// Exit when the goroutine stops acting as that thread.
func (rt *Runtime) Enter(ctx context.Context, name string) (context.Context, *Thread) {
	t := rt.newThread(name)
	return withThread(ctx, t), t
}

func (rt *Runtime) newThread(name string) *Thread {
	id := ThreadID(rt.threadCounter.Add(1))
	if name == "" {
		name = fmt.Sprintf("thread-%d", id)
	}
	return &Thread{
		id:   id,
		name: name,
		rt:   rt,
		done: make(chan struct{}),
	}
}

// ID returns the thread id.
func (t *Thread) ID() ThreadID {
	return t.id
}

// Name returns the thread name.
func (t *Thread) Name() string {
	return t.name
}

// Apartment returns the apartment hosted by this thread, or nil.
func (t *Thread) Apartment() *Apartment {
	return t.apartment.Load()
}

// Done is closed once the thread has terminated.
func (t *Thread) Done() <-chan struct{} {
	return t.done
}

// Err returns the error the thread function returned. Valid after Done.
func (t *Thread) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Exit terminates an adopted thread, tearing down its apartment.
func (t *Thread) Exit() {
	t.exit(nil)
}

func (t *Thread) exit(err error) {
	t.exitOnce.Do(func() {
		if a := t.apartment.Load(); a != nil {
			_ = a.Teardown()
		}
		t.err = err
		t.exited.Store(true)
		close(t.done)

		t.rt.log.Debug().
			Uint32("thread", uint32(t.id)).
			Str("name", t.name).
			Err(err).
			Msg("thread exited")
	})
}

// Join waits for the thread to terminate without pumping. ctx identifies
// the joining thread; a call into the joiner's apartment made by t while
// the joiner is blocked here can never complete.
func (t *Thread) Join(ctx context.Context) error {
	if self, ok := ThreadFrom(ctx); ok {
		if self == t {
			return fmt.Errorf("thread %d cannot join itself", t.id)
		}
		self.joining.Store(t)
		defer self.joining.Store(nil)
	}

	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// JoinWithPumping waits for the thread to terminate while pumping the
// joining thread's apartment, so calls made back into it complete. It
// behaves like Join when the joiner hosts no apartment.
func (t *Thread) JoinWithPumping(ctx context.Context) error {
	self, ok := ThreadFrom(ctx)
	if !ok || self.Apartment() == nil {
		return t.Join(ctx)
	}
	if self == t {
		return fmt.Errorf("thread %d cannot join itself", t.id)
	}

	for {
		home := self.Apartment()
		if home == nil {
			return t.Join(ctx)
		}
		home.pumpPending(ctx)

		select {
		case <-t.done:
			return t.err
		case <-home.inbox.wake:
		case <-home.gone:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
