package activation

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/najoast/apartment/core"
)

// Factory owns one apartment on its own thread and creates registered
// classes there. Callers receive proxies that marshal every call back to
// the factory apartment. Closing the factory tears the apartment down;
// proxies created by it fail with core.ErrApartmentGone afterwards.
type Factory struct {
	rt       *core.Runtime
	registry *Registry
	log      zerolog.Logger

	thread *core.Thread
	apt    *core.Apartment
	stop   chan struct{}

	created   atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewFactory starts the factory thread and waits until its apartment is
// registered and pumping.
func NewFactory(ctx context.Context, rt *core.Runtime, registry *Registry, log zerolog.Logger) (*Factory, error) {
	f := &Factory{
		rt:       rt,
		registry: registry,
		log:      log.With().Str("component", "factory").Logger(),
		stop:     make(chan struct{}),
	}

	ready := make(chan error, 1)
	f.thread = rt.Go(context.Background(), "factory", func(ctx context.Context) error {
		apt, err := rt.Register(ctx)
		if err != nil {
			ready <- err
			return err
		}
		f.apt = apt
		ready <- nil
		return apt.RunPumpLoop(ctx, f.stop)
	})

	select {
	case err := <-ready:
		if err != nil {
			return nil, fmt.Errorf("start factory apartment: %w", err)
		}
	case <-ctx.Done():
		close(f.stop)
		return nil, ctx.Err()
	}

	f.log.Info().Uint32("apartment", uint32(f.apt.ID())).Msg("factory started")
	return f, nil
}

// Apartment returns the factory's apartment.
func (f *Factory) Apartment() *core.Apartment {
	return f.apt
}

// Created returns how many instances the factory has created.
func (f *Factory) Created() uint64 {
	return f.created.Load()
}

// CreateInstance constructs class name on the factory apartment and returns
// a proxy usable from the calling thread.
func (f *Factory) CreateInstance(ctx context.Context, name string) (*core.Proxy, error) {
	if f.closed.Load() {
		return nil, ErrFactoryClosed
	}
	class, err := f.registry.Lookup(name)
	if err != nil {
		return nil, err
	}

	// The object is wrapped on the factory apartment and the handle is
	// resolved here, the same way any other thread would receive it.
	v, err := f.apt.Invoke(ctx, func(ctx context.Context) (any, error) {
		capability, err := class.New(ctx)
		if err != nil {
			return nil, err
		}
		obj, err := f.rt.NewObject(ctx, class.Name, capability, class.Class)
		if err != nil {
			return nil, err
		}
		return f.rt.Agile().Wrap(obj)
	})
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", name, err)
	}

	handle := v.(core.AgileHandle)
	defer f.release(handle)

	proxy, err := f.rt.Agile().Resolve(handle)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", name, err)
	}

	f.created.Add(1)
	f.log.Debug().
		Str("class", name).
		Uint64("object", uint64(proxy.ID())).
		Msg("instance created")
	return proxy, nil
}

// release drops the transfer handle. It fails only when the factory
// apartment went away after the instance was resolved.
func (f *Factory) release(h core.AgileHandle) {
	if err := f.rt.Agile().Release(h); err != nil {
		f.log.Debug().Err(err).Str("handle", h.String()).Msg("release transfer handle")
	}
}

// Close stops the factory thread and waits for its apartment to be torn
// down. Creations already queued complete first; later calls through its
// proxies fail with core.ErrApartmentGone.
func (f *Factory) Close(ctx context.Context) error {
	var err error
	f.closeOnce.Do(func() {
		f.closed.Store(true)
		close(f.stop)
		err = f.thread.Join(ctx)
		f.log.Info().Uint64("created", f.created.Load()).Msg("factory closed")
	})
	return err
}
