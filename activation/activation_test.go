package activation

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/najoast/apartment/core"
)

// hen records the thread each cluck ran on.
type hen struct {
	mu      sync.Mutex
	threads []core.ThreadID
}

func (h *hen) Invoke(ctx context.Context, method core.MethodID, _ []any) (any, error) {
	switch method {
	case "Cluck":
		h.mu.Lock()
		defer h.mu.Unlock()
		h.threads = append(h.threads, core.CurrentThreadID(ctx))
		return "cluck", nil
	default:
		return nil, core.ErrUnknownMethod
	}
}

func (h *hen) clucks() []core.ThreadID {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]core.ThreadID(nil), h.threads...)
}

func setup(t *testing.T) (*core.Runtime, context.Context, *Registry, *Factory) {
	t.Helper()

	opts := core.DefaultOptions()
	opts.Logger = zerolog.New(zerolog.NewTestWriter(t)).Level(zerolog.WarnLevel)
	rt := core.NewRuntime(opts)

	ctx, main := rt.Enter(context.Background(), "main")
	registry := NewRegistry()
	f, err := NewFactory(ctx, rt, registry, opts.Logger)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = f.Close(context.Background())
		main.Exit()
		_ = rt.Shutdown(context.Background())
	})
	return rt, ctx, registry, f
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	ctor := func(context.Context) (core.Capability, error) { return &hen{}, nil }

	require.NoError(t, r.Register("Hen", core.ClassAffine, ctor))
	require.NoError(t, r.Register("Egg", core.ClassAgile, ctor))

	assert.ErrorIs(t, r.Register("Hen", core.ClassAffine, ctor), ErrClassExists)
	assert.ErrorIs(t, r.Register("Coop", core.ClassUnclassified, ctor), core.ErrUnclassified)
	assert.Error(t, r.Register("", core.ClassAffine, ctor))
	assert.Error(t, r.Register("Nil", core.ClassAffine, nil))

	assert.True(t, r.Has("Hen"))
	assert.False(t, r.Has("Fox"))
	assert.Equal(t, []string{"Egg", "Hen"}, r.Names())

	_, err := r.Lookup("Fox")
	assert.ErrorIs(t, err, ErrClassNotRegistered)
}

func TestCreateInstanceRunsOnFactoryApartment(t *testing.T) {
	rt, ctx, registry, f := setup(t)

	h := &hen{}
	require.NoError(t, registry.Register("Hen", core.ClassAffine, func(context.Context) (core.Capability, error) {
		return h, nil
	}))

	proxy, err := f.CreateInstance(ctx, "Hen")
	require.NoError(t, err)
	assert.Equal(t, f.Apartment().ID(), proxy.Owner())
	assert.Equal(t, core.ClassAgileViaReference, proxy.Class())
	assert.Equal(t, core.RouteMarshal, core.Classify(ctx, proxy))

	v, err := proxy.Invoke(ctx, "Cluck")
	require.NoError(t, err)
	assert.Equal(t, "cluck", v)
	assert.Equal(t, []core.ThreadID{f.Apartment().Owner().ID()}, h.clucks())

	// The handle used for the hand-off is not kept.
	assert.Zero(t, rt.Agile().Len())
	assert.EqualValues(t, 1, f.Created())
}

func TestCreateAgileInstance(t *testing.T) {
	_, ctx, registry, f := setup(t)

	h := &hen{}
	require.NoError(t, registry.Register("Egg", core.ClassAgile, func(context.Context) (core.Capability, error) {
		return h, nil
	}))

	proxy, err := f.CreateInstance(ctx, "Egg")
	require.NoError(t, err)
	assert.Equal(t, core.NoApartment, proxy.Owner())

	_, err = proxy.Invoke(ctx, "Cluck")
	require.NoError(t, err)
	assert.Equal(t, []core.ThreadID{core.CurrentThreadID(ctx)}, h.clucks())
}

func TestCreateInstanceErrors(t *testing.T) {
	_, ctx, registry, f := setup(t)

	_, err := f.CreateInstance(ctx, "Fox")
	assert.ErrorIs(t, err, ErrClassNotRegistered)

	errNoFeed := errors.New("no feed")
	require.NoError(t, registry.Register("Hungry", core.ClassAffine, func(context.Context) (core.Capability, error) {
		return nil, errNoFeed
	}))
	_, err = f.CreateInstance(ctx, "Hungry")
	assert.ErrorIs(t, err, errNoFeed)
	assert.Zero(t, f.Created())
}

func TestCloseDisconnectsProxies(t *testing.T) {
	_, ctx, registry, f := setup(t)

	require.NoError(t, registry.Register("Hen", core.ClassAffine, func(context.Context) (core.Capability, error) {
		return &hen{}, nil
	}))
	proxy, err := f.CreateInstance(ctx, "Hen")
	require.NoError(t, err)

	closeCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, f.Close(closeCtx))
	assert.Equal(t, core.ApartmentGone, f.Apartment().State())

	_, err = proxy.Invoke(ctx, "Cluck")
	assert.ErrorIs(t, err, core.ErrApartmentGone)

	_, err = f.CreateInstance(ctx, "Hen")
	assert.ErrorIs(t, err, ErrFactoryClosed)

	assert.NoError(t, f.Close(closeCtx))
}

func TestTransferHandleReleased(t *testing.T) {
	rt, ctx, registry, f := setup(t)
	require.NoError(t, registry.Register("Hen", core.ClassAffine, func(context.Context) (core.Capability, error) {
		return &hen{}, nil
	}))

	var buf bytes.Buffer
	f.log = zerolog.New(&buf).Level(zerolog.DebugLevel)

	proxy, err := f.CreateInstance(ctx, "Hen")
	require.NoError(t, err)
	assert.Zero(t, rt.Agile().Len())
	assert.Contains(t, buf.String(), "instance created")
	assert.NotContains(t, buf.String(), "release transfer handle")

	h, err := rt.Agile().Wrap(proxy)
	require.NoError(t, err)
	require.NoError(t, rt.Agile().Release(h))

	f.release(h)
	assert.Contains(t, buf.String(), "release transfer handle")
	assert.Contains(t, buf.String(), h.String())
}
