package core

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestRuntime(t *testing.T, mutate ...func(*Options)) *Runtime {
	t.Helper()

	opts := DefaultOptions()
	opts.Logger = zerolog.New(zerolog.NewTestWriter(t)).Level(zerolog.WarnLevel)
	for _, m := range mutate {
		m(&opts)
	}

	rt := NewRuntime(opts)
	t.Cleanup(func() {
		_ = rt.Shutdown(context.Background())
	})
	return rt
}

// enter adopts the test goroutine as a thread for the duration of the test.
func enter(t *testing.T, rt *Runtime, name string) (context.Context, *Thread) {
	t.Helper()

	ctx, th := rt.Enter(context.Background(), name)
	t.Cleanup(th.Exit)
	return ctx, th
}

// receive reads one value from ch within timeout, or fails the test.
func receive[T any](t *testing.T, ch <-chan T, timeout time.Duration) T {
	t.Helper()

	select {
	case v := <-ch:
		return v
	case <-time.After(timeout):
		t.Fatalf("timed out after %v waiting for value", timeout)
	}
	panic("unreachable")
}

// recorder is a capability that records which thread executed each call.
type recorder struct {
	mu      sync.Mutex
	threads []ThreadID
	value   any
}

func (r *recorder) methods() Methods {
	return Methods{
		"M": func(ctx context.Context, _ []any) (any, error) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.threads = append(r.threads, CurrentThreadID(ctx))
			return r.value, nil
		},
	}
}

func (r *recorder) calls() []ThreadID {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]ThreadID, len(r.threads))
	copy(out, r.threads)
	return out
}

type callResult struct {
	value any
	err   error
}

func mustRegister(t *testing.T, rt *Runtime, ctx context.Context) *Apartment {
	t.Helper()

	apt, err := rt.Register(ctx)
	require.NoError(t, err)
	return apt
}
