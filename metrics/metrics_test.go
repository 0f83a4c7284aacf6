package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/najoast/apartment/core"
)

// gauge returns the value of the first sample of family name.
func gauge(t *testing.T, rt *core.Runtime, name string) (float64, bool) {
	t.Helper()
	families, err := NewRegistry(rt).Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name || len(mf.GetMetric()) == 0 {
			continue
		}
		m := mf.GetMetric()[0]
		if m.GetCounter() != nil {
			return m.GetCounter().GetValue(), true
		}
		return m.GetGauge().GetValue(), true
	}
	return 0, false
}

func TestCollectorReportsRuntime(t *testing.T) {
	rt := core.NewRuntime(core.DefaultOptions())
	ctx := context.Background()

	v, ok := gauge(t, rt, "apartment_runtime_apartments")
	require.True(t, ok)
	assert.Zero(t, v)
	_, ok = gauge(t, rt, "apartment_inbox_size")
	assert.False(t, ok)

	mainCtx, main := rt.Enter(ctx, "main")
	defer main.Exit()
	apt, err := rt.Register(mainCtx)
	require.NoError(t, err)

	obj, err := rt.NewObject(mainCtx, "counter", core.Methods{
		"Get": func(context.Context, []any) (any, error) { return 1, nil },
	}, core.ClassAffine)
	require.NoError(t, err)
	_, err = rt.Agile().Wrap(obj)
	require.NoError(t, err)

	worker := rt.Go(ctx, "worker", func(ctx context.Context) error {
		_, err := obj.Invoke(ctx, "Get")
		return err
	})
	require.Eventually(t, func() bool {
		v, ok := gauge(t, rt, "apartment_inbox_size")
		return ok && v == 1
	}, time.Second, time.Millisecond)

	require.NoError(t, apt.PumpOne(mainCtx))
	require.NoError(t, worker.Join(mainCtx))

	v, _ = gauge(t, rt, "apartment_runtime_apartments")
	assert.Equal(t, 1.0, v)
	v, _ = gauge(t, rt, "apartment_runtime_agile_handles")
	assert.Equal(t, 1.0, v)
	v, _ = gauge(t, rt, "apartment_calls_processed_total")
	assert.Equal(t, 1.0, v)
	v, _ = gauge(t, rt, "apartment_inbox_size")
	assert.Zero(t, v)
	_, ok = gauge(t, rt, "apartment_pump_last_timestamp_seconds")
	assert.True(t, ok)

	main.Exit()
	v, _ = gauge(t, rt, "apartment_runtime_apartments")
	assert.Zero(t, v)
	v, _ = gauge(t, rt, "apartment_runtime_agile_handles")
	assert.Zero(t, v)
}

func TestHandlerServesTextFormat(t *testing.T) {
	rt := core.NewRuntime(core.DefaultOptions())
	ctx, thread := rt.Enter(context.Background(), "main")
	defer thread.Exit()
	_, err := rt.Register(ctx)
	require.NoError(t, err)

	srv := httptest.NewServer(Handler(NewRegistry(rt)))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "apartment_runtime_apartments 1")
	assert.Contains(t, string(body), `apartment_calls_processed_total{apartment="1",thread="main"} 0`)
	assert.Contains(t, string(body), "go_goroutines")
}
