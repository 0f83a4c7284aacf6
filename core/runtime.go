package core

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Runtime owns a set of apartments, the threads hosting them and the agile
// reference table shared between them.
type Runtime struct {
	mu   sync.RWMutex
	opts Options
	log  zerolog.Logger

	// Map of ApartmentID to *Apartment
	apartments sync.Map

	agile *AgileTable

	threadCounter    atomic.Uint32
	apartmentCounter atomic.Uint32
	objectCounter    atomic.Uint64
	requestCounter   atomic.Uint64

	closed atomic.Bool
}

// NewRuntime creates a new Runtime.
func NewRuntime(opts Options) *Runtime {
	rt := &Runtime{
		opts: opts,
		log:  opts.Logger.With().Str("component", "apartment").Logger(),
	}
	rt.agile = newAgileTable(rt, opts.MaxHandles)
	return rt
}

func (rt *Runtime) options() Options {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return rt.opts
}

// Reconfigure applies new limits and timeouts. Existing apartments pick up
// the new inbox capacity; calls already waiting keep their deadline. The
// logger is fixed at construction and is not replaced.
func (rt *Runtime) Reconfigure(opts Options) {
	rt.mu.Lock()
	opts.Logger = rt.opts.Logger
	rt.opts = opts
	rt.mu.Unlock()

	rt.agile.setLimit(opts.MaxHandles)
	rt.apartments.Range(func(_, value any) bool {
		value.(*Apartment).inbox.setCapacity(opts.InboxCapacity)
		return true
	})

	rt.log.Info().
		Int("inbox_capacity", opts.InboxCapacity).
		Dur("call_timeout", opts.CallTimeout).
		Bool("deadlock_detection", opts.DeadlockDetection).
		Int("max_handles", opts.MaxHandles).
		Msg("runtime reconfigured")
}

// Agile returns the runtime's agile reference table.
func (rt *Runtime) Agile() *AgileTable {
	return rt.agile
}

// Lookup finds a live apartment by id.
func (rt *Runtime) Lookup(id ApartmentID) (*Apartment, bool) {
	if a, ok := rt.apartments.Load(id); ok {
		return a.(*Apartment), true
	}
	return nil, false
}

// Apartments returns the ids of all live apartments in ascending order.
func (rt *Runtime) Apartments() []ApartmentID {
	var ids []ApartmentID
	rt.apartments.Range(func(key, _ any) bool {
		ids = append(ids, key.(ApartmentID))
		return true
	})
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Stats returns statistics for all live apartments.
func (rt *Runtime) Stats() []ApartmentStats {
	var stats []ApartmentStats
	for _, id := range rt.Apartments() {
		if a, ok := rt.Lookup(id); ok {
			stats = append(stats, a.Stats())
		}
	}
	return stats
}

// Closed reports whether Shutdown has been called.
func (rt *Runtime) Closed() bool {
	return rt.closed.Load()
}

// Shutdown tears down every apartment, failing their queued calls and
// invalidating the agile handles captured on them. New registrations are
// refused afterwards.
func (rt *Runtime) Shutdown(ctx context.Context) error {
	rt.closed.Store(true)

	for _, id := range rt.Apartments() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if a, ok := rt.Lookup(id); ok {
			_ = a.Teardown()
		}
	}

	rt.log.Info().Int("handles", rt.agile.Len()).Msg("runtime shut down")
	return nil
}
