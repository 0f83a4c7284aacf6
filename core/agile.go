package core

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// AgileHandle is an apartment-independent token for an object. It carries
// no affinity of its own: it is plain data that can be copied, encoded
// with MarshalBinary and passed to any thread. Resolving it always routes
// calls to Owner, the apartment that owned the target at wrap time.
type AgileHandle struct {
	ID     uuid.UUID
	Target ObjectID
	Owner  ApartmentID
}

type wireHandle struct {
	_      struct{} `cbor:",toarray"`
	ID     []byte
	Target uint64
	Owner  uint32
}

// IsZero reports whether h is the zero handle.
func (h AgileHandle) IsZero() bool {
	return h.ID == uuid.Nil
}

// String returns a string representation of the handle.
func (h AgileHandle) String() string {
	if h.Owner == NoApartment {
		return fmt.Sprintf("agile:%s(object %d)", h.ID, h.Target)
	}
	return fmt.Sprintf("agile:%s(object %d@apartment %d)", h.ID, h.Target, h.Owner)
}

// MarshalBinary encodes the handle as deterministic CBOR.
func (h AgileHandle) MarshalBinary() ([]byte, error) {
	return handleEncMode.Marshal(wireHandle{
		ID:     h.ID[:],
		Target: uint64(h.Target),
		Owner:  uint32(h.Owner),
	})
}

// UnmarshalBinary decodes a handle produced by MarshalBinary.
func (h *AgileHandle) UnmarshalBinary(data []byte) error {
	var w wireHandle
	if err := handleDecMode.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidHandle, err)
	}
	id, err := uuid.FromBytes(w.ID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidHandle, err)
	}
	h.ID = id
	h.Target = ObjectID(w.Target)
	h.Owner = ApartmentID(w.Owner)
	return nil
}

type agileEntry struct {
	handle AgileHandle
	target *Object
	owner  *Apartment
}

// AgileTable maps agile handles to their target and captured owner. One
// table serves a whole Runtime; it is safe for concurrent Wrap, Resolve,
// Release and apartment teardown.
type AgileTable struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]*agileEntry
	byOwner map[ApartmentID]map[uuid.UUID]struct{}
	limit   int
	rt      *Runtime
}

func newAgileTable(rt *Runtime, limit int) *AgileTable {
	return &AgileTable{
		entries: make(map[uuid.UUID]*agileEntry),
		byOwner: make(map[ApartmentID]map[uuid.UUID]struct{}),
		limit:   limit,
		rt:      rt,
	}
}

// Wrap captures ref's current owner and returns a handle for it. Agile
// targets are captured with NoApartment and are never redirected.
// Wrapping a Proxy captures the proxy's owner, not the wrapping thread.
func (at *AgileTable) Wrap(ref Reference) (AgileHandle, error) {
	r := ref.route()
	target, err := targetOf(ref)
	if err != nil {
		return AgileHandle{}, err
	}

	h := AgileHandle{
		ID:     uuid.New(),
		Target: target.id,
		Owner:  NoApartment,
	}
	if r.owner != nil {
		h.Owner = r.owner.id
	}

	at.mu.Lock()
	defer at.mu.Unlock()

	// Teardown marks the owner gone before it purges, so checking under
	// the table lock cannot leave an entry behind for a dead apartment.
	if r.owner != nil && !r.owner.Alive() {
		return AgileHandle{}, &CallError{Op: "wrap", Apartment: r.owner.id, Object: target.id, Err: ErrApartmentGone}
	}
	if at.limit > 0 && len(at.entries) >= at.limit {
		return AgileHandle{}, &CallError{Op: "wrap", Apartment: h.Owner, Object: target.id, Err: ErrTooManyHandles}
	}

	at.entries[h.ID] = &agileEntry{handle: h, target: target, owner: r.owner}
	if r.owner != nil {
		ids, ok := at.byOwner[h.Owner]
		if !ok {
			ids = make(map[uuid.UUID]struct{})
			at.byOwner[h.Owner] = ids
		}
		ids[h.ID] = struct{}{}
	}

	at.rt.log.Debug().
		Str("handle", h.ID.String()).
		Uint64("object", uint64(h.Target)).
		Uint32("owner", uint32(h.Owner)).
		Msg("agile reference wrapped")

	return h, nil
}

// Resolve returns a proxy bound to the owner captured in h. It fails with
// ErrStaleReference once the owner has been torn down or h was released.
func (at *AgileTable) Resolve(h AgileHandle) (*Proxy, error) {
	at.mu.RLock()
	entry, ok := at.entries[h.ID]
	at.mu.RUnlock()

	if !ok {
		return nil, &CallError{Op: "resolve", Apartment: h.Owner, Object: h.Target, Err: ErrStaleReference}
	}
	if entry.handle != h {
		return nil, &CallError{Op: "resolve", Apartment: h.Owner, Object: h.Target, Err: ErrInvalidHandle}
	}
	if entry.owner != nil && !entry.owner.Alive() {
		return nil, &CallError{Op: "resolve", Apartment: h.Owner, Object: h.Target, Err: ErrStaleReference}
	}

	class := ClassAgile
	if entry.owner != nil {
		class = ClassAgileViaReference
	}
	return &Proxy{
		target: entry.target,
		owner:  entry.owner,
		class:  class,
		handle: h,
	}, nil
}

// Release removes h from the table. Proxies already resolved from it keep
// working; later Resolve calls fail with ErrStaleReference.
func (at *AgileTable) Release(h AgileHandle) error {
	at.mu.Lock()
	defer at.mu.Unlock()

	entry, ok := at.entries[h.ID]
	if !ok {
		return &CallError{Op: "release", Apartment: h.Owner, Object: h.Target, Err: ErrStaleReference}
	}
	at.remove(entry.handle)
	return nil
}

// Len returns the number of live handles.
func (at *AgileTable) Len() int {
	at.mu.RLock()
	defer at.mu.RUnlock()
	return len(at.entries)
}

// purge drops every handle captured on the given apartment.
func (at *AgileTable) purge(owner ApartmentID) int {
	at.mu.Lock()
	defer at.mu.Unlock()

	ids := at.byOwner[owner]
	for id := range ids {
		delete(at.entries, id)
	}
	delete(at.byOwner, owner)
	return len(ids)
}

func (at *AgileTable) remove(h AgileHandle) {
	delete(at.entries, h.ID)
	if ids, ok := at.byOwner[h.Owner]; ok {
		delete(ids, h.ID)
		if len(ids) == 0 {
			delete(at.byOwner, h.Owner)
		}
	}
}

func (at *AgileTable) setLimit(limit int) {
	at.mu.Lock()
	defer at.mu.Unlock()
	at.limit = limit
}

func targetOf(ref Reference) (*Object, error) {
	switch r := ref.(type) {
	case *Object:
		return r, nil
	case *Proxy:
		return r.target, nil
	default:
		return nil, fmt.Errorf("%w: unsupported reference %T", ErrInvalidHandle, ref)
	}
}
