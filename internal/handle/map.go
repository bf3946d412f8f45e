package handle

import (
	"errors"
	"sync"

	"github.com/google/go-tpm/tpm2"

	"github.com/tpm2-software/tpm2rmd/sterror"
)

// Scope and operations used for raising Errors of this package.
const (
	ErrScope         sterror.Scope = "HandleMap"
	ErrOpInsert      sterror.Op    = "Insert"
	ErrOpNextVhandle sterror.Op    = "NextVhandle"
)

// Errors which may be raised and wrapped by this package.
var (
	ErrDuplicate = errors.New("vhandle already present in map")
	ErrFull      = errors.New("handle map is at capacity")
	ErrExhausted = errors.New("transient vhandle range exhausted")
)

// transientTop is the last handle value in the transient range; the vhandle
// allocator refuses to wrap past it.
const transientTop tpm2.TPMHandle = 0x80FFFFFF

// Map is a per-connection bidirectional virtual-handle -> Entry table with
// a capacity cap and a monotone vhandle allocator. A Map is owned
// exclusively by its Connection; see Entry for the ref-counting that lets
// an in-flight command outlive a concurrent Remove.
type Map struct {
	mu       sync.Mutex
	entries  map[tpm2.TPMHandle]*Entry
	capacity int
	next     tpm2.TPMHandle
}

// NewMap constructs an empty Map with the given capacity, allocating
// vhandles starting at base (normally handle.Base).
func NewMap(capacity int, base tpm2.TPMHandle) *Map {
	return &Map{
		entries:  make(map[tpm2.TPMHandle]*Entry),
		capacity: capacity,
		next:     base,
	}
}

// Lookup returns an owned (retained) reference to the entry for vhandle, if
// present. The caller must call Entry.Release when done with it.
func (m *Map) Lookup(vhandle tpm2.TPMHandle) (*Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[vhandle]
	if !ok {
		return nil, false
	}

	return e.Retain(), true
}

// Insert adds entry under vhandle. It fails with ErrDuplicate if vhandle is
// already present, or ErrFull if the map is already at capacity -- this is
// the backstop that keeps Map.Count() <= capacity always (§8 invariant 3);
// the primary capacity gate lives in the quota-gate component (§4.7), which
// checks IsFull before a new vhandle is even allocated.
func (m *Map) Insert(vhandle tpm2.TPMHandle, entry *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.entries[vhandle]; ok {
		return sterror.E(ErrScope, ErrOpInsert, ErrDuplicate)
	}

	if len(m.entries) >= m.capacity {
		return sterror.E(ErrScope, ErrOpInsert, ErrFull)
	}

	m.entries[vhandle] = entry

	return nil
}

// Remove deletes the entry for vhandle, if any, and releases the map's own
// reference to it. It is idempotent: removing an absent vhandle is not an
// error, it simply returns false.
func (m *Map) Remove(vhandle tpm2.TPMHandle) bool {
	m.mu.Lock()
	e, ok := m.entries[vhandle]

	if ok {
		delete(m.entries, vhandle)
	}
	m.mu.Unlock()

	if ok {
		e.Release()
	}

	return ok
}

// NextVhandle allocates the next unused vhandle in the transient range.
// Capacity is not checked here -- that is the quota gate's job -- but
// wrap-around past the transient range is always fatal to the caller, per
// §9 open question 2: a hardened deployment should turn this into a
// per-connection error response instead of the abort preserved here.
func (m *Map) NextVhandle() (tpm2.TPMHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.next > transientTop {
		return 0, sterror.E(ErrScope, ErrOpNextVhandle, ErrExhausted)
	}

	v := m.next
	m.next++

	return v, nil
}

// IsFull reports whether the map has reached capacity. Quota decisions
// (§4.7) are made against this, not against NextVhandle.
func (m *Map) IsFull() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.entries) >= m.capacity
}

// Count returns the number of entries currently tracked.
func (m *Map) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.entries)
}

// Clear empties the map and returns every entry it held, for the
// connection-teardown path (§4, "Lifecycles") to flush. The map's own
// reference to each entry is released; an in-flight command retaining one
// of these entries keeps it alive until it too releases its reference.
func (m *Map) Clear() []*Entry {
	m.mu.Lock()
	out := make([]*Entry, 0, len(m.entries))

	for v, e := range m.entries {
		out = append(out, e)
		delete(m.entries, v)
	}
	m.mu.Unlock()

	for _, e := range out {
		e.Release()
	}

	return out
}
