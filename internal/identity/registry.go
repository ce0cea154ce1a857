package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrUnknownIndex is returned by IdentityOf for an index that was never
// allocated. It indicates a corrupt or foreign store.
var ErrUnknownIndex = errors.New("unknown registry index")

// Entry is one persisted row of the registry.
type Entry struct {
	Index    uint64
	Identity Identity
}

// Backend persists registry entries.
// Implemented by store.Store.
type Backend interface {
	// EachRegistryEntry calls fn for every persisted entry in any order.
	EachRegistryEntry(ctx context.Context, fn func(Entry) error) error

	// InsertRegistryEntries durably appends entries. Either all entries are
	// persisted or an error is returned.
	InsertRegistryEntries(ctx context.Context, entries []Entry) error
}

// Registry is the bijective identity <-> index mapping.
//
// Both directions are held in memory and kept in lockstep. Registry is the
// only writer of either map, and entries only become visible after the
// backend accepted them.
type Registry struct {
	mu         sync.RWMutex
	backend    Backend
	byIdentity map[Identity]uint64
	byIndex    map[uint64]Identity
	next       uint64
}

// Open builds a Registry from every entry the backend holds.
// This is a full scan of the registry table.
func Open(ctx context.Context, backend Backend) (*Registry, error) {
	r := &Registry{backend: backend}
	if err := r.Reload(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload discards the in-memory maps and rebuilds them from the backend.
// Callers use this after a failed batch was rolled back.
func (r *Registry) Reload(ctx context.Context) error {
	byIdentity := make(map[Identity]uint64)
	byIndex := make(map[uint64]Identity)
	var maxIndex uint64

	err := r.backend.EachRegistryEntry(ctx, func(e Entry) error {
		if e.Index == 0 {
			return fmt.Errorf("registry entry for %s has index 0", e.Identity)
		}
		if prev, ok := byIndex[e.Index]; ok && prev != e.Identity {
			return fmt.Errorf("registry index %d maps to both %s and %s", e.Index, prev, e.Identity)
		}
		if prev, ok := byIdentity[e.Identity]; ok && prev != e.Index {
			return fmt.Errorf("registry identity %s maps to both %d and %d", e.Identity, prev, e.Index)
		}
		byIdentity[e.Identity] = e.Index
		byIndex[e.Index] = e.Identity
		if e.Index > maxIndex {
			maxIndex = e.Index
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("load registry: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.byIdentity = byIdentity
	r.byIndex = byIndex
	r.next = maxIndex + 1
	return nil
}

// Len returns the number of allocated indices.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byIndex)
}

// Lookup returns the index of id without allocating.
func (r *Registry) Lookup(id Identity) (uint64, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx, ok := r.byIdentity[id]
	return idx, ok
}

// IndexOf returns the index of id, allocating and persisting one if needed.
func (r *Registry) IndexOf(ctx context.Context, id Identity) (uint64, error) {
	indices, err := r.IndexOfMany(ctx, []Identity{id})
	if err != nil {
		return 0, err
	}
	return indices[0], nil
}

// IndexOfMany returns the index of every identity in ids, in the same order.
// All missing identities are allocated together and persisted in a single
// backend call. Repeated identities resolve to the same index.
func (r *Registry) IndexOfMany(ctx context.Context, ids []Identity) ([]uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var pending []Entry
	staged := make(map[Identity]uint64)
	next := r.next

	indices := make([]uint64, len(ids))
	for i, id := range ids {
		if idx, ok := r.byIdentity[id]; ok {
			indices[i] = idx
			continue
		}
		if idx, ok := staged[id]; ok {
			indices[i] = idx
			continue
		}
		staged[id] = next
		pending = append(pending, Entry{Index: next, Identity: id})
		indices[i] = next
		next++
	}

	if len(pending) == 0 {
		return indices, nil
	}

	if err := r.backend.InsertRegistryEntries(ctx, pending); err != nil {
		return nil, fmt.Errorf("allocate %d registry entries: %w", len(pending), err)
	}

	for _, e := range pending {
		r.byIdentity[e.Identity] = e.Index
		r.byIndex[e.Index] = e.Identity
	}
	r.next = next
	return indices, nil
}

// IdentityOf returns the identity allocated to index.
// Returns ErrUnknownIndex if the index was never allocated.
func (r *Registry) IdentityOf(index uint64) (Identity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byIndex[index]
	if !ok {
		return Nil, fmt.Errorf("index %d: %w", index, ErrUnknownIndex)
	}
	return id, nil
}

// IdentitiesOf resolves indices in bulk. Indices with no identity are
// returned in missing rather than failing the whole lookup.
func (r *Registry) IdentitiesOf(indices []uint64) (ids []Identity, missing []uint64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids = make([]Identity, 0, len(indices))
	for _, idx := range indices {
		id, ok := r.byIndex[idx]
		if !ok {
			missing = append(missing, idx)
			continue
		}
		ids = append(ids, id)
	}
	return ids, missing
}
