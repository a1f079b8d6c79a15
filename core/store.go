package core

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/stephnangue/belfry/physical"
)

// resourcePrefix is where bell resources live in the physical backend.
const resourcePrefix = "bell/resource/"

// resourceStore persists resources as JSON entries in a physical
// backend. Reads hand back the raw stored bytes so callers can use them
// as the witness for a later compare-and-swap.
type resourceStore struct {
	physical physical.Storage
}

func newResourceStore(p physical.Storage) *resourceStore {
	return &resourceStore{physical: p}
}

func (s *resourceStore) key(id string) string {
	return resourcePrefix + id
}

func encodeResource(r *Resource) ([]byte, error) {
	raw, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to encode resource %s: %w", r.ID, err)
	}
	return raw, nil
}

func decodeResource(raw []byte) (*Resource, error) {
	var r Resource
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("failed to decode resource entry: %w", err)
	}
	if !r.Status.valid() {
		return nil, fmt.Errorf("resource %s has unknown status %q", r.ID, r.Status)
	}
	return &r, nil
}

// Get returns the resource and the raw stored bytes, or (nil, nil, nil)
// when the resource does not exist.
func (s *resourceStore) Get(ctx context.Context, id string) (*Resource, []byte, error) {
	entry, err := s.physical.Get(ctx, s.key(id))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read resource %s: %w", id, err)
	}
	if entry == nil {
		return nil, nil, nil
	}
	r, err := decodeResource(entry.Value)
	if err != nil {
		return nil, nil, err
	}
	return r, entry.Value, nil
}

// Create stores a new resource, failing with physical.ErrCASMismatch if
// the id is already taken.
func (s *resourceStore) Create(ctx context.Context, r *Resource) error {
	raw, err := encodeResource(r)
	if err != nil {
		return err
	}
	return s.physical.CompareAndSwap(ctx, s.key(r.ID), nil, raw)
}

// Swap replaces the stored entry only if it still holds oldRaw.
func (s *resourceStore) Swap(ctx context.Context, r *Resource, oldRaw []byte) error {
	raw, err := encodeResource(r)
	if err != nil {
		return err
	}
	return s.physical.CompareAndSwap(ctx, s.key(r.ID), oldRaw, raw)
}

// Put stores the resource unconditionally, overwriting any prior state.
func (s *resourceStore) Put(ctx context.Context, r *Resource) error {
	raw, err := encodeResource(r)
	if err != nil {
		return err
	}
	return s.physical.Put(ctx, &physical.Entry{Key: s.key(r.ID), Value: raw})
}

// DeleteIfMatch removes the resource only if it still holds oldRaw.
func (s *resourceStore) DeleteIfMatch(ctx context.Context, id string, oldRaw []byte) error {
	return s.physical.CompareAndSwap(ctx, s.key(id), oldRaw, nil)
}

// ListIDs returns all resource ids in lexical order.
func (s *resourceStore) ListIDs(ctx context.Context) ([]string, error) {
	keys, err := s.physical.List(ctx, resourcePrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list resources: %w", err)
	}
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		if strings.HasSuffix(k, "/") {
			continue
		}
		ids = append(ids, k)
	}
	sort.Strings(ids)
	return ids, nil
}
