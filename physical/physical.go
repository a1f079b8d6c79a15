package physical

import (
	"context"
	"errors"

	"github.com/stephnangue/belfry/logger"
)

const (
	// DefaultParallelOperations is the default permit pool size for
	// backends that bound their in-flight operations.
	DefaultParallelOperations = 128
)

var (
	// ErrCASMismatch is returned by CompareAndSwap when the stored value
	// no longer matches the expected one. The caller lost the race.
	ErrCASMismatch = errors.New("compare-and-swap: stored value has changed")
)

// Entry is a single key/value pair stored in a backend.
type Entry struct {
	Key   string
	Value []byte
}

// Storage is the physical key/value store behind the resource registry.
// Implementations must provide strong read-after-write consistency for a
// single key, and identical CompareAndSwap semantics: the registry's
// admission correctness depends on it, not on which backend is active.
type Storage interface {
	// Get fetches an entry. A missing key returns (nil, nil).
	Get(ctx context.Context, key string) (*Entry, error)

	// Put inserts or overwrites an entry unconditionally.
	Put(ctx context.Context, entry *Entry) error

	// CompareAndSwap conditionally replaces the value at key.
	//   old == nil: create, succeeds only if the key is absent.
	//   new == nil: delete, succeeds only if the stored value equals old.
	//   otherwise:  swap, succeeds only if the stored value equals old.
	// A failed condition returns ErrCASMismatch.
	CompareAndSwap(ctx context.Context, key string, old, new []byte) error

	// Delete removes an entry unconditionally. Deleting a missing key is
	// not an error.
	Delete(ctx context.Context, key string) error

	// List returns the keys directly under prefix, with the prefix
	// stripped. Keys in deeper subtrees are collapsed to their next
	// path segment with a trailing slash.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Factory is the factory function to create a storage.
type Factory func(config map[string]string, log logger.Logger) (Storage, error)

// PermitPool is used to limit the number of concurrent operations
// against a backend.
type PermitPool struct {
	sem chan struct{}
}

// NewPermitPool returns a pool with the given number of permits.
func NewPermitPool(permits int) *PermitPool {
	if permits < 1 {
		permits = DefaultParallelOperations
	}
	return &PermitPool{
		sem: make(chan struct{}, permits),
	}
}

// Acquire returns when a permit has been acquired.
func (c *PermitPool) Acquire() {
	c.sem <- struct{}{}
}

// Release returns a permit to the pool.
func (c *PermitPool) Release() {
	<-c.sem
}

// CurrentPermits returns the number of permits currently in use.
func (c *PermitPool) CurrentPermits() int {
	return len(c.sem)
}
