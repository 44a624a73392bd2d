// Package kv provides the oracle's storage substrate: a small key-value
// store with two lifetime classes. Instance entries are permanent and
// always available; temporary entries carry a deadline and become
// unreadable once it passes. Backends are pluggable and share a single
// value envelope so data written by one backend can be read by another.
package kv

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Class selects the lifetime of an entry.
type Class uint8

const (
	// ClassInstance holds small permanent state (settings, markers, masks).
	ClassInstance Class = iota
	// ClassTemporary holds entries that expire unless their TTL is extended.
	ClassTemporary
)

// String returns the string representation of the Class.
func (c Class) String() string {
	switch c {
	case ClassInstance:
		return "instance"
	case ClassTemporary:
		return "temporary"
	default:
		return fmt.Sprintf("Class(%d)", uint8(c))
	}
}

// OpType identifies a batch operation.
type OpType int

const (
	OpPut OpType = iota
	OpDelete
)

// Op represents a single operation in an atomic batch.
// TTL is honored only for puts in the temporary class.
type Op struct {
	Type  OpType
	Class Class
	Key   []byte
	Value []byte
	TTL   time.Duration
}

// Store is the storage substrate consumed by the oracle engine.
//
// Get must report ErrKeyNotFound for missing keys and for temporary
// entries whose deadline has passed. Apply must be atomic: either every
// operation takes effect or none does.
type Store interface {
	// Name returns a human-readable name for this store.
	Name() string

	// Get retrieves the value stored under key in the given class.
	Get(ctx context.Context, class Class, key []byte) ([]byte, error)

	// Put writes an instance-class value. Temporary writes go through
	// PutTTL or a batch op carrying a TTL.
	Put(ctx context.Context, class Class, key []byte, value []byte) error

	// PutTTL writes a temporary-class value expiring after ttl.
	PutTTL(ctx context.Context, key []byte, value []byte, ttl time.Duration) error

	// ExtendTTL pushes out the deadline of a live temporary entry to at
	// least now+ttl. Extensions never shorten the remaining lifetime.
	ExtendTTL(ctx context.Context, key []byte, ttl time.Duration) error

	// Delete removes a key. Deleting a missing key is not an error.
	Delete(ctx context.Context, class Class, key []byte) error

	// Apply executes all operations atomically.
	Apply(ctx context.Context, ops []Op) error

	// Sweep purges expired temporary entries and reports how many were removed.
	Sweep(ctx context.Context) (int, error)

	// Close releases all resources held by the store.
	Close() error
}

// Options configures a backend at open time.
type Options struct {
	// Path is the on-disk location for persistent backends.
	Path string

	// Compressor selects the value compressor: "lz4" or "none".
	Compressor string

	// NoSync disables fsync on writes where the backend supports it.
	NoSync bool

	// Logger receives backend lifecycle messages. Nil keeps the
	// backend silent.
	Logger *zap.Logger
}

// Factory creates a store instance from options.
type Factory func(opts Options) (Store, error)

var (
	backendMu sync.RWMutex
	backends  = make(map[string]Factory)
)

// Register registers a backend factory under the given name.
func Register(name string, factory Factory) {
	backendMu.Lock()
	defer backendMu.Unlock()
	backends[name] = factory
}

// Open creates a store using the named backend.
func Open(backend string, opts Options) (Store, error) {
	backendMu.RLock()
	factory, ok := backends[backend]
	backendMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, backend)
	}
	return factory(opts)
}

// Backends returns the names of all registered backends.
func Backends() []string {
	backendMu.RLock()
	defer backendMu.RUnlock()
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	return names
}
