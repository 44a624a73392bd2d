package kv

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

func init() {
	Register("memory", func(Options) (Store, error) {
		return NewMemory(), nil
	})
}

type memEntry struct {
	value    []byte
	deadline int64
}

// memoryStore is an in-memory Store used for tests and ephemeral runs.
type memoryStore struct {
	mu      sync.RWMutex
	entries map[string]memEntry
	open    int32
	clock   func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() Store {
	return &memoryStore{
		entries: make(map[string]memEntry),
		open:    1,
		clock:   time.Now,
	}
}

func (m *memoryStore) Name() string { return "memory" }

func (m *memoryStore) checkOpen() error {
	if atomic.LoadInt32(&m.open) == 0 {
		return storeErr("memory", "access", ErrStoreClosed)
	}
	return nil
}

func (m *memoryStore) Get(ctx context.Context, class Class, key []byte) ([]byte, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	entry, ok := m.entries[string(physicalKey(class, key))]
	m.mu.RUnlock()
	if !ok || expired(entry.deadline, m.clock()) {
		return nil, ErrKeyNotFound
	}

	out := make([]byte, len(entry.value))
	copy(out, entry.value)
	return out, nil
}

func (m *memoryStore) Put(ctx context.Context, class Class, key []byte, value []byte) error {
	if err := m.checkOpen(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	stored := make([]byte, len(value))
	copy(stored, value)

	m.mu.Lock()
	m.entries[string(physicalKey(class, key))] = memEntry{value: stored}
	m.mu.Unlock()
	return nil
}

func (m *memoryStore) PutTTL(ctx context.Context, key []byte, value []byte, ttl time.Duration) error {
	if err := m.checkOpen(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	stored := make([]byte, len(value))
	copy(stored, value)

	m.mu.Lock()
	m.entries[string(physicalKey(ClassTemporary, key))] = memEntry{
		value:    stored,
		deadline: deadlineFrom(m.clock(), ttl),
	}
	m.mu.Unlock()
	return nil
}

func (m *memoryStore) ExtendTTL(ctx context.Context, key []byte, ttl time.Duration) error {
	if err := m.checkOpen(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	now := m.clock()
	pk := string(physicalKey(ClassTemporary, key))

	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[pk]
	if !ok || expired(entry.deadline, now) {
		return ErrKeyNotFound
	}
	if deadline := deadlineFrom(now, ttl); deadline > entry.deadline {
		entry.deadline = deadline
		m.entries[pk] = entry
	}
	return nil
}

func (m *memoryStore) Delete(ctx context.Context, class Class, key []byte) error {
	if err := m.checkOpen(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.entries, string(physicalKey(class, key)))
	m.mu.Unlock()
	return nil
}

func (m *memoryStore) Apply(ctx context.Context, ops []Op) error {
	if err := m.checkOpen(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	now := m.clock()

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, op := range ops {
		pk := string(physicalKey(op.Class, op.Key))
		switch op.Type {
		case OpPut:
			stored := make([]byte, len(op.Value))
			copy(stored, op.Value)
			entry := memEntry{value: stored}
			if op.Class == ClassTemporary {
				entry.deadline = deadlineFrom(now, op.TTL)
			}
			m.entries[pk] = entry
		case OpDelete:
			delete(m.entries, pk)
		}
	}
	return nil
}

func (m *memoryStore) Sweep(ctx context.Context) (int, error) {
	if err := m.checkOpen(); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	now := m.clock()
	removed := 0

	m.mu.Lock()
	for pk, entry := range m.entries {
		if expired(entry.deadline, now) {
			delete(m.entries, pk)
			removed++
		}
	}
	m.mu.Unlock()
	return removed, nil
}

func (m *memoryStore) Close() error {
	if !atomic.CompareAndSwapInt32(&m.open, 1, 0) {
		return nil
	}
	m.mu.Lock()
	m.entries = nil
	m.mu.Unlock()
	return nil
}
