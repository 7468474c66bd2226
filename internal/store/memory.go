package store

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// MemoryStore keeps objects in a process-local map.
//
// It is NOT durable: every object is lost when the process exits. It is a
// supported deployment mode for environments without Redis or PostgreSQL,
// and the default for development and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte

	// keyLocks serializes Update calls per key.
	locksMu  sync.Mutex
	keyLocks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		objects:  make(map[string][]byte),
		keyLocks: make(map[string]*keyLock),
	}
}

// Get returns a copy of the value stored under key.
func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.objects[key]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneBytes(value), nil
}

// Put stores a copy of value under key.
func (s *MemoryStore) Put(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.objects[key] = cloneBytes(value)
	return nil
}

// Delete removes key. Missing keys are ignored.
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.objects, key)
	return nil
}

// List returns every object whose key has the given prefix.
func (s *MemoryStore) List(ctx context.Context, prefix string) ([]Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	objects := make([]Object, 0)
	for key, value := range s.objects {
		if strings.HasPrefix(key, prefix) {
			objects = append(objects, Object{Key: key, Value: cloneBytes(value)})
		}
	}
	return objects, nil
}

// ListKeys returns every key starting with prefix.
func (s *MemoryStore) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0)
	for key := range s.objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// Update runs fn while holding the lock for key.
//
// Writers that bypass Update (plain Put) are not serialized against it.
func (s *MemoryStore) Update(ctx context.Context, key string, fn UpdateFunc) error {
	lock := s.acquire(key)
	defer s.release(key, lock)

	current, err := s.Get(ctx, key)
	exists := true
	if errors.Is(err, ErrNotFound) {
		exists = false
	} else if err != nil {
		return err
	}

	next, err := fn(current, exists)
	if errors.Is(err, ErrSkipWrite) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.Put(ctx, key, next)
}

// Len returns the number of stored objects.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

// Ping always succeeds.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Close drops all objects.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects = make(map[string][]byte)
	return nil
}

func (s *MemoryStore) acquire(key string) *keyLock {
	s.locksMu.Lock()
	lock, ok := s.keyLocks[key]
	if !ok {
		lock = &keyLock{}
		s.keyLocks[key] = lock
	}
	lock.refs++
	s.locksMu.Unlock()

	lock.mu.Lock()
	return lock
}

func (s *MemoryStore) release(key string, lock *keyLock) {
	lock.mu.Unlock()

	s.locksMu.Lock()
	lock.refs--
	if lock.refs == 0 {
		delete(s.keyLocks, key)
	}
	s.locksMu.Unlock()
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
