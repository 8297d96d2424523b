package cache

import (
	"context"
	"encoding/json"
	"errors"
	"path"
	"sync"
	"time"
)

// ErrPatternsDisabled is returned by Memory.DeletePattern when pattern
// scanning has been switched off, mimicking a backend without SCAN support.
var ErrPatternsDisabled = errors.New("pattern scanning disabled")

type memoryEntry struct {
	payload []byte
	expiry  time.Time
}

// Memory is an in-process Store used in tests and cache-less deployments.
// The clock is injectable so TTL expiry can be exercised deterministically.
type Memory struct {
	mu              sync.Mutex
	entries         map[string]memoryEntry
	now             func() time.Time
	disablePatterns bool
}

// NewMemory returns a Memory cache on the wall clock.
func NewMemory() *Memory {
	return NewMemoryWithClock(time.Now)
}

// NewMemoryWithClock returns a Memory cache using the given clock.
func NewMemoryWithClock(now func() time.Time) *Memory {
	return &Memory{entries: make(map[string]memoryEntry), now: now}
}

// DisablePatterns makes DeletePattern fail, for exercising the conservative
// invalidation fallback.
func (m *Memory) DisablePatterns() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disablePatterns = true
}

// Get retrieves a cached payload.
func (m *Memory) Get(_ context.Context, key string) ([]byte, Lookup) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[key]
	if !ok {
		return nil, Miss
	}
	if !entry.expiry.IsZero() && !m.now().Before(entry.expiry) {
		delete(m.entries, key)
		return nil, Miss
	}
	return entry.payload, Hit
}

// Set stores a payload with the given TTL.
func (m *Memory) Set(_ context.Context, key string, payload any, ttl time.Duration) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	entry := memoryEntry{payload: data}
	if ttl > 0 {
		entry.expiry = m.now().Add(ttl)
	}
	m.entries[key] = entry
}

// Delete removes the given keys.
func (m *Memory) Delete(_ context.Context, keys ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, key := range keys {
		delete(m.entries, key)
	}
}

// DeletePattern removes all keys matching a glob pattern.
func (m *Memory) DeletePattern(_ context.Context, pattern string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.disablePatterns {
		return ErrPatternsDisabled
	}
	for key := range m.entries {
		if ok, err := path.Match(pattern, key); err == nil && ok {
			delete(m.entries, key)
		}
	}
	return nil
}

// Keys lists the live (unexpired) keys, for assertions in tests.
func (m *Memory) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]string, 0, len(m.entries))
	for key, entry := range m.entries {
		if !entry.expiry.IsZero() && !m.now().Before(entry.expiry) {
			continue
		}
		keys = append(keys, key)
	}
	return keys
}
