package cache

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMemorySize is the default number of entries held in memory.
const DefaultMemorySize = 1024

type memEntry struct {
	value   []byte
	expires time.Time
}

// Memory is a bounded in-process LRU with per-entry expiry.
type Memory struct {
	lru *lru.Cache[string, memEntry]
	now func() time.Time

	// mu orders writes with expiry removal so a fresh Set is never
	// dropped by a Get that saw the old entry.
	mu sync.Mutex
	// expiring runs between finding an expired entry and removing it.
	expiring func(key string)
}

var _ Cache = (*Memory)(nil)

// NewMemory creates a Memory cache holding at most size entries.
func NewMemory(size int) (*Memory, error) {
	if size <= 0 {
		size = DefaultMemorySize
	}
	c, err := lru.New[string, memEntry](size)
	if err != nil {
		return nil, err
	}
	return &Memory{lru: c, now: time.Now}, nil
}

// Get returns a copy of the value stored under key, if present and fresh.
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	e, ok := m.lru.Get(key)
	if !ok {
		return nil, false, nil
	}
	if !m.now().Before(e.expires) {
		m.removeExpired(key)
		return nil, false, nil
	}
	return append([]byte(nil), e.value...), true, nil
}

// Set stores a copy of value under key for ttl. ttl <= 0 uses DefaultTTL.
func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	e := memEntry{
		value:   append([]byte(nil), value...),
		expires: m.now().Add(ttl),
	}
	m.mu.Lock()
	m.lru.Add(key, e)
	m.mu.Unlock()
	return nil
}

// removeExpired deletes key only if the entry stored now is still expired.
func (m *Memory) removeExpired(key string) {
	if m.expiring != nil {
		m.expiring(key)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.lru.Peek(key); ok && !m.now().Before(cur.expires) {
		m.lru.Remove(key)
	}
}

// Len returns the number of stored entries, expired ones included.
func (m *Memory) Len() int { return m.lru.Len() }

// Close drops all entries.
func (m *Memory) Close() error {
	m.lru.Purge()
	return nil
}
