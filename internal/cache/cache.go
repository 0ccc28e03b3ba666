// Package cache stores the permission codes of each role so authorization checks do not
// hit the database on every request. Entries expire after a TTL and are dropped when a
// role's permissions change.
package cache

import (
	"context"
	"sync"
	"time"
)

// PermissionCache maps a role name to its permission codes.
type PermissionCache interface {
	Get(ctx context.Context, role string) ([]string, bool, error)
	Set(ctx context.Context, role string, codes []string) error
	// Invalidate drops role, or every role when role is empty.
	Invalidate(ctx context.Context, role string) error
}

type memoryEntry struct {
	codes     []string
	expiresAt time.Time
}

// Memory is an in-process PermissionCache.
type Memory struct {
	entries sync.Map // role -> memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewMemory returns an in-process cache with the given TTL.
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{ttl: ttl, now: time.Now}
}

func (m *Memory) Get(_ context.Context, role string) ([]string, bool, error) {
	v, ok := m.entries.Load(role)
	if !ok {
		return nil, false, nil
	}
	entry := v.(memoryEntry)
	if !m.now().Before(entry.expiresAt) {
		m.entries.Delete(role)
		return nil, false, nil
	}
	return entry.codes, true, nil
}

func (m *Memory) Set(_ context.Context, role string, codes []string) error {
	m.entries.Store(role, memoryEntry{codes: codes, expiresAt: m.now().Add(m.ttl)})
	return nil
}

func (m *Memory) Invalidate(_ context.Context, role string) error {
	if role != "" {
		m.entries.Delete(role)
		return nil
	}
	m.entries.Range(func(key, _ any) bool {
		m.entries.Delete(key)
		return true
	})
	return nil
}
