// Package store 保存后台的站点授权名单与审批结果去重记录。
package store

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Store 是后台状态存储。
type Store interface {
	AllowHost(ctx context.Context, host string) error
	RevokeHost(ctx context.Context, host string) error
	IsHostAllowed(ctx context.Context, host string) (bool, error)
	// MarkResolved 仅在首次记录时返回 true，用于保证每个 actionHash 只结算一次。
	MarkResolved(ctx context.Context, actionHash, outcome string, ttl time.Duration) (bool, error)
	Resolution(ctx context.Context, actionHash string) (string, error)
}

type resolution struct {
	outcome  string
	expireAt time.Time
}

// MemoryStore 是进程内实现。
type MemoryStore struct {
	mu       sync.RWMutex
	hosts    map[string]struct{}
	resolved map[string]resolution
	now      func() time.Time
}

// NewMemoryStore 构造 MemoryStore。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		hosts:    make(map[string]struct{}),
		resolved: make(map[string]resolution),
		now:      time.Now,
	}
}

func normalizeHost(host string) string {
	return strings.ToLower(strings.TrimSpace(host))
}

func (m *MemoryStore) AllowHost(_ context.Context, host string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hosts[normalizeHost(host)] = struct{}{}
	return nil
}

func (m *MemoryStore) RevokeHost(_ context.Context, host string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.hosts, normalizeHost(host))
	return nil
}

func (m *MemoryStore) IsHostAllowed(_ context.Context, host string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.hosts[normalizeHost(host)]
	return ok, nil
}

func (m *MemoryStore) MarkResolved(_ context.Context, actionHash, outcome string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if existing, ok := m.resolved[actionHash]; ok && now.Before(existing.expireAt) {
		return false, nil
	}
	m.resolved[actionHash] = resolution{outcome: outcome, expireAt: now.Add(ttl)}
	m.sweepLocked(now)
	return true, nil
}

func (m *MemoryStore) Resolution(_ context.Context, actionHash string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	existing, ok := m.resolved[actionHash]
	if !ok || !m.now().Before(existing.expireAt) {
		return "", nil
	}
	return existing.outcome, nil
}

func (m *MemoryStore) sweepLocked(now time.Time) {
	for hash, r := range m.resolved {
		if !now.Before(r.expireAt) {
			delete(m.resolved, hash)
		}
	}
}
