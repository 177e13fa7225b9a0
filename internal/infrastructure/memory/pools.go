package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/prazos-api/internal/domain"
)

// PoolStore keeps number pool documents in process memory with the same
// conditional-create and versioned merge semantics as the DynamoDB repo.
// For local development and tests; nothing is shared between instances.
type PoolStore struct {
	mu    sync.RWMutex
	pools map[string]*domain.NumberPool
	now   func() time.Time
}

func NewPoolStore() *PoolStore {
	return &PoolStore{pools: make(map[string]*domain.NumberPool), now: time.Now}
}

func (s *PoolStore) Get(_ context.Context, tenantID string) (*domain.NumberPool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pools[tenantID]
	if !ok {
		return nil, fmt.Errorf("pool %s: %w", tenantID, domain.ErrNotFound)
	}
	return clonePool(p), nil
}

// PutIfAbsent stores p unless the tenant already has a pool.
func (s *PoolStore) PutIfAbsent(_ context.Context, p *domain.NumberPool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pools[p.TenantID]; ok {
		return nil
	}
	s.pools[p.TenantID] = clonePool(p)
	return nil
}

// SetField replaces one category, leaving the other untouched, and bumps the version.
// Unless expect is domain.AnyVersion the pool must exist at exactly that version.
func (s *PoolStore) SetField(_ context.Context, tenantID string, c domain.Category, numbers []int, expect int64) (int64, error) {
	if _, ok := domain.ParseCategory(string(c)); !ok {
		return 0, fmt.Errorf("unknown category %q: %w", c, domain.ErrBadRequest)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pools[tenantID]
	if expect != domain.AnyVersion && (!ok || p.Version != expect) {
		return 0, fmt.Errorf("pool %s moved past version %d: %w", tenantID, expect, domain.ErrConflict)
	}
	if !ok {
		p = domain.NewNumberPool(tenantID)
		s.pools[tenantID] = p
	}
	next := slices.Clone(numbers)
	if next == nil {
		next = []int{}
	}
	switch c {
	case domain.CategoryLetter:
		p.Letter = next
	case domain.CategoryMemo:
		p.Memo = next
	}
	p.Version++
	p.UpdatedAt = s.now().UTC()
	return p.Version, nil
}

func clonePool(p *domain.NumberPool) *domain.NumberPool {
	cp := *p
	cp.Letter = slices.Clone(p.Letter)
	cp.Memo = slices.Clone(p.Memo)
	return &cp
}
