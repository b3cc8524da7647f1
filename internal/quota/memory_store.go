package quota

import (
	"context"
	"sync"
)

// MemoryUsageStore is an in-memory usage counter for demo/development.
type MemoryUsageStore struct {
	mu     sync.RWMutex
	counts map[string]map[Resource]int // tenantID → resource → count
}

// NewMemoryUsageStore creates a new in-memory usage store.
func NewMemoryUsageStore() *MemoryUsageStore {
	return &MemoryUsageStore{counts: make(map[string]map[Resource]int)}
}

// Set fixes the count for a tenant's resource (tests and demo seeding).
func (m *MemoryUsageStore) Set(tenantID string, resource Resource, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counts[tenantID] == nil {
		m.counts[tenantID] = make(map[Resource]int)
	}
	m.counts[tenantID][resource] = n
}

func (m *MemoryUsageStore) get(tenantID string, resource Resource) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.counts[tenantID][resource], nil
}

func (m *MemoryUsageStore) CountFacilitators(_ context.Context, tenantID string) (int, error) {
	return m.get(tenantID, ResourceFacilitators)
}

func (m *MemoryUsageStore) CountStudents(_ context.Context, tenantID string) (int, error) {
	return m.get(tenantID, ResourceStudents)
}

func (m *MemoryUsageStore) CountPrograms(_ context.Context, tenantID string) (int, error) {
	return m.get(tenantID, ResourcePrograms)
}

func (m *MemoryUsageStore) CountCourses(_ context.Context, tenantID string) (int, error) {
	return m.get(tenantID, ResourceCourses)
}

func (m *MemoryUsageStore) CountIntegrations(_ context.Context, tenantID string) (int, error) {
	return m.get(tenantID, ResourceIntegrations)
}

var _ UsageStore = (*MemoryUsageStore)(nil)
